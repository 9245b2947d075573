package pool

import (
	"github.com/google/uuid"

	"ammcore/internal/amm"
	fpmath "ammcore/internal/math"
)

// Status tracks the pool state machine: Uninitialized -> Active -> {Active, Locked}.
// Locked and Active both serve reads; only Active accepts mutating operations.
// There is no terminal state.
type Status int32

const (
	StatusUninitialized Status = iota
	StatusActive
	StatusLocked
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "Uninitialized"
	case StatusActive:
		return "Active"
	case StatusLocked:
		return "Locked"
	default:
		return "Unknown"
	}
}

// Config is the immutable part of a pool record. Only the locked flag (held
// on Pool, not here) changes after creation.
type Config struct {
	Seed      uint64
	AssetX    amm.AssetID
	AssetY    amm.AssetID
	FeeBps    uint16
	LPAsset   amm.AssetID
	Authority *uuid.UUID // nil means permanently un-lockable
}

// Pool owns one pool's mutable state. All mutation goes through the Apply*
// methods, which validate first and then update every affected field together,
// so reserves and share supply are never observable half-updated.
type Pool struct {
	ID     amm.PoolID
	Config Config

	ReserveX uint64
	ReserveY uint64
	LPSupply uint64

	status  Status
	Version int64
}

// NewPool validates the creation parameters and returns an Active pool with
// empty reserves.
func NewPool(id amm.PoolID, cfg Config) (*Pool, error) {
	if !cfg.AssetX.Valid() || !cfg.AssetY.Valid() {
		return nil, amm.ErrInvalidAmount.Wrap("asset identifiers must be non-empty")
	}
	if cfg.AssetX == cfg.AssetY {
		return nil, amm.ErrSameAsset.Wrapf("asset %q on both sides", cfg.AssetX)
	}
	if cfg.FeeBps >= amm.MaxFeeBps {
		return nil, amm.ErrInvalidFee.Wrapf("fee %d bps, max %d exclusive", cfg.FeeBps, amm.MaxFeeBps)
	}
	if cfg.LPAsset == "" {
		cfg.LPAsset = id.LPAssetID()
	}

	return &Pool{
		ID:     id,
		Config: cfg,
		status: StatusActive,
	}, nil
}

// Status returns the current state-machine status.
func (p *Pool) Status() Status {
	return p.status
}

// Locked reports whether mutating operations are paused.
func (p *Pool) Locked() bool {
	return p.status == StatusLocked
}

// Empty reports whether the pool has no liquidity. The state machine keeps
// lp_supply == 0 exactly when both reserves are zero.
func (p *Pool) Empty() bool {
	return p.LPSupply == 0
}

// requireActive gates every mutating transition.
func (p *Pool) requireActive() error {
	switch p.status {
	case StatusActive:
		return nil
	case StatusLocked:
		return amm.ErrPoolLocked
	default:
		return amm.ErrNotActive.Wrapf("status %s", p.status)
	}
}

// ApplyDeposit credits both reserves and mints shares in one transition.
func (p *Pool) ApplyDeposit(amountX, amountY, lpMinted uint64) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if lpMinted == 0 {
		return amm.ErrInvalidAmount.Wrap("deposit mints zero shares")
	}

	newX, err := fpmath.CheckedAdd(p.ReserveX, amountX)
	if err != nil {
		return err
	}
	newY, err := fpmath.CheckedAdd(p.ReserveY, amountY)
	if err != nil {
		return err
	}
	newSupply, err := fpmath.CheckedAdd(p.LPSupply, lpMinted)
	if err != nil {
		return err
	}

	p.ReserveX = newX
	p.ReserveY = newY
	p.LPSupply = newSupply
	p.Version++
	return nil
}

// ApplyWithdraw debits both reserves and burns shares in one transition.
func (p *Pool) ApplyWithdraw(amountX, amountY, lpBurned uint64) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if lpBurned > p.LPSupply {
		return amm.ErrInsufficientLiquidity.Wrapf("burn %d exceeds supply %d", lpBurned, p.LPSupply)
	}
	if amountX > p.ReserveX || amountY > p.ReserveY {
		return amm.ErrInsufficientLiquidity.Wrapf("payout (%d, %d) exceeds reserves (%d, %d)",
			amountX, amountY, p.ReserveX, p.ReserveY)
	}

	newX := p.ReserveX - amountX
	newY := p.ReserveY - amountY
	newSupply := p.LPSupply - lpBurned

	// lp_supply == 0 iff both reserves are zero. Full burns leave dust in the
	// reserves (floor rounding), which is swept to zero with the supply.
	if newSupply == 0 {
		newX, newY = 0, 0
	} else if newX == 0 || newY == 0 {
		return amm.ErrInvariantViolation.Wrapf("withdraw empties one reserve (%d, %d) with supply %d",
			newX, newY, newSupply)
	}

	p.ReserveX = newX
	p.ReserveY = newY
	p.LPSupply = newSupply
	p.Version++
	return nil
}

// ApplySwap moves the input amount into one reserve and the output amount out
// of the other, then verifies the constant product did not decrease. The
// product check is the last line of defense against any quoting error that
// would let a caller drain value; its failure aborts with state untouched.
func (p *Pool) ApplySwap(amountIn, amountOut uint64, direction amm.SwapDirection) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if amountIn == 0 || amountOut == 0 {
		return amm.ErrInvalidAmount.Wrapf("swap amounts (%d, %d)", amountIn, amountOut)
	}

	reserveIn, reserveOut := p.ReserveX, p.ReserveY
	if direction == amm.SwapYToX {
		reserveIn, reserveOut = p.ReserveY, p.ReserveX
	}

	newIn, err := fpmath.CheckedAdd(reserveIn, amountIn)
	if err != nil {
		return err
	}
	newOut, err := fpmath.CheckedSub(reserveOut, amountOut)
	if err != nil {
		return amm.ErrInsufficientLiquidity.Wrapf("output %d exceeds reserve %d", amountOut, reserveOut)
	}
	if newOut == 0 {
		return amm.ErrInsufficientLiquidity.Wrap("swap would empty the output reserve")
	}

	before := fpmath.Mul128(reserveIn, reserveOut)
	after := fpmath.Mul128(newIn, newOut)
	if after.Cmp(before) < 0 {
		return amm.ErrInvariantViolation.Wrapf(
			"product decreased: (%d * %d) -> (%d * %d)", reserveIn, reserveOut, newIn, newOut)
	}

	if direction == amm.SwapXToY {
		p.ReserveX, p.ReserveY = newIn, newOut
	} else {
		p.ReserveX, p.ReserveY = newOut, newIn
	}
	p.Version++
	return nil
}

// SetLocked toggles the emergency-pause flag. Only the configured authority
// may do so; a pool created without an authority is permanently un-lockable.
func (p *Pool) SetLocked(value bool, caller uuid.UUID) error {
	if p.Config.Authority == nil {
		return amm.ErrNoAuthority
	}
	if *p.Config.Authority != caller {
		return amm.ErrUnauthorized.Wrapf("caller %s", caller)
	}

	if value {
		p.status = StatusLocked
	} else {
		p.status = StatusActive
	}
	p.Version++
	return nil
}

// CanonicalBytes returns a deterministic serialization of the pool record for
// state hashing.
func (p *Pool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	buf = append(buf, p.ID[:]...)
	buf = appendUint64LE(buf, p.Config.Seed)

	buf = append(buf, byte(len(p.Config.AssetX)))
	buf = append(buf, []byte(p.Config.AssetX)...)
	buf = append(buf, byte(len(p.Config.AssetY)))
	buf = append(buf, []byte(p.Config.AssetY)...)

	buf = appendUint64LE(buf, uint64(p.Config.FeeBps))

	if p.Config.Authority != nil {
		buf = append(buf, 1)
		buf = append(buf, p.Config.Authority[:]...)
	} else {
		buf = append(buf, 0)
	}

	buf = appendUint64LE(buf, p.ReserveX)
	buf = appendUint64LE(buf, p.ReserveY)
	buf = appendUint64LE(buf, p.LPSupply)
	buf = append(buf, byte(p.status))

	return buf
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// Restore rebuilds a pool record from persisted state. Used by snapshot
// recovery only; it bypasses the creation checks because the stored record
// already passed them.
func Restore(id amm.PoolID, cfg Config, reserveX, reserveY, lpSupply uint64, locked bool, version int64) *Pool {
	status := StatusActive
	if locked {
		status = StatusLocked
	}
	return &Pool{
		ID:       id,
		Config:   cfg,
		ReserveX: reserveX,
		ReserveY: reserveY,
		LPSupply: lpSupply,
		status:   status,
		Version:  version,
	}
}
