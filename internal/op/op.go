// Package op defines the typed operation requests the engine consumes and the
// receipts it emits. One operation in, one receipt out, always.
package op

import (
	"time"

	"github.com/google/uuid"

	"ammcore/internal/amm"
)

// Type discriminates operation payloads on the wire and in the receipt log.
type Type string

const (
	TypeCreatePool Type = "CREATE_POOL"
	TypeDeposit    Type = "DEPOSIT"
	TypeWithdraw   Type = "WITHDRAW"
	TypeSwap       Type = "SWAP"
	TypeSetLocked  Type = "SET_LOCKED"
)

// Operation is the closed set of engine inputs. The engine dispatches on the
// concrete type; adding a member means touching the dispatch switch.
type Operation interface {
	// OpType returns the wire discriminator.
	OpType() Type
	// Key returns the idempotency key. Two operations with the same key are
	// the same operation; the second is skipped.
	Key() uuid.UUID
	// Partition returns the sequencing partition the operation belongs to.
	// Pool-scoped operations sequence per pool; CreatePool sequences on a
	// global partition.
	Partition() string
	// Sequence returns the source-assigned position within the partition.
	Sequence() uint64
}

// Header carries the fields every operation shares.
type Header struct {
	IdempotencyKey uuid.UUID `json:"idempotency_key"`
	SourceSeq      uint64    `json:"source_seq"`
	Actor          uuid.UUID `json:"actor"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

func (h Header) Key() uuid.UUID   { return h.IdempotencyKey }
func (h Header) Sequence() uint64 { return h.SourceSeq }

// GlobalPartition sequences operations that are not scoped to a single pool.
const GlobalPartition = "global"

// CreatePool registers a new pool for an asset pair.
type CreatePool struct {
	Header
	Seed      uint64      `json:"seed"`
	AssetX    amm.AssetID `json:"asset_x"`
	AssetY    amm.AssetID `json:"asset_y"`
	FeeBps    uint16      `json:"fee_bps"`
	Authority *uuid.UUID  `json:"authority,omitempty"`
}

func (CreatePool) OpType() Type      { return TypeCreatePool }
func (CreatePool) Partition() string { return GlobalPartition }

// Deposit adds liquidity to a pool in exchange for newly minted shares.
// LPAmount must be positive. For the first deposit AmountX and AmountY are
// the exact amounts supplied and LPAmount is a lower bound on the minted
// shares; afterwards LPAmount is the share target and AmountX/AmountY cap
// what the depositor will pay.
type Deposit struct {
	Header
	PoolID   amm.PoolID `json:"pool_id"`
	AmountX  uint64     `json:"amount_x"`
	AmountY  uint64     `json:"amount_y"`
	LPAmount uint64     `json:"lp_amount"`
}

func (Deposit) OpType() Type        { return TypeDeposit }
func (d Deposit) Partition() string { return d.PoolID.String() }

// Withdraw burns shares and pays out the proportional slice of both reserves.
// MinX and MinY bound the acceptable payout.
type Withdraw struct {
	Header
	PoolID   amm.PoolID `json:"pool_id"`
	LPAmount uint64     `json:"lp_amount"`
	MinX     uint64     `json:"min_x"`
	MinY     uint64     `json:"min_y"`
}

func (Withdraw) OpType() Type        { return TypeWithdraw }
func (w Withdraw) Partition() string { return w.PoolID.String() }

// Swap trades an exact input for at least MinOut of the other asset.
type Swap struct {
	Header
	PoolID    amm.PoolID        `json:"pool_id"`
	Direction amm.SwapDirection `json:"direction"`
	AmountIn  uint64            `json:"amount_in"`
	MinOut    uint64            `json:"min_out"`
}

func (Swap) OpType() Type        { return TypeSwap }
func (s Swap) Partition() string { return s.PoolID.String() }

// SetLocked pauses or resumes mutating operations on a pool. The actor must
// match the pool's configured authority.
type SetLocked struct {
	Header
	PoolID amm.PoolID `json:"pool_id"`
	Locked bool       `json:"locked"`
}

func (SetLocked) OpType() Type        { return TypeSetLocked }
func (s SetLocked) Partition() string { return s.PoolID.String() }
