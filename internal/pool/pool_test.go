package pool

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"ammcore/internal/amm"
)

func newTestPool(t *testing.T, feeBps uint16, authority *uuid.UUID) *Pool {
	t.Helper()
	cfg := Config{
		Seed:      42,
		AssetX:    "asset/x",
		AssetY:    "asset/y",
		FeeBps:    feeBps,
		Authority: authority,
	}
	p, err := NewPool(amm.DerivePoolID(cfg.Seed, cfg.AssetX, cfg.AssetY), cfg)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p
}

func TestNewPoolValidation(t *testing.T) {
	id := amm.DerivePoolID(1, "a", "b")

	if _, err := NewPool(id, Config{Seed: 1, AssetX: "usdc", AssetY: "usdc"}); !errors.Is(err, amm.ErrSameAsset) {
		t.Errorf("same asset: got %v, want ErrSameAsset", err)
	}
	if _, err := NewPool(id, Config{Seed: 1, AssetX: "", AssetY: "usdc"}); !errors.Is(err, amm.ErrInvalidAmount) {
		t.Errorf("empty asset: got %v, want ErrInvalidAmount", err)
	}
	if _, err := NewPool(id, Config{Seed: 1, AssetX: "sol", AssetY: "usdc", FeeBps: 10_000}); !errors.Is(err, amm.ErrInvalidFee) {
		t.Errorf("fee 10000: got %v, want ErrInvalidFee", err)
	}

	p, err := NewPool(id, Config{Seed: 1, AssetX: "sol", AssetY: "usdc", FeeBps: 100})
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if p.Status() != StatusActive {
		t.Errorf("status after create: got %s, want Active", p.Status())
	}
	if p.Config.LPAsset != id.LPAssetID() {
		t.Errorf("lp asset: got %q, want %q", p.Config.LPAsset, id.LPAssetID())
	}
}

func TestApplyDeposit(t *testing.T) {
	p := newTestPool(t, 100, nil)

	if err := p.ApplyDeposit(100_000_000, 100_000_000, 100_000_000); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if p.ReserveX != 100_000_000 || p.ReserveY != 100_000_000 || p.LPSupply != 100_000_000 {
		t.Errorf("state after deposit: (%d, %d, %d)", p.ReserveX, p.ReserveY, p.LPSupply)
	}
	if p.Version != 1 {
		t.Errorf("version: got %d, want 1", p.Version)
	}

	if err := p.ApplyDeposit(1, 1, 0); !errors.Is(err, amm.ErrInvalidAmount) {
		t.Errorf("zero mint: got %v, want ErrInvalidAmount", err)
	}

	if err := p.ApplyDeposit(math.MaxUint64, 1, 1); !errors.Is(err, amm.ErrArithmetic) {
		t.Errorf("reserve overflow: got %v, want ErrArithmetic", err)
	}
	if p.ReserveX != 100_000_000 || p.ReserveY != 100_000_000 || p.LPSupply != 100_000_000 {
		t.Errorf("state mutated on failed deposit: (%d, %d, %d)", p.ReserveX, p.ReserveY, p.LPSupply)
	}
}

func TestApplyWithdraw(t *testing.T) {
	p := newTestPool(t, 100, nil)
	if err := p.ApplyDeposit(100_000_000, 400_000_000, 200_000_000); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	if err := p.ApplyWithdraw(50_000_000, 200_000_000, 100_000_000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if p.ReserveX != 50_000_000 || p.ReserveY != 200_000_000 || p.LPSupply != 100_000_000 {
		t.Errorf("state after withdraw: (%d, %d, %d)", p.ReserveX, p.ReserveY, p.LPSupply)
	}

	if err := p.ApplyWithdraw(1, 1, 100_000_001); !errors.Is(err, amm.ErrInsufficientLiquidity) {
		t.Errorf("burn over supply: got %v, want ErrInsufficientLiquidity", err)
	}
	if err := p.ApplyWithdraw(50_000_001, 1, 1); !errors.Is(err, amm.ErrInsufficientLiquidity) {
		t.Errorf("payout over reserve: got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestApplyWithdrawFullBurnSweepsDust(t *testing.T) {
	p := newTestPool(t, 0, nil)
	if err := p.ApplyDeposit(1_000_003, 2_000_007, 1_414_215); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	// Floor rounding on the payout leaves dust; burning the full supply must
	// still end at the empty state.
	if err := p.ApplyWithdraw(1_000_002, 2_000_006, 1_414_215); err != nil {
		t.Fatalf("full withdraw: %v", err)
	}
	if p.ReserveX != 0 || p.ReserveY != 0 || p.LPSupply != 0 {
		t.Errorf("pool not empty after full burn: (%d, %d, %d)", p.ReserveX, p.ReserveY, p.LPSupply)
	}
	if !p.Empty() {
		t.Error("Empty() false after full burn")
	}
}

func TestApplyWithdrawRejectsEmptyingOneSide(t *testing.T) {
	p := newTestPool(t, 0, nil)
	if err := p.ApplyDeposit(1_000, 1_000, 1_000); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := p.ApplyWithdraw(1_000, 500, 500); !errors.Is(err, amm.ErrInvariantViolation) {
		t.Errorf("one-sided drain: got %v, want ErrInvariantViolation", err)
	}
}

func TestApplySwap(t *testing.T) {
	p := newTestPool(t, 100, nil)
	if err := p.ApplyDeposit(100_000_000, 100_000_000, 100_000_000); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	if err := p.ApplySwap(10_000_000, 9_008_189, amm.SwapXToY); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if p.ReserveX != 110_000_000 || p.ReserveY != 90_991_811 {
		t.Errorf("reserves after swap: (%d, %d)", p.ReserveX, p.ReserveY)
	}
	if p.LPSupply != 100_000_000 {
		t.Errorf("lp supply changed on swap: %d", p.LPSupply)
	}

	// Reverse direction moves the other way.
	if err := p.ApplySwap(1_000_000, 1_182_093, amm.SwapYToX); err != nil {
		t.Fatalf("reverse swap: %v", err)
	}
	if p.ReserveY != 91_991_811 {
		t.Errorf("reserveY after reverse swap: %d", p.ReserveY)
	}
}

func TestApplySwapRejectsProductDecrease(t *testing.T) {
	p := newTestPool(t, 0, nil)
	if err := p.ApplyDeposit(1_000_000, 1_000_000, 1_000_000); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	// Output priced above the curve.
	if err := p.ApplySwap(1_000, 2_000, amm.SwapXToY); !errors.Is(err, amm.ErrInvariantViolation) {
		t.Errorf("overpriced output: got %v, want ErrInvariantViolation", err)
	}
	if p.ReserveX != 1_000_000 || p.ReserveY != 1_000_000 {
		t.Errorf("state mutated on rejected swap: (%d, %d)", p.ReserveX, p.ReserveY)
	}

	if err := p.ApplySwap(1_000, 1_000_000, amm.SwapXToY); !errors.Is(err, amm.ErrInsufficientLiquidity) {
		t.Errorf("full drain: got %v, want ErrInsufficientLiquidity", err)
	}
	if err := p.ApplySwap(0, 10, amm.SwapXToY); !errors.Is(err, amm.ErrInvalidAmount) {
		t.Errorf("zero input: got %v, want ErrInvalidAmount", err)
	}
}

func TestSetLocked(t *testing.T) {
	authority := uuid.New()
	p := newTestPool(t, 100, &authority)
	if err := p.ApplyDeposit(1_000_000, 1_000_000, 1_000_000); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	if err := p.SetLocked(true, uuid.New()); !errors.Is(err, amm.ErrUnauthorized) {
		t.Errorf("wrong caller: got %v, want ErrUnauthorized", err)
	}
	if err := p.SetLocked(true, authority); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !p.Locked() {
		t.Error("pool not locked after SetLocked(true)")
	}

	if err := p.ApplySwap(1_000, 900, amm.SwapXToY); !errors.Is(err, amm.ErrPoolLocked) {
		t.Errorf("swap on locked pool: got %v, want ErrPoolLocked", err)
	}
	if err := p.ApplyDeposit(1, 1, 1); !errors.Is(err, amm.ErrPoolLocked) {
		t.Errorf("deposit on locked pool: got %v, want ErrPoolLocked", err)
	}
	if err := p.ApplyWithdraw(1, 1, 1); !errors.Is(err, amm.ErrPoolLocked) {
		t.Errorf("withdraw on locked pool: got %v, want ErrPoolLocked", err)
	}

	// Lock is idempotent and reversible.
	if err := p.SetLocked(true, authority); err != nil {
		t.Errorf("re-lock: %v", err)
	}
	if err := p.SetLocked(false, authority); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := p.ApplySwap(1_000, 900, amm.SwapXToY); err != nil {
		t.Errorf("swap after unlock: %v", err)
	}
}

func TestSetLockedNoAuthority(t *testing.T) {
	p := newTestPool(t, 100, nil)
	if err := p.SetLocked(true, uuid.New()); !errors.Is(err, amm.ErrNoAuthority) {
		t.Errorf("got %v, want ErrNoAuthority", err)
	}
}

func TestCanonicalBytesDeterministic(t *testing.T) {
	authority := uuid.New()
	a := newTestPool(t, 100, &authority)
	b := newTestPool(t, 100, &authority)

	if string(a.CanonicalBytes()) != string(b.CanonicalBytes()) {
		t.Error("identical pools serialize differently")
	}

	if err := a.ApplyDeposit(1_000_000, 1_000_000, 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if string(a.CanonicalBytes()) == string(b.CanonicalBytes()) {
		t.Error("serialization unchanged after state transition")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	cfg := Config{Seed: 7, AssetX: "sol", AssetY: "usdc", FeeBps: 30}
	p, err := r.Create(cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got, err := r.Get(p.ID); err != nil || got != p {
		t.Errorf("Get: got (%v, %v)", got, err)
	}

	if _, err := r.Create(cfg); !errors.Is(err, amm.ErrAlreadyInitialized) {
		t.Errorf("duplicate triple: got %v, want ErrAlreadyInitialized", err)
	}

	// Different seed produces a distinct pool over the same pair.
	cfg2 := cfg
	cfg2.Seed = 8
	if _, err := r.Create(cfg2); err != nil {
		t.Errorf("second seed: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("len: got %d, want 2", r.Len())
	}

	var missing amm.PoolID
	if _, err := r.Get(missing); !errors.Is(err, amm.ErrPoolNotFound) {
		t.Errorf("missing pool: got %v, want ErrPoolNotFound", err)
	}

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All: got %d pools", len(all))
	}
	if string(all[0].ID[:]) >= string(all[1].ID[:]) {
		t.Error("All not ordered by ID")
	}
}
