package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ammcore/internal/amm"
	"ammcore/internal/op"
)

func newTestEngine() (*Engine, chan PersistItem, chan PoolUpdate) {
	persistCh := make(chan PersistItem, 64)
	projectionCh := make(chan PoolUpdate, 64)
	eng := New(Options{
		IdempotencyWindow: 128,
		PersistCh:         persistCh,
		ProjectionCh:      projectionCh,
		Logger:            zerolog.Nop(),
	})
	return eng, persistCh, projectionCh
}

func header(seq uint64, actor uuid.UUID) op.Header {
	return op.Header{
		IdempotencyKey: uuid.New(),
		SourceSeq:      seq,
		Actor:          actor,
		SubmittedAt:    time.Now(),
	}
}

func mustApply(t *testing.T, eng *Engine, operation op.Operation) op.Receipt {
	t.Helper()
	r, err := eng.Process(context.Background(), operation)
	if err != nil {
		t.Fatalf("Process(%s): %v", operation.OpType(), err)
	}
	if !r.Applied() {
		t.Fatalf("Process(%s) rejected: code=%d %s", operation.OpType(), r.ErrorCode, r.ErrorMessage)
	}
	return r
}

func TestEngineLifecycle(t *testing.T) {
	eng, persistCh, projectionCh := newTestEngine()
	actor := uuid.New()
	authority := uuid.New()

	create := op.CreatePool{
		Header: header(1, actor),
		Seed:   7, AssetX: "sol", AssetY: "usdc", FeeBps: 100,
		Authority: &authority,
	}
	r := mustApply(t, eng, create)
	if r.PoolID == nil {
		t.Fatal("create receipt missing pool id")
	}
	poolID := *r.PoolID

	deposit := op.Deposit{
		Header: header(1, actor),
		PoolID: poolID, LPAmount: 100_000_000, AmountX: 100_000_000, AmountY: 100_000_000,
	}
	r = mustApply(t, eng, deposit)
	if r.LPAmount != 100_000_000 {
		t.Errorf("first deposit minted %d, want 100_000_000", r.LPAmount)
	}

	swap := op.Swap{
		Header: header(2, actor),
		PoolID: poolID, Direction: amm.SwapXToY,
		AmountIn: 10_000_000, MinOut: 9_000_000,
	}
	r = mustApply(t, eng, swap)
	if r.AmountY != 9_008_189 {
		t.Errorf("swap output %d, want 9_008_189", r.AmountY)
	}

	p, err := eng.Registry().Get(poolID)
	if err != nil {
		t.Fatalf("pool lookup: %v", err)
	}
	if p.ReserveX != 110_000_000 || p.ReserveY != 90_991_811 {
		t.Errorf("reserves after swap: (%d, %d)", p.ReserveX, p.ReserveY)
	}

	withdraw := op.Withdraw{
		Header: header(3, actor),
		PoolID: poolID, LPAmount: 50_000_000,
		MinX: 54_000_000, MinY: 45_000_000,
	}
	r = mustApply(t, eng, withdraw)
	if r.AmountX != 55_000_000 || r.AmountY != 45_495_905 {
		t.Errorf("withdraw payout (%d, %d), want (55_000_000, 45_495_905)", r.AmountX, r.AmountY)
	}
	if p.LPSupply != 50_000_000 {
		t.Errorf("lp supply after withdraw: %d", p.LPSupply)
	}

	// Four applied ops, four persist items, three projection updates plus the
	// create's one.
	if got := len(persistCh); got != 4 {
		t.Errorf("persist items: got %d, want 4", got)
	}
	if got := len(projectionCh); got != 4 {
		t.Errorf("projection updates: got %d, want 4", got)
	}

	item := <-persistCh
	if item.Receipt.OpType != op.TypeCreatePool || item.Batch == nil {
		t.Errorf("first persist item: type %s, batch nil=%v", item.Receipt.OpType, item.Batch == nil)
	}
	if len(item.Batch.Instructions) != 3 {
		t.Errorf("create batch instructions: got %d, want 3", len(item.Batch.Instructions))
	}
}

func TestEngineRejectionsLeaveStateUntouched(t *testing.T) {
	eng, persistCh, _ := newTestEngine()
	actor := uuid.New()

	r := mustApply(t, eng, op.CreatePool{
		Header: header(1, actor),
		Seed:   1, AssetX: "sol", AssetY: "usdc", FeeBps: 100,
	})
	poolID := *r.PoolID
	mustApply(t, eng, op.Deposit{
		Header: header(1, actor),
		PoolID: poolID, LPAmount: 100_000_000, AmountX: 100_000_000, AmountY: 100_000_000,
	})
	for len(persistCh) > 0 {
		<-persistCh
	}

	// MinOut above the quote.
	reject, err := eng.Process(context.Background(), op.Swap{
		Header: header(2, actor),
		PoolID: poolID, Direction: amm.SwapXToY,
		AmountIn: 10_000_000, MinOut: 9_100_000,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reject.Applied() {
		t.Fatal("slippage-violating swap applied")
	}
	if reject.ErrorCode == 0 || reject.ErrorMessage == "" {
		t.Errorf("rejected receipt missing error detail: code=%d msg=%q", reject.ErrorCode, reject.ErrorMessage)
	}

	p, _ := eng.Registry().Get(poolID)
	if p.ReserveX != 100_000_000 || p.ReserveY != 100_000_000 {
		t.Errorf("reserves mutated by rejected swap: (%d, %d)", p.ReserveX, p.ReserveY)
	}

	// Rejected operations still consume their sequence slot and still produce
	// a persisted receipt.
	if got := len(persistCh); got != 1 {
		t.Errorf("persist items after rejection: got %d, want 1", got)
	}
	item := <-persistCh
	if item.Batch != nil {
		t.Error("rejected receipt carries a batch")
	}

	// Zero input amount.
	reject, err = eng.Process(context.Background(), op.Swap{
		Header: header(3, actor),
		PoolID: poolID, Direction: amm.SwapXToY,
		AmountIn: 0,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reject.Applied() {
		t.Fatal("zero-amount swap applied")
	}

	// Zero LP request on deposit.
	reject, err = eng.Process(context.Background(), op.Deposit{
		Header: header(4, actor),
		PoolID: poolID, LPAmount: 0, AmountX: 1_000, AmountY: 1_000,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reject.Applied() {
		t.Fatal("zero-LP deposit applied")
	}

	// Unknown pool.
	var missing amm.PoolID
	missing[0] = 0xFF
	reject, err = eng.Process(context.Background(), op.Swap{
		Header: op.Header{IdempotencyKey: uuid.New(), SourceSeq: 1, Actor: actor},
		PoolID: missing, Direction: amm.SwapXToY, AmountIn: 100,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reject.Applied() {
		t.Fatal("swap against unknown pool applied")
	}
}

// A send to a full persist channel aborted by shutdown must not reopen the
// sequence slot: the operation commits the moment state moves, so the
// redelivery after a restart is absorbed as stale instead of applying twice.
func TestEngineAbortedEmissionStaysCommitted(t *testing.T) {
	persistCh := make(chan PersistItem, 2)
	eng := New(Options{
		IdempotencyWindow: 128,
		PersistCh:         persistCh,
		ProjectionCh:      make(chan PoolUpdate, 8),
		Logger:            zerolog.Nop(),
	})
	actor := uuid.New()

	r := mustApply(t, eng, op.CreatePool{
		Header: header(1, actor),
		Seed:   1, AssetX: "sol", AssetY: "usdc", FeeBps: 100,
	})
	poolID := *r.PoolID
	mustApply(t, eng, op.Deposit{
		Header: header(1, actor),
		PoolID: poolID, LPAmount: 100_000_000, AmountX: 100_000_000, AmountY: 100_000_000,
	})
	// The channel is now full; the next emission blocks.

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	swap := op.Swap{
		Header: header(2, actor),
		PoolID: poolID, Direction: amm.SwapXToY, AmountIn: 10_000_000, MinOut: 1,
	}
	if _, err := eng.Process(ctx, swap); !errors.Is(err, context.Canceled) {
		t.Fatalf("Process with canceled context: got %v, want context.Canceled", err)
	}

	p, _ := eng.Registry().Get(poolID)
	if p.ReserveX != 110_000_000 || p.ReserveY != 90_991_811 {
		t.Fatalf("reserves after aborted emission: (%d, %d)", p.ReserveX, p.ReserveY)
	}
	if got := eng.Sequences().Expected(poolID.String()); got != 3 {
		t.Fatalf("partition cursor after aborted emission: got %d, want 3", got)
	}

	// The redelivery arrives with a fresh key, as after a restart wiped the
	// idempotency window; the cursor alone must reject it.
	redelivered := swap
	redelivered.IdempotencyKey = uuid.New()
	if _, err := eng.Process(context.Background(), redelivered); !errors.Is(err, ErrSkip) {
		t.Fatalf("redelivered swap: got %v, want ErrSkip", err)
	}
	if p.ReserveX != 110_000_000 || p.ReserveY != 90_991_811 {
		t.Fatalf("redelivered swap moved reserves: (%d, %d)", p.ReserveX, p.ReserveY)
	}
}

func TestEngineLockGatesOperations(t *testing.T) {
	eng, _, _ := newTestEngine()
	actor := uuid.New()
	authority := uuid.New()

	r := mustApply(t, eng, op.CreatePool{
		Header: header(1, actor),
		Seed:   1, AssetX: "sol", AssetY: "usdc", FeeBps: 100,
		Authority: &authority,
	})
	poolID := *r.PoolID
	mustApply(t, eng, op.Deposit{
		Header: header(1, actor),
		PoolID: poolID, LPAmount: 1_000_000, AmountX: 1_000_000, AmountY: 1_000_000,
	})

	// Non-authority cannot lock.
	reject, err := eng.Process(context.Background(), op.SetLocked{
		Header: header(2, actor), PoolID: poolID, Locked: true,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reject.Applied() {
		t.Fatal("non-authority lock applied")
	}

	mustApply(t, eng, op.SetLocked{
		Header: header(3, authority), PoolID: poolID, Locked: true,
	})

	reject, err = eng.Process(context.Background(), op.Swap{
		Header: header(4, actor),
		PoolID: poolID, Direction: amm.SwapXToY, AmountIn: 1_000,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reject.Applied() {
		t.Fatal("swap on locked pool applied")
	}

	mustApply(t, eng, op.SetLocked{
		Header: header(5, authority), PoolID: poolID, Locked: false,
	})
	mustApply(t, eng, op.Swap{
		Header: header(6, actor),
		PoolID: poolID, Direction: amm.SwapXToY, AmountIn: 1_000, MinOut: 1,
	})
}

func TestEngineDuplicateAndSequence(t *testing.T) {
	eng, _, _ := newTestEngine()
	actor := uuid.New()

	create := op.CreatePool{
		Header: header(1, actor),
		Seed:   1, AssetX: "sol", AssetY: "usdc", FeeBps: 100,
	}
	mustApply(t, eng, create)

	// Same idempotency key again.
	if _, err := eng.Process(context.Background(), create); !errors.Is(err, ErrSkip) {
		t.Errorf("duplicate key: got %v, want ErrSkip", err)
	}

	// Fresh key, stale sequence.
	stale := op.CreatePool{
		Header: header(1, actor),
		Seed:   2, AssetX: "sol", AssetY: "usdt", FeeBps: 100,
	}
	if _, err := eng.Process(context.Background(), stale); !errors.Is(err, ErrSkip) {
		t.Errorf("stale sequence: got %v, want ErrSkip", err)
	}

	// Fresh key, sequence ahead of the cursor.
	ahead := op.CreatePool{
		Header: header(4, actor),
		Seed:   3, AssetX: "sol", AssetY: "usdt", FeeBps: 100,
	}
	if _, err := eng.Process(context.Background(), ahead); !errors.Is(err, ErrSequenceGap) {
		t.Errorf("sequence gap: got %v, want ErrSequenceGap", err)
	}

	// The gap op is accepted once the cursor catches up.
	mustApply(t, eng, op.CreatePool{
		Header: header(2, actor),
		Seed:   4, AssetX: "sol", AssetY: "dai", FeeBps: 100,
	})
	mustApply(t, eng, op.CreatePool{
		Header: header(3, actor),
		Seed:   5, AssetX: "usdc", AssetY: "dai", FeeBps: 100,
	})
	mustApply(t, eng, ahead)
}

func TestEngineChainDigestsLink(t *testing.T) {
	eng, persistCh, _ := newTestEngine()
	actor := uuid.New()

	mustApply(t, eng, op.CreatePool{
		Header: header(1, actor),
		Seed:   1, AssetX: "sol", AssetY: "usdc", FeeBps: 100,
	})
	r := mustApply(t, eng, op.CreatePool{
		Header: header(2, actor),
		Seed:   2, AssetX: "sol", AssetY: "dai", FeeBps: 100,
	})

	first := (<-persistCh).Receipt
	second := (<-persistCh).Receipt
	if first.ChainDigest == second.ChainDigest {
		t.Error("chain digest did not advance")
	}
	if second.ChainDigest != r.ChainDigest {
		t.Error("persisted receipt disagrees with returned receipt")
	}
	if eng.ChainDigest() != second.ChainDigest {
		t.Error("engine chain head disagrees with last receipt")
	}

	// Replaying the same digests through a fresh hasher reproduces the chain.
	h := NewHasher()
	if got := h.Advance(first.StateDigest); got != first.ChainDigest {
		t.Errorf("chain link 1: got %s, want %s", got, first.ChainDigest)
	}
	if got := h.Advance(second.StateDigest); got != second.ChainDigest {
		t.Errorf("chain link 2: got %s, want %s", got, second.ChainDigest)
	}
}

func TestEngineDeterminism(t *testing.T) {
	run := func() (*Engine, string) {
		eng, persistCh, _ := newTestEngine()
		actor := uuid.MustParse("4dbf0a83-73d6-41e0-9f2b-0347e4e0d1aa")
		authority := uuid.MustParse("9b5a3c0f-1111-4222-8333-444455556666")
		eng.clock = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

		ops := []op.Operation{
			op.CreatePool{
				Header: op.Header{IdempotencyKey: uuid.MustParse("00000000-0000-4000-8000-000000000001"), SourceSeq: 1, Actor: actor},
				Seed:   7, AssetX: "sol", AssetY: "usdc", FeeBps: 100, Authority: &authority,
			},
		}
		poolID := amm.DerivePoolID(7, "sol", "usdc")
		ops = append(ops,
			op.Deposit{
				Header: op.Header{IdempotencyKey: uuid.MustParse("00000000-0000-4000-8000-000000000002"), SourceSeq: 1, Actor: actor},
				PoolID: poolID, LPAmount: 100_000_000, AmountX: 100_000_000, AmountY: 100_000_000,
			},
			op.Swap{
				Header: op.Header{IdempotencyKey: uuid.MustParse("00000000-0000-4000-8000-000000000003"), SourceSeq: 2, Actor: actor},
				PoolID: poolID, Direction: amm.SwapXToY, AmountIn: 10_000_000, MinOut: 1,
			},
		)
		for _, o := range ops {
			if _, err := eng.Process(context.Background(), o); err != nil {
				t.Fatalf("Process: %v", err)
			}
		}
		for len(persistCh) > 0 {
			<-persistCh
		}
		return eng, eng.ChainDigest()
	}

	_, a := run()
	_, b := run()
	if a != b {
		t.Errorf("same inputs, different chains: %s vs %s", a, b)
	}
}

func TestIdempotencyChecker(t *testing.T) {
	c := NewIdempotencyChecker(2, nil)
	ctx := context.Background()

	k1, k2, k3 := uuid.New(), uuid.New(), uuid.New()
	if seen, _ := c.Seen(ctx, k1); seen {
		t.Error("unmarked key reported seen")
	}
	c.Mark(k1)
	c.Mark(k2)
	if seen, _ := c.Seen(ctx, k1); !seen {
		t.Error("marked key not seen")
	}

	// k3 evicts the least recently used (k2, since Seen refreshed k1).
	c.Mark(k3)
	if seen, _ := c.Seen(ctx, k2); seen {
		t.Error("evicted key still seen")
	}
	if seen, _ := c.Seen(ctx, k1); !seen {
		t.Error("refreshed key evicted")
	}
	if c.Len() != 2 {
		t.Errorf("len: got %d, want 2", c.Len())
	}
}

type fakeKeyStore struct {
	keys map[uuid.UUID]bool
	err  error
}

func (f *fakeKeyStore) Seen(_ context.Context, key uuid.UUID) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.keys[key], nil
}

func TestIdempotencyCheckerDurableTier(t *testing.T) {
	old := uuid.New()
	store := &fakeKeyStore{keys: map[uuid.UUID]bool{old: true}}
	c := NewIdempotencyChecker(8, store)
	ctx := context.Background()

	if seen, err := c.Seen(ctx, old); err != nil || !seen {
		t.Errorf("durable key: got (%v, %v), want (true, nil)", seen, err)
	}

	store.err = errors.New("connection reset")
	if _, err := c.Seen(ctx, uuid.New()); err == nil {
		t.Error("store error swallowed")
	}

	// LRU hit short-circuits the failing store.
	hot := uuid.New()
	c.Mark(hot)
	if seen, err := c.Seen(ctx, hot); err != nil || !seen {
		t.Errorf("lru hit with failing store: got (%v, %v)", seen, err)
	}
}

func TestSequenceValidator(t *testing.T) {
	v := NewSequenceValidator()

	if got := v.Check("p", 1); got != SeqOK {
		t.Errorf("first seq: got %v, want SeqOK", got)
	}
	if got := v.Check("p", 2); got != SeqGap {
		t.Errorf("seq 2 before 1 consumed: got %v, want SeqGap", got)
	}
	v.Consume("p", 1)
	if got := v.Check("p", 1); got != SeqStale {
		t.Errorf("replayed seq: got %v, want SeqStale", got)
	}
	if got := v.Check("p", 2); got != SeqOK {
		t.Errorf("next seq: got %v, want SeqOK", got)
	}
	if got := v.Check("q", 1); got != SeqOK {
		t.Errorf("independent partition: got %v, want SeqOK", got)
	}

	v.Consume("p", 2)
	cursors := v.Cursors()
	fresh := NewSequenceValidator()
	fresh.Restore(cursors)
	if got := fresh.Expected("p"); got != 3 {
		t.Errorf("restored cursor: got %d, want 3", got)
	}
}
