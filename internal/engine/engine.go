// Package engine hosts the deterministic core. One goroutine owns all pool
// state; operations enter in partition order, each produces a receipt and an
// instruction batch, and downstream workers consume those over channels.
package engine

import (
	"context"
	"errors"
	"time"

	sdkerrors "cosmossdk.io/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ammcore/internal/amm"
	"ammcore/internal/curve"
	"ammcore/internal/ledger"
	"ammcore/internal/op"
	"ammcore/internal/pool"
)

// ErrSkip marks an operation that must be acked without processing: a
// duplicate idempotency key or a stale sequence number.
var ErrSkip = errors.New("operation already processed")

// ErrSequenceGap marks an operation that arrived ahead of its partition
// cursor. The caller must redeliver it after the missing operations.
var ErrSequenceGap = errors.New("sequence gap")

// PersistItem pairs a receipt with the instruction batch it produced.
// Rejected operations carry a nil batch.
type PersistItem struct {
	Receipt op.Receipt
	Batch   *ledger.Batch
}

// PoolUpdate is the projection feed payload: the pool's externally visible
// state after one applied operation.
type PoolUpdate struct {
	PoolID    amm.PoolID
	AssetX    amm.AssetID
	AssetY    amm.AssetID
	FeeBps    uint16
	ReserveX  uint64
	ReserveY  uint64
	LPSupply  uint64
	Locked    bool
	Version   int64
	UpdatedAt time.Time
}

// Metrics is the slice of instrumentation the engine drives.
type Metrics interface {
	OpProcessed(opType string, outcome string)
	OpSkipped(reason string)
	ProcessDuration(opType string, d time.Duration)
	ProjectionDropped()
	PoolsTracked(n int)
}

type noopMetrics struct{}

func (noopMetrics) OpProcessed(string, string)            {}
func (noopMetrics) OpSkipped(string)                      {}
func (noopMetrics) ProcessDuration(string, time.Duration) {}
func (noopMetrics) ProjectionDropped()                    {}
func (noopMetrics) PoolsTracked(int)                      {}

// Engine applies operations to pool state. Not safe for concurrent use; run
// Process from a single goroutine.
type Engine struct {
	registry *pool.Registry
	book     *ledger.VaultBook
	hasher   *Hasher
	idem     *IdempotencyChecker
	seq      *SequenceValidator

	persistCh    chan<- PersistItem
	projectionCh chan<- PoolUpdate

	log     zerolog.Logger
	metrics Metrics
	clock   func() time.Time
}

type Options struct {
	IdempotencyWindow int
	KeyStore          KeyStore
	PersistCh         chan<- PersistItem
	ProjectionCh      chan<- PoolUpdate
	Logger            zerolog.Logger
	Metrics           Metrics
	Clock             func() time.Time
}

func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	return &Engine{
		registry:     pool.NewRegistry(),
		book:         ledger.NewVaultBook(),
		hasher:       NewHasher(),
		idem:         NewIdempotencyChecker(opts.IdempotencyWindow, opts.KeyStore),
		seq:          NewSequenceValidator(),
		persistCh:    opts.PersistCh,
		projectionCh: opts.ProjectionCh,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		clock:        opts.Clock,
	}
}

// Registry exposes pool state for reads and snapshots. Callers must not
// mutate through it outside the engine goroutine.
func (e *Engine) Registry() *pool.Registry { return e.registry }

// Book exposes the vault mirror for snapshots.
func (e *Engine) Book() *ledger.VaultBook { return e.book }

// Sequences exposes the partition cursors for snapshots.
func (e *Engine) Sequences() *SequenceValidator { return e.seq }

// ChainDigest returns the current receipt chain digest.
func (e *Engine) ChainDigest() string { return e.hasher.Chain() }

// RestoreChain resets the receipt chain from a snapshot.
func (e *Engine) RestoreChain(digest string) error { return e.hasher.Restore(digest) }

// MarkRecovered seeds the idempotency window during snapshot recovery.
func (e *Engine) MarkRecovered(key uuid.UUID) { e.idem.Mark(key) }

// Process runs one operation through the full pipeline: duplicate filter,
// sequence check, dispatch, vault cross-check, hashing, emission. It returns
// ErrSkip for duplicates and stale sequences, ErrSequenceGap when delivery
// ran ahead, and the receipt otherwise. Domain failures are not errors here;
// they come back as rejected receipts.
func (e *Engine) Process(ctx context.Context, operation op.Operation) (op.Receipt, error) {
	start := e.clock()

	seen, err := e.idem.Seen(ctx, operation.Key())
	if err != nil {
		return op.Receipt{}, err
	}
	if seen {
		e.metrics.OpSkipped("duplicate")
		e.log.Debug().
			Str("op_type", string(operation.OpType())).
			Str("idempotency_key", operation.Key().String()).
			Msg("duplicate operation skipped")
		return op.Receipt{}, ErrSkip
	}

	partition := operation.Partition()
	switch e.seq.Check(partition, operation.Sequence()) {
	case SeqStale:
		e.metrics.OpSkipped("stale_sequence")
		return op.Receipt{}, ErrSkip
	case SeqGap:
		e.metrics.OpSkipped("sequence_gap")
		e.log.Warn().
			Str("partition", partition).
			Uint64("got", operation.Sequence()).
			Uint64("want", e.seq.Expected(partition)).
			Msg("sequence gap, redelivery required")
		return op.Receipt{}, ErrSequenceGap
	}

	result, opErr := e.dispatch(operation)
	if opErr != nil && result.batch != nil {
		// A handler must never hand back both.
		e.log.Error().Err(opErr).Msg("handler returned batch alongside error")
		result.batch = nil
	}

	receipt := op.Receipt{
		ReceiptID:      uuid.New(),
		IdempotencyKey: operation.Key(),
		OpType:         operation.OpType(),
		Partition:      partition,
		SourceSeq:      operation.Sequence(),
		Outcome:        op.OutcomeApplied,
		PoolID:         result.poolID,
		AmountX:        result.amountX,
		AmountY:        result.amountY,
		LPAmount:       result.lpAmount,
		ProcessedAt:    e.clock(),
	}

	if opErr != nil {
		receipt.Outcome = op.OutcomeRejected
		_, code, logMsg := sdkerrors.ABCIInfo(opErr, false)
		receipt.ErrorCode = code
		receipt.ErrorMessage = logMsg
	} else if result.batch != nil {
		if err := e.book.Apply(result.batch); err != nil {
			// Pool state moved but the mirror refused the batch. This is an
			// engine bug, not a bad operation; stop processing.
			return op.Receipt{}, amm.ErrInvariantViolation.Wrapf("vault book diverged: %v", err)
		}
		if err := e.verifyVaults(result.poolID); err != nil {
			return op.Receipt{}, err
		}
	}

	receipt.StateDigest = e.hasher.StateDigest(e.registry)
	receipt.ChainDigest = e.hasher.Advance(receipt.StateDigest)

	// The operation is committed here, before emission: cursor, idempotency
	// window, and state must move together or a snapshot cut after an aborted
	// send would pair mutated reserves with an unconsumed cursor and let the
	// redelivery apply twice.
	e.seq.Consume(partition, operation.Sequence())
	e.idem.Mark(operation.Key())

	item := PersistItem{Receipt: receipt, Batch: result.batch}
	select {
	case e.persistCh <- item:
	case <-ctx.Done():
		// Committed but not persisted; the redelivery after restart is
		// absorbed by the cursor as a stale sequence.
		return op.Receipt{}, ctx.Err()
	}

	if receipt.Applied() && result.poolID != nil {
		e.emitProjection(*result.poolID)
	}

	outcome := string(receipt.Outcome)
	e.metrics.OpProcessed(string(operation.OpType()), outcome)
	e.metrics.ProcessDuration(string(operation.OpType()), e.clock().Sub(start))
	e.metrics.PoolsTracked(e.registry.Len())

	evt := e.log.Info()
	if receipt.Outcome == op.OutcomeRejected {
		evt = e.log.Warn().Uint32("error_code", receipt.ErrorCode).Str("error", receipt.ErrorMessage)
	}
	evt.Str("op_type", string(operation.OpType())).
		Str("partition", partition).
		Uint64("seq", operation.Sequence()).
		Str("outcome", outcome).
		Msg("operation processed")

	return receipt, nil
}

// dispatchResult carries the handler output back to the pipeline.
type dispatchResult struct {
	poolID   *amm.PoolID
	amountX  uint64
	amountY  uint64
	lpAmount uint64
	batch    *ledger.Batch
}

func (e *Engine) dispatch(operation op.Operation) (dispatchResult, error) {
	switch o := operation.(type) {
	case op.CreatePool:
		return e.handleCreatePool(o)
	case op.Deposit:
		return e.handleDeposit(o)
	case op.Withdraw:
		return e.handleWithdraw(o)
	case op.Swap:
		return e.handleSwap(o)
	case op.SetLocked:
		return e.handleSetLocked(o)
	default:
		return dispatchResult{}, amm.ErrInvalidAmount.Wrapf("unknown operation type %T", operation)
	}
}

func (e *Engine) handleCreatePool(o op.CreatePool) (dispatchResult, error) {
	p, err := e.registry.Create(pool.Config{
		Seed:      o.Seed,
		AssetX:    o.AssetX,
		AssetY:    o.AssetY,
		FeeBps:    o.FeeBps,
		Authority: o.Authority,
	})
	if err != nil {
		return dispatchResult{}, err
	}

	batch := &ledger.Batch{OperationKey: o.Key(), PoolID: p.ID}
	batch.Add(ledger.KindOpenVault, p.Config.AssetX, "", ledger.VaultRef(p.ID, p.Config.AssetX), 0)
	batch.Add(ledger.KindOpenVault, p.Config.AssetY, "", ledger.VaultRef(p.ID, p.Config.AssetY), 0)
	batch.Add(ledger.KindCreateAsset, p.Config.LPAsset, "", "", 0)

	return dispatchResult{poolID: &p.ID, batch: batch}, nil
}

func (e *Engine) handleDeposit(o op.Deposit) (dispatchResult, error) {
	p, err := e.registry.Get(o.PoolID)
	if err != nil {
		return dispatchResult{}, err
	}
	if p.Locked() {
		return dispatchResult{}, amm.ErrPoolLocked
	}

	if o.LPAmount == 0 {
		return dispatchResult{}, amm.ErrInvalidAmount.Wrap("requested LP amount is zero")
	}

	var amountX, amountY, lpMinted uint64
	if p.Empty() {
		// First deposit consumes the caps exactly; the requested share amount
		// acts as a lower bound on the geometric-mean mint.
		amountX, amountY = o.AmountX, o.AmountY
		lpMinted, err = curve.InitialDepositQuote(amountX, amountY)
		if err != nil {
			return dispatchResult{}, err
		}
		if lpMinted < o.LPAmount {
			return dispatchResult{}, amm.ErrSlippageExceeded.Wrapf(
				"initial deposit mints %d, requested %d", lpMinted, o.LPAmount)
		}
	} else {
		amountX, amountY, err = curve.ProportionalDepositQuote(p.ReserveX, p.ReserveY, p.LPSupply, o.LPAmount)
		if err != nil {
			return dispatchResult{}, err
		}
		lpMinted = o.LPAmount
		if amountX > o.AmountX || amountY > o.AmountY {
			return dispatchResult{}, amm.ErrSlippageExceeded.Wrapf(
				"deposit needs (%d, %d), caps (%d, %d)", amountX, amountY, o.AmountX, o.AmountY)
		}
	}

	if err := p.ApplyDeposit(amountX, amountY, lpMinted); err != nil {
		return dispatchResult{}, err
	}

	trader := ledger.TraderRef(o.Actor)
	batch := &ledger.Batch{OperationKey: o.Key(), PoolID: p.ID}
	batch.Add(ledger.KindTransfer, p.Config.AssetX, trader, ledger.VaultRef(p.ID, p.Config.AssetX), amountX)
	batch.Add(ledger.KindTransfer, p.Config.AssetY, trader, ledger.VaultRef(p.ID, p.Config.AssetY), amountY)
	batch.Add(ledger.KindMint, p.Config.LPAsset, "", trader, lpMinted)

	return dispatchResult{poolID: &p.ID, amountX: amountX, amountY: amountY, lpAmount: lpMinted, batch: batch}, nil
}

func (e *Engine) handleWithdraw(o op.Withdraw) (dispatchResult, error) {
	p, err := e.registry.Get(o.PoolID)
	if err != nil {
		return dispatchResult{}, err
	}
	if p.Locked() {
		return dispatchResult{}, amm.ErrPoolLocked
	}

	amountX, amountY, err := curve.WithdrawQuote(p.ReserveX, p.ReserveY, p.LPSupply, o.LPAmount)
	if err != nil {
		return dispatchResult{}, err
	}
	if amountX < o.MinX || amountY < o.MinY {
		return dispatchResult{}, amm.ErrSlippageExceeded.Wrapf(
			"withdraw pays (%d, %d), minimums (%d, %d)", amountX, amountY, o.MinX, o.MinY)
	}

	if err := p.ApplyWithdraw(amountX, amountY, o.LPAmount); err != nil {
		return dispatchResult{}, err
	}

	trader := ledger.TraderRef(o.Actor)
	batch := &ledger.Batch{OperationKey: o.Key(), PoolID: p.ID}
	batch.Add(ledger.KindBurn, p.Config.LPAsset, trader, "", o.LPAmount)
	if amountX > 0 {
		batch.Add(ledger.KindTransfer, p.Config.AssetX, ledger.VaultRef(p.ID, p.Config.AssetX), trader, amountX)
	}
	if amountY > 0 {
		batch.Add(ledger.KindTransfer, p.Config.AssetY, ledger.VaultRef(p.ID, p.Config.AssetY), trader, amountY)
	}

	return dispatchResult{poolID: &p.ID, amountX: amountX, amountY: amountY, lpAmount: o.LPAmount, batch: batch}, nil
}

func (e *Engine) handleSwap(o op.Swap) (dispatchResult, error) {
	p, err := e.registry.Get(o.PoolID)
	if err != nil {
		return dispatchResult{}, err
	}
	if p.Locked() {
		return dispatchResult{}, amm.ErrPoolLocked
	}

	reserveIn, reserveOut := p.ReserveX, p.ReserveY
	assetIn, assetOut := p.Config.AssetX, p.Config.AssetY
	if o.Direction == amm.SwapYToX {
		reserveIn, reserveOut = p.ReserveY, p.ReserveX
		assetIn, assetOut = p.Config.AssetY, p.Config.AssetX
	}

	amountOut, err := curve.SwapQuote(reserveIn, reserveOut, o.AmountIn, p.Config.FeeBps)
	if err != nil {
		return dispatchResult{}, err
	}
	if amountOut < o.MinOut {
		return dispatchResult{}, amm.ErrSlippageExceeded.Wrapf(
			"swap pays %d, minimum %d", amountOut, o.MinOut)
	}

	if err := p.ApplySwap(o.AmountIn, amountOut, o.Direction); err != nil {
		return dispatchResult{}, err
	}

	trader := ledger.TraderRef(o.Actor)
	batch := &ledger.Batch{OperationKey: o.Key(), PoolID: p.ID}
	batch.Add(ledger.KindTransfer, assetIn, trader, ledger.VaultRef(p.ID, assetIn), o.AmountIn)
	batch.Add(ledger.KindTransfer, assetOut, ledger.VaultRef(p.ID, assetOut), trader, amountOut)

	res := dispatchResult{poolID: &p.ID, batch: batch}
	if o.Direction == amm.SwapXToY {
		res.amountX, res.amountY = o.AmountIn, amountOut
	} else {
		res.amountX, res.amountY = amountOut, o.AmountIn
	}
	return res, nil
}

func (e *Engine) handleSetLocked(o op.SetLocked) (dispatchResult, error) {
	p, err := e.registry.Get(o.PoolID)
	if err != nil {
		return dispatchResult{}, err
	}
	if err := p.SetLocked(o.Locked, o.Actor); err != nil {
		return dispatchResult{}, err
	}
	// No balance movement; the projection still needs the status flip.
	return dispatchResult{poolID: &p.ID}, nil
}

// verifyVaults checks that the mirror agrees with the pool record after a
// batch. Divergence is unrecoverable.
func (e *Engine) verifyVaults(poolID *amm.PoolID) error {
	if poolID == nil {
		return nil
	}
	p, err := e.registry.Get(*poolID)
	if err != nil {
		return err
	}
	balX := e.book.Balance(ledger.VaultRef(p.ID, p.Config.AssetX))
	balY := e.book.Balance(ledger.VaultRef(p.ID, p.Config.AssetY))
	if balX != p.ReserveX || balY != p.ReserveY {
		return amm.ErrInvariantViolation.Wrapf(
			"pool %s reserves (%d, %d) but vaults hold (%d, %d)",
			p.ID, p.ReserveX, p.ReserveY, balX, balY)
	}
	return nil
}

func (e *Engine) emitProjection(poolID amm.PoolID) {
	p, err := e.registry.Get(poolID)
	if err != nil {
		return
	}
	update := PoolUpdate{
		PoolID:    p.ID,
		AssetX:    p.Config.AssetX,
		AssetY:    p.Config.AssetY,
		FeeBps:    p.Config.FeeBps,
		ReserveX:  p.ReserveX,
		ReserveY:  p.ReserveY,
		LPSupply:  p.LPSupply,
		Locked:    p.Locked(),
		Version:   p.Version,
		UpdatedAt: e.clock(),
	}
	select {
	case e.projectionCh <- update:
	default:
		// Projections are best effort; the durable log is the source of truth.
		e.metrics.ProjectionDropped()
	}
}
