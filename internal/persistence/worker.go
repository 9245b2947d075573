package persistence

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"ammcore/internal/engine"
	"ammcore/internal/op"
)

// ReceiptPublisher fans committed receipts out to downstream consumers.
type ReceiptPublisher interface {
	PublishReceipt(ctx context.Context, r op.Receipt) error
}

// Metrics is the slice of instrumentation the worker drives.
type Metrics interface {
	PersistFlush(batchSize int)
	PersistRetry()
}

// Worker drains the engine's persist channel, batching items by size and
// age. The channel send in the engine is blocking, so the engine stalls
// rather than outrun durability.
type Worker struct {
	ch           <-chan engine.PersistItem
	store        *Store
	publisher    ReceiptPublisher
	batchSize    int
	flushTimeout time.Duration
	maxRetries   uint
	log          zerolog.Logger
	metrics      Metrics
}

type WorkerOptions struct {
	Ch           <-chan engine.PersistItem
	Store        *Store
	Publisher    ReceiptPublisher
	BatchSize    int
	FlushTimeout time.Duration
	MaxRetries   uint
	Logger       zerolog.Logger
	Metrics      Metrics
}

func NewWorker(opts WorkerOptions) *Worker {
	return &Worker{
		ch:           opts.Ch,
		store:        opts.Store,
		publisher:    opts.Publisher,
		batchSize:    opts.BatchSize,
		flushTimeout: opts.FlushTimeout,
		maxRetries:   opts.MaxRetries,
		log:          opts.Logger.With().Str("component", "persistence").Logger(),
		metrics:      opts.Metrics,
	}
}

// Run loops until ctx is canceled and the channel is drained. Shutdown order
// matters: cancel the ingestion loop first, then close the persist channel,
// and this worker flushes what is left before returning.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]engine.PersistItem, 0, w.batchSize)
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.writeWithRetry(ctx, batch); err != nil {
			return err
		}
		w.publish(ctx, batch)
		w.metrics.PersistFlush(len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case item, ok := <-w.ch:
			if !ok {
				return flush()
			}
			batch = append(batch, item)
			if len(batch) >= w.batchSize {
				if err := flush(); err != nil {
					return err
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.flushTimeout)
			}
		case <-timer.C:
			if err := flush(); err != nil {
				return err
			}
			timer.Reset(w.flushTimeout)
		case <-ctx.Done():
			// Drain whatever the engine managed to emit, then flush once.
			for {
				select {
				case item, ok := <-w.ch:
					if !ok {
						return flush()
					}
					batch = append(batch, item)
				default:
					return flush()
				}
			}
		}
	}
}

// writeWithRetry commits one batch, retrying transient failures with
// exponential backoff. The engine is stalled the whole time, which is the
// point: no receipt is acked upstream before it is durable.
func (w *Worker) writeWithRetry(ctx context.Context, batch []engine.PersistItem) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := w.store.WriteBatch(ctx, batch); err != nil {
			attempt++
			w.metrics.PersistRetry()
			w.log.Warn().Err(err).Int("attempt", attempt).Int("batch", len(batch)).
				Msg("persist flush failed, retrying")
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(w.maxRetries),
	)
	return err
}

// publish is best effort: the durable log already has the receipts, and the
// receipts stream deduplicates on receipt ID, so a failed publish here is
// retried on the next crash-recovery cycle at worst.
func (w *Worker) publish(ctx context.Context, batch []engine.PersistItem) {
	if w.publisher == nil {
		return
	}
	for _, item := range batch {
		if err := w.publisher.PublishReceipt(ctx, item.Receipt); err != nil {
			w.log.Warn().Err(err).
				Str("receipt_id", item.Receipt.ReceiptID.String()).
				Msg("receipt publish failed")
		}
	}
}
