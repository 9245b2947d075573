// Package projection maintains the read-optimized pool table. It trails the
// engine: updates arrive over a lossy channel and are upserted with a version
// guard, so stale or dropped updates never corrupt the view. The durable log
// remains the source of truth.
package projection

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/rs/zerolog"

	"ammcore/internal/engine"
)

// Metrics is the slice of instrumentation the worker drives.
type Metrics interface {
	ProjectionApplied()
}

type Worker struct {
	ch      <-chan engine.PoolUpdate
	db      *sql.DB
	log     zerolog.Logger
	metrics Metrics
}

func NewWorker(ch <-chan engine.PoolUpdate, db *sql.DB, log zerolog.Logger, metrics Metrics) *Worker {
	return &Worker{
		ch:      ch,
		db:      db,
		log:     log.With().Str("component", "projection").Logger(),
		metrics: metrics,
	}
}

// Run applies updates until ctx is canceled. Failures are logged and
// dropped; the next update for the pool repairs the row.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case update, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.apply(ctx, update); err != nil {
				w.log.Warn().Err(err).
					Str("pool_id", update.PoolID.String()).
					Int64("version", update.Version).
					Msg("projection upsert failed")
				continue
			}
			w.metrics.ProjectionApplied()
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) apply(ctx context.Context, u engine.PoolUpdate) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO projections.pools
			(pool_id, asset_x, asset_y, fee_bps, reserve_x, reserve_y,
			 lp_supply, locked, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pool_id) DO UPDATE SET
			reserve_x  = EXCLUDED.reserve_x,
			reserve_y  = EXCLUDED.reserve_y,
			lp_supply  = EXCLUDED.lp_supply,
			locked     = EXCLUDED.locked,
			version    = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE projections.pools.version < EXCLUDED.version`,
		u.PoolID.String(), string(u.AssetX), string(u.AssetY), int32(u.FeeBps),
		strconv.FormatUint(u.ReserveX, 10),
		strconv.FormatUint(u.ReserveY, 10),
		strconv.FormatUint(u.LPSupply, 10),
		u.Locked, u.Version, u.UpdatedAt,
	)
	return err
}
