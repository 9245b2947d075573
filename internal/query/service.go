// Package query serves reads from the projection tables. It never touches
// engine state, so reads can lag the engine by a few operations.
package query

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"ammcore/internal/amm"
)

// PoolView is the externally visible pool record.
type PoolView struct {
	PoolID    string    `json:"pool_id"`
	AssetX    string    `json:"asset_x"`
	AssetY    string    `json:"asset_y"`
	FeeBps    uint16    `json:"fee_bps"`
	ReserveX  uint64    `json:"reserve_x"`
	ReserveY  uint64    `json:"reserve_y"`
	LPSupply  uint64    `json:"lp_supply"`
	Locked    bool      `json:"locked"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const poolColumns = `pool_id, asset_x, asset_y, fee_bps, reserve_x::text,
	reserve_y::text, lp_supply::text, locked, version, updated_at`

// ListPools returns every pool, newest first.
func (s *Service) ListPools(ctx context.Context, limit int) ([]PoolView, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+poolColumns+` FROM projections.pools ORDER BY updated_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PoolView
	for rows.Next() {
		view, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, rows.Err()
}

// GetPool returns one pool by its hex identifier.
func (s *Service) GetPool(ctx context.Context, poolID string) (PoolView, error) {
	if _, err := amm.ParsePoolID(poolID); err != nil {
		return PoolView{}, amm.ErrPoolNotFound.Wrapf("malformed pool id %q", poolID)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+poolColumns+` FROM projections.pools WHERE pool_id = $1`,
		poolID,
	)
	view, err := scanPool(row)
	if err == sql.ErrNoRows {
		return PoolView{}, amm.ErrPoolNotFound.Wrapf("pool %s", poolID)
	}
	return view, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPool(row scanner) (PoolView, error) {
	var (
		view                         PoolView
		feeBps                       int32
		reserveX, reserveY, lpSupply string
	)
	if err := row.Scan(
		&view.PoolID, &view.AssetX, &view.AssetY, &feeBps,
		&reserveX, &reserveY, &lpSupply,
		&view.Locked, &view.Version, &view.UpdatedAt,
	); err != nil {
		return PoolView{}, err
	}
	view.FeeBps = uint16(feeBps)

	var err error
	if view.ReserveX, err = strconv.ParseUint(reserveX, 10, 64); err != nil {
		return PoolView{}, err
	}
	if view.ReserveY, err = strconv.ParseUint(reserveY, 10, 64); err != nil {
		return PoolView{}, err
	}
	if view.LPSupply, err = strconv.ParseUint(lpSupply, 10, 64); err != nil {
		return PoolView{}, err
	}
	return view, nil
}
