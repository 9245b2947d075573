package persistence

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// DBKeyStore answers idempotency lookups from the receipt log. A key is seen
// once its receipt row is committed, which is exactly when the operation's
// effects became durable.
type DBKeyStore struct {
	db *sql.DB
}

func NewDBKeyStore(db *sql.DB) *DBKeyStore {
	return &DBKeyStore{db: db}
}

func (s *DBKeyStore) Seen(ctx context.Context, key uuid.UUID) (bool, error) {
	var seen bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM amm_log.receipts WHERE idempotency_key = $1)`,
		key,
	).Scan(&seen)
	if err != nil {
		return false, err
	}
	return seen, nil
}
