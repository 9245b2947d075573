// Package persistence owns the durable side of the pipeline: the append-only
// receipt and instruction log in Postgres, the migration runner, and the
// periodic JSON snapshots the engine recovers from.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"ammcore/internal/engine"
)

// Store writes receipt/instruction batches to the amm_log schema. Inserts
// are idempotent: replayed items hit the primary-key conflict and are
// dropped, so a crash between commit and ack never double-writes.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// WriteBatch persists a flush worth of items in one transaction.
func (s *Store) WriteBatch(ctx context.Context, items []engine.PersistItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertReceipts(ctx, tx, items); err != nil {
		return err
	}
	if err := insertInstructions(ctx, tx, items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertReceipts(ctx context.Context, tx *sql.Tx, items []engine.PersistItem) error {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO amm_log.receipts
		(receipt_id, idempotency_key, op_type, partition, source_seq, outcome,
		 error_code, error_message, pool_id, amount_x, amount_y, lp_amount,
		 state_digest, chain_digest, processed_at) VALUES `)

	for i, item := range items {
		r := item.Receipt
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 15
		sb.WriteString(placeholders(base, 15))

		var poolID any
		if r.PoolID != nil {
			poolID = r.PoolID.String()
		}
		args = append(args,
			r.ReceiptID, r.IdempotencyKey, string(r.OpType), r.Partition,
			int64(r.SourceSeq), string(r.Outcome),
			int64(r.ErrorCode), r.ErrorMessage, poolID,
			strconv.FormatUint(r.AmountX, 10),
			strconv.FormatUint(r.AmountY, 10),
			strconv.FormatUint(r.LPAmount, 10),
			r.StateDigest, r.ChainDigest, r.ProcessedAt,
		)
	}
	sb.WriteString(" ON CONFLICT (receipt_id) DO NOTHING")

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert receipts: %w", err)
	}
	return nil
}

func insertInstructions(ctx context.Context, tx *sql.Tx, items []engine.PersistItem) error {
	var (
		sb   strings.Builder
		args []any
		rows int
	)
	sb.WriteString(`INSERT INTO amm_log.instructions
		(instruction_id, operation_key, pool_id, idx, kind, asset, from_ref, to_ref, amount) VALUES `)

	for _, item := range items {
		if item.Batch == nil {
			continue
		}
		for idx, ins := range item.Batch.Instructions {
			if rows > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(placeholders(rows*9, 9))
			args = append(args,
				ins.ID, item.Batch.OperationKey, item.Batch.PoolID.String(),
				idx, string(ins.Kind), string(ins.Asset),
				string(ins.From), string(ins.To),
				strconv.FormatUint(ins.Amount, 10),
			)
			rows++
		}
	}
	if rows == 0 {
		return nil
	}
	sb.WriteString(" ON CONFLICT (instruction_id) DO NOTHING")

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert instructions: %w", err)
	}
	return nil
}

// placeholders renders "($n, $n+1, ...)" for one row of width cols.
func placeholders(base, cols int) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i := 0; i < cols; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('$')
		sb.WriteString(strconv.Itoa(base + i + 1))
	}
	sb.WriteByte(')')
	return sb.String()
}
