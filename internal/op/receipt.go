package op

import (
	"time"

	"github.com/google/uuid"

	"ammcore/internal/amm"
)

// Outcome is the terminal status of a processed operation.
type Outcome string

const (
	OutcomeApplied  Outcome = "APPLIED"
	OutcomeRejected Outcome = "REJECTED"
)

// Receipt records what the engine did with one operation. Receipts are
// appended to the durable log and published for downstream consumers; the
// hash chain over their state digests makes the log tamper-evident.
type Receipt struct {
	ReceiptID      uuid.UUID `json:"receipt_id"`
	IdempotencyKey uuid.UUID `json:"idempotency_key"`
	OpType         Type      `json:"op_type"`
	Partition      string    `json:"partition"`
	SourceSeq      uint64    `json:"source_seq"`
	Outcome        Outcome   `json:"outcome"`
	ErrorCode      uint32    `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`

	PoolID   *amm.PoolID `json:"pool_id,omitempty"`
	AmountX  uint64      `json:"amount_x,omitempty"`
	AmountY  uint64      `json:"amount_y,omitempty"`
	LPAmount uint64      `json:"lp_amount,omitempty"`

	StateDigest string    `json:"state_digest"`
	ChainDigest string    `json:"chain_digest"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Applied reports whether the operation mutated state.
func (r Receipt) Applied() bool {
	return r.Outcome == OutcomeApplied
}
