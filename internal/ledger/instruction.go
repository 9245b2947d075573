// Package ledger describes state changes as flat instruction batches. Every
// applied operation compiles to exactly one batch; the batch is what gets
// persisted and what the vault book replays, so the two views can never
// drift apart silently.
package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"ammcore/internal/amm"
)

// Kind discriminates instruction payloads.
type Kind string

const (
	// KindOpenVault declares a vault account for one asset under one pool.
	KindOpenVault Kind = "OPEN_VAULT"
	// KindCreateAsset declares a mintable asset (the pool's share token).
	KindCreateAsset Kind = "CREATE_ASSET"
	// KindTransfer moves units between a trader account and a vault.
	KindTransfer Kind = "TRANSFER"
	// KindMint creates share units out of thin air into a trader account.
	KindMint Kind = "MINT"
	// KindBurn destroys share units held by a trader account.
	KindBurn Kind = "BURN"
)

// AccountRef names a balance-holding account. Vault accounts use the path
// "vault/<pool-id>/<asset>"; trader accounts use "trader/<actor-uuid>".
type AccountRef string

func VaultRef(poolID amm.PoolID, asset amm.AssetID) AccountRef {
	return AccountRef(fmt.Sprintf("vault/%s/%s", poolID, asset))
}

func TraderRef(actor uuid.UUID) AccountRef {
	return AccountRef("trader/" + actor.String())
}

// Instruction is one atomic balance movement or declaration. Amounts are
// always positive; direction is carried by From/To.
type Instruction struct {
	ID     uuid.UUID   `json:"id"`
	Kind   Kind        `json:"kind"`
	Asset  amm.AssetID `json:"asset"`
	From   AccountRef  `json:"from,omitempty"`
	To     AccountRef  `json:"to,omitempty"`
	Amount uint64      `json:"amount,omitempty"`
}

// Batch is the full set of instructions produced by one applied operation.
// A batch is applied atomically or not at all.
type Batch struct {
	OperationKey uuid.UUID     `json:"operation_key"`
	PoolID       amm.PoolID    `json:"pool_id"`
	Instructions []Instruction `json:"instructions"`
}

// Add appends an instruction with a fresh ID.
func (b *Batch) Add(kind Kind, asset amm.AssetID, from, to AccountRef, amount uint64) {
	b.Instructions = append(b.Instructions, Instruction{
		ID:     uuid.New(),
		Kind:   kind,
		Asset:  asset,
		From:   from,
		To:     to,
		Amount: amount,
	})
}

// Validate checks structural well-formedness. It does not consult balances;
// that is the vault book's job.
func (b *Batch) Validate() error {
	if len(b.Instructions) == 0 {
		return amm.ErrInvalidAmount.Wrap("empty instruction batch")
	}
	for i, ins := range b.Instructions {
		if ins.Asset == "" {
			return amm.ErrInvalidAmount.Wrapf("instruction %d: empty asset", i)
		}
		switch ins.Kind {
		case KindOpenVault, KindCreateAsset:
			if ins.Amount != 0 {
				return amm.ErrInvalidAmount.Wrapf("instruction %d: %s carries amount %d", i, ins.Kind, ins.Amount)
			}
		case KindTransfer:
			if ins.From == "" || ins.To == "" {
				return amm.ErrInvalidAmount.Wrapf("instruction %d: transfer missing endpoint", i)
			}
			if ins.From == ins.To {
				return amm.ErrInvalidAmount.Wrapf("instruction %d: self transfer", i)
			}
			if ins.Amount == 0 {
				return amm.ErrInvalidAmount.Wrapf("instruction %d: zero transfer", i)
			}
		case KindMint:
			if ins.To == "" || ins.Amount == 0 {
				return amm.ErrInvalidAmount.Wrapf("instruction %d: malformed mint", i)
			}
		case KindBurn:
			if ins.From == "" || ins.Amount == 0 {
				return amm.ErrInvalidAmount.Wrapf("instruction %d: malformed burn", i)
			}
		default:
			return amm.ErrInvalidAmount.Wrapf("instruction %d: unknown kind %q", i, ins.Kind)
		}
	}
	return nil
}
