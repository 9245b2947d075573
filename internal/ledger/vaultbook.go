package ledger

import (
	"ammcore/internal/amm"
	fpmath "ammcore/internal/math"
)

// VaultBook mirrors vault balances by replaying instruction batches. It is
// the engine's cross-check: after every applied operation the vault balances
// must equal the pool's reserves, or the batch compiler has a bug.
//
// Trader balances are not tracked; custody of trader funds lives outside
// this system. Only vault-side legs of a transfer touch the book.
type VaultBook struct {
	balances map[AccountRef]uint64
	vaults   map[AccountRef]amm.AssetID
}

func NewVaultBook() *VaultBook {
	return &VaultBook{
		balances: make(map[AccountRef]uint64),
		vaults:   make(map[AccountRef]amm.AssetID),
	}
}

// Apply replays one batch against the book. On error the book is unchanged;
// mutations are staged and committed only after every instruction checks out.
func (v *VaultBook) Apply(b *Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}

	staged := make(map[AccountRef]uint64)
	read := func(ref AccountRef) uint64 {
		if val, ok := staged[ref]; ok {
			return val
		}
		return v.balances[ref]
	}
	newVaults := make(map[AccountRef]amm.AssetID)

	for i, ins := range b.Instructions {
		switch ins.Kind {
		case KindOpenVault:
			if _, ok := v.vaults[ins.To]; ok {
				return amm.ErrAlreadyInitialized.Wrapf("instruction %d: vault %s", i, ins.To)
			}
			if _, ok := newVaults[ins.To]; ok {
				return amm.ErrAlreadyInitialized.Wrapf("instruction %d: vault %s", i, ins.To)
			}
			newVaults[ins.To] = ins.Asset

		case KindCreateAsset:
			// Share-token declaration, no balance effect.

		case KindTransfer:
			if from, isVault := v.vaultAsset(ins.From, newVaults); isVault {
				if from != ins.Asset {
					return amm.ErrInvariantViolation.Wrapf("instruction %d: vault %s holds %s, not %s",
						i, ins.From, from, ins.Asset)
				}
				bal := read(ins.From)
				if ins.Amount > bal {
					return amm.ErrInsufficientLiquidity.Wrapf("instruction %d: vault %s has %d, needs %d",
						i, ins.From, bal, ins.Amount)
				}
				staged[ins.From] = bal - ins.Amount
			}
			if to, isVault := v.vaultAsset(ins.To, newVaults); isVault {
				if to != ins.Asset {
					return amm.ErrInvariantViolation.Wrapf("instruction %d: vault %s holds %s, not %s",
						i, ins.To, to, ins.Asset)
				}
				sum, err := fpmath.CheckedAdd(read(ins.To), ins.Amount)
				if err != nil {
					return err
				}
				staged[ins.To] = sum
			}

		case KindMint, KindBurn:
			// Share supply is tracked by the pool record, not the book.
		}
	}

	for ref, asset := range newVaults {
		v.vaults[ref] = asset
	}
	for ref, bal := range staged {
		v.balances[ref] = bal
	}
	return nil
}

func (v *VaultBook) vaultAsset(ref AccountRef, pending map[AccountRef]amm.AssetID) (amm.AssetID, bool) {
	if asset, ok := v.vaults[ref]; ok {
		return asset, true
	}
	asset, ok := pending[ref]
	return asset, ok
}

// Balance returns the tracked balance of a vault account.
func (v *VaultBook) Balance(ref AccountRef) uint64 {
	return v.balances[ref]
}

// SetBalance force-sets a vault balance. Snapshot recovery path.
func (v *VaultBook) SetBalance(ref AccountRef, asset amm.AssetID, balance uint64) {
	v.vaults[ref] = asset
	v.balances[ref] = balance
}

// Vaults returns a copy of the vault directory.
func (v *VaultBook) Vaults() map[AccountRef]amm.AssetID {
	out := make(map[AccountRef]amm.AssetID, len(v.vaults))
	for ref, asset := range v.vaults {
		out[ref] = asset
	}
	return out
}
