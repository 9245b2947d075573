package amm

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// MaxFeeBps is the exclusive upper bound on a pool's trading fee. 10_000 bps
// would be a 100% fee, which swallows the entire input.
const MaxFeeBps uint16 = 10_000

// AssetID identifies a fungible asset type held by the Asset Ledger.
// Opaque to the engine; only equality matters.
type AssetID string

// Valid reports whether the identifier is usable as a pool asset.
func (a AssetID) Valid() bool {
	return a != ""
}

// PoolID is the deterministic identity of a pool, derived from the creation
// triple (seed, assetX, assetY). Re-creating with the same triple yields the
// same identity, which the registry rejects.
type PoolID [32]byte

// DerivePoolID hashes the creation triple into a pool identity.
// The ordered pair matters: (seed, X, Y) and (seed, Y, X) are distinct pools.
func DerivePoolID(seed uint64, assetX, assetY AssetID) PoolID {
	h := sha256.New()

	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], seed)
	h.Write(seedBuf[:])

	h.Write([]byte{byte(len(assetX))})
	h.Write([]byte(assetX))
	h.Write([]byte(assetY))

	var id PoolID
	copy(id[:], h.Sum(nil))
	return id
}

func (id PoolID) String() string {
	return hex.EncodeToString(id[:])
}

// ParsePoolID decodes the hex form produced by String.
func ParsePoolID(s string) (PoolID, error) {
	var id PoolID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse pool id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("parse pool id: want %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// MarshalText renders the hex form, so the ID travels as a string in JSON.
func (id PoolID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PoolID) UnmarshalText(text []byte) error {
	parsed, err := ParsePoolID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// LPAssetID returns the identifier of the liquidity-share asset minted and
// burned by the pool with this identity. One per pool, distinct from the
// pooled assets by construction.
func (id PoolID) LPAssetID() AssetID {
	return AssetID("lp/" + id.String())
}

// SwapDirection selects which reserve receives the swap input.
type SwapDirection int32

const (
	SwapXToY SwapDirection = iota
	SwapYToX
)

func (d SwapDirection) String() string {
	switch d {
	case SwapXToY:
		return "x_to_y"
	case SwapYToX:
		return "y_to_x"
	default:
		return "unknown"
	}
}
