package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ammcore/internal/amm"
	"ammcore/internal/engine"
	"ammcore/internal/ledger"
	"ammcore/internal/pool"
)

// Snapshot is a point-in-time JSON dump of everything the engine needs to
// resume: pool records, partition cursors, and the receipt chain head. The
// durable JetStream consumer holds the stream position, so no log replay is
// needed on top of a snapshot.
type Snapshot struct {
	TakenAt     time.Time         `json:"taken_at"`
	ChainDigest string            `json:"chain_digest"`
	Cursors     map[string]uint64 `json:"cursors"`
	Pools       []PoolRecord      `json:"pools"`
}

type PoolRecord struct {
	PoolID    amm.PoolID  `json:"pool_id"`
	Seed      uint64      `json:"seed"`
	AssetX    amm.AssetID `json:"asset_x"`
	AssetY    amm.AssetID `json:"asset_y"`
	FeeBps    uint16      `json:"fee_bps"`
	LPAsset   amm.AssetID `json:"lp_asset"`
	Authority *uuid.UUID  `json:"authority,omitempty"`
	ReserveX  uint64      `json:"reserve_x"`
	ReserveY  uint64      `json:"reserve_y"`
	LPSupply  uint64      `json:"lp_supply"`
	Locked    bool        `json:"locked"`
	Version   int64       `json:"version"`
}

// Snapshotter writes snapshots atomically (temp file plus rename) and loads
// the most recent one on startup.
type Snapshotter struct {
	dir string
	log zerolog.Logger
}

func NewSnapshotter(dir string, log zerolog.Logger) *Snapshotter {
	return &Snapshotter{dir: dir, log: log.With().Str("component", "snapshot").Logger()}
}

// Capture builds a snapshot from the engine's current state. Must run on the
// engine goroutine, between operations.
func Capture(eng *engine.Engine, now time.Time) Snapshot {
	snap := Snapshot{
		TakenAt:     now,
		ChainDigest: eng.ChainDigest(),
		Cursors:     eng.Sequences().Cursors(),
	}
	for _, p := range eng.Registry().All() {
		snap.Pools = append(snap.Pools, PoolRecord{
			PoolID:    p.ID,
			Seed:      p.Config.Seed,
			AssetX:    p.Config.AssetX,
			AssetY:    p.Config.AssetY,
			FeeBps:    p.Config.FeeBps,
			LPAsset:   p.Config.LPAsset,
			Authority: p.Config.Authority,
			ReserveX:  p.ReserveX,
			ReserveY:  p.ReserveY,
			LPSupply:  p.LPSupply,
			Locked:    p.Locked(),
			Version:   p.Version,
		})
	}
	return snap
}

// Restore loads snap into a fresh engine: registry, vault mirror, cursors,
// and chain head.
func Restore(eng *engine.Engine, snap Snapshot) error {
	if err := eng.RestoreChain(snap.ChainDigest); err != nil {
		return err
	}
	eng.Sequences().Restore(snap.Cursors)
	for _, rec := range snap.Pools {
		p := pool.Restore(rec.PoolID, pool.Config{
			Seed:      rec.Seed,
			AssetX:    rec.AssetX,
			AssetY:    rec.AssetY,
			FeeBps:    rec.FeeBps,
			LPAsset:   rec.LPAsset,
			Authority: rec.Authority,
		}, rec.ReserveX, rec.ReserveY, rec.LPSupply, rec.Locked, rec.Version)
		eng.Registry().Put(p)

		eng.Book().SetBalance(ledger.VaultRef(rec.PoolID, rec.AssetX), rec.AssetX, rec.ReserveX)
		eng.Book().SetBalance(ledger.VaultRef(rec.PoolID, rec.AssetY), rec.AssetY, rec.ReserveY)
	}
	return nil
}

// Write persists snap under a timestamped name. The fsync-then-rename dance
// keeps a crash mid-write from corrupting the latest good snapshot.
func (s *Snapshotter) Write(snap Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("snapshot-%d.json", snap.TakenAt.UnixNano())
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	s.log.Info().Str("file", name).Int("pools", len(snap.Pools)).Msg("snapshot written")
	return nil
}

// LoadLatest returns the newest snapshot in the directory, or (nil, nil) when
// none exists yet.
func (s *Snapshotter) LoadLatest() (*Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)
	latest := names[len(names)-1]

	body, err := os.ReadFile(filepath.Join(s.dir, latest))
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", latest, err)
	}

	s.log.Info().Str("file", latest).Int("pools", len(snap.Pools)).Msg("snapshot loaded")
	return &snap, nil
}
