package pool

import (
	"sort"

	"ammcore/internal/amm"
)

// Registry holds every pool the engine knows about, keyed by derived pool ID.
// The engine is single-threaded, so no locking here.
type Registry struct {
	pools map[amm.PoolID]*Pool
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[amm.PoolID]*Pool)}
}

// Create derives the pool identity from (seed, assetX, assetY) and registers a
// fresh pool. The derivation makes the triple the uniqueness key: the same
// triple always lands on the same ID and is rejected as a duplicate.
func (r *Registry) Create(cfg Config) (*Pool, error) {
	id := amm.DerivePoolID(cfg.Seed, cfg.AssetX, cfg.AssetY)
	if _, ok := r.pools[id]; ok {
		return nil, amm.ErrAlreadyInitialized.Wrapf("pool %s", id)
	}

	p, err := NewPool(id, cfg)
	if err != nil {
		return nil, err
	}
	r.pools[id] = p
	return p, nil
}

// Get returns the pool for id.
func (r *Registry) Get(id amm.PoolID) (*Pool, error) {
	p, ok := r.pools[id]
	if !ok {
		return nil, amm.ErrPoolNotFound.Wrapf("pool %s", id)
	}
	return p, nil
}

// Put registers a restored pool record, replacing any existing entry. Snapshot
// recovery path.
func (r *Registry) Put(p *Pool) {
	r.pools[p.ID] = p
}

// Len returns the number of registered pools.
func (r *Registry) Len() int {
	return len(r.pools)
}

// All returns every pool ordered by ID. The ordering keeps state hashing and
// snapshots deterministic.
func (r *Registry) All() []*Pool {
	out := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].ID[:]) < string(out[j].ID[:])
	})
	return out
}
