package engine

import (
	"container/list"
	"context"

	"github.com/google/uuid"
)

// KeyStore is the durable tier of duplicate detection. The Postgres
// implementation lives in the persistence package; tests plug in fakes.
type KeyStore interface {
	Seen(ctx context.Context, key uuid.UUID) (bool, error)
}

// IdempotencyChecker is the two-tier duplicate filter. The in-memory LRU
// answers the common case (redeliveries arrive close together); the durable
// store catches keys that aged out of the window or predate a restart.
type IdempotencyChecker struct {
	capacity int
	order    *list.List
	index    map[uuid.UUID]*list.Element
	store    KeyStore
}

// NewIdempotencyChecker builds a checker with the given LRU window. store may
// be nil, in which case only the in-memory tier is consulted.
func NewIdempotencyChecker(capacity int, store KeyStore) *IdempotencyChecker {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyChecker{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[uuid.UUID]*list.Element, capacity),
		store:    store,
	}
}

// Seen reports whether key has already been processed. A hit in either tier
// is authoritative; a store error is surfaced so the caller can redeliver
// rather than risk double-applying.
func (c *IdempotencyChecker) Seen(ctx context.Context, key uuid.UUID) (bool, error) {
	if el, ok := c.index[key]; ok {
		c.order.MoveToFront(el)
		return true, nil
	}
	if c.store == nil {
		return false, nil
	}
	return c.store.Seen(ctx, key)
}

// Mark records key as processed in the in-memory tier. Durable recording
// happens when the receipt row lands in Postgres.
func (c *IdempotencyChecker) Mark(key uuid.UUID) {
	if el, ok := c.index[key]; ok {
		c.order.MoveToFront(el)
		return
	}
	c.index[key] = c.order.PushFront(key)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(uuid.UUID))
	}
}

// Len returns the number of keys in the in-memory window.
func (c *IdempotencyChecker) Len() int {
	return c.order.Len()
}
