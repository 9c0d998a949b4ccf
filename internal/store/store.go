// Package store provides the shared key-value store workers use to exchange
// evaluation results. Slots are overwritten without versioning; correctness
// of concurrent access is owned by the caller's publish/barrier ordering.
package store

import (
	"context"
	"errors"
)

// ErrNoSlot is returned by Fetch when no value has been published under a key.
var ErrNoSlot = errors.New("store: no value at slot")

type Store interface {
	// Publish stores data at key, overwriting any prior value.
	Publish(ctx context.Context, key string, data []byte) error
	// Fetch returns the value at key, or ErrNoSlot if nothing was published.
	Fetch(ctx context.Context, key string) ([]byte, error)
	// Incr atomically increments the counter at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}
