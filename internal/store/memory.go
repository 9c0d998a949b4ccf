package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryStore is an in-process Store with the same slot semantics as Redis:
// one keyspace shared by values and counters, counters readable as decimal
// strings. Used for single-worker runs and for tests that drive a whole
// worker group inside one process.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: map[string][]byte{}}
}

func (s *MemoryStore) Publish(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.slots[key] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.slots[key]
	if !ok {
		return nil, ErrNoSlot
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if data, ok := s.slots[key]; ok {
		parsed, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer: %w", key, err)
		}
		n = parsed
	}
	n++
	s.slots[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}
