// Package storage provides persistence for LearnPulse.
//
// The engine depends only on the Store interface; any key-value backend
// can sit behind it. SQLite and Redis implementations are provided, plus
// an in-memory store for tests.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/learnpulse/learnpulse/internal/core"
)

// Store is the abstract key-value persistence interface.
type Store interface {
	// Get returns the value for a key, or core.ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a value, replacing any previous value atomically.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeys returns all keys with the given prefix, sorted.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the backing resources.
	Close() error
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, core.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *MemoryStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Close() error { return nil }
