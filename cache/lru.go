package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUStorage is an access-ordered alternative to MemoryStorage, backed by
// hashicorp/golang-lru. At capacity it evicts the least recently used
// entry rather than the oldest inserted one, which suits read-heavy
// workloads where hot keys should survive churn.
type LRUStorage struct {
	cache *lru.Cache[string, Entry]
}

// NewLRUStorage creates an LRUStorage holding at most size entries.
func NewLRUStorage(size int) (*LRUStorage, error) {
	c, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, err
	}
	return &LRUStorage{cache: c}, nil
}

// Get implements Storage. A hit promotes the key to most recently used.
func (s *LRUStorage) Get(_ context.Context, key string) (Entry, bool, error) {
	entry, ok := s.cache.Get(key)
	return entry, ok, nil
}

// Set implements Storage.
func (s *LRUStorage) Set(_ context.Context, key string, entry Entry) error {
	s.cache.Add(key, entry)
	return nil
}

// Delete implements Storage.
func (s *LRUStorage) Delete(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

// Clear implements Storage.
func (s *LRUStorage) Clear(_ context.Context) error {
	s.cache.Purge()
	return nil
}

// Keys implements Storage. Keys come back from least to most recently
// used.
func (s *LRUStorage) Keys(_ context.Context) ([]string, error) {
	return s.cache.Keys(), nil
}

// Len implements Storage.
func (s *LRUStorage) Len(_ context.Context) (int, error) {
	return s.cache.Len(), nil
}
