package cache

import (
	"container/list"
	"context"
	"sync"
)

// MemoryStorage is the default in-process backend. At capacity it evicts
// the oldest-inserted entry to admit a new key; updating an existing key
// keeps its insertion position.
type MemoryStorage struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List // of *memItem, oldest insertion at the front
}

type memItem struct {
	key   string
	entry Entry
}

// NewMemoryStorage creates a MemoryStorage holding at most maxSize
// entries. maxSize <= 0 means unbounded.
func NewMemoryStorage(maxSize int) *MemoryStorage {
	return &MemoryStorage{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get implements Storage.
func (s *MemoryStorage) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return el.Value.(*memItem).entry, true, nil
}

// Set implements Storage.
func (s *MemoryStorage) Set(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		el.Value.(*memItem).entry = entry
		return nil
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		oldest := s.order.Front()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*memItem).key)
		}
	}

	s.entries[key] = s.order.PushBack(&memItem{key: key, entry: entry})
	return nil
}

// Delete implements Storage.
func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.order.Remove(el)
		delete(s.entries, key)
	}
	return nil
}

// Clear implements Storage.
func (s *MemoryStorage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element)
	s.order.Init()
	return nil
}

// Keys implements Storage. Keys come back in insertion order.
func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for el := s.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*memItem).key)
	}
	return keys, nil
}

// Len implements Storage.
func (s *MemoryStorage) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}
