package backlog

import (
	"context"
	"sort"
	"sync"

	domain "github.com/example/canvas-room-server/domain/room"
)

// MemoryStore is an in-process BacklogStore. It backs the "memory" backend
// and the test suites; nothing survives a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]map[string][]byte
}

var _ domain.BacklogStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]map[string][]byte),
	}
}

// Put stores a value under the room partition.
func (s *MemoryStore) Put(_ context.Context, roomID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	partition := s.rooms[roomID]
	if partition == nil {
		partition = make(map[string][]byte)
		s.rooms[roomID] = partition
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	partition[key] = buf
	return nil
}

// Delete removes a key from the room partition. Deleting an absent key is not
// an error.
func (s *MemoryStore) Delete(_ context.Context, roomID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if partition, ok := s.rooms[roomID]; ok {
		delete(partition, key)
		if len(partition) == 0 {
			delete(s.rooms, roomID)
		}
	}
	return nil
}

// List returns the partition's entries ordered by key.
func (s *MemoryStore) List(_ context.Context, roomID string, opts domain.ListOptions) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	partition := s.rooms[roomID]
	keys := make([]string, 0, len(partition))
	for k := range partition {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if opts.Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}

	entries := make([]domain.Entry, 0, len(keys))
	for _, k := range keys {
		value := make([]byte, len(partition[k]))
		copy(value, partition[k])
		entries = append(entries, domain.Entry{Key: k, Value: value})
	}
	return entries, nil
}

// EntryCount reports the number of stored entries across all rooms.
func (s *MemoryStore) EntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, partition := range s.rooms {
		total += len(partition)
	}
	return total
}
