package store

import (
	"context"
	"sync"

	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/ports"
)

// MemoryStore is an in-memory implementation of the CredentialStore
// interface, used in tests and single-process deployments.
type MemoryStore struct {
	records     map[string]core.AuthRecord
	subscribers map[int]chan ports.ChangeEvent
	nextSub     int
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory credential store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]core.AuthRecord),
		subscribers: make(map[int]chan ports.ChangeEvent),
	}
}

// Load returns the stored record for subject, or nil when absent
func (s *MemoryStore) Load(ctx context.Context, subject string) (*core.AuthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[subject]
	if !exists {
		return nil, nil
	}

	snapshot := record
	return &snapshot, nil
}

// Save shallow-merges update into the existing record and notifies subscribers
func (s *MemoryStore) Save(ctx context.Context, subject string, update core.AuthRecord) error {
	s.mu.Lock()
	existing := s.records[subject]
	s.records[subject] = existing.Merge(update)
	s.mu.Unlock()

	s.notify(subject)
	return nil
}

// Clear removes the record and notifies subscribers
func (s *MemoryStore) Clear(ctx context.Context, subject string) error {
	s.mu.Lock()
	delete(s.records, subject)
	s.mu.Unlock()

	s.notify(subject)
	return nil
}

// Subscribe returns a channel of change notifications. The channel is
// closed when ctx is done.
func (s *MemoryStore) Subscribe(ctx context.Context) (<-chan ports.ChangeEvent, error) {
	ch := make(chan ports.ChangeEvent, 16)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()

		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()

		close(ch)
	}()

	return ch, nil
}

// notify fans the change out to all subscribers. Slow subscribers with a
// full buffer are skipped; they re-read the store on the next event anyway.
func (s *MemoryStore) notify(subject string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- ports.ChangeEvent{Subject: subject}:
		default:
		}
	}
}
