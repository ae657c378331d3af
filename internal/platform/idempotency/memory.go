package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps reservations in process memory. It backs the memory storage driver and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)

// NewMemoryStore constructs an empty memory-backed idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, pendingTTL time.Duration) (Reservation, error) {
	now = now.UTC()
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok || record.expired(now) {
		owner := uuid.NewString()
		record = pendingRecord(key, fingerprint, owner, now, pendingTTL)
		s.records[id] = record
		return Reservation{State: ReservationStateNew, Owner: owner, Record: record}, nil
	}
	return classify(record, fingerprint)
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, owner string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok || record.Owner != owner {
		return ErrNotOwner
	}
	s.records[id] = completeRecord(record, resp, now, ttl)
	return nil
}

// Release drops a pending reservation held by owner so the client can retry.
func (s *MemoryStore) Release(_ context.Context, key, owner string) error {
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[id]; ok && record.Owner == owner && record.Status == StatusPending {
		delete(s.records, id)
	}
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if record.expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
