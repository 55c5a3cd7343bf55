package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"nfrag/internal/domain"
)

// MemoryStore keeps sessions in a bounded LRU cache with a time-to-live.
// Capacity 0 means unbounded, ttl 0 means sessions never expire.
type MemoryStore struct {
	cache *expirable.LRU[string, *Session]
}

func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: expirable.NewLRU[string, *Session](capacity, nil, ttl)}
}

// Get returns a copy; changes are visible to others only after Put.
func (m *MemoryStore) Get(_ context.Context, clientID string) (*Session, error) {
	s, ok := m.cache.Get(clientID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	m.cache.Add(s.ClientID, s.clone())
	return nil
}

func (m *MemoryStore) Len(context.Context) (int, error) {
	return m.cache.Len(), nil
}
