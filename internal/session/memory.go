package session

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore creates a store purging expired sessions every cleanup
// interval.
func NewMemoryStore(cleanup time.Duration) *MemoryStore {
	return &MemoryStore{cache: cache.New(cache.NoExpiration, cleanup)}
}

func (m *MemoryStore) Create(_ context.Context, s Session) error {
	d := ttl(s, time.Now())
	if d <= 0 {
		return errors.New("session already expired")
	}
	m.cache.Set(s.ID, s, d)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	return v.(Session), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}
