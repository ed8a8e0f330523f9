package session

import (
	"context"
	"log"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a mutex-guarded map. Expiry is enforced
// lazily on Get and by the background janitor; both paths are safe to
// race.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(s.ExpiresAt) {
		delete(m.sessions, id)
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) Upsert(_ context.Context, id string, stateOverride *State, patch *DataPatch) (*Session, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok && now.After(s.ExpiresAt) {
		// An expired record never contributes state to the new one.
		ok = false
	}
	if !ok {
		s = &Session{ID: id, State: StateWaiting, CreatedAt: now}
		m.sessions[id] = s
	}
	if stateOverride != nil {
		s.State = NormalizeState(*stateOverride)
	}
	s.Data.Apply(patch)
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(m.ttl)
	return clone(s), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), nil
}

// StartJanitor sweeps expired sessions on a recurring timer until ctx is
// done.
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, _ := m.SweepExpired(ctx); n > 0 {
					log.Printf("session janitor: swept %d expired sessions", n)
				}
			}
		}
	}()
}

func clone(s *Session) *Session {
	c := *s
	c.Data = s.Data.clone()
	return &c
}
