package search

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// ErrSessionNotFound distinguishes the fatal resume failure (expired or
// unknown session id) from transient faults. Callers must start a new
// session; there is no partial state left to recover.
var ErrSessionNotFound = errors.New("session not found")

// Registry maps session ids to live sessions. Sessions expire after the
// configured TTL of inactivity; resuming extends the clock.
type Registry struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		cache: cache.New(ttl, 10*time.Minute),
		ttl:   ttl,
	}
}

// Create allocates a fresh pending session.
func (r *Registry) Create(target string, items []string) *Session {
	s := NewSession(uuid.NewString(), target, items)
	r.cache.Set(s.ID(), s, cache.DefaultExpiration)
	return s
}

// Get looks a session up without touching its expiry.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	if x, found := r.cache.Get(sessionID); found {
		return x.(*Session), true
	}
	return nil, false
}

// Resume looks a session up, refreshes its activity timestamp and extends
// its expiry. An unknown id returns ErrSessionNotFound.
func (r *Registry) Resume(sessionID string) (*Session, error) {
	s, found := r.Get(sessionID)
	if !found {
		return nil, ErrSessionNotFound
	}
	s.Touch()
	r.cache.Set(s.ID(), s, cache.DefaultExpiration)
	return s, nil
}

// Delete removes a session immediately.
func (r *Registry) Delete(sessionID string) {
	r.cache.Delete(sessionID)
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	return r.cache.ItemCount()
}
