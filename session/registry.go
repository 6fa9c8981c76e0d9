package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loopworks/valet/credentials"
)

// ErrRegistryFull is returned when the registry is at capacity and every
// session is pinned by an in-flight request, so nothing can be evicted.
var ErrRegistryFull = errors.New("session registry is at capacity")

// Registry creates, looks up, expires, and evicts sessions. It is the only
// owner of session lifecycle: a session unreachable through the registry is
// gone. All sessions live in process memory.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session // by session id
	byOwner  map[string]string   // owner id -> session id

	creds       credentials.Store
	maxSessions int
	ttl         time.Duration
	logger      *slog.Logger

	// now is swapped out by tests to drive expiry without sleeping.
	now func() time.Time
}

// NewRegistry builds a registry backed by the given credential store.
// Sessions idle longer than ttl expire; at maxSessions capacity the
// least-recently-used unpinned session is evicted to admit a new one.
func NewRegistry(creds credentials.Store, maxSessions int, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		byOwner:     make(map[string]string),
		creds:       creds,
		maxSessions: maxSessions,
		ttl:         ttl,
		logger:      logger.With("component", "session-registry"),
		now:         time.Now,
	}
}

// GetOrCreate returns the live session for the owner, creating one if none
// exists. An owner has at most one live session. An empty ownerID always
// creates a fresh anonymous session, addressable afterwards only by its
// session id. Every call refreshes the returned session's inactivity timer.
func (r *Registry) GetOrCreate(ownerID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if ownerID != "" {
		if sid, ok := r.byOwner[ownerID]; ok {
			if s, ok := r.sessions[sid]; ok {
				if !r.expired(s, now) || s.Pinned() {
					s.touch(now)
					return s, nil
				}
				r.removeLocked(s, "expired")
			}
		}
	}

	if err := r.makeRoomLocked(); err != nil {
		return nil, err
	}

	s := New(ownerID, r.credsFor(ownerID))
	s.touch(now)
	r.sessions[s.SessionID] = s
	if ownerID != "" {
		r.byOwner[ownerID] = s.SessionID
	}
	r.logger.Info("session created",
		"session_id", s.SessionID,
		"owner", ownerID,
		"sessions", len(r.sessions))
	return s, nil
}

// Lookup returns the live session with the given id, refreshing its
// inactivity timer. Expired sessions are removed and reported as absent.
func (r *Registry) Lookup(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	now := r.now()
	if r.expired(s, now) && !s.Pinned() {
		r.removeLocked(s, "expired")
		return nil, false
	}
	s.touch(now)
	return s, true
}

// Len reports the number of live sessions, expired or not yet swept
// included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes every expired session that is not pinned by an in-flight
// request and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for _, s := range r.sessions {
		if r.expired(s, now) && !s.Pinned() {
			r.removeLocked(s, "swept")
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("sweep removed expired sessions", "removed", removed, "remaining", len(r.sessions))
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled. Expiry
// runs independently of request handling; pinned sessions are never
// reclaimed mid-loop.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

func (r *Registry) expired(s *Session, now time.Time) bool {
	return r.ttl > 0 && now.Sub(s.LastAccess()) > r.ttl
}

// makeRoomLocked ensures capacity for one more session, evicting the
// least-recently-used unpinned session if necessary.
func (r *Registry) makeRoomLocked() error {
	if r.maxSessions <= 0 || len(r.sessions) < r.maxSessions {
		return nil
	}
	var lru *Session
	for _, s := range r.sessions {
		if s.Pinned() {
			continue
		}
		if lru == nil || s.LastAccess().Before(lru.LastAccess()) {
			lru = s
		}
	}
	if lru == nil {
		return ErrRegistryFull
	}
	r.removeLocked(lru, "evicted")
	return nil
}

func (r *Registry) removeLocked(s *Session, reason string) {
	delete(r.sessions, s.SessionID)
	if s.OwnerID != "" && r.byOwner[s.OwnerID] == s.SessionID {
		delete(r.byOwner, s.OwnerID)
	}
	r.logger.Info("session removed",
		"session_id", s.SessionID,
		"owner", s.OwnerID,
		"reason", reason)
}

func (r *Registry) credsFor(ownerID string) credentials.Set {
	if r.creds == nil {
		return nil
	}
	return r.creds.For(ownerID)
}
