package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/credentials"
)

// ErrBusy is returned by Acquire when a request is already running against
// the session. Loops are strictly sequential per session; concurrent
// requests for the same owner fail fast instead of interleaving.
var ErrBusy = errors.New("session is busy with another request")

// Session is the isolated per-owner unit of conversation state. It owns its
// conversation identity, its credential set, and its cached collaborator
// clients; nothing in it is shared with another session. All state lives in
// process memory only.
type Session struct {
	SessionID string
	// ConversationID is the stable identity handed to providers so that
	// their prompt caches key on the same conversation across calls. It
	// never changes for the lifetime of the session.
	ConversationID string
	OwnerID        string
	CreatedAt      time.Time

	mu         sync.Mutex
	turns      []conversation.Turn
	creds      credentials.Set
	lastAccess time.Time
	pinned     bool
	clients    map[string]any
}

// New creates an empty session for the given owner with its credential set.
func New(ownerID string, creds credentials.Set) *Session {
	now := time.Now()
	return &Session{
		SessionID:      uuid.NewString(),
		ConversationID: uuid.NewString(),
		OwnerID:        ownerID,
		CreatedAt:      now,
		creds:          creds,
		lastAccess:     now,
	}
}

// History returns a deep-enough copy of the conversation so far. Callers
// may hold or serialize it without observing later mutation.
func (s *Session) History() []conversation.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conversation.CloneTurns(s.turns)
}

// Append adds turns to the conversation history.
func (s *Session) Append(turns ...conversation.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
}

// ReplaceHistory swaps the conversation history wholesale. Used when a
// stateless client supplies the history it wants the next request judged
// against.
func (s *Session) ReplaceHistory(turns []conversation.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = conversation.CloneTurns(turns)
}

// Tail returns the final turn of the history, if any.
func (s *Session) Tail() (conversation.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) == 0 {
		return conversation.Turn{}, false
	}
	return s.turns[len(s.turns)-1].Clone(), true
}

// Credential returns the secret for a service from the session's credential
// set.
func (s *Session) Credential(service string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.creds.Get(service)
	return v, ok
}

// UpdateCredentials replaces the session's credential set.
func (s *Session) UpdateCredentials(creds credentials.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
}

// Acquire pins the session for the duration of one request, serializing
// loop passes and shielding the session from sweep and eviction. Callers
// must Release when done.
func (s *Session) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned {
		return ErrBusy
	}
	s.pinned = true
	return nil
}

// Release unpins the session.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = false
}

// Pinned reports whether a request currently holds the session.
func (s *Session) Pinned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

// LastAccess returns the time of the most recent access.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// touch refreshes the inactivity timer.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = now
}

// CachedClient returns the memoized per-session client registered under
// name, building it on first use. Sessions cache collaborator clients (for
// example the tracker client bound to this owner's token) so that repeated
// tool calls do not rebuild them and no client ever crosses sessions.
func (s *Session) CachedClient(name string, build func() any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients == nil {
		s.clients = make(map[string]any)
	}
	if c, ok := s.clients[name]; ok {
		return c
	}
	c := build()
	s.clients[name] = c
	return c
}
