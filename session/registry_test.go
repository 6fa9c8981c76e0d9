package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/credentials"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(maxSessions int, ttl time.Duration) (*Registry, *time.Time) {
	store := credentials.Static{
		"alice": {"tracker": "tok_alice"},
		"bob":   {"tracker": "tok_bob"},
	}
	r := NewRegistry(store, maxSessions, ttl, quietLogger())
	// Drive the clock by hand so expiry tests never sleep.
	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	return r, &clock
}

func TestGetOrCreateSingleSessionPerOwner(t *testing.T) {
	r, _ := testRegistry(10, 30*time.Minute)

	first, err := r.GetOrCreate("alice")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := r.GetOrCreate("alice")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first != second {
		t.Error("same owner received two live sessions")
	}
	if first.SessionID == "" || first.ConversationID == "" {
		t.Error("session ids not populated")
	}

	other, err := r.GetOrCreate("bob")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if other == first {
		t.Error("different owners share a session")
	}
}

func TestGetOrCreateAnonymousAlwaysFresh(t *testing.T) {
	r, _ := testRegistry(10, 30*time.Minute)

	a, err := r.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, err := r.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a == b {
		t.Error("anonymous sessions must not be deduplicated")
	}
	// Anonymous sessions remain reachable by id.
	if got, ok := r.Lookup(a.SessionID); !ok || got != a {
		t.Error("anonymous session not addressable by session id")
	}
}

func TestSessionExpiry(t *testing.T) {
	r, clock := testRegistry(10, 30*time.Minute)

	s, err := r.GetOrCreate("alice")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	oldID := s.SessionID

	// Just inside the window: still the same session.
	*clock = clock.Add(29 * time.Minute)
	same, _ := r.GetOrCreate("alice")
	if same.SessionID != oldID {
		t.Fatal("session expired before its window elapsed")
	}

	// The access above reset the timer; idle past the window now.
	*clock = clock.Add(31 * time.Minute)
	if _, ok := r.Lookup(oldID); ok {
		t.Error("expired session still reachable by Lookup")
	}
	fresh, err := r.GetOrCreate("alice")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if fresh.SessionID == oldID {
		t.Error("expired session was resurrected instead of replaced")
	}
	if fresh.ConversationID == same.ConversationID {
		t.Error("replacement session reuses the old conversation identity")
	}
}

func TestConversationIDStableAcrossAccesses(t *testing.T) {
	r, clock := testRegistry(10, 30*time.Minute)

	s, _ := r.GetOrCreate("alice")
	want := s.ConversationID
	for i := 0; i < 5; i++ {
		*clock = clock.Add(10 * time.Minute)
		again, _ := r.GetOrCreate("alice")
		if again.ConversationID != want {
			t.Fatalf("conversation id changed on access %d", i)
		}
	}
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	r, clock := testRegistry(3, time.Hour)

	owners := []string{"a", "b", "c"}
	for _, o := range owners {
		if _, err := r.GetOrCreate(o); err != nil {
			t.Fatalf("GetOrCreate(%s): %v", o, err)
		}
		*clock = clock.Add(time.Minute)
	}

	// Touch "a" so "b" becomes the least recently used.
	if _, err := r.GetOrCreate("a"); err != nil {
		t.Fatal(err)
	}
	*clock = clock.Add(time.Minute)

	if _, err := r.GetOrCreate("d"); err != nil {
		t.Fatalf("GetOrCreate at capacity: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("registry holds %d sessions, want 3", r.Len())
	}

	// "b" was evicted; a new session is minted for it on return.
	sb, err := r.GetOrCreate("b")
	if err != nil {
		t.Fatal(err)
	}
	if len(sb.History()) != 0 {
		t.Error("evicted owner got a session with residual history")
	}
}

func TestEvictionSkipsPinnedSessions(t *testing.T) {
	r, clock := testRegistry(2, time.Hour)

	busy, _ := r.GetOrCreate("busy")
	if err := busy.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer busy.Release()
	*clock = clock.Add(time.Minute)
	idle, _ := r.GetOrCreate("idle")
	*clock = clock.Add(time.Minute)

	// "busy" is older, but pinned; "idle" must be the one to go.
	if _, err := r.GetOrCreate("new"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, ok := r.Lookup(busy.SessionID); !ok {
		t.Error("pinned session was evicted")
	}
	if _, ok := r.Lookup(idle.SessionID); ok {
		t.Error("idle session survived although capacity required eviction")
	}
}

func TestRegistryFullWhenAllPinned(t *testing.T) {
	r, _ := testRegistry(2, time.Hour)

	for _, o := range []string{"a", "b"} {
		s, _ := r.GetOrCreate(o)
		if err := s.Acquire(); err != nil {
			t.Fatal(err)
		}
		defer s.Release()
	}
	if _, err := r.GetOrCreate("c"); !errors.Is(err, ErrRegistryFull) {
		t.Errorf("expected ErrRegistryFull, got %v", err)
	}
}

func TestSweepRemovesOnlyExpiredUnpinned(t *testing.T) {
	r, clock := testRegistry(10, 30*time.Minute)

	expired, _ := r.GetOrCreate("expired")
	pinnedExpired, _ := r.GetOrCreate("pinned")
	if err := pinnedExpired.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer pinnedExpired.Release()

	*clock = clock.Add(31 * time.Minute)
	live, _ := r.GetOrCreate("live")

	if removed := r.Sweep(); removed != 1 {
		t.Errorf("sweep removed %d sessions, want 1", removed)
	}
	if _, ok := r.Lookup(expired.SessionID); ok {
		t.Error("expired session survived the sweep")
	}
	if _, ok := r.Lookup(pinnedExpired.SessionID); !ok {
		t.Error("pinned session was swept mid-flight")
	}
	if _, ok := r.Lookup(live.SessionID); !ok {
		t.Error("live session was swept")
	}
}

func TestSessionIsolation(t *testing.T) {
	r, _ := testRegistry(10, time.Hour)

	alice, _ := r.GetOrCreate("alice")
	bob, _ := r.GetOrCreate("bob")

	// Concurrent simulated requests appending to their own sessions.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				alice.Append(conversation.UserText(fmt.Sprintf("alice %d", i)))
			} else {
				bob.Append(conversation.UserText(fmt.Sprintf("bob %d", i)))
			}
		}(i)
	}
	wg.Wait()

	for _, turn := range alice.History() {
		if text := turn.Text(); len(text) < 5 || text[:5] != "alice" {
			t.Errorf("alice's history contains foreign turn %q", text)
		}
	}
	for _, turn := range bob.History() {
		if text := turn.Text(); len(text) < 3 || text[:3] != "bob" {
			t.Errorf("bob's history contains foreign turn %q", text)
		}
	}

	if tok, _ := alice.Credential("tracker"); tok != "tok_alice" {
		t.Errorf("alice credential = %q", tok)
	}
	if tok, _ := bob.Credential("tracker"); tok != "tok_bob" {
		t.Errorf("bob credential = %q", tok)
	}
}

func TestAcquireSerializesRequests(t *testing.T) {
	s := New("alice", nil)
	if err := s.Acquire(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := s.Acquire(); !errors.Is(err, ErrBusy) {
		t.Errorf("second acquire = %v, want ErrBusy", err)
	}
	s.Release()
	if err := s.Acquire(); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestCachedClientMemoizes(t *testing.T) {
	s := New("alice", nil)
	builds := 0
	build := func() any { builds++; return &builds }

	first := s.CachedClient("tracker", build)
	second := s.CachedClient("tracker", build)
	if first != second {
		t.Error("cached client rebuilt on second access")
	}
	if builds != 1 {
		t.Errorf("build ran %d times, want 1", builds)
	}
}
