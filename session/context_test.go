package session

import (
	"context"
	"errors"
	"testing"
)

func TestFromContext(t *testing.T) {
	if _, err := FromContext(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("bare context: got %v, want ErrNoSession", err)
	}

	s := New("alice", nil)
	ctx := WithSession(context.Background(), s)
	got, err := FromContext(ctx)
	if err != nil {
		t.Fatalf("FromContext: %v", err)
	}
	if got != s {
		t.Error("FromContext returned a different session")
	}
}
