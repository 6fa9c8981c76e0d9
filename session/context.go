package session

import (
	"context"
	"errors"
)

// ErrNoSession is returned by FromContext when no session scope is active.
// Reaching for the current session outside a request scope is a programming
// error and fails immediately rather than degrading into shared state.
var ErrNoSession = errors.New("no active session in context")

// sessionContextKey is unexported so only this package can install a
// session into a context.
type sessionContextKey struct{}

// WithSession returns a context carrying the session. The loop controller
// installs it for the duration of one request; nested work (tool
// executions, collaborator clients) retrieves it with FromContext instead
// of having the session threaded through every call.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext returns the session installed in ctx, or ErrNoSession if the
// caller is running outside a session scope.
func FromContext(ctx context.Context) (*Session, error) {
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}
