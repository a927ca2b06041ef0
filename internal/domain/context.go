package domain

import "context"

// sessionKey is the context key for the session id. An unexported struct
// type cannot collide with keys defined by other packages.
type sessionKey struct{}

// ContextWithSessionID tags ctx with the session's ULID so events and spans
// published deep in the call stack can be attributed to their run.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionIDFromContext returns the session id carried by ctx, or "" when the
// call is not part of a session.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
