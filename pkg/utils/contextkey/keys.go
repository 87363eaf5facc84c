// Package contextkey defines the typed keys request metadata travels under
// in a context.Context. Using a private key type keeps these values from
// colliding with plain string keys set elsewhere.
package contextkey

type key string

// Keys stamped by the HTTP middleware and read back by the logger.
const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	UserID    key = "user_id"
)
