package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned by API calls on a closing or closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotSubscribed is returned by Unsubscribe when the topic is absent
	// or already inactive.
	ErrNotSubscribed = errors.New("not subscribed")

	// errStaleConnection marks a transport that is no longer current:
	// either it went silent past the staleness threshold or it was replaced
	// by a reconnect before a pending send went out. Internal; never
	// surfaced to callers.
	errStaleConnection = errors.New("stale connection: no inbound traffic")
)

// ConnectionError is the fatal error surfaced once the bounded retry budget
// is exhausted.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SubscriptionRejected reports a venue nack for a subscribe request. The
// registry entry stays desired-active so the next reconnect retries it; the
// caller is notified so it can decide to unsubscribe instead.
type SubscriptionRejected struct {
	Topic  string
	Reason string
}

func (e *SubscriptionRejected) Error() string {
	return fmt.Sprintf("subscription rejected for topic %q: %s", e.Topic, e.Reason)
}
