package realtime

import (
	"context"
	"time"
)

// Conn is the minimal interface a socket transport must satisfy. Reads happen
// on a single goroutine; writes are serialised by the Manager.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens an authenticated Conn.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// TokenSource is the auth/session store collaborator. Token returns "" when
// there is no session.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Timer is a cancellable scheduled callback.
type Timer = interface{ Stop() bool }

// Clock is the time source used for debounce timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
