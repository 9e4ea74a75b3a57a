package domain

import "context"

// MessageHandler is a callback an input component invokes for each
// translated message.
type MessageHandler func(ctx context.Context, msg Message) error

// Input is a connector component that ingests platform traffic and
// translates it into flow messages.
type Input interface {
	Start(ctx context.Context, handler MessageHandler) error
	Stop(ctx context.Context) error
	Name() string
}

// Output is a connector component that dispatches flow messages back to
// the platform.
type Output interface {
	Send(ctx context.Context, msg Message) error
	Stop(ctx context.Context) error
	Name() string
}

// Session is a durable conversation identity, one per (channel, thread).
type Session struct {
	ID         string
	Channel    string
	ThreadTS   string
	CreatedAt  int64 // unix seconds
	LastActive int64 // unix seconds
}

// SessionStore persists conversation sessions.
type SessionStore interface {
	// GetOrCreate returns the session for (channel, threadTS), creating it
	// with a fresh ID when absent. Existing sessions get their LastActive
	// bumped.
	GetOrCreate(ctx context.Context, channel, threadTS string) (*Session, error)
	// Reap deletes sessions idle for longer than ttlSeconds and returns the
	// number removed.
	Reap(ctx context.Context, ttlSeconds int64) (int64, error)
	Close() error
}
