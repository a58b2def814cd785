package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
	"prism-board/move"
	"prism-board/stream"
)

const (
	// HeaderSessionID carries the client session that originated a mutation.
	HeaderSessionID = "X-Session-ID"
	// HeaderIdempotencyKey makes a mutation safe to retry.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper remembers the outcome of mutations by idempotency key.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, userID, key string) error
	Complete(ctx context.Context, userID, key string, resp StoredResponse) error
	Lookup(ctx context.Context, userID, key string) (StoredResponse, bool, error)
}

// Snapshotter returns the board state a user may see.
type Snapshotter interface {
	Snapshot(ctx context.Context, actor, boardID string) (domain.BoardSnapshot, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the board API. Deduper and Health may be nil.
type Deps struct {
	Boards       *board.Service
	Moves        *move.Coordinator
	Hub          *stream.Hub
	Auth         Authenticator
	Deduper      Deduper
	Health       Pinger
	Logger       *log.Logger
	PingInterval time.Duration
}
