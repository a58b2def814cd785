// Package board implements the CRUD surface around the ordering core: boards,
// membership, columns, cards, labels and automation rules.
package board

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// SnapshotSource serves full board snapshots, typically through a cache.
type SnapshotSource interface {
	Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// Service applies board changes transactionally and publishes the resulting
// events after commit.
type Service struct {
	store     domain.Store
	publisher domain.Publisher
	snapshots SnapshotSource
	logger    *log.Logger

	Now   func() time.Time
	NewID func() string
}

// NewService returns a service over store. publisher may be nil.
func NewService(store domain.Store, publisher domain.Publisher, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		Now:       func() time.Time { return time.Now().UTC() },
		NewID:     uuid.NewString,
	}
}

// UseSnapshots serves Snapshot reads from src after the permission check.
func (s *Service) UseSnapshots(src SnapshotSource) {
	s.snapshots = src
}

// write runs fn in a transaction and publishes the events it returns.
func (s *Service) write(ctx context.Context, fn func(tx domain.Tx) ([]domain.Event, error)) error {
	var events []domain.Event
	err := s.store.RunInTx(ctx, func(tx domain.Tx) error {
		var err error
		events, err = fn(tx)
		return err
	})
	if err != nil {
		return err
	}
	if s.publisher == nil {
		return nil
	}
	for _, ev := range events {
		s.publisher.Publish(ctx, ev.BoardID, ev)
	}
	return nil
}

func requireName(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", domain.Invalidf("%s is required", field)
	}
	return v, nil
}

// CreateBoard creates a board owned by actor, who becomes its first ADMIN.
func (s *Service) CreateBoard(ctx context.Context, actor, name string) (domain.Board, error) {
	if actor == "" {
		return domain.Board{}, domain.ErrForbidden
	}
	name, err := requireName("name", name)
	if err != nil {
		return domain.Board{}, err
	}
	now := s.Now()
	b := domain.Board{ID: s.NewID(), Name: name, OwnerID: actor, CreatedAt: now, UpdatedAt: now}
	err = s.store.RunInTx(ctx, func(tx domain.Tx) error {
		if err := tx.InsertBoard(ctx, b); err != nil {
			return err
		}
		return tx.PutMember(ctx, domain.Member{BoardID: b.ID, UserID: actor, Role: domain.RoleAdmin})
	})
	if err != nil {
		return domain.Board{}, err
	}
	s.logger.WithFields(log.Fields{"board_id": b.ID, "owner_id": actor}).Info("board created")
	return b, nil
}

// RenameBoard changes the board name. Only admins may rename.
func (s *Service) RenameBoard(ctx context.Context, actor, sessionID, boardID, name string) (domain.Board, error) {
	name, err := requireName("name", name)
	if err != nil {
		return domain.Board{}, err
	}
	var out domain.Board
	err = s.write(ctx, func(tx domain.Tx) ([]domain.Event, error) {
		if err := domain.Authorize(ctx, tx, boardID, actor, domain.PermManageMembers); err != nil {
			return nil, err
		}
		b, err := tx.GetBoard(ctx, boardID)
		if err != nil {
			return nil, err
		}
		b.Name = name
		b.UpdatedAt = s.Now()
		if err := tx.UpdateBoard(ctx, b); err != nil {
			return nil, err
		}
		out = b
		return []domain.Event{domain.NewBoardEvent(domain.BoardUpdated, b, sessionID)}, nil
	})
	return out, err
}

// Snapshot returns the full board for a member.
func (s *Service) Snapshot(ctx context.Context, actor, boardID string) (domain.BoardSnapshot, error) {
	var snap domain.BoardSnapshot
	err := s.store.RunInTx(ctx, func(tx domain.Tx) error {
		if err := domain.Authorize(ctx, tx, boardID, actor, domain.PermView); err != nil {
			return err
		}
		if s.snapshots != nil {
			return nil
		}
		var err error
		snap, err = domain.LoadSnapshot(ctx, tx, boardID)
		return err
	})
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	if s.snapshots != nil {
		return s.snapshots.Snapshot(ctx, boardID)
	}
	return snap, nil
}

// CanView checks actor's read access without loading the board.
func (s *Service) CanView(ctx context.Context, actor, boardID string) error {
	return s.store.RunInTx(ctx, func(tx domain.Tx) error {
		return domain.Authorize(ctx, tx, boardID, actor, domain.PermView)
	})
}
