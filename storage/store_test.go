package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
	"prism-board/domain/domaintest"
	"prism-board/move"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustTx(t *testing.T, s *Store, fn func(ctx context.Context, tx domain.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := s.RunInTx(ctx, func(tx domain.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("tx: %v", err)
	}
}

// seed creates board b1 owned by alice with column todo holding a, b, c at 10, 20, 30.
func seed(t *testing.T, s *Store) {
	t.Helper()
	mustTx(t, s, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.InsertBoard(ctx, domain.Board{ID: "b1", Name: "Roadmap", OwnerID: "alice", CreatedAt: epoch, UpdatedAt: epoch}); err != nil {
			return err
		}
		if err := tx.PutMember(ctx, domain.Member{BoardID: "b1", UserID: "alice", Role: domain.RoleAdmin}); err != nil {
			return err
		}
		for i, id := range []string{"todo", "doing"} {
			col := domain.Column{ID: id, BoardID: "b1", Name: id, Position: float64(i+1) * 65536, CreatedAt: epoch, UpdatedAt: epoch}
			if err := tx.InsertColumn(ctx, col); err != nil {
				return err
			}
		}
		for i, id := range []string{"a", "b", "c"} {
			card := domain.Card{ID: id, ColumnID: "todo", BoardID: "b1", Title: id, Position: float64(i+1) * 10, CreatedAt: epoch, UpdatedAt: epoch}
			if err := tx.InsertCard(ctx, card); err != nil {
				return err
			}
		}
		return nil
	})
}

func cardIDs(t *testing.T, s *Store, columnID string) []string {
	t.Helper()
	var ids []string
	mustTx(t, s, func(ctx context.Context, tx domain.Tx) error {
		cards, err := tx.ListCards(ctx, columnID)
		for _, c := range cards {
			ids = append(ids, c.ID)
		}
		return err
	})
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = s.Close()
	s, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM ` + migrationTable).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 applied migration, got %d", n)
	}
}

func TestListCardsOrdersByPositionThenInsertion(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	mustTx(t, s, func(ctx context.Context, tx domain.Tx) error {
		tie := domain.Card{ID: "tie", ColumnID: "todo", BoardID: "b1", Title: "tie", Position: 20, CreatedAt: epoch, UpdatedAt: epoch}
		if err := tx.InsertCard(ctx, tie); err != nil {
			return err
		}
		gone := domain.Card{ID: "gone", ColumnID: "todo", BoardID: "b1", Title: "gone", Position: 1, Archived: true, CreatedAt: epoch, UpdatedAt: epoch}
		return tx.InsertCard(ctx, gone)
	})
	if got := cardIDs(t, s, "todo"); !equalIDs(got, []string{"a", "b", "tie", "c"}) {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestGetCardRoundTripsOptionalFields(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	due := epoch.Add(48 * time.Hour)
	mustTx(t, s, func(ctx context.Context, tx domain.Tx) error {
		c, err := tx.GetCard(ctx, "a")
		if err != nil {
			return err
		}
		c.DueAt = &due
		c.Cover = "#ff0"
		c.Completed = true
		_, err = tx.UpdateCard(ctx, c)
		return err
	})
	mustTx(t, s, func(ctx context.Context, tx domain.Tx) error {
		c, err := tx.GetCard(ctx, "a")
		if err != nil {
			return err
		}
		if c.DueAt == nil || !c.DueAt.Equal(due) || c.Cover != "#ff0" || !c.Completed {
			t.Fatalf("unexpected card: %+v", c)
		}
		if c.Version != 1 {
			t.Fatalf("expected version 1, got %d", c.Version)
		}
		if c.Labels == nil {
			t.Fatal("expected non-nil labels")
		}
		return nil
	})
}

func TestUpdateCardVersionCheck(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()
	err := s.RunInTx(ctx, func(tx domain.Tx) error {
		c, err := tx.GetCard(ctx, "a")
		if err != nil {
			return err
		}
		updated, err := tx.UpdateCard(ctx, c)
		if err != nil {
			return err
		}
		if updated.Version != c.Version+1 {
			t.Fatalf("expected bumped version, got %d", updated.Version)
		}
		_, err = tx.UpdateCard(ctx, c)
		return err
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	err = s.RunInTx(ctx, func(tx domain.Tx) error {
		_, err := tx.UpdateCard(ctx, domain.Card{ID: "ghost", ColumnID: "todo"})
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRunInTxRollsBack(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(tx domain.Tx) error {
		if err := tx.DeleteCard(ctx, "a"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := cardIDs(t, s, "todo"); !equalIDs(got, []string{"a", "b", "c"}) {
		t.Fatalf("rollback lost a card: %v", got)
	}
}

func TestDeleteColumnCascades(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()
	mustTx(t, s, func(ctx context.Context, tx domain.Tx) error {
		rule := domain.Rule{ID: "r1", ColumnID: "todo", Type: domain.RuleMoveToColumn,
			Payload: domain.RulePayload{TargetColumnID: "doing", Edge: domain.EdgeTop}, Enabled: true, CreatedAt: epoch}
		if err := tx.InsertRule(ctx, rule); err != nil {
			return err
		}
		return tx.DeleteColumn(ctx, "todo")
	})
	err := s.RunInTx(ctx, func(tx domain.Tx) error {
		_, err := tx.GetCard(ctx, "a")
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected card to be gone, got %v", err)
	}
	err = s.RunInTx(ctx, func(tx domain.Tx) error {
		_, err := tx.GetRule(ctx, "r1")
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected rule to be gone, got %v", err)
	}
}

func TestLabelsAttachIdempotentlyInOrder(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	mustTx(t, s, func(ctx context.Context, tx domain.Tx) error {
		for _, id := range []string{"urgent", "bug"} {
			if err := tx.InsertLabel(ctx, domain.Label{ID: id, BoardID: "b1", Name: id}); err != nil {
				return err
			}
		}
		for _, id := range []string{"urgent", "bug", "urgent"} {
			if _, err := tx.AttachLabel(ctx, "a", id); err != nil {
				return err
			}
		}
		again, err := tx.AttachLabel(ctx, "a", "bug")
		if err != nil {
			return err
		}
		if again {
			t.Fatal("second attach reported a new association")
		}
		cards, err := tx.ListCards(ctx, "todo")
		if err != nil {
			return err
		}
		if !equalIDs(cards[0].Labels, []string{"urgent", "bug"}) {
			t.Fatalf("unexpected labels: %v", cards[0].Labels)
		}
		removed, err := tx.DetachLabel(ctx, "a", "urgent")
		if err != nil || !removed {
			t.Fatalf("detach: %v %v", removed, err)
		}
		return nil
	})
}

func TestAttachMissingLabelIsNotFound(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()
	err := s.RunInTx(ctx, func(tx domain.Tx) error {
		_, err := tx.AttachLabel(ctx, "a", "nope")
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInsertDuplicateIsConflict(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()
	err := s.RunInTx(ctx, func(tx domain.Tx) error {
		return tx.InsertCard(ctx, domain.Card{ID: "a", ColumnID: "todo", BoardID: "b1", CreatedAt: epoch, UpdatedAt: epoch})
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRulesKeepCreationOrderAndPayload(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	mustTx(t, s, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.InsertRule(ctx, domain.Rule{ID: "z", ColumnID: "todo", Type: domain.RuleAddLabel,
			Payload: domain.RulePayload{LabelID: "urgent"}, Enabled: true, CreatedAt: epoch}); err != nil {
			return err
		}
		return tx.InsertRule(ctx, domain.Rule{ID: "a", ColumnID: "todo", Type: domain.RuleCopyToColumn,
			Payload: domain.RulePayload{TargetColumnID: "doing", Edge: domain.EdgeBottom}, CreatedAt: epoch})
	})
	mustTx(t, s, func(ctx context.Context, tx domain.Tx) error {
		rules, err := tx.ListRules(ctx, "todo")
		if err != nil {
			return err
		}
		if len(rules) != 2 || rules[0].ID != "z" || rules[1].ID != "a" {
			t.Fatalf("unexpected rules: %+v", rules)
		}
		if rules[0].Payload.LabelID != "urgent" || !rules[0].Enabled || rules[1].Enabled {
			t.Fatalf("payload not preserved: %+v", rules)
		}
		return nil
	})
}

func TestMoveAgainstSQLite(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	logger, _ := test.NewNullLogger()
	coord := move.NewCoordinator(s, &domaintest.Recorder{}, logger)
	ctx := context.Background()

	res, err := coord.Move(ctx, move.Request{ActorID: "alice", ItemID: "c", Kind: move.KindCard, TargetContainerID: "todo", Index: 1})
	if err != nil {
		t.Fatalf("move to head: %v", err)
	}
	if res.Position != 5 {
		t.Fatalf("expected head position 5, got %v", res.Position)
	}
	if got := cardIDs(t, s, "todo"); !equalIDs(got, []string{"c", "a", "b"}) {
		t.Fatalf("unexpected order: %v", got)
	}

	_, err = coord.Move(ctx, move.Request{ActorID: "alice", ItemID: "a", Kind: move.KindCard, TargetContainerID: "doing", PrevID: "c", NextID: "b"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected stale neighbour conflict, got %v", err)
	}
	_, err = coord.Move(ctx, move.Request{ActorID: "bob", ItemID: "a", Kind: move.KindCard, TargetContainerID: "doing"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
