package domaintest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"prism-board/domain"
)

// Epoch is the fixed creation time used by fixtures.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Fixture builds boards, columns and cards directly in a MemStore.
type Fixture struct {
	T     testing.TB
	Store *MemStore
	n     int
}

// NewFixture returns a fixture over a fresh store.
func NewFixture(t testing.TB) *Fixture {
	return &Fixture{T: t, Store: NewMemStore()}
}

func (f *Fixture) id(prefix string) string {
	f.n++
	return fmt.Sprintf("%s-%d", prefix, f.n)
}

func (f *Fixture) run(fn func(tx domain.Tx) error) {
	f.T.Helper()
	if err := f.Store.RunInTx(context.Background(), fn); err != nil {
		f.T.Fatalf("fixture tx: %v", err)
	}
}

// Board creates a board owned by ownerID with ownerID as ADMIN.
func (f *Fixture) Board(name, ownerID string) domain.Board {
	f.T.Helper()
	b := domain.Board{ID: f.id("board"), Name: name, OwnerID: ownerID, CreatedAt: Epoch, UpdatedAt: Epoch}
	f.run(func(tx domain.Tx) error {
		if err := tx.InsertBoard(context.Background(), b); err != nil {
			return err
		}
		return tx.PutMember(context.Background(), domain.Member{BoardID: b.ID, UserID: ownerID, Role: domain.RoleAdmin})
	})
	return b
}

// Member adds userID to boardID with role.
func (f *Fixture) Member(boardID, userID string, role domain.Role) {
	f.T.Helper()
	f.run(func(tx domain.Tx) error {
		return tx.PutMember(context.Background(), domain.Member{BoardID: boardID, UserID: userID, Role: role})
	})
}

// Column creates a column at an explicit position.
func (f *Fixture) Column(boardID, name string, pos float64) domain.Column {
	f.T.Helper()
	c := domain.Column{ID: f.id("col"), BoardID: boardID, Name: name, Position: pos, CreatedAt: Epoch, UpdatedAt: Epoch}
	f.run(func(tx domain.Tx) error { return tx.InsertColumn(context.Background(), c) })
	return c
}

// Card creates a card at an explicit position.
func (f *Fixture) Card(col domain.Column, title string, pos float64) domain.Card {
	f.T.Helper()
	c := domain.Card{ID: f.id("card"), ColumnID: col.ID, BoardID: col.BoardID, Title: title, Position: pos, CreatedAt: Epoch, UpdatedAt: Epoch}
	f.run(func(tx domain.Tx) error { return tx.InsertCard(context.Background(), c) })
	return c
}

// Label creates a label on boardID.
func (f *Fixture) Label(boardID, name string) domain.Label {
	f.T.Helper()
	l := domain.Label{ID: f.id("label"), BoardID: boardID, Name: name}
	f.run(func(tx domain.Tx) error { return tx.InsertLabel(context.Background(), l) })
	return l
}

// Rule binds an enabled rule to col.
func (f *Fixture) Rule(col domain.Column, typ domain.RuleType, payload domain.RulePayload) domain.Rule {
	f.T.Helper()
	r := domain.Rule{ID: f.id("rule"), ColumnID: col.ID, Type: typ, Payload: payload, Enabled: true, CreatedAt: Epoch}
	r.Normalize()
	f.run(func(tx domain.Tx) error { return tx.InsertRule(context.Background(), r) })
	return r
}

// Cards lists the active cards of columnID in order.
func (f *Fixture) Cards(columnID string) []domain.Card {
	f.T.Helper()
	var out []domain.Card
	f.run(func(tx domain.Tx) error {
		var err error
		out, err = tx.ListCards(context.Background(), columnID)
		return err
	})
	return out
}

// Columns lists the active columns of boardID in order.
func (f *Fixture) Columns(boardID string) []domain.Column {
	f.T.Helper()
	var out []domain.Column
	f.run(func(tx domain.Tx) error {
		var err error
		out, err = tx.ListColumns(context.Background(), boardID)
		return err
	})
	return out
}

// GetCard loads a card by id.
func (f *Fixture) GetCard(id string) domain.Card {
	f.T.Helper()
	var out domain.Card
	f.run(func(tx domain.Tx) error {
		var err error
		out, err = tx.GetCard(context.Background(), id)
		return err
	})
	return out
}

// Recorder collects published events.
type Recorder struct {
	Events []domain.Event
}

// Publish implements the publisher contract used by the core packages.
func (r *Recorder) Publish(_ context.Context, _ string, ev domain.Event) {
	r.Events = append(r.Events, ev)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []domain.EventType {
	out := make([]domain.EventType, len(r.Events))
	for i, ev := range r.Events {
		out[i] = ev.Type
	}
	return out
}
