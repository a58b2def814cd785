package reconcile

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-board/domain"
	"prism-board/move"
	"prism-board/position"
)

func card(id, column string, pos float64) domain.Card {
	return domain.Card{ID: id, ColumnID: column, BoardID: "b1", Title: id, Position: pos}
}

func fixture() domain.BoardSnapshot {
	return domain.BoardSnapshot{
		Board: domain.Board{ID: "b1", Name: "Roadmap"},
		Columns: []domain.ColumnSnapshot{
			{Column: domain.Column{ID: "todo", BoardID: "b1", Position: position.Step}, Cards: []domain.Card{
				card("a", "todo", 10), card("b", "todo", 20), card("c", "todo", 30),
			}},
			{Column: domain.Column{ID: "doing", BoardID: "b1", Position: 2 * position.Step}, Cards: []domain.Card{
				card("x", "doing", position.Base),
			}},
		},
	}
}

func order(snap domain.BoardSnapshot, column string) []string {
	for _, col := range snap.Columns {
		if col.ID == column {
			ids := make([]string, len(col.Cards))
			for i, c := range col.Cards {
				ids[i] = c.ID
			}
			return ids
		}
	}
	return nil
}

func movedEvent(session, id, column string, pos float64) domain.Event {
	c := card(id, column, pos)
	return domain.NewCardEvent(domain.CardMoved, c, session)
}

func TestApplyMoveIsOptimistic(t *testing.T) {
	r := New("me", fixture())
	_, placed, err := r.ApplyMove(move.Request{ItemID: "c", TargetContainerID: "todo", Index: 1})
	require.NoError(t, err)
	assert.Equal(t, 5.0, placed.Position)
	assert.Equal(t, []string{"c", "a", "b"}, order(r.View(), "todo"))
	assert.Equal(t, 1, r.Pending())

	_, placed, err = r.ApplyMove(move.Request{ItemID: "x", TargetContainerID: "todo"})
	require.NoError(t, err)
	assert.Equal(t, 20+position.Step, placed.Position)
	assert.Empty(t, order(r.View(), "doing"))
}

func TestOwnEchoIsDiscarded(t *testing.T) {
	r := New("me", fixture())
	_, _, err := r.ApplyMove(move.Request{ItemID: "c", TargetContainerID: "todo", Index: 1})
	require.NoError(t, err)
	before := r.View()

	assert.False(t, r.HandleEvent(movedEvent("me", "c", "todo", 5)))
	// A stale echo carrying an older position must not reorder the view either.
	assert.False(t, r.HandleEvent(movedEvent("me", "c", "todo", 30)))
	assert.Equal(t, before, r.View())
}

func TestForeignEventsAreMerged(t *testing.T) {
	r := New("me", fixture())
	assert.True(t, r.HandleEvent(movedEvent("other", "x", "todo", 25)))
	assert.Equal(t, []string{"a", "b", "x", "c"}, order(r.View(), "todo"))
	assert.Empty(t, order(r.View(), "doing"))

	assert.True(t, r.HandleEvent(domain.NewCardEvent(domain.CardArchived, card("a", "todo", 10), "other")))
	assert.Equal(t, []string{"b", "x", "c"}, order(r.View(), "todo"))

	renumber := domain.NewRenumberEvent(domain.CardsRenumbered, "b1", "todo", map[string]float64{"b": 3 * position.Step, "x": position.Step, "c": 2 * position.Step}, "", time.Time{})
	assert.True(t, r.HandleEvent(renumber))
	assert.Equal(t, []string{"x", "c", "b"}, order(r.View(), "todo"))

	other := movedEvent("other", "x", "todo", 1)
	other.BoardID = "b2"
	assert.False(t, r.HandleEvent(other))
}

func TestAutomationEventsApplyToOriginator(t *testing.T) {
	r := New("me", fixture())
	assert.True(t, r.HandleEvent(movedEvent("", "a", "doing", 2*position.Base)))
	assert.Equal(t, []string{"x", "a"}, order(r.View(), "doing"))
}

func TestCardLeavingBoardIsRemoved(t *testing.T) {
	r := New("me", fixture())
	c := card("a", "elsewhere", 10)
	c.BoardID = "b2"
	ev := domain.NewCardEvent(domain.CardMoved, c, "other").ForBoard("b1")
	assert.True(t, r.HandleEvent(ev))
	assert.Equal(t, []string{"b", "c"}, order(r.View(), "todo"))
}

func TestFailRollsBackAndReplaysLaterMoves(t *testing.T) {
	r := New("me", fixture())
	first, _, err := r.ApplyMove(move.Request{ItemID: "c", TargetContainerID: "todo", Index: 1})
	require.NoError(t, err)
	_, _, err = r.ApplyMove(move.Request{ItemID: "x", TargetContainerID: "todo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b", "x"}, order(r.View(), "todo"))

	err = r.Fail(first, &APIError{Status: 409, Message: "stale"})
	require.ErrorIs(t, err, ErrRolledBack)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, []string{"a", "b", "c", "x"}, order(r.View(), "todo"))
	assert.Equal(t, 1, r.Pending())
}

func TestFailKeepsForeignChanges(t *testing.T) {
	r := New("me", fixture())
	tok, _, err := r.ApplyMove(move.Request{ItemID: "c", TargetContainerID: "todo", Index: 1})
	require.NoError(t, err)
	r.HandleEvent(movedEvent("other", "x", "todo", 15))
	assert.Equal(t, []string{"c", "a", "x", "b"}, order(r.View(), "todo"))

	_ = r.Fail(tok, domain.ErrConflict)
	assert.Equal(t, []string{"a", "x", "b", "c"}, order(r.View(), "todo"))
}

func TestConfirmAdoptsServerPlacement(t *testing.T) {
	r := New("me", fixture())
	tok, _, err := r.ApplyMove(move.Request{ItemID: "x", TargetContainerID: "todo"})
	require.NoError(t, err)

	r.Confirm(tok, move.Result{
		Placement: move.Placement{ItemID: "x", ContainerID: "todo", BoardID: "b1", Position: 65566},
		Final:     &move.Placement{ItemID: "x", ContainerID: "doing", BoardID: "b1", Position: 7},
	})
	assert.Zero(t, r.Pending())
	assert.Equal(t, []string{"a", "b", "c"}, order(r.View(), "todo"))
	assert.Equal(t, []string{"x"}, order(r.View(), "doing"))
	assert.Equal(t, 7.0, r.View().Columns[1].Cards[0].Position)
}

func tightFixture() domain.BoardSnapshot {
	snap := fixture()
	snap.Columns[0].Cards = []domain.Card{card("a", "todo", 1), card("b", "todo", math.Nextafter(1, 2))}
	return snap
}

func TestRenumberingMoveKeepsOrder(t *testing.T) {
	siblings := map[string]float64{"a": position.Step, "b": 2 * position.Step}
	result := move.Result{
		Placement:        move.Placement{ItemID: "x", ContainerID: "todo", BoardID: "b1", Position: 1.5 * position.Step},
		ContainerChanged: true,
		Renumbered:       true,
		Siblings:         siblings,
	}

	t.Run("optimistic view renumbers locally", func(t *testing.T) {
		r := New("me", tightFixture())
		_, placed, err := r.ApplyMove(move.Request{ItemID: "x", TargetContainerID: "todo", Index: 2})
		require.NoError(t, err)
		assert.Equal(t, 1.5*position.Step, placed.Position)
		assert.Equal(t, []string{"a", "x", "b"}, order(r.View(), "todo"))
	})

	t.Run("own renumber event before confirm", func(t *testing.T) {
		r := New("me", tightFixture())
		tok, _, err := r.ApplyMove(move.Request{ItemID: "x", TargetContainerID: "todo", Index: 2})
		require.NoError(t, err)
		assert.True(t, r.HandleEvent(domain.NewRenumberEvent(domain.CardsRenumbered, "b1", "todo", siblings, "me", time.Time{})))
		assert.False(t, r.HandleEvent(movedEvent("me", "x", "todo", 1.5*position.Step)))
		r.Confirm(tok, move.Result{Placement: result.Placement, ContainerChanged: true, Renumbered: true})
		assert.Equal(t, []string{"a", "x", "b"}, order(r.View(), "todo"))
	})

	t.Run("confirm before any event", func(t *testing.T) {
		r := New("me", tightFixture())
		tok, _, err := r.ApplyMove(move.Request{ItemID: "x", TargetContainerID: "todo", Index: 2})
		require.NoError(t, err)
		r.Confirm(tok, result)
		view := r.View()
		assert.Equal(t, []string{"a", "x", "b"}, order(view, "todo"))
		assert.Equal(t, position.Step, view.Columns[0].Cards[0].Position)
	})
}

func TestResetKeepsPendingMoves(t *testing.T) {
	r := New("me", fixture())
	_, _, err := r.ApplyMove(move.Request{ItemID: "c", TargetContainerID: "todo", Index: 1})
	require.NoError(t, err)
	r.Reset(fixture())
	assert.Equal(t, []string{"c", "a", "b"}, order(r.View(), "todo"))
}

func TestColumnMoves(t *testing.T) {
	r := New("me", fixture())
	_, placed, err := r.ApplyMove(move.Request{ItemID: "doing", Kind: move.KindColumn, TargetContainerID: "b1", Index: 1})
	require.NoError(t, err)
	assert.Equal(t, position.Step/2, placed.Position)
	view := r.View()
	assert.Equal(t, "doing", view.Columns[0].ID)
	assert.Equal(t, []string{"x"}, order(view, "doing"))

	col := domain.Column{ID: "done", BoardID: "b1", Position: 3 * position.Step}
	assert.True(t, r.HandleEvent(domain.NewColumnEvent(domain.ColumnCreated, col, "other")))
	assert.Len(t, r.View().Columns, 3)
	assert.True(t, r.HandleEvent(domain.NewColumnEvent(domain.ColumnDeleted, col, "other")))
	assert.Len(t, r.View().Columns, 2)
}

func TestApplyMoveRejectsUnknownItems(t *testing.T) {
	r := New("me", fixture())
	_, _, err := r.ApplyMove(move.Request{ItemID: "ghost", TargetContainerID: "todo"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, _, err = r.ApplyMove(move.Request{ItemID: "a", TargetContainerID: "nowhere"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, r.Pending())
}
