package move

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"prism-board/domain"
	"prism-board/position"
)

// TailIndex places an item after every sibling.
const TailIndex = math.MaxInt

// EdgeIndex translates a rule edge into an insertion index.
func EdgeIndex(edge domain.Edge) int {
	if edge == domain.EdgeTop {
		return 0
	}
	return TailIndex
}

// Placer writes card and column positions inside a caller supplied
// transaction. It is shared by the coordinator and the automation engine.
type Placer struct {
	Now   func() time.Time
	NewID func() string
}

// NewPlacer returns a Placer using wall-clock time and random UUIDs.
func NewPlacer() *Placer {
	return &Placer{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// PlaceCard moves card to index (0-based, clamped) among the active cards of dest.
func (p *Placer) PlaceCard(ctx context.Context, tx domain.Tx, card domain.Card, dest domain.Column, index int, sessionID string) (domain.Card, []domain.Event, error) {
	siblings, err := cardSiblings(ctx, tx, dest.ID, card.ID)
	if err != nil {
		return domain.Card{}, nil, err
	}
	return p.placeCard(ctx, tx, card, dest, siblings, index, sessionID)
}

// CloneCard copies card to index among the active cards of dest. Labels are
// carried over only when they belong to the destination board.
func (p *Placer) CloneCard(ctx context.Context, tx domain.Tx, card domain.Card, dest domain.Column, index int, sessionID string) (domain.Card, []domain.Event, error) {
	siblings, err := cardSiblings(ctx, tx, dest.ID, "")
	if err != nil {
		return domain.Card{}, nil, err
	}
	pos, events, err := p.allocateCard(ctx, tx, dest, siblings, index, sessionID)
	if err != nil {
		return domain.Card{}, nil, err
	}
	clone, err := p.insertClone(ctx, tx, card, dest, pos)
	if err != nil {
		return domain.Card{}, nil, err
	}
	return clone, append(events, domain.NewCardEvent(domain.CardCreated, clone, sessionID)), nil
}

func (p *Placer) insertClone(ctx context.Context, tx domain.Tx, card domain.Card, dest domain.Column, pos float64) (domain.Card, error) {
	now := p.Now()
	clone := domain.Card{
		ID:          p.NewID(),
		ColumnID:    dest.ID,
		BoardID:     dest.BoardID,
		Title:       card.Title,
		Description: card.Description,
		Position:    pos,
		Cover:       card.Cover,
		Completed:   card.Completed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if card.DueAt != nil {
		due := *card.DueAt
		clone.DueAt = &due
	}
	if err := tx.InsertCard(ctx, clone); err != nil {
		return domain.Card{}, err
	}
	for _, labelID := range card.Labels {
		label, err := tx.GetLabel(ctx, labelID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.Card{}, err
		}
		if label.BoardID != dest.BoardID {
			continue
		}
		if _, err := tx.AttachLabel(ctx, clone.ID, labelID); err != nil {
			return domain.Card{}, err
		}
		clone.Labels = append(clone.Labels, labelID)
	}
	return clone, nil
}

func (p *Placer) placeCard(ctx context.Context, tx domain.Tx, card domain.Card, dest domain.Column, siblings []domain.Card, index int, sessionID string) (domain.Card, []domain.Event, error) {
	pos, events, err := p.allocateCard(ctx, tx, dest, siblings, index, sessionID)
	if err != nil {
		return domain.Card{}, nil, err
	}
	moved, ev, err := p.relocateCard(ctx, tx, card, dest, pos, sessionID)
	if err != nil {
		return domain.Card{}, nil, err
	}
	return moved, append(events, ev...), nil
}

// relocateCard persists card at pos in dest and builds its move events.
func (p *Placer) relocateCard(ctx context.Context, tx domain.Tx, card domain.Card, dest domain.Column, pos float64, sessionID string) (domain.Card, []domain.Event, error) {
	fromColumn, fromBoard := card.ColumnID, card.BoardID
	if fromBoard != dest.BoardID {
		if err := dropForeignLabels(ctx, tx, &card, dest.BoardID); err != nil {
			return domain.Card{}, nil, err
		}
	}
	card.ColumnID = dest.ID
	card.BoardID = dest.BoardID
	card.Position = pos
	card.UpdatedAt = p.Now()
	labels := card.Labels
	updated, err := tx.UpdateCard(ctx, card)
	if err != nil {
		return domain.Card{}, nil, err
	}
	updated.Labels = labels

	ev := domain.NewCardEvent(domain.CardMoved, updated, sessionID)
	ev.Payload.FromContainerID = fromColumn
	ev.Payload.FromBoardID = fromBoard
	events := []domain.Event{ev}
	if fromBoard != dest.BoardID {
		events = append(events, ev.ForBoard(fromBoard))
	}
	return updated, events, nil
}

// allocateCard computes the key for index among siblings, renumbering the
// column first when the neighbours leave no room.
func (p *Placer) allocateCard(ctx context.Context, tx domain.Tx, dest domain.Column, siblings []domain.Card, index int, sessionID string) (float64, []domain.Event, error) {
	keys := make([]float64, len(siblings))
	for i, c := range siblings {
		keys[i] = c.Position
	}
	pos, err := position.At(keys, index)
	if !errors.Is(err, position.ErrRenumberNeeded) {
		return pos, nil, err
	}
	fresh, ev, err := p.renumberCards(ctx, tx, dest, siblings, sessionID)
	if err != nil {
		return 0, nil, err
	}
	pos, err = position.At(fresh, index)
	if err != nil {
		return 0, nil, err
	}
	return pos, []domain.Event{ev}, nil
}

// renumberCards rewrites siblings to (i+1)*Step and returns the new keys.
func (p *Placer) renumberCards(ctx context.Context, tx domain.Tx, dest domain.Column, siblings []domain.Card, sessionID string) ([]float64, domain.Event, error) {
	fresh := position.Renumber(len(siblings))
	now := p.Now()
	moved := make(map[string]float64, len(siblings))
	for i := range siblings {
		c := siblings[i]
		c.Position = fresh[i]
		c.UpdatedAt = now
		if _, err := tx.UpdateCard(ctx, c); err != nil {
			return nil, domain.Event{}, err
		}
		moved[c.ID] = fresh[i]
	}
	return fresh, domain.NewRenumberEvent(domain.CardsRenumbered, dest.BoardID, dest.ID, moved, sessionID, now), nil
}

// renumberColumns is renumberCards for the columns of board.
func (p *Placer) renumberColumns(ctx context.Context, tx domain.Tx, board domain.Board, siblings []domain.Column, sessionID string) ([]float64, domain.Event, error) {
	fresh := position.Renumber(len(siblings))
	now := p.Now()
	moved := make(map[string]float64, len(siblings))
	for i := range siblings {
		c := siblings[i]
		c.Position = fresh[i]
		c.UpdatedAt = now
		if _, err := tx.UpdateColumn(ctx, c); err != nil {
			return nil, domain.Event{}, err
		}
		moved[c.ID] = fresh[i]
	}
	return fresh, domain.NewRenumberEvent(domain.ColumnRenumbered, board.ID, board.ID, moved, sessionID, now), nil
}

// placeColumn moves col to index among the active columns of board.
func (p *Placer) placeColumn(ctx context.Context, tx domain.Tx, col domain.Column, board domain.Board, siblings []domain.Column, index int, sessionID string) (domain.Column, []domain.Event, error) {
	keys := make([]float64, len(siblings))
	for i, c := range siblings {
		keys[i] = c.Position
	}
	var events []domain.Event
	pos, err := position.At(keys, index)
	if errors.Is(err, position.ErrRenumberNeeded) {
		var (
			fresh []float64
			ev    domain.Event
		)
		if fresh, ev, err = p.renumberColumns(ctx, tx, board, siblings, sessionID); err != nil {
			return domain.Column{}, nil, err
		}
		events = append(events, ev)
		pos, err = position.At(fresh, index)
	}
	if err != nil {
		return domain.Column{}, nil, err
	}

	fromBoard := col.BoardID
	col.BoardID = board.ID
	col.Position = pos
	col.UpdatedAt = p.Now()
	updated, err := tx.UpdateColumn(ctx, col)
	if err != nil {
		return domain.Column{}, nil, err
	}
	if fromBoard != board.ID {
		if err := p.rehomeCards(ctx, tx, updated, board.ID); err != nil {
			return domain.Column{}, nil, err
		}
	}

	ev := domain.NewColumnEvent(domain.ColumnMoved, updated, sessionID)
	ev.Payload.FromContainerID = fromBoard
	ev.Payload.FromBoardID = fromBoard
	events = append(events, ev)
	if fromBoard != board.ID {
		events = append(events, ev.ForBoard(fromBoard))
	}
	return updated, events, nil
}

// rehomeCards rewrites the denormalized board of every card in col.
func (p *Placer) rehomeCards(ctx context.Context, tx domain.Tx, col domain.Column, boardID string) error {
	cards, err := tx.ListCards(ctx, col.ID)
	if err != nil {
		return err
	}
	now := p.Now()
	for _, c := range cards {
		if err := dropForeignLabels(ctx, tx, &c, boardID); err != nil {
			return err
		}
		c.BoardID = boardID
		c.UpdatedAt = now
		if _, err := tx.UpdateCard(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func dropForeignLabels(ctx context.Context, tx domain.Tx, card *domain.Card, boardID string) error {
	kept := card.Labels[:0:0]
	for _, labelID := range card.Labels {
		label, err := tx.GetLabel(ctx, labelID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err == nil && label.BoardID == boardID {
			kept = append(kept, labelID)
			continue
		}
		if _, err := tx.DetachLabel(ctx, card.ID, labelID); err != nil {
			return err
		}
	}
	card.Labels = kept
	return nil
}

func cardSiblings(ctx context.Context, tx domain.Tx, columnID, exclude string) ([]domain.Card, error) {
	cards, err := tx.ListCards(ctx, columnID)
	if err != nil {
		return nil, err
	}
	out := cards[:0]
	for _, c := range cards {
		if c.ID != exclude {
			out = append(out, c)
		}
	}
	return out, nil
}

func columnSiblings(ctx context.Context, tx domain.Tx, boardID, exclude string) ([]domain.Column, error) {
	cols, err := tx.ListColumns(ctx, boardID)
	if err != nil {
		return nil, err
	}
	out := cols[:0]
	for _, c := range cols {
		if c.ID != exclude {
			out = append(out, c)
		}
	}
	return out, nil
}
