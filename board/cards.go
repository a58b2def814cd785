package board

import (
	"context"
	"strings"
	"time"

	"prism-board/domain"
)

// CardInput holds the fields of a new card.
type CardInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	Cover       string     `json:"cover,omitempty"`
	Template    bool       `json:"template,omitempty"`
}

// CardPatch lists the card fields a caller may change. ClearDue removes the
// due date. Version, when set, must match the stored version.
type CardPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	ClearDue    bool       `json:"clearDue,omitempty"`
	Cover       *string    `json:"cover,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	Archived    *bool      `json:"archived,omitempty"`
	Template    *bool      `json:"template,omitempty"`
	Version     *int64     `json:"version,omitempty"`
}

func (p CardPatch) empty() bool {
	return p.Title == nil && p.Description == nil && p.DueAt == nil && !p.ClearDue &&
		p.Cover == nil && p.Completed == nil && p.Archived == nil && p.Template == nil
}

// CreateCard appends a card to the column.
func (s *Service) CreateCard(ctx context.Context, actor, sessionID, columnID string, in CardInput) (domain.Card, error) {
	title, err := requireName("title", in.Title)
	if err != nil {
		return domain.Card{}, err
	}
	var out domain.Card
	err = s.write(ctx, func(tx domain.Tx) ([]domain.Event, error) {
		col, err := tx.GetColumn(ctx, columnID)
		if err != nil {
			return nil, err
		}
		if col.Archived {
			return nil, domain.NotFoundf("column %s is archived", columnID)
		}
		if err := domain.Authorize(ctx, tx, col.BoardID, actor, domain.PermEditCard); err != nil {
			return nil, err
		}
		pos, err := s.cardTail(ctx, tx, columnID)
		if err != nil {
			return nil, err
		}
		now := s.Now()
		out = domain.Card{
			ID:          s.NewID(),
			ColumnID:    col.ID,
			BoardID:     col.BoardID,
			Title:       title,
			Description: in.Description,
			Position:    pos,
			Labels:      []string{},
			DueAt:       in.DueAt,
			Cover:       in.Cover,
			Template:    in.Template,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertCard(ctx, out); err != nil {
			return nil, err
		}
		return []domain.Event{domain.NewCardEvent(domain.CardCreated, out, sessionID)}, nil
	})
	return out, err
}

func (s *Service) cardTail(ctx context.Context, tx domain.Tx, columnID string) (float64, error) {
	cards, err := tx.ListCards(ctx, columnID)
	if err != nil {
		return 0, err
	}
	return tailOf(len(cards), func(i int) float64 { return cards[i].Position })
}

// UpdateCard edits card fields. Archiving emits card.archived; a restored card
// returns at the tail of its column.
func (s *Service) UpdateCard(ctx context.Context, actor, sessionID, cardID string, patch CardPatch) (domain.Card, error) {
	if patch.empty() {
		return domain.Card{}, domain.Invalidf("card update had no fields")
	}
	var out domain.Card
	err := s.write(ctx, func(tx domain.Tx) ([]domain.Event, error) {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return nil, err
		}
		if err := domain.Authorize(ctx, tx, card.BoardID, actor, domain.PermEditCard); err != nil {
			return nil, err
		}
		if patch.Version != nil && *patch.Version != card.Version {
			return nil, domain.Conflictf("card %s is at version %d", card.ID, card.Version)
		}
		if patch.Title != nil {
			if card.Title, err = requireName("title", *patch.Title); err != nil {
				return nil, err
			}
		}
		if patch.Description != nil {
			card.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.ClearDue {
			card.DueAt = nil
		} else if patch.DueAt != nil {
			card.DueAt = patch.DueAt
		}
		if patch.Cover != nil {
			card.Cover = *patch.Cover
		}
		if patch.Completed != nil {
			card.Completed = *patch.Completed
		}
		if patch.Template != nil {
			card.Template = *patch.Template
		}
		typ := domain.CardUpdated
		if patch.Archived != nil && *patch.Archived != card.Archived {
			if *patch.Archived {
				typ = domain.CardArchived
			} else if card.Position, err = s.cardTail(ctx, tx, card.ColumnID); err != nil {
				return nil, err
			}
			card.Archived = *patch.Archived
		}
		card.UpdatedAt = s.Now()
		if out, err = tx.UpdateCard(ctx, card); err != nil {
			return nil, err
		}
		return []domain.Event{domain.NewCardEvent(typ, out, sessionID)}, nil
	})
	return out, err
}

// DeleteCard removes a card permanently.
func (s *Service) DeleteCard(ctx context.Context, actor, sessionID, cardID string) error {
	return s.write(ctx, func(tx domain.Tx) ([]domain.Event, error) {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return nil, err
		}
		if err := domain.Authorize(ctx, tx, card.BoardID, actor, domain.PermEditCard); err != nil {
			return nil, err
		}
		if err := tx.DeleteCard(ctx, cardID); err != nil {
			return nil, err
		}
		return []domain.Event{domain.NewCardEvent(domain.CardDeleted, card, sessionID)}, nil
	})
}

// AttachLabel puts a label of the card's board on the card. Attaching a label
// twice is a no-op that publishes nothing.
func (s *Service) AttachLabel(ctx context.Context, actor, sessionID, cardID, labelID string) (domain.Card, error) {
	return s.toggleLabel(ctx, actor, sessionID, cardID, labelID, true)
}

// DetachLabel removes a label from the card.
func (s *Service) DetachLabel(ctx context.Context, actor, sessionID, cardID, labelID string) (domain.Card, error) {
	return s.toggleLabel(ctx, actor, sessionID, cardID, labelID, false)
}

func (s *Service) toggleLabel(ctx context.Context, actor, sessionID, cardID, labelID string, attach bool) (domain.Card, error) {
	var out domain.Card
	err := s.write(ctx, func(tx domain.Tx) ([]domain.Event, error) {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return nil, err
		}
		if err := domain.Authorize(ctx, tx, card.BoardID, actor, domain.PermEditCard); err != nil {
			return nil, err
		}
		var changed bool
		if attach {
			label, err := tx.GetLabel(ctx, labelID)
			if err != nil {
				return nil, err
			}
			if label.BoardID != card.BoardID {
				return nil, domain.Invalidf("label %s belongs to another board", labelID)
			}
			changed, err = tx.AttachLabel(ctx, cardID, labelID)
			if err != nil {
				return nil, err
			}
		} else if changed, err = tx.DetachLabel(ctx, cardID, labelID); err != nil {
			return nil, err
		}
		if !changed {
			out = card
			return nil, nil
		}
		card.UpdatedAt = s.Now()
		if out, err = tx.UpdateCard(ctx, card); err != nil {
			return nil, err
		}
		return []domain.Event{domain.NewCardEvent(domain.CardUpdated, out, sessionID)}, nil
	})
	return out, err
}
