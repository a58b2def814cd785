package board

import (
	"context"

	"prism-board/domain"
	"prism-board/position"
)

// ColumnPatch lists the column fields a caller may change. Version, when set,
// must match the stored version.
type ColumnPatch struct {
	Name     *string `json:"name,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
	Version  *int64  `json:"version,omitempty"`
}

// CreateColumn appends a column to the board.
func (s *Service) CreateColumn(ctx context.Context, actor, sessionID, boardID, name string) (domain.Column, error) {
	name, err := requireName("name", name)
	if err != nil {
		return domain.Column{}, err
	}
	var out domain.Column
	err = s.write(ctx, func(tx domain.Tx) ([]domain.Event, error) {
		if err := domain.Authorize(ctx, tx, boardID, actor, domain.PermEditColumn); err != nil {
			return nil, err
		}
		cols, err := tx.ListColumns(ctx, boardID)
		if err != nil {
			return nil, err
		}
		pos, err := tailOf(len(cols), func(i int) float64 { return cols[i].Position })
		if err != nil {
			return nil, err
		}
		now := s.Now()
		out = domain.Column{ID: s.NewID(), BoardID: boardID, Name: name, Position: pos, CreatedAt: now, UpdatedAt: now}
		if err := tx.InsertColumn(ctx, out); err != nil {
			return nil, err
		}
		return []domain.Event{domain.NewColumnEvent(domain.ColumnCreated, out, sessionID)}, nil
	})
	return out, err
}

// UpdateColumn renames, archives or restores a column. A restored column
// returns at the board tail.
func (s *Service) UpdateColumn(ctx context.Context, actor, sessionID, columnID string, patch ColumnPatch) (domain.Column, error) {
	if patch.Name == nil && patch.Archived == nil {
		return domain.Column{}, domain.Invalidf("column update had no fields")
	}
	var out domain.Column
	err := s.write(ctx, func(tx domain.Tx) ([]domain.Event, error) {
		col, err := tx.GetColumn(ctx, columnID)
		if err != nil {
			return nil, err
		}
		if err := domain.Authorize(ctx, tx, col.BoardID, actor, domain.PermEditColumn); err != nil {
			return nil, err
		}
		if patch.Version != nil && *patch.Version != col.Version {
			return nil, domain.Conflictf("column %s is at version %d", col.ID, col.Version)
		}
		if patch.Name != nil {
			if col.Name, err = requireName("name", *patch.Name); err != nil {
				return nil, err
			}
		}
		if patch.Archived != nil {
			if col.Archived && !*patch.Archived {
				cols, err := tx.ListColumns(ctx, col.BoardID)
				if err != nil {
					return nil, err
				}
				if col.Position, err = tailOf(len(cols), func(i int) float64 { return cols[i].Position }); err != nil {
					return nil, err
				}
			}
			col.Archived = *patch.Archived
		}
		col.UpdatedAt = s.Now()
		if out, err = tx.UpdateColumn(ctx, col); err != nil {
			return nil, err
		}
		return []domain.Event{domain.NewColumnEvent(domain.ColumnUpdated, out, sessionID)}, nil
	})
	return out, err
}

// DeleteColumn removes a column together with its cards and rules.
func (s *Service) DeleteColumn(ctx context.Context, actor, sessionID, columnID string) error {
	return s.write(ctx, func(tx domain.Tx) ([]domain.Event, error) {
		col, err := tx.GetColumn(ctx, columnID)
		if err != nil {
			return nil, err
		}
		if err := domain.Authorize(ctx, tx, col.BoardID, actor, domain.PermEditColumn); err != nil {
			return nil, err
		}
		if err := tx.DeleteColumn(ctx, columnID); err != nil {
			return nil, err
		}
		return []domain.Event{domain.NewColumnEvent(domain.ColumnDeleted, col, sessionID)}, nil
	})
}

// CreateLabel appends a label to the board.
func (s *Service) CreateLabel(ctx context.Context, actor, sessionID, boardID, name, color string) (domain.Label, error) {
	name, err := requireName("name", name)
	if err != nil {
		return domain.Label{}, err
	}
	var out domain.Label
	err = s.write(ctx, func(tx domain.Tx) ([]domain.Event, error) {
		if err := domain.Authorize(ctx, tx, boardID, actor, domain.PermEditCard); err != nil {
			return nil, err
		}
		labels, err := tx.ListLabels(ctx, boardID)
		if err != nil {
			return nil, err
		}
		pos, err := tailOf(len(labels), func(i int) float64 { return labels[i].Position })
		if err != nil {
			return nil, err
		}
		out = domain.Label{ID: s.NewID(), BoardID: boardID, Name: name, Color: color, Position: pos}
		if err := tx.InsertLabel(ctx, out); err != nil {
			return nil, err
		}
		return []domain.Event{domain.NewLabelEvent(domain.LabelCreated, out, sessionID)}, nil
	})
	return out, err
}

// tailOf returns the position after the last of n ordered keys.
func tailOf(n int, key func(int) float64) (float64, error) {
	if n == 0 {
		return position.Tail(0, false)
	}
	return position.Tail(key(n-1), true)
}
