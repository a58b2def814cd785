package domain

import (
	"context"
	"sort"
)

// Store runs units of work atomically. Every write the core performs goes through RunInTx.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view of boards, columns, cards, labels and rules.
// Getters return ErrNotFound for missing rows. List calls return active
// (non-archived) siblings ordered by position, ties broken by insertion order.
type Tx interface {
	InsertBoard(ctx context.Context, b Board) error
	GetBoard(ctx context.Context, id string) (Board, error)
	UpdateBoard(ctx context.Context, b Board) error

	GetMember(ctx context.Context, boardID, userID string) (Member, error)
	ListMembers(ctx context.Context, boardID string) ([]Member, error)
	PutMember(ctx context.Context, m Member) error
	DeleteMember(ctx context.Context, boardID, userID string) error

	InsertColumn(ctx context.Context, c Column) error
	GetColumn(ctx context.Context, id string) (Column, error)
	ListColumns(ctx context.Context, boardID string) ([]Column, error)
	// UpdateColumn persists c when c.Version matches the stored version and
	// returns the row with the bumped version. A mismatch yields ErrConflict.
	UpdateColumn(ctx context.Context, c Column) (Column, error)
	DeleteColumn(ctx context.Context, id string) error

	InsertCard(ctx context.Context, c Card) error
	GetCard(ctx context.Context, id string) (Card, error)
	ListCards(ctx context.Context, columnID string) ([]Card, error)
	// UpdateCard has the same version semantics as UpdateColumn. Labels are ignored.
	UpdateCard(ctx context.Context, c Card) (Card, error)
	DeleteCard(ctx context.Context, id string) error

	InsertLabel(ctx context.Context, l Label) error
	GetLabel(ctx context.Context, id string) (Label, error)
	ListLabels(ctx context.Context, boardID string) ([]Label, error)
	// AttachLabel reports whether the association was newly created.
	AttachLabel(ctx context.Context, cardID, labelID string) (bool, error)
	DetachLabel(ctx context.Context, cardID, labelID string) (bool, error)

	InsertRule(ctx context.Context, r Rule) error
	GetRule(ctx context.Context, id string) (Rule, error)
	// ListRules returns every rule bound to columnID in creation order.
	ListRules(ctx context.Context, columnID string) ([]Rule, error)
	DeleteRule(ctx context.Context, id string) error
}

// LoadSnapshot reads the full board state inside tx.
func LoadSnapshot(ctx context.Context, tx Tx, boardID string) (BoardSnapshot, error) {
	b, err := tx.GetBoard(ctx, boardID)
	if err != nil {
		return BoardSnapshot{}, err
	}
	members, err := tx.ListMembers(ctx, boardID)
	if err != nil {
		return BoardSnapshot{}, err
	}
	labels, err := tx.ListLabels(ctx, boardID)
	if err != nil {
		return BoardSnapshot{}, err
	}
	cols, err := tx.ListColumns(ctx, boardID)
	if err != nil {
		return BoardSnapshot{}, err
	}
	snap := BoardSnapshot{Board: b, Members: members, Labels: labels, Columns: make([]ColumnSnapshot, 0, len(cols))}
	for _, col := range cols {
		cards, err := tx.ListCards(ctx, col.ID)
		if err != nil {
			return BoardSnapshot{}, err
		}
		snap.Columns = append(snap.Columns, ColumnSnapshot{Column: col, Cards: cards})
	}
	return snap, nil
}

// SortCards orders cards by position. The sort is stable so equal positions keep their input order.
func SortCards(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Position < cards[j].Position })
}

// SortColumns orders columns by position, stable for equal positions.
func SortColumns(cols []Column) {
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
}
