package reconcile

import (
	"prism-board/domain"
)

// merge applies a foreign event to snap and reports whether it was understood.
func merge(snap *domain.BoardSnapshot, ev domain.Event) bool {
	p := ev.Payload
	switch ev.Type {
	case domain.CardCreated, domain.CardUpdated, domain.CardMoved:
		if p.Card != nil {
			card := *p.Card
			putCard(snap, card)
			return true
		}
		if _, _, ok := findCard(snap, p.ItemID); !ok {
			return false
		}
		placeCard(snap, p.ItemID, p.ContainerID, p.BoardID, p.Position)
		return true

	case domain.CardArchived, domain.CardDeleted:
		_, ok := removeCard(snap, p.ItemID)
		return ok

	case domain.CardsRenumbered:
		return setCardKeys(snap, p.ContainerID, p.Positions)

	case domain.ColumnCreated, domain.ColumnUpdated, domain.ColumnMoved:
		if p.Column == nil {
			return false
		}
		col := domain.ColumnSnapshot{Column: *p.Column}
		if i := findColumn(snap, col.ID); i >= 0 {
			col.Cards = snap.Columns[i].Cards
		}
		putColumn(snap, col)
		return true

	case domain.ColumnDeleted:
		_, ok := removeColumn(snap, p.ItemID)
		return ok

	case domain.ColumnRenumbered:
		setColumnKeys(snap, p.Positions)
		return true

	case domain.LabelCreated:
		if p.Label == nil {
			return false
		}
		for i := range snap.Labels {
			if snap.Labels[i].ID == p.Label.ID {
				snap.Labels[i] = *p.Label
				return true
			}
		}
		snap.Labels = append(snap.Labels, *p.Label)
		return true

	case domain.BoardUpdated:
		if p.Board == nil {
			return false
		}
		snap.Board = *p.Board
		return true
	}
	return false
}
