package domain

import (
	"context"
	"sync/atomic"
	"time"
)

// EventType names a change broadcast on a board stream.
type EventType string

const (
	CardCreated      EventType = "card.created"
	CardUpdated      EventType = "card.updated"
	CardMoved        EventType = "card.moved"
	CardArchived     EventType = "card.archived"
	CardDeleted      EventType = "card.deleted"
	CardsRenumbered  EventType = "card.renumbered"
	ColumnCreated    EventType = "column.created"
	ColumnUpdated    EventType = "column.updated"
	ColumnMoved      EventType = "column.moved"
	ColumnDeleted    EventType = "column.deleted"
	ColumnRenumbered EventType = "column.renumbered"
	LabelCreated     EventType = "label.created"
	BoardUpdated     EventType = "board.updated"
)

// Event is an ephemeral domain event delivered to board subscribers.
type Event struct {
	Type            EventType    `json:"type"`
	BoardID         string       `json:"boardId"`
	OriginSessionID string       `json:"originSessionId,omitempty"`
	ServerTimestamp int64        `json:"serverTimestamp"`
	Payload         EventPayload `json:"payload"`
}

// EventPayload describes the affected item. Card, Column and Label carry a full
// snapshot for create/update style events; Positions carries renumbered siblings.
type EventPayload struct {
	ItemID          string             `json:"itemId"`
	ContainerID     string             `json:"containerId,omitempty"`
	Position        float64            `json:"position"`
	BoardID         string             `json:"boardId"`
	MoverSessionID  string             `json:"moverSessionId,omitempty"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	FromContainerID string             `json:"fromContainerId,omitempty"`
	FromBoardID     string             `json:"fromBoardId,omitempty"`
	Card            *Card              `json:"card,omitempty"`
	Column          *Column            `json:"column,omitempty"`
	Label           *Label             `json:"label,omitempty"`
	Board           *Board             `json:"board,omitempty"`
	Positions       map[string]float64 `json:"positions,omitempty"`
}

var lastTimestamp int64

// NextTimestamp returns a strictly increasing unix-nano timestamp for this process.
func NextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

// NewCardEvent builds an event for card on its current board.
func NewCardEvent(t EventType, card Card, sessionID string) Event {
	c := card
	return Event{
		Type:            t,
		BoardID:         card.BoardID,
		OriginSessionID: sessionID,
		ServerTimestamp: NextTimestamp(),
		Payload: EventPayload{
			ItemID:         card.ID,
			ContainerID:    card.ColumnID,
			Position:       card.Position,
			BoardID:        card.BoardID,
			MoverSessionID: sessionID,
			UpdatedAt:      card.UpdatedAt,
			Card:           &c,
		},
	}
}

// NewColumnEvent builds an event for column on its board.
func NewColumnEvent(t EventType, col Column, sessionID string) Event {
	c := col
	return Event{
		Type:            t,
		BoardID:         col.BoardID,
		OriginSessionID: sessionID,
		ServerTimestamp: NextTimestamp(),
		Payload: EventPayload{
			ItemID:         col.ID,
			ContainerID:    col.BoardID,
			Position:       col.Position,
			BoardID:        col.BoardID,
			MoverSessionID: sessionID,
			UpdatedAt:      col.UpdatedAt,
			Column:         &c,
		},
	}
}

// NewLabelEvent builds an event for a label on its board.
func NewLabelEvent(t EventType, label Label, sessionID string) Event {
	l := label
	return Event{
		Type:            t,
		BoardID:         label.BoardID,
		OriginSessionID: sessionID,
		ServerTimestamp: NextTimestamp(),
		Payload: EventPayload{
			ItemID:         label.ID,
			ContainerID:    label.BoardID,
			Position:       label.Position,
			BoardID:        label.BoardID,
			MoverSessionID: sessionID,
			Label:          &l,
		},
	}
}

// NewBoardEvent builds an event carrying the board header.
func NewBoardEvent(t EventType, board Board, sessionID string) Event {
	b := board
	return Event{
		Type:            t,
		BoardID:         board.ID,
		OriginSessionID: sessionID,
		ServerTimestamp: NextTimestamp(),
		Payload: EventPayload{
			ItemID:         board.ID,
			BoardID:        board.ID,
			MoverSessionID: sessionID,
			UpdatedAt:      board.UpdatedAt,
			Board:          &b,
		},
	}
}

// NewRenumberEvent reports new positions for every sibling of containerID.
func NewRenumberEvent(t EventType, boardID, containerID string, positions map[string]float64, sessionID string, at time.Time) Event {
	return Event{
		Type:            t,
		BoardID:         boardID,
		OriginSessionID: sessionID,
		ServerTimestamp: NextTimestamp(),
		Payload: EventPayload{
			ItemID:         containerID,
			ContainerID:    containerID,
			BoardID:        boardID,
			MoverSessionID: sessionID,
			UpdatedAt:      at,
			Positions:      positions,
		},
	}
}

// ForBoard returns a copy of ev addressed to another board's stream. Used when a
// card leaves a board so subscribers of the source board drop it.
func (ev Event) ForBoard(boardID string) Event {
	out := ev
	out.BoardID = boardID
	return out
}

// Publisher delivers committed events to board subscribers. Implementations
// must not block the caller on slow consumers and never fail the request.
type Publisher interface {
	Publish(ctx context.Context, boardID string, ev Event)
}

// AutomationReport summarizes one automation evaluation chain.
type AutomationReport struct {
	Applied   int  `json:"applied"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Truncated bool `json:"truncated"`
}

// Merge adds the counters of other into r.
func (r *AutomationReport) Merge(other AutomationReport) {
	r.Applied += other.Applied
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.Truncated = r.Truncated || other.Truncated
}
