package move

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
	"prism-board/position"
)

// BulkRequest moves every active card of SourceColumnID to the tail of TargetColumnID.
type BulkRequest struct {
	ActorID        string `json:"-"`
	SessionID      string `json:"-"`
	SourceColumnID string `json:"-"`
	TargetColumnID string `json:"targetColumnId"`
}

// BulkResult lists the moved cards in their new order.
type BulkResult struct {
	ColumnID   string                  `json:"columnId"`
	Moved      []Placement             `json:"moved"`
	Automation domain.AutomationReport `json:"automation"`
}

// CopyRequest duplicates a column with its active cards at the tail of
// TargetBoardID (the source board when empty). Rules are not copied.
type CopyRequest struct {
	ActorID       string `json:"-"`
	SessionID     string `json:"-"`
	ColumnID      string `json:"-"`
	TargetBoardID string `json:"targetBoardId,omitempty"`
	Name          string `json:"name,omitempty"`
}

// CopyResult is the new column and its cloned cards.
type CopyResult struct {
	Column domain.Column `json:"column"`
	Cards  []domain.Card `json:"cards"`
}

// MoveAllCards appends the source column's cards to the target in source
// order, Step apart, in one transaction. Automation runs for each card after commit.
func (c *Coordinator) MoveAllCards(ctx context.Context, req BulkRequest) (BulkResult, error) {
	if req.SourceColumnID == "" || req.TargetColumnID == "" {
		return BulkResult{}, domain.Invalidf("source and target columns are required")
	}
	if req.SourceColumnID == req.TargetColumnID {
		return BulkResult{}, domain.Invalidf("source and target column are the same")
	}
	ctx, span := otel.Tracer("prism-board/move").Start(ctx, "move.MoveAllCards", trace.WithAttributes(
		attribute.String("move.source_column_id", req.SourceColumnID),
		attribute.String("move.target_column_id", req.TargetColumnID),
	))
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	var (
		res    = BulkResult{ColumnID: req.TargetColumnID}
		events []domain.Event
	)
	err := c.store.RunInTx(ctx, func(tx domain.Tx) error {
		res.Moved, events = nil, nil
		source, err := tx.GetColumn(ctx, req.SourceColumnID)
		if err != nil {
			return err
		}
		dest, err := tx.GetColumn(ctx, req.TargetColumnID)
		if err != nil {
			return err
		}
		if dest.Archived {
			return domain.NotFoundf("column %s is archived", dest.ID)
		}
		if err := authorizeBoth(ctx, tx, source.BoardID, dest.BoardID, req.ActorID, domain.PermMoveCard); err != nil {
			return err
		}
		cards, err := tx.ListCards(ctx, source.ID)
		if err != nil {
			return err
		}
		existing, err := tx.ListCards(ctx, dest.ID)
		if err != nil {
			return err
		}
		var last float64
		if len(existing) > 0 {
			last = existing[len(existing)-1].Position
		}
		keys, err := position.Sequence(last, len(existing) > 0, len(cards))
		if err != nil {
			fresh, ev, err := c.renumberCards(ctx, tx, dest, existing, req.SessionID)
			if err != nil {
				return err
			}
			events = append(events, ev)
			if keys, err = position.Sequence(fresh[len(fresh)-1], true, len(cards)); err != nil {
				return err
			}
		}
		for i, card := range cards {
			moved, evs, err := c.relocateCard(ctx, tx, card, dest, keys[i], req.SessionID)
			if err != nil {
				return err
			}
			events = append(events, evs...)
			res.Moved = append(res.Moved, Placement{ItemID: moved.ID, ContainerID: moved.ColumnID, BoardID: moved.BoardID, Position: moved.Position})
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return BulkResult{}, err
	}
	span.SetAttributes(attribute.Int("move.cards", len(res.Moved)))
	c.publish(ctx, events)

	if c.automation != nil {
		for _, p := range res.Moved {
			res.Automation.Merge(c.automation.Evaluate(ctx, p.ItemID, p.ContainerID, 0))
		}
	}
	c.logger.WithFields(log.Fields{
		"actor_id": req.ActorID,
		"source":   req.SourceColumnID,
		"target":   req.TargetColumnID,
		"cards":    len(res.Moved),
	}).Debug("bulk move committed")
	return res, nil
}

// CopyColumn clones a column and its active cards. The clone lands at the
// tail of the target board with cards Step apart in source order.
func (c *Coordinator) CopyColumn(ctx context.Context, req CopyRequest) (CopyResult, error) {
	if req.ColumnID == "" {
		return CopyResult{}, domain.Invalidf("column is required")
	}
	ctx, span := otel.Tracer("prism-board/move").Start(ctx, "move.CopyColumn", trace.WithAttributes(
		attribute.String("move.column_id", req.ColumnID),
	))
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	var (
		res    CopyResult
		events []domain.Event
	)
	err := c.store.RunInTx(ctx, func(tx domain.Tx) error {
		res, events = CopyResult{}, nil
		source, err := tx.GetColumn(ctx, req.ColumnID)
		if err != nil {
			return err
		}
		boardID := req.TargetBoardID
		if boardID == "" {
			boardID = source.BoardID
		}
		board, err := tx.GetBoard(ctx, boardID)
		if err != nil {
			return err
		}
		if err := domain.Authorize(ctx, tx, source.BoardID, req.ActorID, domain.PermView); err != nil {
			return err
		}
		if err := domain.Authorize(ctx, tx, board.ID, req.ActorID, domain.PermEditColumn); err != nil {
			return err
		}

		siblings, err := tx.ListColumns(ctx, board.ID)
		if err != nil {
			return err
		}
		keys := make([]float64, len(siblings))
		for i, s := range siblings {
			keys[i] = s.Position
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = source.Name
		}
		now := c.Now()
		col := domain.Column{ID: c.NewID(), BoardID: board.ID, Name: name, CreatedAt: now, UpdatedAt: now}
		if col.Position, err = position.At(keys, TailIndex); err != nil {
			fresh, ev, err := c.renumberColumns(ctx, tx, board, siblings, req.SessionID)
			if err != nil {
				return err
			}
			events = append(events, ev)
			if col.Position, err = position.At(fresh, TailIndex); err != nil {
				return err
			}
		}
		if err := tx.InsertColumn(ctx, col); err != nil {
			return err
		}
		res.Column = col
		events = append(events, domain.NewColumnEvent(domain.ColumnCreated, col, req.SessionID))

		cards, err := tx.ListCards(ctx, source.ID)
		if err != nil {
			return err
		}
		cardKeys, err := position.Sequence(0, false, len(cards))
		if err != nil {
			return err
		}
		for i, card := range cards {
			clone, err := c.insertClone(ctx, tx, card, col, cardKeys[i])
			if err != nil {
				return err
			}
			res.Cards = append(res.Cards, clone)
			events = append(events, domain.NewCardEvent(domain.CardCreated, clone, req.SessionID))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CopyResult{}, err
	}
	span.SetAttributes(attribute.Int("move.cards", len(res.Cards)))
	c.publish(ctx, events)
	return res, nil
}
