// Package move performs card and column moves as single serializable
// transactions and hands arriving cards to automation after commit.
package move

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
)

// Kind selects what is being moved.
type Kind string

const (
	KindCard   Kind = "card"
	KindColumn Kind = "column"
)

// Request is a single move intent. Index is 1-based with 0 meaning tail.
// PrevID and NextID, when set, take precedence over Index and must name
// adjacent siblings in the destination.
type Request struct {
	ActorID           string `json:"-"`
	SessionID         string `json:"-"`
	ItemID            string `json:"itemId"`
	Kind              Kind   `json:"itemKind"`
	TargetContainerID string `json:"targetContainerId"`
	TargetBoardID     string `json:"targetBoardId,omitempty"`
	Index             int    `json:"desiredIndex"`
	PrevID            string `json:"prevId,omitempty"`
	NextID            string `json:"nextId,omitempty"`
}

// Placement is where an item ended up.
type Placement struct {
	ItemID      string  `json:"itemId"`
	ContainerID string  `json:"containerId"`
	BoardID     string  `json:"boardId"`
	Position    float64 `json:"position"`
}

// Result describes a committed move. Final is set when automation ran and
// reports where the card rests afterwards. Siblings holds the new keys of the
// destination's other items when the move renumbered it.
type Result struct {
	Placement
	ContainerChanged bool                     `json:"containerChanged"`
	Renumbered       bool                     `json:"renumbered"`
	Siblings         map[string]float64       `json:"siblings,omitempty"`
	Final            *Placement               `json:"final,omitempty"`
	Automation       *domain.AutomationReport `json:"automation,omitempty"`
}

// Evaluator runs automation rules for a card that arrived in a column.
type Evaluator interface {
	Evaluate(ctx context.Context, cardID, columnID string, depth int) domain.AutomationReport
}

// Coordinator executes moves against a Store.
type Coordinator struct {
	*Placer
	store      domain.Store
	publisher  domain.Publisher
	automation Evaluator
	logger     *log.Logger
}

// NewCoordinator wires a coordinator. publisher may be nil.
func NewCoordinator(store domain.Store, publisher domain.Publisher, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Coordinator{
		Placer:    NewPlacer(),
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// UseAutomation attaches the engine evaluated after cross-column card moves.
func (c *Coordinator) UseAutomation(e Evaluator) {
	c.automation = e
}

func (r Request) validate() error {
	if r.ItemID == "" {
		return domain.Invalidf("itemId is required")
	}
	if r.TargetContainerID == "" {
		return domain.Invalidf("targetContainerId is required")
	}
	switch r.Kind {
	case KindCard, KindColumn:
	default:
		return domain.Invalidf("unknown itemKind %q", r.Kind)
	}
	if r.Index < 0 {
		return domain.Invalidf("desiredIndex must not be negative")
	}
	if (r.PrevID != "" && r.PrevID == r.ItemID) || (r.NextID != "" && r.NextID == r.ItemID) {
		return domain.Invalidf("an item cannot be its own neighbour")
	}
	return nil
}

// Move relocates one card or column. The write path ignores cancellation of
// ctx once started so that a committed move always gets published.
func (c *Coordinator) Move(ctx context.Context, req Request) (Result, error) {
	if req.Kind == "" {
		req.Kind = KindCard
	}
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	ctx, span := otel.Tracer("prism-board/move").Start(ctx, "move.Move", trace.WithAttributes(
		attribute.String("move.kind", string(req.Kind)),
		attribute.String("move.item_id", req.ItemID),
		attribute.String("move.target_container_id", req.TargetContainerID),
	))
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	var (
		res    Result
		events []domain.Event
	)
	err := c.store.RunInTx(ctx, func(tx domain.Tx) error {
		var err error
		switch req.Kind {
		case KindColumn:
			res, events, err = c.moveColumn(ctx, tx, req)
		default:
			res, events, err = c.moveCard(ctx, tx, req)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Float64("move.position", res.Position),
		attribute.Bool("move.renumbered", res.Renumbered),
		attribute.Bool("move.container_changed", res.ContainerChanged),
	)
	c.publish(ctx, events)

	if req.Kind == KindCard && res.ContainerChanged && c.automation != nil {
		report := c.automation.Evaluate(ctx, res.ItemID, res.ContainerID, 0)
		res.Automation = &report
		if final, err := c.locateCard(ctx, res.ItemID); err != nil {
			c.logger.WithError(err).WithField("card_id", res.ItemID).Warn("move: locate card after automation")
		} else {
			res.Final = &final
		}
	}

	c.logger.WithFields(log.Fields{
		"actor_id":          req.ActorID,
		"item_id":           res.ItemID,
		"kind":              req.Kind,
		"container_id":      res.ContainerID,
		"position":          res.Position,
		"renumbered":        res.Renumbered,
		"container_changed": res.ContainerChanged,
	}).Debug("move committed")
	return res, nil
}

func (c *Coordinator) moveCard(ctx context.Context, tx domain.Tx, req Request) (Result, []domain.Event, error) {
	card, err := tx.GetCard(ctx, req.ItemID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, nil, domain.Conflictf("card %s no longer exists", req.ItemID)
	}
	if err != nil {
		return Result{}, nil, err
	}
	if card.Archived {
		return Result{}, nil, domain.Conflictf("card %s is archived", card.ID)
	}
	dest, err := tx.GetColumn(ctx, req.TargetContainerID)
	if err != nil {
		return Result{}, nil, err
	}
	if dest.Archived {
		return Result{}, nil, domain.NotFoundf("column %s is archived", dest.ID)
	}
	if req.TargetBoardID != "" && req.TargetBoardID != dest.BoardID {
		return Result{}, nil, domain.Invalidf("column %s does not belong to board %s", dest.ID, req.TargetBoardID)
	}
	if err := authorizeBoth(ctx, tx, card.BoardID, dest.BoardID, req.ActorID, domain.PermMoveCard); err != nil {
		return Result{}, nil, err
	}

	siblings, err := cardSiblings(ctx, tx, dest.ID, card.ID)
	if err != nil {
		return Result{}, nil, err
	}
	ids := make([]string, len(siblings))
	for i, s := range siblings {
		ids[i] = s.ID
	}
	index, err := ResolveIndex(ids, req.Index, req.PrevID, req.NextID)
	if err != nil {
		return Result{}, nil, err
	}

	fromColumn := card.ColumnID
	moved, events, err := c.placeCard(ctx, tx, card, dest, siblings, index, req.SessionID)
	if err != nil {
		return Result{}, nil, err
	}
	return Result{
		Placement:        Placement{ItemID: moved.ID, ContainerID: moved.ColumnID, BoardID: moved.BoardID, Position: moved.Position},
		ContainerChanged: fromColumn != moved.ColumnID,
		Renumbered:       hasRenumber(events),
		Siblings:         renumbered(events),
	}, events, nil
}

func (c *Coordinator) moveColumn(ctx context.Context, tx domain.Tx, req Request) (Result, []domain.Event, error) {
	col, err := tx.GetColumn(ctx, req.ItemID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, nil, domain.Conflictf("column %s no longer exists", req.ItemID)
	}
	if err != nil {
		return Result{}, nil, err
	}
	if col.Archived {
		return Result{}, nil, domain.Conflictf("column %s is archived", col.ID)
	}
	if req.TargetBoardID != "" && req.TargetBoardID != req.TargetContainerID {
		return Result{}, nil, domain.Invalidf("column moves target a board; got container %s and board %s", req.TargetContainerID, req.TargetBoardID)
	}
	board, err := tx.GetBoard(ctx, req.TargetContainerID)
	if err != nil {
		return Result{}, nil, err
	}
	if err := authorizeBoth(ctx, tx, col.BoardID, board.ID, req.ActorID, domain.PermMoveColumn); err != nil {
		return Result{}, nil, err
	}

	siblings, err := columnSiblings(ctx, tx, board.ID, col.ID)
	if err != nil {
		return Result{}, nil, err
	}
	ids := make([]string, len(siblings))
	for i, s := range siblings {
		ids[i] = s.ID
	}
	index, err := ResolveIndex(ids, req.Index, req.PrevID, req.NextID)
	if err != nil {
		return Result{}, nil, err
	}

	fromBoard := col.BoardID
	moved, events, err := c.placeColumn(ctx, tx, col, board, siblings, index, req.SessionID)
	if err != nil {
		return Result{}, nil, err
	}
	return Result{
		Placement:        Placement{ItemID: moved.ID, ContainerID: moved.BoardID, BoardID: moved.BoardID, Position: moved.Position},
		ContainerChanged: fromBoard != moved.BoardID,
		Renumbered:       hasRenumber(events),
		Siblings:         renumbered(events),
	}, events, nil
}

// ResolveIndex turns the request's neighbour hints into a 0-based insertion
// index over ids. A lone PrevID asserts the tail, a lone NextID the head.
func ResolveIndex(ids []string, index int, prevID, nextID string) (int, error) {
	if prevID == "" && nextID == "" {
		if index == 0 || index > len(ids) {
			return len(ids), nil
		}
		return index - 1, nil
	}
	find := func(id string) int {
		for i, v := range ids {
			if v == id {
				return i
			}
		}
		return -1
	}
	prev, next := -1, len(ids)
	if prevID != "" {
		if prev = find(prevID); prev < 0 {
			return 0, domain.Conflictf("neighbour %s is not in the destination", prevID)
		}
	}
	if nextID != "" {
		if next = find(nextID); next < 0 {
			return 0, domain.Conflictf("neighbour %s is not in the destination", nextID)
		}
	}
	if next != prev+1 {
		return 0, domain.Conflictf("neighbours %q and %q are not adjacent", prevID, nextID)
	}
	return next, nil
}

func authorizeBoth(ctx context.Context, tx domain.Tx, source, dest, actor string, perm domain.Permission) error {
	if err := domain.Authorize(ctx, tx, source, actor, perm); err != nil {
		return err
	}
	if dest == source {
		return nil
	}
	return domain.Authorize(ctx, tx, dest, actor, perm)
}

func hasRenumber(events []domain.Event) bool {
	for _, ev := range events {
		if ev.Type == domain.CardsRenumbered || ev.Type == domain.ColumnRenumbered {
			return true
		}
	}
	return false
}

// renumbered returns the sibling keys of the last renumber in events.
func renumbered(events []domain.Event) map[string]float64 {
	var out map[string]float64
	for _, ev := range events {
		if ev.Type == domain.CardsRenumbered || ev.Type == domain.ColumnRenumbered {
			out = ev.Payload.Positions
		}
	}
	return out
}

func (c *Coordinator) locateCard(ctx context.Context, cardID string) (Placement, error) {
	var out Placement
	err := c.store.RunInTx(ctx, func(tx domain.Tx) error {
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		out = Placement{ItemID: card.ID, ContainerID: card.ColumnID, BoardID: card.BoardID, Position: card.Position}
		return nil
	})
	if err != nil {
		return Placement{}, fmt.Errorf("locate card %s: %w", cardID, err)
	}
	return out, nil
}

func (c *Coordinator) publish(ctx context.Context, events []domain.Event) {
	if c.publisher == nil {
		return
	}
	for _, ev := range events {
		c.publisher.Publish(ctx, ev.BoardID, ev)
	}
}
