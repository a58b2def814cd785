// Package automation evaluates column rules when a card arrives in a column.
package automation

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
	"prism-board/move"
)

// MaxDepth bounds how many rule-triggered arrivals a single user move may cause.
const MaxDepth = 2

// Report summarizes an evaluation chain.
type Report = domain.AutomationReport

// Placer is the placement primitive shared with move.Coordinator.
type Placer interface {
	PlaceCard(ctx context.Context, tx domain.Tx, card domain.Card, dest domain.Column, index int, sessionID string) (domain.Card, []domain.Event, error)
	CloneCard(ctx context.Context, tx domain.Tx, card domain.Card, dest domain.Column, index int, sessionID string) (domain.Card, []domain.Event, error)
}

// Engine runs rules. Rule failures are logged and counted, never returned.
type Engine struct {
	store     domain.Store
	placer    Placer
	publisher domain.Publisher
	logger    *log.Logger
}

// NewEngine wires an engine. publisher may be nil.
func NewEngine(store domain.Store, placer Placer, publisher domain.Publisher, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{store: store, placer: placer, publisher: publisher, logger: logger}
}

// outcome of one rule application.
type outcome struct {
	// next is the column the card (or its clone) arrived in, empty when nothing arrived.
	next   string
	cardID string
	stop   bool
}

// Evaluate applies the enabled rules of columnID to cardID in creation order.
// depth counts rule-triggered arrivals so far; past MaxDepth the chain is cut
// off and reported as truncated.
func (e *Engine) Evaluate(ctx context.Context, cardID, columnID string, depth int) Report {
	var report Report
	entry := e.logger.WithFields(log.Fields{"card_id": cardID, "column_id": columnID, "depth": depth})
	if depth > MaxDepth {
		entry.Warn("automation depth limit reached; remaining rules skipped")
		report.Truncated = true
		return report
	}

	ctx, span := otel.Tracer("prism-board/automation").Start(ctx, "automation.Evaluate", trace.WithAttributes(
		attribute.String("automation.card_id", cardID),
		attribute.String("automation.column_id", columnID),
		attribute.Int("automation.depth", depth),
	))
	defer span.End()

	var rules []domain.Rule
	err := e.store.RunInTx(ctx, func(tx domain.Tx) error {
		var err error
		rules, err = tx.ListRules(ctx, columnID)
		return err
	})
	if err != nil {
		entry.WithError(err).Error("automation: list rules")
		report.Failed++
		return report
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if selfTargeted(rule) {
			entry.WithField("rule_id", rule.ID).Debug("automation: skipping self-targeted rule")
			report.Skipped++
			continue
		}
		out, err := e.apply(ctx, rule, cardID, columnID)
		if err != nil {
			entry.WithError(err).WithFields(log.Fields{"rule_id": rule.ID, "rule_type": rule.Type}).Warn("automation rule failed")
			report.Failed++
			continue
		}
		report.Applied++
		if out.next != "" {
			report.Merge(e.Evaluate(ctx, out.cardID, out.next, depth+1))
		}
		if out.stop {
			break
		}
	}
	span.SetAttributes(
		attribute.Int("automation.applied", report.Applied),
		attribute.Int("automation.failed", report.Failed),
		attribute.Bool("automation.truncated", report.Truncated),
	)
	return report
}

func selfTargeted(r domain.Rule) bool {
	switch r.Type {
	case domain.RuleMoveToColumn, domain.RuleCopyToColumn:
		return r.Payload.TargetColumnID == r.ColumnID
	}
	return false
}

// apply runs one rule in its own transaction and publishes its events after commit.
func (e *Engine) apply(ctx context.Context, rule domain.Rule, cardID, columnID string) (outcome, error) {
	var (
		out    outcome
		events []domain.Event
	)
	err := e.store.RunInTx(ctx, func(tx domain.Tx) error {
		out, events = outcome{}, nil
		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		// An earlier rule or a concurrent request may have moved the card on.
		if card.ColumnID != columnID || card.Archived {
			return fmt.Errorf("card %s left column %s: %w", cardID, columnID, domain.ErrConflict)
		}

		switch rule.Type {
		case domain.RuleAddLabel:
			label, err := tx.GetLabel(ctx, rule.Payload.LabelID)
			if err != nil {
				return err
			}
			if label.BoardID != card.BoardID {
				return domain.Invalidf("label %s belongs to another board", label.ID)
			}
			added, err := tx.AttachLabel(ctx, card.ID, label.ID)
			if err != nil {
				return err
			}
			if added {
				updated, err := tx.GetCard(ctx, card.ID)
				if err != nil {
					return err
				}
				events = append(events, domain.NewCardEvent(domain.CardUpdated, updated, ""))
			}
			return nil

		case domain.RuleMoveToColumn, domain.RuleCopyToColumn:
			dest, err := e.target(ctx, tx, rule, card)
			if err != nil {
				return err
			}
			index := move.EdgeIndex(rule.Payload.Edge)
			if rule.Type == domain.RuleMoveToColumn {
				moved, evs, err := e.placer.PlaceCard(ctx, tx, card, dest, index, "")
				if err != nil {
					return err
				}
				events = evs
				out = outcome{next: dest.ID, cardID: moved.ID, stop: true}
				return nil
			}
			clone, evs, err := e.placer.CloneCard(ctx, tx, card, dest, index, "")
			if err != nil {
				return err
			}
			events = evs
			out = outcome{next: dest.ID, cardID: clone.ID}
			return nil
		}
		return domain.Invalidf("unknown rule type %q", rule.Type)
	})
	if err != nil {
		return outcome{}, err
	}
	if e.publisher != nil {
		for _, ev := range events {
			e.publisher.Publish(ctx, ev.BoardID, ev)
		}
	}
	return out, nil
}

func (e *Engine) target(ctx context.Context, tx domain.Tx, rule domain.Rule, card domain.Card) (domain.Column, error) {
	dest, err := tx.GetColumn(ctx, rule.Payload.TargetColumnID)
	if err != nil {
		return domain.Column{}, err
	}
	if dest.Archived {
		return domain.Column{}, domain.NotFoundf("target column %s is archived", dest.ID)
	}
	if rule.Payload.TargetBoardID != "" && rule.Payload.TargetBoardID != dest.BoardID {
		return domain.Column{}, domain.Invalidf("target column %s is not on board %s", dest.ID, rule.Payload.TargetBoardID)
	}
	if dest.BoardID != card.BoardID {
		if _, err := tx.GetBoard(ctx, dest.BoardID); err != nil {
			return domain.Column{}, err
		}
	}
	return dest, nil
}
