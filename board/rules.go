package board

import (
	"context"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// RuleInput describes a new automation rule. Enabled defaults to true.
type RuleInput struct {
	Type    domain.RuleType    `json:"type"`
	Payload domain.RulePayload `json:"payload"`
	Enabled *bool              `json:"enabled,omitempty"`
}

// ListRules returns the rules bound to a column in evaluation order.
func (s *Service) ListRules(ctx context.Context, actor, columnID string) ([]domain.Rule, error) {
	var out []domain.Rule
	err := s.store.RunInTx(ctx, func(tx domain.Tx) error {
		col, err := tx.GetColumn(ctx, columnID)
		if err != nil {
			return err
		}
		if err := domain.Authorize(ctx, tx, col.BoardID, actor, domain.PermView); err != nil {
			return err
		}
		out, err = tx.ListRules(ctx, columnID)
		return err
	})
	return out, err
}

// CreateRule binds a rule to columnID. Targets must exist when the rule is
// created, and the actor must be able to move cards on a foreign target board.
func (s *Service) CreateRule(ctx context.Context, actor, columnID string, in RuleInput) (domain.Rule, error) {
	r := domain.Rule{
		ID:        s.NewID(),
		ColumnID:  columnID,
		Type:      in.Type,
		Payload:   in.Payload,
		Enabled:   in.Enabled == nil || *in.Enabled,
		CreatedAt: s.Now(),
	}
	r.Normalize()
	if err := r.Validate(); err != nil {
		return domain.Rule{}, err
	}
	err := s.store.RunInTx(ctx, func(tx domain.Tx) error {
		col, err := tx.GetColumn(ctx, columnID)
		if err != nil {
			return err
		}
		if err := domain.Authorize(ctx, tx, col.BoardID, actor, domain.PermEditColumn); err != nil {
			return err
		}
		if err := checkRuleTarget(ctx, tx, actor, col, r); err != nil {
			return err
		}
		return tx.InsertRule(ctx, r)
	})
	if err != nil {
		return domain.Rule{}, err
	}
	s.logger.WithFields(log.Fields{"rule_id": r.ID, "column_id": columnID, "type": r.Type}).Debug("rule created")
	return r, nil
}

func checkRuleTarget(ctx context.Context, tx domain.Tx, actor string, col domain.Column, r domain.Rule) error {
	switch r.Type {
	case domain.RuleAddLabel:
		label, err := tx.GetLabel(ctx, r.Payload.LabelID)
		if err != nil {
			return err
		}
		if label.BoardID != col.BoardID {
			return domain.Invalidf("label %s belongs to another board", label.ID)
		}
		return nil
	default:
		target, err := tx.GetColumn(ctx, r.Payload.TargetColumnID)
		if err != nil {
			return err
		}
		if r.Payload.TargetBoardID != "" && r.Payload.TargetBoardID != target.BoardID {
			return domain.Invalidf("column %s is not on board %s", target.ID, r.Payload.TargetBoardID)
		}
		if target.BoardID != col.BoardID {
			return domain.Authorize(ctx, tx, target.BoardID, actor, domain.PermMoveCard)
		}
		return nil
	}
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, actor, ruleID string) error {
	return s.store.RunInTx(ctx, func(tx domain.Tx) error {
		r, err := tx.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		col, err := tx.GetColumn(ctx, r.ColumnID)
		if err != nil {
			return err
		}
		if err := domain.Authorize(ctx, tx, col.BoardID, actor, domain.PermEditColumn); err != nil {
			return err
		}
		return tx.DeleteRule(ctx, ruleID)
	})
}
