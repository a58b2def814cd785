package domain

import "time"

// RuleType selects the action an automation rule performs.
type RuleType string

const (
	RuleMoveToColumn RuleType = "MOVE_TO_COLUMN"
	RuleCopyToColumn RuleType = "COPY_TO_COLUMN"
	RuleAddLabel     RuleType = "ADD_LABEL"
)

// Edge is the end of the destination column a moved or copied card lands on.
type Edge string

const (
	EdgeTop    Edge = "top"
	EdgeBottom Edge = "bottom"
)

// RulePayload carries the type specific rule configuration.
type RulePayload struct {
	TargetBoardID  string `json:"targetBoardId,omitempty"`
	TargetColumnID string `json:"targetColumnId,omitempty"`
	Edge           Edge   `json:"edge,omitempty"`
	LabelID        string `json:"labelId,omitempty"`
}

// Rule fires when a card enters ColumnID. Rules of a column run in creation order.
type Rule struct {
	ID        string      `json:"id"`
	ColumnID  string      `json:"columnId"`
	Type      RuleType    `json:"type"`
	Payload   RulePayload `json:"payload"`
	Enabled   bool        `json:"enabled"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Normalize fills payload defaults.
func (r *Rule) Normalize() {
	if (r.Type == RuleMoveToColumn || r.Type == RuleCopyToColumn) && r.Payload.Edge == "" {
		r.Payload.Edge = EdgeBottom
	}
}

// Validate checks that the payload matches the rule type.
func (r Rule) Validate() error {
	if r.ColumnID == "" {
		return Invalidf("rule column is required")
	}
	switch r.Type {
	case RuleMoveToColumn, RuleCopyToColumn:
		if r.Payload.TargetColumnID == "" {
			return Invalidf("%s requires targetColumnId", r.Type)
		}
		if r.Payload.LabelID != "" {
			return Invalidf("%s does not take labelId", r.Type)
		}
		switch r.Payload.Edge {
		case "", EdgeTop, EdgeBottom:
		default:
			return Invalidf("unknown edge %q", r.Payload.Edge)
		}
	case RuleAddLabel:
		if r.Payload.LabelID == "" {
			return Invalidf("ADD_LABEL requires labelId")
		}
		if r.Payload.TargetColumnID != "" || r.Payload.TargetBoardID != "" {
			return Invalidf("ADD_LABEL does not take a target column")
		}
	default:
		return Invalidf("unknown rule type %q", r.Type)
	}
	return nil
}
