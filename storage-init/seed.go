package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"prism-board/domain"
	"prism-board/position"
)

// SeedFile describes boards to create on first start.
type SeedFile struct {
	Boards []SeedBoard `yaml:"boards"`
}

type SeedBoard struct {
	ID      string       `yaml:"id,omitempty"`
	Name    string       `yaml:"name"`
	Owner   string       `yaml:"owner"`
	Members []SeedMember `yaml:"members,omitempty"`
	Labels  []SeedLabel  `yaml:"labels,omitempty"`
	Columns []SeedColumn `yaml:"columns"`
}

type SeedMember struct {
	User string      `yaml:"user"`
	Role domain.Role `yaml:"role"`
}

type SeedLabel struct {
	ID    string `yaml:"id,omitempty"`
	Name  string `yaml:"name"`
	Color string `yaml:"color,omitempty"`
}

type SeedColumn struct {
	ID    string     `yaml:"id,omitempty"`
	Name  string     `yaml:"name"`
	Cards []SeedCard `yaml:"cards,omitempty"`
	Rules []SeedRule `yaml:"rules,omitempty"`
}

type SeedCard struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Labels      []string `yaml:"labels,omitempty"`
}

// SeedRule references columns and labels by their seed ids.
type SeedRule struct {
	Type         domain.RuleType `yaml:"type"`
	TargetColumn string          `yaml:"target_column,omitempty"`
	Edge         domain.Edge     `yaml:"edge,omitempty"`
	Label        string          `yaml:"label,omitempty"`
}

// LoadSeed reads and parses a seed file.
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &seed, nil
}

// Apply creates every board of the seed that does not exist yet, all in one
// transaction. It returns the number of boards created.
func (s *SeedFile) Apply(ctx context.Context, store domain.Store, logger *log.Logger) (int, error) {
	now := time.Now().UTC()
	created := 0
	err := store.RunInTx(ctx, func(tx domain.Tx) error {
		created = 0
		for _, b := range s.Boards {
			if b.ID != "" {
				_, err := tx.GetBoard(ctx, b.ID)
				if err == nil {
					logger.WithField("board_id", b.ID).Info("seed board exists; skipping")
					continue
				}
				if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
			}
			if err := b.insert(ctx, tx, now); err != nil {
				return fmt.Errorf("board %q: %w", b.Name, err)
			}
			created++
		}
		return nil
	})
	return created, err
}

func orID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func slot(i int) float64 {
	return float64(i+1) * position.Step
}

func (b SeedBoard) insert(ctx context.Context, tx domain.Tx, now time.Time) error {
	if b.Name == "" || b.Owner == "" {
		return domain.Invalidf("name and owner are required")
	}
	board := domain.Board{ID: orID(b.ID), Name: b.Name, OwnerID: b.Owner, CreatedAt: now, UpdatedAt: now}
	if err := tx.InsertBoard(ctx, board); err != nil {
		return err
	}
	if err := tx.PutMember(ctx, domain.Member{BoardID: board.ID, UserID: b.Owner, Role: domain.RoleAdmin}); err != nil {
		return err
	}
	for _, m := range b.Members {
		if !m.Role.Valid() || m.User == b.Owner {
			return domain.Invalidf("member %q has role %q", m.User, m.Role)
		}
		if err := tx.PutMember(ctx, domain.Member{BoardID: board.ID, UserID: m.User, Role: m.Role}); err != nil {
			return err
		}
	}

	labels := make(map[string]string, len(b.Labels))
	for i, l := range b.Labels {
		label := domain.Label{ID: orID(l.ID), BoardID: board.ID, Name: l.Name, Color: l.Color, Position: slot(i)}
		if err := tx.InsertLabel(ctx, label); err != nil {
			return err
		}
		labels[l.Name] = label.ID
		if l.ID != "" {
			labels[l.ID] = label.ID
		}
	}

	columns := make(map[string]string, len(b.Columns))
	for i, c := range b.Columns {
		col := domain.Column{ID: orID(c.ID), BoardID: board.ID, Name: c.Name, Position: slot(i), CreatedAt: now, UpdatedAt: now}
		if err := tx.InsertColumn(ctx, col); err != nil {
			return err
		}
		columns[c.Name] = col.ID
		if c.ID != "" {
			columns[c.ID] = col.ID
		}
		for j, sc := range c.Cards {
			card := domain.Card{
				ID: uuid.NewString(), ColumnID: col.ID, BoardID: board.ID,
				Title: sc.Title, Description: sc.Description, Position: slot(j),
				Labels: []string{}, CreatedAt: now, UpdatedAt: now,
			}
			if err := tx.InsertCard(ctx, card); err != nil {
				return err
			}
			for _, ref := range sc.Labels {
				labelID, ok := labels[ref]
				if !ok {
					return domain.Invalidf("card %q uses unknown label %q", sc.Title, ref)
				}
				if _, err := tx.AttachLabel(ctx, card.ID, labelID); err != nil {
					return err
				}
			}
		}
	}

	// rules may point at any column of the board, so they go in last
	for _, c := range b.Columns {
		for _, sr := range c.Rules {
			r := domain.Rule{
				ID:        uuid.NewString(),
				ColumnID:  columns[c.Name],
				Type:      sr.Type,
				Payload:   domain.RulePayload{Edge: sr.Edge},
				Enabled:   true,
				CreatedAt: now,
			}
			if sr.TargetColumn != "" {
				target, ok := columns[sr.TargetColumn]
				if !ok {
					return domain.Invalidf("rule on %q targets unknown column %q", c.Name, sr.TargetColumn)
				}
				r.Payload.TargetColumnID = target
				r.Payload.TargetBoardID = board.ID
			}
			if sr.Label != "" {
				labelID, ok := labels[sr.Label]
				if !ok {
					return domain.Invalidf("rule on %q uses unknown label %q", c.Name, sr.Label)
				}
				r.Payload.LabelID = labelID
			}
			r.Normalize()
			if err := r.Validate(); err != nil {
				return err
			}
			if err := tx.InsertRule(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}
