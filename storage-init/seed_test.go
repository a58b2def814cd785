package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-board/domain"
	"prism-board/position"
	"prism-board/storage"
)

const sampleSeed = `
boards:
  - id: roadmap
    name: Roadmap
    owner: alice
    members:
      - user: bob
        role: MEMBER
    labels:
      - id: bug
        name: Bug
        color: red
    columns:
      - id: todo
        name: To Do
        cards:
          - title: Write docs
            labels: [bug]
          - title: Ship it
        rules:
          - type: MOVE_TO_COLUMN
            target_column: done
            edge: top
      - id: done
        name: Done
        rules:
          - type: ADD_LABEL
            label: Bug
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSeedApply(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	seed, err := LoadSeed(writeSeed(t, sampleSeed))
	require.NoError(t, err)
	n, err := seed.Apply(ctx, store, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var snap domain.BoardSnapshot
	var rules []domain.Rule
	require.NoError(t, store.RunInTx(ctx, func(tx domain.Tx) error {
		var err error
		if snap, err = domain.LoadSnapshot(ctx, tx, "roadmap"); err != nil {
			return err
		}
		rules, err = tx.ListRules(ctx, "todo")
		return err
	}))
	assert.Equal(t, "alice", snap.Board.OwnerID)
	require.Len(t, snap.Columns, 2)
	assert.Equal(t, position.Step, snap.Columns[0].Position)
	require.Len(t, snap.Columns[0].Cards, 2)
	assert.Equal(t, "Write docs", snap.Columns[0].Cards[0].Title)
	assert.Equal(t, []string{"bug"}, snap.Columns[0].Cards[0].Labels)
	assert.Equal(t, 2*position.Step, snap.Columns[0].Cards[1].Position)

	require.Len(t, rules, 1)
	assert.Equal(t, "done", rules[0].Payload.TargetColumnID)
	assert.Equal(t, domain.EdgeTop, rules[0].Payload.Edge)

	again, err := seed.Apply(ctx, store, logger)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestSeedRejectsUnknownReferences(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	logger, _ := test.NewNullLogger()

	seed, err := LoadSeed(writeSeed(t, `
boards:
  - name: Broken
    owner: alice
    columns:
      - name: To Do
        rules:
          - type: MOVE_TO_COLUMN
            target_column: Nowhere
`))
	require.NoError(t, err)
	_, err = seed.Apply(context.Background(), store, logger)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoadSeedMissingFile(t *testing.T) {
	_, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
