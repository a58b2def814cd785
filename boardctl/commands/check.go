package commands

import (
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"prism-board/domain"
	"prism-board/position"
)

// finding is one ordering problem in a container.
type finding struct {
	Container string
	Problem   string
}

var checkCmd = &cobra.Command{
	Use:   "renumber-check <boardId>",
	Short: "Report containers whose ordering keys need a renumber",
	Long: `Check every column list and card list of a board. Keys must be finite
and strictly increasing, and every gap must still be splittable. A gap that
can no longer be split forces the next insert there to renumber the whole
container.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := newClient().Snapshot(cmd.Context(), args[0])
		if err != nil {
			return failure(cmd.ErrOrStderr(), "failed to load board", err)
		}
		out := cmd.OutOrStdout()
		findings := checkBoard(snap)
		if len(findings) == 0 {
			green.Fprintf(out, "✓ %s: all keys in order\n", snap.Board.Name)
			return nil
		}
		for _, f := range findings {
			yellow.Fprintf(out, "⚠️  %s: %s\n", f.Container, f.Problem)
		}
		return fmt.Errorf("%d container(s) need attention", len(findings))
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func checkBoard(snap domain.BoardSnapshot) []finding {
	var out []finding
	ids := make([]string, len(snap.Columns))
	keys := make([]float64, len(snap.Columns))
	for i, c := range snap.Columns {
		ids[i], keys[i] = c.ID, c.Position
	}
	out = append(out, checkKeys("board "+snap.Board.ID, ids, keys)...)
	for _, c := range snap.Columns {
		ids = ids[:0]
		keys = keys[:0]
		for _, card := range c.Cards {
			ids = append(ids, card.ID)
			keys = append(keys, card.Position)
		}
		out = append(out, checkKeys("column "+c.ID, ids, keys)...)
	}
	return out
}

func checkKeys(container string, ids []string, keys []float64) []finding {
	for i, k := range keys {
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return []finding{{container, fmt.Sprintf("%s has non-finite key %g", ids[i], k)}}
		}
	}
	if !position.Ordered(keys) {
		return []finding{{container, "keys are not strictly increasing"}}
	}
	var out []finding
	if len(keys) > 0 {
		if _, err := position.Head(keys[0], true); errors.Is(err, position.ErrRenumberNeeded) {
			out = append(out, finding{container, "no room before " + ids[0]})
		}
	}
	for i := 1; i < len(keys); i++ {
		if _, err := position.Between(keys[i-1], keys[i]); errors.Is(err, position.ErrRenumberNeeded) {
			out = append(out, finding{container, fmt.Sprintf("no room between %s and %s", ids[i-1], ids[i])})
		}
	}
	return out
}
