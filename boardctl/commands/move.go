package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"prism-board/move"
	"prism-board/reconcile"
)

var (
	moveBoardID string
	moveTo      string
	moveIndex   int
	movePrev    string
	moveNext    string
	moveColumn  bool
)

var errMissingTo = errors.New("--to is required when moving a card")

var moveCmd = &cobra.Command{
	Use:   "move <itemId>",
	Short: "Move a card or column",
	Long: `Move a card to a column, or reorder a column within its board.

The placement is given either as a 1-based --index (0 appends) or as the
neighbours the item should land between. Neighbours must still be adjacent
on the server or the move is rejected.

Examples:
  # Append a card to the Done column
  boardctl move c1 --board b1 --to done

  # Put a card between two others
  boardctl move c1 --board b1 --to doing --prev c7 --next c9

  # Make a column the first on its board
  boardctl move col3 --board b1 --column --index 1`,
	Args: cobra.ExactArgs(1),
	RunE: runMove,
}

func init() {
	moveCmd.Flags().StringVarP(&moveBoardID, "board", "b", "", "Board the item is on")
	moveCmd.Flags().StringVar(&moveTo, "to", "", "Destination column (defaults to the board for --column)")
	moveCmd.Flags().IntVar(&moveIndex, "index", 0, "1-based destination index; 0 appends")
	moveCmd.Flags().StringVar(&movePrev, "prev", "", "Item that should precede the moved one")
	moveCmd.Flags().StringVar(&moveNext, "next", "", "Item that should follow the moved one")
	moveCmd.Flags().BoolVar(&moveColumn, "column", false, "Move a column instead of a card")
	_ = moveCmd.MarkFlagRequired("board")
	rootCmd.AddCommand(moveCmd)
}

func runMove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := newClient()
	snap, err := client.Snapshot(ctx, moveBoardID)
	if err != nil {
		return failure(cmd.ErrOrStderr(), "failed to load board", err)
	}

	req := move.Request{
		ItemID:            args[0],
		Kind:              move.KindCard,
		TargetContainerID: moveTo,
		Index:             moveIndex,
		PrevID:            movePrev,
		NextID:            moveNext,
	}
	if moveColumn {
		req.Kind = move.KindColumn
		if req.TargetContainerID == "" {
			req.TargetContainerID = moveBoardID
		}
	}
	if req.TargetContainerID == "" {
		return failure(cmd.ErrOrStderr(), "missing destination", errMissingTo)
	}

	rec := reconcile.New(client.SessionID, snap)
	res, err := client.Move(ctx, rec, req)
	if err != nil {
		return failure(cmd.ErrOrStderr(), "move rejected", err)
	}

	out := cmd.OutOrStdout()
	green.Fprintf(out, "✓ moved %s to %s @%g", res.ItemID, res.ContainerID, res.Position)
	if res.Renumbered {
		yellow.Fprint(out, " (container renumbered)")
	}
	fmt.Fprintln(out)
	if res.Final != nil && (res.Final.ContainerID != res.ContainerID || res.Final.BoardID != res.BoardID) {
		cyan.Fprintf(out, "automation placed it in %s on board %s\n", res.Final.ContainerID, res.Final.BoardID)
	}
	if a := res.Automation; a != nil && (a.Applied+a.Failed+a.Skipped > 0 || a.Truncated) {
		cyan.Fprintf(out, "rules: %d applied, %d failed, %d skipped", a.Applied, a.Failed, a.Skipped)
		if a.Truncated {
			yellow.Fprint(out, " (chain truncated)")
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out)
	render(out, rec.View())
	return nil
}
