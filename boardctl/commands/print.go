package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"prism-board/domain"
)

func init() {
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// render writes snap as a column-by-column listing.
func render(w io.Writer, snap domain.BoardSnapshot) {
	labels := make(map[string]string, len(snap.Labels))
	for _, l := range snap.Labels {
		labels[l.ID] = l.Name
	}
	cyan.Fprintf(w, "%s", snap.Board.Name)
	faint.Fprintf(w, " [%s]\n", snap.Board.ID)
	for _, col := range snap.Columns {
		fmt.Fprintln(w)
		green.Fprintf(w, "%s", col.Name)
		faint.Fprintf(w, " [%s] %d card(s)\n", col.ID, len(col.Cards))
		for i, card := range col.Cards {
			fmt.Fprintf(w, "  %2d. %s", i+1, card.Title)
			for _, id := range card.Labels {
				name, ok := labels[id]
				if !ok {
					name = id
				}
				yellow.Fprintf(w, " #%s", name)
			}
			faint.Fprintf(w, " [%s @%g]\n", card.ID, card.Position)
		}
	}
}

// failure prints err in red to w and returns a short error for cobra.
func failure(w io.Writer, title string, err error) error {
	red.Fprintf(w, "%s\n", title)
	fmt.Fprintf(w, "%v\n", err)
	switch {
	case errors.Is(err, domain.ErrConflict):
		fmt.Fprintln(w, "\nThe board changed underneath you; run `boardctl snapshot` and retry.")
	case errors.Is(err, domain.ErrForbidden):
		fmt.Fprintln(w, "\nCheck --token; you must be a member of the board.")
	}
	return fmt.Errorf("%s", title)
}
