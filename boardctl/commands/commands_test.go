package commands

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-board/domain"
	"prism-board/move"
	"prism-board/stream"
)

func sampleBoard() domain.BoardSnapshot {
	card := func(id, col, title string, pos float64, labels ...string) domain.Card {
		if labels == nil {
			labels = []string{}
		}
		return domain.Card{ID: id, ColumnID: col, BoardID: "b1", Title: title, Position: pos, Labels: labels}
	}
	return domain.BoardSnapshot{
		Board:  domain.Board{ID: "b1", Name: "Roadmap"},
		Labels: []domain.Label{{ID: "l1", BoardID: "b1", Name: "Bug"}},
		Columns: []domain.ColumnSnapshot{
			{
				Column: domain.Column{ID: "todo", BoardID: "b1", Name: "To Do", Position: 65536},
				Cards: []domain.Card{
					card("c1", "todo", "Write docs", 65536, "l1"),
					card("c2", "todo", "Ship it", 131072),
				},
			},
			{
				Column: domain.Column{ID: "done", BoardID: "b1", Name: "Done", Position: 131072},
				Cards:  []domain.Card{},
			},
		},
	}
}

// run executes the root command against server and returns stdout, stderr.
func run(t *testing.T, server string, args ...string) (string, string, error) {
	t.Helper()
	color.NoColor = true
	moveBoardID, moveTo, movePrev, moveNext = "", "", "", ""
	moveIndex, moveColumn, watchClear = 0, false, false

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append(args, "--server", server, "--token", "tok"))
	err := Execute()
	return stdout.String(), stderr.String(), err
}

func boardServer(t *testing.T, moves func(w http.ResponseWriter, req move.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/boards/b1":
			data, err := sonic.Marshal(sampleBoard())
			require.NoError(t, err)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(data)
		case r.Method == http.MethodGet && r.URL.Path == "/api/boards/b1/stream":
			stream.SetHeaders(w)
			require.NoError(t, stream.WriteFrame(w, stream.SnapshotEvent, sampleBoard()))
		case r.Method == http.MethodPost && r.URL.Path == "/api/moves" && moves != nil:
			body, _ := io.ReadAll(r.Body)
			var req move.Request
			require.NoError(t, sonic.Unmarshal(body, &req))
			moves(w, req)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRenderListsColumnsInOrder(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	render(&buf, sampleBoard())
	out := buf.String()

	assert.Contains(t, out, "Roadmap [b1]")
	assert.Contains(t, out, "To Do [todo] 2 card(s)")
	assert.Contains(t, out, " 1. Write docs #Bug [c1 @65536]")
	assert.Contains(t, out, " 2. Ship it [c2 @131072]")
	assert.Less(t, strings.Index(out, "To Do"), strings.Index(out, "Done"))
}

func TestCheckKeys(t *testing.T) {
	assert.Empty(t, checkKeys("column a", []string{"x", "y"}, []float64{1, 2}))
	assert.Empty(t, checkKeys("column a", nil, nil))

	got := checkKeys("column a", []string{"x", "y"}, []float64{2, 2})
	require.Len(t, got, 1)
	assert.Equal(t, "keys are not strictly increasing", got[0].Problem)

	got = checkKeys("column a", []string{"x", "y"}, []float64{1, math.NaN()})
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Problem, "non-finite")

	got = checkKeys("column a", []string{"x", "y", "z"}, []float64{0, 1, math.Nextafter(1, 2)})
	require.Len(t, got, 2)
	assert.Equal(t, "no room before x", got[0].Problem)
	assert.Equal(t, "no room between y and z", got[1].Problem)
}

func TestCheckBoardCoversEveryContainer(t *testing.T) {
	snap := sampleBoard()
	snap.Columns[1].Position = snap.Columns[0].Position
	snap.Columns[0].Cards[1].Position = snap.Columns[0].Cards[0].Position

	got := checkBoard(snap)
	require.Len(t, got, 2)
	assert.Equal(t, "board b1", got[0].Container)
	assert.Equal(t, "column todo", got[1].Container)
}

func TestSnapshotCommand(t *testing.T) {
	srv := boardServer(t, nil)
	out, _, err := run(t, srv.URL, "snapshot", "b1")
	require.NoError(t, err)
	assert.Contains(t, out, "Write docs")
}

func TestSnapshotCommandReportsMissingBoard(t *testing.T) {
	srv := boardServer(t, nil)
	_, stderr, err := run(t, srv.URL, "snapshot", "nope")
	require.Error(t, err)
	assert.Contains(t, stderr, "failed to load board")
}

func TestMoveCommand(t *testing.T) {
	var got move.Request
	srv := boardServer(t, func(w http.ResponseWriter, req move.Request) {
		got = req
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"itemId":"c1","containerId":"done","boardId":"b1","position":65536,"containerChanged":true,"renumbered":false,
			"automation":{"applied":1,"failed":0,"skipped":0,"truncated":false}}`)
	})

	out, _, err := run(t, srv.URL, "move", "c1", "--board", "b1", "--to", "done")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ItemID)
	assert.Equal(t, move.KindCard, got.Kind)
	assert.Equal(t, "done", got.TargetContainerID)
	assert.Contains(t, out, "✓ moved c1 to done @65536")
	assert.Contains(t, out, "rules: 1 applied, 0 failed, 0 skipped")
	assert.Contains(t, out, "Done [done] 1 card(s)")
}

func TestMoveCommandColumnDefaultsToBoard(t *testing.T) {
	var got move.Request
	srv := boardServer(t, func(w http.ResponseWriter, req move.Request) {
		got = req
		fmt.Fprint(w, `{"itemId":"done","containerId":"b1","boardId":"b1","position":32768,"containerChanged":false,"renumbered":false}`)
	})

	_, _, err := run(t, srv.URL, "move", "done", "--board", "b1", "--column", "--index", "1")
	require.NoError(t, err)
	assert.Equal(t, move.KindColumn, got.Kind)
	assert.Equal(t, "b1", got.TargetContainerID)
	assert.Equal(t, 1, got.Index)
}

func TestMoveCommandConflict(t *testing.T) {
	srv := boardServer(t, func(w http.ResponseWriter, req move.Request) {
		http.Error(w, "neighbours moved", http.StatusConflict)
	})

	_, stderr, err := run(t, srv.URL, "move", "c2", "--board", "b1", "--to", "todo", "--next", "c1")
	require.Error(t, err)
	assert.Contains(t, stderr, "move rejected")
	assert.Contains(t, stderr, "board changed underneath you")
}

func TestMoveCommandNeedsDestination(t *testing.T) {
	srv := boardServer(t, nil)
	_, stderr, err := run(t, srv.URL, "move", "c1", "--board", "b1")
	require.Error(t, err)
	assert.Contains(t, stderr, "--to is required")
}

func TestWatchCommandRendersSnapshot(t *testing.T) {
	srv := boardServer(t, nil)
	out, _, err := run(t, srv.URL, "watch", "b1")
	require.NoError(t, err)
	assert.Contains(t, out, "updated ")
	assert.Contains(t, out, "Ship it")
}
