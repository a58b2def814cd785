// Package reconcile keeps a client's view of a board consistent with the
// server while the client applies its own moves optimistically.
//
// The reconciler holds the last confirmed board state plus an ordered list of
// pending local moves. The visible view is always the confirmed state with the
// pending moves replayed on top, so foreign events, confirmations and
// rollbacks can land in any order without losing a move.
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"prism-board/domain"
	"prism-board/move"
	"prism-board/position"
)

// ErrRolledBack wraps the server error of a failed optimistic move. The move
// may be retried against the refreshed view.
var ErrRolledBack = errors.New("reconcile: optimistic move rolled back")

// Token identifies a pending optimistic move.
type Token uint64

type pendingMove struct {
	token       Token
	req         move.Request
	containerID string
	position    float64
	// siblings is set when the local allocation had to renumber the container.
	siblings map[string]float64
}

// Reconciler merges local optimistic moves with the authoritative event stream.
type Reconciler struct {
	sessionID string

	mu        sync.Mutex
	confirmed domain.BoardSnapshot
	view      domain.BoardSnapshot
	pending   []pendingMove
	next      Token
}

// New returns a reconciler for sessionID seeded with snap.
func New(sessionID string, snap domain.BoardSnapshot) *Reconciler {
	r := &Reconciler{sessionID: sessionID}
	r.Reset(snap)
	return r
}

// SessionID is the id sent with every request of this client.
func (r *Reconciler) SessionID() string {
	return r.sessionID
}

// Reset replaces the confirmed state, typically with a fresh snapshot frame,
// and replays pending moves on top of it.
func (r *Reconciler) Reset(snap domain.BoardSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = cloneSnapshot(snap)
	sortSnapshot(&r.confirmed)
	r.rebuild()
}

// View returns a copy of the visible board.
func (r *Reconciler) View() domain.BoardSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSnapshot(r.view)
}

// Pending returns the number of unconfirmed local moves.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ApplyMove applies req to the view immediately and returns the token to
// confirm or fail it with, plus the locally computed placement.
func (r *Reconciler) ApplyMove(req move.Request) (Token, move.Placement, error) {
	if req.Kind == "" {
		req.Kind = move.KindCard
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	pm := pendingMove{req: req, containerID: req.TargetContainerID}
	var err error
	switch req.Kind {
	case move.KindCard:
		pm.position, pm.siblings, err = planCard(&r.view, req)
	case move.KindColumn:
		pm.position, pm.siblings, err = planColumn(&r.view, req)
	default:
		err = domain.Invalidf("unknown itemKind %q", req.Kind)
	}
	if err != nil {
		return 0, move.Placement{}, err
	}
	r.next++
	pm.token = r.next
	r.pending = append(r.pending, pm)
	replay(&r.view, pm)
	return pm.token, move.Placement{
		ItemID:      req.ItemID,
		ContainerID: pm.containerID,
		BoardID:     r.view.Board.ID,
		Position:    pm.position,
	}, nil
}

// Confirm adopts the server's placement for a pending move.
func (r *Reconciler) Confirm(token Token, res move.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pm, ok := r.take(token)
	if !ok {
		return
	}
	final := res.Placement
	if res.Final != nil {
		final = *res.Final
	}
	switch pm.req.Kind {
	case move.KindColumn:
		setColumnKeys(&r.confirmed, res.Siblings)
		placeColumn(&r.confirmed, final.ItemID, final.BoardID, final.Position)
	default:
		setCardKeys(&r.confirmed, res.ContainerID, res.Siblings)
		placeCard(&r.confirmed, final.ItemID, final.ContainerID, final.BoardID, final.Position)
	}
	r.rebuild()
}

// Fail rolls back a pending move and replays any moves made after it. The
// returned error wraps both ErrRolledBack and cause.
func (r *Reconciler) Fail(token Token, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.take(token); ok {
		r.rebuild()
	}
	return fmt.Errorf("%w: %w", ErrRolledBack, cause)
}

// HandleEvent merges a broadcast event. It reports whether the event changed
// the confirmed state. Echoes of this session's own moves are discarded;
// renumbers are always applied since they carry absolute keys for siblings
// the local move never touched.
func (r *Reconciler) HandleEvent(ev domain.Event) bool {
	if r.sessionID != "" && ev.OriginSessionID == r.sessionID && !isRenumber(ev.Type) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.BoardID != r.confirmed.Board.ID {
		return false
	}
	if !merge(&r.confirmed, ev) {
		return false
	}
	r.rebuild()
	return true
}

func (r *Reconciler) take(token Token) (pendingMove, bool) {
	for i, pm := range r.pending {
		if pm.token == token {
			r.pending = append(r.pending[:i:i], r.pending[i+1:]...)
			return pm, true
		}
	}
	return pendingMove{}, false
}

func (r *Reconciler) rebuild() {
	r.view = cloneSnapshot(r.confirmed)
	for _, pm := range r.pending {
		replay(&r.view, pm)
	}
}

func isRenumber(t domain.EventType) bool {
	return t == domain.CardsRenumbered || t == domain.ColumnRenumbered
}

func replay(snap *domain.BoardSnapshot, pm pendingMove) {
	switch pm.req.Kind {
	case move.KindColumn:
		setColumnKeys(snap, pm.siblings)
		placeColumn(snap, pm.req.ItemID, pm.containerID, pm.position)
	default:
		setCardKeys(snap, pm.containerID, pm.siblings)
		placeCard(snap, pm.req.ItemID, pm.containerID, snap.Board.ID, pm.position)
	}
}

// setCardKeys rewrites the listed cards of columnID and re-sorts the column.
func setCardKeys(snap *domain.BoardSnapshot, columnID string, keys map[string]float64) bool {
	ci := findColumn(snap, columnID)
	if ci < 0 {
		return false
	}
	if len(keys) == 0 {
		return true
	}
	cards := snap.Columns[ci].Cards
	for i := range cards {
		if pos, ok := keys[cards[i].ID]; ok {
			cards[i].Position = pos
		}
	}
	domain.SortCards(cards)
	return true
}

// setColumnKeys rewrites the listed columns and re-sorts them.
func setColumnKeys(snap *domain.BoardSnapshot, keys map[string]float64) {
	if len(keys) == 0 {
		return
	}
	for i := range snap.Columns {
		if pos, ok := keys[snap.Columns[i].ID]; ok {
			snap.Columns[i].Position = pos
		}
	}
	sortColumns(snap.Columns)
}

func planCard(snap *domain.BoardSnapshot, req move.Request) (float64, map[string]float64, error) {
	if _, _, ok := findCard(snap, req.ItemID); !ok {
		return 0, nil, domain.Conflictf("card %s is not on this board", req.ItemID)
	}
	ci := findColumn(snap, req.TargetContainerID)
	if ci < 0 {
		return 0, nil, domain.NotFoundf("column %s", req.TargetContainerID)
	}
	var (
		ids  []string
		keys []float64
	)
	for _, c := range snap.Columns[ci].Cards {
		if c.ID != req.ItemID {
			ids = append(ids, c.ID)
			keys = append(keys, c.Position)
		}
	}
	return allocate(ids, keys, req)
}

func planColumn(snap *domain.BoardSnapshot, req move.Request) (float64, map[string]float64, error) {
	if findColumn(snap, req.ItemID) < 0 {
		return 0, nil, domain.Conflictf("column %s is not on this board", req.ItemID)
	}
	if req.TargetContainerID != snap.Board.ID {
		return 0, nil, domain.Invalidf("columns can only be reordered within the watched board")
	}
	var (
		ids  []string
		keys []float64
	)
	for _, c := range snap.Columns {
		if c.ID != req.ItemID {
			ids = append(ids, c.ID)
			keys = append(keys, c.Position)
		}
	}
	return allocate(ids, keys, req)
}

// allocate resolves a local position. When precision runs out locally the
// siblings are renumbered the way the server does it and their new keys are
// returned alongside the item's.
func allocate(ids []string, keys []float64, req move.Request) (float64, map[string]float64, error) {
	index, err := move.ResolveIndex(ids, req.Index, req.PrevID, req.NextID)
	if err != nil {
		return 0, nil, err
	}
	p, err := position.At(keys, index)
	if !errors.Is(err, position.ErrRenumberNeeded) {
		return p, nil, err
	}
	fresh := position.Renumber(len(keys))
	p, err = position.At(fresh, index)
	if err != nil {
		return 0, nil, err
	}
	siblings := make(map[string]float64, len(ids))
	for i, id := range ids {
		siblings[id] = fresh[i]
	}
	return p, siblings, nil
}

func findColumn(snap *domain.BoardSnapshot, id string) int {
	for i := range snap.Columns {
		if snap.Columns[i].ID == id {
			return i
		}
	}
	return -1
}

func findCard(snap *domain.BoardSnapshot, id string) (int, int, bool) {
	for ci := range snap.Columns {
		for i := range snap.Columns[ci].Cards {
			if snap.Columns[ci].Cards[i].ID == id {
				return ci, i, true
			}
		}
	}
	return 0, 0, false
}

func removeCard(snap *domain.BoardSnapshot, id string) (domain.Card, bool) {
	ci, i, ok := findCard(snap, id)
	if !ok {
		return domain.Card{}, false
	}
	cards := snap.Columns[ci].Cards
	card := cards[i]
	snap.Columns[ci].Cards = append(cards[:i:i], cards[i+1:]...)
	return card, true
}

// putCard inserts card into its column, keeping the column sorted. Cards for
// other boards or unknown columns are dropped from the view.
func putCard(snap *domain.BoardSnapshot, card domain.Card) {
	removeCard(snap, card.ID)
	if card.Archived || card.BoardID != snap.Board.ID {
		return
	}
	ci := findColumn(snap, card.ColumnID)
	if ci < 0 {
		return
	}
	snap.Columns[ci].Cards = append(snap.Columns[ci].Cards, card)
	domain.SortCards(snap.Columns[ci].Cards)
}

func placeCard(snap *domain.BoardSnapshot, id, columnID, boardID string, pos float64) {
	card, ok := removeCard(snap, id)
	if !ok {
		return
	}
	card.ColumnID = columnID
	card.BoardID = boardID
	card.Position = pos
	putCard(snap, card)
}

func removeColumn(snap *domain.BoardSnapshot, id string) (domain.ColumnSnapshot, bool) {
	i := findColumn(snap, id)
	if i < 0 {
		return domain.ColumnSnapshot{}, false
	}
	col := snap.Columns[i]
	snap.Columns = append(snap.Columns[:i:i], snap.Columns[i+1:]...)
	return col, true
}

func putColumn(snap *domain.BoardSnapshot, col domain.ColumnSnapshot) {
	removeColumn(snap, col.ID)
	if col.Archived || col.BoardID != snap.Board.ID {
		return
	}
	snap.Columns = append(snap.Columns, col)
	sortColumns(snap.Columns)
}

func placeColumn(snap *domain.BoardSnapshot, id, boardID string, pos float64) {
	col, ok := removeColumn(snap, id)
	if !ok {
		return
	}
	col.BoardID = boardID
	col.Position = pos
	putColumn(snap, col)
}

func sortColumns(cols []domain.ColumnSnapshot) {
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
}

func sortSnapshot(snap *domain.BoardSnapshot) {
	sortColumns(snap.Columns)
	for i := range snap.Columns {
		domain.SortCards(snap.Columns[i].Cards)
	}
}

func cloneSnapshot(snap domain.BoardSnapshot) domain.BoardSnapshot {
	out := snap
	out.Members = append([]domain.Member(nil), snap.Members...)
	out.Labels = append([]domain.Label(nil), snap.Labels...)
	out.Columns = make([]domain.ColumnSnapshot, len(snap.Columns))
	for i, col := range snap.Columns {
		out.Columns[i] = col
		out.Columns[i].Cards = append([]domain.Card(nil), col.Cards...)
	}
	return out
}
