// Package domaintest provides an in-memory domain.Store for tests.
package domaintest

import (
	"context"
	"sort"
	"sync"

	"prism-board/domain"
)

type columnRow struct {
	domain.Column
	seq int64
}

type cardRow struct {
	domain.Card
	seq int64
}

type labelRow struct {
	domain.Label
	seq int64
}

type ruleRow struct {
	domain.Rule
	seq int64
}

type state struct {
	seq        int64
	boards     map[string]domain.Board
	members    map[string]map[string]domain.Member
	columns    map[string]columnRow
	cards      map[string]cardRow
	labels     map[string]labelRow
	cardLabels map[string]map[string]int64
	rules      map[string]ruleRow
}

func newState() *state {
	return &state{
		boards:     map[string]domain.Board{},
		members:    map[string]map[string]domain.Member{},
		columns:    map[string]columnRow{},
		cards:      map[string]cardRow{},
		labels:     map[string]labelRow{},
		cardLabels: map[string]map[string]int64{},
		rules:      map[string]ruleRow{},
	}
}

func (s *state) clone() *state {
	out := newState()
	out.seq = s.seq
	for k, v := range s.boards {
		out.boards[k] = v
	}
	for b, ms := range s.members {
		cp := make(map[string]domain.Member, len(ms))
		for u, m := range ms {
			cp[u] = m
		}
		out.members[b] = cp
	}
	for k, v := range s.columns {
		out.columns[k] = v
	}
	for k, v := range s.cards {
		if v.DueAt != nil {
			due := *v.DueAt
			v.DueAt = &due
		}
		out.cards[k] = v
	}
	for k, v := range s.labels {
		out.labels[k] = v
	}
	for c, ls := range s.cardLabels {
		cp := make(map[string]int64, len(ls))
		for l, seq := range ls {
			cp[l] = seq
		}
		out.cardLabels[c] = cp
	}
	for k, v := range s.rules {
		out.rules[k] = v
	}
	return out
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// MemStore is a serializable in-memory store. Each transaction works on a copy
// of the state that replaces the committed state only when fn returns nil.
type MemStore struct {
	mu    sync.Mutex
	state *state
	txs   int
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{state: newState()}
}

// RunInTx implements domain.Store.
func (m *MemStore) RunInTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs++
	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Transactions returns how many transactions were started.
func (m *MemStore) Transactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txs
}

// CardCount returns the number of stored cards, archived included.
func (m *MemStore) CardCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.cards)
}

type memTx struct {
	s *state
}

func (t *memTx) InsertBoard(_ context.Context, b domain.Board) error {
	if _, ok := t.s.boards[b.ID]; ok {
		return domain.Conflictf("board %s exists", b.ID)
	}
	t.s.boards[b.ID] = b
	return nil
}

func (t *memTx) GetBoard(_ context.Context, id string) (domain.Board, error) {
	b, ok := t.s.boards[id]
	if !ok {
		return domain.Board{}, domain.NotFoundf("board %s", id)
	}
	return b, nil
}

func (t *memTx) UpdateBoard(_ context.Context, b domain.Board) error {
	if _, ok := t.s.boards[b.ID]; !ok {
		return domain.NotFoundf("board %s", b.ID)
	}
	t.s.boards[b.ID] = b
	return nil
}

func (t *memTx) GetMember(_ context.Context, boardID, userID string) (domain.Member, error) {
	m, ok := t.s.members[boardID][userID]
	if !ok {
		return domain.Member{}, domain.NotFoundf("member %s on board %s", userID, boardID)
	}
	return m, nil
}

func (t *memTx) ListMembers(_ context.Context, boardID string) ([]domain.Member, error) {
	out := []domain.Member{}
	for _, m := range t.s.members[boardID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *memTx) PutMember(_ context.Context, m domain.Member) error {
	if _, ok := t.s.boards[m.BoardID]; !ok {
		return domain.NotFoundf("board %s", m.BoardID)
	}
	if t.s.members[m.BoardID] == nil {
		t.s.members[m.BoardID] = map[string]domain.Member{}
	}
	t.s.members[m.BoardID][m.UserID] = m
	return nil
}

func (t *memTx) DeleteMember(_ context.Context, boardID, userID string) error {
	if _, ok := t.s.members[boardID][userID]; !ok {
		return domain.NotFoundf("member %s on board %s", userID, boardID)
	}
	delete(t.s.members[boardID], userID)
	return nil
}

func (t *memTx) InsertColumn(_ context.Context, c domain.Column) error {
	if _, ok := t.s.boards[c.BoardID]; !ok {
		return domain.NotFoundf("board %s", c.BoardID)
	}
	if _, ok := t.s.columns[c.ID]; ok {
		return domain.Conflictf("column %s exists", c.ID)
	}
	t.s.columns[c.ID] = columnRow{Column: c, seq: t.s.next()}
	return nil
}

func (t *memTx) GetColumn(_ context.Context, id string) (domain.Column, error) {
	r, ok := t.s.columns[id]
	if !ok {
		return domain.Column{}, domain.NotFoundf("column %s", id)
	}
	return r.Column, nil
}

func (t *memTx) ListColumns(_ context.Context, boardID string) ([]domain.Column, error) {
	rows := []columnRow{}
	for _, r := range t.s.columns {
		if r.BoardID == boardID && !r.Archived {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Position != rows[j].Position {
			return rows[i].Position < rows[j].Position
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]domain.Column, len(rows))
	for i, r := range rows {
		out[i] = r.Column
	}
	return out, nil
}

func (t *memTx) UpdateColumn(_ context.Context, c domain.Column) (domain.Column, error) {
	r, ok := t.s.columns[c.ID]
	if !ok {
		return domain.Column{}, domain.NotFoundf("column %s", c.ID)
	}
	if r.Version != c.Version {
		return domain.Column{}, domain.Conflictf("column %s version %d, have %d", c.ID, r.Version, c.Version)
	}
	c.Version++
	r.Column = c
	t.s.columns[c.ID] = r
	return c, nil
}

func (t *memTx) DeleteColumn(_ context.Context, id string) error {
	if _, ok := t.s.columns[id]; !ok {
		return domain.NotFoundf("column %s", id)
	}
	delete(t.s.columns, id)
	for cid, r := range t.s.cards {
		if r.ColumnID == id {
			delete(t.s.cards, cid)
			delete(t.s.cardLabels, cid)
		}
	}
	for rid, r := range t.s.rules {
		if r.ColumnID == id {
			delete(t.s.rules, rid)
		}
	}
	return nil
}

func (t *memTx) InsertCard(_ context.Context, c domain.Card) error {
	if _, ok := t.s.columns[c.ColumnID]; !ok {
		return domain.NotFoundf("column %s", c.ColumnID)
	}
	if _, ok := t.s.cards[c.ID]; ok {
		return domain.Conflictf("card %s exists", c.ID)
	}
	c.Labels = nil
	t.s.cards[c.ID] = cardRow{Card: c, seq: t.s.next()}
	return nil
}

func (t *memTx) GetCard(_ context.Context, id string) (domain.Card, error) {
	r, ok := t.s.cards[id]
	if !ok {
		return domain.Card{}, domain.NotFoundf("card %s", id)
	}
	return t.withLabels(r.Card), nil
}

func (t *memTx) withLabels(c domain.Card) domain.Card {
	type pair struct {
		id  string
		seq int64
	}
	pairs := []pair{}
	for l, seq := range t.s.cardLabels[c.ID] {
		pairs = append(pairs, pair{l, seq})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].seq < pairs[j].seq })
	c.Labels = make([]string, len(pairs))
	for i, p := range pairs {
		c.Labels[i] = p.id
	}
	return c
}

func (t *memTx) ListCards(_ context.Context, columnID string) ([]domain.Card, error) {
	rows := []cardRow{}
	for _, r := range t.s.cards {
		if r.ColumnID == columnID && !r.Archived {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Position != rows[j].Position {
			return rows[i].Position < rows[j].Position
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]domain.Card, len(rows))
	for i, r := range rows {
		out[i] = t.withLabels(r.Card)
	}
	return out, nil
}

func (t *memTx) UpdateCard(_ context.Context, c domain.Card) (domain.Card, error) {
	r, ok := t.s.cards[c.ID]
	if !ok {
		return domain.Card{}, domain.NotFoundf("card %s", c.ID)
	}
	if r.Version != c.Version {
		return domain.Card{}, domain.Conflictf("card %s version %d, have %d", c.ID, r.Version, c.Version)
	}
	if _, ok := t.s.columns[c.ColumnID]; !ok {
		return domain.Card{}, domain.NotFoundf("column %s", c.ColumnID)
	}
	c.Version++
	stored := c
	stored.Labels = nil
	r.Card = stored
	t.s.cards[c.ID] = r
	return t.withLabels(stored), nil
}

func (t *memTx) DeleteCard(_ context.Context, id string) error {
	if _, ok := t.s.cards[id]; !ok {
		return domain.NotFoundf("card %s", id)
	}
	delete(t.s.cards, id)
	delete(t.s.cardLabels, id)
	return nil
}

func (t *memTx) InsertLabel(_ context.Context, l domain.Label) error {
	if _, ok := t.s.boards[l.BoardID]; !ok {
		return domain.NotFoundf("board %s", l.BoardID)
	}
	if _, ok := t.s.labels[l.ID]; ok {
		return domain.Conflictf("label %s exists", l.ID)
	}
	t.s.labels[l.ID] = labelRow{Label: l, seq: t.s.next()}
	return nil
}

func (t *memTx) GetLabel(_ context.Context, id string) (domain.Label, error) {
	r, ok := t.s.labels[id]
	if !ok {
		return domain.Label{}, domain.NotFoundf("label %s", id)
	}
	return r.Label, nil
}

func (t *memTx) ListLabels(_ context.Context, boardID string) ([]domain.Label, error) {
	rows := []labelRow{}
	for _, r := range t.s.labels {
		if r.BoardID == boardID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Position != rows[j].Position {
			return rows[i].Position < rows[j].Position
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]domain.Label, len(rows))
	for i, r := range rows {
		out[i] = r.Label
	}
	return out, nil
}

func (t *memTx) AttachLabel(_ context.Context, cardID, labelID string) (bool, error) {
	if _, ok := t.s.cards[cardID]; !ok {
		return false, domain.NotFoundf("card %s", cardID)
	}
	if _, ok := t.s.labels[labelID]; !ok {
		return false, domain.NotFoundf("label %s", labelID)
	}
	if t.s.cardLabels[cardID] == nil {
		t.s.cardLabels[cardID] = map[string]int64{}
	}
	if _, ok := t.s.cardLabels[cardID][labelID]; ok {
		return false, nil
	}
	t.s.cardLabels[cardID][labelID] = t.s.next()
	return true, nil
}

func (t *memTx) DetachLabel(_ context.Context, cardID, labelID string) (bool, error) {
	if _, ok := t.s.cardLabels[cardID][labelID]; !ok {
		return false, nil
	}
	delete(t.s.cardLabels[cardID], labelID)
	return true, nil
}

func (t *memTx) InsertRule(_ context.Context, r domain.Rule) error {
	if _, ok := t.s.columns[r.ColumnID]; !ok {
		return domain.NotFoundf("column %s", r.ColumnID)
	}
	if _, ok := t.s.rules[r.ID]; ok {
		return domain.Conflictf("rule %s exists", r.ID)
	}
	t.s.rules[r.ID] = ruleRow{Rule: r, seq: t.s.next()}
	return nil
}

func (t *memTx) GetRule(_ context.Context, id string) (domain.Rule, error) {
	r, ok := t.s.rules[id]
	if !ok {
		return domain.Rule{}, domain.NotFoundf("rule %s", id)
	}
	return r.Rule, nil
}

func (t *memTx) ListRules(_ context.Context, columnID string) ([]domain.Rule, error) {
	rows := []ruleRow{}
	for _, r := range t.s.rules {
		if r.ColumnID == columnID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]domain.Rule, len(rows))
	for i, r := range rows {
		out[i] = r.Rule
	}
	return out, nil
}

func (t *memTx) DeleteRule(_ context.Context, id string) error {
	if _, ok := t.s.rules[id]; !ok {
		return domain.NotFoundf("rule %s", id)
	}
	delete(t.s.rules, id)
	return nil
}
