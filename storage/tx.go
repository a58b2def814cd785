package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) InsertBoard(ctx context.Context, b domain.Board) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO boards (id, name, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.OwnerID, toMillis(b.CreatedAt), toMillis(b.UpdatedAt))
	return classify(err, "board "+b.ID)
}

func (t *sqlTx) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	var (
		b                  domain.Board
		created, updated int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at, updated_at FROM boards WHERE id = ?`, id).
		Scan(&b.ID, &b.Name, &b.OwnerID, &created, &updated)
	if err != nil {
		return domain.Board{}, notFound(err, "board %s", id)
	}
	b.CreatedAt, b.UpdatedAt = fromMillis(created), fromMillis(updated)
	return b, nil
}

func (t *sqlTx) UpdateBoard(ctx context.Context, b domain.Board) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE boards SET name = ?, owner_id = ?, updated_at = ? WHERE id = ?`,
		b.Name, b.OwnerID, toMillis(b.UpdatedAt), b.ID)
	return affected(res, err, "board "+b.ID)
}

func (t *sqlTx) GetMember(ctx context.Context, boardID, userID string) (domain.Member, error) {
	m := domain.Member{BoardID: boardID, UserID: userID}
	err := t.tx.QueryRowContext(ctx,
		`SELECT role FROM members WHERE board_id = ? AND user_id = ?`, boardID, userID).Scan(&m.Role)
	if err != nil {
		return domain.Member{}, notFound(err, "member %s on board %s", userID, boardID)
	}
	return m, nil
}

func (t *sqlTx) ListMembers(ctx context.Context, boardID string) ([]domain.Member, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT user_id, role FROM members WHERE board_id = ? ORDER BY user_id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	out := []domain.Member{}
	for rows.Next() {
		m := domain.Member{BoardID: boardID}
		if err := rows.Scan(&m.UserID, &m.Role); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *sqlTx) PutMember(ctx context.Context, m domain.Member) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO members (board_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (board_id, user_id) DO UPDATE SET role = excluded.role`,
		m.BoardID, m.UserID, string(m.Role))
	return classify(err, "member "+m.UserID)
}

func (t *sqlTx) DeleteMember(ctx context.Context, boardID, userID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM members WHERE board_id = ? AND user_id = ?`, boardID, userID)
	return affected(res, err, "member "+userID)
}

const columnFields = `id, board_id, name, position, archived, version, created_at, updated_at`

func scanColumn(row interface{ Scan(...any) error }) (domain.Column, error) {
	var (
		c                domain.Column
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.BoardID, &c.Name, &c.Position, &c.Archived, &c.Version, &created, &updated); err != nil {
		return domain.Column{}, err
	}
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	return c, nil
}

func (t *sqlTx) InsertColumn(ctx context.Context, c domain.Column) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO board_columns (`+columnFields+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.BoardID, c.Name, c.Position, c.Archived, c.Version, toMillis(c.CreatedAt), toMillis(c.UpdatedAt))
	return classify(err, "column "+c.ID)
}

func (t *sqlTx) GetColumn(ctx context.Context, id string) (domain.Column, error) {
	c, err := scanColumn(t.tx.QueryRowContext(ctx, `SELECT `+columnFields+` FROM board_columns WHERE id = ?`, id))
	if err != nil {
		return domain.Column{}, notFound(err, "column %s", id)
	}
	return c, nil
}

func (t *sqlTx) ListColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+columnFields+` FROM board_columns WHERE board_id = ? AND archived = 0 ORDER BY position, rowid`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()
	out := []domain.Column{}
	for rows.Next() {
		c, err := scanColumn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *sqlTx) UpdateColumn(ctx context.Context, c domain.Column) (domain.Column, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE board_columns SET board_id = ?, name = ?, position = ?, archived = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		c.BoardID, c.Name, c.Position, c.Archived, toMillis(c.UpdatedAt), c.ID, c.Version)
	if err != nil {
		return domain.Column{}, classify(err, "column "+c.ID)
	}
	if err := t.versioned(ctx, res, "board_columns", "column", c.ID, c.Version); err != nil {
		return domain.Column{}, err
	}
	c.Version++
	return c, nil
}

func (t *sqlTx) DeleteColumn(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM board_columns WHERE id = ?`, id)
	return affected(res, err, "column "+id)
}

const cardFields = `id, column_id, board_id, title, description, position, due_at, cover, completed, archived, template, version, created_at, updated_at`

func scanCard(row interface{ Scan(...any) error }) (domain.Card, error) {
	var (
		c                domain.Card
		due              sql.NullInt64
		created, updated int64
	)
	err := row.Scan(&c.ID, &c.ColumnID, &c.BoardID, &c.Title, &c.Description, &c.Position, &due,
		&c.Cover, &c.Completed, &c.Archived, &c.Template, &c.Version, &created, &updated)
	if err != nil {
		return domain.Card{}, err
	}
	if due.Valid {
		at := fromMillis(due.Int64)
		c.DueAt = &at
	}
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	c.Labels = []string{}
	return c, nil
}

func dueMillis(at *domain.Card) any {
	if at.DueAt == nil {
		return nil
	}
	return toMillis(*at.DueAt)
}

func (t *sqlTx) InsertCard(ctx context.Context, c domain.Card) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO cards (`+cardFields+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ColumnID, c.BoardID, c.Title, c.Description, c.Position, dueMillis(&c),
		c.Cover, c.Completed, c.Archived, c.Template, c.Version, toMillis(c.CreatedAt), toMillis(c.UpdatedAt))
	return classify(err, "card "+c.ID)
}

func (t *sqlTx) GetCard(ctx context.Context, id string) (domain.Card, error) {
	c, err := scanCard(t.tx.QueryRowContext(ctx, `SELECT `+cardFields+` FROM cards WHERE id = ?`, id))
	if err != nil {
		return domain.Card{}, notFound(err, "card %s", id)
	}
	labels, err := t.cardLabels(ctx, `WHERE card_id = ?`, id)
	if err != nil {
		return domain.Card{}, err
	}
	c.Labels = append(c.Labels, labels[id]...)
	return c, nil
}

func (t *sqlTx) ListCards(ctx context.Context, columnID string) ([]domain.Card, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+cardFields+` FROM cards WHERE column_id = ? AND archived = 0 ORDER BY position, rowid`, columnID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	out := []domain.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	labels, err := t.cardLabels(ctx, `WHERE card_id IN (SELECT id FROM cards WHERE column_id = ?)`, columnID)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Labels = append(out[i].Labels, labels[out[i].ID]...)
	}
	return out, nil
}

// cardLabels returns label ids per card in attach order.
func (t *sqlTx) cardLabels(ctx context.Context, where string, arg any) (map[string][]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT card_id, label_id FROM card_labels `+where+` ORDER BY rowid`, arg)
	if err != nil {
		return nil, fmt.Errorf("list card labels: %w", err)
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var cardID, labelID string
		if err := rows.Scan(&cardID, &labelID); err != nil {
			return nil, err
		}
		out[cardID] = append(out[cardID], labelID)
	}
	return out, rows.Err()
}

func (t *sqlTx) UpdateCard(ctx context.Context, c domain.Card) (domain.Card, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE cards SET column_id = ?, board_id = ?, title = ?, description = ?, position = ?, due_at = ?,
		   cover = ?, completed = ?, archived = ?, template = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		c.ColumnID, c.BoardID, c.Title, c.Description, c.Position, dueMillis(&c),
		c.Cover, c.Completed, c.Archived, c.Template, toMillis(c.UpdatedAt), c.ID, c.Version)
	if err != nil {
		return domain.Card{}, classify(err, "card "+c.ID)
	}
	if err := t.versioned(ctx, res, "cards", "card", c.ID, c.Version); err != nil {
		return domain.Card{}, err
	}
	return t.GetCard(ctx, c.ID)
}

func (t *sqlTx) DeleteCard(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
	return affected(res, err, "card "+id)
}

func (t *sqlTx) InsertLabel(ctx context.Context, l domain.Label) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO labels (id, board_id, name, color, position) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.BoardID, l.Name, l.Color, l.Position)
	return classify(err, "label "+l.ID)
}

func (t *sqlTx) GetLabel(ctx context.Context, id string) (domain.Label, error) {
	var l domain.Label
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, board_id, name, color, position FROM labels WHERE id = ?`, id).
		Scan(&l.ID, &l.BoardID, &l.Name, &l.Color, &l.Position)
	if err != nil {
		return domain.Label{}, notFound(err, "label %s", id)
	}
	return l, nil
}

func (t *sqlTx) ListLabels(ctx context.Context, boardID string) ([]domain.Label, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, board_id, name, color, position FROM labels WHERE board_id = ? ORDER BY position, rowid`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()
	out := []domain.Label{}
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.ID, &l.BoardID, &l.Name, &l.Color, &l.Position); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *sqlTx) AttachLabel(ctx context.Context, cardID, labelID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO card_labels (card_id, label_id) VALUES (?, ?) ON CONFLICT (card_id, label_id) DO NOTHING`,
		cardID, labelID)
	if err != nil {
		return false, classify(err, "card label "+labelID)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *sqlTx) DetachLabel(ctx context.Context, cardID, labelID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM card_labels WHERE card_id = ? AND label_id = ?`, cardID, labelID)
	if err != nil {
		return false, fmt.Errorf("detach label: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const ruleFields = `id, column_id, type, payload, enabled, created_at`

func scanRule(row interface{ Scan(...any) error }) (domain.Rule, error) {
	var (
		r       domain.Rule
		payload string
		created int64
	)
	if err := row.Scan(&r.ID, &r.ColumnID, &r.Type, &payload, &r.Enabled, &created); err != nil {
		return domain.Rule{}, err
	}
	if err := sonic.UnmarshalString(payload, &r.Payload); err != nil {
		return domain.Rule{}, fmt.Errorf("decode rule %s payload: %w", r.ID, err)
	}
	r.CreatedAt = fromMillis(created)
	return r, nil
}

func (t *sqlTx) InsertRule(ctx context.Context, r domain.Rule) error {
	payload, err := sonic.MarshalString(r.Payload)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO rules (`+ruleFields+`) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ColumnID, string(r.Type), payload, r.Enabled, toMillis(r.CreatedAt))
	return classify(err, "rule "+r.ID)
}

func (t *sqlTx) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	r, err := scanRule(t.tx.QueryRowContext(ctx, `SELECT `+ruleFields+` FROM rules WHERE id = ?`, id))
	if err != nil {
		return domain.Rule{}, notFound(err, "rule %s", id)
	}
	return r, nil
}

func (t *sqlTx) ListRules(ctx context.Context, columnID string) ([]domain.Rule, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+ruleFields+` FROM rules WHERE column_id = ? ORDER BY rowid`, columnID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	out := []domain.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *sqlTx) DeleteRule(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	return affected(res, err, "rule "+id)
}

// versioned tells a lost race from a missing row after a version-checked update.
func (t *sqlTx) versioned(ctx context.Context, res sql.Result, table, what, id string, version int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var current int64
	err = t.tx.QueryRowContext(ctx, `SELECT version FROM `+table+` WHERE id = ?`, id).Scan(&current)
	if err != nil {
		return notFound(err, "%s %s", what, id)
	}
	return domain.Conflictf("%s %s version %d, have %d", what, id, current, version)
}

func affected(res sql.Result, err error, what string) error {
	if err != nil {
		return classify(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFoundf("%s", what)
	}
	return nil
}
