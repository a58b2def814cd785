package domain

import "time"

// Role is a board membership role.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Board is the top-level container of columns and labels.
type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Member grants a user a role on a board.
type Member struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
	Role    Role   `json:"role"`
}

// Column belongs to exactly one board and is ordered by Position within it.
type Column struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Name      string    `json:"name"`
	Position  float64   `json:"position"`
	Archived  bool      `json:"archived,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Card belongs to exactly one column. BoardID mirrors the column's board.
type Card struct {
	ID          string     `json:"id"`
	ColumnID    string     `json:"columnId"`
	BoardID     string     `json:"boardId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Position    float64    `json:"position"`
	Labels      []string   `json:"labels"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	Cover       string     `json:"cover,omitempty"`
	Completed   bool       `json:"completed,omitempty"`
	Archived    bool       `json:"archived,omitempty"`
	Template    bool       `json:"template,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// HasLabel reports whether the card carries labelID.
func (c Card) HasLabel(labelID string) bool {
	for _, l := range c.Labels {
		if l == labelID {
			return true
		}
	}
	return false
}

// Label is a board-scoped tag that cards may carry.
type Label struct {
	ID       string  `json:"id"`
	BoardID  string  `json:"boardId"`
	Name     string  `json:"name"`
	Color    string  `json:"color,omitempty"`
	Position float64 `json:"position"`
}

// ColumnSnapshot is a column with its active cards in display order.
type ColumnSnapshot struct {
	Column
	Cards []Card `json:"cards"`
}

// BoardSnapshot is the full authoritative state clients load on (re)connect.
type BoardSnapshot struct {
	Board   Board            `json:"board"`
	Members []Member         `json:"members"`
	Labels  []Label          `json:"labels"`
	Columns []ColumnSnapshot `json:"columns"`
}
