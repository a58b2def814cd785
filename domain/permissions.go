package domain

import (
	"context"
	"errors"
	"fmt"
)

// Permission names an action guarded by board membership.
type Permission string

const (
	PermView          Permission = "view_board"
	PermEditCard      Permission = "edit_card"
	PermMoveCard      Permission = "move_card"
	PermMoveColumn    Permission = "move_column"
	PermEditColumn    Permission = "edit_column"
	PermManageMembers Permission = "manage_members"
)

var memberPermissions = map[Permission]bool{
	PermView:       true,
	PermEditCard:   true,
	PermMoveCard:   true,
	PermMoveColumn: true,
}

// Allows reports whether the role grants p. Admins hold every permission.
func (r Role) Allows(p Permission) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleMember:
		return memberPermissions[p]
	}
	return false
}

// Authorize checks that userID holds perm on boardID. Non-members are forbidden.
func Authorize(ctx context.Context, tx Tx, boardID, userID string, perm Permission) error {
	if userID == "" {
		return fmt.Errorf("%w: anonymous actor", ErrForbidden)
	}
	m, err := tx.GetMember(ctx, boardID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s is not a member of board %s", ErrForbidden, userID, boardID)
		}
		return err
	}
	if !m.Role.Allows(perm) {
		return fmt.Errorf("%w: %s lacks %s on board %s", ErrForbidden, userID, perm, boardID)
	}
	return nil
}
