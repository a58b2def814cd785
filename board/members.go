package board

import (
	"context"
	"errors"

	"prism-board/domain"
)

// PutMember adds userID to the board or changes their role. The owner stays
// ADMIN and the last ADMIN cannot be demoted.
func (s *Service) PutMember(ctx context.Context, actor, boardID, userID string, role domain.Role) (domain.Member, error) {
	if userID == "" {
		return domain.Member{}, domain.Invalidf("userId is required")
	}
	if !role.Valid() {
		return domain.Member{}, domain.Invalidf("unknown role %q", role)
	}
	m := domain.Member{BoardID: boardID, UserID: userID, Role: role}
	err := s.store.RunInTx(ctx, func(tx domain.Tx) error {
		if err := domain.Authorize(ctx, tx, boardID, actor, domain.PermManageMembers); err != nil {
			return err
		}
		if role != domain.RoleAdmin {
			if err := guardAdmin(ctx, tx, boardID, userID, "demoted"); err != nil {
				return err
			}
		}
		return tx.PutMember(ctx, m)
	})
	if err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// RemoveMember drops userID from the board. Members may always remove
// themselves; removing others requires manage_members.
func (s *Service) RemoveMember(ctx context.Context, actor, boardID, userID string) error {
	return s.store.RunInTx(ctx, func(tx domain.Tx) error {
		perm := domain.PermManageMembers
		if actor == userID {
			perm = domain.PermView
		}
		if err := domain.Authorize(ctx, tx, boardID, actor, perm); err != nil {
			return err
		}
		if err := guardAdmin(ctx, tx, boardID, userID, "removed"); err != nil {
			return err
		}
		return tx.DeleteMember(ctx, boardID, userID)
	})
}

// guardAdmin rejects losing the owner's or the sole admin's ADMIN role.
func guardAdmin(ctx context.Context, tx domain.Tx, boardID, userID, verb string) error {
	b, err := tx.GetBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if b.OwnerID == userID {
		return domain.Invalidf("the board owner cannot be %s", verb)
	}
	current, err := tx.GetMember(ctx, boardID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.Role != domain.RoleAdmin {
		return nil
	}
	members, err := tx.ListMembers(ctx, boardID)
	if err != nil {
		return err
	}
	admins := 0
	for _, m := range members {
		if m.Role == domain.RoleAdmin {
			admins++
		}
	}
	if admins <= 1 {
		return domain.Invalidf("the sole admin cannot be %s", verb)
	}
	return nil
}
