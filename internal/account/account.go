// Package account resolves the tenant hierarchy: which user is acting, which
// owner row holds the account's credentials, and what the user may do.
package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/aspect-build/listbridge/internal/server/db"
)

var (
	// ErrUserNotFound is returned when the subject user no longer exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrOwnerMissing is returned when an account has no owner row.
	ErrOwnerMissing = errors.New("account owner not found")
	// ErrForbidden is returned when the actor lacks the capability for an action.
	ErrForbidden = errors.New("insufficient permissions")
	// ErrLastAdmin is returned when a change would leave an account without an admin.
	ErrLastAdmin = errors.New("account must keep at least one admin")
	// ErrInvalidRole is returned for role names outside the predefined set.
	ErrInvalidRole = errors.New("invalid role")
)

// UserReader is the subset of the store Lookup needs.
type UserReader interface {
	GetUserWithOwner(ctx context.Context, id string) (user, owner *db.User, err error)
}

// Identity is the persisted truth about who is acting and on which account.
type Identity struct {
	User      *db.User
	Owner     *db.User
	Role      Role
	AccountID string
}

// IsOwner reports whether the acting user is the account owner.
func (id *Identity) IsOwner() bool {
	return id.User.ID == id.Owner.ID
}

// Lookup resolves role, account id and owner row for userID from one read.
func Lookup(ctx context.Context, users UserReader, userID string) (*Identity, error) {
	user, owner, err := users.GetUserWithOwner(ctx, userID)
	if errors.Is(err, db.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, fmt.Errorf("%w: account %s", ErrOwnerMissing, user.AccountID)
	}

	role, ok := ParseRole(user.Role)
	if !ok {
		return nil, fmt.Errorf("%w: %q for user %s", ErrInvalidRole, user.Role, user.ID)
	}

	return &Identity{
		User:      user,
		Owner:     owner,
		Role:      role,
		AccountID: user.AccountID,
	}, nil
}

// CheckRoleChange validates that actor may set target's role to newRole.
// adminCount is the current number of admins in the account.
func CheckRoleChange(actor *Identity, target *db.User, newRole Role, adminCount int) error {
	if !newRole.IsValid() {
		return ErrInvalidRole
	}
	if !actor.Role.CanManageUsers() || target.AccountID != actor.AccountID {
		return ErrForbidden
	}
	if Role(target.Role) == RoleAdmin && newRole != RoleAdmin && adminCount <= 1 {
		return ErrLastAdmin
	}
	return nil
}

// CheckRemoval validates that actor may remove target from the account.
func CheckRemoval(actor *Identity, target *db.User) error {
	if !actor.Role.CanManageUsers() || target.AccountID != actor.AccountID {
		return ErrForbidden
	}
	if target.IsOwner() || target.ID == actor.User.ID {
		return ErrForbidden
	}
	return nil
}
