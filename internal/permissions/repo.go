package permissions

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no permission record exists for a user.
var ErrNotFound = errors.New("not found")

// Repo defines persistence operations for user permissions.
type Repo interface {
	Get(ctx context.Context, userID string) (UserPermission, error)
	Upsert(ctx context.Context, perm UserPermission) error
}

// Resolve returns the stored record or the default for unknown users.
func Resolve(ctx context.Context, repo Repo, userID string) (UserPermission, error) {
	if repo == nil {
		return Default(userID), nil
	}
	perm, err := repo.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Default(userID), nil
	}
	if err != nil {
		return UserPermission{}, err
	}
	return perm, nil
}
