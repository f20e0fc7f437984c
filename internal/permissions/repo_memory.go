package permissions

import (
	"context"
	"sync"
)

// MemoryRepo stores permissions in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu     sync.RWMutex
	byUser map[string]UserPermission
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byUser: make(map[string]UserPermission)}
}

// Get returns the permission record for a user.
func (r *MemoryRepo) Get(ctx context.Context, userID string) (UserPermission, error) {
	if err := ctx.Err(); err != nil {
		return UserPermission{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	perm, ok := r.byUser[userID]
	if !ok {
		return UserPermission{}, ErrNotFound
	}
	return perm, nil
}

// Upsert stores the permission record.
func (r *MemoryRepo) Upsert(ctx context.Context, perm UserPermission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[perm.UserID] = perm
	return nil
}
