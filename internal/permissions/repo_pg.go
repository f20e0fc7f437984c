package permissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Get returns the permission record for a user.
func (r *PGRepo) Get(ctx context.Context, userID string) (UserPermission, error) {
	const query = `
SELECT user_id, can_detailed_feedback, can_export_results, can_access_history, can_delete_sessions, custom_permissions, updated_at
FROM user_permissions
WHERE user_id = $1
LIMIT 1`
	var perm UserPermission
	var custom sql.NullString
	var updatedAt sql.NullTime
	err := r.DB.QueryRowContext(ctx, query, userID).Scan(
		&perm.UserID,
		&perm.CanProvideDetailedFeedback,
		&perm.CanExportResults,
		&perm.CanAccessHistory,
		&perm.CanDeleteSessions,
		&custom,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return UserPermission{}, ErrNotFound
	}
	if err != nil {
		return UserPermission{}, err
	}
	if custom.Valid && custom.String != "" {
		if err := json.Unmarshal([]byte(custom.String), &perm.CustomPermissions); err != nil {
			return UserPermission{}, err
		}
	}
	if updatedAt.Valid {
		ts := updatedAt.Time
		perm.LastUpdatedTimestamp = &ts
	}
	return perm, nil
}

// Upsert stores the permission record.
func (r *PGRepo) Upsert(ctx context.Context, perm UserPermission) error {
	const query = `
INSERT INTO user_permissions (user_id, can_detailed_feedback, can_export_results, can_access_history, can_delete_sessions, custom_permissions, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO UPDATE SET
	can_detailed_feedback = EXCLUDED.can_detailed_feedback,
	can_export_results = EXCLUDED.can_export_results,
	can_access_history = EXCLUDED.can_access_history,
	can_delete_sessions = EXCLUDED.can_delete_sessions,
	custom_permissions = EXCLUDED.custom_permissions,
	updated_at = EXCLUDED.updated_at`
	var custom any
	if perm.CustomPermissions != nil {
		payload, err := json.Marshal(perm.CustomPermissions)
		if err != nil {
			return err
		}
		custom = string(payload)
	}
	updatedAt := time.Now().UTC()
	if perm.LastUpdatedTimestamp != nil {
		updatedAt = *perm.LastUpdatedTimestamp
	}
	_, err := r.DB.ExecContext(ctx, query,
		perm.UserID,
		perm.CanProvideDetailedFeedback,
		perm.CanExportResults,
		perm.CanAccessHistory,
		perm.CanDeleteSessions,
		custom,
		updatedAt,
	)
	return err
}
