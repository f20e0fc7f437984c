package permissions

import "time"

// UserPermission controls per-user feature access. The zero value denies
// everything; Default is what unknown users get.
type UserPermission struct {
	UserID                     string          `json:"userId"`
	CanProvideDetailedFeedback bool            `json:"canProvideDetailedFeedback"`
	CanExportResults           bool            `json:"canExportResults"`
	CanAccessHistory           bool            `json:"canAccessHistory"`
	CanDeleteSessions          bool            `json:"canDeleteSessions"`
	CustomPermissions          map[string]bool `json:"customPermissions,omitempty"`
	LastUpdatedTimestamp       *time.Time      `json:"lastUpdatedTimestamp,omitempty"`
}

// Default returns the permissions applied to users without a stored
// record: they own their sessions outright but cannot submit detailed
// feedback or export.
func Default(userID string) UserPermission {
	return UserPermission{
		UserID:            userID,
		CanAccessHistory:  true,
		CanDeleteSessions: true,
	}
}
