package permissions

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestResolveDefaultsForUnknownUser(t *testing.T) {
	perm, err := Resolve(context.Background(), NewMemoryRepo(), "user-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !perm.CanAccessHistory || !perm.CanDeleteSessions {
		t.Fatalf("defaults must allow own-session access, got %+v", perm)
	}
	if perm.CanProvideDetailedFeedback || perm.CanExportResults {
		t.Fatalf("defaults must deny detailed feedback and export, got %+v", perm)
	}
}

func TestResolveWithNilRepo(t *testing.T) {
	perm, err := Resolve(context.Background(), nil, "user-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if perm.UserID != "user-1" || !perm.CanAccessHistory {
		t.Fatalf("expected defaults, got %+v", perm)
	}
}

func TestResolveReturnsStoredRecord(t *testing.T) {
	repo := NewMemoryRepo()
	stored := UserPermission{
		UserID:                     "user-1",
		CanProvideDetailedFeedback: true,
		CanAccessHistory:           false,
		CanDeleteSessions:          true,
	}
	if err := repo.Upsert(context.Background(), stored); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	perm, err := Resolve(context.Background(), repo, "user-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !perm.CanProvideDetailedFeedback || perm.CanAccessHistory {
		t.Fatalf("stored record must win over defaults, got %+v", perm)
	}
}

func TestMemoryRepoGetMiss(t *testing.T) {
	if _, err := NewMemoryRepo().Get(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := &PGRepo{DB: db}

	updated := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"user_id", "can_detailed_feedback", "can_export_results", "can_access_history", "can_delete_sessions", "custom_permissions", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_permissions")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("user-1", true, false, true, true, `{"beta_tools":true}`, updated))

	perm, err := repo.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !perm.CanProvideDetailedFeedback || perm.CanExportResults {
		t.Fatalf("unexpected flags: %+v", perm)
	}
	if !perm.CustomPermissions["beta_tools"] {
		t.Fatalf("unexpected custom permissions: %v", perm.CustomPermissions)
	}
	if perm.LastUpdatedTimestamp == nil || !perm.LastUpdatedTimestamp.Equal(updated) {
		t.Fatalf("unexpected timestamp: %v", perm.LastUpdatedTimestamp)
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM user_permissions")).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(cols))
	if _, err := repo.Get(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGRepoUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := &PGRepo{DB: db}

	updated := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_permissions")).
		WithArgs("user-1", false, false, true, true, nil, updated).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Upsert(context.Background(), UserPermission{
		UserID:               "user-1",
		CanAccessHistory:     true,
		CanDeleteSessions:    true,
		LastUpdatedTimestamp: &updated,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
