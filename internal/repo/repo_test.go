package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"complyline/internal/db"
	"complyline/internal/domain"
	"complyline/internal/migrate"
)

type stubResult struct {
	n   int64
	err error
}

func (r stubResult) LastInsertId() (int64, error) { return 0, nil }
func (r stubResult) RowsAffected() (int64, error) { return r.n, r.err }

func TestRequireAffected(t *testing.T) {
	if err := requireAffected(stubResult{n: 1}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := requireAffected(stubResult{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	driverErr := errors.New("driver does not report rows")
	err := requireAffected(stubResult{err: driverErr})
	if !errors.Is(err, driverErr) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestUpdateMissingTaskIsNotFound(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := Repo{DB: conn, Dialect: db.SQLite}
	now := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	err = r.UpdateTaskTx(context.Background(), nil, domain.Task{ID: "missing", Title: "x", DueDate: now, Status: domain.StatusPending, UpdatedAt: now})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
