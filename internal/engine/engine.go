package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"complyline/internal/audit"
	"complyline/internal/db"
	"complyline/internal/repo"
)

type Engine struct {
	DB    *sql.DB
	Repo  repo.Repo
	Audit *audit.Recorder
	Now   func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, recorder *audit.Recorder) Engine {
	r := repo.Repo{DB: conn, Dialect: dialect}
	if recorder == nil {
		recorder = audit.New(r, audit.DefaultRetentionDays)
	}
	return Engine{
		DB:    conn,
		Repo:  r,
		Audit: recorder,
		Now:   time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// ValidationError reports bad input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
