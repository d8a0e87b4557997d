// Package app wires configuration, storage and services for the CLI and the server.
package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"complyline/internal/audit"
	"complyline/internal/config"
	"complyline/internal/db"
	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/ids"
	"complyline/internal/migrate"
	"complyline/internal/notify"
	"complyline/internal/obs"
	"complyline/internal/repo"
	"complyline/internal/scheduler"
	"complyline/internal/server"
)

// App holds the wired services of one process.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Dialect   db.Dialect
	Engine    engine.Engine
	Notifier  *notify.Dispatcher
	Scheduler *scheduler.Scheduler
	Metrics   *obs.Metrics
	Logger    *log.Logger
}

// Open loads complyline.yml from workspace (defaults when absent), applies
// environment overrides, opens and migrates the database and builds the
// services. getenv is os.Getenv outside tests.
func Open(workspace string, getenv func(string) string) (*App, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(workspace, cfg)
}

// New builds an App from an already loaded cfg.
func New(workspace string, cfg *config.Config) (*App, error) {
	dbCfg := db.Config{Workspace: workspace, DSN: cfg.Database.DSN}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	dialect := dbCfg.Dialect()
	if err := migrate.MigrateDialect(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger := obs.Logger()
	metrics := obs.NewMetrics(nil)

	r := repo.Repo{DB: conn, Dialect: dialect}
	recorder := audit.New(r, audit.ResolveRetentionDays(cfg.Audit.RetentionDays))
	eng := engine.New(conn, dialect, recorder)

	notifier := notify.New(r, recorder)
	notifier.Metrics = metrics
	if sg := cfg.Notifications.SendGrid; sg.APIKey != "" {
		notifier.Email = notify.SendGridSender{APIKey: sg.APIKey, FromEmail: sg.FromEmail, Logger: notifier.Logger}
	}
	if tw := cfg.Notifications.Twilio; tw.AccountSID != "" {
		notifier.SMS = notify.TwilioSender{AccountSID: tw.AccountSID, AuthToken: tw.AuthToken, FromNumber: tw.FromNumber, Logger: notifier.Logger}
	}

	sched := scheduler.New(eng, notifier, cfg.Scheduler)
	sched.ReminderWindowHours = float64(cfg.Notifications.ReminderWindowHours)
	sched.Metrics = metrics

	return &App{
		Config:    cfg,
		DB:        conn,
		Dialect:   dialect,
		Engine:    eng,
		Notifier:  notifier,
		Scheduler: sched,
		Metrics:   metrics,
		Logger:    logger,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// AuthConfig returns the bearer token settings of the API.
func (a *App) AuthConfig() server.AuthConfig {
	return server.AuthConfig{
		JWTSecret:   a.Config.Auth.JWTSecret,
		JWTIssuer:   a.Config.Auth.JWTIssuer,
		JWTAudience: a.Config.Auth.JWTAudience,
		Logger:      a.Logger,
	}
}

// ServerConfig returns the HTTP handler configuration. basePath overrides the
// configured one when set.
func (a *App) ServerConfig(basePath string) server.Config {
	if basePath == "" {
		basePath = a.Config.Server.BasePath
	}
	return server.Config{
		Engine:            a.Engine,
		Notifier:          a.Notifier,
		Scheduler:         a.Scheduler,
		BasePath:          basePath,
		Auth:              a.AuthConfig(),
		Metrics:           a.Metrics,
		RequestsPerSecond: a.Config.RateLimit.RequestsPerSecond,
		Burst:             a.Config.RateLimit.Burst,
		RequestLogger:     a.Logger,
	}
}

// Start launches the scheduler (when enabled) and the webhook forwarder. Both
// stop when ctx is cancelled; call Stop to wait for running jobs.
func (a *App) Start(ctx context.Context) error {
	if a.Config.Scheduler.Enabled {
		if err := a.Scheduler.Start(ctx); err != nil {
			return err
		}
	}
	server.StartWebhooks(ctx, a.Engine.Audit, a.Config.Webhooks, a.Notifier.Logger)
	return nil
}

func (a *App) Stop() {
	a.Scheduler.Stop()
}

// SeedDepartment creates a department (if missing) and adds members to it.
func (a *App) SeedDepartment(ctx context.Context, id, name string, members []domain.Assignee, managers map[string]bool) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("department id is required")
	}
	if strings.TrimSpace(name) == "" {
		name = id
	}
	return a.Engine.Repo.SeedDirectory(ctx, domain.Department{ID: id, Name: name}, members, managers, time.Now().UTC())
}

// IssueAPIKey stores a new key for actorID and returns the plaintext once.
func (a *App) IssueAPIKey(ctx context.Context, actorID, name string, roles, departmentIDs []string) (string, domain.APIKey, error) {
	if strings.TrimSpace(actorID) == "" {
		return "", domain.APIKey{}, fmt.Errorf("actor id is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	secret := "cl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:            ids.New(),
		ActorID:       actorID,
		Name:          name,
		Roles:         roles,
		DepartmentIDs: departmentIDs,
		KeyHash:       repo.HashAPIKey(secret),
		CreatedAt:     time.Now().UTC(),
	}
	if err := a.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return secret, key, nil
}
