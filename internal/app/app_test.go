package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"complyline/internal/domain"
	"complyline/internal/notify"
	"complyline/internal/repo"
)

func envOf(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestOpenAppliesEnvironment(t *testing.T) {
	workspace := t.TempDir()
	a, err := Open(workspace, envOf(map[string]string{
		"AUDIT_LOG_RETENTION_DAYS": "10",
		"SENDGRID_API_KEY":         "SG.test",
		"SENDGRID_FROM_EMAIL":      "noreply@example.com",
		"JWT_SECRET":               "s",
	}))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Engine.Audit.RetentionDays != 30 {
		t.Fatalf("retention floor not applied: %d", a.Engine.Audit.RetentionDays)
	}
	if _, ok := a.Notifier.Email.(notify.SendGridSender); !ok {
		t.Fatalf("expected sendgrid email channel, got %T", a.Notifier.Email)
	}
	if _, ok := a.Notifier.SMS.(notify.LogSender); !ok {
		t.Fatalf("expected log sms channel, got %T", a.Notifier.SMS)
	}
	if got := a.ServerConfig("").BasePath; got != "/v1" {
		t.Fatalf("base path %q", got)
	}
	if a.AuthConfig().JWTSecret != "s" {
		t.Fatalf("jwt secret not applied")
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	workspace := t.TempDir()
	data := []byte("scheduler:\n  monthly: \"not a cron\"\n")
	if err := os.WriteFile(filepath.Join(workspace, "complyline.yml"), data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Open(workspace, envOf(nil)); err == nil {
		t.Fatalf("expected invalid config error")
	}
}

func TestSeedDepartmentAndIssueKey(t *testing.T) {
	a, err := Open(t.TempDir(), envOf(nil))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	ctx := context.Background()
	members := []domain.Assignee{{ID: "u1", FirstName: "Alice", Email: "alice@example.com"}}
	if err := a.SeedDepartment(ctx, "dept-1", "", members, map[string]bool{"u1": true}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	dept, err := a.Engine.Repo.GetDepartment(ctx, "dept-1")
	if err != nil || dept.Name != "dept-1" {
		t.Fatalf("department %+v: %v", dept, err)
	}
	managers, err := a.Engine.Repo.ListDepartmentManagers(ctx, "dept-1")
	if err != nil || len(managers) != 1 {
		t.Fatalf("managers %+v: %v", managers, err)
	}

	secret, key, err := a.IssueAPIKey(ctx, "robot", "ci", []string{"ADMIN"}, []string{"dept-1"})
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	stored, err := a.Engine.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret))
	if err != nil {
		t.Fatalf("lookup key: %v", err)
	}
	if stored.ID != key.ID || stored.ActorID != "robot" || len(stored.Roles) != 1 || stored.DepartmentIDs[0] != "dept-1" {
		t.Fatalf("unexpected key %+v", stored)
	}
	if _, _, err := a.IssueAPIKey(ctx, " ", "", nil, nil); err == nil {
		t.Fatalf("expected error for empty actor")
	}
}

func TestStartSchedulesJobs(t *testing.T) {
	a, err := Open(t.TempDir(), envOf(nil))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Scheduler.Logger = nil
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if n := a.Scheduler.Entries(); n != 4 {
		t.Fatalf("expected 4 jobs, got %d", n)
	}
	a.Stop()
	if n := a.Scheduler.Entries(); n != 0 {
		t.Fatalf("expected stopped scheduler, got %d jobs", n)
	}
}
