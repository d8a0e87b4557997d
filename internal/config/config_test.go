package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Scheduler.Monthly != "0 5 0 1 * *" || cfg.Notifications.ReminderWindowHours != 48 {
		t.Fatalf("unexpected defaults %+v", cfg.Scheduler)
	}
	if cfg.Audit.RetentionDays != "365" {
		t.Fatalf("unexpected retention %q", cfg.Audit.RetentionDays)
	}
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("server:\n  addr: \":9000\"\naudit:\n  retention_days: \"0\"\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.BasePath != "/v1" {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Audit.RetentionDays != "0" || cfg.Scheduler.Reminders != "0 0 9 * * *" {
		t.Fatalf("defaults lost")
	}
}

func TestValidateRejectsBadCron(t *testing.T) {
	_, err := FromYAML([]byte("scheduler:\n  monthly: \"every month\"\n"))
	if err == nil || !strings.Contains(err.Error(), "scheduler.monthly") {
		t.Fatalf("expected cron error, got %v", err)
	}
}

func TestValidateRejectsIncompleteProviders(t *testing.T) {
	cases := []string{
		"notifications:\n  sendgrid:\n    api_key: SG.x\n",
		"notifications:\n  twilio:\n    account_sid: AC1\n",
		"webhooks:\n  - url: not-a-url\n",
		"rate_limit:\n  requests_per_second: 5\n  burst: 0\n",
	}
	for _, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Fatalf("expected validation error for %q", raw)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"AUDIT_LOG_RETENTION_DAYS": "90",
		"SENDGRID_API_KEY":         "SG.key",
		"SENDGRID_FROM_EMAIL":      "ops@example.com",
		"DATABASE_URL":             "postgres://localhost/complyline",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	if cfg.Audit.RetentionDays != "90" || cfg.Notifications.SendGrid.APIKey != "SG.key" || cfg.Database.DSN != "postgres://localhost/complyline" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("expected default config, got %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load should fail without a file")
	}
	if err := os.WriteFile(filepath.Join(dir, "complyline.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load generated default: %v", err)
	}
}
