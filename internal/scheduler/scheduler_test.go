package scheduler_test

import (
	"context"
	"testing"
	"time"

	"complyline/internal/audit"
	"complyline/internal/config"
	"complyline/internal/db"
	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/migrate"
	"complyline/internal/notify"
	"complyline/internal/obs"
	"complyline/internal/scheduler"
)

var batchTime = time.Date(2024, 2, 1, 0, 5, 0, 0, time.UTC)

func newScheduler(t *testing.T) (*scheduler.Scheduler, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := func() time.Time { return batchTime }
	eng := engine.New(conn, db.SQLite, nil)
	eng.Now = clock
	eng.Audit.Now = clock
	eng.Audit.Logger = nil
	ctx := context.Background()
	if err := eng.Repo.SeedDirectory(ctx, domain.Department{ID: "dept-1", Name: "Risk"}, nil, nil, batchTime); err != nil {
		t.Fatalf("seed: %v", err)
	}
	d := notify.New(eng.Repo, eng.Audit)
	d.Logger = nil
	d.Now = clock
	s := scheduler.New(eng, d, config.Default().Scheduler)
	s.Now = clock
	s.Logger = nil
	s.Metrics = obs.NewMetrics(nil)
	return s, ctx
}

func createTemplate(t *testing.T, s *scheduler.Scheduler, ctx context.Context, name string, automated bool) domain.Template {
	t.Helper()
	due := 10.0
	tpl, err := s.Engine.CreateTemplate(ctx, "dept-1", engine.TemplateInput{Name: &name, DueDay: &due, Automated: &automated}, "admin")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func monthlyEntries(t *testing.T, s *scheduler.Scheduler, ctx context.Context) audit.Page {
	t.Helper()
	page, err := s.Engine.Audit.Find(ctx, audit.Filters{Action: audit.ActionMonthlyRun})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	return page
}

func TestRunMonthly(t *testing.T) {
	s, ctx := newScheduler(t)
	createTemplate(t, s, ctx, "Access review", true)
	createTemplate(t, s, ctx, "Ad hoc audit", false)

	summary, err := s.RunMonthly(ctx)
	if err != nil {
		t.Fatalf("run monthly: %v", err)
	}
	if summary.Month != 2 || summary.Year != 2024 || summary.TemplateCount != 1 || len(summary.GeneratedTaskIDs) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	page := monthlyEntries(t, s, ctx)
	if page.Total != 1 {
		t.Fatalf("expected one summary entry, got %d", page.Total)
	}
	meta := page.Records[0].Metadata
	if meta["templateCount"] != float64(1) || meta["month"] != float64(2) {
		t.Fatalf("unexpected metadata %#v", meta)
	}
	generated, err := s.Engine.Audit.Find(ctx, audit.Filters{Action: audit.ActionTaskGenerated})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if generated.Total != 1 || generated.Records[0].Metadata["reason"] != nil || generated.Records[0].Metadata["automated"] != true {
		t.Fatalf("unexpected generation entry %+v", generated.Records)
	}

	summary, err = s.RunMonthly(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(summary.GeneratedTaskIDs) != 0 {
		t.Fatalf("second run should not generate, got %+v", summary)
	}
	if got := monthlyEntries(t, s, ctx).Total; got != 2 {
		t.Fatalf("expected a summary per run, got %d", got)
	}
}

func TestRunMonthlyIsolatesFailures(t *testing.T) {
	s, ctx := newScheduler(t)
	ok := createTemplate(t, s, ctx, "Access review", true)
	broken := createTemplate(t, s, ctx, "Broken evidence", true)
	if _, err := s.Engine.DB.Exec(`CREATE TRIGGER fail_broken BEFORE INSERT ON tasks
WHEN NEW.title LIKE 'Broken%'
BEGIN SELECT RAISE(ABORT, 'evidence store offline'); END`); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	summary, err := s.RunMonthly(ctx)
	if err != nil {
		t.Fatalf("run monthly: %v", err)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].TemplateID != broken.ID {
		t.Fatalf("unexpected failures %+v", summary.Failures)
	}
	if len(summary.GeneratedTaskIDs) != 1 {
		t.Fatalf("healthy template %s should still generate: %+v", ok.ID, summary)
	}
	meta := monthlyEntries(t, s, ctx).Records[0].Metadata
	failures, _ := meta["failures"].([]any)
	if len(failures) != 1 {
		t.Fatalf("failures not recorded: %#v", meta)
	}
}

func TestRunMonthlyRecordsBatchError(t *testing.T) {
	s, ctx := newScheduler(t)
	if _, err := s.Engine.DB.Exec(`DROP TABLE templates`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := s.RunMonthly(ctx); err == nil {
		t.Fatalf("expected batch error")
	}
	page := monthlyEntries(t, s, ctx)
	if page.Total != 1 || page.Records[0].Metadata["error"] == nil {
		t.Fatalf("batch error not recorded: %+v", page.Records)
	}
}

func TestRunRetention(t *testing.T) {
	s, ctx := newScheduler(t)
	old := batchTime.AddDate(-2, 0, 0)
	s.Engine.Audit.Now = func() time.Time { return old }
	if _, err := s.Engine.Audit.Record(ctx, nil, audit.ActionTemplateCreated, audit.Options{ActorID: "admin"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	s.Engine.Audit.Now = func() time.Time { return batchTime }
	n, err := s.RunRetention(ctx)
	if err != nil {
		t.Fatalf("retention: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}
}

func TestStartStop(t *testing.T) {
	s, ctx := newScheduler(t)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := s.Entries(); got != 4 {
		t.Fatalf("expected 4 jobs, got %d", got)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatalf("second start should fail")
	}
	s.Stop()
	if got := s.Entries(); got != 0 {
		t.Fatalf("expected no jobs after stop, got %d", got)
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	s, ctx := newScheduler(t)
	s.Config.Monthly = "every month"
	if err := s.Start(ctx); err == nil {
		s.Stop()
		t.Fatalf("expected invalid spec error")
	}
}
