// Package scheduler runs the recurring jobs: monthly task generation,
// reminder and escalation notifications, and audit retention.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"complyline/internal/audit"
	"complyline/internal/config"
	"complyline/internal/engine"
	"complyline/internal/notify"
	"complyline/internal/obs"
)

const monthlyReason = "Monthly task generation"

// Job names used in logs and metrics.
const (
	JobMonthly     = "monthly"
	JobReminders   = "reminders"
	JobEscalations = "escalations"
	JobRetention   = "retention"
)

type Failure struct {
	TemplateID string `json:"templateId"`
	Error      string `json:"error"`
}

// MonthlySummary is the outcome of one monthly generation batch.
type MonthlySummary struct {
	Month            int       `json:"month"`
	Year             int       `json:"year"`
	TemplateCount    int       `json:"templateCount"`
	GeneratedTaskIDs []string  `json:"generatedTaskIds"`
	Failures         []Failure `json:"failures"`
}

type Scheduler struct {
	Engine              engine.Engine
	Notifier            *notify.Dispatcher
	Config              config.SchedulerConfig
	ReminderWindowHours float64
	Metrics             *obs.Metrics
	Logger              *log.Logger
	Now                 func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func New(eng engine.Engine, notifier *notify.Dispatcher, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		Engine:   eng,
		Notifier: notifier,
		Config:   cfg,
		Logger:   log.New(os.Stderr, "scheduler: ", log.LstdFlags),
		Now:      time.Now,
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// RunMonthly generates the current UTC month's task for every automated
// template. A failing template is reported and the batch continues. Exactly
// one automation.tasks.monthly entry is written per call.
func (s *Scheduler) RunMonthly(ctx context.Context) (MonthlySummary, error) {
	now := s.now()
	summary := MonthlySummary{Month: int(now.Month()), Year: now.Year(), GeneratedTaskIDs: []string{}, Failures: []Failure{}}

	templates, err := s.Engine.Repo.ListAutomatedTemplates(ctx)
	if err != nil {
		s.Metrics.JobRun(JobMonthly, "error")
		s.logf("monthly generation failed: %v", err)
		if rerr := s.Engine.RecordAutomationRun(ctx, audit.Metadata{
			"month": summary.Month,
			"year":  summary.Year,
			"error": err.Error(),
		}); rerr != nil {
			s.logf("record monthly failure: %v", rerr)
		}
		return summary, fmt.Errorf("list automated templates: %w", err)
	}
	summary.TemplateCount = len(templates)

	var created []string
	for _, tpl := range templates {
		res, err := s.Engine.GenerateMonthlyTask(ctx, tpl.ID, engine.GenerateOptions{
			Month:     summary.Month,
			Year:      summary.Year,
			Automated: true,
		})
		if err != nil {
			s.Metrics.Generation("failed")
			s.logf("generate task for template %s: %v", tpl.ID, err)
			summary.Failures = append(summary.Failures, Failure{TemplateID: tpl.ID, Error: err.Error()})
			continue
		}
		switch {
		case res.Created:
			s.Metrics.Generation("created")
			created = append(created, res.Task.ID)
		case res.Updated:
			s.Metrics.Generation("updated")
		default:
			s.Metrics.Generation("existing")
		}
		if res.Created || res.Updated {
			summary.GeneratedTaskIDs = append(summary.GeneratedTaskIDs, res.Task.ID)
		}
	}

	if s.Notifier != nil {
		for _, id := range created {
			if _, err := s.Notifier.NotifyTaskCreation(ctx, id, notify.Options{Automated: true, Reason: monthlyReason}); err != nil {
				s.logf("notify task %s: %v", id, err)
			}
		}
	}

	failures := make([]any, 0, len(summary.Failures))
	for _, f := range summary.Failures {
		failures = append(failures, map[string]any{"templateId": f.TemplateID, "error": f.Error})
	}
	if err := s.Engine.RecordAutomationRun(ctx, audit.Metadata{
		"month":            summary.Month,
		"year":             summary.Year,
		"templateCount":    summary.TemplateCount,
		"generatedTaskIds": summary.GeneratedTaskIDs,
		"failures":         failures,
	}); err != nil {
		s.Metrics.JobRun(JobMonthly, "error")
		return summary, fmt.Errorf("record monthly run: %w", err)
	}
	outcome := "ok"
	if len(summary.Failures) > 0 {
		outcome = "partial"
	}
	s.Metrics.JobRun(JobMonthly, outcome)
	s.logf("monthly compliance automation complete for %d templates (created/updated: %d)", summary.TemplateCount, len(summary.GeneratedTaskIDs))
	return summary, nil
}

func (s *Scheduler) RunReminders(ctx context.Context) (notify.Report, error) {
	report, err := s.Notifier.ProcessUpcomingReminders(ctx, notify.ReminderOptions{
		Options:     notify.Options{Automated: true},
		WindowHours: s.ReminderWindowHours,
	})
	s.finish(JobReminders, err)
	return report, err
}

func (s *Scheduler) RunEscalations(ctx context.Context) (notify.Report, error) {
	report, err := s.Notifier.ProcessOverdueEscalations(ctx, notify.Options{Automated: true})
	s.finish(JobEscalations, err)
	return report, err
}

func (s *Scheduler) RunRetention(ctx context.Context) (int64, error) {
	n, err := s.Engine.Audit.Prune(ctx)
	s.Metrics.AuditPruned(n)
	s.finish(JobRetention, err)
	return n, err
}

func (s *Scheduler) finish(job string, err error) {
	if err != nil {
		s.Metrics.JobRun(job, "error")
		s.logf("%s job failed: %v", job, err)
		return
	}
	s.Metrics.JobRun(job, "ok")
}

// Start registers every job with a non-empty spec and starts the cron loop.
// Jobs run with ctx; cancel it together with Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{JobMonthly, s.Config.Monthly, func(ctx context.Context) { _, _ = s.RunMonthly(ctx) }},
		{JobReminders, s.Config.Reminders, func(ctx context.Context) { _, _ = s.RunReminders(ctx) }},
		{JobEscalations, s.Config.Escalations, func(ctx context.Context) { _, _ = s.RunEscalations(ctx) }},
		{JobRetention, s.Config.Retention, func(ctx context.Context) { _, _ = s.RunRetention(ctx) }},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if (job.name == JobReminders || job.name == JobEscalations) && s.Notifier == nil {
			continue
		}
		run := job.run
		if _, err := c.AddFunc(job.spec, func() { run(ctx) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
		s.logf("scheduled %s job: %s", job.name, job.spec)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logf("scheduler stopped")
}

// Entries reports the number of registered jobs.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}
