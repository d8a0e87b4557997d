package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"complyline/internal/audit"
	"complyline/internal/engine"
	"complyline/internal/engine/auth"
	"complyline/internal/notify"
	"complyline/internal/scheduler"
)

// auditQuery takes every filter as a string; malformed values are ignored
// rather than rejected.
type auditQuery struct {
	Action       string `query:"action"`
	ActorID      string `query:"actorId"`
	DepartmentID string `query:"departmentId"`
	EntityType   string `query:"entityType"`
	EntityID     string `query:"entityId"`
	StartDate    string `query:"startDate"`
	EndDate      string `query:"endDate"`
	Limit        string `query:"limit"`
	Offset       string `query:"offset"`
}

func (q auditQuery) filters() audit.Filters {
	f := audit.Filters{
		Action:       strings.TrimSpace(q.Action),
		ActorID:      strings.TrimSpace(q.ActorID),
		DepartmentID: strings.TrimSpace(q.DepartmentID),
		EntityType:   strings.TrimSpace(q.EntityType),
		EntityID:     strings.TrimSpace(q.EntityID),
		StartDate:    parseQueryTime(q.StartDate),
		EndDate:      parseQueryTime(q.EndDate),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(q.Limit)); err == nil {
		f.Limit = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(q.Offset)); err == nil {
		f.Offset = n
	}
	return f
}

func parseQueryTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func registerAuditLogs(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-logs",
		Method:      http.MethodGet,
		Path:        "/admin/audit-logs",
		Summary:     "Search audit logs",
		Tags:        []string{"admin"},
	}, func(ctx context.Context, input *auditQuery) (*struct {
		Body AuditPageResponse `json:"body"`
	}, error) {
		if _, err := authorize(ctx, auth.ReviewAuditLogs, ""); err != nil {
			return nil, handleError(err)
		}
		page, err := eng.Audit.Find(ctx, input.filters())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditPageResponse `json:"body"`
		}{Body: page}, nil
	})
}

type notifyInput struct {
	Body *NotifyRequest `json:"body" required:"false"`
}

func (in notifyInput) options() notify.Options {
	opts := notify.Options{}
	if in.Body != nil {
		if r := trimmedOrNil(in.Body.Reason); r != nil {
			opts.Reason = *r
		}
	}
	return opts
}

type notifyOutput struct {
	Body NotifyResponse `json:"body"`
}

func registerAutomation(api huma.API, d *notify.Dispatcher, sched *scheduler.Scheduler) {
	if d != nil {
		huma.Register(api, huma.Operation{
			OperationID: "send-reminders",
			Method:      http.MethodPost,
			Path:        "/admin/notifications/reminders",
			Summary:     "Send reminders for tasks due soon",
			Tags:        []string{"admin"},
		}, func(ctx context.Context, input *notifyInput) (*notifyOutput, error) {
			if _, err := authorize(ctx, auth.ManageComplianceTasks, ""); err != nil {
				return nil, handleError(err)
			}
			opts := notify.ReminderOptions{Options: input.options()}
			if input.Body != nil && input.Body.WindowHours != nil {
				opts.WindowHours = *input.Body.WindowHours
			}
			report, err := d.ProcessUpcomingReminders(ctx, opts)
			if err != nil {
				return nil, handleError(err)
			}
			return &notifyOutput{Body: report}, nil
		})

		huma.Register(api, huma.Operation{
			OperationID: "send-escalations",
			Method:      http.MethodPost,
			Path:        "/admin/notifications/escalations",
			Summary:     "Escalate overdue tasks",
			Tags:        []string{"admin"},
		}, func(ctx context.Context, input *notifyInput) (*notifyOutput, error) {
			if _, err := authorize(ctx, auth.ManageComplianceTasks, ""); err != nil {
				return nil, handleError(err)
			}
			report, err := d.ProcessOverdueEscalations(ctx, input.options())
			if err != nil {
				return nil, handleError(err)
			}
			return &notifyOutput{Body: report}, nil
		})
	}

	if sched != nil {
		huma.Register(api, huma.Operation{
			OperationID: "run-monthly",
			Method:      http.MethodPost,
			Path:        "/admin/automation/monthly",
			Summary:     "Run monthly task generation now",
			Tags:        []string{"admin"},
		}, func(ctx context.Context, _ *struct{}) (*struct {
			Body MonthlyRunResponse `json:"body"`
		}, error) {
			if _, err := authorize(ctx, auth.ManageComplianceTasks, ""); err != nil {
				return nil, handleError(err)
			}
			summary, err := sched.RunMonthly(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body MonthlyRunResponse `json:"body"`
			}{Body: summary}, nil
		})
	}
}
