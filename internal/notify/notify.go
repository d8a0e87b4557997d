// Package notify sends task notifications by email and SMS and records each
// delivery attempt in the audit trail.
package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"complyline/internal/audit"
	"complyline/internal/domain"
	"complyline/internal/obs"
	"complyline/internal/repo"
)

const (
	DefaultReminderWindowHours = 48

	RoleAssignee = "assignee"
	RoleManager  = "manager"
)

type Options struct {
	Automated bool
	Reason    string
}

type ReminderOptions struct {
	Options
	WindowHours float64
}

// Report counts the outcome of one notification pass.
type Report struct {
	Type    string `json:"type"`
	Tasks   int    `json:"tasks"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

// Recipient is a person notified about a task.
type Recipient struct {
	ID    string
	Name  string
	Email string
	Phone string
	Role  string
}

type Dispatcher struct {
	Repo    repo.Repo
	Audit   *audit.Recorder
	Email   EmailSender
	SMS     SMSSender
	Metrics *obs.Metrics
	Logger  *log.Logger
	Now     func() time.Time
}

// New returns a dispatcher whose channels log instead of sending until Email
// and SMS are set.
func New(r repo.Repo, recorder *audit.Recorder) *Dispatcher {
	logger := log.New(os.Stderr, "notify: ", log.LstdFlags)
	return &Dispatcher{
		Repo:   r,
		Audit:  recorder,
		Email:  LogSender{Logger: logger},
		SMS:    LogSender{Logger: logger},
		Logger: logger,
		Now:    time.Now,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

// NotifyTaskCreation tells the task's assignees that it was generated.
func (d *Dispatcher) NotifyTaskCreation(ctx context.Context, taskID string, opts Options) (Report, error) {
	report := Report{Type: TypeTaskCreated}
	task, err := d.Repo.GetTaskNotice(ctx, taskID)
	if err != nil {
		return report, fmt.Errorf("task %s: %w", taskID, err)
	}
	report.Tasks = 1
	err = d.dispatch(ctx, task, AssigneeRecipients(task.Assignments), TypeTaskCreated, delivery{Options: opts}, &report)
	return report, err
}

// ProcessUpcomingReminders notifies assignees of open tasks due within the window.
func (d *Dispatcher) ProcessUpcomingReminders(ctx context.Context, opts ReminderOptions) (Report, error) {
	report := Report{Type: TypeTaskReminder}
	window := opts.WindowHours
	if window <= 0 {
		window = DefaultReminderWindowHours
	}
	now := d.now()
	upper := now.Add(time.Duration(window * float64(time.Hour)))
	tasks, err := d.Repo.ListOpenTaskNotices(ctx, repo.NoticeFilters{DueFrom: &now, DueThrough: &upper})
	if err != nil {
		return report, fmt.Errorf("list upcoming tasks: %w", err)
	}
	for _, task := range tasks {
		recipients := AssigneeRecipients(task.Assignments)
		if len(recipients) == 0 {
			continue
		}
		report.Tasks++
		o := delivery{Options: opts.Options}
		if o.Reason == "" {
			o.Reason = ReminderReason(now, task.DueDate)
		}
		if err := d.dispatch(ctx, task, recipients, TypeTaskReminder, o, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// ProcessOverdueEscalations notifies assignees and department managers of
// open tasks past their due date.
func (d *Dispatcher) ProcessOverdueEscalations(ctx context.Context, opts Options) (Report, error) {
	report := Report{Type: TypeTaskEscalation}
	now := d.now()
	tasks, err := d.Repo.ListOpenTaskNotices(ctx, repo.NoticeFilters{DueBefore: &now})
	if err != nil {
		return report, fmt.Errorf("list overdue tasks: %w", err)
	}
	managers := map[string][]Recipient{}
	for _, task := range tasks {
		var mgrs []Recipient
		if task.DepartmentID != nil {
			dept := *task.DepartmentID
			cached, ok := managers[dept]
			if !ok {
				list, err := d.Repo.ListDepartmentManagers(ctx, dept)
				if err != nil {
					return report, fmt.Errorf("department %s managers: %w", dept, err)
				}
				cached = ManagerRecipients(list)
				managers[dept] = cached
			}
			mgrs = cached
		}
		recipients := MergeRecipients(AssigneeRecipients(task.Assignments), mgrs)
		if len(recipients) == 0 {
			continue
		}
		report.Tasks++
		days := OverdueDays(now, task.DueDate)
		o := delivery{Options: opts, OverdueDays: &days}
		if o.Reason == "" {
			o.Reason = "Task is overdue"
		}
		if err := d.dispatch(ctx, task, recipients, TypeTaskEscalation, o, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

type delivery struct {
	Options
	OverdueDays *int
}

func (d *Dispatcher) dispatch(ctx context.Context, task domain.TaskNotice, recipients []Recipient, notificationType string, o delivery, report *Report) error {
	for _, r := range recipients {
		data := TemplateData{
			RecipientName: r.Name,
			Title:         task.Title,
			Status:        string(task.Status),
			DueDate:       task.DueDate,
			TemplateName:  task.TemplateName,
			Reason:        o.Reason,
			OverdueDays:   o.OverdueDays,
		}
		if task.DepartmentName != nil {
			data.DepartmentName = *task.DepartmentName
		}
		content, err := Render(notificationType, data)
		if err != nil {
			return err
		}
		if r.Email != "" {
			if err := d.deliver(ctx, task, r, notificationType, ChannelEmail, r.Email, o, report, func() DeliveryResult {
				return d.Email.SendEmail(ctx, EmailMessage{ToName: r.Name, ToEmail: r.Email, Subject: content.Subject, Body: content.Email})
			}); err != nil {
				return err
			}
		}
		if r.Phone != "" {
			body := content.SMS
			if body == "" {
				body = content.Email
			}
			if err := d.deliver(ctx, task, r, notificationType, ChannelSMS, r.Phone, o, report, func() DeliveryResult {
				return d.SMS.SendSMS(ctx, SMSMessage{To: r.Phone, Body: body})
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, task domain.TaskNotice, r Recipient, notificationType, channel, address string, o delivery, report *Report, send func() DeliveryResult) error {
	lookback := time.Hour
	if o.Automated {
		lookback = 24 * time.Hour
	}
	key := repo.DeliveryKey{TaskID: task.ID, NotificationType: notificationType, Channel: channel, Recipient: address}
	seen, err := d.Audit.DeliveredSince(ctx, key, d.now().Add(-lookback))
	if err != nil {
		return fmt.Errorf("delivery lookup: %w", err)
	}
	if seen {
		report.Skipped++
		d.Metrics.Notification(notificationType, channel, "skipped")
		return nil
	}
	res := send()
	outcome := "sent"
	if res.Success {
		report.Sent++
	} else {
		report.Failed++
		outcome = "failed"
	}
	d.Metrics.Notification(notificationType, channel, outcome)
	return d.recordDelivery(ctx, task, r, notificationType, channel, address, res, o)
}

func (d *Dispatcher) recordDelivery(ctx context.Context, task domain.TaskNotice, r Recipient, notificationType, channel, address string, res DeliveryResult, o delivery) error {
	var reason any
	if o.Reason != "" {
		reason = o.Reason
	}
	var overdue any
	if o.OverdueDays != nil {
		overdue = *o.OverdueDays
	}
	dept := ""
	if task.DepartmentID != nil {
		dept = *task.DepartmentID
	}
	_, err := d.Audit.Record(ctx, nil, audit.ActionNotificationDelivery, audit.Options{
		DepartmentID: dept,
		TaskID:       task.ID,
		Metadata: audit.Metadata{
			"notificationType": notificationType,
			"channel":          channel,
			"recipient":        address,
			"recipientId":      r.ID,
			"recipientRole":    r.Role,
			"success":          res.Success,
			"statusCode":       intOrNil(res.StatusCode),
			"externalId":       stringOrNil(res.ExternalID),
			"error":            stringOrNil(res.Error),
			"automated":        o.Automated,
			"reason":           reason,
			"overdueDays":      overdue,
		},
	})
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringOrNil(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func AssigneeRecipients(assignments []domain.Assignment) []Recipient {
	var out []Recipient
	for _, a := range assignments {
		if a.Assignee.ID == "" {
			continue
		}
		out = append(out, recipientOf(a.Assignee, RoleAssignee))
	}
	return out
}

func ManagerRecipients(managers []domain.Assignee) []Recipient {
	var out []Recipient
	for _, m := range managers {
		out = append(out, recipientOf(m, RoleManager))
	}
	return out
}

func recipientOf(a domain.Assignee, role string) Recipient {
	r := Recipient{ID: a.ID, Name: a.DisplayName(), Email: a.Email, Role: role}
	if a.PhoneNumber != nil {
		r.Phone = *a.PhoneNumber
	}
	return r
}

// MergeRecipients de-duplicates by id keeping first-seen order. Contact
// details fill in from later entries and the manager role wins.
func MergeRecipients(primary, secondary []Recipient) []Recipient {
	var out []Recipient
	index := map[string]int{}
	for _, r := range append(append([]Recipient{}, primary...), secondary...) {
		i, ok := index[r.ID]
		if !ok {
			index[r.ID] = len(out)
			out = append(out, r)
			continue
		}
		cur := &out[i]
		if cur.Email == "" {
			cur.Email = r.Email
		}
		if cur.Phone == "" {
			cur.Phone = r.Phone
		}
		if r.Role == RoleManager {
			cur.Role = RoleManager
		}
	}
	return out
}
