package notify

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Notification types.
const (
	TypeTaskCreated    = "task.created"
	TypeTaskReminder   = "task.reminder"
	TypeTaskEscalation = "task.escalation"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

const (
	longDate  = "January 2, 2006"
	shortDate = "Jan 2"
	signature = "Thank you,\nCompliance Automation"
)

// Content is the rendered text of one notification.
type Content struct {
	Subject string
	Email   string
	SMS     string
}

// TemplateData feeds Render.
type TemplateData struct {
	RecipientName  string
	Title          string
	Status         string
	DueDate        time.Time
	TemplateName   string
	DepartmentName string
	Reason         string
	OverdueDays    *int
}

func humanStatus(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", " ")
}

// Render builds subject, email and SMS bodies for a notification type.
func Render(notificationType string, d TemplateData) (Content, error) {
	long := d.DueDate.UTC().Format(longDate)
	short := d.DueDate.UTC().Format(shortDate)
	status := humanStatus(d.Status)
	greeting := fmt.Sprintf("Hello %s,", d.RecipientName)
	switch notificationType {
	case TypeTaskCreated:
		intro := "A new compliance task has been generated."
		if d.TemplateName != "" {
			intro = fmt.Sprintf("A new compliance task has been generated from the template \"%s\".", d.TemplateName)
		}
		return Content{
			Subject: "New compliance task assigned: " + d.Title,
			Email: strings.Join([]string{
				greeting, "", intro,
				"Title: " + d.Title,
				"Current status: " + status,
				"Due date: " + long,
				"", "Please review the task details and begin work as soon as possible.",
				"", signature,
			}, "\n"),
			SMS: fmt.Sprintf("New compliance task \"%s\" due %s.", d.Title, short),
		}, nil
	case TypeTaskReminder:
		reasonLine := "Please ensure all required documentation is ready before the deadline."
		if d.Reason != "" {
			reasonLine = fmt.Sprintf("Reminder reason: %s.", d.Reason)
		}
		return Content{
			Subject: fmt.Sprintf("Reminder: %s due %s", d.Title, short),
			Email: strings.Join([]string{
				greeting, "",
				fmt.Sprintf("This is a reminder that the task \"%s\" is due on %s.", d.Title, long),
				fmt.Sprintf("Current status: %s.", status),
				reasonLine,
				"", "If you have already completed the work, please update the task status in the platform.",
				"", signature,
			}, "\n"),
			SMS: fmt.Sprintf("Reminder: \"%s\" due %s.", d.Title, short),
		}, nil
	case TypeTaskEscalation:
		overdue := "The task is now past its due date."
		if d.OverdueDays != nil {
			overdue = fmt.Sprintf("It has been overdue for %d day(s).", *d.OverdueDays)
		}
		lines := []string{
			greeting, "",
			fmt.Sprintf("The task \"%s\" is overdue as of %s.", d.Title, long),
			overdue,
		}
		if d.DepartmentName != "" {
			lines = append(lines, fmt.Sprintf("Department: %s.", d.DepartmentName))
		}
		lines = append(lines, "",
			"Please address this item immediately or update the task status with the latest information.",
			"", signature)
		return Content{
			Subject: fmt.Sprintf("Escalation: %s is overdue", d.Title),
			Email:   strings.Join(lines, "\n"),
			SMS:     fmt.Sprintf("Escalation: \"%s\" overdue since %s.", d.Title, short),
		}, nil
	}
	return Content{}, fmt.Errorf("unknown notification type %q", notificationType)
}

// ReminderReason is the default reason of a reminder for a task due at due.
func ReminderReason(now, due time.Time) string {
	hours := int(math.Max(0, math.Floor(due.Sub(now).Hours())))
	unit := "hours"
	if hours == 1 {
		unit = "hour"
	}
	return fmt.Sprintf("Task due in approximately %d %s", hours, unit)
}

// OverdueDays is the whole number of days past due, at least 1.
func OverdueDays(now, due time.Time) int {
	days := int(math.Floor(now.Sub(due).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}
