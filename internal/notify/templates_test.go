package notify

import (
	"strings"
	"testing"
	"time"
)

func TestRenderReminderDefaults(t *testing.T) {
	c, err := Render(TypeTaskReminder, TemplateData{
		RecipientName: "Sam",
		Title:         "SOC2 evidence",
		Status:        "IN_PROGRESS",
		DueDate:       time.Date(2024, 4, 5, 23, 59, 59, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if c.Subject != "Reminder: SOC2 evidence due Apr 5" {
		t.Fatalf("subject %q", c.Subject)
	}
	for _, want := range []string{
		"Hello Sam,",
		`This is a reminder that the task "SOC2 evidence" is due on April 5, 2024.`,
		"Current status: in progress.",
		"Please ensure all required documentation is ready before the deadline.",
		"Thank you,\nCompliance Automation",
	} {
		if !strings.Contains(c.Email, want) {
			t.Fatalf("email missing %q:\n%s", want, c.Email)
		}
	}
}

func TestRenderEscalationWithoutDays(t *testing.T) {
	c, err := Render(TypeTaskEscalation, TemplateData{Title: "T", DueDate: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(c.Email, "The task is now past its due date.") || strings.Contains(c.Email, "Department:") {
		t.Fatalf("unexpected body:\n%s", c.Email)
	}
	if c.SMS != `Escalation: "T" overdue since Jan 31.` {
		t.Fatalf("sms %q", c.SMS)
	}
}

func TestRenderUnknownType(t *testing.T) {
	if _, err := Render("task.deleted", TemplateData{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestReminderReasonAndOverdueDays(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := ReminderReason(now, now.Add(90*time.Minute)); got != "Task due in approximately 1 hour" {
		t.Fatalf("reason %q", got)
	}
	if got := ReminderReason(now, now.Add(-time.Hour)); got != "Task due in approximately 0 hours" {
		t.Fatalf("reason %q", got)
	}
	if got := OverdueDays(now, now.Add(-2*time.Hour)); got != 1 {
		t.Fatalf("overdue %d", got)
	}
	if got := OverdueDays(now, now.Add(-73*time.Hour)); got != 3 {
		t.Fatalf("overdue %d", got)
	}
}
