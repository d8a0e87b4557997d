package domain

import "time"

// TaskStatus is the lifecycle state of a compliance task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusSkipped    TaskStatus = "SKIPPED"
	StatusClosed     TaskStatus = "CLOSED"
)

// IsTerminal reports whether s stamps closed_at on the task.
func IsTerminal(s TaskStatus) bool {
	switch s {
	case StatusSkipped, StatusClosed, StatusCompleted:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusSkipped, StatusClosed:
		return true
	}
	return false
}

// OpenStatuses are the statuses the reminder and escalation passes look at.
var OpenStatuses = []TaskStatus{StatusPending, StatusInProgress}

type Department struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Template struct {
	ID           string    `json:"id"`
	DepartmentID *string   `json:"department_id,omitempty"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	DueDay       int       `json:"due_day" minimum:"1" maximum:"31"`
	Forms        []string  `json:"forms,omitempty"`
	RequiredDocs []string  `json:"required_docs,omitempty"`
	Automated    bool      `json:"automated"`
	CreatedAt    time.Time `json:"created_at" format:"date-time"`
	UpdatedAt    time.Time `json:"updated_at" format:"date-time"`
}

// DepartmentIDValue returns the owning department or "".
func (t Template) DepartmentIDValue() string {
	if t.DepartmentID == nil {
		return ""
	}
	return *t.DepartmentID
}

type Task struct {
	ID             string     `json:"id"`
	TemplateID     string     `json:"template_id"`
	Title          string     `json:"title"`
	Details        *string    `json:"details,omitempty"`
	Month          int        `json:"month" minimum:"1" maximum:"12"`
	Year           int        `json:"year"`
	DueDate        time.Time  `json:"due_date" format:"date-time"`
	Status         TaskStatus `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED,SKIPPED,CLOSED"`
	ManualOverride bool       `json:"manual_override"`
	ClosedAt       *time.Time `json:"closed_at,omitempty" format:"date-time"`
	CreatedAt      time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt      time.Time  `json:"updated_at" format:"date-time"`
}

// TemplateSummary is the template projection attached to task listings.
type TemplateSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	DueDay       int      `json:"due_day"`
	Forms        []string `json:"forms,omitempty"`
	RequiredDocs []string `json:"required_docs,omitempty"`
}

type TaskWithTemplate struct {
	Task
	Template TemplateSummary `json:"template"`
}

type Assignee struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	Email       string    `json:"email"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

// DisplayName joins first and last name, falling back to the email address.
func (a Assignee) DisplayName() string {
	name := a.FirstName
	if a.LastName != "" {
		if name != "" {
			name += " "
		}
		name += a.LastName
	}
	if name == "" {
		return a.Email
	}
	return name
}

type Assignment struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	AssigneeID string     `json:"assignee_id"`
	Status     string     `json:"status"`
	DueDate    *time.Time `json:"due_date,omitempty" format:"date-time"`
	CreatedAt  time.Time  `json:"created_at" format:"date-time"`
	Assignee   Assignee   `json:"assignee"`
}

// TaskNotice is the read-only projection handed to the notification passes.
type TaskNotice struct {
	Task
	TemplateName   string       `json:"template_name"`
	DepartmentID   *string      `json:"department_id,omitempty"`
	DepartmentName *string      `json:"department_name,omitempty"`
	Assignments    []Assignment `json:"assignments"`
}

type AuditEntry struct {
	ID                string           `json:"id"`
	Action            string           `json:"action"`
	ActorID           *string          `json:"actor_id,omitempty"`
	DepartmentID      *string          `json:"department_id,omitempty"`
	TaskID            *string          `json:"task_id,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	AffectedEntities  []map[string]any `json:"affected_entities,omitempty"`
	PrimaryEntityType *string          `json:"primary_entity_type,omitempty"`
	PrimaryEntityID   *string          `json:"primary_entity_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID            string    `json:"id"`
	ActorID       string    `json:"actor_id"`
	Name          string    `json:"name,omitempty"`
	Roles         []string  `json:"roles,omitempty"`
	DepartmentIDs []string  `json:"department_ids,omitempty"`
	KeyHash       string    `json:"key_hash"`
	CreatedAt     time.Time `json:"created_at" format:"date-time"`
}
