package server

import (
	"fmt"
	"strings"

	"complyline/internal/audit"
	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/notify"
	"complyline/internal/scheduler"
)

// Request payloads

// TemplateRequest is shared by create and update. forms and required_docs
// accept a list or a comma/newline separated string.
type TemplateRequest struct {
	Name         *string  `json:"name,omitempty" example:"Quarterly access review"`
	Description  *string  `json:"description,omitempty"`
	DueDay       *float64 `json:"due_day,omitempty" example:"15"`
	Forms        any      `json:"forms,omitempty"`
	RequiredDocs any      `json:"required_docs,omitempty"`
	Automated    *bool    `json:"automated,omitempty"`
}

type RegenerateRequest struct {
	Month  *int    `json:"month,omitempty" example:"3"`
	Year   *int    `json:"year,omitempty" example:"2024"`
	Reason *string `json:"reason,omitempty"`
}

type TaskActionRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

type NotifyRequest struct {
	WindowHours *float64 `json:"window_hours,omitempty"`
	Reason      *string  `json:"reason,omitempty"`
}

// Response payloads

type WhoAmIResponse struct {
	ActorID       string   `json:"actor_id"`
	Roles         []string `json:"roles"`
	DepartmentIDs []string `json:"department_ids"`
	Permissions   []string `json:"permissions"`
	Source        string   `json:"source"`
}

type TemplateListResponse struct {
	Items []domain.Template `json:"items"`
}

type TaskListResponse struct {
	Items []domain.TaskWithTemplate `json:"items"`
}

type AssignmentListResponse struct {
	Items []domain.Assignment `json:"items"`
}

type GenerateResponse = engine.GenerateResult

type AuditPageResponse = audit.Page

type NotifyResponse = notify.Report

type MonthlyRunResponse = scheduler.MonthlySummary

func (in TemplateRequest) toInput() (engine.TemplateInput, error) {
	forms, err := listField("forms", in.Forms)
	if err != nil {
		return engine.TemplateInput{}, err
	}
	docs, err := listField("required_docs", in.RequiredDocs)
	if err != nil {
		return engine.TemplateInput{}, err
	}
	return engine.TemplateInput{
		Name:         in.Name,
		Description:  in.Description,
		DueDay:       in.DueDay,
		Forms:        forms,
		RequiredDocs: docs,
		Automated:    in.Automated,
	}, nil
}

// listField normalizes a list-or-string field. A missing field stays nil so
// updates leave it unchanged; a present but empty one becomes an empty list.
func listField(name string, v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return nonNilSlice(engine.SplitList(t)), nil
	case []string:
		return nonNilSlice(engine.CleanList(t)), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, &engine.ValidationError{Field: name, Message: fmt.Sprintf("%s must contain strings", name)}
			}
			out = append(out, s)
		}
		return nonNilSlice(engine.CleanList(out)), nil
	}
	return nil, &engine.ValidationError{Field: name, Message: fmt.Sprintf("%s must be a list or a string", name)}
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func roleStrings[T ~string](items []T) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, string(it))
	}
	return out
}

func trimmedOrNil(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	s := strings.TrimSpace(*v)
	return &s
}
