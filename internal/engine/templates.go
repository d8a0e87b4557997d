package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"complyline/internal/audit"
	"complyline/internal/domain"
	"complyline/internal/ids"
	"complyline/internal/period"
	"complyline/internal/repo"
)

const EntityComplianceTemplate = "complianceTemplate"

// TemplateInput carries template fields. On update a nil field is left
// unchanged; a non-nil empty Description clears it.
type TemplateInput struct {
	Name         *string
	Description  *string
	DueDay       *float64
	Forms        []string
	RequiredDocs []string
	Automated    *bool
}

// CleanList trims values and drops empty ones. An empty result is nil.
func CleanList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// SplitList splits a comma or newline separated string into a clean list.
func SplitList(raw string) []string {
	return CleanList(strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' }))
}

func (e Engine) CreateTemplate(ctx context.Context, departmentID string, in TemplateInput, actorID string) (domain.Template, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return domain.Template{}, invalid("name", "template name is required")
	}
	if in.DueDay == nil || math.IsNaN(*in.DueDay) || math.IsInf(*in.DueDay, 0) {
		return domain.Template{}, invalid("dueDay", "template dueDay must be provided")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetDepartmentTx(ctx, tx, departmentID); err != nil {
		return domain.Template{}, fmt.Errorf("department %s: %w", departmentID, err)
	}
	now := e.now()
	dept := departmentID
	tpl := domain.Template{
		ID:           ids.New(),
		DepartmentID: &dept,
		Name:         *in.Name,
		Description:  emptyToNil(in.Description),
		DueDay:       period.NormalizeDueDay(*in.DueDay),
		Forms:        CleanList(in.Forms),
		RequiredDocs: CleanList(in.RequiredDocs),
		Automated:    true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Automated != nil {
		tpl.Automated = *in.Automated
	}
	if err := e.Repo.InsertTemplateTx(ctx, tx, tpl); err != nil {
		return domain.Template{}, fmt.Errorf("insert template: %w", err)
	}
	if err := e.recordTemplate(ctx, tx, audit.ActionTemplateCreated, tpl, actorID, audit.Metadata{"dueDay": tpl.DueDay}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return tpl, nil
}

func (e Engine) UpdateTemplate(ctx context.Context, departmentID, templateID string, in TemplateInput, actorID string) (domain.Template, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()
	tpl, err := e.Repo.GetDepartmentTemplateTx(ctx, tx, departmentID, templateID)
	if err != nil {
		return domain.Template{}, fmt.Errorf("template %s: %w", templateID, err)
	}
	var changed []string
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return domain.Template{}, invalid("name", "template name must not be empty")
		}
		tpl.Name = *in.Name
		changed = append(changed, "name")
	}
	if in.Description != nil {
		tpl.Description = emptyToNil(in.Description)
		changed = append(changed, "description")
	}
	if in.DueDay != nil {
		tpl.DueDay = period.NormalizeDueDay(*in.DueDay)
		changed = append(changed, "dueDay")
	}
	if in.Forms != nil {
		tpl.Forms = CleanList(in.Forms)
		changed = append(changed, "forms")
	}
	if in.RequiredDocs != nil {
		tpl.RequiredDocs = CleanList(in.RequiredDocs)
		changed = append(changed, "requiredDocs")
	}
	if in.Automated != nil {
		tpl.Automated = *in.Automated
		changed = append(changed, "automated")
	}
	tpl.UpdatedAt = e.now()
	if err := e.Repo.UpdateTemplateTx(ctx, tx, tpl); err != nil {
		return domain.Template{}, fmt.Errorf("update template: %w", err)
	}
	if changed == nil {
		changed = []string{}
	}
	if err := e.recordTemplate(ctx, tx, audit.ActionTemplateUpdated, tpl, actorID, audit.Metadata{"changes": changed}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return tpl, nil
}

// DeleteTemplate removes the template. Generated tasks are kept with their
// title and details snapshots.
func (e Engine) DeleteTemplate(ctx context.Context, departmentID, templateID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	tpl, err := e.Repo.GetDepartmentTemplateTx(ctx, tx, departmentID, templateID)
	if err != nil {
		return fmt.Errorf("template %s: %w", templateID, err)
	}
	if err := e.Repo.DeleteTemplateTx(ctx, tx, templateID); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if err := e.recordTemplate(ctx, tx, audit.ActionTemplateDeleted, tpl, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) recordTemplate(ctx context.Context, tx *sql.Tx, action string, tpl domain.Template, actorID string, extra audit.Metadata) error {
	meta := audit.Metadata{
		"templateId":   tpl.ID,
		"departmentId": nullString(tpl.DepartmentID),
		"name":         tpl.Name,
	}
	for k, v := range extra {
		meta[k] = v
	}
	_, err := e.Audit.Record(ctx, tx, action, audit.Options{
		ActorID:      actorID,
		DepartmentID: stringValue(tpl.DepartmentID),
		Metadata:     meta,
		Entities:     []audit.Entity{{Type: EntityComplianceTemplate, ID: tpl.ID, Name: tpl.Name}},
	})
	return err
}

func (e Engine) GetTemplate(ctx context.Context, departmentID, templateID string) (domain.Template, error) {
	tpl, err := e.Repo.GetDepartmentTemplate(ctx, departmentID, templateID)
	if err != nil {
		return domain.Template{}, fmt.Errorf("template %s: %w", templateID, err)
	}
	return tpl, nil
}

func (e Engine) ListTemplates(ctx context.Context, departmentID string) ([]domain.Template, error) {
	return e.Repo.ListTemplates(ctx, repo.TemplateFilters{DepartmentID: departmentID})
}

// ListTasks returns the department's tasks, earliest due first.
func (e Engine) ListTasks(ctx context.Context, departmentID string) ([]domain.TaskWithTemplate, error) {
	return e.Repo.ListTasksByDepartment(ctx, departmentID)
}

type RegenerateOptions struct {
	Month   *int
	Year    *int
	Reason  *string
	ActorID string
}

// Regenerate force-generates the task of a department template. Month and
// year default to the current UTC period.
func (e Engine) Regenerate(ctx context.Context, departmentID, templateID string, opts RegenerateOptions) (GenerateResult, error) {
	if _, err := e.GetTemplate(ctx, departmentID, templateID); err != nil {
		return GenerateResult{}, err
	}
	now := e.now()
	month, year := int(now.Month()), now.Year()
	if opts.Month != nil {
		month = *opts.Month
	}
	if opts.Year != nil {
		year = *opts.Year
	}
	return e.GenerateMonthlyTask(ctx, templateID, GenerateOptions{
		Month:     month,
		Year:      year,
		ActorID:   opts.ActorID,
		Force:     true,
		Reason:    opts.Reason,
		Automated: false,
	})
}

// AssignTask links an assignee to a task of departmentID.
func (e Engine) AssignTask(ctx context.Context, departmentID, taskID, assigneeID, actorID string) (domain.Assignment, error) {
	if strings.TrimSpace(assigneeID) == "" {
		return domain.Assignment{}, invalid("assigneeId", "assignee is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()
	task, err := e.Repo.GetDepartmentTaskTx(ctx, tx, departmentID, taskID)
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	due := task.DueDate
	a := domain.Assignment{
		ID:         ids.New(),
		TaskID:     task.ID,
		AssigneeID: assigneeID,
		Status:     string(domain.StatusPending),
		DueDate:    &due,
		CreatedAt:  e.now(),
	}
	if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
		return domain.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	if _, err := e.Audit.Record(ctx, tx, audit.ActionTaskAssigned, audit.Options{
		ActorID:      actorID,
		DepartmentID: departmentID,
		TaskID:       task.ID,
		Metadata:     audit.Metadata{"taskId": task.ID, "assigneeId": assigneeID},
		Entities:     []audit.Entity{{Type: "assignment", ID: a.ID, Extra: map[string]any{"assigneeId": assigneeID}}},
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

func emptyToNil(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return v
}

// IsNotFound reports whether err wraps repo.ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
