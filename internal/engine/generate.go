package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"complyline/internal/audit"
	"complyline/internal/db"
	"complyline/internal/domain"
	"complyline/internal/ids"
	"complyline/internal/period"
	"complyline/internal/repo"
)

// EntityComplianceTask is the entity type recorded for task mutations.
const EntityComplianceTask = "complianceTask"

// GenerateOptions select the period and describe who asked for the task.
// Month and Year are normalized before use.
type GenerateOptions struct {
	Month     int
	Year      int
	ActorID   string
	Force     bool
	Reason    *string
	Automated bool
}

type GenerateResult struct {
	Task    domain.Task `json:"task"`
	Created bool        `json:"created"`
	Updated bool        `json:"updated"`
}

// GenerationMetadata is the payload of task.generated and task.regenerated entries.
type GenerationMetadata struct {
	TemplateID   string
	Month        int
	Year         int
	DepartmentID *string
	Automated    bool
	Reason       *string
}

func (m GenerationMetadata) Metadata() audit.Metadata {
	return audit.Metadata{
		"templateId":   m.TemplateID,
		"month":        m.Month,
		"year":         m.Year,
		"departmentId": nullString(m.DepartmentID),
		"automated":    m.Automated,
		"reason":       nullString(m.Reason),
	}
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// GenerateMonthlyTask creates the task of templateID for the requested period,
// or returns the existing one. With Force an existing task is reset to PENDING.
// A concurrent run that inserted the same period first turns this call into a
// no-op returning the winner's task.
func (e Engine) GenerateMonthlyTask(ctx context.Context, templateID string, opts GenerateOptions) (GenerateResult, error) {
	month, year := period.NormalizeMonthYear(float64(opts.Month), float64(opts.Year))
	res, err := e.generate(ctx, templateID, month, year, opts)
	if err == nil || !db.IsUniqueViolation(err) {
		return res, err
	}
	task, gerr := e.Repo.GetTaskByPeriodTx(ctx, nil, templateID, month, year)
	if gerr != nil {
		return GenerateResult{}, fmt.Errorf("reload task after conflict: %w", gerr)
	}
	return GenerateResult{Task: task}, nil
}

func (e Engine) generate(ctx context.Context, templateID string, month, year int, opts GenerateOptions) (GenerateResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GenerateResult{}, err
	}
	defer tx.Rollback()

	tpl, err := e.Repo.GetTemplateTx(ctx, tx, templateID)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("template %s: %w", templateID, err)
	}
	now := e.now()
	meta := GenerationMetadata{
		TemplateID:   templateID,
		Month:        month,
		Year:         year,
		DepartmentID: tpl.DepartmentID,
		Automated:    opts.Automated,
		Reason:       opts.Reason,
	}
	title := period.Title(tpl.Name, month, year)
	due := period.DueDate(tpl.DueDay, month, year)

	existing, err := e.Repo.GetTaskByPeriodTx(ctx, tx, templateID, month, year)
	switch {
	case err == nil && !opts.Force:
		return GenerateResult{Task: existing}, nil
	case err == nil:
		task := existing
		task.Title = title
		task.Details = tpl.Description
		task.DueDate = due
		task.Status = domain.StatusPending
		task.ManualOverride = true
		task.ClosedAt = nil
		task.UpdatedAt = now
		if err := e.Repo.UpdateTaskTx(ctx, tx, task); err != nil {
			return GenerateResult{}, fmt.Errorf("reset task: %w", err)
		}
		if err := e.recordGeneration(ctx, tx, audit.ActionTaskRegenerated, task, meta, opts.ActorID); err != nil {
			return GenerateResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return GenerateResult{}, err
		}
		return GenerateResult{Task: task, Updated: true}, nil
	case !errors.Is(err, repo.ErrNotFound):
		return GenerateResult{}, err
	}

	task := domain.Task{
		ID:             ids.New(),
		TemplateID:     templateID,
		Title:          title,
		Details:        tpl.Description,
		Month:          month,
		Year:           year,
		DueDate:        due,
		Status:         domain.StatusPending,
		ManualOverride: opts.Force,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, task); err != nil {
		return GenerateResult{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.recordGeneration(ctx, tx, audit.ActionTaskGenerated, task, meta, opts.ActorID); err != nil {
		return GenerateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return GenerateResult{}, err
	}
	return GenerateResult{Task: task, Created: true}, nil
}

func (e Engine) recordGeneration(ctx context.Context, tx *sql.Tx, action string, task domain.Task, meta GenerationMetadata, actorID string) error {
	_, err := e.Audit.Record(ctx, tx, action, audit.Options{
		ActorID:      actorID,
		DepartmentID: stringValue(meta.DepartmentID),
		TaskID:       task.ID,
		Metadata:     meta.Metadata(),
		Entities: []audit.Entity{{
			Type:  EntityComplianceTask,
			ID:    task.ID,
			Extra: map[string]any{"templateId": task.TemplateID, "month": task.Month, "year": task.Year},
		}},
	})
	return err
}

// RecordAutomationRun writes the summary entry of one scheduled batch.
func (e Engine) RecordAutomationRun(ctx context.Context, metadata audit.Metadata) error {
	_, err := e.Audit.Record(ctx, nil, audit.ActionMonthlyRun, audit.Options{Metadata: metadata})
	return err
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
