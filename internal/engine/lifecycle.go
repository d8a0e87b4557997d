package engine

import (
	"context"
	"fmt"

	"complyline/internal/audit"
	"complyline/internal/domain"
)

type TransitionOptions struct {
	ActorID string
	Reason  *string
}

// TransitionMetadata is the payload of task.skipped, task.closed and task.reopened entries.
type TransitionMetadata struct {
	TaskID       string
	DepartmentID string
	From         domain.TaskStatus
	To           domain.TaskStatus
	Reason       *string
}

func (m TransitionMetadata) Metadata() audit.Metadata {
	return audit.Metadata{
		"taskId":       m.TaskID,
		"departmentId": m.DepartmentID,
		"fromStatus":   string(m.From),
		"toStatus":     string(m.To),
		"reason":       nullString(m.Reason),
	}
}

var transitionActions = map[domain.TaskStatus]string{
	domain.StatusSkipped: audit.ActionTaskSkipped,
	domain.StatusClosed:  audit.ActionTaskClosed,
	domain.StatusPending: audit.ActionTaskReopened,
}

// Transition applies a manual status override to a task of departmentID.
// Repeating a transition is allowed and audited again.
func (e Engine) Transition(ctx context.Context, departmentID, taskID string, target domain.TaskStatus, opts TransitionOptions) (domain.Task, error) {
	action, ok := transitionActions[target]
	if !ok {
		return domain.Task{}, invalid("status", "unsupported transition target %q", target)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	task, err := e.Repo.GetDepartmentTaskTx(ctx, tx, departmentID, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	from := task.Status
	now := e.now()
	task.Status = target
	task.ManualOverride = true
	task.ClosedAt = nil
	if domain.IsTerminal(target) {
		closed := now
		task.ClosedAt = &closed
	}
	task.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, task); err != nil {
		return domain.Task{}, fmt.Errorf("update task status: %w", err)
	}
	meta := TransitionMetadata{TaskID: taskID, DepartmentID: departmentID, From: from, To: target, Reason: opts.Reason}
	if _, err := e.Audit.Record(ctx, tx, action, audit.Options{
		ActorID:      opts.ActorID,
		DepartmentID: departmentID,
		TaskID:       taskID,
		Metadata:     meta.Metadata(),
		Entities: []audit.Entity{{
			Type:  EntityComplianceTask,
			ID:    taskID,
			Extra: map[string]any{"fromStatus": string(from), "toStatus": string(target)},
		}},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (e Engine) SkipTask(ctx context.Context, departmentID, taskID string, opts TransitionOptions) (domain.Task, error) {
	return e.Transition(ctx, departmentID, taskID, domain.StatusSkipped, opts)
}

func (e Engine) CloseTask(ctx context.Context, departmentID, taskID string, opts TransitionOptions) (domain.Task, error) {
	return e.Transition(ctx, departmentID, taskID, domain.StatusClosed, opts)
}

func (e Engine) ReopenTask(ctx context.Context, departmentID, taskID string, opts TransitionOptions) (domain.Task, error) {
	return e.Transition(ctx, departmentID, taskID, domain.StatusPending, opts)
}
