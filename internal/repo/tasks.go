package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"complyline/internal/domain"
)

const taskColumns = `t.id, t.template_id, t.title, t.details, t.month, t.year, t.due_date, t.status, t.manual_override, t.closed_at, t.created_at, t.updated_at`

func scanTask(row rowScanner, extra ...any) (domain.Task, error) {
	var (
		t                     domain.Task
		details, closedAt     sql.NullString
		status                string
		due, created, updated string
	)
	dest := append([]any{&t.ID, &t.TemplateID, &t.Title, &details, &t.Month, &t.Year, &due, &status, &t.ManualOverride, &closedAt, &created, &updated}, extra...)
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return t, ErrNotFound
		}
		return t, err
	}
	t.Details = stringPtr(details)
	t.Status = domain.TaskStatus(status)
	var err error
	if t.DueDate, err = parseTime(due); err != nil {
		return t, err
	}
	if t.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.on(tx).exec(ctx, `INSERT INTO tasks(id, template_id, title, details, month, year, due_date, status, manual_override, closed_at, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.TemplateID, t.Title, nullableStringPtr(t.Details), t.Month, t.Year, FormatTime(t.DueDate),
		string(t.Status), t.ManualOverride, nullableTimePtr(t.ClosedAt), FormatTime(t.CreatedAt), FormatTime(t.UpdatedAt))
	return err
}

// UpdateTaskTx rewrites the mutable columns of a task. Period and template are immutable.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.on(tx).exec(ctx, `UPDATE tasks SET title=?, details=?, due_date=?, status=?, manual_override=?, closed_at=?, updated_at=? WHERE id=?`,
		t.Title, nullableStringPtr(t.Details), FormatTime(t.DueDate), string(t.Status), t.ManualOverride,
		nullableTimePtr(t.ClosedAt), FormatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.on(nil).queryRow(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id=?`, id))
}

// GetTaskByPeriodTx finds the task generated for (templateID, month, year).
func (r Repo) GetTaskByPeriodTx(ctx context.Context, tx *sql.Tx, templateID string, month, year int) (domain.Task, error) {
	return scanTask(r.on(tx).queryRow(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.template_id=? AND t.month=? AND t.year=?`,
		templateID, month, year))
}

// GetDepartmentTaskTx resolves a task through its template's department.
func (r Repo) GetDepartmentTaskTx(ctx context.Context, tx *sql.Tx, departmentID, taskID string) (domain.Task, error) {
	return scanTask(r.on(tx).queryRow(ctx, `SELECT `+taskColumns+` FROM tasks t
JOIN templates tpl ON tpl.id=t.template_id
WHERE t.id=? AND tpl.department_id=?`, taskID, departmentID))
}

// ListTasksByDepartment returns the department's tasks with their template summary, earliest due first.
func (r Repo) ListTasksByDepartment(ctx context.Context, departmentID string) ([]domain.TaskWithTemplate, error) {
	rows, err := r.on(nil).query(ctx, `SELECT `+taskColumns+`, tpl.id, tpl.name, tpl.due_day, tpl.forms_json, tpl.required_docs_json
FROM tasks t
JOIN templates tpl ON tpl.id=t.template_id
WHERE tpl.department_id=?
ORDER BY t.due_date ASC, t.id ASC`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskWithTemplate
	for rows.Next() {
		var (
			item        domain.TaskWithTemplate
			forms, docs sql.NullString
		)
		task, err := scanTask(rows, &item.Template.ID, &item.Template.Name, &item.Template.DueDay, &forms, &docs)
		if err != nil {
			return nil, err
		}
		item.Task = task
		if item.Template.Forms, err = unmarshalStrings(forms); err != nil {
			return nil, err
		}
		if item.Template.RequiredDocs, err = unmarshalStrings(docs); err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

// NoticeFilters select open tasks for the reminder and escalation passes.
type NoticeFilters struct {
	DueFrom    *time.Time // inclusive
	DueThrough *time.Time // inclusive
	DueBefore  *time.Time // exclusive
}

// ListOpenTaskNotices returns PENDING/IN_PROGRESS tasks in the due window together
// with their template, department and assignments.
func (r Repo) ListOpenTaskNotices(ctx context.Context, f NoticeFilters) ([]domain.TaskNotice, error) {
	clauses := []string{"t.status IN (" + placeholders(len(domain.OpenStatuses)) + ")"}
	var args []any
	for _, s := range domain.OpenStatuses {
		args = append(args, string(s))
	}
	if f.DueFrom != nil {
		clauses = append(clauses, "t.due_date>=?")
		args = append(args, FormatTime(*f.DueFrom))
	}
	if f.DueThrough != nil {
		clauses = append(clauses, "t.due_date<=?")
		args = append(args, FormatTime(*f.DueThrough))
	}
	if f.DueBefore != nil {
		clauses = append(clauses, "t.due_date<?")
		args = append(args, FormatTime(*f.DueBefore))
	}
	notices, err := r.listNotices(ctx, strings.Join(clauses, " AND "), args...)
	if err != nil {
		return nil, err
	}
	return notices, r.attachAssignments(ctx, notices)
}

// GetTaskNotice loads a single task projection with its assignments.
func (r Repo) GetTaskNotice(ctx context.Context, taskID string) (domain.TaskNotice, error) {
	notices, err := r.listNotices(ctx, "t.id=?", taskID)
	if err != nil {
		return domain.TaskNotice{}, err
	}
	if len(notices) == 0 {
		return domain.TaskNotice{}, ErrNotFound
	}
	if err := r.attachAssignments(ctx, notices); err != nil {
		return domain.TaskNotice{}, err
	}
	return notices[0], nil
}

func (r Repo) listNotices(ctx context.Context, where string, args ...any) ([]domain.TaskNotice, error) {
	rows, err := r.on(nil).query(ctx, `SELECT `+taskColumns+`, COALESCE(tpl.name, ''), tpl.department_id, d.name
FROM tasks t
LEFT JOIN templates tpl ON tpl.id=t.template_id
LEFT JOIN departments d ON d.id=tpl.department_id
WHERE `+where+`
ORDER BY t.due_date ASC, t.id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskNotice
	for rows.Next() {
		var (
			n              domain.TaskNotice
			dept, deptName sql.NullString
		)
		task, err := scanTask(rows, &n.TemplateName, &dept, &deptName)
		if err != nil {
			return nil, err
		}
		n.Task = task
		n.DepartmentID = stringPtr(dept)
		n.DepartmentName = stringPtr(deptName)
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) attachAssignments(ctx context.Context, notices []domain.TaskNotice) error {
	if len(notices) == 0 {
		return nil
	}
	ids := make([]any, 0, len(notices))
	index := make(map[string]int, len(notices))
	for i, n := range notices {
		ids = append(ids, n.ID)
		index[n.ID] = i
	}
	assignments, err := r.listAssignments(ctx, "a.task_id IN ("+placeholders(len(ids))+")", ids...)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		i := index[a.TaskID]
		notices[i].Assignments = append(notices[i].Assignments, a)
	}
	return nil
}
