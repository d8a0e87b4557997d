package repo

import (
	"context"
	"database/sql"
	"time"

	"complyline/internal/domain"
)

func (r Repo) InsertDepartment(ctx context.Context, tx *sql.Tx, d domain.Department) error {
	_, err := r.on(tx).exec(ctx, `INSERT INTO departments(id, name, created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`,
		d.ID, d.Name, FormatTime(d.CreatedAt))
	return err
}

func (r Repo) GetDepartment(ctx context.Context, id string) (domain.Department, error) {
	return r.GetDepartmentTx(ctx, nil, id)
}

func (r Repo) GetDepartmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Department, error) {
	var (
		d       domain.Department
		created string
	)
	err := r.on(tx).queryRow(ctx, `SELECT id, name, created_at FROM departments WHERE id=?`, id).Scan(&d.ID, &d.Name, &created)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.CreatedAt, err = parseTime(created)
	return d, err
}

func (r Repo) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := r.on(nil).query(ctx, `SELECT id, name, created_at FROM departments ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		var (
			d       domain.Department
			created string
		)
		if err := rows.Scan(&d.ID, &d.Name, &created); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertAssignee(ctx context.Context, tx *sql.Tx, a domain.Assignee) error {
	_, err := r.on(tx).exec(ctx, `INSERT INTO assignees(id, first_name, last_name, email, phone_number, created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, nullable(a.FirstName), nullable(a.LastName), a.Email, nullableStringPtr(a.PhoneNumber), FormatTime(a.CreatedAt))
	return err
}

// AddDepartmentMember links an assignee to a department, optionally as manager.
func (r Repo) AddDepartmentMember(ctx context.Context, tx *sql.Tx, assigneeID, departmentID string, manager bool) error {
	_, err := r.on(tx).exec(ctx, `INSERT INTO assignee_departments(assignee_id, department_id, is_manager) VALUES (?,?,?)
ON CONFLICT(assignee_id, department_id) DO UPDATE SET is_manager=excluded.is_manager`, assigneeID, departmentID, manager)
	return err
}

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := r.on(tx).exec(ctx, `INSERT INTO assignments(id, task_id, assignee_id, status, due_date, created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.AssigneeID, a.Status, nullableTimePtr(a.DueDate), FormatTime(a.CreatedAt))
	return err
}

const assigneeColumns = `s.id, COALESCE(s.first_name,''), COALESCE(s.last_name,''), s.email, s.phone_number, s.created_at`

func scanAssignee(dest *domain.Assignee, created *string, phone *sql.NullString) []any {
	return []any{&dest.ID, &dest.FirstName, &dest.LastName, &dest.Email, phone, created}
}

func finishAssignee(a *domain.Assignee, created string, phone sql.NullString) error {
	a.PhoneNumber = stringPtr(phone)
	t, err := parseTime(created)
	if err != nil {
		return err
	}
	a.CreatedAt = t
	return nil
}

func (r Repo) listAssignments(ctx context.Context, where string, args ...any) ([]domain.Assignment, error) {
	rows, err := r.on(nil).query(ctx, `SELECT a.id, a.task_id, a.assignee_id, a.status, a.due_date, a.created_at, `+assigneeColumns+`
FROM assignments a
JOIN assignees s ON s.id=a.assignee_id
WHERE `+where+`
ORDER BY a.created_at ASC, a.id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var (
			a                 domain.Assignment
			due               sql.NullString
			created, sCreated string
			phone             sql.NullString
		)
		dest := append([]any{&a.ID, &a.TaskID, &a.AssigneeID, &a.Status, &due, &created}, scanAssignee(&a.Assignee, &sCreated, &phone)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if a.DueDate, err = parseNullTime(due); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if err := finishAssignee(&a.Assignee, sCreated, phone); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListDepartmentAssignments returns assignments on tasks whose template belongs to departmentID.
func (r Repo) ListDepartmentAssignments(ctx context.Context, departmentID string) ([]domain.Assignment, error) {
	return r.listAssignments(ctx, `a.task_id IN (SELECT t.id FROM tasks t JOIN templates tpl ON tpl.id=t.template_id WHERE tpl.department_id=?)`, departmentID)
}

// ListTaskAssignments returns the assignments (with assignee) of a task.
func (r Repo) ListTaskAssignments(ctx context.Context, taskID string) ([]domain.Assignment, error) {
	return r.listAssignments(ctx, "a.task_id=?", taskID)
}

// ListDepartmentManagers returns assignees flagged as managers of departmentID.
func (r Repo) ListDepartmentManagers(ctx context.Context, departmentID string) ([]domain.Assignee, error) {
	rows, err := r.on(nil).query(ctx, `SELECT `+assigneeColumns+`
FROM assignee_departments m
JOIN assignees s ON s.id=m.assignee_id
WHERE m.department_id=? AND m.is_manager=?
ORDER BY s.id ASC`, departmentID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignee
	for rows.Next() {
		var (
			a       domain.Assignee
			created string
			phone   sql.NullString
		)
		if err := rows.Scan(scanAssignee(&a, &created, &phone)...); err != nil {
			return nil, err
		}
		if err := finishAssignee(&a, created, phone); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// SeedDirectory inserts a department with assignees in one transaction; used by the CLI and tests.
func (r Repo) SeedDirectory(ctx context.Context, dept domain.Department, members []domain.Assignee, managers map[string]bool, now time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if dept.CreatedAt.IsZero() {
		dept.CreatedAt = now
	}
	if err := r.InsertDepartment(ctx, tx, dept); err != nil {
		return err
	}
	for _, m := range members {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if err := r.InsertAssignee(ctx, tx, m); err != nil {
			return err
		}
		if err := r.AddDepartmentMember(ctx, tx, m.ID, dept.ID, managers[m.ID]); err != nil {
			return err
		}
	}
	return tx.Commit()
}
