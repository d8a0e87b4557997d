package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"complyline/internal/domain"
)

const templateColumns = `id, department_id, name, description, due_day, forms_json, required_docs_json, automated, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (domain.Template, error) {
	var (
		t                  domain.Template
		dept, desc         sql.NullString
		forms, docs        sql.NullString
		createdAt, updated string
	)
	if err := row.Scan(&t.ID, &dept, &t.Name, &desc, &t.DueDay, &forms, &docs, &t.Automated, &createdAt, &updated); err != nil {
		if err == sql.ErrNoRows {
			return t, ErrNotFound
		}
		return t, err
	}
	t.DepartmentID = stringPtr(dept)
	t.Description = stringPtr(desc)
	var err error
	if t.Forms, err = unmarshalStrings(forms); err != nil {
		return t, fmt.Errorf("template %s forms: %w", t.ID, err)
	}
	if t.RequiredDocs, err = unmarshalStrings(docs); err != nil {
		return t, fmt.Errorf("template %s required docs: %w", t.ID, err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) InsertTemplateTx(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	forms, err := marshalStrings(t.Forms)
	if err != nil {
		return err
	}
	docs, err := marshalStrings(t.RequiredDocs)
	if err != nil {
		return err
	}
	_, err = r.on(tx).exec(ctx, `INSERT INTO templates(`+templateColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullableStringPtr(t.DepartmentID), t.Name, nullableStringPtr(t.Description), t.DueDay,
		forms, docs, t.Automated, FormatTime(t.CreatedAt), FormatTime(t.UpdatedAt))
	return err
}

func (r Repo) UpdateTemplateTx(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	forms, err := marshalStrings(t.Forms)
	if err != nil {
		return err
	}
	docs, err := marshalStrings(t.RequiredDocs)
	if err != nil {
		return err
	}
	res, err := r.on(tx).exec(ctx, `UPDATE templates SET name=?, description=?, due_day=?, forms_json=?, required_docs_json=?, automated=?, updated_at=? WHERE id=?`,
		t.Name, nullableStringPtr(t.Description), t.DueDay, forms, docs, t.Automated, FormatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) DeleteTemplateTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.on(tx).exec(ctx, `DELETE FROM templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// GetTemplate finds a template by id regardless of department.
func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return r.GetTemplateTx(ctx, nil, id)
}

func (r Repo) GetTemplateTx(ctx context.Context, tx *sql.Tx, id string) (domain.Template, error) {
	return scanTemplate(r.on(tx).queryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=?`, id))
}

// GetDepartmentTemplate scopes the lookup to departmentID; a template owned by
// another department is reported as ErrNotFound.
func (r Repo) GetDepartmentTemplate(ctx context.Context, departmentID, id string) (domain.Template, error) {
	return r.GetDepartmentTemplateTx(ctx, nil, departmentID, id)
}

func (r Repo) GetDepartmentTemplateTx(ctx context.Context, tx *sql.Tx, departmentID, id string) (domain.Template, error) {
	return scanTemplate(r.on(tx).queryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=? AND department_id=?`, id, departmentID))
}

type TemplateFilters struct {
	DepartmentID  string
	AutomatedOnly bool
}

func (r Repo) ListTemplates(ctx context.Context, f TemplateFilters) ([]domain.Template, error) {
	var (
		clauses []string
		args    []any
	)
	if f.DepartmentID != "" {
		clauses = append(clauses, "department_id=?")
		args = append(args, f.DepartmentID)
	}
	if f.AutomatedOnly {
		clauses = append(clauses, "automated=?")
		args = append(args, true)
	}
	query := `SELECT ` + templateColumns + ` FROM templates`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY name ASC, id ASC"
	rows, err := r.on(nil).query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListAutomatedTemplates returns every template the monthly run should generate for.
func (r Repo) ListAutomatedTemplates(ctx context.Context) ([]domain.Template, error) {
	return r.ListTemplates(ctx, TemplateFilters{AutomatedOnly: true})
}
