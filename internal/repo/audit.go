package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"complyline/internal/db"
	"complyline/internal/domain"
)

const auditColumns = `id, action, actor_id, department_id, task_id, metadata_json, entities_json, primary_entity_type, primary_entity_id, created_at`

// InsertAuditTx stores one audit row. metadata and entities are already-encoded
// JSON documents or nil.
func (r Repo) InsertAuditTx(ctx context.Context, tx *sql.Tx, e domain.AuditEntry, metadata, entities any) error {
	_, err := r.on(tx).exec(ctx, `INSERT INTO audit_logs(`+auditColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Action, nullableStringPtr(e.ActorID), nullableStringPtr(e.DepartmentID), nullableStringPtr(e.TaskID),
		metadata, entities, nullableStringPtr(e.PrimaryEntityType), nullableStringPtr(e.PrimaryEntityID), FormatTime(e.CreatedAt))
	return err
}

// AuditFilters narrows QueryAudit. Zero values mean "any".
type AuditFilters struct {
	Action       string
	ActorID      string
	DepartmentID string
	TaskID       string
	EntityType   string
	EntityID     string
	Start        *time.Time
	End          *time.Time
	// AfterID returns rows with a greater id, oldest first; used by cursors.
	AfterID string
}

func (f AuditFilters) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		clauses = append(clauses, clause)
		args = append(args, v)
	}
	if f.Action != "" {
		add("action=?", f.Action)
	}
	if f.ActorID != "" {
		add("actor_id=?", f.ActorID)
	}
	if f.DepartmentID != "" {
		add("department_id=?", f.DepartmentID)
	}
	if f.TaskID != "" {
		add("task_id=?", f.TaskID)
	}
	if f.EntityType != "" {
		add("primary_entity_type=?", f.EntityType)
	}
	if f.EntityID != "" {
		add("primary_entity_id=?", f.EntityID)
	}
	if f.Start != nil {
		add("created_at>=?", FormatTime(*f.Start))
	}
	if f.End != nil {
		add("created_at<=?", FormatTime(*f.End))
	}
	if f.AfterID != "" {
		add("id>?", f.AfterID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// QueryAudit returns the total matching count and one page, newest first. Both
// reads share a read-only transaction so the count matches the page.
func (r Repo) QueryAudit(ctx context.Context, f AuditFilters, limit, offset int) (int, []domain.AuditEntry, error) {
	tx, err := r.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: r.Dialect == db.Postgres})
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback()
	where, args := f.where()
	var total int
	if err := r.on(tx).queryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count audit logs: %w", err)
	}
	pageArgs := append(append([]any{}, args...), limit, offset)
	entries, err := r.scanAudit(ctx, tx, `SELECT `+auditColumns+` FROM audit_logs`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return 0, nil, err
	}
	return total, entries, tx.Commit()
}

// ListAuditAfter returns up to limit rows with an id greater than afterID in id order.
func (r Repo) ListAuditAfter(ctx context.Context, afterID string, limit int) ([]domain.AuditEntry, error) {
	where, args := AuditFilters{AfterID: afterID}.where()
	args = append(args, limit)
	return r.scanAudit(ctx, nil, `SELECT `+auditColumns+` FROM audit_logs`+where+` ORDER BY id ASC LIMIT ?`, args...)
}

// LatestAuditID returns the greatest audit id, or "" when the table is empty.
func (r Repo) LatestAuditID(ctx context.Context) (string, error) {
	var id sql.NullString
	if err := r.on(nil).queryRow(ctx, `SELECT MAX(id) FROM audit_logs`).Scan(&id); err != nil {
		return "", err
	}
	return id.String, nil
}

func (r Repo) scanAudit(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]domain.AuditEntry, error) {
	rows, err := r.on(tx).query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var (
			e                    domain.AuditEntry
			actor, dept, task    sql.NullString
			metadata, entities   sql.NullString
			entityType, entityID sql.NullString
			created              string
		)
		if err := rows.Scan(&e.ID, &e.Action, &actor, &dept, &task, &metadata, &entities, &entityType, &entityID, &created); err != nil {
			return nil, err
		}
		e.ActorID = stringPtr(actor)
		e.DepartmentID = stringPtr(dept)
		e.TaskID = stringPtr(task)
		e.PrimaryEntityType = stringPtr(entityType)
		e.PrimaryEntityID = stringPtr(entityID)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("audit %s metadata: %w", e.ID, err)
			}
		}
		if entities.Valid && entities.String != "" {
			if err := json.Unmarshal([]byte(entities.String), &e.AffectedEntities); err != nil {
				return nil, fmt.Errorf("audit %s entities: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// DeleteAuditBefore removes rows created strictly before cutoff.
func (r Repo) DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.on(nil).exec(ctx, `DELETE FROM audit_logs WHERE created_at<?`, FormatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// jsonField extracts a top-level text field of metadata_json.
func (r Repo) jsonField(name string) string {
	if r.Dialect == db.Postgres {
		return "metadata_json->>'" + name + "'"
	}
	return "json_extract(metadata_json, '$." + name + "')"
}

// DeliveryKey identifies one notification delivery for de-duplication.
type DeliveryKey struct {
	TaskID           string
	NotificationType string
	Channel          string
	Recipient        string
}

// HasRecentDelivery reports whether a delivery attempt matching key was
// recorded at or after since.
func (r Repo) HasRecentDelivery(ctx context.Context, action string, key DeliveryKey, since time.Time) (bool, error) {
	query := `SELECT COUNT(*) FROM audit_logs WHERE action=? AND task_id=? AND created_at>=?` +
		` AND ` + r.jsonField("notificationType") + `=?` +
		` AND ` + r.jsonField("channel") + `=?` +
		` AND ` + r.jsonField("recipient") + `=?`
	var n int
	err := r.on(nil).queryRow(ctx, query, action, key.TaskID, FormatTime(since), key.NotificationType, key.Channel, key.Recipient).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
