// Package audit records sensitive actions and serves the audit trail.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"complyline/internal/domain"
	"complyline/internal/ids"
	"complyline/internal/repo"
)

// Action names written by the system.
const (
	ActionTaskGenerated        = "task.generated"
	ActionTaskRegenerated      = "task.regenerated"
	ActionTaskSkipped          = "task.skipped"
	ActionTaskClosed           = "task.closed"
	ActionTaskReopened         = "task.reopened"
	ActionTaskAssigned         = "task.assigned"
	ActionTemplateCreated      = "template.created"
	ActionTemplateUpdated      = "template.updated"
	ActionTemplateDeleted      = "template.deleted"
	ActionMonthlyRun           = "automation.tasks.monthly"
	ActionNotificationDelivery = "notification.delivery"
)

const (
	DefaultRetentionDays = 365
	MinRetentionDays     = 30

	DefaultLimit = 50
	MaxLimit     = 200
)

type absentValue struct{}

func (absentValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Absent marks a value that must be left out of the stored document. A nil
// value, by contrast, is stored as JSON null.
var Absent any = absentValue{}

// Metadata is the free-form JSON object attached to an entry.
type Metadata map[string]any

// Entity describes one record touched by an action. Extra keys are stored
// next to type, id and name.
type Entity struct {
	Type  string
	ID    string
	Name  string
	Extra map[string]any
}

type Options struct {
	ActorID      string
	DepartmentID string
	TaskID       string
	Entities     []Entity
	Metadata     Metadata
}

// NormalizeEntities drops entities without a type and absent extras.
func NormalizeEntities(in []Entity) []map[string]any {
	var out []map[string]any
	for _, e := range in {
		if e.Type == "" {
			continue
		}
		m := map[string]any{"type": e.Type}
		if e.ID != "" {
			m["id"] = e.ID
		}
		if e.Name != "" {
			m["name"] = e.Name
		}
		for k, v := range e.Extra {
			if k == "type" || k == "id" || k == "name" || v == Absent {
				continue
			}
			m[k] = v
		}
		out = append(out, m)
	}
	return out
}

// NormalizeMetadata drops absent values. It returns nil when nothing is left.
func NormalizeMetadata(in Metadata) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if v == Absent {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type Recorder struct {
	Repo          repo.Repo
	RetentionDays int
	Logger        *log.Logger
	Now           func() time.Time
	NewID         func(time.Time) string
}

func New(r repo.Repo, retentionDays int) *Recorder {
	return &Recorder{
		Repo:          r,
		RetentionDays: retentionDays,
		Logger:        log.New(os.Stderr, "audit: ", log.LstdFlags),
		Now:           time.Now,
		NewID:         ids.Sortable,
	}
}

func (r *Recorder) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *Recorder) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

// Record writes one entry. When tx is non-nil the row joins it and is only
// visible once the caller commits.
func (r *Recorder) Record(ctx context.Context, tx *sql.Tx, action string, opts Options) (domain.AuditEntry, error) {
	if strings.TrimSpace(action) == "" {
		return domain.AuditEntry{}, errors.New("audit action required")
	}
	now := r.now()
	newID := r.NewID
	if newID == nil {
		newID = ids.Sortable
	}
	entry := domain.AuditEntry{
		ID:               newID(now),
		Action:           action,
		ActorID:          optional(opts.ActorID),
		DepartmentID:     optional(opts.DepartmentID),
		TaskID:           optional(opts.TaskID),
		Metadata:         NormalizeMetadata(opts.Metadata),
		AffectedEntities: NormalizeEntities(opts.Entities),
		CreatedAt:        now,
	}
	if len(entry.AffectedEntities) > 0 {
		primary := opts.firstEntity()
		entry.PrimaryEntityType = optional(primary.Type)
		entry.PrimaryEntityID = optional(primary.ID)
	}
	var metadata, entities any
	if entry.Metadata != nil {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return domain.AuditEntry{}, fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = string(b)
	}
	if entry.AffectedEntities != nil {
		b, err := json.Marshal(entry.AffectedEntities)
		if err != nil {
			return domain.AuditEntry{}, fmt.Errorf("marshal audit entities: %w", err)
		}
		entities = string(b)
	}
	if err := r.Repo.InsertAuditTx(ctx, tx, entry, metadata, entities); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("record %s: %w", action, err)
	}
	return entry, nil
}

func (o Options) firstEntity() Entity {
	for _, e := range o.Entities {
		if e.Type != "" {
			return e
		}
	}
	return Entity{}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

type Filters struct {
	Action       string
	ActorID      string
	DepartmentID string
	EntityType   string
	EntityID     string
	StartDate    *time.Time
	EndDate      *time.Time
	Limit        int
	Offset       int
}

type Page struct {
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
	Records []domain.AuditEntry `json:"records"`
}

// ResolveLimit defaults non-positive limits to 50 and caps at 200.
func ResolveLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func ResolveOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// Find returns one page of entries, newest first.
func (r *Recorder) Find(ctx context.Context, f Filters) (Page, error) {
	page := Page{Limit: ResolveLimit(f.Limit), Offset: ResolveOffset(f.Offset)}
	total, records, err := r.Repo.QueryAudit(ctx, repo.AuditFilters{
		Action:       f.Action,
		ActorID:      f.ActorID,
		DepartmentID: f.DepartmentID,
		EntityType:   f.EntityType,
		EntityID:     f.EntityID,
		Start:        f.StartDate,
		End:          f.EndDate,
	}, page.Limit, page.Offset)
	if err != nil {
		return Page{}, fmt.Errorf("find audit logs: %w", err)
	}
	page.Total = total
	page.Records = records
	if page.Records == nil {
		page.Records = []domain.AuditEntry{}
	}
	return page, nil
}

// ResolveRetentionDays interprets the configured retention. Empty or
// non-numeric input keeps one year, non-positive disables pruning and anything
// else is floored at 30 days.
func ResolveRetentionDays(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultRetentionDays
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return DefaultRetentionDays
	}
	if v <= 0 {
		return 0
	}
	days := int(math.Trunc(v))
	if days < MinRetentionDays {
		return MinRetentionDays
	}
	return days
}

// EffectiveRetentionDays applies the retention floor to days. Zero or less
// disables pruning.
func EffectiveRetentionDays(days int) int {
	if days <= 0 {
		return 0
	}
	return max(days, MinRetentionDays)
}

// Prune deletes entries older than the retention window, never less than
// MinRetentionDays.
func (r *Recorder) Prune(ctx context.Context) (int64, error) {
	days := EffectiveRetentionDays(r.RetentionDays)
	if days == 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := r.Repo.DeleteAuditBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit logs: %w", err)
	}
	if n > 0 {
		r.logf("purged %d audit log records older than %d days", n, days)
	}
	return n, nil
}

// DeliveredSince reports whether a notification delivery for key was recorded at or after since.
func (r *Recorder) DeliveredSince(ctx context.Context, key repo.DeliveryKey, since time.Time) (bool, error) {
	return r.Repo.HasRecentDelivery(ctx, ActionNotificationDelivery, key, since)
}

// After returns entries with an id greater than cursor, oldest first.
func (r *Recorder) After(ctx context.Context, cursor string, limit int) ([]domain.AuditEntry, error) {
	return r.Repo.ListAuditAfter(ctx, cursor, ResolveLimit(limit))
}

// Cursor returns the id of the newest entry, for callers that only want entries recorded from now on.
func (r *Recorder) Cursor(ctx context.Context) (string, error) {
	return r.Repo.LatestAuditID(ctx)
}
