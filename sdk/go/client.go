package complylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Complyline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for the API served under baseURL + "/v1".
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Template represents a compliance template.
type Template struct {
	ID           string    `json:"id"`
	DepartmentID string    `json:"department_id,omitempty"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	DueDay       int       `json:"due_day"`
	Forms        []string  `json:"forms,omitempty"`
	RequiredDocs []string  `json:"required_docs,omitempty"`
	Automated    bool      `json:"automated"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TemplateInput is sent on create and update. Nil fields are omitted, which
// leaves them unchanged on update.
type TemplateInput struct {
	Name         *string  `json:"name,omitempty"`
	Description  *string  `json:"description,omitempty"`
	DueDay       *float64 `json:"due_day,omitempty"`
	Forms        []string `json:"forms,omitempty"`
	RequiredDocs []string `json:"required_docs,omitempty"`
	Automated    *bool    `json:"automated,omitempty"`
}

// Task represents a generated monthly task.
type Task struct {
	ID             string     `json:"id"`
	TemplateID     string     `json:"template_id"`
	Title          string     `json:"title"`
	Details        string     `json:"details,omitempty"`
	Month          int        `json:"month"`
	Year           int        `json:"year"`
	DueDate        time.Time  `json:"due_date"`
	Status         string     `json:"status"`
	ManualOverride bool       `json:"manual_override"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// GenerateResult reports whether a regeneration created or reset the task.
type GenerateResult struct {
	Task    Task `json:"task"`
	Created bool `json:"created"`
	Updated bool `json:"updated"`
}

type Assignment struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	AssigneeID string `json:"assignee_id"`
	Status     string `json:"status"`
}

// AuditEntry represents one audit trail record.
type AuditEntry struct {
	ID                string           `json:"id"`
	Action            string           `json:"action"`
	ActorID           string           `json:"actor_id,omitempty"`
	DepartmentID      string           `json:"department_id,omitempty"`
	TaskID            string           `json:"task_id,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	AffectedEntities  []map[string]any `json:"affected_entities,omitempty"`
	PrimaryEntityType string           `json:"primary_entity_type,omitempty"`
	PrimaryEntityID   string           `json:"primary_entity_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// AuditPage wraps audit search results.
type AuditPage struct {
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Records []AuditEntry `json:"records"`
}

// AuditQuery filters audit searches; zero values are not sent.
type AuditQuery struct {
	Action       string
	ActorID      string
	DepartmentID string
	EntityType   string
	EntityID     string
	StartDate    time.Time
	EndDate      time.Time
	Limit        int
	Offset       int
}

// NotificationReport summarizes a reminder or escalation pass.
type NotificationReport struct {
	Type    string `json:"type"`
	Tasks   int    `json:"tasks"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListTemplates lists the templates of a department.
func (c *Client) ListTemplates(ctx context.Context, departmentID string) ([]Template, error) {
	var resp struct {
		Items []Template `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.departmentPath(departmentID, "templates"), nil, &resp)
	return resp.Items, err
}

// CreateTemplate creates a template in a department.
func (c *Client) CreateTemplate(ctx context.Context, departmentID string, in TemplateInput) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodPost, c.departmentPath(departmentID, "templates"), in, &resp)
	return resp, err
}

func (c *Client) GetTemplate(ctx context.Context, departmentID, templateID string) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodGet, c.departmentPath(departmentID, "templates/"+url.PathEscape(templateID)), nil, &resp)
	return resp, err
}

func (c *Client) UpdateTemplate(ctx context.Context, departmentID, templateID string, in TemplateInput) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodPut, c.departmentPath(departmentID, "templates/"+url.PathEscape(templateID)), in, &resp)
	return resp, err
}

func (c *Client) DeleteTemplate(ctx context.Context, departmentID, templateID string) error {
	return c.do(ctx, http.MethodDelete, c.departmentPath(departmentID, "templates/"+url.PathEscape(templateID)), nil, nil)
}

// Regenerate force-generates a template's task. Zero month or year selects the current period.
func (c *Client) Regenerate(ctx context.Context, departmentID, templateID string, month, year int, reason string) (GenerateResult, error) {
	body := map[string]any{}
	if month != 0 {
		body["month"] = month
	}
	if year != 0 {
		body["year"] = year
	}
	if reason != "" {
		body["reason"] = reason
	}
	var resp GenerateResult
	endpoint := c.departmentPath(departmentID, fmt.Sprintf("templates/%s/regenerate", url.PathEscape(templateID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListTasks lists the tasks of a department, earliest due first.
func (c *Client) ListTasks(ctx context.Context, departmentID string) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.departmentPath(departmentID, "tasks"), nil, &resp)
	return resp.Items, err
}

func (c *Client) SkipTask(ctx context.Context, departmentID, taskID, reason string) (Task, error) {
	return c.taskAction(ctx, departmentID, taskID, "skip", reason)
}

func (c *Client) CloseTask(ctx context.Context, departmentID, taskID, reason string) (Task, error) {
	return c.taskAction(ctx, departmentID, taskID, "close", reason)
}

func (c *Client) ReopenTask(ctx context.Context, departmentID, taskID, reason string) (Task, error) {
	return c.taskAction(ctx, departmentID, taskID, "reopen", reason)
}

func (c *Client) taskAction(ctx context.Context, departmentID, taskID, action, reason string) (Task, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Task
	endpoint := c.departmentPath(departmentID, fmt.Sprintf("tasks/%s/%s", url.PathEscape(taskID), action))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AssignTask assigns a task of the department to assigneeID.
func (c *Client) AssignTask(ctx context.Context, departmentID, taskID, assigneeID string) (Assignment, error) {
	var resp Assignment
	endpoint := c.departmentPath(departmentID, fmt.Sprintf("tasks/%s/assignments", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"assignee_id": assigneeID}, &resp)
	return resp, err
}

// AuditLogs searches the audit trail. Requires the auditLogs:review permission.
func (c *Client) AuditLogs(ctx context.Context, q AuditQuery) (AuditPage, error) {
	params := url.Values{}
	set := func(key, value string) {
		if value != "" {
			params.Set(key, value)
		}
	}
	set("action", q.Action)
	set("actorId", q.ActorID)
	set("departmentId", q.DepartmentID)
	set("entityType", q.EntityType)
	set("entityId", q.EntityID)
	if !q.StartDate.IsZero() {
		set("startDate", q.StartDate.UTC().Format(time.RFC3339))
	}
	if !q.EndDate.IsZero() {
		set("endDate", q.EndDate.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		set("offset", strconv.Itoa(q.Offset))
	}
	endpoint := "admin/audit-logs"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp AuditPage
	err := c.do(ctx, http.MethodGet, c.apiPath(endpoint), nil, &resp)
	return resp, err
}

// SendReminders triggers a reminder pass; windowHours <= 0 uses the server default.
func (c *Client) SendReminders(ctx context.Context, windowHours float64) (NotificationReport, error) {
	body := map[string]any{}
	if windowHours > 0 {
		body["window_hours"] = windowHours
	}
	var resp NotificationReport
	err := c.do(ctx, http.MethodPost, c.apiPath("admin/notifications/reminders"), body, &resp)
	return resp, err
}

func (c *Client) SendEscalations(ctx context.Context) (NotificationReport, error) {
	var resp NotificationReport
	err := c.do(ctx, http.MethodPost, c.apiPath("admin/notifications/escalations"), map[string]any{}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	return strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) departmentPath(departmentID, p string) string {
	return c.apiPath(fmt.Sprintf("departments/%s/%s", url.PathEscape(departmentID), strings.TrimLeft(p, "/")))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
