package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"complyline/internal/config"
	"complyline/internal/db"
	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/migrate"
	"complyline/internal/obs"
	"complyline/internal/repo"
)

const testSecret = "test-secret"

var testAuth = AuthConfig{JWTSecret: testSecret, JWTIssuer: "complyline-test"}

type testServer struct {
	URL     string
	client  *http.Client
	eng     engine.Engine
	metrics *obs.Metrics
	close   func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, db.SQLite, nil)
	e.Audit.Logger = nil
	ctx := context.Background()
	now := time.Now().UTC()
	for _, dept := range []domain.Department{{ID: "dept-1", Name: "Finance"}, {ID: "dept-2", Name: "Legal"}} {
		members := []domain.Assignee{{ID: "u-" + dept.ID, FirstName: "Member", Email: dept.ID + "@example.com"}}
		if err := e.Repo.SeedDirectory(ctx, dept, members, nil, now); err != nil {
			t.Fatalf("seed %s: %v", dept.ID, err)
		}
	}
	metrics := obs.NewMetrics(nil)
	cfg := Config{Engine: e, Auth: testAuth, Metrics: metrics}
	if mutate != nil {
		mutate(&cfg)
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:     "http://" + ln.Addr().String(),
		client:  &http.Client{},
		eng:     e,
		metrics: metrics,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func token(t *testing.T, subject string, roles []string, departments ...string) map[string]string {
	t.Helper()
	tok, err := SignToken(testAuth, subject, roles, departments, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func adminAuth(t *testing.T) map[string]string {
	return token(t, "admin-1", []string{"ADMIN"})
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope %s: %v", data, err)
	}
	return env.Error.Code
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t, nil)
	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, body)
	}
	if res.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers")
	}
	res, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "bearerAuth") {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
}

func TestAuthenticationRequired(t *testing.T) {
	ts := newTestServer(t, nil)
	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d: %s", res.StatusCode, body)
	}
	other, err := SignToken(AuthConfig{JWTSecret: "other"}, "x", []string{"ADMIN"}, nil, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + other})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("token with wrong secret accepted: %d", res.StatusCode)
	}
}

func TestMeReportsPermissions(t *testing.T) {
	ts := newTestServer(t, nil)
	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/me", nil, token(t, "mgr-1", []string{"DEPARTMENT_MANAGER"}, "dept-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, body)
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.ActorID != "mgr-1" || me.Source != "jwt" || len(me.DepartmentIDs) != 1 {
		t.Fatalf("unexpected principal %+v", me)
	}
	want := map[string]bool{"assignments:view": true, "assignments:manage": true, "departments:view": true}
	if len(me.Permissions) != len(want) {
		t.Fatalf("unexpected permissions %v", me.Permissions)
	}
	for _, p := range me.Permissions {
		if !want[p] {
			t.Fatalf("unexpected permission %s", p)
		}
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	ts := newTestServer(t, nil)
	key := domain.APIKey{
		ID:            "key-1",
		ActorID:       "robot",
		Name:          "ci",
		Roles:         []string{"ADMIN"},
		DepartmentIDs: []string{},
		KeyHash:       repo.HashAPIKey("s3cret"),
		CreatedAt:     time.Now().UTC(),
	}
	if err := ts.eng.Repo.InsertAPIKey(context.Background(), nil, key); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/me", nil, map[string]string{"X-Api-Key": "s3cret"})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `"source":"api_key"`) {
		t.Fatalf("api key rejected: %d %s", res.StatusCode, body)
	}
	res, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/me", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown key accepted: %d", res.StatusCode)
	}
}

func TestTemplateLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := adminAuth(t)
	base := ts.URL + "/v1/departments/dept-1"

	res, body := doJSON(t, ts.client, http.MethodPost, base+"/templates", map[string]any{
		"name":          "Vendor review",
		"due_day":       40,
		"forms":         "Form A, Form B\nForm C",
		"required_docs": []string{" Invoice ", ""},
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, body)
	}
	var tpl domain.Template
	if err := json.Unmarshal(body, &tpl); err != nil {
		t.Fatalf("decode template: %v", err)
	}
	if tpl.DueDay != 31 || len(tpl.Forms) != 3 || len(tpl.RequiredDocs) != 1 || tpl.RequiredDocs[0] != "Invoice" || !tpl.Automated {
		t.Fatalf("unexpected template %+v", tpl)
	}

	res, body = doJSON(t, ts.client, http.MethodPut, base+"/templates/"+tpl.ID, map[string]any{"forms": []string{}, "automated": false}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, body)
	}
	var updated domain.Template
	_ = json.Unmarshal(body, &updated)
	if len(updated.Forms) != 0 || updated.Automated || updated.Name != "Vendor review" || len(updated.RequiredDocs) != 1 {
		t.Fatalf("unexpected update %+v", updated)
	}

	res, body = doJSON(t, ts.client, http.MethodGet, base+"/templates", nil, admin)
	var list TemplateListResponse
	_ = json.Unmarshal(body, &list)
	if res.StatusCode != http.StatusOK || len(list.Items) != 1 {
		t.Fatalf("list status %d: %s", res.StatusCode, body)
	}

	res, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/departments/dept-2/templates/"+tpl.ID, nil, admin)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("template visible from another department: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, ts.client, http.MethodDelete, base+"/templates/"+tpl.ID, nil, admin)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, ts.client, http.MethodGet, base+"/templates/"+tpl.ID, nil, admin)
	if res.StatusCode != http.StatusNotFound || errorCode(t, body) != "not_found" {
		t.Fatalf("expected 404 after delete, got %d: %s", res.StatusCode, body)
	}
}

func TestTemplateValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := adminAuth(t)
	url := ts.URL + "/v1/departments/dept-1/templates"

	res, body := doJSON(t, ts.client, http.MethodPost, url, map[string]any{"due_day": 5}, admin)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, body) != "bad_request" {
		t.Fatalf("expected 400 for missing name, got %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, ts.client, http.MethodPost, url, map[string]any{"name": "X", "due_day": 5, "forms": 7}, admin)
	if res.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "forms") {
		t.Fatalf("expected 400 for numeric forms, got %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/departments/missing/templates", map[string]any{"name": "X", "due_day": 5}, adminAuth(t))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown department, got %d: %s", res.StatusCode, body)
	}
}

func createTemplate(t *testing.T, ts *testServer, dept, name string) domain.Template {
	t.Helper()
	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/departments/"+dept+"/templates",
		map[string]any{"name": name, "due_day": 15}, adminAuth(t))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template %d: %s", res.StatusCode, body)
	}
	var tpl domain.Template
	if err := json.Unmarshal(body, &tpl); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return tpl
}

func TestTaskTransitions(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := adminAuth(t)
	tpl := createTemplate(t, ts, "dept-1", "Access review")
	base := ts.URL + "/v1/departments/dept-1"

	res, body := doJSON(t, ts.client, http.MethodPost, base+"/templates/"+tpl.ID+"/regenerate", map[string]any{"month": 3, "year": 2024, "reason": "audit prep"}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("regenerate status %d: %s", res.StatusCode, body)
	}
	var gen GenerateResponse
	_ = json.Unmarshal(body, &gen)
	if !gen.Created || gen.Task.Title != "Access review - March 2024" || !gen.Task.ManualOverride {
		t.Fatalf("unexpected generation %+v", gen)
	}
	taskURL := base + "/tasks/" + gen.Task.ID

	for _, step := range []struct {
		action string
		want   domain.TaskStatus
		closed bool
	}{
		{"skip", domain.StatusSkipped, true},
		{"reopen", domain.StatusPending, false},
		{"close", domain.StatusClosed, true},
	} {
		res, body := doJSON(t, ts.client, http.MethodPost, taskURL+"/"+step.action, map[string]any{"reason": "  "}, admin)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", step.action, res.StatusCode, body)
		}
		var task domain.Task
		_ = json.Unmarshal(body, &task)
		if task.Status != step.want || (task.ClosedAt != nil) != step.closed {
			t.Fatalf("%s: unexpected task %+v", step.action, task)
		}
	}

	// Body is optional.
	res, body = doJSON(t, ts.client, http.MethodPost, taskURL+"/reopen", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reopen without body %d: %s", res.StatusCode, body)
	}

	res, body = doJSON(t, ts.client, http.MethodGet, base+"/tasks", nil, admin)
	var tasks TaskListResponse
	_ = json.Unmarshal(body, &tasks)
	if res.StatusCode != http.StatusOK || len(tasks.Items) != 1 || tasks.Items[0].Template.Name != "Access review" {
		t.Fatalf("list tasks %d: %s", res.StatusCode, body)
	}

	res, _ = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/departments/dept-2/tasks/"+gen.Task.ID+"/close", nil, admin)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("task of another department closed: %d", res.StatusCode)
	}
}

func TestDepartmentGuard(t *testing.T) {
	ts := newTestServer(t, nil)
	tpl := createTemplate(t, ts, "dept-2", "Contract review")
	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/departments/dept-2/templates/"+tpl.ID+"/regenerate", nil, adminAuth(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("regenerate %d: %s", res.StatusCode, body)
	}
	var gen GenerateResponse
	_ = json.Unmarshal(body, &gen)

	manager := token(t, "mgr-1", []string{"DEPARTMENT_MANAGER"}, "dept-1")
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/departments/dept-2/tasks/"+gen.Task.ID+"/assignments",
		map[string]any{"assignee_id": "u-dept-2"}, manager)
	if res.StatusCode != http.StatusForbidden || errorCode(t, body) != "forbidden" {
		t.Fatalf("expected 403 outside department, got %d: %s", res.StatusCode, body)
	}
	res, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/departments/dept-1/templates", nil, manager)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("manager listed templates: %d", res.StatusCode)
	}

	scoped := token(t, "mgr-2", []string{"DEPARTMENT_MANAGER"}, "dept-2")
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/departments/dept-2/tasks/"+gen.Task.ID+"/assignments",
		map[string]any{"assignee_id": "u-dept-2"}, scoped)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign %d: %s", res.StatusCode, body)
	}

	assignee := token(t, "u-dept-2", []string{"ASSIGNEE"}, "dept-2")
	res, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/departments/dept-2/assignments", nil, assignee)
	var list AssignmentListResponse
	_ = json.Unmarshal(body, &list)
	if res.StatusCode != http.StatusOK || len(list.Items) != 1 || list.Items[0].AssigneeID != "u-dept-2" {
		t.Fatalf("list assignments %d: %s", res.StatusCode, body)
	}
	res, _ = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/departments/dept-2/tasks/"+gen.Task.ID+"/skip", nil, assignee)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("assignee skipped a task: %d", res.StatusCode)
	}
}

func TestAuditLogsRequireReviewer(t *testing.T) {
	ts := newTestServer(t, nil)
	createTemplate(t, ts, "dept-1", "Vendor review")
	createTemplate(t, ts, "dept-2", "Contract review")

	res, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/admin/audit-logs", nil, token(t, "mgr", []string{"DEPARTMENT_MANAGER"}, "dept-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("manager read audit logs: %d", res.StatusCode)
	}
	res, body := doJSON(t, ts.client, http.MethodGet,
		ts.URL+"/v1/admin/audit-logs?departmentId=dept-1&limit=abc&startDate=garbage&entityType=complianceTemplate", nil, adminAuth(t))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit logs %d: %s", res.StatusCode, body)
	}
	var page AuditPageResponse
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 1 || page.Limit != 50 || len(page.Records) != 1 || page.Records[0].Action != "template.created" {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Records[0].ActorID == nil || *page.Records[0].ActorID != "admin-1" {
		t.Fatalf("actor not recorded: %+v", page.Records[0])
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.RequestsPerSecond = 0.01
		c.Burst = 2
	})
	var last int
	for i := 0; i < 3; i++ {
		res, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/health", nil, nil)
		last = res.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", last)
	}
}

func TestMetricsUseRoutePatterns(t *testing.T) {
	ts := newTestServer(t, nil)
	createTemplate(t, ts, "dept-1", "Vendor review")
	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(body), `path="/v1/departments/{departmentId}/templates"`) {
		t.Fatalf("route pattern label missing:\n%s", body)
	}
}

func TestWebhookDelivery(t *testing.T) {
	ts := newTestServer(t, nil)
	createTemplate(t, ts, "dept-1", "Before hooks")

	var (
		mu        sync.Mutex
		received  []domain.AuditEntry
		signature string
		raw       []byte
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var entry domain.AuditEntry
		_ = json.Unmarshal(data, &entry)
		mu.Lock()
		received = append(received, entry)
		signature = r.Header.Get("X-Complyline-Signature")
		raw = data
		mu.Unlock()
		if r.Header.Get("X-Complyline-Action") != entry.Action || r.Header.Get("X-Complyline-Delivery") != entry.ID {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	ctx := context.Background()
	d := newWebhookDispatcher(ts.eng.Audit, []config.Webhook{{URL: hook.URL, Secret: "shh", Actions: []string{"task.generated"}}}, nil)
	d.cursorFor(ctx, 0)

	tpl := createTemplate(t, ts, "dept-1", "After hooks")
	if _, err := ts.eng.GenerateMonthlyTask(ctx, tpl.ID, engine.GenerateOptions{Month: 5, Year: 2024, Automated: true}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Action != "task.generated" {
		t.Fatalf("unexpected deliveries %+v", received)
	}
	if signature != Signature("shh", raw) {
		t.Fatalf("bad signature %q", signature)
	}
}
