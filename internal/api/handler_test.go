package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/datatalk/datatalk/internal/audit"
	"github.com/datatalk/datatalk/internal/catalog"
	"github.com/datatalk/datatalk/internal/config"
	"github.com/datatalk/datatalk/internal/executor"
	"github.com/datatalk/datatalk/internal/nl2sql"
	"github.com/datatalk/datatalk/internal/sqlguard"
)

const testCatalogYAML = `
datasets:
  odoo:
    schema: odoo_replica
    tables:
      stg_res_partner:
        - id: integer
        - display_name: text
        - email: text
      stg_account_move:
        - id
        - partner_id
        - amount_total: numeric
`

type fakeTranslator struct {
	result nl2sql.Result
	err    error
	gotReq nl2sql.Request
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.gotReq = req
	return f.result, f.err
}

type fakeRunner struct {
	result     executor.Result
	err        error
	calls      int
	gotSchema  string
	gotSQL     string
	gotTimeout time.Duration
}

func (f *fakeRunner) Execute(_ context.Context, schemaName, sqlText string, timeout time.Duration) (executor.Result, error) {
	f.calls++
	f.gotSchema = schemaName
	f.gotSQL = sqlText
	f.gotTimeout = timeout
	return f.result, f.err
}

type catalogHints struct {
	cat *catalog.Catalog
}

func (h catalogHints) Hint(_ context.Context, dataset string) (string, error) {
	return h.cat.SchemaHint(dataset)
}

type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *memorySink) Record(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memorySink) all() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.entries...)
}

type testEnv struct {
	handler    http.Handler
	cfg        config.Config
	deps       Dependencies
	translator *fakeTranslator
	runner     *fakeRunner
	sink       *memorySink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg, err := config.Load("datatalk-api", func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cat, err := catalog.Parse([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("catalog.Parse() error = %v", err)
	}

	env := &testEnv{
		cfg:        cfg,
		translator: &fakeTranslator{},
		runner:     &fakeRunner{},
		sink:       &memorySink{},
	}
	env.deps = Dependencies{
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Catalog:          cat,
		Guard:            sqlguard.NewGuard(cat, cfg.Query.DefaultRowLimit),
		Translator:       env.translator,
		Runner:           env.runner,
		Hints:            catalogHints{cat: cat},
		Audit:            env.sink,
		StatementTimeout: cfg.Query.StatementTimeout,
	}
	env.handler = NewHandler(cfg, env.deps)
	return env
}

func rebuildHandler(t *testing.T, env *testEnv, sink audit.Sink) http.Handler {
	t.Helper()
	deps := env.deps
	deps.Audit = sink
	return NewHandler(env.cfg, deps)
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	recorder := doRequest(t, env.handler, http.MethodGet, "/v1/health", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["status"] != "ok" {
		t.Fatalf("payload = %v", payload)
	}
	if recorder.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected trace id header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	cfg, _ := config.Load("datatalk-api", func(string) (string, bool) { return "", false })
	cat, _ := catalog.Parse([]byte(testCatalogYAML))

	healthy := NewHandler(cfg, Dependencies{
		Catalog:   cat,
		Readiness: CheckCatalogLoaded(cat),
	})
	recorder := doRequest(t, healthy, http.MethodGet, "/v1/ready", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	unhealthy := NewHandler(cfg, Dependencies{
		Catalog: cat,
		Readiness: func(context.Context) error {
			return errors.New("db unreachable")
		},
	})
	recorder = doRequest(t, unhealthy, http.MethodGet, "/v1/ready", "")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["error_code"] != "NOT_READY" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestDiagConfigMasksSecrets(t *testing.T) {
	env := newTestEnv(t)

	recorder := doRequest(t, env.handler, http.MethodGet, "/v1/diag/config", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["db_dsn"] != "SET(***masked***)" {
		t.Fatalf("db_dsn = %v", payload["db_dsn"])
	}
	if payload["ai_api_key"] != "MISSING" {
		t.Fatalf("ai_api_key = %v", payload["ai_api_key"])
	}
	if payload["audit_dsn"] != "MISSING" {
		t.Fatalf("audit_dsn = %v", payload["audit_dsn"])
	}
	if payload["ai_model"] != "gpt-4o-mini" {
		t.Fatalf("ai_model = %v", payload["ai_model"])
	}
	if body := recorder.Body.String(); strings.Contains(body, "postgres://") {
		t.Fatalf("connection string leaked: %s", body)
	}
}

func TestListDatasets(t *testing.T) {
	env := newTestEnv(t)

	recorder := doRequest(t, env.handler, http.MethodGet, "/v1/datasets", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	datasets, _ := payload["datasets"].([]any)
	if len(datasets) != 1 || datasets[0] != "odoo" {
		t.Fatalf("datasets = %v", payload["datasets"])
	}
}

func TestListTables(t *testing.T) {
	env := newTestEnv(t)

	recorder := doRequest(t, env.handler, http.MethodGet, "/v1/datasets/odoo/tables", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["schema"] != "odoo_replica" {
		t.Fatalf("schema = %v", payload["schema"])
	}
	tables, _ := payload["tables"].([]any)
	if len(tables) != 2 {
		t.Fatalf("tables = %v", payload["tables"])
	}

	recorder = doRequest(t, env.handler, http.MethodGet, "/v1/datasets/crm/tables", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("unknown dataset status = %d", recorder.Code)
	}
}
