package datatalkctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testOptions(server *httptest.Server, stdout, stderr *bytes.Buffer) Options {
	return Options{
		BaseURL: server.URL,
		Stdout:  stdout,
		Stderr:  stderr,
	}
}

func TestRunHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" || r.Method != http.MethodGet {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"health"}, testOptions(server, &stdout, &stderr))
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"status": "ok"`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunQueryPostsIntent(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/query" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{"executed": true})
	}))
	defer server.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"query", "odoo", "top", "partners", "by", "revenue"},
		testOptions(server, &stdout, &stderr))
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if captured["dataset"] != "odoo" {
		t.Fatalf("dataset = %v", captured["dataset"])
	}
	if captured["intent"] != "top partners by revenue" {
		t.Fatalf("intent = %v", captured["intent"])
	}
	if captured["execute"] != true {
		t.Fatalf("execute = %v", captured["execute"])
	}
}

func TestRunPlanDisablesExecution(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{"executed": false})
	}))
	defer server.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"plan", "odoo", "how many partners"},
		testOptions(server, &stdout, &stderr))
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if captured["execute"] != false {
		t.Fatalf("execute = %v", captured["execute"])
	}
}

func TestRunTablesEscapesDataset(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_ = json.NewEncoder(w).Encode(map[string]any{"tables": []any{}})
	}))
	defer server.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"tables", "odoo"}, testOptions(server, &stdout, &stderr))
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotPath != "/v1/datasets/odoo/tables" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestRunReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error_code":"WILDCARD_SELECT"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"exec", "odoo", "SELECT * FROM t"},
		testOptions(server, &stdout, &stderr))
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "http 400") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunLintValidatesLocally(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	sqlPath := filepath.Join(dir, "query.sql")

	catalogYAML := "datasets:\n  odoo:\n    schema: odoo_replica\n    tables:\n      stg_res_partner:\n        - id\n        - display_name\n"
	if err := os.WriteFile(catalogPath, []byte(catalogYAML), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if err := os.WriteFile(sqlPath, []byte("SELECT id FROM stg_res_partner"), 0o600); err != nil {
		t.Fatalf("write sql: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(),
		[]string{"-catalog", catalogPath, "lint", "odoo", sqlPath},
		Options{Stdout: &stdout, Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "SELECT id FROM odoo_replica.stg_res_partner LIMIT 200;" {
		t.Fatalf("stdout = %q", got)
	}

	if err := os.WriteFile(sqlPath, []byte("SELECT * FROM stg_res_partner"), 0o600); err != nil {
		t.Fatalf("rewrite sql: %v", err)
	}
	stdout.Reset()
	stderr.Reset()
	code = Run(context.Background(),
		[]string{"-catalog", catalogPath, "lint", "odoo", sqlPath},
		Options{Stdout: &stdout, Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "WILDCARD_SELECT") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	}))
	defer server.Close()

	cases := [][]string{
		{},
		{"unknown-command"},
		{"tables"},
		{"query", "odoo"},
		{"exec", "odoo"},
		{"lint", "odoo"},
	}
	for _, args := range cases {
		var stdout, stderr bytes.Buffer
		if code := Run(context.Background(), args, testOptions(server, &stdout, &stderr)); code != 2 {
			t.Fatalf("Run(%v) exit code = %d, want 2", args, code)
		}
	}
}
