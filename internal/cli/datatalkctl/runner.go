package datatalkctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/datatalk/datatalk/internal/catalog"
	"github.com/datatalk/datatalk/internal/sqlguard"
)

// lintRowLimit is the default bound applied when linting offline; it mirrors
// the service default.
const lintRowLimit = 200

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("datatalkctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "DataTalk API base URL")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	catalogPath := fs.String("catalog", "catalog.yaml", "catalog file for offline commands")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]

	method := ""
	path := ""
	var body any
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "datasets":
		method, path = http.MethodGet, "/v1/datasets"
	case "tables":
		if len(rest) != 1 {
			_, _ = fmt.Fprintln(stderr, "usage: datatalkctl tables <dataset>")
			return 2
		}
		method, path = http.MethodGet, "/v1/datasets/"+url.PathEscape(rest[0])+"/tables"
	case "query", "plan":
		if len(rest) < 2 {
			_, _ = fmt.Fprintf(stderr, "usage: datatalkctl %s <dataset> <intent...>\n", command)
			return 2
		}
		execute := command == "query"
		method, path = http.MethodPost, "/v1/query"
		body = map[string]any{
			"dataset": rest[0],
			"intent":  strings.Join(rest[1:], " "),
			"execute": execute,
		}
	case "exec":
		if len(rest) != 2 {
			_, _ = fmt.Fprintln(stderr, "usage: datatalkctl exec <dataset> <sql>")
			return 2
		}
		method, path = http.MethodPost, "/v1/sql/execute"
		body = map[string]any{"dataset": rest[0], "sql": rest[1]}
	case "lint":
		if len(rest) != 2 {
			_, _ = fmt.Fprintln(stderr, "usage: datatalkctl lint <dataset> <file.sql>")
			return 2
		}
		return runLint(*catalogPath, rest[0], rest[1], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: datatalkctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                     GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                      GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  datasets                   GET /v1/datasets")
	_, _ = fmt.Fprintln(w, "  tables <dataset>           GET /v1/datasets/{dataset}/tables")
	_, _ = fmt.Fprintln(w, "  query <dataset> <intent>   POST /v1/query and execute the result")
	_, _ = fmt.Fprintln(w, "  plan <dataset> <intent>    POST /v1/query without executing")
	_, _ = fmt.Fprintln(w, "  exec <dataset> <sql>       POST /v1/sql/execute")
	_, _ = fmt.Fprintln(w, "  lint <dataset> <file.sql>  validate a statement against the local catalog")
}

// runLint validates a SQL file against the local catalog and prints the
// execution-ready rewrite. It makes no network or database calls.
func runLint(catalogPath, dataset, sqlPath string, stdout, stderr io.Writer) int {
	cat, err := catalog.LoadFile(catalogPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load catalog: %v\n", err)
		return 1
	}
	raw, err := os.ReadFile(sqlPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read sql file: %v\n", err)
		return 1
	}

	guard := sqlguard.NewGuard(cat, lintRowLimit)
	st, err := guard.Check(dataset, string(raw))
	if err != nil {
		var rejection *sqlguard.Rejection
		if errors.As(err, &rejection) {
			_, _ = fmt.Fprintf(stderr, "rejected (%s): %s\n", rejection.Code, rejection.Message)
		} else {
			_, _ = fmt.Fprintf(stderr, "rejected: %v\n", err)
		}
		return 1
	}
	st = guard.Rewrite(st)
	_, _ = fmt.Fprintln(stdout, st.SQL)
	return 0
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
