package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTraceMiddlewareMintsPrefixedID(t *testing.T) {
	var got string
	handler := TraceMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = TraceIDFromContext(r.Context())
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if !strings.HasPrefix(got, "dt-") {
		t.Fatalf("trace id = %q, want dt- prefix", got)
	}
	if recorder.Header().Get("X-Trace-ID") != got {
		t.Fatalf("header trace id = %q, context trace id = %q", recorder.Header().Get("X-Trace-ID"), got)
	}
}

func TestTraceMiddlewareKeepsCallerID(t *testing.T) {
	var got string
	handler := TraceMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-Trace-ID", "caller-supplied")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "caller-supplied" {
		t.Fatalf("trace id = %q", got)
	}
}

func TestRouteLabelUsesMuxPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/datasets/{dataset}/tables", func(http.ResponseWriter, *http.Request) {})

	var got string
	wrapped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		got = routeLabel(r)
	})
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/datasets/odoo/tables", nil))
	if got != "/v1/datasets/{dataset}/tables" {
		t.Fatalf("route = %q", got)
	}

	unmatched := httptest.NewRequest(http.MethodGet, "/nope", nil)
	if label := routeLabel(unmatched); label != "/nope" {
		t.Fatalf("route = %q", label)
	}
}
