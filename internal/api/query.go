package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/datatalk/datatalk/internal/audit"
	"github.com/datatalk/datatalk/internal/executor"
	"github.com/datatalk/datatalk/internal/nl2sql"
	"github.com/datatalk/datatalk/internal/observability"
	"github.com/datatalk/datatalk/internal/sqlguard"
)

// Terminal request statuses. Each request ends in exactly one of these and
// is audited under it.
const (
	statusSucceeded        = "succeeded"
	statusGenerated        = "generated"
	statusRejected         = "rejected"
	statusGenerationFailed = "generation_failed"
	statusExecutionFailed  = "execution_failed"
	statusTimeout          = "timeout"
)

var errNoCatalog = errors.New("catalog has no datasets")

type queryRequest struct {
	Dataset string `json:"dataset"`
	Intent  string `json:"intent"`
	Execute *bool  `json:"execute,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type queryResponse struct {
	Dataset   string           `json:"dataset"`
	Schema    string           `json:"schema"`
	SQL       string           `json:"sql"`
	Provider  string           `json:"provider,omitempty"`
	Model     string           `json:"model,omitempty"`
	Executed  bool             `json:"executed"`
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows,omitempty"`
	RowCount  int              `json:"row_count"`
	ElapsedMS int64            `json:"elapsed_ms"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be valid JSON", false, nil)
		return
	}
	if req.Dataset == "" || req.Intent == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "dataset and intent are required", false, nil)
		return
	}
	if _, err := deps.Catalog.Resolve(req.Dataset); err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", "unknown dataset "+req.Dataset, false, nil)
		return
	}

	execute := true
	if req.Execute != nil {
		execute = *req.Execute
	}

	start := time.Now()
	entry := audit.Entry{
		Dataset:   req.Dataset,
		Intent:    req.Intent,
		RequestIP: clientIP(r),
	}

	// The audit write is deferred so every terminal state below, including
	// panics unwinding through here, produces exactly one record.
	defer func() {
		entry.DurationMS = time.Since(start).Milliseconds()
		observability.ObserveQueryOutcome(entry.Status)
		recordAudit(r.Context(), deps.Audit, entry)
	}()

	hint, err := deps.Hints.Hint(r.Context(), req.Dataset)
	if err != nil {
		entry.Status = statusGenerationFailed
		entry.Error = err.Error()
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_HINT_FAILED", "could not build schema hint", true, nil)
		return
	}

	genStart := time.Now()
	generated, err := deps.Translator.Translate(r.Context(), nl2sql.Request{
		Dataset:    req.Dataset,
		Intent:     req.Intent,
		SchemaHint: hint,
	})
	observability.ObserveGeneration(time.Since(genStart))
	if err != nil {
		entry.Status = statusGenerationFailed
		entry.Error = err.Error()
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", "sql generation failed", true, nil)
		return
	}
	entry.Model = generated.Model
	entry.PromptTokens = generated.Usage.PromptTokens
	entry.CompletionTokens = generated.Usage.CompletionTokens
	entry.TotalTokens = generated.Usage.TotalTokens
	entry.SQLText = generated.SQL

	st, rejection := checkAndRewrite(deps.Guard, req.Dataset, generated.SQL, req.Limit)
	if rejection != nil {
		entry.Status = statusRejected
		entry.Error = rejection.Error()
		observability.ObserveValidationRejection(string(rejection.Code))
		writeError(r.Context(), w, http.StatusBadRequest, string(rejection.Code), rejection.Message, false, map[string]any{
			"sql": generated.SQL,
		})
		return
	}
	entry.SQLText = st.SQL

	if !execute {
		entry.Status = statusGenerated
		writeJSON(w, http.StatusOK, queryResponse{
			Dataset:  st.Dataset,
			Schema:   st.SchemaName,
			SQL:      st.SQL,
			Provider: generated.Provider,
			Model:    generated.Model,
			Executed: false,
		})
		return
	}

	result, execErr := runStatement(r.Context(), deps, st)
	if execErr != nil {
		if errors.Is(execErr, executor.ErrTimeout) {
			entry.Status = statusTimeout
			entry.Error = execErr.Error()
			observability.IncrementExecutionTimeout()
			writeError(r.Context(), w, http.StatusGatewayTimeout, "EXECUTION_TIMEOUT", "statement exceeded the execution time budget", true, nil)
			return
		}
		entry.Status = statusExecutionFailed
		entry.Error = execErr.Error()
		if deps.Logger != nil {
			// A validated statement failing at the database is a policy gap
			// worth investigating, not routine noise.
			deps.Logger.ErrorContext(r.Context(), "validated statement failed to execute",
				slog.String("dataset", st.Dataset),
				slog.String("sql", st.SQL),
				slog.Any("error", execErr),
			)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "EXECUTION_FAILED", "statement execution failed", true, nil)
		return
	}

	entry.Status = statusSucceeded
	entry.RowCount = result.RowCount
	writeJSON(w, http.StatusOK, queryResponse{
		Dataset:   st.Dataset,
		Schema:    st.SchemaName,
		SQL:       st.SQL,
		Provider:  generated.Provider,
		Model:     generated.Model,
		Executed:  true,
		Columns:   result.Columns,
		Rows:      result.Rows,
		RowCount:  result.RowCount,
		ElapsedMS: result.ElapsedMS,
	})
}

// checkAndRewrite runs the full validation then rewrite then re-check cycle.
// The second check guards the rewriter itself: whatever it produced must
// still carry a LIMIT. A limit of 0 means the configured default.
func checkAndRewrite(guard *sqlguard.Guard, dataset, sqlText string, limit int) (sqlguard.Statement, *sqlguard.Rejection) {
	st, err := guard.Check(dataset, sqlText)
	if err != nil {
		return sqlguard.Statement{}, asRejection(err)
	}
	st = guard.RewriteWithLimit(st, limit)
	if err := sqlguard.RequireLimit(st); err != nil {
		return sqlguard.Statement{}, asRejection(err)
	}
	return st, nil
}

func asRejection(err error) *sqlguard.Rejection {
	var rejection *sqlguard.Rejection
	if errors.As(err, &rejection) {
		return rejection
	}
	return &sqlguard.Rejection{Code: sqlguard.ReasonUnparseable, Message: err.Error()}
}

// runStatement detaches execution from the request context so a client
// disconnect cannot orphan a half-finished statement; the database-side
// statement timeout is the backstop.
func runStatement(ctx context.Context, deps Dependencies, st sqlguard.Statement) (executor.Result, error) {
	execCtx := context.WithoutCancel(ctx)
	execStart := time.Now()
	result, err := deps.Runner.Execute(execCtx, st.SchemaName, st.SQL, deps.StatementTimeout)
	observability.ObserveExecution(time.Since(execStart))
	return result, err
}

// recordAudit detaches from the request context for the same reason as
// runStatement: the record must land even when the client has gone away.
func recordAudit(ctx context.Context, sink audit.Sink, entry audit.Entry) {
	if sink == nil {
		return
	}
	_ = sink.Record(context.WithoutCancel(ctx), entry)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
