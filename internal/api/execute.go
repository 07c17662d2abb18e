package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/datatalk/datatalk/internal/audit"
	"github.com/datatalk/datatalk/internal/executor"
	"github.com/datatalk/datatalk/internal/observability"
)

type executeRequest struct {
	Dataset string `json:"dataset"`
	SQL     string `json:"sql"`
}

// handleExecuteSQL runs caller-supplied SQL through the same guard and
// executor as generated SQL. There is no trusted path around validation.
func handleExecuteSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be valid JSON", false, nil)
		return
	}
	if req.Dataset == "" || req.SQL == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "dataset and sql are required", false, nil)
		return
	}
	if _, err := deps.Catalog.Resolve(req.Dataset); err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", "unknown dataset "+req.Dataset, false, nil)
		return
	}

	start := time.Now()
	entry := audit.Entry{
		Dataset:   req.Dataset,
		SQLText:   req.SQL,
		RequestIP: clientIP(r),
	}
	defer func() {
		entry.DurationMS = time.Since(start).Milliseconds()
		observability.ObserveQueryOutcome(entry.Status)
		recordAudit(r.Context(), deps.Audit, entry)
	}()

	st, rejection := checkAndRewrite(deps.Guard, req.Dataset, req.SQL, 0)
	if rejection != nil {
		entry.Status = statusRejected
		entry.Error = rejection.Error()
		observability.ObserveValidationRejection(string(rejection.Code))
		writeError(r.Context(), w, http.StatusBadRequest, string(rejection.Code), rejection.Message, false, map[string]any{
			"sql": req.SQL,
		})
		return
	}
	entry.SQLText = st.SQL

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
		Executed:  true,
		Columns:   result.Columns,
		Rows:      result.Rows,
		RowCount:  result.RowCount,
		ElapsedMS: result.ElapsedMS,
	})
}
