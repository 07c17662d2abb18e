package api

import (
	"net/http"
	"strconv"

	"github.com/datatalk/datatalk/internal/config"
)

const maskedValue = "SET(***masked***)"

// handleDiagConfig reports the effective configuration for operator
// troubleshooting. DSNs and API keys are reported only as set or missing,
// never by value.
func handleDiagConfig(cfg config.Config, w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{
		"profile":                 string(cfg.Profile),
		"service_name":            cfg.Service.Name,
		"http_addr":               cfg.HTTP.Address,
		"db_dsn":                  maskSecret(cfg.Database.DSN),
		"catalog_path":            cfg.Catalog.Path,
		"query_default_row_limit": strconv.Itoa(cfg.Query.DefaultRowLimit),
		"query_statement_timeout": cfg.Query.StatementTimeout.String(),
		"ai_provider":             string(cfg.AI.Provider),
		"ai_base_url":             cfg.AI.BaseURL,
		"ai_model":                cfg.AI.Model,
		"ai_deployment":           orMissing(cfg.AI.Deployment),
		"ai_api_version":          cfg.AI.APIVersion,
		"ai_api_key":              maskSecret(cfg.AI.APIKey),
		"audit_dsn":               maskSecret(cfg.Audit.DSN),
	})
}

func maskSecret(value string) string {
	if value == "" {
		return "MISSING"
	}
	return maskedValue
}

func orMissing(value string) string {
	if value == "" {
		return "MISSING"
	}
	return value
}
