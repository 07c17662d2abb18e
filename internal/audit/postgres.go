package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes that mean the rich audit table shape is not there:
// undefined_table and undefined_column.
const (
	pgUndefinedTable  = "42P01"
	pgUndefinedColumn = "42703"
)

type tier int

const (
	tierUndetermined tier = iota
	tierRich
	tierMinimal
)

// PostgresSink writes audit entries with a two-tier strategy: it first
// attempts the rich column set, and on a schema-shape mismatch downgrades to
// the minimal table for the rest of the process lifetime. The decision is an
// explicit state machine, not an ambient global.
type PostgresSink struct {
	db           *sql.DB
	richTable    string
	minimalTable string

	mu   sync.Mutex
	tier tier
}

func NewPostgresSink(db *sql.DB, richTable, minimalTable string) (*PostgresSink, error) {
	if db == nil {
		return nil, fmt.Errorf("audit db is required")
	}
	if richTable == "" || minimalTable == "" {
		return nil, fmt.Errorf("audit table names are required")
	}
	return &PostgresSink{db: db, richTable: richTable, minimalTable: minimalTable}, nil
}

func (s *PostgresSink) Record(ctx context.Context, entry Entry) error {
	switch s.currentTier() {
	case tierMinimal:
		return s.recordMinimal(ctx, entry)
	default:
		err := s.recordRich(ctx, entry)
		if err == nil {
			s.setTier(tierRich)
			return nil
		}
		if !isShapeMismatch(err) {
			return err
		}
		s.setTier(tierMinimal)
		return s.recordMinimal(ctx, entry)
	}
}

func (s *PostgresSink) recordRich(ctx context.Context, entry Entry) error {
	query := fmt.Sprintf(`
INSERT INTO %s (dataset, intent, sql_text, row_count, duration_ms, status, error, request_ip, model, prompt_tokens, completion_tokens, total_tokens)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, s.richTable)
	if _, err := s.db.ExecContext(ctx, query,
		entry.Dataset, entry.Intent, entry.SQLText, entry.RowCount, entry.DurationMS,
		entry.Status, nullable(entry.Error), nullable(entry.RequestIP), nullable(entry.Model),
		entry.PromptTokens, entry.CompletionTokens, entry.TotalTokens,
	); err != nil {
		return fmt.Errorf("insert rich audit row: %w", err)
	}
	return nil
}

func (s *PostgresSink) recordMinimal(ctx context.Context, entry Entry) error {
	query := fmt.Sprintf(`
INSERT INTO %s (dataset, intent, sql_text, status)
VALUES ($1, $2, $3, $4)`, s.minimalTable)
	if _, err := s.db.ExecContext(ctx, query,
		entry.Dataset, entry.Intent, entry.SQLText, entry.Status,
	); err != nil {
		return fmt.Errorf("insert minimal audit row: %w", err)
	}
	return nil
}

func (s *PostgresSink) currentTier() tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier
}

func (s *PostgresSink) setTier(t tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tier = t
}

func isShapeMismatch(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUndefinedTable || pgErr.Code == pgUndefinedColumn
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
