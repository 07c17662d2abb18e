package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTimeout marks a statement aborted by the database-side statement
// timeout, as opposed to a client-side cancellation.
var ErrTimeout = errors.New("executor: statement timeout")

// pgQueryCanceled is the Postgres error code raised when statement_timeout
// fires (class 57, operator intervention).
const pgQueryCanceled = "57014"

type Result struct {
	Columns   []string
	Rows      []map[string]any
	RowCount  int
	ElapsedMS int64
}

// Executor runs exactly one validated, rewritten statement per call against
// a read-only session. The connection is checked out for the duration of the
// call only and released on every exit path.
type Executor struct {
	db              *sql.DB
	checkoutTimeout time.Duration
}

func New(db *sql.DB, checkoutTimeout time.Duration) *Executor {
	if checkoutTimeout <= 0 {
		checkoutTimeout = 3 * time.Second
	}
	return &Executor{db: db, checkoutTimeout: checkoutTimeout}
}

func (e *Executor) HealthCheck(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Execute runs sqlText inside a read-only transaction with a database-side
// statement timeout and the search path pinned to schemaName. The statement
// text must already have passed validation; nothing is interpolated into it
// here.
func (e *Executor) Execute(ctx context.Context, schemaName, sqlText string, timeout time.Duration) (Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return Result{}, fmt.Errorf("sql is required")
	}
	if timeout <= 0 {
		return Result{}, fmt.Errorf("statement timeout is required")
	}

	start := time.Now()

	checkoutCtx, cancel := context.WithTimeout(ctx, e.checkoutTimeout)
	conn, err := e.db.Conn(checkoutCtx)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Result{}, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// SET LOCAL cannot take bind parameters; both values come from trusted
	// configuration, never from the request.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return Result{}, fmt.Errorf("set statement timeout: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path = %s", quoteIdent(schemaName))); err != nil {
		return Result{}, fmt.Errorf("pin search path: %w", err)
	}

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, classifyError(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read columns: %w", err)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, classifyError(err)
	}

	return Result{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		ElapsedMS: time.Since(start).Milliseconds(),
	}, nil
}

func classifyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgQueryCanceled {
		return fmt.Errorf("%w: %s", ErrTimeout, pgErr.Message)
	}
	return fmt.Errorf("execute statement: %w", err)
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return typed
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
