package schemahint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/datatalk/datatalk/internal/catalog"
)

// Provider builds the schema text handed to the SQL generator. The static
// catalog hint is always available; when a database handle is supplied the
// hint is enriched with live column types from information_schema and cached
// per dataset with a TTL. Hints never feed the safety policy.
type Provider struct {
	catalog *catalog.Catalog
	db      *sql.DB
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]cachedHint
}

type cachedHint struct {
	text      string
	expiresAt time.Time
}

type Option func(*Provider)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithDatabase enables live introspection through the given handle.
func WithDatabase(db *sql.DB) Option {
	return func(p *Provider) { p.db = db }
}

func NewProvider(cat *catalog.Catalog, ttl time.Duration, opts ...Option) *Provider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	p := &Provider{
		catalog: cat,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedHint),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Hint returns the prompt schema text for a dataset. Introspection failures
// degrade to the static catalog hint; they never fail the request.
func (p *Provider) Hint(ctx context.Context, dataset string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(dataset))

	p.mu.Lock()
	entry, ok := p.entries[key]
	p.mu.Unlock()
	if ok && p.now().Before(entry.expiresAt) {
		return entry.text, nil
	}

	static, err := p.catalog.SchemaHint(dataset)
	if err != nil {
		return "", err
	}

	text := static
	if p.db != nil {
		if live, err := p.introspect(ctx, dataset); err == nil && live != "" {
			text = live
		}
	}

	p.mu.Lock()
	p.entries[key] = cachedHint{text: text, expiresAt: p.now().Add(p.ttl)}
	p.mu.Unlock()
	return text, nil
}

// introspect reads live column types for the dataset's allowed tables. This
// is a trusted internal statement with bound parameters only.
func (p *Provider) introspect(ctx context.Context, dataset string) (string, error) {
	schemaName, err := p.catalog.Resolve(dataset)
	if err != nil {
		return "", err
	}
	tables, err := p.catalog.Tables(dataset)
	if err != nil {
		return "", err
	}

	query := `
SELECT table_name, string_agg(column_name || ':' || data_type, ', ' ORDER BY ordinal_position) AS cols
FROM information_schema.columns
WHERE table_schema = $1
GROUP BY table_name
ORDER BY table_name`
	rows, err := p.db.QueryContext(ctx, query, schemaName)
	if err != nil {
		return "", fmt.Errorf("introspect schema %q: %w", schemaName, err)
	}
	defer func() { _ = rows.Close() }()

	liveCols := make(map[string]string)
	for rows.Next() {
		var tableName, cols string
		if err := rows.Scan(&tableName, &cols); err != nil {
			return "", fmt.Errorf("scan introspection row: %w", err)
		}
		liveCols[strings.ToLower(tableName)] = cols
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate introspection rows: %w", err)
	}

	// Only allow-listed tables make it into the hint, with the catalog's
	// column set filtered against what actually exists.
	lines := make([]string, 0, len(tables))
	for _, table := range tables {
		cols, ok := liveCols[table.Name]
		if !ok {
			continue
		}
		filtered := make([]string, 0, len(table.Columns))
		for _, col := range strings.Split(cols, ", ") {
			name, _, _ := strings.Cut(col, ":")
			if table.AllowsColumn(name) {
				filtered = append(filtered, col)
			}
		}
		if len(filtered) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s.%s(%s)", schemaName, table.Name, strings.Join(filtered, ", ")))
	}
	return strings.Join(lines, "\n"), nil
}
