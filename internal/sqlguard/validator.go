package sqlguard

import (
	"strings"

	"github.com/datatalk/datatalk/internal/catalog"
)

// forbiddenKeywords is the whole-word blacklist for untrusted SQL. Matching
// happens on lexed tokens, so identifiers that merely contain one of these
// as a substring do not trip it.
var forbiddenKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "drop": {}, "truncate": {},
	"alter": {}, "grant": {}, "revoke": {}, "create": {}, "comment": {},
	"merge": {}, "call": {}, "execute": {}, "copy": {}, "do": {},
	"set": {}, "show": {},
}

// aggregateFunctions are the only calls permitted in a projection. The
// wildcard exemption applies to COUNT alone.
var aggregateFunctions = map[string]struct{}{
	"count": {}, "sum": {}, "avg": {}, "min": {}, "max": {},
}

// Guard validates untrusted SQL against the schema catalog and rewrites
// accepted statements into execution-ready form. It is the last line of
// defense before model output touches a database connection.
type Guard struct {
	catalog      *catalog.Catalog
	defaultLimit int
}

func NewGuard(cat *catalog.Catalog, defaultLimit int) *Guard {
	return &Guard{catalog: cat, defaultLimit: defaultLimit}
}

// Statement is an accepted, validated candidate. SQL holds the trimmed
// statement text without a trailing terminator; token spans recorded during
// validation refer to it.
type Statement struct {
	Dataset    string
	SchemaName string
	Table      string
	Columns    []string
	SQL        string
	HasLimit   bool

	tableStart     int
	tableEnd       int
	tableQualified bool
	lastTokenEnd   int
}

// Check applies the safety policy in order, first failure wins. The returned
// error, when non-nil, is always a *Rejection.
func (g *Guard) Check(dataset, sqlText string) (Statement, error) {
	trimmed := trimStatement(sqlText)
	if trimmed == "" {
		return Statement{}, reject(ReasonNotSelect, "statement is empty")
	}

	tokens, err := lex(trimmed)
	if err != nil {
		return Statement{}, reject(ReasonUnparseable, "%s", err.Error())
	}
	if len(tokens) == 0 {
		return Statement{}, reject(ReasonNotSelect, "statement is empty")
	}

	// 1. Single statement only.
	for _, tok := range tokens {
		if tok.isSymbol(";") {
			return Statement{}, reject(ReasonMultiStatement, "multiple statements are not allowed")
		}
	}

	// 2. SELECT-only.
	if !tokens[0].isWord("select") {
		return Statement{}, reject(ReasonNotSelect, "only SELECT statements are allowed")
	}

	// 3. Keyword blacklist, whole-word.
	for _, tok := range tokens {
		if tok.kind != tokenWord {
			continue
		}
		if _, forbidden := forbiddenKeywords[tok.fold()]; forbidden {
			return Statement{}, reject(ReasonForbiddenKeyword, "forbidden keyword %q", strings.ToUpper(tok.fold()))
		}
	}

	// 4. No metadata probing.
	for _, tok := range tokens {
		if tok.kind != tokenWord && tok.kind != tokenQuotedIdent {
			continue
		}
		name := tok.fold()
		if name == "information_schema" || strings.HasPrefix(name, "pg_") {
			return Statement{}, reject(ReasonForbiddenKeyword, "reference to %q is not allowed", name)
		}
	}

	stmt, err := parseSelect(tokens)
	if err != nil {
		return Statement{}, reject(ReasonUnparseable, "%s", err.Error())
	}

	// 5. Table allow-list for the requested dataset.
	schemaName, err := g.catalog.Resolve(dataset)
	if err != nil {
		return Statement{}, reject(ReasonUnknownTable, "unknown dataset %q", dataset)
	}
	tableName := stmt.table.name
	if stmt.table.schema != "" {
		tableName = stmt.table.schema + "." + stmt.table.name
	}
	spec, err := g.catalog.Table(dataset, tableName)
	if err != nil {
		return Statement{}, reject(ReasonUnknownTable, "table %q is not allowed for dataset %q", tableName, dataset)
	}

	// 6. No wildcard projection; COUNT(*) is exempt.
	for _, item := range stmt.projections {
		if item.star {
			return Statement{}, reject(ReasonWildcardSelect, "wildcard projections are not allowed")
		}
		if item.aggregateStar && item.aggregate != "count" {
			return Statement{}, reject(ReasonUnparseable, "unsupported call %s(*)", item.aggregate)
		}
	}

	// 7. Column allow-list.
	columns := make([]string, 0, len(stmt.projections))
	for _, item := range stmt.projections {
		if item.aggregate != "" {
			if _, ok := aggregateFunctions[item.aggregate]; !ok {
				return Statement{}, reject(ReasonUnparseable, "unsupported function %q in projection", item.aggregate)
			}
			if item.aggregateStar {
				columns = append(columns, item.aggregate+"(*)")
				continue
			}
		}
		if !spec.AllowsColumn(item.column) {
			return Statement{}, reject(ReasonDisallowedColumn, "column %q is not allowed on table %q", item.column, spec.Name)
		}
		columns = append(columns, item.column)
	}

	return Statement{
		Dataset:        strings.ToLower(strings.TrimSpace(dataset)),
		SchemaName:     schemaName,
		Table:          spec.Name,
		Columns:        columns,
		SQL:            trimmed,
		HasLimit:       stmt.hasLimit,
		tableStart:     stmt.table.start,
		tableEnd:       stmt.table.end,
		tableQualified: stmt.table.schema != "",
		lastTokenEnd:   tokens[len(tokens)-1].end,
	}, nil
}

// RequireLimit is the post-rewrite sanity check: by the time a statement
// reaches the executor it must carry an explicit bound.
func RequireLimit(st Statement) error {
	if !st.HasLimit {
		return reject(ReasonMissingLimit, "statement has no LIMIT clause")
	}
	return nil
}

// trimStatement removes surrounding whitespace and a single optional
// trailing terminator. A second terminator is left in place so the
// multi-statement check sees it.
func trimStatement(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	if strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
