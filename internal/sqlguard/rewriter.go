package sqlguard

import (
	"fmt"
	"strings"
)

// Rewrite turns an accepted statement into its execution-ready form:
// unqualified table references gain the dataset's schema, a default LIMIT is
// appended when none is present, and the trailing terminator is normalized
// to exactly one. Text after the last lexed token, such as a trailing
// comment, is dropped so it cannot swallow the appended clauses. An explicit
// LIMIT is never touched, and rewriting is idempotent.
func (g *Guard) Rewrite(st Statement) Statement {
	return g.RewriteWithLimit(st, g.defaultLimit)
}

// RewriteWithLimit is Rewrite with a caller-chosen row bound. The bound is
// clamped to the configured default; requests can only tighten it.
func (g *Guard) RewriteWithLimit(st Statement, limit int) Statement {
	if limit <= 0 || limit > g.defaultLimit {
		limit = g.defaultLimit
	}
	sqlText := st.SQL

	// Cut at the last token recorded during validation. Anything beyond it
	// is comment or whitespace, and a trailing line comment would otherwise
	// absorb the appended LIMIT and terminator.
	if st.lastTokenEnd > 0 && st.lastTokenEnd < len(sqlText) {
		sqlText = sqlText[:st.lastTokenEnd]
	}

	if !st.tableQualified {
		qualified := st.SchemaName + "." + sqlText[st.tableStart:st.tableEnd]
		sqlText = sqlText[:st.tableStart] + qualified + sqlText[st.tableEnd:]
		st.tableEnd = st.tableStart + len(qualified)
		st.tableQualified = true
	}

	if !st.HasLimit {
		sqlText = fmt.Sprintf("%s LIMIT %d", sqlText, limit)
		st.HasLimit = true
	}

	sqlText = strings.TrimSpace(sqlText)
	for strings.HasSuffix(sqlText, ";") {
		sqlText = strings.TrimSpace(strings.TrimSuffix(sqlText, ";"))
	}
	st.SQL = sqlText + ";"
	st.lastTokenEnd = len(st.SQL)
	return st
}
