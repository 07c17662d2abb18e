package sqlguard

import "fmt"

// The parser covers the supported grammar only: a single-table SELECT with
// optional WHERE/GROUP BY/HAVING/ORDER BY/LIMIT/OFFSET tail. Joins,
// subqueries, CTEs, and set operations are out of policy; anything the
// parser cannot confidently classify is an error, never a guess.

type selectStatement struct {
	projections []projectionItem
	table       tableRef
	hasLimit    bool
}

type projectionItem struct {
	star          bool   // bare * projection
	aggregate     string // lowercase function name for fn(...) items
	aggregateStar bool   // fn(*)
	distinct      bool   // fn(DISTINCT col)
	column        string // bare column name, qualification stripped
}

type tableRef struct {
	schema string
	name   string
	start  int // byte span of the reference in the statement text
	end    int
}

type parser struct {
	tokens []token
	pos    int
}

func parseSelect(tokens []token) (selectStatement, error) {
	p := &parser{tokens: tokens}

	if !p.next().isWord("select") {
		return selectStatement{}, fmt.Errorf("statement does not begin with SELECT")
	}
	if p.peek().isWord("distinct") || p.peek().isWord("all") {
		p.next()
	}

	var stmt selectStatement
	for {
		item, err := p.parseProjection()
		if err != nil {
			return selectStatement{}, err
		}
		stmt.projections = append(stmt.projections, item)

		tok, ok := p.take()
		if !ok {
			return selectStatement{}, fmt.Errorf("unexpected end of statement before FROM")
		}
		if tok.isSymbol(",") {
			continue
		}
		if tok.isWord("from") {
			break
		}
		return selectStatement{}, fmt.Errorf("unexpected token %q in projection list", tok.text)
	}

	table, err := p.parseTableRef()
	if err != nil {
		return selectStatement{}, err
	}
	stmt.table = table

	hasLimit, err := p.parseTail()
	if err != nil {
		return selectStatement{}, err
	}
	stmt.hasLimit = hasLimit
	return stmt, nil
}

func (p *parser) parseProjection() (projectionItem, error) {
	tok, ok := p.take()
	if !ok {
		return projectionItem{}, fmt.Errorf("empty projection")
	}

	var item projectionItem
	switch {
	case tok.isSymbol("*"):
		item.star = true
	case tok.kind == tokenWord && p.peek().isSymbol("("):
		p.next() // consume "("
		call, err := p.parseCallArgument(tok.fold())
		if err != nil {
			return projectionItem{}, err
		}
		item = call
	case tok.kind == tokenWord || tok.kind == tokenQuotedIdent:
		column, err := p.parseColumnPath(tok)
		if err != nil {
			return projectionItem{}, err
		}
		item.column = column
	default:
		return projectionItem{}, fmt.Errorf("unexpected token %q in projection", tok.text)
	}

	if err := p.skipAlias(); err != nil {
		return projectionItem{}, err
	}
	return item, nil
}

// parseCallArgument handles the single supported call shape: fn(*) or
// fn([DISTINCT] column).
func (p *parser) parseCallArgument(fn string) (projectionItem, error) {
	item := projectionItem{aggregate: fn}

	tok, ok := p.take()
	if !ok {
		return projectionItem{}, fmt.Errorf("unterminated call to %s", fn)
	}
	if tok.isSymbol("*") {
		item.aggregateStar = true
	} else {
		if tok.isWord("distinct") {
			item.distinct = true
			tok, ok = p.take()
			if !ok {
				return projectionItem{}, fmt.Errorf("unterminated call to %s", fn)
			}
		}
		if tok.kind != tokenWord && tok.kind != tokenQuotedIdent {
			return projectionItem{}, fmt.Errorf("unsupported argument to %s", fn)
		}
		column, err := p.parseColumnPath(tok)
		if err != nil {
			return projectionItem{}, err
		}
		item.column = column
	}

	closing, ok := p.take()
	if !ok || !closing.isSymbol(")") {
		return projectionItem{}, fmt.Errorf("unsupported argument to %s", fn)
	}
	return item, nil
}

// parseColumnPath consumes dotted qualification and returns the bare column
// name. The allow-list is keyed on bare names; alias prefixes do not matter.
func (p *parser) parseColumnPath(first token) (string, error) {
	last := first
	for p.peek().isSymbol(".") {
		p.next()
		tok, ok := p.take()
		if !ok || (tok.kind != tokenWord && tok.kind != tokenQuotedIdent) {
			return "", fmt.Errorf("malformed column reference")
		}
		last = tok
	}
	return last.fold(), nil
}

func (p *parser) skipAlias() error {
	if p.peek().isWord("as") {
		p.next()
		tok, ok := p.take()
		if !ok || (tok.kind != tokenWord && tok.kind != tokenQuotedIdent) {
			return fmt.Errorf("malformed alias")
		}
		return nil
	}
	// Bare alias: an identifier directly before "," or FROM.
	if tok := p.peek(); (tok.kind == tokenWord && !tok.isWord("from")) || tok.kind == tokenQuotedIdent {
		if after := p.peekAt(1); after.isSymbol(",") || after.isWord("from") {
			p.next()
		}
	}
	return nil
}

func (p *parser) parseTableRef() (tableRef, error) {
	first, ok := p.take()
	if !ok || (first.kind != tokenWord && first.kind != tokenQuotedIdent) {
		return tableRef{}, fmt.Errorf("missing table reference after FROM")
	}

	ref := tableRef{name: first.fold(), start: first.start, end: first.end}
	if p.peek().isSymbol(".") {
		p.next()
		second, ok := p.take()
		if !ok || (second.kind != tokenWord && second.kind != tokenQuotedIdent) {
			return tableRef{}, fmt.Errorf("malformed table reference")
		}
		ref.schema = ref.name
		ref.name = second.fold()
		ref.end = second.end
	}
	if p.peek().isSymbol(".") {
		return tableRef{}, fmt.Errorf("table reference nests too deep")
	}
	return ref, nil
}

// parseTail scans the clause tail after the table reference. It only needs
// to establish that the grammar stays single-table and whether a top-level
// LIMIT is present.
func (p *parser) parseTail() (bool, error) {
	hasLimit := false
	depth := 0

	// A comma or join keyword directly after the table is a multi-table query.
	if tok := p.peek(); tok.isSymbol(",") {
		return false, fmt.Errorf("multi-table queries are not supported")
	}

	for {
		tok, ok := p.take()
		if !ok {
			return hasLimit, nil
		}
		switch {
		case tok.isSymbol("("):
			depth++
		case tok.isSymbol(")"):
			depth--
			if depth < 0 {
				return false, fmt.Errorf("unbalanced parentheses")
			}
		case tok.kind == tokenWord:
			switch tok.fold() {
			case "join", "inner", "left", "right", "full", "cross", "union", "intersect", "except", "with":
				return false, fmt.Errorf("unsupported clause %q", tok.fold())
			case "select":
				return false, fmt.Errorf("subqueries are not supported")
			case "limit":
				if depth == 0 {
					next, ok := p.take()
					if !ok || next.kind != tokenNumber {
						return false, fmt.Errorf("malformed LIMIT clause")
					}
					hasLimit = true
				}
			}
		}
	}
}

func (p *parser) take() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	tok := p.tokens[p.pos]
	p.pos++
	return tok, true
}

func (p *parser) next() token {
	tok, _ := p.take()
	return tok
}

func (p *parser) peek() token {
	return p.peekAt(0)
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.tokens) {
		return token{kind: tokenSymbol, text: ""}
	}
	return p.tokens[p.pos+offset]
}
