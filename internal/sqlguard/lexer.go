package sqlguard

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuotedIdent
	tokenNumber
	tokenString
	tokenSymbol
)

// token spans are byte offsets into the lexed text, so the rewriter can
// splice qualified names without re-tokenizing.
type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

// fold returns the comparison form of a word token.
func (t token) fold() string {
	return strings.ToLower(t.text)
}

func (t token) isWord(keyword string) bool {
	return t.kind == tokenWord && t.fold() == keyword
}

func (t token) isSymbol(symbol string) bool {
	return t.kind == tokenSymbol && t.text == symbol
}

// lex tokenizes a single SQL statement. Comments are dropped, string
// literals and quoted identifiers are kept as single tokens, so keyword
// matching downstream is whole-token and cannot be fooled by substrings or
// literals.
func lex(input string) ([]token, error) {
	tokens := make([]token, 0, 32)
	i := 0
	n := len(input)

	for i < n {
		ch := input[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '-' && i+1 < n && input[i+1] == '-':
			for i < n && input[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < n && input[i+1] == '*':
			closing := strings.Index(input[i+2:], "*/")
			if closing < 0 {
				return nil, fmt.Errorf("unterminated block comment")
			}
			i += 2 + closing + 2
		case ch == '\'':
			end, err := scanQuoted(input, i, '\'')
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, text: input[i:end], start: i, end: end})
			i = end
		case ch == '"':
			end, err := scanQuoted(input, i, '"')
			if err != nil {
				return nil, err
			}
			// Strip the quotes; the text is the identifier itself.
			tokens = append(tokens, token{kind: tokenQuotedIdent, text: unquoteIdent(input[i:end]), start: i, end: end})
			i = end
		case isWordStart(rune(ch)):
			end := i + 1
			for end < n && isWordPart(rune(input[end])) {
				end++
			}
			tokens = append(tokens, token{kind: tokenWord, text: input[i:end], start: i, end: end})
			i = end
		case ch >= '0' && ch <= '9':
			end := i + 1
			for end < n && (input[end] >= '0' && input[end] <= '9' || input[end] == '.') {
				end++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: input[i:end], start: i, end: end})
			i = end
		default:
			tokens = append(tokens, token{kind: tokenSymbol, text: string(ch), start: i, end: i + 1})
			i++
		}
	}
	return tokens, nil
}

// scanQuoted returns the offset just past the closing quote, honoring the
// doubled-quote escape.
func scanQuoted(input string, start int, quote byte) (int, error) {
	i := start + 1
	n := len(input)
	for i < n {
		if input[i] != quote {
			i++
			continue
		}
		if i+1 < n && input[i+1] == quote {
			i += 2
			continue
		}
		return i + 1, nil
	}
	return 0, fmt.Errorf("unterminated quoted token")
}

func unquoteIdent(quoted string) string {
	inner := quoted[1 : len(quoted)-1]
	return strings.ReplaceAll(inner, `""`, `"`)
}

func isWordStart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isWordPart(ch rune) bool {
	return ch == '_' || ch == '$' || unicode.IsLetter(ch) || unicode.IsDigit(ch)
}
