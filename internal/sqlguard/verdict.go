package sqlguard

import "fmt"

// ReasonCode classifies why a candidate statement failed the safety policy.
type ReasonCode string

const (
	ReasonNotSelect        ReasonCode = "NOT_SELECT"
	ReasonForbiddenKeyword ReasonCode = "FORBIDDEN_KEYWORD"
	ReasonUnknownTable     ReasonCode = "UNKNOWN_TABLE"
	ReasonDisallowedColumn ReasonCode = "DISALLOWED_COLUMN"
	ReasonMissingLimit     ReasonCode = "MISSING_LIMIT"
	ReasonWildcardSelect   ReasonCode = "WILDCARD_SELECT"
	ReasonMultiStatement   ReasonCode = "MULTI_STATEMENT"
	ReasonUnparseable      ReasonCode = "UNPARSEABLE"
)

// Rejection is the error returned when untrusted SQL fails validation. It is
// a client-class error: the statement never reached a database connection.
type Rejection struct {
	Code    ReasonCode
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("sql rejected (%s): %s", r.Code, r.Message)
}

func reject(code ReasonCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...)}
}
