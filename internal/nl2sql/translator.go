package nl2sql

import "context"

type Request struct {
	Dataset    string `json:"dataset"`
	Intent     string `json:"intent"`
	SchemaHint string `json:"schema_hint"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

// Translator turns a natural-language intent into candidate SQL. The output
// is untrusted: every caller must pass it through the validator before it
// touches a database connection.
type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
