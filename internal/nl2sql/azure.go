package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type AzureConfig struct {
	Endpoint    string
	APIKey      string
	Deployment  string
	APIVersion  string
	Temperature float64
	Timeout     time.Duration
}

// AzureTranslator speaks the Azure OpenAI flavor of the chat-completions
// API: deployment-scoped path, api-key header, api-version query parameter.
type AzureTranslator struct {
	endpoint    string
	apiKey      string
	deployment  string
	apiVersion  string
	temperature float64
	client      *http.Client
}

func NewAzureTranslator(cfg AzureConfig) (*AzureTranslator, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("azure endpoint is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if strings.TrimSpace(cfg.Deployment) == "" {
		return nil, fmt.Errorf("deployment is required")
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = "2024-06-01"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AzureTranslator{
		endpoint:    strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		deployment:  strings.TrimSpace(cfg.Deployment),
		apiVersion:  apiVersion,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (t *AzureTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	payload := chatPayload(t.deployment, t.temperature, req)
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		t.endpoint, url.PathEscape(t.deployment), url.QueryEscape(t.apiVersion))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	sql, usage, err := decodeChatResponse(resp)
	if err != nil {
		return Result{}, err
	}
	return Result{
		SQL:      sql,
		Provider: "azure-openai",
		Model:    t.deployment,
		Usage:    usage,
	}, nil
}
