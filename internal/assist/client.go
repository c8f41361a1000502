// Package assist holds thin clients for the AI collaborator services: the
// streaming chat assistant and the report analyzer. Both are black boxes to
// the call subsystem; only transport and error mapping live here.
package assist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"telecare-backend/pkg/errors"
	"telecare-backend/pkg/logger"
)

// Message is one turn of an assistant conversation.
type Message struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// ChatRequest is a streaming chat completion request.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Context  string    `json:"context,omitempty"`
}

type chatDelta struct {
	Delta string `json:"delta"`
}

// ChatClient streams assistant replies over SSE.
type ChatClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewChatClient creates a chat client.
func NewChatClient(baseURL, apiKey string) *ChatClient {
	return &ChatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Stream posts the request and invokes fn once per content delta until the
// stream's [DONE] terminator.
func (c *ChatClient) Stream(ctx context.Context, chatReq *ChatRequest, fn func(delta string)) error {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.ServiceUnavailableError("assistant unreachable")
	}
	defer resp.Body.Close()

	if err := mapStatus(resp.StatusCode); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}

		var delta chatDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			logger.Warn("undecodable assistant stream event", zap.Error(err))
			continue
		}
		if delta.Delta != "" {
			fn(delta.Delta)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("chat stream interrupted: %w", err)
	}

	// Stream ended without the terminator; treat what arrived as complete.
	return nil
}

// Finding is one structured extraction from an analyzed report.
type Finding struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
	Flag  string `json:"flag,omitempty"` // normal, high, low
}

// ReportAnalysis is the analyzer's structured output.
type ReportAnalysis struct {
	Summary  string    `json:"summary"`
	Findings []Finding `json:"findings"`
}

// ReportClient analyzes uploaded medical documents.
type ReportClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewReportClient creates a report analysis client.
func NewReportClient(baseURL, apiKey string) *ReportClient {
	return &ReportClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Analyze submits a base64-encoded document for structured extraction.
func (c *ReportClient) Analyze(ctx context.Context, base64Doc, reportType string) (*ReportAnalysis, error) {
	body, err := json.Marshal(map[string]string{
		"document":    base64Doc,
		"report_type": reportType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/reports/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.ServiceUnavailableError("report analyzer unreachable")
	}
	defer resp.Body.Close()

	if err := mapStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var analysis ReportAnalysis
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}

	return &analysis, nil
}

// mapStatus converts upstream HTTP failures into the caller-facing codes.
// Rate limiting and quota exhaustion are distinct: the first asks the user
// to retry later, the second to upgrade.
func mapStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return errors.RateLimitExceededError()
	case status == http.StatusPaymentRequired:
		return errors.QuotaExceededError("AI usage quota exhausted")
	case status == http.StatusUnauthorized:
		return errors.UnauthorizedError("assistant rejected credentials")
	default:
		return errors.ServiceUnavailableError(fmt.Sprintf("assistant returned status %d", status))
	}
}
