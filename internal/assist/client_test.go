package assist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-backend/pkg/errors"
)

func TestChatStreamDecodesDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"delta\":\"Hel\"}\n\n"))
		w.Write([]byte(": keepalive comment\n\n"))
		w.Write([]byte("data: {\"delta\":\"lo\"}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
		w.Write([]byte("data: {\"delta\":\"ignored\"}\n\n"))
	}))
	defer server.Close()

	client := NewChatClient(server.URL, "test-key")
	var got string
	err := client.Stream(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(delta string) {
		got += delta
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello", got)
}

func TestChatStreamMapsRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewChatClient(server.URL, "k")
	err := client.Stream(context.Background(), &ChatRequest{}, func(string) {})

	appErr := errors.GetAppError(err)
	assert.Equal(t, errors.ErrCodeRateLimitExceeded, appErr.Code)
}

func TestAnalyzeDecodesFindings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reports/analyze", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"summary": "Hemoglobin slightly low.",
			"findings": [
				{"label": "Hemoglobin", "value": "11.2", "unit": "g/dL", "flag": "low"}
			]
		}`))
	}))
	defer server.Close()

	client := NewReportClient(server.URL, "k")
	analysis, err := client.Analyze(context.Background(), "ZG9j", "blood_test")

	require.NoError(t, err)
	assert.Equal(t, "Hemoglobin slightly low.", analysis.Summary)
	require.Len(t, analysis.Findings, 1)
	assert.Equal(t, "low", analysis.Findings[0].Flag)
}

func TestAnalyzeDistinguishesQuotaFromRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	client := NewReportClient(server.URL, "k")
	_, err := client.Analyze(context.Background(), "ZG9j", "blood_test")

	appErr := errors.GetAppError(err)
	assert.Equal(t, errors.ErrCodeQuotaExceeded, appErr.Code)
	assert.NotEqual(t, errors.ErrCodeRateLimitExceeded, appErr.Code)
}

func TestAnalyzeServerErrorIsServiceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewReportClient(server.URL, "k")
	_, err := client.Analyze(context.Background(), "ZG9j", "prescription")

	appErr := errors.GetAppError(err)
	assert.Equal(t, errors.ErrCodeServiceUnavail, appErr.Code)
}
