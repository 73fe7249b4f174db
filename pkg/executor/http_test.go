package executor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

func httpNode(t *testing.T, cfg workflow.HTTPConfig) *workflow.Node {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return &workflow.Node{ID: "http-node", Kind: workflow.KindHTTP, Config: raw}
}

func newHTTPTestExecutor() *HTTPExecutor {
	return NewHTTPExecutor(state.NewResolver(nil), RealClock{}, testLogger())
}

func TestHTTPGetParsesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "items": [1, 2]}`))
	}))
	defer server.Close()

	exec := newHTTPTestExecutor()
	ec := state.New("wf", "", nil, time.Now())

	out := exec.Execute(context.Background(), httpNode(t, workflow.HTTPConfig{
		Method: "GET",
		URL:    server.URL,
	}), ec)
	require.True(t, out.Success(), out.Error)

	assert.Equal(t, 200, out.Output["statusCode"])
	body, ok := out.Output["response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, body["ok"])
}

func TestHTTPPostSubstitutesBodyAndHeaders(t *testing.T) {
	var gotBody string
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		gotHeader = r.Header.Get("X-Trace")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	exec := newHTTPTestExecutor()
	ec := state.New("wf", "", map[string]any{"name": "Ada", "trace": "t-1"}, time.Now())

	out := exec.Execute(context.Background(), httpNode(t, workflow.HTTPConfig{
		Method:  "POST",
		URL:     server.URL,
		Body:    `{"user": "{{name}}"}`,
		Headers: map[string]string{"X-Trace": "{{trace}}"},
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, 201, out.Output["statusCode"])
	assert.Equal(t, `{"user": "Ada"}`, gotBody)
	assert.Equal(t, "t-1", gotHeader)
}

func TestHTTPAuth(t *testing.T) {
	var authHeader, apiKeyHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		apiKeyHeader = r.Header.Get("X-API-Key")
	}))
	defer server.Close()

	exec := newHTTPTestExecutor()
	ec := state.New("wf", "", nil, time.Now())

	out := exec.Execute(context.Background(), httpNode(t, workflow.HTTPConfig{
		Method: "GET",
		URL:    server.URL,
		Auth:   &workflow.HTTPAuth{Type: workflow.AuthBearer, Token: "tok-123"},
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, "Bearer tok-123", authHeader)

	out = exec.Execute(context.Background(), httpNode(t, workflow.HTTPConfig{
		Method: "GET",
		URL:    server.URL,
		Auth:   &workflow.HTTPAuth{Type: workflow.AuthAPIKey, Key: "secret"},
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, "secret", apiKeyHeader)
}

func TestHTTPClientErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	exec := newHTTPTestExecutor()
	ec := state.New("wf", "", nil, time.Now())

	out := exec.Execute(context.Background(), httpNode(t, workflow.HTTPConfig{
		Method: "GET",
		URL:    server.URL,
		Retry:  &workflow.RetryConfig{MaxRetries: 3, RetryDelayMs: 1},
	}), ec)
	require.False(t, out.Success())
	assert.Equal(t, apperrors.CodeHTTP, out.ErrorCode)
	assert.Equal(t, 400, out.Output["statusCode"])
	assert.Equal(t, int32(1), calls.Load(), "4xx must not retry")
	assert.True(t, out.NonRetryable, "engine-level retry must not re-run a 4xx")
}

func TestHTTPServerErrorStaysRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	exec := newHTTPTestExecutor()
	ec := state.New("wf", "", nil, time.Now())

	out := exec.Execute(context.Background(), httpNode(t, workflow.HTTPConfig{
		Method: "GET",
		URL:    server.URL,
		Retry:  &workflow.RetryConfig{MaxRetries: 0},
	}), ec)
	require.False(t, out.Success())
	assert.Equal(t, apperrors.CodeHTTP, out.ErrorCode)
	assert.False(t, out.NonRetryable, "5xx stays eligible for engine-level retry")
}

func TestHTTPServerErrorRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recovered": true}`))
	}))
	defer server.Close()

	exec := newHTTPTestExecutor()
	ec := state.New("wf", "", nil, time.Now())

	out := exec.Execute(context.Background(), httpNode(t, workflow.HTTPConfig{
		Method: "GET",
		URL:    server.URL,
		Retry:  &workflow.RetryConfig{MaxRetries: 3, RetryDelayMs: 1},
	}), ec)
	require.True(t, out.Success(), out.Error)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 200, out.Output["statusCode"])
}

func TestHTTPMissingURL(t *testing.T) {
	exec := newHTTPTestExecutor()
	ec := state.New("wf", "", nil, time.Now())

	out := exec.Execute(context.Background(), httpNode(t, workflow.HTTPConfig{Method: "GET"}), ec)
	require.False(t, out.Success())
	assert.Equal(t, apperrors.CodeDefinition, out.ErrorCode)
}
