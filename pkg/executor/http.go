package executor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/workflow"
)

// responseBodyLimit caps how much of a response the executor buffers.
const responseBodyLimit = 10 << 20 // 10 MiB

// HTTPExecutor performs outbound HTTP calls. Transport-level failures and
// 5xx responses retry per the node's retry config; 4xx responses fail
// immediately. A completed response with status >= 400 is a node failure
// carrying ERR_HTTP.
type HTTPExecutor struct {
	resolver *state.Resolver
	clock    Clock
	logger   *slog.Logger
}

// NewHTTPExecutor creates an http executor.
func NewHTTPExecutor(resolver *state.Resolver, clock Clock, logger *slog.Logger) *HTTPExecutor {
	return &HTTPExecutor{resolver: resolver, clock: clock, logger: logger}
}

func (e *HTTPExecutor) Kind() string { return workflow.KindHTTP }

func (e *HTTPExecutor) Execute(ctx context.Context, node *workflow.Node, ec *state.Context) *workflow.NodeOutput {
	now := e.clock.Now()

	var cfg workflow.HTTPConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.NewFailure(node, now, err)
	}
	if cfg.URL == "" {
		return workflow.NewFailure(node, now, apperrors.Newf(
			apperrors.CodeDefinition, "executor", "http node %s declares no url", node.ID))
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	url := e.resolver.Substitute(cfg.URL, ec)
	body := e.resolver.Substitute(cfg.Body, ec)

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return workflow.NewFailure(node, e.clock.Now(), apperrors.New(
			apperrors.CodeDefinition, "executor", "building request", err))
	}

	for name, value := range cfg.Headers {
		req.Header.Set(name, e.resolver.Substitute(value, ec))
	}
	if err := e.applyAuth(req, cfg.Auth, ec); err != nil {
		return workflow.NewFailure(node, e.clock.Now(), err)
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client(cfg.Retry).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return workflow.NewFailure(node, e.clock.Now(), apperrors.New(
				apperrors.CodeCancelled, "executor", "http request cancelled", ctx.Err()))
		}
		return workflow.NewFailure(node, e.clock.Now(), apperrors.New(
			apperrors.CodeHTTP, "executor", method+" "+url, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return workflow.NewFailure(node, e.clock.Now(), apperrors.New(
			apperrors.CodeHTTP, "executor", "reading response body", err))
	}

	parsedBody := parseResponseBody(resp.Header.Get("Content-Type"), raw)
	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	output := map[string]any{
		"response":   parsedBody,
		"statusCode": resp.StatusCode,
		"headers":    headers,
	}

	if resp.StatusCode >= 400 {
		out := workflow.NewFailure(node, e.clock.Now(), apperrors.Newf(
			apperrors.CodeHTTP, "executor", "%s %s returned %d", method, url, resp.StatusCode))
		out.Output = output
		// 4xx means the request itself is wrong; repeating it cannot
		// succeed. 5xx stays retryable.
		out.NonRetryable = resp.StatusCode < 500
		return out
	}

	variables := map[string]any{
		"response":   parsedBody,
		"statusCode": resp.StatusCode,
	}
	return workflow.NewSuccess(node, e.clock.Now(), output, variables)
}

// client builds a retrying client honoring the node's retry override.
// Transport errors and 5xx retry; 4xx does not (the default policy).
func (e *HTTPExecutor) client(retry *workflow.RetryConfig) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil

	if retry != nil {
		client.RetryMax = retry.MaxRetries
		if retry.RetryDelayMs > 0 {
			client.RetryWaitMin = time.Duration(retry.RetryDelayMs) * time.Millisecond
			client.RetryWaitMax = retry.Delay(retry.MaxRetries + 1)
			if client.RetryWaitMax < client.RetryWaitMin {
				client.RetryWaitMax = client.RetryWaitMin
			}
		}
	} else {
		client.RetryMax = 2
	}
	return client
}

func (e *HTTPExecutor) applyAuth(req *retryablehttp.Request, auth *workflow.HTTPAuth, ec *state.Context) error {
	if auth == nil || auth.Type == "" || auth.Type == workflow.AuthNone {
		return nil
	}
	switch auth.Type {
	case workflow.AuthBasic:
		req.SetBasicAuth(
			e.resolver.Substitute(auth.Username, ec),
			e.resolver.Substitute(auth.Password, ec))
	case workflow.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+e.resolver.Substitute(auth.Token, ec))
	case workflow.AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, e.resolver.Substitute(auth.Key, ec))
	default:
		return apperrors.Newf(apperrors.CodeDefinition, "executor", "unknown auth type %q", auth.Type)
	}
	return nil
}

// parseResponseBody decodes JSON responses into structured values so
// downstream JSONPath expressions can address them; anything else stays a
// string.
func parseResponseBody(contentType string, raw []byte) any {
	if strings.Contains(contentType, "application/json") {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			return parsed
		}
	}
	return string(raw)
}
