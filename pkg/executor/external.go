package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/debug"
)

const (
	// DefaultHTTPTimeout bounds a single outbound request when the
	// tool config does not set one.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultTransportRetries is the per-attempt HTTP retry count.
	// These retries live inside one job attempt and are invisible to
	// the worker's own retry accounting.
	DefaultTransportRetries = 3

	// defaultAPIKeyHeader carries api_key auth when the config does
	// not name a header.
	defaultAPIKeyHeader = "X-API-Key"

	// maxErrorBody caps the response body captured in failure
	// messages.
	maxErrorBody = 512

	// maxResponseBody caps how much of a response is read into the
	// result record.
	maxResponseBody = 1 << 20
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// ExternalExecutor calls third-party HTTP endpoints described by the
// tool's config. One Execute call makes at most retries+1 requests; the
// worker layers its own job-level retries on top.
type ExternalExecutor struct {
	client  *http.Client
	secrets SecretStore
	now     func() time.Time
	sleep   func(time.Duration)
}

var _ Executor = (*ExternalExecutor)(nil)

// NewExternal creates an external executor. secrets may be nil, in
// which case {{secret.*}} placeholders are left unresolved.
func NewExternal(client *http.Client, secrets SecretStore) *ExternalExecutor {
	if client == nil {
		client = &http.Client{}
	}
	return &ExternalExecutor{
		client:  client,
		secrets: secrets,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Kind returns api.ToolKindExternal.
func (e *ExternalExecutor) Kind() api.ToolKind {
	return api.ToolKindExternal
}

// Execute performs the configured HTTP request. Non-2xx responses are
// failures; connection-level errors are retried up to the configured
// transport retry count before the attempt as a whole fails.
func (e *ExternalExecutor) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	cfg := inv.Tool.Config

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}
	if !allowedMethods[method] {
		return nil, Fatal("unsupported HTTP method %q", cfg.Method)
	}
	if cfg.URL == "" {
		return nil, Fatal("external tool %q has no URL configured", inv.Tool.Slug)
	}

	timeout := DefaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	retries := DefaultTransportRetries
	if cfg.Retries > 0 {
		retries = cfg.Retries
	}

	body, err := e.requestBody(method, cfg, inv.Execution.Payload)
	if err != nil {
		return nil, err
	}

	start := e.now()
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			e.sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}

		result, err := e.doRequest(ctx, method, cfg, body, timeout, inv, start)
		if err == nil {
			return result, nil
		}
		// Context cancellation and non-2xx responses do not improve
		// with another transport attempt.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("request to %s failed after %d attempts: %w", cfg.URL, retries+1, lastErr)
}

// httpStatusError is a non-2xx response. It is terminal for the current
// attempt; the worker decides whether the job retries.
type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

func (e *ExternalExecutor) doRequest(ctx context.Context, method string, cfg api.ToolConfig, body []byte, timeout time.Duration, inv Invocation, start time.Time) (map[string]any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, cfg.URL, reader)
	if err != nil {
		return nil, Fatal("building request for %s: %v", cfg.URL, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range cfg.Headers {
		req.Header.Set(h.Name, renderTemplate(h.Value, e.secrets))
	}
	e.applyAuth(req, cfg.Auth)

	debug.Log("executor", "outbound request",
		"tool", inv.Tool.Slug, "method", method, "url", cfg.URL)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", cfg.URL, err)
	}

	debug.Log("executor", "outbound response",
		"tool", inv.Tool.Slug, "status", resp.StatusCode, "bytes", len(respBody))
	debug.Raw("executor", debug.Truncate(string(respBody), maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{Status: resp.StatusCode, Body: truncate(string(respBody), maxErrorBody)}
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	return map[string]any{
		"status_code":    resp.StatusCode,
		"response_body":  string(respBody),
		"headers":        headers,
		"success":        true,
		"execution_time": e.now().Sub(start).Seconds(),
		"tool_name":      inv.Tool.Slug,
		"timestamp":      e.now().UTC().Format(time.RFC3339),
	}, nil
}

// requestBody builds the JSON body for write methods: the configured
// body template is the base, payload fields overlay it. GET and DELETE
// send no body.
func (e *ExternalExecutor) requestBody(method string, cfg api.ToolConfig, payload map[string]any) ([]byte, error) {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, nil
	}

	merged := make(map[string]any, len(cfg.Body)+len(payload))
	maps.Copy(merged, cfg.Body)
	maps.Copy(merged, payload)
	if len(merged) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(merged)
	if err != nil {
		return nil, Fatal("encoding request body: %v", err)
	}
	return body, nil
}

func (e *ExternalExecutor) applyAuth(req *http.Request, auth *api.AuthConfig) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case api.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+renderTemplate(auth.Token, e.secrets))
	case api.AuthBasic:
		user := renderTemplate(auth.Username, e.secrets)
		pass := renderTemplate(auth.Password, e.secrets)
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	case api.AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = defaultAPIKeyHeader
		}
		req.Header.Set(header, renderTemplate(auth.Key, e.secrets))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
