package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPPlatform implements Platform against the helpdesk's internal
// HTTP API. Requests carry the tenant in an X-Tenant-ID header and an
// optional bearer key.
type HTTPPlatform struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Platform = (*HTTPPlatform)(nil)

// NewHTTPPlatform creates a platform client. timeout bounds each call;
// zero means 10s.
func NewHTTPPlatform(baseURL, apiKey string, timeout time.Duration) *HTTPPlatform {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPlatform{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// CreateTicket implements Platform.
func (p *HTTPPlatform) CreateTicket(ctx context.Context, tenantID string, params TicketParams) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := p.post(ctx, tenantID, "/api/tickets", map[string]any{
		"title":       params.Title,
		"description": params.Description,
		"priority":    params.Priority,
		"department":  params.Department,
		"tags":        params.Tags,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// TransferDepartment implements Platform.
func (p *HTTPPlatform) TransferDepartment(ctx context.Context, tenantID, conversationID, departmentID string) error {
	return p.post(ctx, tenantID, conversationPath(conversationID, "transfer"), map[string]any{
		"department_id": departmentID,
	}, nil)
}

// SendMessage implements Platform.
func (p *HTTPPlatform) SendMessage(ctx context.Context, tenantID, conversationID, message string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := p.post(ctx, tenantID, conversationPath(conversationID, "messages"), map[string]any{
		"message": message,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CloseConversation implements Platform.
func (p *HTTPPlatform) CloseConversation(ctx context.Context, tenantID, conversationID string) error {
	return p.post(ctx, tenantID, conversationPath(conversationID, "close"), nil, nil)
}

// AssignAgent implements Platform.
func (p *HTTPPlatform) AssignAgent(ctx context.Context, tenantID, conversationID, agentID string) error {
	return p.post(ctx, tenantID, conversationPath(conversationID, "assign"), map[string]any{
		"agent_id": agentID,
	}, nil)
}

func conversationPath(conversationID, action string) string {
	return "/api/conversations/" + url.PathEscape(conversationID) + "/" + action
}

// post issues one JSON request and decodes the response into out when
// out is non-nil. Non-2xx responses are errors with a truncated body.
func (p *HTTPPlatform) post(ctx context.Context, tenantID, path string, body map[string]any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding platform request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building platform request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling platform %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("reading platform response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("platform %s returned %d: %s", path, resp.StatusCode, truncate(string(respBody), maxErrorBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding platform response: %w", err)
		}
	}
	return nil
}
