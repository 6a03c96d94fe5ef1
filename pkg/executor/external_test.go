package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatdesk/toolgate/pkg/api"
)

type mapSecrets map[string]string

func (m mapSecrets) Secret(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func externalInvocation(cfg api.ToolConfig, payload map[string]any) Invocation {
	return Invocation{
		Tool: &api.Tool{
			Slug:   "crm-sync",
			Kind:   api.ToolKindExternal,
			Config: cfg,
		},
		Execution: &api.Execution{
			ID:       "exec_test",
			TenantID: "tenant-1",
			Payload:  payload,
		},
		Attempt: 1,
	}
}

func newTestExternal(secrets SecretStore) *ExternalExecutor {
	exec := NewExternal(nil, secrets)
	exec.sleep = func(time.Duration) {}
	return exec
}

func TestExternalExecutorSuccess(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.Header().Set("X-Request-ID", "req-1")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	exec := newTestExternal(nil)
	cfg := api.ToolConfig{
		URL:    srv.URL,
		Method: "POST",
		Body:   map[string]any{"source": "toolgate", "customer_id": "default"},
	}
	result, err := exec.Execute(context.Background(), externalInvocation(cfg, map[string]any{
		"customer_id": "cust-9",
	}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Payload overlays the configured body template.
	if gotBody["customer_id"] != "cust-9" {
		t.Errorf("customer_id = %v, want payload to win", gotBody["customer_id"])
	}
	if gotBody["source"] != "toolgate" {
		t.Errorf("source = %v, want template base kept", gotBody["source"])
	}

	if result["status_code"] != http.StatusOK {
		t.Errorf("status_code = %v", result["status_code"])
	}
	if result["response_body"] != `{"ok":true}` {
		t.Errorf("response_body = %v", result["response_body"])
	}
	if result["success"] != true {
		t.Errorf("success = %v", result["success"])
	}
	if result["tool_name"] != "crm-sync" {
		t.Errorf("tool_name = %v", result["tool_name"])
	}
	headers, ok := result["headers"].(map[string]string)
	if !ok || headers["X-Request-Id"] != "req-1" {
		t.Errorf("headers = %v", result["headers"])
	}
}

func TestExternalExecutorGetSendsNoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength != 0 {
			t.Errorf("GET request carried a body of %d bytes", r.ContentLength)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	exec := newTestExternal(nil)
	_, err := exec.Execute(context.Background(), externalInvocation(api.ToolConfig{
		URL:    srv.URL,
		Method: "GET",
	}, map[string]any{"ignored": "yes"}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExternalExecutorNon2xxFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	exec := newTestExternal(nil)
	_, err := exec.Execute(context.Background(), externalInvocation(api.ToolConfig{
		URL:    srv.URL,
		Method: "GET",
	}, nil))

	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected httpStatusError, got %v", err)
	}
	if statusErr.Status != http.StatusBadGateway {
		t.Errorf("status = %d", statusErr.Status)
	}
	// Status errors must not burn transport retries.
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestExternalExecutorTransportRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			// Kill the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack: %v", err)
			}
			conn.Close()
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	exec := newTestExternal(nil)
	result, err := exec.Execute(context.Background(), externalInvocation(api.ToolConfig{
		URL:     srv.URL,
		Method:  "GET",
		Retries: 3,
	}, nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result["response_body"] != "finally" {
		t.Errorf("response_body = %v", result["response_body"])
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestExternalExecutorExhaustsTransportRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer srv.Close()

	exec := newTestExternal(nil)
	_, err := exec.Execute(context.Background(), externalInvocation(api.ToolConfig{
		URL:     srv.URL,
		Method:  "GET",
		Retries: 2,
	}, nil))
	if err == nil {
		t.Fatal("expected error after exhausting transport retries")
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		t.Error("transport failures must stay retryable at the job level")
	}
}

func TestExternalExecutorUnsupportedMethodIsFatal(t *testing.T) {
	exec := newTestExternal(nil)
	_, err := exec.Execute(context.Background(), externalInvocation(api.ToolConfig{
		URL:    "http://example.invalid",
		Method: "TRACE",
	}, nil))

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
}

func TestExternalExecutorMissingURLIsFatal(t *testing.T) {
	exec := newTestExternal(nil)
	_, err := exec.Execute(context.Background(), externalInvocation(api.ToolConfig{
		Method: "POST",
	}, nil))

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
}

func TestExternalExecutorAuth(t *testing.T) {
	tests := []struct {
		name       string
		auth       *api.AuthConfig
		wantHeader string
		wantValue  string
	}{
		{
			name:       "bearer",
			auth:       &api.AuthConfig{Type: api.AuthBearer, Token: "{{secret.API_TOKEN}}"},
			wantHeader: "Authorization",
			wantValue:  "Bearer tok-123",
		},
		{
			name:       "basic",
			auth:       &api.AuthConfig{Type: api.AuthBasic, Username: "svc", Password: "{{secret.API_TOKEN}}"},
			wantHeader: "Authorization",
			wantValue:  "Basic c3ZjOnRvay0xMjM=",
		},
		{
			name:       "api key default header",
			auth:       &api.AuthConfig{Type: api.AuthAPIKey, Key: "key-9"},
			wantHeader: "X-API-Key",
			wantValue:  "key-9",
		},
		{
			name:       "api key custom header",
			auth:       &api.AuthConfig{Type: api.AuthAPIKey, Header: "X-Custom-Auth", Key: "key-9"},
			wantHeader: "X-Custom-Auth",
			wantValue:  "key-9",
		},
	}

	secrets := mapSecrets{"API_TOKEN": "tok-123"}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get(tc.wantHeader)
				w.Write([]byte("ok"))
			}))
			defer srv.Close()

			exec := newTestExternal(secrets)
			_, err := exec.Execute(context.Background(), externalInvocation(api.ToolConfig{
				URL:    srv.URL,
				Method: "GET",
				Auth:   tc.auth,
			}, nil))
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got != tc.wantValue {
				t.Errorf("%s = %q, want %q", tc.wantHeader, got, tc.wantValue)
			}
		})
	}
}

func TestExternalExecutorTemplatedHeaders(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Signature")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	exec := newTestExternal(mapSecrets{"SIGNING_KEY": "sig-1"})
	_, err := exec.Execute(context.Background(), externalInvocation(api.ToolConfig{
		URL:     srv.URL,
		Method:  "GET",
		Headers: []api.Header{{Name: "X-Signature", Value: "{{secret.SIGNING_KEY}}"}},
	}, nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "sig-1" {
		t.Errorf("X-Signature = %q", got)
	}
}
