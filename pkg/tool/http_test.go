package tool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/flow"
)

func httpDecl(url string) *flow.Tool {
	return &flow.Tool{
		ID:     "lookup_order",
		Type:   TypeHTTP,
		Config: map[string]any{"url": url},
	}
}

func newTestHTTPExecutor(cfg *config.HTTPToolConfig) *HTTPExecutor {
	if cfg == nil {
		cfg = &config.HTTPToolConfig{}
	}
	return NewHTTPExecutor(cfg)
}

func TestHTTPExecutorInterpolatesURL(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "shipped"}`))
	}))
	defer server.Close()

	executor := newTestHTTPExecutor(nil)
	decl := httpDecl(server.URL + "/orders/{{order_id}}")

	result, err := executor.Execute(context.Background(), decl, map[string]any{"order_id": "A123"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if gotPath != "/orders/A123" {
		t.Errorf("path = %q, want /orders/A123", gotPath)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}

	output, ok := result.Output.(map[string]any)
	if !ok {
		t.Fatalf("output is %T, want map", result.Output)
	}
	if output["status"] != 200 {
		t.Errorf("status = %v, want 200", output["status"])
	}
	body, ok := output["body"].(map[string]any)
	if !ok {
		t.Fatalf("body is %T, want decoded JSON map", output["body"])
	}
	if body["status"] != "shipped" {
		t.Errorf("body.status = %v, want shipped", body["status"])
	}
}

func TestHTTPExecutorSendsJSONBody(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer server.Close()

	executor := newTestHTTPExecutor(nil)
	decl := httpDecl(server.URL + "/tickets")

	result, err := executor.Execute(context.Background(), decl, map[string]any{
		"method": "POST",
		"body":   map[string]any{"subject": "refund", "priority": "high"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if gotMethod != "POST" {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q, want application/json", gotContentType)
	}
	if gotBody["subject"] != "refund" {
		t.Errorf("body.subject = %v, want refund", gotBody["subject"])
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	output := result.Output.(map[string]any)
	if output["status"] != 201 {
		t.Errorf("status = %v, want 201", output["status"])
	}
	if output["body"] != "created" {
		t.Errorf("body = %v, want created", output["body"])
	}
}

func TestHTTPExecutorMergesHeaders(t *testing.T) {
	var gotAuth, gotTrace string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTrace = r.Header.Get("X-Trace-Id")
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	executor := newTestHTTPExecutor(nil)
	decl := httpDecl(server.URL)
	decl.Config["headers"] = map[string]any{
		"Authorization": "Bearer declared",
		"X-Trace-Id":    "declared",
	}

	result, err := executor.Execute(context.Background(), decl, map[string]any{
		"headers": map[string]any{"X-Trace-Id": "call-7"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if gotAuth != "Bearer declared" {
		t.Errorf("Authorization = %q, want declared value", gotAuth)
	}
	if gotTrace != "call-7" {
		t.Errorf("X-Trace-Id = %q, want call override", gotTrace)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
}

func TestHTTPExecutorNon2xxIsFailureResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "order not found"}`))
	}))
	defer server.Close()

	executor := newTestHTTPExecutor(nil)
	result, err := executor.Execute(context.Background(), httpDecl(server.URL), nil)
	if err != nil {
		t.Fatalf("non-2xx should not be a transport error, got %v", err)
	}
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.Error != "HTTP 404" {
		t.Errorf("error = %q, want HTTP 404", result.Error)
	}

	output := result.Output.(map[string]any)
	body, ok := output["body"].(map[string]any)
	if !ok {
		t.Fatalf("error body is %T, want decoded JSON map", output["body"])
	}
	if body["message"] != "order not found" {
		t.Errorf("body.message = %v, want order not found", body["message"])
	}
}

func TestHTTPExecutorDeniedDomain(t *testing.T) {
	executor := newTestHTTPExecutor(&config.HTTPToolConfig{
		AllowedDomains: []string{"*.internal.example.com"},
		DeniedDomains:  []string{"secrets.internal.example.com"},
	})

	_, err := executor.Execute(context.Background(), httpDecl("https://secrets.internal.example.com/keys"), nil)
	if err == nil || !strings.Contains(err.Error(), "deny rule") {
		t.Fatalf("expected deny rule error, got %v", err)
	}

	_, err = executor.Execute(context.Background(), httpDecl("https://evil.example.org/"), nil)
	if err == nil || !strings.Contains(err.Error(), "not in allowed list") {
		t.Fatalf("expected allow list error, got %v", err)
	}
}

func TestHTTPExecutorAllowsWildcardDomain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	// httptest binds to 127.0.0.1, so the port-stripping path is covered.
	executor := newTestHTTPExecutor(&config.HTTPToolConfig{
		AllowedDomains: []string{"127.0.0.1"},
	})

	result, err := executor.Execute(context.Background(), httpDecl(server.URL), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
}

func TestHTTPExecutorRejectsMethod(t *testing.T) {
	executor := newTestHTTPExecutor(nil) // defaults allow GET and POST only

	_, err := executor.Execute(context.Background(), httpDecl("http://127.0.0.1/"), map[string]any{
		"method": "DELETE",
	})
	if err == nil || !strings.Contains(err.Error(), "method not allowed") {
		t.Fatalf("expected method error, got %v", err)
	}
}

func TestHTTPExecutorResponseTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, strings.NewReader(strings.Repeat("x", 200)))
	}))
	defer server.Close()

	executor := newTestHTTPExecutor(&config.HTTPToolConfig{MaxResponseBytes: 100})

	result, err := executor.Execute(context.Background(), httpDecl(server.URL), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure result")
	}
	if !strings.Contains(result.Error, "response too large") {
		t.Errorf("error = %q, want size message", result.Error)
	}
}

func TestHTTPExecutorMissingURL(t *testing.T) {
	executor := newTestHTTPExecutor(nil)
	decl := &flow.Tool{ID: "broken", Type: TypeHTTP, Config: map[string]any{}}

	_, err := executor.Execute(context.Background(), decl, nil)
	if err == nil || !strings.Contains(err.Error(), "declares no url") {
		t.Fatalf("expected missing url error, got %v", err)
	}
}

func TestHTTPExecutorTransportErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	executor := newTestHTTPExecutor(nil)
	_, err := executor.Execute(context.Background(), httpDecl(server.URL), nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
}

func TestHTTPExecutorHonorsContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	executor := newTestHTTPExecutor(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := executor.Execute(ctx, httpDecl(server.URL), nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestMatchesDomain(t *testing.T) {
	tests := []struct {
		host    string
		pattern string
		want    bool
	}{
		{"api.example.com", "api.example.com", true},
		{"api.example.com:8443", "api.example.com", true},
		{"api.example.com", "*.example.com", true},
		{"deep.api.example.com", "*.example.com", true},
		{"example.org", "*.example.com", false},
		{"api.example.com", "example.com", false},
	}
	for _, tt := range tests {
		if got := matchesDomain(tt.host, tt.pattern); got != tt.want {
			t.Errorf("matchesDomain(%q, %q) = %v, want %v", tt.host, tt.pattern, got, tt.want)
		}
	}
}
