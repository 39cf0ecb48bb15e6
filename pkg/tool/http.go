// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/httpclient"
	"github.com/kadirpekel/nestor/pkg/interp"
)

// HTTPExecutor serves tool declarations of type "http". The declared url
// may carry {{placeholder}} templates that are filled from the call
// inputs, so one declaration covers parameterized endpoints.
//
// Retries are left to the flow's onError policy; the executor itself never
// reattempts a request.
type HTTPExecutor struct {
	config *config.HTTPToolConfig
	client *httpclient.Client
}

var _ Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor creates the executor. A nil config gets the defaults.
func NewHTTPExecutor(cfg *config.HTTPToolConfig) *HTTPExecutor {
	if cfg == nil {
		cfg = &config.HTTPToolConfig{}
	}
	cfg.SetDefaults()

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(0),
	)

	return &HTTPExecutor{config: cfg, client: client}
}

func (e *HTTPExecutor) Type() string { return TypeHTTP }

func (e *HTTPExecutor) Execute(ctx context.Context, decl *flow.Tool, inputs map[string]any) (*Result, error) {
	template, _ := decl.Config["url"].(string)
	if template == "" {
		return nil, fmt.Errorf("tool '%s' declares no url", decl.ID)
	}

	target := interp.Interpolate(template, inputs)
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("tool '%s': invalid url: %w", decl.ID, err)
	}
	if err := e.validateDomain(parsed.Host); err != nil {
		return nil, err
	}

	method := requestMethod(decl, inputs)
	if err := e.validateMethod(method); err != nil {
		return nil, err
	}

	body, contentType, err := requestBody(inputs)
	if err != nil {
		return nil, fmt.Errorf("tool '%s': %w", decl.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("tool '%s': %w", decl.ID, err)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range requestHeaders(decl, inputs) {
		req.Header.Set(key, value)
	}

	resp, err := e.client.Do(req)
	if resp == nil {
		return nil, fmt.Errorf("tool '%s': request failed: %w", decl.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	limited := io.LimitReader(resp.Body, e.config.MaxResponseBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("tool '%s': failed to read response: %w", decl.ID, err)
	}
	if int64(len(raw)) > e.config.MaxResponseBytes {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("response too large: exceeds %d bytes", e.config.MaxResponseBytes),
		}, nil
	}

	headers := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	output := map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    decodeBody(raw, resp.Header.Get("Content-Type")),
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	result := &Result{Success: success, Output: output}
	if !success {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return result, nil
}

func (e *HTTPExecutor) Close() error { return nil }

func (e *HTTPExecutor) validateDomain(host string) error {
	for _, denied := range e.config.DeniedDomains {
		if matchesDomain(host, denied) {
			return fmt.Errorf("domain not allowed: %s (matches deny rule: %s)", host, denied)
		}
	}

	if len(e.config.AllowedDomains) > 0 {
		for _, allowed := range e.config.AllowedDomains {
			if matchesDomain(host, allowed) {
				return nil
			}
		}
		return fmt.Errorf("domain not allowed: %s (not in allowed list)", host)
	}

	return nil
}

func (e *HTTPExecutor) validateMethod(method string) error {
	if len(e.config.AllowedMethods) == 0 {
		return nil
	}
	for _, allowed := range e.config.AllowedMethods {
		if strings.EqualFold(method, allowed) {
			return nil
		}
	}
	return fmt.Errorf("HTTP method not allowed: %s (allowed: %v)", method, e.config.AllowedMethods)
}

// requestMethod resolves the method: call inputs win over the declaration,
// GET is the fallback.
func requestMethod(decl *flow.Tool, inputs map[string]any) string {
	if m, ok := inputs["method"].(string); ok && m != "" {
		return strings.ToUpper(m)
	}
	if m, ok := decl.Config["method"].(string); ok && m != "" {
		return strings.ToUpper(m)
	}
	return http.MethodGet
}

// requestHeaders merges declared headers with per-call ones; the call wins
// on conflicts.
func requestHeaders(decl *flow.Tool, inputs map[string]any) map[string]string {
	headers := make(map[string]string)
	for _, source := range []any{decl.Config["headers"], inputs["headers"]} {
		switch m := source.(type) {
		case map[string]string:
			for k, v := range m {
				headers[k] = v
			}
		case map[string]any:
			for k, v := range m {
				headers[k] = interp.ToString(v)
			}
		}
	}
	return headers
}

// requestBody turns the "body" input into a reader. Strings pass through
// raw; maps and slices are JSON-encoded and tagged as application/json.
// bytes.Reader bodies replay safely because NewRequest derives GetBody.
func requestBody(inputs map[string]any) (io.Reader, string, error) {
	value, ok := inputs["body"]
	if !ok || value == nil {
		return nil, "", nil
	}
	if s, ok := value.(string); ok {
		if s == "" {
			return nil, "", nil
		}
		return bytes.NewReader([]byte(s)), "", nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(encoded), "application/json", nil
}

// decodeBody parses JSON responses into structured data so flows can
// resolve into them; everything else stays a string.
func decodeBody(raw []byte, contentType string) any {
	if strings.Contains(contentType, "application/json") && len(raw) > 0 {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
	}
	return string(raw)
}

func matchesDomain(host, pattern string) bool {
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	if host == pattern {
		return true
	}

	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:]
		return strings.HasSuffix(host, suffix)
	}

	return false
}
