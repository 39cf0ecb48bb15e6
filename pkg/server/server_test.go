package server

import (
	"bufio"
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
	"github.com/kadirpekel/nestor/pkg/runtime"
	"github.com/kadirpekel/nestor/pkg/session"
	"github.com/kadirpekel/nestor/pkg/testutils"
)

const greeterFlow = `{
	"version": "1.0",
	"id": "greeter",
	"name": "Greeter",
	"description": "Greets the caller and collects a name.",
	"entryNode": "start",
	"nodes": [
		{"id": "start", "type": "start", "config": {"welcomeMessage": "Hello!"}},
		{"id": "ask", "type": "collect_input", "config": {"variableName": "name", "prompt": "Who are you?"}},
		{"id": "bye", "type": "message", "config": {"message": "Nice to meet you, {{name}}."}},
		{"id": "done", "type": "end"}
	],
	"edges": [
		{"id": "e1", "source": "start", "target": "ask"},
		{"id": "e2", "source": "ask", "target": "bye"},
		{"id": "e3", "source": "bye", "target": "done"}
	]
}`

const surveyFlow = `{
	"version": "1.0",
	"id": "survey",
	"name": "Survey",
	"entryNode": "start",
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "done", "type": "end"}
	],
	"edges": [
		{"id": "e1", "source": "start", "target": "done"}
	]
}`

func newTestServer(t *testing.T, flows ...*flow.Flow) *Server {
	t.Helper()
	store := flow.NewStore(nil)
	for _, f := range flows {
		store.Add(f)
	}
	srv, err := New(Options{
		Engine: runtime.NewEngine(),
		Flows:  store,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return srv
}

// doJSON runs one request through the router and returns the recorder.
func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) *session.Session {
	t.Helper()
	var sess session.Session
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	return &sess
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *session.Error {
	t.Helper()
	var envelope struct {
		Error *session.Error `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if envelope.Error == nil {
		t.Fatal("response carries no error field")
	}
	return envelope.Error
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without an engine")
	}
	if _, err := New(Options{Engine: runtime.NewEngine()}); err == nil {
		t.Error("expected error without a flow store")
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestListFlows(t *testing.T) {
	srv := newTestServer(t,
		testutils.MustFlow(t, greeterFlow),
		testutils.MustFlow(t, surveyFlow),
	)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/flows", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Flows []flowSummary `json:"flows"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(resp.Flows) != 2 {
		t.Fatalf("flows = %d, want 2", len(resp.Flows))
	}
	// The store lists flows sorted by id.
	if resp.Flows[0].ID != "greeter" || resp.Flows[1].ID != "survey" {
		t.Errorf("flow order = %s, %s; want greeter, survey", resp.Flows[0].ID, resp.Flows[1].ID)
	}
	if resp.Flows[0].Nodes != 4 {
		t.Errorf("greeter node count = %d, want 4", resp.Flows[0].Nodes)
	}
	if resp.Flows[0].EntryNode != "start" {
		t.Errorf("greeter entry node = %q, want start", resp.Flows[0].EntryNode)
	}
}

func TestGetFlow(t *testing.T) {
	srv := newTestServer(t, testutils.MustFlow(t, greeterFlow))

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/flows/greeter", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var f flow.Flow
	if err := json.NewDecoder(rec.Body).Decode(&f); err != nil {
		t.Fatalf("failed to decode flow: %v", err)
	}
	if f.ID != "greeter" || len(f.Nodes) != 4 {
		t.Errorf("got flow %s with %d nodes, want greeter with 4", f.ID, len(f.Nodes))
	}

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/flows/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if serr := decodeError(t, rec); serr.Code != codeFlowNotFound {
		t.Errorf("error code = %s, want %s", serr.Code, codeFlowNotFound)
	}
}

func TestStartSession(t *testing.T) {
	srv := newTestServer(t, testutils.MustFlow(t, greeterFlow))
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/flows/greeter/sessions", "")

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	sess := decodeSession(t, rec)
	if sess.ID == "" {
		t.Error("session id is empty")
	}
	if sess.FlowID != "greeter" {
		t.Errorf("flow id = %s, want greeter", sess.FlowID)
	}
	if sess.Status != session.StatusWaitingInput {
		t.Errorf("status = %s, want waiting_input", sess.Status)
	}
	if sess.CurrentNodeID != "ask" {
		t.Errorf("current node = %s, want ask", sess.CurrentNodeID)
	}
}

func TestStartSessionUnknownFlow(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/flows/nope/sessions", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if serr := decodeError(t, rec); serr.Code != codeFlowNotFound {
		t.Errorf("error code = %s, want %s", serr.Code, codeFlowNotFound)
	}
}

func TestStartSessionInvalidBody(t *testing.T) {
	srv := newTestServer(t, testutils.MustFlow(t, greeterFlow))
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/flows/greeter/sessions", "{")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStartSessionAttachesMetadata(t *testing.T) {
	srv := newTestServer(t, testutils.MustFlow(t, greeterFlow))
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/flows/greeter/sessions",
		`{"metadata": {"channel": "web", "externalId": "u-42"}}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	sess := decodeSession(t, rec)
	if sess.Metadata["channel"] != "web" {
		t.Errorf("metadata channel = %v, want web", sess.Metadata["channel"])
	}

	// The metadata must survive the round trip through the store.
	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/sessions/"+sess.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
	got := decodeSession(t, rec)
	if got.Metadata["externalId"] != "u-42" {
		t.Errorf("persisted metadata externalId = %v, want u-42", got.Metadata["externalId"])
	}
}

func TestProcessInputCompletesFlow(t *testing.T) {
	srv := newTestServer(t, testutils.MustFlow(t, greeterFlow))
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/flows/greeter/sessions", "")
	sess := decodeSession(t, rec)

	rec = doJSON(t, h, http.MethodPost, "/v1/sessions/"+sess.ID+"/input", `{"message": "Ada"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	sess = decodeSession(t, rec)
	if sess.Status != session.StatusCompleted {
		t.Errorf("status = %s, want completed", sess.Status)
	}
	if sess.Variables["name"] != "Ada" {
		t.Errorf("name = %v, want Ada", sess.Variables["name"])
	}
}

func TestProcessInputRequiresMessage(t *testing.T) {
	srv := newTestServer(t, testutils.MustFlow(t, greeterFlow))
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/flows/greeter/sessions", "")
	sess := decodeSession(t, rec)

	rec = doJSON(t, h, http.MethodPost, "/v1/sessions/"+sess.ID+"/input", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if serr := decodeError(t, rec); serr.Code != runtime.CodeExecutionError {
		t.Errorf("error code = %s, want %s", serr.Code, runtime.CodeExecutionError)
	}
}

func TestProcessInputUnknownSession(t *testing.T) {
	srv := newTestServer(t, testutils.MustFlow(t, greeterFlow))
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions/nope/input", `{"message": "hi"}`)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if serr := decodeError(t, rec); serr.Code != runtime.CodeSessionNotFound {
		t.Errorf("error code = %s, want %s", serr.Code, runtime.CodeSessionNotFound)
	}
}

func TestProcessInputSessionNotWaiting(t *testing.T) {
	srv := newTestServer(t, testutils.MustFlow(t, greeterFlow))
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/flows/greeter/sessions", "")
	sess := decodeSession(t, rec)
	doJSON(t, h, http.MethodPost, "/v1/sessions/"+sess.ID+"/input", `{"message": "Ada"}`)

	rec = doJSON(t, h, http.MethodPost, "/v1/sessions/"+sess.ID+"/input", `{"message": "again"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if serr := decodeError(t, rec); serr.Code != runtime.CodeSessionNotWaiting {
		t.Errorf("error code = %s, want %s", serr.Code, runtime.CodeSessionNotWaiting)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/sessions/nope", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestEndSessionIsIdempotent(t *testing.T) {
	srv := newTestServer(t, testutils.MustFlow(t, greeterFlow))
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/flows/greeter/sessions", "")
	sess := decodeSession(t, rec)

	rec = doJSON(t, h, http.MethodDelete, "/v1/sessions/"+sess.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeSession(t, rec); got.Status != session.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/sessions/"+sess.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("second delete status = %d, want 200", rec.Code)
	}
	if got := decodeSession(t, rec); got.Status != session.StatusCompleted {
		t.Errorf("second delete status field = %s, want completed", got.Status)
	}
}

func TestCORSAllowAll(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/flows", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q, want *", got)
	}
	if methods := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "POST") {
		t.Errorf("allow methods = %q, want POST included", methods)
	}
}

func TestCORSExactOrigin(t *testing.T) {
	store := flow.NewStore(nil)
	srv, err := New(Options{
		Config: config.ServerConfig{CORSAllowedOrigins: []string{"https://app.example.com"}},
		Engine: runtime.NewEngine(),
		Flows:  store,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow origin = %q, want the request origin echoed", got)
	}
	if vary := rec.Header().Get("Vary"); vary != "Origin" {
		t.Errorf("vary = %q, want Origin", vary)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow origin = %q, want unset for a foreign origin", got)
	}
}

func TestSessionEventsUnknownSession(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/sessions/nope/events", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSessionEventStream(t *testing.T) {
	srv := newTestServer(t, testutils.MustFlow(t, greeterFlow))
	srv.config.SSEKeepAlive = 50 * time.Millisecond

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	f, _ := srv.flows.Get("greeter")
	sess, err := srv.engine.StartSession(context.Background(), f)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/sessions/"+sess.ID+"/events", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	scanner := bufio.NewScanner(resp.Body)

	// The snapshot frame arrives before anything else.
	event, data := readSSEFrame(t, scanner)
	if event != "session" {
		t.Fatalf("first event = %q, want session", event)
	}
	if !strings.Contains(data, sess.ID) {
		t.Errorf("snapshot data does not mention the session id: %s", data)
	}

	// The subscription is live once the snapshot is out, so events from
	// this turn must show up on the stream.
	if _, err := srv.engine.ProcessInput(context.Background(), f, sess.ID, "Ada"); err != nil {
		t.Fatalf("ProcessInput failed: %v", err)
	}

	seen := map[string]bool{}
	for event != "session_completed" {
		event, _ = readSSEFrame(t, scanner)
		seen[event] = true
	}
	if !seen["message_sent"] {
		t.Errorf("stream events = %v, want message_sent included", seen)
	}
	cancel()
}

// readSSEFrame scans to the next event frame, skipping keep-alive
// comments and blank separators.
func readSSEFrame(t *testing.T, scanner *bufio.Scanner) (event, data string) {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
			return event, data
		}
	}
	t.Fatalf("stream ended before a full frame: %v", scanner.Err())
	return "", ""
}
