package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/kadirpekel/nestor/pkg/flow"
)

type panickingHandler struct{}

func (panickingHandler) Kind() flow.Kind { return flow.Kind("explosive") }
func (panickingHandler) Execute(ctx context.Context, ec *ExecutionContext) *NodeResult {
	panic("boom")
}

type nilResultHandler struct{}

func (nilResultHandler) Kind() flow.Kind { return flow.Kind("silent") }
func (nilResultHandler) Execute(ctx context.Context, ec *ExecutionContext) *NodeResult {
	return nil
}

func TestExecutorRecoversPanics(t *testing.T) {
	ex := NewExecutor()
	ex.Register(panickingHandler{})

	node := &flow.Node{ID: "n1", Type: flow.Kind("explosive")}
	res := ex.Execute(context.Background(), execContext(node, Services{}))
	if res == nil || res.Err == nil {
		t.Fatal("panic must surface as a result error")
	}
	if res.Err.Code != CodeExecutionError {
		t.Errorf("code = %s", res.Err.Code)
	}
	if res.Err.Details["nodeId"] != "n1" {
		t.Errorf("details = %v", res.Err.Details)
	}
}

func TestExecutorUnknownKind(t *testing.T) {
	node := &flow.Node{ID: "n1", Type: flow.Kind("teleport")}
	res := NewExecutor().Execute(context.Background(), execContext(node, Services{}))
	if res.Err == nil || res.Err.Code != CodeUnknownNodeType {
		t.Fatalf("result = %+v, want UNKNOWN_NODE_TYPE", res.Err)
	}
}

func TestExecutorNormalisesNilResult(t *testing.T) {
	ex := NewExecutor()
	ex.Register(nilResultHandler{})

	node := &flow.Node{ID: "n1", Type: flow.Kind("silent")}
	res := ex.Execute(context.Background(), execContext(node, Services{}))
	if res == nil {
		t.Fatal("Execute returned nil")
	}
	if res.Err != nil || res.End || res.WaitForInput {
		t.Errorf("result = %+v, want zero value", res)
	}
}

func TestExecutorCoversAllKinds(t *testing.T) {
	ex := NewExecutor()
	for _, kind := range flow.Kinds() {
		if _, ok := ex.handlers[kind]; !ok {
			t.Errorf("no built-in handler for %s", kind)
		}
	}
}

func TestPickEdge(t *testing.T) {
	yes := &flow.Edge{ID: "e1", Source: "n", Target: "a", SourceHandle: "yes"}
	no := &flow.Edge{ID: "e2", Source: "n", Target: "b", Label: "no"}
	plain := &flow.Edge{ID: "e3", Source: "n", Target: "c"}

	tests := []struct {
		name   string
		edges  []*flow.Edge
		output any
		want   string
	}{
		{"single edge ignores output", []*flow.Edge{no}, "yes", "b"},
		{"source handle match", []*flow.Edge{plain, yes}, map[string]any{"verdict": "yes"}, "a"},
		{"label match", []*flow.Edge{plain, no}, map[string]any{"verdict": "no"}, "b"},
		{"string output matches", []*flow.Edge{no, yes}, "yes", "a"},
		{"no hint takes first", []*flow.Edge{plain, yes}, map[string]any{"count": 3}, "c"},
		{"nil output takes first", []*flow.Edge{yes, no}, nil, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickEdge(tt.edges, tt.output).Target; got != tt.want {
				t.Errorf("target = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStringHints(t *testing.T) {
	if hints := stringHints("ok"); !hints["ok"] {
		t.Error("string output not collected")
	}
	if hints := stringHints(""); hints != nil {
		t.Error("empty string should yield no hints")
	}
	hints := stringHints(map[string]any{"a": "x", "b": 2, "c": ""})
	if !hints["x"] || len(hints) != 1 {
		t.Errorf("hints = %v", hints)
	}
	if hints := stringHints(42); hints != nil {
		t.Error("non-string output should yield no hints")
	}
}

func TestSessionLocksSerialise(t *testing.T) {
	locks := newSessionLocks()

	const workers = 16
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.acquire("s1")
			defer locks.release("s1")
			counter++ // safe only under the session lock
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("counter = %d, want %d", counter, workers)
	}
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.entries) != 0 {
		t.Errorf("entries leaked: %d", len(locks.entries))
	}
}

func TestSessionLocksIndependentSessions(t *testing.T) {
	locks := newSessionLocks()
	locks.acquire("a")
	// Holding "a" must not block "b".
	done := make(chan struct{})
	go func() {
		locks.acquire("b")
		locks.release("b")
		close(done)
	}()
	<-done
	locks.release("a")
}

func TestReleaseUnknownSessionIsHarmless(t *testing.T) {
	newSessionLocks().release("ghost")
}
