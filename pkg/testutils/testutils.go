// Package testutils provides scripted service fakes and flow fixtures for
// runtime and server tests.
package testutils

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/nestor/pkg/ai"
	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/knowledge"
	"github.com/kadirpekel/nestor/pkg/tool"
)

// MustFlow parses a flow definition literal, failing the test on error.
func MustFlow(t *testing.T, definition string) *flow.Flow {
	t.Helper()
	f, err := flow.Parse([]byte(definition))
	if err != nil {
		t.Fatalf("failed to parse flow fixture: %v", err)
	}
	return f
}

// ScriptedClassifier plays back canned verdicts in order. Once the script
// runs out the last step repeats, so multi-turn tests only spell out the
// verdicts that change.
type ScriptedClassifier struct {
	name string

	mu    sync.Mutex
	steps []classifierStep
	calls []ai.Request
}

type classifierStep struct {
	verdict *ai.Classification
	err     error
}

// NewScriptedClassifier creates a classifier reporting the given provider
// name; empty defaults to "scripted".
func NewScriptedClassifier(name string) *ScriptedClassifier {
	if name == "" {
		name = "scripted"
	}
	return &ScriptedClassifier{name: name}
}

// Returns appends a successful verdict to the script.
func (c *ScriptedClassifier) Returns(intent string, confidence float64) *ScriptedClassifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, classifierStep{
		verdict: &ai.Classification{Intent: intent, Confidence: confidence},
	})
	return c
}

// Fails appends a classification error to the script.
func (c *ScriptedClassifier) Fails(err error) *ScriptedClassifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, classifierStep{err: err})
	return c
}

func (c *ScriptedClassifier) Provider() string { return c.name }

func (c *ScriptedClassifier) Classify(ctx context.Context, req ai.Request) (*ai.Classification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	if len(c.steps) == 0 {
		return nil, fmt.Errorf("scripted classifier '%s' has no verdicts", c.name)
	}
	step := c.steps[0]
	if len(c.steps) > 1 {
		c.steps = c.steps[1:]
	}
	if step.err != nil {
		return nil, step.err
	}
	verdict := *step.verdict
	return &verdict, nil
}

func (c *ScriptedClassifier) Close() error { return nil }

// Calls returns every classification request seen so far.
func (c *ScriptedClassifier) Calls() []ai.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ai.Request(nil), c.calls...)
}

// StaticClassifiers resolves providers from a fixed table. Default covers
// the empty provider; entries in ByProvider win for their name.
type StaticClassifiers struct {
	Default    ai.Classifier
	ByProvider map[string]ai.Classifier
}

func (s StaticClassifiers) ClassifierFor(provider string) (ai.Classifier, error) {
	if c, ok := s.ByProvider[provider]; ok {
		return c, nil
	}
	if s.Default != nil {
		return s.Default, nil
	}
	return nil, fmt.Errorf("no classifier configured for provider '%s'", provider)
}

// SearchCall records one knowledge lookup.
type SearchCall struct {
	BaseID   string
	Query    string
	TopK     int
	MinScore float64
}

// ScriptedSearcher answers knowledge lookups from a script, repeating the
// last step once exhausted.
type ScriptedSearcher struct {
	mu    sync.Mutex
	steps []searchStep
	calls []SearchCall
}

type searchStep struct {
	result *knowledge.Result
	err    error
}

func NewScriptedSearcher() *ScriptedSearcher {
	return &ScriptedSearcher{}
}

// Returns appends a search result to the script.
func (s *ScriptedSearcher) Returns(result *knowledge.Result) *ScriptedSearcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, searchStep{result: result})
	return s
}

// Fails appends a search error to the script.
func (s *ScriptedSearcher) Fails(err error) *ScriptedSearcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, searchStep{err: err})
	return s
}

func (s *ScriptedSearcher) Search(ctx context.Context, knowledgeBaseID, query string, topK int, minScore float64) (*knowledge.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, SearchCall{BaseID: knowledgeBaseID, Query: query, TopK: topK, MinScore: minScore})
	if len(s.steps) == 0 {
		return nil, fmt.Errorf("scripted searcher has no results")
	}
	step := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	return step.result, step.err
}

// Calls returns every lookup seen so far.
func (s *ScriptedSearcher) Calls() []SearchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SearchCall(nil), s.calls...)
}

// GroundedResult builds a single-source grounded result, the common case
// in knowledge node tests.
func GroundedResult(answer string, score float64) *knowledge.Result {
	return &knowledge.Result{
		Results:    []knowledge.Document{{Content: answer, Score: score}},
		Answer:     answer,
		Confidence: score,
		Grounded:   true,
	}
}

// ToolCall records one tool execution.
type ToolCall struct {
	ToolID  string
	Inputs  map[string]any
	Timeout time.Duration
}

// ScriptedToolRunner executes tool calls from a script, repeating the last
// step once exhausted. Failure steps distinguish tool-level failures
// (Result.Success false) from transport errors, matching how the runtime
// treats the two.
type ScriptedToolRunner struct {
	mu    sync.Mutex
	steps []toolStep
	calls []ToolCall
}

type toolStep struct {
	result *tool.Result
	err    error
}

func NewScriptedToolRunner() *ScriptedToolRunner {
	return &ScriptedToolRunner{}
}

// Succeeds appends a successful execution with the given output.
func (r *ScriptedToolRunner) Succeeds(output any) *ScriptedToolRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, toolStep{result: &tool.Result{Success: true, Output: output}})
	return r
}

// FailsWith appends a tool-level failure result.
func (r *ScriptedToolRunner) FailsWith(message string) *ScriptedToolRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, toolStep{result: &tool.Result{Success: false, Error: message}})
	return r
}

// Errors appends a transport-level error.
func (r *ScriptedToolRunner) Errors(err error) *ScriptedToolRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, toolStep{err: err})
	return r
}

func (r *ScriptedToolRunner) Execute(ctx context.Context, decl *flow.Tool, inputs map[string]any, timeout time.Duration) (*tool.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := ToolCall{Timeout: timeout}
	if decl != nil {
		call.ToolID = decl.ID
	}
	if inputs != nil {
		call.Inputs = make(map[string]any, len(inputs))
		for k, v := range inputs {
			call.Inputs[k] = v
		}
	}
	r.calls = append(r.calls, call)

	if len(r.steps) == 0 {
		return nil, fmt.Errorf("scripted tool runner has no steps")
	}
	step := r.steps[0]
	if len(r.steps) > 1 {
		r.steps = r.steps[1:]
	}
	return step.result, step.err
}

// Calls returns every execution seen so far.
func (r *ScriptedToolRunner) Calls() []ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ToolCall(nil), r.calls...)
}
