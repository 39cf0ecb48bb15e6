package flow

import (
	"testing"
)

const orderFlowJSON = `{
  "version": "1.0",
  "id": "order-support",
  "name": "Order Support",
  "entryNode": "start",
  "nodes": [
    {"id": "start", "type": "start", "config": {"welcomeMessage": "Hi {{customer_name}}!"}},
    {"id": "ask-order", "type": "collect_input", "config": {
      "prompt": "What is your order number?",
      "variableName": "order_number",
      "validation": {"type": "regex", "pattern": "^ORD-[0-9]+$"},
      "retry": {"maxAttempts": 3, "retryMessage": "Order numbers look like ORD-12345."}
    }},
    {"id": "lookup", "type": "tool_call", "config": {
      "toolId": "order-lookup",
      "inputs": {"orderNumber": "{{order_number}}"},
      "resultVariable": "order",
      "onError": {"action": "continue"}
    }},
    {"id": "check", "type": "condition", "config": {
      "conditions": [
        {"id": "c1", "variable": "order.status", "operator": "equals", "value": "shipped", "targetNodeId": "shipped"}
      ],
      "defaultNodeId": "pending"
    }},
    {"id": "shipped", "type": "message", "config": {"message": "Your order is on its way."}},
    {"id": "pending", "type": "message", "config": {"message": "Your order is still being prepared."}},
    {"id": "done", "type": "end", "config": {"status": "completed"}}
  ],
  "edges": [
    {"id": "e1", "source": "start", "target": "ask-order"},
    {"id": "e2", "source": "ask-order", "target": "lookup"},
    {"id": "e3", "source": "lookup", "target": "check"},
    {"id": "e4", "source": "shipped", "target": "done"},
    {"id": "e5", "source": "pending", "target": "done"}
  ],
  "variables": [
    {"name": "customer_name", "type": "string", "defaultValue": "there"},
    {"name": "order_number", "type": "string"}
  ],
  "tools": [
    {"id": "order-lookup", "type": "http", "config": {"url": "https://api.example.com/orders/{{order_number}}"}}
  ],
  "metadata": {"createdAt": "2025-06-01T12:00:00Z", "updatedAt": "2025-06-02T08:30:00Z", "channel": "web"}
}`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(orderFlowJSON))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if f.ID != "order-support" {
		t.Errorf("expected flow id 'order-support', got %q", f.ID)
	}
	if f.EntryNode != "start" {
		t.Errorf("expected entry node 'start', got %q", f.EntryNode)
	}
	if len(f.Nodes) != 7 {
		t.Errorf("expected 7 nodes, got %d", len(f.Nodes))
	}
	if len(f.Edges) != 5 {
		t.Errorf("expected 5 edges, got %d", len(f.Edges))
	}
	if f.Metadata == nil || f.Metadata.Channel != "web" {
		t.Errorf("expected metadata channel 'web', got %+v", f.Metadata)
	}
}

func TestParseYAML(t *testing.T) {
	data := `
version: "1.0"
id: greeting
name: Greeting
entryNode: start
nodes:
  - id: start
    type: start
  - id: hello
    type: message
    config:
      message: "Hello!"
edges:
  - id: e1
    source: start
    target: hello
`
	f, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if f.ID != "greeting" {
		t.Errorf("expected flow id 'greeting', got %q", f.ID)
	}
	node, ok := f.NodeByID("hello")
	if !ok {
		t.Fatal("expected node 'hello' to exist")
	}
	if node.Type != KindMessage {
		t.Errorf("expected message node, got %q", node.Type)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad version", `{"version": "2.0", "id": "f", "entryNode": "a", "nodes": [], "edges": []}`},
		{"missing id", `{"version": "1.0", "entryNode": "a", "nodes": [], "edges": []}`},
		{"duplicate node id", `{"version": "1.0", "id": "f", "entryNode": "a",
			"nodes": [{"id": "a", "type": "start"}, {"id": "a", "type": "end"}], "edges": []}`},
		{"duplicate edge id", `{"version": "1.0", "id": "f", "entryNode": "a",
			"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "end"}],
			"edges": [{"id": "e", "source": "a", "target": "b"}, {"id": "e", "source": "a", "target": "b"}]}`},
		{"not a flow", `[1, 2, 3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected parse error, got nil")
			}
		})
	}
}

func TestNodeLookup(t *testing.T) {
	f, err := Parse([]byte(orderFlowJSON))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	node, ok := f.NodeByID("lookup")
	if !ok {
		t.Fatal("expected node 'lookup' to exist")
	}
	if node.Type != KindToolCall {
		t.Errorf("expected tool_call, got %q", node.Type)
	}

	if _, ok := f.NodeByID("missing"); ok {
		t.Error("expected lookup of missing node to fail")
	}
}

func TestOutgoingEdges(t *testing.T) {
	f, err := Parse([]byte(orderFlowJSON))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	edges := f.OutgoingEdges("start")
	if len(edges) != 1 {
		t.Fatalf("expected 1 outgoing edge from start, got %d", len(edges))
	}
	if edges[0].Target != "ask-order" {
		t.Errorf("expected edge target 'ask-order', got %q", edges[0].Target)
	}

	if edges := f.OutgoingEdges("done"); len(edges) != 0 {
		t.Errorf("expected no outgoing edges from done, got %d", len(edges))
	}
}

func TestToolByID(t *testing.T) {
	f, err := Parse([]byte(orderFlowJSON))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	tool, ok := f.ToolByID("order-lookup")
	if !ok {
		t.Fatal("expected tool 'order-lookup' to exist")
	}
	if tool.Type != "http" {
		t.Errorf("expected http tool, got %q", tool.Type)
	}

	if _, ok := f.ToolByID("missing"); ok {
		t.Error("expected lookup of missing tool to fail")
	}
}

func TestDefaultVariables(t *testing.T) {
	f, err := Parse([]byte(orderFlowJSON))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	vars := f.DefaultVariables()
	if vars["customer_name"] != "there" {
		t.Errorf("expected customer_name default 'there', got %v", vars["customer_name"])
	}
	if _, ok := vars["order_number"]; ok {
		t.Error("variable without default should not be materialised")
	}
}

func TestParseAll(t *testing.T) {
	bundle := `{"flows": [
		{"version": "1.0", "id": "a", "entryNode": "s", "nodes": [{"id": "s", "type": "start"}], "edges": []},
		{"version": "1.0", "id": "b", "entryNode": "s", "nodes": [{"id": "s", "type": "start"}], "edges": []}
	]}`

	flows, err := ParseAll([]byte(bundle))
	if err != nil {
		t.Fatalf("ParseAll failed: %v", err)
	}
	if len(flows) != 2 {
		t.Fatalf("expected 2 flows, got %d", len(flows))
	}
	if flows[0].ID != "a" || flows[1].ID != "b" {
		t.Errorf("unexpected flow ids: %s, %s", flows[0].ID, flows[1].ID)
	}

	single, err := ParseAll([]byte(orderFlowJSON))
	if err != nil {
		t.Fatalf("ParseAll single failed: %v", err)
	}
	if len(single) != 1 {
		t.Fatalf("expected 1 flow, got %d", len(single))
	}
}
