// Package nestor provides a declarative conversational flow runtime.
//
// Nestor executes typed node graphs ("flows") against resumable
// sessions. A flow is authored as JSON or YAML, visually or by hand,
// and describes a conversation: messages, input collection, intent
// routing, conditions, knowledge base search, tool calls and terminal
// outcomes. The runtime advances one session through the graph turn by
// turn, persisting everything it needs to resume between turns, so a
// conversation survives process restarts and horizontal scaling.
//
// # Quick Start
//
// Install Nestor:
//
//	go install github.com/kadirpekel/nestor/cmd/nestor@latest
//
// Create a flow definition:
//
//	version: "1.0"
//	id: greeter
//	name: Greeter
//	entryNode: start
//	nodes:
//	  - id: start
//	    type: start
//	    config:
//	      welcomeMessage: "Hello!"
//	  - id: ask
//	    type: collect_input
//	    config:
//	      variableName: name
//	      prompt: "Who are you?"
//	  - id: bye
//	    type: message
//	    config:
//	      text: "Nice to meet you, {{name}}."
//	  - id: done
//	    type: end
//	edges:
//	  - { id: e1, source: start, target: ask }
//	  - { id: e2, source: ask, target: bye }
//	  - { id: e3, source: bye, target: done }
//
// Try it in the terminal, or serve it over HTTP:
//
//	nestor run greeter.yaml
//	nestor serve --flows ./flows
//
// # Using as Go Library
//
// Import the packages you need:
//
//	import (
//	    "github.com/kadirpekel/nestor/pkg/flow"
//	    "github.com/kadirpekel/nestor/pkg/runtime"
//	)
//
//	f, err := flow.Parse(data)
//	engine := runtime.NewEngine()
//	sess, err := engine.StartSession(ctx, f)
//	sess, err = engine.ProcessInput(ctx, f, sess.ID, "Ada")
//
// # Key Features
//
//   - Declarative flows: complete conversations without code
//   - Resumable sessions: in-memory, SQL or Redis persistence
//   - Pluggable services: intent classifiers, knowledge bases, tools
//   - Flow sources: files, Consul, etcd or ZooKeeper, with hot reload
//   - HTTP API with server-sent event streams per session
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Architecture
//
// The engine is a small interpreter over the flow graph:
//
//	Client -> HTTP API -> Engine -> Node Handlers -> Services
//
// Node handlers are pure with respect to process state; everything a
// later turn needs lives in the session document.
//
// # Alpha Status
//
// Nestor is currently in alpha development. APIs may change, and some
// features are experimental. We welcome feedback and contributions!
package nestor
