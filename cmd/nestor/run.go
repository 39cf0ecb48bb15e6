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

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/kadirpekel/nestor/pkg/events"
	"github.com/kadirpekel/nestor/pkg/flow"
	"github.com/kadirpekel/nestor/pkg/runtime"
	"github.com/kadirpekel/nestor/pkg/session"
)

// RunCmd drives a single flow from the terminal. Sessions live in
// memory: the command is for authoring and debugging flows, not for
// serving traffic.
type RunCmd struct {
	Flow string `arg:"" help:"Flow definition file (JSON or YAML)." type:"path"`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.Flow)
	if err != nil {
		return fmt.Errorf("failed to read flow file: %w", err)
	}
	f, err := flow.Parse(data)
	if err != nil {
		return err
	}
	if !printLintErrors(f) {
		return fmt.Errorf("flow %q has validation errors", f.ID)
	}

	services, closeServices, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeServices()

	engine := runtime.NewEngine(
		runtime.WithServices(services),
		runtime.WithMaxSteps(cfg.Runtime.MaxSteps),
		runtime.WithDefaultToolTimeout(cfg.Runtime.DefaultToolTimeout),
	)
	defer func() { _ = engine.Close() }()

	// The conversation renders from the event stream, so messages show
	// up in order even when one turn crosses several nodes.
	sub := engine.Subscribe(printConversationEvent)
	defer sub.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		name := f.Name
		if name == "" {
			name = f.ID
		}
		fmt.Printf("💬 %s\n", name)
		fmt.Println("Type /quit to leave, /vars to inspect session variables.")
		fmt.Println()
	}

	sess, err := engine.StartSession(ctx, f)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	for sess.Status == session.StatusWaitingInput {
		if interactive {
			fmt.Print("You: ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := runCommand(input, sess); quit {
				fmt.Println("👋 Bye")
				return nil
			}
			continue
		}

		sess, err = engine.ProcessInput(ctx, f, sess.ID, input)
		if err != nil {
			return err
		}
	}

	printOutcome(sess)
	return nil
}

// printLintErrors reports lint errors to stderr and returns false when
// the flow cannot run. Warnings print but do not block.
func printLintErrors(f *flow.Flow) bool {
	ok := true
	for _, issue := range flow.Lint(f) {
		fmt.Fprintf(os.Stderr, "  %s\n", issue)
		if issue.Severity == flow.SeverityError {
			ok = false
		}
	}
	return ok
}

// printConversationEvent renders the bot side of the conversation.
func printConversationEvent(e events.Event) {
	switch e.Type {
	case events.MessageSent:
		if msg, ok := e.Data["message"].(string); ok && msg != "" {
			fmt.Printf("Bot: %s\n", msg)
		}
	case events.NodeError:
		code, _ := e.Data["code"].(string)
		msg, _ := e.Data["message"].(string)
		fmt.Printf("❌ %s: %s\n", code, msg)
	}
}

// runCommand executes a slash command. It reports whether the REPL
// should exit.
func runCommand(input string, sess *session.Session) bool {
	switch input {
	case "/quit", "/exit":
		return true
	case "/vars":
		if len(sess.Variables) == 0 {
			fmt.Println("(no variables set)")
			return false
		}
		keys := make([]string, 0, len(sess.Variables))
		for k := range sess.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s = %v\n", k, sess.Variables[k])
		}
	default:
		fmt.Printf("Unknown command %q (try /quit or /vars)\n", input)
	}
	return false
}

// printOutcome summarizes how the session ended.
func printOutcome(sess *session.Session) {
	fmt.Println()
	switch sess.Status {
	case session.StatusCompleted:
		fmt.Println("✅ Session completed")
	case session.StatusEscalated:
		fmt.Println("📞 Session escalated to a human agent")
	case session.StatusError:
		fmt.Println("❌ Session failed")
		if step, ok := sess.LastStep(); ok && step.Error != nil {
			fmt.Printf("   %s: %s\n", step.Error.Code, step.Error.Message)
		}
	}
}
