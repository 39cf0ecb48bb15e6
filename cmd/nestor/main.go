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

// Command nestor is the CLI for the Nestor flow runtime.
//
// Usage:
//
//	nestor serve --config config.yaml
//	nestor serve --flows ./flows --port 8080
//	nestor run examples/greeter.yaml
//	nestor validate ./flows
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/nestor"
	"github.com/kadirpekel/nestor/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the flow runtime HTTP server."`
	Run      RunCmd      `cmd:"" help:"Run a flow interactively in the terminal."`
	Validate ValidateCmd `cmd:"" help:"Validate flow definition files."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for flow definitions."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log destination (stdout, stderr, or a file path; empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := nestor.GetVersion()
	// Module builds know their own version; prefer it over the compiled-in
	// constant when available.
	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "(devel)" && bi.Main.Version != "" {
			info.Version = bi.Main.Version
		}
	}
	fmt.Println(info)
	return nil
}

// printBanner prints a colored ASCII banner using nestor-indigo (#6366f1)
func printBanner() {
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			// Not a terminal, skip banner
			return
		}
	} else {
		return
	}

	// Indigo color: #6366f1 = RGB(99, 102, 241)
	// Use ANSI RGB color mode: \033[38;2;R;G;Bm
	indigoColor := "\033[38;2;99;102;241m"
	resetColor := "\033[0m"

	banner := `
███╗   ██╗███████╗███████╗████████╗ ██████╗ ██████╗
████╗  ██║██╔════╝██╔════╝╚══██╔══╝██╔═══██╗██╔══██╗
██╔██╗ ██║█████╗  ███████╗   ██║   ██║   ██║██████╔╝
██║╚██╗██║██╔══╝  ╚════██║   ██║   ██║   ██║██╔══██╗
██║ ╚████║███████╗███████║   ██║   ╚██████╔╝██║  ██║
╚═╝  ╚═══╝╚══════╝╚══════╝   ╚═╝    ╚═════╝ ╚═╝  ╚═╝
`
	fmt.Printf("%s%s%s\n", indigoColor, banner, resetColor)
}

// shouldSkipBanner checks if command should skip banner.
// "validate", "schema" and "version" are informational commands whose
// output may be piped or parsed, so they stay banner-free.
func shouldSkipBanner(args []string) bool {
	if len(args) < 2 {
		return false
	}

	for _, arg := range args {
		if arg == "validate" || arg == "schema" || arg == "version" {
			return true
		}
	}
	return false
}

func main() {
	// Skip banner for informational commands (validate, schema, version)
	if !shouldSkipBanner(os.Args) {
		printBanner()
	}

	config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("nestor"),
		kong.Description("Nestor - Conversational flow runtime"),
		kong.UsageOnError(),
	)

	// Initialize logger with CLI flags/env vars (before config loading)
	// Config file logger settings will be applied later if no CLI/env overrides
	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
