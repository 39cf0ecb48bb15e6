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
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kadirpekel/nestor/pkg/flow"
)

// ValidateCmd parses and lints flow definition files without running
// them.
type ValidateCmd struct {
	// Paths are the flow files or directories to check (positional)
	Paths []string `arg:"" name:"path" help:"Flow files or directories." type:"path" placeholder:"PATH"`

	// Format specifies the output format
	Format string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`

	// Strict promotes lint warnings to errors
	Strict bool `help:"Treat lint warnings as errors."`
}

// Run executes the validate command.
func (c *ValidateCmd) Run(cli *CLI) error {
	files, err := collectFlowFiles(c.Paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no flow files found under %s", strings.Join(c.Paths, ", "))
	}

	valid := true
	reports := make([]fileReport, 0, len(files))
	for _, file := range files {
		report := validateFlowFile(file, c.Strict)
		if !report.Valid {
			valid = false
		}
		reports = append(reports, report)
	}

	switch c.Format {
	case "json":
		printJSONReports(valid, reports)
	case "verbose":
		printVerboseReports(reports)
	default: // compact
		printCompactReports(reports)
	}

	if !valid {
		return fmt.Errorf("validation failed")
	}
	return nil
}

// collectFlowFiles expands the given paths: directories are walked for
// flow definition files, plain files pass through as-is.
func collectFlowFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(p)) {
			case ".json", ".yaml", ".yml":
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

// validateFlowFile parses and lints one file. A parse failure fails the
// whole file; lint errors (and, in strict mode, warnings) fail the flow
// they belong to.
func validateFlowFile(file string, strict bool) fileReport {
	report := fileReport{File: file, Valid: true}

	data, err := os.ReadFile(file)
	if err != nil {
		report.Valid = false
		report.Error = err.Error()
		return report
	}

	flows, err := flow.ParseAll(data)
	if err != nil {
		report.Valid = false
		report.Error = err.Error()
		return report
	}

	for _, f := range flows {
		fr := flowReport{ID: f.ID, Name: f.Name, Nodes: len(f.Nodes), Edges: len(f.Edges)}
		for _, issue := range flow.Lint(f) {
			fr.Issues = append(fr.Issues, lintIssue{
				Severity: string(issue.Severity),
				NodeID:   issue.NodeID,
				Message:  issue.Message,
			})
			if issue.Severity == flow.SeverityError || strict {
				report.Valid = false
			}
		}
		report.Flows = append(report.Flows, fr)
	}
	return report
}

// lintIssue is one lint finding in JSON output.
type lintIssue struct {
	Severity string `json:"severity"`
	NodeID   string `json:"nodeId,omitempty"`
	Message  string `json:"message"`
}

func (i lintIssue) String() string {
	if i.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", i.Severity, i.NodeID, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Severity, i.Message)
}

// flowReport is the validation result for one flow.
type flowReport struct {
	ID     string      `json:"id"`
	Name   string      `json:"name,omitempty"`
	Nodes  int         `json:"nodes"`
	Edges  int         `json:"edges"`
	Issues []lintIssue `json:"issues,omitempty"`
}

// fileReport is the validation result for one file.
type fileReport struct {
	File  string       `json:"file"`
	Valid bool         `json:"valid"`
	Error string       `json:"error,omitempty"`
	Flows []flowReport `json:"flows,omitempty"`
}

// printCompactReports prints one line per file plus any findings.
func printCompactReports(reports []fileReport) {
	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(os.Stderr, "❌ %s: %s\n", r.File, r.Error)
			continue
		}
		mark := "✅"
		if !r.Valid {
			mark = "❌"
		}
		fmt.Fprintf(os.Stdout, "%s %s: %d flow(s)\n", mark, r.File, len(r.Flows))
		for _, fr := range r.Flows {
			for _, issue := range fr.Issues {
				fmt.Fprintf(os.Stdout, "   %s: %s\n", fr.ID, issue)
			}
		}
	}
}

// printVerboseReports prints per-flow details.
func printVerboseReports(reports []fileReport) {
	for _, r := range reports {
		fmt.Fprintf(os.Stdout, "File: %s\n", r.File)
		if r.Error != "" {
			fmt.Fprintf(os.Stdout, "  Error: %s\n", r.Error)
			continue
		}
		for _, fr := range r.Flows {
			name := fr.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(os.Stdout, "  Flow: %s (%s)\n", fr.ID, name)
			fmt.Fprintf(os.Stdout, "    Nodes: %d, Edges: %d\n", fr.Nodes, fr.Edges)
			if len(fr.Issues) == 0 {
				fmt.Fprintf(os.Stdout, "    Status: valid\n")
				continue
			}
			for _, issue := range fr.Issues {
				fmt.Fprintf(os.Stdout, "    %s\n", issue)
			}
		}
	}
}

// printJSONReports prints the machine-readable result.
func printJSONReports(valid bool, reports []fileReport) {
	output := struct {
		Valid bool         `json:"valid"`
		Files []fileReport `json:"files"`
	}{Valid: valid, Files: reports}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}
