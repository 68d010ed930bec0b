package codereview

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/smallnest/workflowgo/graph"
)

const (
	maxParams       = 5
	maxFunctionLine = 50
	maxLineLength   = 100
	maxComplexity   = 10
)

var todoPattern = regexp.MustCompile(`(?i)//\s*(TODO|FIXME|XXX|HACK)[\s:]+(.+)`)

// DetectBasicIssues inspects the extracted functions and raw source for
// common problems, categorized by severity. It also seeds the improvement
// tracking keys used by later review stages.
func DetectBasicIssues(_ context.Context, state *graph.WorkflowState) (*graph.WorkflowState, error) {
	functions := ctxSlice(state, "functions")
	code := ctxString(state, "code")
	complexityResults := ctxSlice(state, "complexity")

	complexityByName := make(map[string]int, len(complexityResults))
	for _, c := range complexityResults {
		if m := asMap(c); m != nil {
			complexityByName[mapString(m, "name")] = mapInt(m, "complexity")
		}
	}

	issues := make([]any, 0)
	addIssue := func(issueType, function string, line int, severity, message string) {
		issue := map[string]any{
			"type":     issueType,
			"line":     line,
			"severity": severity,
			"message":  message,
		}
		if function != "" {
			issue["function"] = function
		}
		issues = append(issues, issue)
	}

	for _, f := range functions {
		fn := asMap(f)
		if fn == nil {
			continue
		}
		name := mapString(fn, "name")
		line := mapInt(fn, "line")

		if !mapBool(fn, "has_doc") {
			addIssue("missing_doc_comment", name, line, "warning",
				fmt.Sprintf("Function '%s' is missing a doc comment", name))
		}
		if count := mapInt(fn, "param_count"); count > maxParams {
			addIssue("too_many_params", name, line, "warning",
				fmt.Sprintf("Function '%s' has %d parameters (recommended: <= %d)", name, count, maxParams))
		}
		if count := mapInt(fn, "line_count"); count > maxFunctionLine {
			addIssue("long_function", name, line, "warning",
				fmt.Sprintf("Function '%s' is %d lines long (recommended: <= %d)", name, count, maxFunctionLine))
		}
		if complexity := complexityByName[name]; complexity > maxComplexity {
			addIssue("high_complexity", name, line, "error",
				fmt.Sprintf("Function '%s' has complexity %d (recommended: <= %d)", name, complexity, maxComplexity))
		}
	}

	longLines := 0
	for i, line := range strings.Split(code, "\n") {
		if len(line) > maxLineLength {
			longLines++
			if longLines <= 5 {
				addIssue("long_line", "", i+1, "info",
					fmt.Sprintf("Line %d exceeds %d characters (%d chars)", i+1, maxLineLength, len(line)))
			}
		}
	}

	for _, match := range todoPattern.FindAllStringSubmatchIndex(code, -1) {
		line := strings.Count(code[:match[0]], "\n") + 1
		tag := strings.ToUpper(code[match[2]:match[3]])
		note := strings.TrimSpace(code[match[4]:match[5]])
		if len(note) > 50 {
			note = note[:50]
		}
		addIssue("todo_comment", "", line, "info",
			fmt.Sprintf("%s found at line %d: %s", tag, line, note))
	}

	counts := map[string]any{"error": 0, "warning": 0, "info": 0}
	for _, i := range issues {
		severity := mapString(asMap(i), "severity")
		counts[severity] = mapInt(counts, severity) + 1
	}

	state.Set("issues", issues)
	state.Set("issue_count", len(issues))
	state.Set("issue_counts", counts)

	if _, ok := state.Context["improvement_iteration"]; !ok {
		state.Set("improvement_iteration", 0)
	}
	if _, ok := state.Context["applied_suggestions"]; !ok {
		state.Set("applied_suggestions", []any{})
	}
	if _, ok := state.Context["threshold"]; !ok {
		state.Set("threshold", DefaultThreshold)
	}

	state.Record("detect_basic_issues",
		fmt.Sprintf("Detected %d issue(s): %d errors, %d warnings, %d info",
			len(issues), mapInt(counts, "error"), mapInt(counts, "warning"), mapInt(counts, "info")),
		map[string]any{"issue_counts": counts, "issues": issues})
	return state, nil
}
