package codereview

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/smallnest/workflowgo/graph"
)

var funcPattern = regexp.MustCompile(
	`(?m)^func\s*(?:\((?P<recv>[^)]*)\)\s*)?(?P<name>\w+)\s*\((?P<params>[^)]*)\)\s*(?P<results>[^{]*)\{`)

// ExtractFunctions scans context["code"] for Go function declarations and
// stores their metadata under context["functions"].
func ExtractFunctions(_ context.Context, state *graph.WorkflowState) (*graph.WorkflowState, error) {
	code := ctxString(state, "code")
	lines := strings.Split(code, "\n")

	functions := make([]any, 0)
	names := make([]any, 0)

	for _, match := range funcPattern.FindAllStringSubmatchIndex(code, -1) {
		groups := extractGroups(code, match)
		name := groups["name"]
		lineNum := strings.Count(code[:match[0]], "\n") + 1

		body, lineCount := functionBody(lines, lineNum-1)
		params := parseParams(groups["params"])
		results := strings.TrimSpace(groups["results"])

		fn := map[string]any{
			"name":        name,
			"line":        lineNum,
			"receiver":    strings.TrimSpace(groups["recv"]),
			"params":      params,
			"param_count": len(params),
			"results":     results,
			"has_doc":     hasDocComment(lines, lineNum-1),
			"body":        body,
			"line_count":  lineCount,
		}
		functions = append(functions, fn)
		names = append(names, name)
	}

	state.Set("functions", functions)
	state.Set("function_count", len(functions))
	state.Record("extract_functions",
		fmt.Sprintf("Extracted %d function(s) from source code", len(functions)),
		map[string]any{"function_names": names})
	return state, nil
}

func extractGroups(code string, match []int) map[string]string {
	groups := make(map[string]string)
	for i, name := range funcPattern.SubexpNames() {
		if name == "" || 2*i+1 >= len(match) || match[2*i] < 0 {
			continue
		}
		groups[name] = code[match[2*i]:match[2*i+1]]
	}
	return groups
}

// functionBody collects lines from the declaration until the closing
// brace at column zero, the usual shape of a top-level Go function.
func functionBody(lines []string, start int) (string, int) {
	if start < 0 || start >= len(lines) {
		return "", 0
	}
	body := []string{lines[start]}
	for i := start + 1; i < len(lines); i++ {
		body = append(body, lines[i])
		if strings.HasPrefix(lines[i], "}") {
			break
		}
	}
	return strings.Join(body, "\n"), len(body)
}

func hasDocComment(lines []string, declLine int) bool {
	if declLine <= 0 {
		return false
	}
	prev := strings.TrimSpace(lines[declLine-1])
	return strings.HasPrefix(prev, "//")
}

func parseParams(raw string) []any {
	params := make([]any, 0)
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			params = append(params, p)
		}
	}
	return params
}
