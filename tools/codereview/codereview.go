// Package codereview provides a rule-based code review tool pack for
// workflow graphs: extracting functions from Go source, scoring their
// complexity, detecting common issues, suggesting improvements over
// iterations, and grading overall quality against a threshold.
package codereview

import (
	"github.com/smallnest/workflowgo/graph"
	"github.com/smallnest/workflowgo/tool"
)

// DefaultThreshold is the quality score a review must reach when the
// caller does not set one.
const DefaultThreshold = 70

// Register installs the review tools under their callable names.
func Register(registry *tool.Registry) error {
	tools := []struct {
		name string
		fn   graph.ToolFunc
	}{
		{"extract_functions", ExtractFunctions},
		{"check_complexity", CheckComplexity},
		{"detect_basic_issues", DetectBasicIssues},
		{"suggest_improvements", SuggestImprovements},
		{"evaluate_quality", EvaluateQuality},
	}
	for _, t := range tools {
		if registry.Has(t.name) {
			continue
		}
		if err := registry.Register(t.name, t.fn); err != nil {
			return err
		}
	}
	return nil
}

// --- context helpers ---

func ctxString(state *graph.WorkflowState, key string) string {
	if v, ok := state.Context[key].(string); ok {
		return v
	}
	return ""
}

func ctxSlice(state *graph.WorkflowState, key string) []any {
	if v, ok := state.Context[key].([]any); ok {
		return v
	}
	return nil
}

func ctxInt(state *graph.WorkflowState, key string, fallback int) int {
	switch v := state.Context[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func ctxFloat(state *graph.WorkflowState, key string, fallback float64) float64 {
	switch v := state.Context[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return fallback
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func mapString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func mapInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func mapBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
