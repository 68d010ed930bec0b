package codereview

import (
	"context"
	"fmt"

	"github.com/smallnest/workflowgo/graph"
)

type suggestionTemplate struct {
	action   string
	impact   int
	category string
}

var suggestionTemplates = map[string]suggestionTemplate{
	"missing_doc_comment": {
		action:   "Add a doc comment describing the function's purpose, parameters, and return value",
		impact:   5,
		category: "documentation",
	},
	"too_many_params": {
		action:   "Consider an options struct or breaking down the function",
		impact:   8,
		category: "design",
	},
	"long_function": {
		action:   "Refactor into smaller, focused functions with single responsibilities",
		impact:   10,
		category: "design",
	},
	"high_complexity": {
		action:   "Simplify control flow, extract helpers, or use early returns",
		impact:   12,
		category: "design",
	},
	"long_line": {
		action:   "Break long lines using intermediate variables or reformatting",
		impact:   2,
		category: "style",
	},
	"todo_comment": {
		action:   "Address the TODO item or create a tracked issue",
		impact:   4,
		category: "maintenance",
	},
}

// SuggestImprovements turns open issues into suggestions and marks a
// growing slice of them applied each iteration, so repeated loop passes
// converge on a better score.
func SuggestImprovements(_ context.Context, state *graph.WorkflowState) (*graph.WorkflowState, error) {
	issues := ctxSlice(state, "issues")
	iteration := ctxInt(state, "improvement_iteration", 0)
	applied := ctxSlice(state, "applied_suggestions")

	appliedSet := make(map[string]struct{}, len(applied))
	for _, a := range applied {
		if key, ok := a.(string); ok {
			appliedSet[key] = struct{}{}
		}
	}

	suggestions := make([]any, 0)
	seenTypes := make(map[string]struct{})
	for _, i := range issues {
		issue := asMap(i)
		if issue == nil {
			continue
		}
		issueType := mapString(issue, "type")
		key := suggestionKey(issueType, mapString(issue, "function"), mapInt(issue, "line"))
		if _, done := appliedSet[key]; done {
			continue
		}
		if _, seen := seenTypes[issueType]; seen {
			continue
		}
		seenTypes[issueType] = struct{}{}

		template, ok := suggestionTemplates[issueType]
		if !ok {
			template = suggestionTemplate{
				action:   fmt.Sprintf("Review and address the %s issue", issueType),
				impact:   3,
				category: "general",
			}
		}
		suggestions = append(suggestions, map[string]any{
			"id":             fmt.Sprintf("suggestion_%d_%d", len(suggestions)+1, iteration),
			"issue_type":     issueType,
			"function":       mapString(issue, "function"),
			"line":           mapInt(issue, "line"),
			"action":         template.action,
			"impact":         template.impact,
			"category":       template.category,
			"original_issue": mapString(issue, "message"),
		})
	}

	// Apply more suggestions each pass to model gradual improvement.
	toApply := 2 + iteration
	if toApply > len(suggestions) {
		toApply = len(suggestions)
	}
	newlyApplied := make([]any, 0, toApply)
	totalImpact := 0
	for idx, s := range suggestions {
		suggestion := asMap(s)
		if idx < toApply {
			key := suggestionKey(mapString(suggestion, "issue_type"),
				mapString(suggestion, "function"), mapInt(suggestion, "line"))
			if _, done := appliedSet[key]; !done {
				newlyApplied = append(newlyApplied, key)
				suggestion["applied"] = true
				totalImpact += mapInt(suggestion, "impact")
				continue
			}
		}
		suggestion["applied"] = false
	}

	state.Set("suggestions", suggestions)
	state.Set("suggestion_count", len(suggestions))
	state.Set("applied_suggestions", append(applied, newlyApplied...))
	state.Set("improvement_iteration", iteration+1)
	state.Set("newly_applied_count", len(newlyApplied))
	state.Set("iteration_impact", totalImpact)

	state.Record("suggest_improvements",
		fmt.Sprintf("Iteration %d: Generated %d suggestion(s), applied %d",
			iteration+1, len(suggestions), len(newlyApplied)),
		map[string]any{
			"iteration":     iteration + 1,
			"suggestions":   suggestions,
			"newly_applied": newlyApplied,
			"total_impact":  totalImpact,
		})
	return state, nil
}

func suggestionKey(issueType, function string, line int) string {
	return fmt.Sprintf("%s:%s:%d", issueType, function, line)
}
