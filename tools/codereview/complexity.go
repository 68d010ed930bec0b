package codereview

import (
	"context"
	"fmt"
	"math"
	"regexp"

	"github.com/smallnest/workflowgo/graph"
)

// complexityPatterns are the control-flow markers that raise a function's
// cyclomatic estimate, each counted per occurrence.
var complexityPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"if", regexp.MustCompile(`\bif\b`)},
	{"else", regexp.MustCompile(`\belse\b`)},
	{"for", regexp.MustCompile(`\bfor\b`)},
	{"switch", regexp.MustCompile(`\bswitch\b`)},
	{"case", regexp.MustCompile(`\bcase\b`)},
	{"select", regexp.MustCompile(`\bselect\b`)},
	{"and", regexp.MustCompile(`&&`)},
	{"or", regexp.MustCompile(`\|\|`)},
	{"return", regexp.MustCompile(`\breturn\b`)},
}

// CheckComplexity estimates cyclomatic complexity for each extracted
// function and records per-function and aggregate results.
func CheckComplexity(_ context.Context, state *graph.WorkflowState) (*graph.WorkflowState, error) {
	functions := ctxSlice(state, "functions")

	results := make([]any, 0, len(functions))
	highComplexity := make([]any, 0)
	total := 0

	for _, f := range functions {
		fn := asMap(f)
		if fn == nil {
			continue
		}
		body := mapString(fn, "body")
		complexity := 1
		breakdown := make(map[string]any)
		for _, cp := range complexityPatterns {
			count := len(cp.pattern.FindAllString(body, -1))
			if count > 0 {
				complexity += count
				breakdown[cp.name] = count
			}
		}
		// A single return is the expected exit, only extras branch.
		if mapInt(breakdown, "return") > 1 {
			complexity--
		}

		name := mapString(fn, "name")
		results = append(results, map[string]any{
			"name":       name,
			"complexity": complexity,
			"breakdown":  breakdown,
			"rating":     complexityRating(complexity),
		})
		if complexity > 10 {
			highComplexity = append(highComplexity, name)
		}
		total += complexity
	}

	avg := 0.0
	if len(functions) > 0 {
		avg = math.Round(float64(total)/float64(len(functions))*100) / 100
	}

	state.Set("complexity", results)
	state.Set("total_complexity", total)
	state.Set("avg_complexity", avg)
	state.Record("check_complexity",
		fmt.Sprintf("Analyzed complexity for %d function(s). Average: %.2f", len(functions), avg),
		map[string]any{
			"total_complexity":           total,
			"avg_complexity":             avg,
			"high_complexity_functions": highComplexity,
		})
	return state, nil
}

func complexityRating(complexity int) string {
	switch {
	case complexity <= 5:
		return "low"
	case complexity <= 10:
		return "moderate"
	case complexity <= 20:
		return "high"
	default:
		return "very_high"
	}
}
