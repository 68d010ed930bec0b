package codereview_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/workflowgo/graph"
	"github.com/smallnest/workflowgo/tool"
	"github.com/smallnest/workflowgo/tools/codereview"
)

const sampleCode = `package sample

// Add returns the sum of two ints.
func Add(a, b int) int {
	return a + b
}

func process(items []string, a, b, c, d, e int) string {
	// TODO: tidy this up
	result := ""
	for _, item := range items {
		if item != "" && len(item) > 2 {
			result += item
		} else {
			result += "-"
		}
	}
	return result
}
`

func reviewState(code string) *graph.WorkflowState {
	return graph.NewState(map[string]any{"code": code})
}

func TestExtractFunctions(t *testing.T) {
	t.Parallel()

	t.Run("extracts declarations with metadata", func(t *testing.T) {
		t.Parallel()
		state, err := codereview.ExtractFunctions(context.Background(), reviewState(sampleCode))
		require.NoError(t, err)

		assert.Equal(t, 2, state.Context["function_count"])
		functions := state.Context["functions"].([]any)
		require.Len(t, functions, 2)

		add := functions[0].(map[string]any)
		assert.Equal(t, "Add", add["name"])
		assert.Equal(t, true, add["has_doc"])
		assert.Equal(t, 2, add["param_count"])

		process := functions[1].(map[string]any)
		assert.Equal(t, "process", process["name"])
		assert.Equal(t, false, process["has_doc"])
		assert.Equal(t, 6, process["param_count"])

		require.Len(t, state.History, 1)
		assert.Equal(t, "extract_functions", state.History[0].NodeID)
	})

	t.Run("empty code yields no functions", func(t *testing.T) {
		t.Parallel()
		state, err := codereview.ExtractFunctions(context.Background(), reviewState(""))
		require.NoError(t, err)
		assert.Equal(t, 0, state.Context["function_count"])
	})

	t.Run("methods with receivers are extracted", func(t *testing.T) {
		t.Parallel()
		code := "package x\n\nfunc (s *Server) Start(addr string) error {\n\treturn nil\n}\n"
		state, err := codereview.ExtractFunctions(context.Background(), reviewState(code))
		require.NoError(t, err)
		functions := state.Context["functions"].([]any)
		require.Len(t, functions, 1)
		fn := functions[0].(map[string]any)
		assert.Equal(t, "Start", fn["name"])
		assert.Equal(t, "s *Server", fn["receiver"])
	})
}

func TestCheckComplexity(t *testing.T) {
	t.Parallel()

	state, err := codereview.ExtractFunctions(context.Background(), reviewState(sampleCode))
	require.NoError(t, err)
	state, err = codereview.CheckComplexity(context.Background(), state)
	require.NoError(t, err)

	results := state.Context["complexity"].([]any)
	require.Len(t, results, 2)

	add := results[0].(map[string]any)
	assert.Equal(t, "Add", add["name"])
	assert.Equal(t, 2, add["complexity"])
	assert.Equal(t, "low", add["rating"])

	process := results[1].(map[string]any)
	assert.Equal(t, "process", process["name"])
	assert.Equal(t, 6, process["complexity"])
	assert.Equal(t, "moderate", process["rating"])

	assert.Equal(t, 8, state.Context["total_complexity"])
	assert.Equal(t, 4.0, state.Context["avg_complexity"])
}

func TestDetectBasicIssues(t *testing.T) {
	t.Parallel()

	state := reviewState(sampleCode)
	for _, fn := range []graph.ToolFunc{
		codereview.ExtractFunctions,
		codereview.CheckComplexity,
		codereview.DetectBasicIssues,
	} {
		var err error
		state, err = fn(context.Background(), state)
		require.NoError(t, err)
	}

	issues := state.Context["issues"].([]any)
	types := make(map[string]int)
	for _, i := range issues {
		issue := i.(map[string]any)
		types[issue["type"].(string)]++
	}
	assert.Equal(t, 1, types["missing_doc_comment"])
	assert.Equal(t, 1, types["too_many_params"])
	assert.Equal(t, 1, types["todo_comment"])
	assert.Equal(t, len(issues), state.Context["issue_count"])

	counts := state.Context["issue_counts"].(map[string]any)
	assert.Equal(t, 0, counts["error"])
	assert.Equal(t, 2, counts["warning"])
	assert.Equal(t, 1, counts["info"])

	// Improvement tracking keys are seeded for the review loop.
	assert.Equal(t, 0, state.Context["improvement_iteration"])
	assert.Equal(t, []any{}, state.Context["applied_suggestions"])
	assert.Equal(t, codereview.DefaultThreshold, state.Context["threshold"])
}

func TestDetectBasicIssuesKeepsExistingThreshold(t *testing.T) {
	t.Parallel()

	state := reviewState("package x\n")
	state.Set("threshold", 90)
	state, err := codereview.DetectBasicIssues(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 90, state.Context["threshold"])
}

func TestSuggestImprovements(t *testing.T) {
	t.Parallel()

	state := reviewState(sampleCode)
	for _, fn := range []graph.ToolFunc{
		codereview.ExtractFunctions,
		codereview.CheckComplexity,
		codereview.DetectBasicIssues,
	} {
		var err error
		state, err = fn(context.Background(), state)
		require.NoError(t, err)
	}

	state, err := codereview.SuggestImprovements(context.Background(), state)
	require.NoError(t, err)

	suggestions := state.Context["suggestions"].([]any)
	// One suggestion per issue type.
	assert.Len(t, suggestions, 3)
	assert.Equal(t, 3, state.Context["suggestion_count"])

	// The first pass applies two suggestions.
	assert.Equal(t, 2, state.Context["newly_applied_count"])
	assert.Len(t, state.Context["applied_suggestions"].([]any), 2)
	assert.Equal(t, 1, state.Context["improvement_iteration"])

	t.Run("second iteration applies more and skips done work", func(t *testing.T) {
		state, err := codereview.SuggestImprovements(context.Background(), state)
		require.NoError(t, err)

		// Two of three types were handled; only one remains.
		suggestions := state.Context["suggestions"].([]any)
		assert.Len(t, suggestions, 1)
		assert.Equal(t, 1, state.Context["newly_applied_count"])
		assert.Len(t, state.Context["applied_suggestions"].([]any), 3)
		assert.Equal(t, 2, state.Context["improvement_iteration"])
	})
}

func TestEvaluateQuality(t *testing.T) {
	t.Parallel()

	t.Run("scoring math", func(t *testing.T) {
		t.Parallel()
		state := graph.NewState(map[string]any{
			"issue_counts":          map[string]any{"error": 1, "warning": 2, "info": 3},
			"issues":                []any{1, 2, 3, 4, 5, 6},
			"applied_suggestions":   []any{"a", "b"},
			"functions":             []any{},
			"avg_complexity":        12.0,
			"improvement_iteration": 1,
			"threshold":             90,
		})
		state, err := codereview.EvaluateQuality(context.Background(), state)
		require.NoError(t, err)

		// 100 - (10 + 10 + 6) + 10 + 8 - 4 = 88
		assert.Equal(t, 88, state.Context["quality_score"])
		assert.Equal(t, "B", state.Context["quality_grade"])
		assert.Equal(t, false, state.Context["meets_threshold"])

		report := state.Context["quality_report"].(map[string]any)
		breakdown := report["breakdown"].(map[string]any)
		assert.Equal(t, -10, breakdown["error_penalty"])
		assert.Equal(t, -10, breakdown["warning_penalty"])
		assert.Equal(t, -6, breakdown["info_penalty"])
		assert.Equal(t, -4, breakdown["complexity_penalty"])
		assert.Equal(t, 10, breakdown["improvement_bonus"])
		assert.Equal(t, 8, breakdown["iteration_bonus"])
	})

	t.Run("score is clamped to 0..100", func(t *testing.T) {
		t.Parallel()
		state := graph.NewState(map[string]any{
			"issue_counts":          map[string]any{"error": 0, "warning": 0, "info": 0},
			"applied_suggestions":   []any{"a", "b", "c", "d"},
			"improvement_iteration": 5,
		})
		state, err := codereview.EvaluateQuality(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, 100, state.Context["quality_score"])
		assert.Equal(t, "A", state.Context["quality_grade"])
		assert.Equal(t, true, state.Context["meets_threshold"])

		low := graph.NewState(map[string]any{
			"issue_counts":          map[string]any{"error": 20, "warning": 0, "info": 0},
			"improvement_iteration": 0,
		})
		low, err = codereview.EvaluateQuality(context.Background(), low)
		require.NoError(t, err)
		assert.Equal(t, 0, low.Context["quality_score"])
		assert.Equal(t, "F", low.Context["quality_grade"])
	})
}

// TestCodeReviewWorkflow runs the whole review pipeline as a graph with a
// feedback loop that re-suggests improvements until the quality threshold
// is met.
func TestCodeReviewWorkflow(t *testing.T) {
	t.Parallel()

	registry := tool.NewRegistry()
	require.NoError(t, codereview.Register(registry))

	doc := &graph.Document{
		ID:        "code-review",
		Name:      "Code Review Mini-Agent",
		StartNode: "extract_functions",
		Nodes: []graph.NodeDoc{
			{ID: "extract_functions", Callable: "extract_functions"},
			{ID: "check_complexity", Callable: "check_complexity"},
			{ID: "detect_basic_issues", Callable: "detect_basic_issues"},
			{ID: "suggest_improvements", Callable: "suggest_improvements"},
			{ID: "evaluate_quality", Callable: "evaluate_quality"},
		},
		Edges: []graph.EdgeDoc{
			{From: "extract_functions", To: "check_complexity"},
			{From: "check_complexity", To: "detect_basic_issues"},
			{From: "detect_basic_issues", To: "suggest_improvements"},
			{From: "suggest_improvements", To: "evaluate_quality"},
			{From: "evaluate_quality", To: "suggest_improvements", Type: graph.EdgeLoop,
				Loop: &graph.LoopDoc{
					MaxIterations:   5,
					UntilExpression: "context.get('meets_threshold')",
				}},
		},
	}

	g, err := doc.Build(registry)
	require.NoError(t, err)

	exec, err := graph.NewExecutor()
	require.NoError(t, err)
	defer exec.Close()

	result, err := exec.Run(context.Background(), g, reviewState(sampleCode), nil, nil)
	require.NoError(t, err)

	final := result.FinalState
	assert.Equal(t, graph.StatusCompleted, final.Status)
	assert.Equal(t, true, final.Context["meets_threshold"])

	score := final.Context["quality_score"].(int)
	assert.GreaterOrEqual(t, score, codereview.DefaultThreshold)
	assert.LessOrEqual(t, score, 100)
	assert.GreaterOrEqual(t, final.Context["improvement_iteration"].(int), 1)

	// Every stage executed at least once.
	seen := make(map[string]bool)
	for _, entry := range result.Logs {
		assert.Equal(t, graph.LogSuccess, entry.Status)
		seen[entry.NodeID] = true
	}
	for _, node := range []string{
		"extract_functions", "check_complexity", "detect_basic_issues",
		"suggest_improvements", "evaluate_quality",
	} {
		assert.True(t, seen[node], "node %s never ran", node)
	}
}
