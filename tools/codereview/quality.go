package codereview

import (
	"context"
	"fmt"

	"github.com/smallnest/workflowgo/graph"
)

// EvaluateQuality computes the overall quality score: a base of 100,
// penalties per issue severity and excess complexity, and bonuses for
// applied improvements and completed iterations, clamped to [0, 100].
func EvaluateQuality(_ context.Context, state *graph.WorkflowState) (*graph.WorkflowState, error) {
	counts := asMap(state.Context["issue_counts"])
	issues := ctxSlice(state, "issues")
	applied := ctxSlice(state, "applied_suggestions")
	functions := ctxSlice(state, "functions")
	avgComplexity := ctxFloat(state, "avg_complexity", 0)
	iteration := ctxInt(state, "improvement_iteration", 1)
	threshold := ctxInt(state, "threshold", DefaultThreshold)

	const baseScore = 100
	errorPenalty := mapInt(counts, "error") * 10
	warningPenalty := mapInt(counts, "warning") * 5
	infoPenalty := mapInt(counts, "info") * 2
	totalPenalty := errorPenalty + warningPenalty + infoPenalty

	improvementBonus := len(applied) * 5
	iterationBonus := iteration * 8

	complexityPenalty := 0
	if avgComplexity > 10 {
		complexityPenalty = int((avgComplexity - 10) * 2)
	}

	rawScore := baseScore - totalPenalty + improvementBonus + iterationBonus - complexityPenalty
	score := rawScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	grade := "F"
	switch {
	case score >= 90:
		grade = "A"
	case score >= 80:
		grade = "B"
	case score >= 70:
		grade = "C"
	case score >= 60:
		grade = "D"
	}

	meetsThreshold := score >= threshold

	report := map[string]any{
		"score":           score,
		"grade":           grade,
		"threshold":       threshold,
		"meets_threshold": meetsThreshold,
		"breakdown": map[string]any{
			"base_score":         baseScore,
			"error_penalty":      -errorPenalty,
			"warning_penalty":    -warningPenalty,
			"info_penalty":       -infoPenalty,
			"complexity_penalty": -complexityPenalty,
			"improvement_bonus":  improvementBonus,
			"iteration_bonus":    iterationBonus,
		},
		"metrics": map[string]any{
			"function_count":       len(functions),
			"total_issues":         len(issues),
			"applied_improvements": len(applied),
			"iterations":           iteration,
			"avg_complexity":       avgComplexity,
		},
	}

	state.Set("quality_score", score)
	state.Set("quality_grade", grade)
	state.Set("quality_report", report)
	state.Set("meets_threshold", meetsThreshold)

	status := "PASSED"
	if !meetsThreshold {
		status = fmt.Sprintf("NEEDS IMPROVEMENT (target: %d)", threshold)
	}
	state.Record("evaluate_quality",
		fmt.Sprintf("Quality score: %d/100 (Grade: %s) - %s", score, grade, status),
		report)
	return state, nil
}
