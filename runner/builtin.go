package runner

import (
	"context"

	"github.com/smallnest/workflowgo/graph"
	"github.com/smallnest/workflowgo/tool"
)

// RegisterBuiltins installs the default tool set. Names already taken
// are left alone.
func RegisterBuiltins(registry *tool.Registry) {
	builtins := map[string]graph.ToolFunc{
		"tools.noop":    noop,
		"tools.approve": approve,
	}
	for name, fn := range builtins {
		if !registry.Has(name) {
			_ = registry.Register(name, fn)
		}
	}
}

func noop(_ context.Context, state *graph.WorkflowState) (*graph.WorkflowState, error) {
	state.Record("noop", "No-op tool executed", nil)
	return state, nil
}

func approve(_ context.Context, state *graph.WorkflowState) (*graph.WorkflowState, error) {
	state.Set("approved", true)
	return state, nil
}
