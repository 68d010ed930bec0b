package tool_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/workflowgo/graph"
	"github.com/smallnest/workflowgo/tool"
)

func noop(_ context.Context, state *graph.WorkflowState) (*graph.WorkflowState, error) {
	return state, nil
}

func TestRegistryRegister(t *testing.T) {
	t.Parallel()

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register("tools.noop", noop))
	assert.True(t, registry.Has("tools.noop"))

	t.Run("duplicate name fails", func(t *testing.T) {
		err := registry.Register("tools.noop", noop)
		require.Error(t, err)
		assert.ErrorIs(t, err, tool.ErrAlreadyRegistered)
	})

	t.Run("empty name fails", func(t *testing.T) {
		err := registry.Register("", noop)
		require.Error(t, err)
		// A rejected empty name is a validation error, not a lookup miss.
		assert.NotErrorIs(t, err, tool.ErrNotRegistered)
	})

	t.Run("nil function fails", func(t *testing.T) {
		assert.Error(t, registry.Register("tools.nil", nil))
	})
}

func TestRegistryGet(t *testing.T) {
	t.Parallel()

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register("tools.noop", noop))

	fn, err := registry.Get("tools.noop")
	require.NoError(t, err)
	require.NotNil(t, fn)

	state := graph.NewState(nil)
	out, err := fn(context.Background(), state)
	require.NoError(t, err)
	assert.Same(t, state, out)

	_, err = registry.Get("tools.ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, tool.ErrNotRegistered)
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register("tools.noop", noop))

	registry.Unregister("tools.noop")
	assert.False(t, registry.Has("tools.noop"))

	// Unregistering an unknown name is a no-op.
	registry.Unregister("tools.ghost")

	// The name is free again.
	require.NoError(t, registry.Register("tools.noop", noop))
}

func TestRegistryNames(t *testing.T) {
	t.Parallel()

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register("b", noop))
	require.NoError(t, registry.Register("a", noop))
	require.NoError(t, registry.Register("c", noop))

	assert.Equal(t, []string{"a", "b", "c"}, registry.Names())
}
