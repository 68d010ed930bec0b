package graph_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/workflowgo/graph"
)

func TestNewState(t *testing.T) {
	t.Parallel()

	t.Run("fresh run id and pending status", func(t *testing.T) {
		t.Parallel()
		state := graph.NewState(nil)

		_, err := uuid.Parse(state.RunID)
		require.NoError(t, err)
		assert.Equal(t, graph.StatusPending, state.Status)
		assert.NotNil(t, state.Context)
		assert.Empty(t, state.History)
	})

	t.Run("distinct run ids", func(t *testing.T) {
		t.Parallel()
		a := graph.NewState(nil)
		b := graph.NewState(nil)
		assert.NotEqual(t, a.RunID, b.RunID)
	})

	t.Run("initial context is kept", func(t *testing.T) {
		t.Parallel()
		state := graph.NewState(map[string]any{"input": "hello"})
		v, ok := state.Get("input")
		require.True(t, ok)
		assert.Equal(t, "hello", v)
	})
}

func TestStateRecord(t *testing.T) {
	t.Parallel()

	state := graph.NewState(nil)
	state.Record("first", "one", nil)
	state.Record("second", "two", map[string]any{"k": "v"})

	require.Len(t, state.History, 2)
	assert.Equal(t, "first", state.History[0].NodeID)
	assert.Equal(t, "one", state.History[0].Message)
	assert.NotNil(t, state.History[0].Data)
	assert.Equal(t, "v", state.History[1].Data["k"])
	assert.False(t, state.History[1].Timestamp.Before(state.History[0].Timestamp))
}

func TestStateContextHelpers(t *testing.T) {
	t.Parallel()

	state := graph.NewState(nil)
	state.Set("answer", 42)

	v, ok := state.Get("answer")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = state.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, 42, state.GetDefault("answer", 0))
	assert.Equal(t, "fallback", state.GetDefault("missing", "fallback"))
}

func TestStateClone(t *testing.T) {
	t.Parallel()

	t.Run("copy is detached from later mutations", func(t *testing.T) {
		t.Parallel()
		state := graph.NewState(map[string]any{
			"nested": map[string]any{"count": 1},
			"items":  []any{"a", "b"},
		})
		state.Record("first", "one", map[string]any{"k": "v"})
		state.SetStatus(graph.StatusRunning)

		clone := state.Clone()

		state.Set("nested", map[string]any{"count": 2})
		state.Context["items"].([]any)[0] = "z"
		state.Record("second", "two", nil)
		state.SetStatus(graph.StatusCompleted)

		assert.Equal(t, state.RunID, clone.RunID)
		assert.Equal(t, graph.StatusRunning, clone.Status)
		assert.Equal(t, map[string]any{"count": 1}, clone.Context["nested"])
		assert.Equal(t, []any{"a", "b"}, clone.Context["items"])
		require.Len(t, clone.History, 1)
		assert.Equal(t, "first", clone.History[0].NodeID)
	})

	t.Run("snapshot data is copied", func(t *testing.T) {
		t.Parallel()
		state := graph.NewState(nil)
		state.Record("n", "m", map[string]any{"k": "v"})
		clone := state.Clone()
		state.History[0].Data["k"] = "changed"
		assert.Equal(t, "v", clone.History[0].Data["k"])
	})

	t.Run("safe while another goroutine writes", func(t *testing.T) {
		t.Parallel()
		state := graph.NewState(nil)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 1000; i++ {
				state.Set("k", i)
				state.Record("writer", "tick", nil)
				state.SetStatus(graph.StatusRunning)
			}
		}()
		for i := 0; i < 1000; i++ {
			clone := state.Clone()
			_, err := json.Marshal(clone)
			require.NoError(t, err)
		}
		<-done
	})
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, graph.StatusPending.Terminal())
	assert.False(t, graph.StatusRunning.Terminal())
	assert.True(t, graph.StatusCompleted.Terminal())
	assert.True(t, graph.StatusFailed.Terminal())
	assert.True(t, graph.StatusCancelled.Terminal())
}
