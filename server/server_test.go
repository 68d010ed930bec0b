package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/workflowgo/graph"
	"github.com/smallnest/workflowgo/log"
	"github.com/smallnest/workflowgo/runner"
	"github.com/smallnest/workflowgo/server"
	"github.com/smallnest/workflowgo/store"
	"github.com/smallnest/workflowgo/stream"
	"github.com/smallnest/workflowgo/tool"
)

func newTestServer(t *testing.T) (*httptest.Server, *runner.Service) {
	t.Helper()
	registry := tool.NewRegistry()
	runner.RegisterBuiltins(registry)

	exec, err := graph.NewExecutor(
		graph.WithNodeTimeout(5*time.Second),
		graph.WithCancelPollInterval(10*time.Millisecond),
		graph.WithLogger(&log.NoOpLogger{}),
	)
	require.NoError(t, err)
	t.Cleanup(exec.Close)

	svc := runner.NewService(
		registry,
		store.NewGraphStore(),
		store.NewRunStore(),
		exec,
		stream.NewHub(),
		&log.NoOpLogger{},
	)
	ts := httptest.NewServer(server.New(svc, &log.NoOpLogger{}).Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func graphPayload(id string) map[string]any {
	return map[string]any{
		"id":         id,
		"name":       "Test Graph",
		"start_node": "first",
		"nodes": []map[string]any{
			{"id": "first", "callable": "tools.noop"},
			{"id": "second", "callable": "tools.approve"},
		},
		"edges": []map[string]any{
			{"from": "first", "to": "second"},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateGraphEndpoint(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)

	t.Run("creates a graph", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/graph/create", graphPayload("wf"))
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "wf", body["graph_id"])
		assert.Equal(t, "Graph registered", body["message"])
	})

	t.Run("duplicate graph id", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/graph/create", graphPayload("wf"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("validation failure", func(t *testing.T) {
		payload := graphPayload("bad")
		payload["start_node"] = "missing"
		resp := postJSON(t, ts.URL+"/graph/create", payload)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Contains(t, body["detail"], "start node")
	})

	t.Run("unregistered callable", func(t *testing.T) {
		payload := graphPayload("ghostly")
		payload["nodes"] = []map[string]any{{"id": "first", "callable": "tools.ghost"}}
		payload["start_node"] = "first"
		payload["edges"] = []map[string]any{}
		resp := postJSON(t, ts.URL+"/graph/create", payload)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("malformed JSON", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/graph/create", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestLaunchRunEndpoint(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/graph/create", graphPayload("wf"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	t.Run("foreground run completes", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/graph/run", map[string]any{
			"graph_id":      "wf",
			"initial_state": map[string]any{"input": "x"},
		})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "wf", body["graph_id"])
		assert.Equal(t, "completed", body["status"])
		assert.NotEmpty(t, body["run_id"])
	})

	t.Run("background run is accepted pending", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/graph/run", map[string]any{
			"graph_id":   "wf",
			"background": true,
		})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "pending", body["status"])
	})

	t.Run("unknown graph", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/graph/run", map[string]any{"graph_id": "ghost"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("missing graph id", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/graph/run", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestRunStateEndpoint(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/graph/create", graphPayload("wf"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/graph/run", map[string]any{"graph_id": "wf"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	runID := decodeBody(t, resp)["run_id"].(string)

	t.Run("returns state and logs", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/graph/state/" + runID)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, runID, body["run_id"])
		assert.Equal(t, "completed", body["status"])

		logs := body["logs"].([]any)
		require.Len(t, logs, 2)
		first := logs[0].(map[string]any)
		assert.Equal(t, "first", first["node_id"])
		assert.Equal(t, "success", first["status"])

		contextMap := body["context"].(map[string]any)
		assert.Equal(t, true, contextMap["approved"])
	})

	t.Run("unknown run", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/graph/state/ghost")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestCancelRunEndpoint(t *testing.T) {
	t.Parallel()

	ts, svc := newTestServer(t)
	require.NoError(t, svc.Registry().Register("block", func(ctx context.Context, s *graph.WorkflowState) (*graph.WorkflowState, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.NoError(t, svc.CreateGraph(&graph.Document{
		ID:        "blocking",
		StartNode: "block",
		Nodes:     []graph.NodeDoc{{ID: "block", Callable: "block"}},
	}))

	resp := postJSON(t, ts.URL+"/graph/run", map[string]any{
		"graph_id":   "blocking",
		"background": true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	runID := decodeBody(t, resp)["run_id"].(string)

	t.Run("cancels a running run", func(t *testing.T) {
		resp := postJSON(t, fmt.Sprintf("%s/graph/cancel/%s", ts.URL, runID), nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "cancelled", body["status"])
	})

	t.Run("unknown run", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/graph/cancel/ghost", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("completed run conflicts", func(t *testing.T) {
		createResp := postJSON(t, ts.URL+"/graph/create", graphPayload("done"))
		require.Equal(t, http.StatusCreated, createResp.StatusCode)
		createResp.Body.Close()

		runResp := postJSON(t, ts.URL+"/graph/run", map[string]any{"graph_id": "done"})
		require.Equal(t, http.StatusAccepted, runResp.StatusCode)
		doneID := decodeBody(t, runResp)["run_id"].(string)

		resp := postJSON(t, fmt.Sprintf("%s/graph/cancel/%s", ts.URL, doneID), nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})
}
