// Package workflowgo is a workflow execution engine for Go. Workflows are
// directed graphs of tool nodes connected by sequential, branch, and loop
// edges; branch and loop conditions are written in a sandboxed expression
// language evaluated against the run's context. Runs execute with per-node
// timeouts and cooperative cancellation, and stream their execution logs
// to subscribers as they progress.
//
// The graph package holds the engine core, tool the callable registry,
// store the in-memory run and graph stores, stream the log fan-out hub,
// runner the orchestration service, and server the HTTP/WebSocket API
// served by cmd/workflowd.
package workflowgo
