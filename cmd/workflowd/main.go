// Command workflowd serves the workflow engine API: graph registration,
// run launching, cancellation, and WebSocket log streaming.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kataras/golog"

	"github.com/smallnest/workflowgo/graph"
	"github.com/smallnest/workflowgo/log"
	"github.com/smallnest/workflowgo/runner"
	"github.com/smallnest/workflowgo/server"
	"github.com/smallnest/workflowgo/store"
	"github.com/smallnest/workflowgo/stream"
	"github.com/smallnest/workflowgo/tool"
	"github.com/smallnest/workflowgo/tools/codereview"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	level := log.ParseLevel(os.Getenv("WORKFLOW_LOG_LEVEL"))
	logger := log.NewGologLogger(golog.New())
	logger.SetLevel(level)
	log.SetDefaultLogger(logger)

	registry := tool.NewRegistry()
	runner.RegisterBuiltins(registry)
	if err := codereview.Register(registry); err != nil {
		logger.Error("register code review tools: %v", err)
		os.Exit(1)
	}

	exec, err := graph.NewExecutor(
		graph.WithNodeTimeout(envDuration("WORKFLOW_NODE_TIMEOUT", graph.DefaultNodeTimeout)),
		graph.WithCancelPollInterval(envDuration("WORKFLOW_CANCEL_POLL_INTERVAL", graph.DefaultCancelPollInterval)),
		graph.WithPoolSize(envInt("WORKFLOW_POOL_SIZE", 64)),
		graph.WithLogger(logger),
	)
	if err != nil {
		logger.Error("create executor: %v", err)
		os.Exit(1)
	}
	defer exec.Close()

	svc := runner.NewService(
		registry,
		store.NewGraphStore(),
		store.NewRunStore(),
		exec,
		stream.NewHub(),
		logger,
	)

	addr := os.Getenv("WORKFLOW_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.New(svc, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("workflowd listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("serve: %v", err)
			os.Exit(1)
		}
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn("invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn("invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return n
}
