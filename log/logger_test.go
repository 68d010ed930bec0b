package log_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kataras/golog"
	"github.com/stretchr/testify/assert"

	"github.com/smallnest/workflowgo/log"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected log.LogLevel
	}{
		{"debug", "debug", log.LogLevelDebug},
		{"info", "info", log.LogLevelInfo},
		{"warn", "warn", log.LogLevelWarn},
		{"warning alias", "warning", log.LogLevelWarn},
		{"error", "error", log.LogLevelError},
		{"none", "none", log.LogLevelNone},
		{"disable alias", "disable", log.LogLevelNone},
		{"mixed case", "DeBuG", log.LogLevelDebug},
		{"surrounding spaces", "  info  ", log.LogLevelInfo},
		{"empty defaults to info", "", log.LogLevelInfo},
		{"unknown defaults to info", "verbose", log.LogLevelInfo},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, log.ParseLevel(tt.input))
		})
	}
}

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.NewCustomLogger(&buf, log.LogLevelWarn)

	logger.Debug("debug %d", 1)
	logger.Info("info %d", 2)
	logger.Warn("warn %d", 3)
	logger.Error("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "warn 3")
	assert.Contains(t, out, "error 4")
	assert.Contains(t, out, "[workflow]")
}

func TestLogLevelString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DEBUG", log.LogLevelDebug.String())
	assert.Equal(t, "INFO", log.LogLevelInfo.String())
	assert.Equal(t, "WARN", log.LogLevelWarn.String())
	assert.Equal(t, "ERROR", log.LogLevelError.String())
	assert.Equal(t, "NONE", log.LogLevelNone.String())
	assert.True(t, strings.HasPrefix(log.LogLevel(99).String(), "UNKNOWN"))
}

func TestGologLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gl := golog.New()
	gl.SetOutput(&buf)
	gl.SetLevel("debug")

	logger := log.NewGologLogger(gl)
	logger.SetLevel(log.LogLevelInfo)
	assert.Equal(t, log.LogLevelInfo, logger.GetLevel())

	logger.Debug("hidden %s", "message")
	logger.Info("visible %s", "message")

	out := buf.String()
	assert.NotContains(t, out, "hidden message")
	assert.Contains(t, out, "visible message")
}

func TestSetDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	original := log.GetDefaultLogger()
	defer log.SetDefaultLogger(original)

	log.SetDefaultLogger(log.NewCustomLogger(&buf, log.LogLevelDebug))
	log.Info("through the package logger")
	assert.Contains(t, buf.String(), "through the package logger")
}
