package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(buf *bytes.Buffer) *Logger {
	return New(Config{Level: LevelDebug, Output: buf, JSON: true})
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec), buf.String())
	return rec
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf)

	logger.Debug("debug msg")
	assert.Contains(t, buf.String(), "debug msg")

	logger.SetLevel(LevelError)
	buf.Reset()
	logger.WithComponent("fetch").Warn("dropped")
	assert.Empty(t, buf.String(), "derived loggers share the level")
}

func TestLogger_WithRun(t *testing.T) {
	var buf bytes.Buffer
	jsonLogger(&buf).WithComponent("pipeline").WithRun("r-1", "cam").Info("stage done")

	rec := decode(t, &buf)
	assert.Equal(t, "pipeline", rec[KeyComponent])
	assert.Equal(t, "r-1", rec[KeyRunID])
	assert.Equal(t, "cam", rec[KeyDevice])
}

func TestLogger_AuditBypassesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelError, Output: &buf, JSON: true})

	logger.Audit("apply", "thermostat", "verdict", "verified")
	rec := decode(t, &buf)
	assert.Equal(t, "AUDIT apply", rec["msg"])
	assert.Equal(t, "thermostat", rec[KeyDevice])
	assert.Equal(t, "verified", rec["verdict"])
	assert.Equal(t, true, rec["audit"])
}

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.WithComponent("Pipeline").WithRun("r-9", "cam").Info("run finished", "reason", "two words")
	line := buf.String()
	for _, want := range []string{"[info]", "pipeline[cam]: run finished", "run_id=r-9", `reason="two words"`} {
		assert.Contains(t, line, want)
	}
	assert.NotContains(t, line, "device=")

	buf.Reset()
	logger.Info("bare", "empty", "")
	assert.Contains(t, buf.String(), `] bare empty=""`)

	buf.Reset()
	logger.Audit("remove", "cam")
	assert.Contains(t, buf.String(), "[audit] [cam]: AUDIT remove")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"", LevelInfo, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
		} else {
			assert.NoError(t, err, tt.in)
		}
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSetDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	SetDefault(New(Config{Level: LevelInfo, Output: &buf}))
	defer SetDefault(prev)

	WithComponent("watch").Info("tick")
	assert.Contains(t, buf.String(), "watch: tick")
}
