package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextAttrsAreAdded(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	log := New(Config{Level: slog.LevelDebug, Format: "json", Output: &buf})

	ctx := WithContext(context.Background(), slog.Int64("job_id", 7))
	ctx = WithContext(ctx, slog.String("source", "linkedin"))
	log.InfoContext(ctx, "worker started")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "worker started", rec["msg"])
	require.EqualValues(t, 7, rec["job_id"])
	require.Equal(t, "linkedin", rec["source"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestDefaultConfigIsJSONInfo(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := DefaultConfig()
	cfg.Output = &buf
	log := New(cfg)
	log.Debug("hidden")
	log.Info("shown")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "shown", rec["msg"])
}
