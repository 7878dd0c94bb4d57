package logger

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSONToFileWithContextIDs(t *testing.T) {
	restoreGlobal(t)

	path := filepath.Join(t.TempDir(), "logs", "engine.log")
	require.NoError(t, Init(Config{
		Level:      "debug",
		Format:     "json",
		Output:     "file",
		FilePath:   path,
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	}))

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithAccountID(ctx, "acct-1")
	assert.Equal(t, "req-1", RequestID(ctx))

	Info(ctx, "order placed", "symbol", "ACME")
	done := LogDuration(ctx, "match finished")
	done()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "order placed", entry["msg"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "acct-1", entry["account_id"])
	assert.Equal(t, "ACME", entry["symbol"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Contains(t, entry, "duration")
}

func TestLevelFiltering(t *testing.T) {
	restoreGlobal(t)

	path := filepath.Join(t.TempDir(), "warn.log")
	require.NoError(t, Init(Config{Level: "warn", Format: "text", Output: "file", FilePath: path}))

	Info(context.Background(), "hidden")
	Warn(context.Background(), "shown")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestWithContextWithoutIDs(t *testing.T) {
	assert.NotNil(t, WithContext(context.Background()))
	assert.Empty(t, RequestID(context.Background()))
	assert.NotNil(t, Discard())
}

func restoreGlobal(t *testing.T) {
	prev, prevDefault := globalLogger, slog.Default()
	t.Cleanup(func() {
		globalLogger = prev
		slog.SetDefault(prevDefault)
	})
}
