package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestServiceWritesJSONWithCallerAndScope(t *testing.T) {
	var buf bytes.Buffer
	s := &Service{stdout: &buf}
	s.Apply(Config{Level: "debug", Format: FormatJSON})
	log := Logger{svc: s}.With(String("comp", "poll"))

	log.Info("cycle done", Int("updates", 2), Duration("took", 1500*time.Millisecond), Err(errors.New("partial")))
	log.Trace("hidden")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	l := lines[0]
	assert.Equal(t, "cycle done", l["message"])
	assert.Equal(t, "stockpulse", l["app"])
	assert.Equal(t, "poll", l["comp"])
	assert.Equal(t, float64(2), l["updates"])
	assert.Equal(t, "1.5s", l["took"])
	assert.Equal(t, "partial", l["err"])
	assert.True(t, strings.HasPrefix(l["caller"].(string), "logging_test.go:"), l["caller"])
}

func TestApplyChangesLevelForDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	s := &Service{stdout: &buf}
	s.Apply(Config{Level: "warn", Format: FormatJSON})
	log := Logger{svc: s}.With(String("comp", "digest"))

	log.Info("dropped")
	s.Apply(Config{Level: "INFO", Format: FormatJSON})
	log.Info("kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["message"])
}

func TestFileSinkAppendsJSON(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "stockpulse.log")
	s := &Service{stdout: &console}
	s.Apply(Config{Level: "info", Format: FormatConsole, File: path})
	Logger{svc: s}.Info("state changed", String("op", "ack"))
	require.NoError(t, s.Close())

	assert.Contains(t, console.String(), "state changed")
	assert.NotContains(t, console.String(), `"message"`)
	assert.FileExists(t, path)
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]string{"": FormatAuto, " JSON ": FormatJSON, "console": FormatConsole} {
		got, err := ParseFormat(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("logfmt")
	assert.Error(t, err)
}

func TestZeroLoggerIsSilent(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	assert.NotPanics(t, func() { l.With(String("a", "b")).Error("nothing") })
	assert.False(t, Nop().IsZero())
}
