package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{FormatJSON, `"msg":"hello"`},
		{FormatLogfmt, `msg=hello`},
		{FormatText, `hello`},
		{"unknown", `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, "info", tt.format)
			logger.Info("hello", "provider", "openai")
			assert.Contains(t, buf.String(), tt.want)
			assert.Contains(t, buf.String(), "openai")
		})
	}
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", FormatText)
	logger.Info("quiet")
	logger.Warn("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")

	assert.Equal(t, log.InfoLevel, New(&buf, "bogus", FormatText).GetLevel())
}

func TestSetup_File(t *testing.T) {
	defaultLogger := log.Default()
	t.Cleanup(func() { log.SetDefault(defaultLogger) })

	wd := t.TempDir()
	closer, err := Setup(Options{WorkingDir: wd, Level: "info", Format: FormatLogfmt})
	require.NoError(t, err)

	log.Info("written to file", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(wd, ".chatforge", "chatforge.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "k=v")
}

func TestAuditLog(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLog(&buf)
	audit.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }

	require.NoError(t, audit.Record("tool_call", "id", "c1", "tool", "local_edit", "status", "pending"))
	require.NoError(t, audit.Record("tool_call", "id", "c1", "error", "file not found: a b"))
	require.NoError(t, audit.Record("odd", "dangling"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ts=2026-02-03T04:05:06Z event=tool_call id=c1 tool=local_edit status=pending", lines[0])
	assert.Equal(t, `ts=2026-02-03T04:05:06Z event=tool_call id=c1 error="file not found: a b"`, lines[1])
	assert.Equal(t, "ts=2026-02-03T04:05:06Z event=odd dangling=", lines[2])
	assert.NoError(t, audit.Close())
}

func TestOpenAuditLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.log")
	audit, err := OpenAuditLog(path)
	require.NoError(t, err)
	require.NoError(t, audit.Record("start"))
	require.NoError(t, audit.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "event=start")
}
