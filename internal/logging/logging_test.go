package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bearer", "Authorization: Bearer abc.def-123", "Authorization: Bearer ***"},
		{"openai style", "key sk-abcdef0123456789 rejected", "key sk-*** rejected"},
		{"anthropic style", "sk-ant-api03-XYZ_9", "sk-***"},
		{"google", "AIza" + strings.Repeat("x", 35) + " tail", "AIza*** tail"},
		{"query key", "GET /v1beta/models/m:generateContent?key=secret&alt=json", "GET /v1beta/models/m:generateContent?key=***&alt=json"},
		{"no secret", "task-list and ask-me stay", "task-list and ask-me stay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Redact(tt.in))
		})
	}
}

func TestSetup_ConsoleRedactsMessagesAndAttrs(t *testing.T) {
	var console bytes.Buffer
	sink, err := Setup(Options{Console: &console})
	require.NoError(t, err)
	defer sink.Close()

	logger := sink.Logger.With("audit_id", "A1")
	logger.Info("calling with Bearer tok123", "error", errors.New("bad key sk-secretvalue"), "url", "x?key=abc")

	out := console.String()
	assert.Contains(t, out, "Bearer ***")
	assert.Contains(t, out, "sk-***")
	assert.Contains(t, out, "key=***")
	assert.Contains(t, out, "audit_id=A1")
	assert.NotContains(t, out, "tok123")
	assert.NotContains(t, out, "secretvalue")
}

func TestSetup_VerboseControlsConsoleDebug(t *testing.T) {
	var quiet, loud bytes.Buffer

	sink, err := Setup(Options{Console: &quiet})
	require.NoError(t, err)
	sink.Logger.Debug("hidden detail")
	assert.Empty(t, quiet.String())

	sink, err = Setup(Options{Console: &loud, Verbose: true})
	require.NoError(t, err)
	sink.Logger.Debug("shown detail")
	assert.Contains(t, loud.String(), "shown detail")
}

func readJSONL(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestSetup_FilesSplitByLevel(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer
	sink, err := Setup(Options{Console: &console, Dir: dir})
	require.NoError(t, err)

	sink.Logger.Info("final decision", "request_id", "r1")
	sink.Logger.Debug("raw response")
	sink.Logger.Warn("reviewer skipped")
	require.NoError(t, sink.Close())

	info := readJSONL(t, filepath.Join(dir, "info.jsonl"))
	require.Len(t, info, 1)
	assert.Equal(t, "final decision", info[0]["msg"])
	assert.Equal(t, "r1", info[0]["request_id"])

	debug := readJSONL(t, filepath.Join(dir, "debug.jsonl"))
	assert.Len(t, debug, 3)

	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), st.Mode().Perm())
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing happens")
}
