package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogger_UnwritableLogDirKeepsConsole(t *testing.T) {
	dir := testEnv(t)

	// A regular file where the log directory should be.
	blocker := filepath.Join(dir, "logs")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	viper.Set("log_dir", blocker)

	var console bytes.Buffer
	logConsole = &console
	verbose = true
	t.Cleanup(func() { verbose = false })

	first := getLogger()
	second := getLogger()
	require.NotNil(t, logSink)
	assert.Same(t, first, second, "sinks are built once")
	assert.True(t, first.Enabled(context.Background(), slog.LevelDebug), "--verbose still applies")

	assert.Equal(t, 1, strings.Count(console.String(), "file logging disabled"))
}
