package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crhan/planaudit/internal/logging"
	"github.com/crhan/planaudit/internal/output"
	"github.com/crhan/planaudit/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore *store.SQLiteStore
	logSink   *logging.Sink

	// logConsole receives human-readable log lines. The hook silences it so
	// stderr carries only the deny payload.
	logConsole io.Writer = os.Stderr

	verbose bool
	dryRun  bool
)

// exitError carries a process exit code without printing an error line.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var rootCmd = &cobra.Command{
	Use:   "planaudit",
	Short: "Plan review gate - audit implementation plans with two LLM reviewers",
	Long: `planaudit sends an implementation plan to two independent language-model
reviewers, merges their verdicts into APPROVE, CONCERNS or REJECT, and blocks
execution of plans that are not approved.

It runs as a Claude Code PreToolUse hook, a one-shot CLI, a REST API or an
MCP server.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	closeDeps()
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logs on stderr)")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/planaudit/config.yaml)")
}

func initConfig() {
	configDir, err := configDirFunc()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
		os.Exit(1)
	}

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Keys in .env never override variables already set in the environment.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	viper.SetEnvPrefix("PLANAUDIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	setDefaults(configDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default, rooted at dir.
func setDefaults(dir string) {
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "planaudit.db"))
	viper.SetDefault("log_dir", filepath.Join(dir, "logs"))
	viper.SetDefault("timeout_seconds", 120)
	viper.SetDefault("proxy", "")
	viper.SetDefault("host", "127.0.0.1")
	viper.SetDefault("port", 8765)
	viper.SetDefault("consensus.policy", "symmetric")
	viper.SetDefault("consensus.primary", "a")
	viper.SetDefault("history.enabled", true)
	viper.SetDefault("context.transcript_rounds", 5)
	viper.SetDefault("context.plans_dir", "docs/plans")

	viper.SetDefault("reviewers.a.name", "qwen")
	viper.SetDefault("reviewers.a.backend", "openai")
	viper.SetDefault("reviewers.a.model", "qwen3.5-plus")
	viper.SetDefault("reviewers.a.base_url", "")
	viper.SetDefault("reviewers.a.api_key", "")
	viper.SetDefault("reviewers.a.proxy", "")
	viper.SetDefault("reviewers.a.command", "")
	viper.SetDefault("reviewers.a.max_context_chars", 0)

	viper.SetDefault("reviewers.b.name", "gemini")
	viper.SetDefault("reviewers.b.backend", "gemini")
	viper.SetDefault("reviewers.b.model", "gemini-3.1-pro-preview")
	viper.SetDefault("reviewers.b.base_url", "")
	viper.SetDefault("reviewers.b.api_key", "")
	viper.SetDefault("reviewers.b.proxy", "")
	viper.SetDefault("reviewers.b.command", "")
	viper.SetDefault("reviewers.b.max_context_chars", 0)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Store and logger are initialized lazily, only when commands need them.
	// This allows config/version commands to run without a db.
}

// getLogger returns the shared logger, setting up the sinks on first call.
func getLogger() *slog.Logger {
	if logSink != nil {
		return logSink.Logger
	}
	sink, err := logging.Setup(logging.Options{
		Verbose: verbose,
		Console: logConsole,
		Dir:     viper.GetString("log_dir"),
	})
	if sink == nil {
		return slog.New(logging.NewRedactHandler(slog.NewTextHandler(logConsole, nil)))
	}
	logSink = sink
	slog.SetDefault(sink.Logger)
	if err != nil {
		sink.Logger.Warn("file logging disabled", "log_dir", viper.GetString("log_dir"), "error", err)
	}
	return sink.Logger
}

// getStore returns the shared store, initializing it on first call.
func getStore() (*store.SQLiteStore, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

func closeDeps() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
	if logSink != nil {
		_ = logSink.Close()
		logSink = nil
	}
}
