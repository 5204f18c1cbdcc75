package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/crhan/planaudit/internal/models"
	"github.com/crhan/planaudit/internal/output"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "planaudit"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage planaudit configuration.

Running bare 'planaudit config' is the same as 'planaudit config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <a|b> <api-key>",
	Short: "Store a reviewer API key in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return configSetKeyRun(args[0], args[1])
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configSetKeyCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# planaudit configuration
# See: planaudit config show (for effective values and sources)

# State/data directory (default: ~/.config/planaudit)
# state_dir: {{ .StateDir }}

# SQLite audit history (default: ~/.config/planaudit/planaudit.db)
# db_path: {{ .DBPath }}

# JSONL log directory (info.jsonl, debug.jsonl)
# log_dir: {{ .LogDir }}

# Hard timeout per reviewer call, in seconds
timeout_seconds: {{ .TimeoutSeconds }}

# HTTP proxy applied to every reviewer unless overridden per reviewer
proxy: "{{ .Proxy }}"

consensus:
  # symmetric | primary-advisory
  policy: "{{ .Policy }}"
  # Authoritative reviewer for primary-advisory (a or b)
  primary: "{{ .Primary }}"

history:
  enabled: {{ .HistoryEnabled }}

context:
  # Conversation rounds sent to reviewers
  transcript_rounds: {{ .TranscriptRounds }}
  # Project-relative directory holding plan files and review notes
  plans_dir: "{{ .PlansDir }}"

# Backends: openai | gemini | anthropic | gemini-cli | qwen-cli | none
# Keys fall back to DASHSCOPE_API_KEY, GEMINI_API_KEY and ANTHROPIC_API_KEY.
reviewers:
{{- range .Reviewers }}
  {{ .Role }}:
    name: "{{ .Name }}"
    backend: "{{ .Backend }}"
    model: "{{ .Model }}"
    # base_url: ""
    # api_key: ""   (use 'planaudit config set-key {{ .Role }} <key>')
    # command: ""   (CLI backends only)
{{- end }}
`

type configReviewerData struct {
	Role    string
	Name    string
	Backend string
	Model   string
}

type configTemplateData struct {
	StateDir         string
	DBPath           string
	LogDir           string
	TimeoutSeconds   int
	Proxy            string
	Policy           string
	Primary          string
	HistoryEnabled   bool
	TranscriptRounds int
	PlansDir         string
	Reviewers        []configReviewerData
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:         viper.GetString("state_dir"),
		DBPath:           viper.GetString("db_path"),
		LogDir:           viper.GetString("log_dir"),
		TimeoutSeconds:   viper.GetInt("timeout_seconds"),
		Proxy:            viper.GetString("proxy"),
		Policy:           viper.GetString("consensus.policy"),
		Primary:          viper.GetString("consensus.primary"),
		HistoryEnabled:   viper.GetBool("history.enabled"),
		TranscriptRounds: viper.GetInt("context.transcript_rounds"),
		PlansDir:         viper.GetString("context.plans_dir"),
	}
	for _, role := range models.Roles {
		p := "reviewers." + string(role) + "."
		data.Reviewers = append(data.Reviewers, configReviewerData{
			Role:    string(role),
			Name:    viper.GetString(p + "name"),
			Backend: viper.GetString(p + "backend"),
			Model:   viper.GetString(p + "model"),
		})
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	if err := writeConfigFile(cfgPath, buf.Bytes()); err != nil {
		return err
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// writeConfigFile writes the config with owner-only permissions since it may hold API keys.
func writeConfigFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

// configKeys lists every key shown by 'config show', in display order.
func configKeys() []configKeyInfo {
	keys := []configKeyInfo{
		{Key: "state_dir"},
		{Key: "db_path"},
		{Key: "log_dir"},
		{Key: "timeout_seconds"},
		{Key: "proxy"},
		{Key: "consensus.policy"},
		{Key: "consensus.primary"},
		{Key: "history.enabled"},
		{Key: "context.transcript_rounds"},
		{Key: "context.plans_dir"},
	}
	for _, role := range models.Roles {
		for _, field := range []string{"name", "backend", "model", "base_url", "api_key", "proxy", "command", "max_context_chars"} {
			keys = append(keys, configKeyInfo{
				Key:    "reviewers." + string(role) + "." + field,
				Secret: field == "api_key",
			})
		}
	}
	for i := range keys {
		keys[i].EnvVar = envVarFor(keys[i].Key)
	}
	return keys
}

// envVarFor maps a config key to its PLANAUDIT_ environment variable.
func envVarFor(key string) string {
	return "PLANAUDIT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// maskSecret hides all but the last four characters of a credential.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys() {
		var val any = viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-34s %v  %s\n", k.Key, val, source)
	}

	fmt.Fprintln(ui.Out)
	for _, cfg := range reviewerConfigs() {
		state := output.Green("ready")
		if !cfg.Ready() {
			state = output.Yellow("skipped (no API key)")
		}
		fmt.Fprintf(ui.Out, "  reviewer %s: %s via %s/%s  %s\n", cfg.Role, cfg.Name, cfg.Backend, cfg.Model, state)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'planaudit config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}

// configSetKeyRun stores key under reviewers.<role>.api_key, preserving the
// rest of the file.
func configSetKeyRun(role, key string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != string(models.RoleA) && role != string(models.RoleB) {
		return fmt.Errorf("invalid reviewer %q (must be a or b)", role)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("api key must not be empty")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	doc := map[string]any{}
	if data, err := os.ReadFile(cfgPath); err == nil {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}

	reviewers := subMap(doc, "reviewers")
	slot := subMap(reviewers, role)
	slot["api_key"] = key

	if dryRun {
		ui.DryRunMsg("Would set reviewers.%s.api_key = %s in %s", role, maskSecret(key), cfgPath)
		return nil
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config file: %w", err)
	}
	if err := writeConfigFile(cfgPath, out); err != nil {
		return err
	}

	ui.Success("Stored API key for reviewer %s (%s)", role, maskSecret(key))
	return nil
}

// subMap returns m[key] as a map, creating it when missing.
func subMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	v := map[string]any{}
	m[key] = v
	return v
}
