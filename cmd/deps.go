package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/crhan/planaudit/internal/audit"
	"github.com/crhan/planaudit/internal/consensus"
	"github.com/crhan/planaudit/internal/contextload"
	"github.com/crhan/planaudit/internal/models"
	"github.com/crhan/planaudit/internal/reviewer"
	"github.com/crhan/planaudit/internal/store"
)

// defaultCLIContextChars bounds each context section for CLI backends, which
// pass the prompt as a command-line argument.
const defaultCLIContextChars = 20000

// credentialEnv names the conventional environment variable holding each
// HTTP backend's key.
var credentialEnv = map[string]string{
	reviewer.BackendOpenAI:    "DASHSCOPE_API_KEY",
	reviewer.BackendGemini:    "GEMINI_API_KEY",
	reviewer.BackendAnthropic: "ANTHROPIC_API_KEY",
}

// reviewerConfigs reads both reviewer slots from viper. A slot whose backend
// is empty or "none" is left out.
func reviewerConfigs() []reviewer.Config {
	var cfgs []reviewer.Config
	for _, role := range models.Roles {
		p := "reviewers." + string(role) + "."
		backend := strings.ToLower(strings.TrimSpace(viper.GetString(p + "backend")))
		if backend == "" || backend == "none" {
			continue
		}

		cfg := reviewer.Config{
			Role:            role,
			Name:            viper.GetString(p + "name"),
			Backend:         backend,
			Model:           viper.GetString(p + "model"),
			APIKey:          viper.GetString(p + "api_key"),
			BaseURL:         viper.GetString(p + "base_url"),
			Proxy:           viper.GetString(p + "proxy"),
			Command:         viper.GetString(p + "command"),
			MaxContextChars: viper.GetInt(p + "max_context_chars"),
		}
		if cfg.Name == "" {
			cfg.Name = backend
		}
		if cfg.Proxy == "" {
			cfg.Proxy = viper.GetString("proxy")
		}
		if cfg.APIKey == "" {
			if env, ok := credentialEnv[backend]; ok {
				cfg.APIKey = os.Getenv(env)
			}
		}
		if cfg.MaxContextChars == 0 && cfg.IsCLI() {
			cfg.MaxContextChars = defaultCLIContextChars
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs
}

// buildPolicy returns the configured consensus policy, labelling reviewers by name.
func buildPolicy(cfgs []reviewer.Config) (consensus.Policy, error) {
	names := consensus.Names{}
	for _, c := range cfgs {
		names[c.Role] = c.Name
	}
	primary := models.Role(strings.ToLower(viper.GetString("consensus.primary")))
	return consensus.New(viper.GetString("consensus.policy"), primary, names)
}

// auditTimeout is the per-reviewer hard timeout.
func auditTimeout() time.Duration {
	secs := viper.GetInt("timeout_seconds")
	if secs <= 0 {
		return reviewer.DefaultTimeout
	}
	return time.Duration(secs) * time.Second
}

// historyStore opens the history store when history is enabled. Failing to
// open it disables history instead of failing the audit.
func historyStore() store.Store {
	if !viper.GetBool("history.enabled") {
		return nil
	}
	s, err := getStore()
	if err != nil {
		getLogger().Warn("audit history disabled", "error", err)
		return nil
	}
	return s
}

// buildRunner wires reviewers, policy, context loading and history.
func buildRunner() (*audit.Runner, []reviewer.Config, error) {
	logger := getLogger()
	cfgs := reviewerConfigs()

	policy, err := buildPolicy(cfgs)
	if err != nil {
		return nil, nil, fmt.Errorf("consensus: %w", err)
	}

	orch, err := audit.FromConfigs(cfgs, policy,
		audit.WithTimeout(auditTimeout()),
		audit.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}

	loader := contextload.NewLoader()
	loader.Rounds = viper.GetInt("context.transcript_rounds")
	loader.PlansDir = viper.GetString("context.plans_dir")
	loader.Logger = logger

	return audit.NewRunner(orch, loader, historyStore(), logger), orch.Reviewers(), nil
}
