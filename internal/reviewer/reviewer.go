// Package reviewer invokes one language-model reviewer and reports the raw
// response or a typed failure. Invoke never returns an error: every failure
// path becomes a models.Failure value.
package reviewer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/crhan/planaudit/internal/models"
)

// Backend kinds.
const (
	BackendOpenAI    = "openai"
	BackendGemini    = "gemini"
	BackendAnthropic = "anthropic"
	BackendGeminiCLI = "gemini-cli"
	BackendQwenCLI   = "qwen-cli"
)

// Backends lists every supported backend kind.
var Backends = []string{BackendOpenAI, BackendGemini, BackendAnthropic, BackendGeminiCLI, BackendQwenCLI}

// DefaultTimeout applies when a request carries no timeout.
const DefaultTimeout = 120 * time.Second

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 4096
	errorBodyLimit     = 200
)

// Config describes one reviewer slot.
type Config struct {
	Role            models.Role
	Name            string
	Backend         string
	Model           string
	APIKey          string
	BaseURL         string
	Proxy           string
	Command         string
	MaxContextChars int
}

// IsCLI reports whether the backend runs a local command.
func (c Config) IsCLI() bool {
	return c.Backend == BackendGeminiCLI || c.Backend == BackendQwenCLI
}

// NeedsCredential reports whether the backend requires an API key.
func (c Config) NeedsCredential() bool {
	return !c.IsCLI()
}

// Ready reports whether the reviewer may be invoked. HTTP backends without a
// key are never called unauthenticated.
func (c Config) Ready() bool {
	return !c.NeedsCredential() || strings.TrimSpace(c.APIKey) != ""
}

// Client sends one review request and returns its outcome.
type Client interface {
	Invoke(ctx context.Context, req models.ReviewRequest) models.Outcome
}

// completer is a single backend transport.
type completer interface {
	complete(ctx context.Context, system, user string) (text string, usage map[string]any, err error)
}

// New builds a client for cfg.
func New(cfg Config, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		c   completer
		err error
	)
	switch cfg.Backend {
	case BackendOpenAI:
		c, err = newOpenAI(cfg)
	case BackendGemini:
		c, err = newGemini(cfg)
	case BackendAnthropic:
		c, err = newAnthropic(cfg)
	case BackendGeminiCLI, BackendQwenCLI:
		c = newCLI(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q (want one of %s)", cfg.Backend, strings.Join(Backends, ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("configure %s reviewer: %w", cfg.Backend, err)
	}
	return &client{cfg: cfg, backend: c, logger: logger}, nil
}

type client struct {
	cfg     Config
	backend completer
	logger  *slog.Logger
}

func (c *client) Invoke(ctx context.Context, req models.ReviewRequest) (out models.Outcome) {
	log := c.logger.With(
		"audit_id", req.AuditID,
		"request_id", req.RequestID,
		"reviewer", c.cfg.Name,
		"backend", c.cfg.Backend,
		"model", c.cfg.Model,
	)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	system, user := BuildPrompt(req, c.cfg.MaxContextChars)
	log.Info("reviewer call started", "timeout", timeout, "prompt_chars", len(system)+len(user))

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			out = models.Failed(models.Failure{Kind: models.FailureException, Message: fmt.Sprint(p)})
		}
		elapsed := time.Since(start)
		if out.OK() {
			log.Info("reviewer call finished", "elapsed", elapsed.Round(time.Millisecond), "outcome", out.Class())
			log.Debug("reviewer raw response", "text", out.Success.RawText)
		} else {
			log.Warn("reviewer call failed", "elapsed", elapsed.Round(time.Millisecond), "outcome", out.Class(), "error", out.Failure.Error())
		}
	}()

	text, usage, err := c.backend.complete(ctx, system, user)
	return classify(ctx, text, usage, err, time.Since(start))
}

// classify maps a backend result onto the outcome variants.
func classify(ctx context.Context, text string, usage map[string]any, err error, latency time.Duration) models.Outcome {
	if err != nil {
		var f *models.Failure
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
			return models.Failed(models.Failure{Kind: models.FailureTimeout})
		case errors.As(err, &f):
			return models.Failed(*f)
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
			return models.Failed(models.Failure{Kind: models.FailureProcessNotFound, Message: err.Error()})
		default:
			return models.Failed(models.Failure{Kind: models.FailureException, Message: err.Error()})
		}
	}
	if strings.TrimSpace(text) == "" {
		return models.Failed(models.Failure{Kind: models.FailureEmptyOutput})
	}
	return models.Succeeded(text, latency, usage)
}

func httpFailure(status int, body string) *models.Failure {
	return &models.Failure{Kind: models.FailureHTTP, Status: status, Body: clip(body, errorBodyLimit)}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
