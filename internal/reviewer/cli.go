package reviewer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// waitDelay bounds how long a killed command may hold its output pipes.
const waitDelay = 2 * time.Second

type cliClient struct {
	kind    string
	command string
	model   string
	proxy   string
}

func newCLI(cfg Config) *cliClient {
	command := cfg.Command
	if command == "" {
		command = defaultCommand(cfg.Backend)
	}
	return &cliClient{kind: cfg.Backend, command: command, model: cfg.Model, proxy: cfg.Proxy}
}

func defaultCommand(backend string) string {
	if backend == BackendQwenCLI {
		return "qwen"
	}
	return "gemini"
}

func (c *cliClient) args(prompt string) []string {
	var args []string
	if c.model != "" {
		args = append(args, "-m", c.model)
	}
	args = append(args, "-p", prompt)
	if c.kind == BackendQwenCLI {
		args = append(args, "-o", "json")
	}
	return args
}

func (c *cliClient) env() []string {
	env := os.Environ()
	if c.proxy != "" {
		for _, k := range []string{"http_proxy", "https_proxy", "HTTP_PROXY", "HTTPS_PROXY"} {
			env = append(env, k+"="+c.proxy)
		}
	}
	return env
}

func (c *cliClient) complete(ctx context.Context, system, user string) (string, map[string]any, error) {
	cmd := exec.CommandContext(ctx, c.command, c.args(Combined(system, user))...)
	cmd.Env = c.env()
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", nil, fmt.Errorf("%s exited with code %d: %s", c.command, exitErr.ExitCode(), stderrMessage(stderr.String()))
		}
		return "", nil, err
	}

	out := strings.TrimSpace(stdout.String())
	if c.kind == BackendQwenCLI {
		return parseQwenOutput(out)
	}
	return out, nil, nil
}

var messageField = regexp.MustCompile(`"message"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// stderrMessage pulls a JSON "message" value out of a CLI's error output,
// falling back to its first non-blank line.
func stderrMessage(stderr string) string {
	if m := messageField.FindStringSubmatch(stderr); m != nil {
		var s string
		if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &s); err == nil {
			return s
		}
		return m[1]
	}
	for _, line := range strings.Split(stderr, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return clip(line, errorBodyLimit)
		}
	}
	return "no error output"
}

type qwenEvent struct {
	Result *string        `json:"result"`
	Usage  map[string]any `json:"usage"`
}

// parseQwenOutput reads the JSON event array printed by `qwen -o json`; the
// review text is the result of the last event. Non-JSON output is returned as is.
func parseQwenOutput(out string) (string, map[string]any, error) {
	if out == "" {
		return "", nil, nil
	}
	var events []qwenEvent
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		return out, nil, nil
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Result != nil {
			return *events[i].Result, events[i].Usage, nil
		}
	}
	return "", nil, nil
}
