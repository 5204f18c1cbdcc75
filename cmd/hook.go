package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/crhan/planaudit/internal/contextload"
	"github.com/crhan/planaudit/internal/hook"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Run as a Claude Code PreToolUse hook",
	Long: `Read a PreToolUse payload from stdin and audit the plan of an ExitPlanMode call.

Configure in ~/.claude/settings.json:

  {
    "hooks": {
      "PreToolUse": [
        {"matcher": "ExitPlanMode", "hooks": [{"type": "command", "command": "planaudit hook"}]}
      ]
    }
  }

An approved plan prints an allow decision on stdout and exits 0. Any other
decision prints a deny decision on stderr and exits 2. Set PLANAUDIT_OFF=1 to
bypass the gate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !verbose {
			logConsole = io.Discard
		}
		return hookRun(cmd, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

func hookRun(cmd *cobra.Command, stdin io.Reader, stdout, stderr io.Writer) error {
	logger := getLogger()

	in, err := hook.ParseInput(stdin)
	if err != nil {
		// Malformed payloads never block the assistant.
		logger.Warn("hook input ignored", "error", err)
		return nil
	}

	runner, _, err := buildRunner()
	if err != nil {
		return err
	}

	home, _ := os.UserHomeDir()
	h := &hook.Handler{
		Runner:   runner,
		PlansDir: contextload.PlansDir(home),
		Disabled: os.Getenv("PLANAUDIT_OFF") == "1",
		Logger:   logger,
	}

	res, err := h.Handle(cmd.Context(), in)
	if err != nil {
		return err
	}

	switch res.Action {
	case hook.Allow:
		return writeHookOutput(stdout, res.Output)
	case hook.Deny:
		if err := writeHookOutput(stderr, res.Output); err != nil {
			return err
		}
		return &exitError{code: 2}
	}
	return nil
}

func writeHookOutput(w io.Writer, out *hook.Output) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode hook output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
