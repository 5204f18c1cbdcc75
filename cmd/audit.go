package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crhan/planaudit/internal/audit"
	"github.com/crhan/planaudit/internal/models"
	"github.com/crhan/planaudit/internal/output"
)

var (
	auditPlanFile string
	auditJSON     bool
)

var auditCmd = &cobra.Command{
	Use:   "audit [plan text...]",
	Short: "Audit a plan and print the review report",
	Long: `Audit an implementation plan with both reviewers and print a Markdown report.

The plan is read from --plan-file, from the positional arguments, or from
stdin. Stdin may be raw text or JSON:

  {"plan": "...", "session_id": "...", "cwd": "...", "transcript_path": "..."}

Exits with status 2 when the final decision is not APPROVE.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := auditRequest(auditPlanFile, args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		return auditRun(cmd, req)
	},
}

func init() {
	auditCmd.Flags().StringVarP(&auditPlanFile, "plan-file", "f", "", "Read the plan from a file")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Print the audit result as JSON")
	rootCmd.AddCommand(auditCmd)
}

// auditRequest resolves the plan source: file, then args, then stdin.
func auditRequest(planFile string, args []string, stdin io.Reader) (audit.Request, error) {
	var req audit.Request
	switch {
	case planFile != "":
		data, err := os.ReadFile(planFile)
		if err != nil {
			return req, fmt.Errorf("read plan file: %w", err)
		}
		abs, err := filepath.Abs(planFile)
		if err != nil {
			abs = planFile
		}
		req.Plan = string(data)
		req.PlanPath = abs
		req.Cwd = filepath.Dir(abs)
		req.TranscriptPath = os.Getenv("CLAUDE_TRANSCRIPT")
	case len(args) > 0:
		req.Plan = strings.Join(args, " ")
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return req, fmt.Errorf("read stdin: %w", err)
		}
		req = parseStdinRequest(data)
	}

	if strings.TrimSpace(req.Plan) == "" {
		return req, audit.ErrEmptyPlan
	}
	if req.Cwd == "" {
		req.Cwd, _ = os.Getwd()
	}
	return req, nil
}

// parseStdinRequest accepts a JSON request object or raw plan text.
func parseStdinRequest(data []byte) audit.Request {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		var req audit.Request
		if err := json.Unmarshal(trimmed, &req); err == nil && req.Plan != "" {
			return req
		}
	}
	return audit.Request{Plan: string(data)}
}

func auditRun(cmd *cobra.Command, req audit.Request) error {
	runner, _, err := buildRunner()
	if err != nil {
		return err
	}

	res, err := runner.Run(cmd.Context(), req)
	if err != nil {
		if errors.Is(err, audit.ErrNoReviewers) {
			return fmt.Errorf("%w: configure reviewers.a / reviewers.b or set an API key (see 'planaudit config show')", err)
		}
		return err
	}

	if err := printAudit(ui.Out, res, auditJSON); err != nil {
		return err
	}
	if res.Merged.Blocks() {
		return &exitError{code: 2}
	}
	return nil
}

func printAudit(w io.Writer, res *models.AuditResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err := fmt.Fprint(w, output.RenderReport(res))
	return err
}
