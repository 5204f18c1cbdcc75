// Package hook implements the PreToolUse gate that audits a plan before the
// assistant leaves plan mode.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/crhan/planaudit/internal/audit"
	"github.com/crhan/planaudit/internal/contextload"
	"github.com/crhan/planaudit/internal/models"
)

const (
	// GatedTool is the only tool whose calls are audited.
	GatedTool = "ExitPlanMode"
	eventName = "PreToolUse"
)

// Input is the JSON document the assistant writes to the hook's stdin.
type Input struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
	ToolName       string `json:"tool_name"`
	ToolInput      struct {
		Plan     string `json:"plan"`
		PlanPath string `json:"plan_path"`
	} `json:"tool_input"`
}

// ParseInput decodes the hook payload.
func ParseInput(r io.Reader) (*Input, error) {
	var in Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode hook input: %w", err)
	}
	return &in, nil
}

// Output is the hook-specific response understood by the assistant.
type Output struct {
	HookSpecificOutput Permission `json:"hookSpecificOutput"`
}

// Permission carries the allow/deny decision.
type Permission struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason"`
}

func newOutput(decision, reason string) *Output {
	return &Output{HookSpecificOutput: Permission{
		HookEventName:            eventName,
		PermissionDecision:       decision,
		PermissionDecisionReason: reason,
	}}
}

// DenyReason formats a blocking decision for the assistant to act on.
func DenyReason(m models.MergedDecision) string {
	msg := fmt.Sprintf("Plan review %s: %s", m.Decision, m.Reason)
	if m.Feedback != "" {
		msg += "\n\nFeedback: " + m.Feedback
	}
	return msg
}

// Action is what the caller should do with the tool call.
type Action int

const (
	// Skip means the hook does not apply; exit quietly.
	Skip Action = iota
	// Allow lets the tool call proceed.
	Allow
	// Deny blocks the tool call.
	Deny
)

// Result is the outcome of handling one hook invocation.
type Result struct {
	Action Action
	Output *Output
	Audit  *models.AuditResult
}

// Runner runs an audit. *audit.Runner implements it.
type Runner interface {
	Run(ctx context.Context, req audit.Request) (*models.AuditResult, error)
}

// Handler audits ExitPlanMode calls.
type Handler struct {
	Runner   Runner
	PlansDir string // fallback directory for the latest plan file
	Disabled bool
	Logger   *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Handle audits the plan in in. Calls for other tools, a disabled gate, or a
// missing plan are skipped. Errors from the audit itself are returned.
func (h *Handler) Handle(ctx context.Context, in *Input) (Result, error) {
	if h.Disabled {
		h.logger().Debug("plan review disabled by environment")
		return Result{Action: Skip}, nil
	}
	if in.ToolName != GatedTool {
		return Result{Action: Skip}, nil
	}

	plan, planPath := in.ToolInput.Plan, in.ToolInput.PlanPath
	if strings.TrimSpace(plan) == "" && h.PlansDir != "" {
		path, text, err := contextload.LatestPlan(h.PlansDir)
		if err == nil {
			plan, planPath = text, path
			h.logger().Debug("using latest plan file", "path", path)
		}
	}
	if strings.TrimSpace(plan) == "" {
		h.logger().Debug("no plan found", "session_id", in.SessionID)
		return Result{Action: Skip}, nil
	}

	res, err := h.Runner.Run(ctx, audit.Request{
		Plan:           plan,
		PlanPath:       planPath,
		SessionID:      in.SessionID,
		Cwd:            in.Cwd,
		TranscriptPath: in.TranscriptPath,
	})
	if err != nil {
		return Result{}, err
	}

	if !res.Merged.Blocks() {
		return Result{Action: Allow, Output: newOutput("allow", "Plan approved"), Audit: res}, nil
	}
	return Result{Action: Deny, Output: newOutput("deny", DenyReason(res.Merged)), Audit: res}, nil
}
