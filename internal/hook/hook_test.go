package hook

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crhan/planaudit/internal/audit"
	"github.com/crhan/planaudit/internal/logging"
	"github.com/crhan/planaudit/internal/models"
)

type stubRunner struct {
	merged models.MergedDecision
	err    error
	got    []audit.Request
}

func (s *stubRunner) Run(_ context.Context, req audit.Request) (*models.AuditResult, error) {
	s.got = append(s.got, req)
	if s.err != nil {
		return nil, s.err
	}
	return &models.AuditResult{AuditID: "A", Merged: s.merged}, nil
}

func input(t *testing.T, raw string) *Input {
	t.Helper()
	in, err := ParseInput(strings.NewReader(raw))
	require.NoError(t, err)
	return in
}

const exitPlanInput = `{"session_id":"s1","transcript_path":"/tmp/t.jsonl","cwd":"/work","hook_event_name":"PreToolUse","tool_name":"ExitPlanMode","tool_input":{"plan":"1. do it"}}`

func TestParseInput(t *testing.T) {
	in := input(t, exitPlanInput)
	assert.Equal(t, "s1", in.SessionID)
	assert.Equal(t, "ExitPlanMode", in.ToolName)
	assert.Equal(t, "1. do it", in.ToolInput.Plan)

	_, err := ParseInput(strings.NewReader("not json"))
	assert.Error(t, err)
}

func TestHandle_Approve(t *testing.T) {
	r := &stubRunner{merged: models.MergedDecision{Decision: models.DecisionApprove, Reason: "ok"}}
	h := &Handler{Runner: r, Logger: logging.Discard()}

	res, err := h.Handle(context.Background(), input(t, exitPlanInput))
	require.NoError(t, err)
	assert.Equal(t, Allow, res.Action)

	data, err := json.Marshal(res.Output)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hookSpecificOutput":{"hookEventName":"PreToolUse","permissionDecision":"allow","permissionDecisionReason":"Plan approved"}}`, string(data))

	require.Len(t, r.got, 1)
	assert.Equal(t, audit.Request{Plan: "1. do it", SessionID: "s1", Cwd: "/work", TranscriptPath: "/tmp/t.jsonl"}, r.got[0])
}

func TestHandle_Deny(t *testing.T) {
	r := &stubRunner{merged: models.MergedDecision{Decision: models.DecisionReject, Reason: "unsafe", Feedback: "add backups"}}
	h := &Handler{Runner: r, Logger: logging.Discard()}

	res, err := h.Handle(context.Background(), input(t, exitPlanInput))
	require.NoError(t, err)
	assert.Equal(t, Deny, res.Action)
	assert.Equal(t, "deny", res.Output.HookSpecificOutput.PermissionDecision)
	assert.Equal(t, "Plan review REJECT: unsafe\n\nFeedback: add backups", res.Output.HookSpecificOutput.PermissionDecisionReason)
}

func TestHandle_ConcernsBlocks(t *testing.T) {
	r := &stubRunner{merged: models.MergedDecision{Decision: models.DecisionConcerns, Reason: "thin"}}
	h := &Handler{Runner: r, Logger: logging.Discard()}

	res, err := h.Handle(context.Background(), input(t, exitPlanInput))
	require.NoError(t, err)
	assert.Equal(t, Deny, res.Action)
	assert.Equal(t, "Plan review CONCERNS: thin", res.Output.HookSpecificOutput.PermissionDecisionReason)
}

func TestHandle_Skips(t *testing.T) {
	r := &stubRunner{}

	t.Run("other tool", func(t *testing.T) {
		h := &Handler{Runner: r, Logger: logging.Discard()}
		res, err := h.Handle(context.Background(), input(t, `{"tool_name":"Bash","tool_input":{"plan":"x"}}`))
		require.NoError(t, err)
		assert.Equal(t, Skip, res.Action)
	})

	t.Run("disabled", func(t *testing.T) {
		h := &Handler{Runner: r, Disabled: true, Logger: logging.Discard()}
		res, err := h.Handle(context.Background(), input(t, exitPlanInput))
		require.NoError(t, err)
		assert.Equal(t, Skip, res.Action)
	})

	t.Run("no plan anywhere", func(t *testing.T) {
		h := &Handler{Runner: r, PlansDir: t.TempDir(), Logger: logging.Discard()}
		res, err := h.Handle(context.Background(), input(t, `{"tool_name":"ExitPlanMode","tool_input":{}}`))
		require.NoError(t, err)
		assert.Equal(t, Skip, res.Action)
	})

	assert.Empty(t, r.got)
}

func TestHandle_FallsBackToLatestPlanFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "my-plan.md"), []byte("plan from file"), 0o644))

	r := &stubRunner{merged: models.MergedDecision{Decision: models.DecisionApprove}}
	h := &Handler{Runner: r, PlansDir: dir, Logger: logging.Discard()}

	res, err := h.Handle(context.Background(), input(t, `{"session_id":"s","tool_name":"ExitPlanMode","tool_input":{}}`))
	require.NoError(t, err)
	assert.Equal(t, Allow, res.Action)
	require.Len(t, r.got, 1)
	assert.Equal(t, "plan from file", r.got[0].Plan)
	assert.Equal(t, filepath.Join(dir, "my-plan.md"), r.got[0].PlanPath)
}

func TestHandle_AuditError(t *testing.T) {
	r := &stubRunner{err: audit.ErrNoReviewers}
	h := &Handler{Runner: r, Logger: logging.Discard()}

	_, err := h.Handle(context.Background(), input(t, exitPlanInput))
	assert.ErrorIs(t, err, audit.ErrNoReviewers)
}
