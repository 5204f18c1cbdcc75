package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crhan/planaudit/internal/hook"
)

func hookPayload(tool, plan, cwd string) string {
	return `{"session_id":"s1","cwd":"` + cwd + `","hook_event_name":"PreToolUse","tool_name":"` + tool + `","tool_input":{"plan":"` + plan + `"}}`
}

func TestHookRun_Allow(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("HOME", dir)
	useReviewers(t,
		fakeReviewer(t, `{"decision":"APPROVE","reason":"good"}`),
		fakeReviewer(t, `{"decision":"APPROVE","reason":"good"}`),
	)

	var stdout, stderr bytes.Buffer
	err := hookRun(testCmd(), strings.NewReader(hookPayload(hook.GatedTool, "1. add index", dir)), &stdout, &stderr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hookSpecificOutput":{"hookEventName":"PreToolUse","permissionDecision":"allow","permissionDecisionReason":"Plan approved"}}`, stdout.String())
	assert.Empty(t, stderr.String())
}

func TestHookRun_Deny(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("HOME", dir)
	useReviewers(t,
		fakeReviewer(t, `{"decision":"REJECT","reason":"no rollback","feedback":"describe rollback"}`),
		fakeReviewer(t, `{"decision":"APPROVE","reason":"good"}`),
	)

	var stdout, stderr bytes.Buffer
	err := hookRun(testCmd(), strings.NewReader(hookPayload(hook.GatedTool, "1. migrate", dir)), &stdout, &stderr)

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), `"permissionDecision":"deny"`)
	assert.Contains(t, stderr.String(), "Plan review REJECT: no rollback")
	assert.Contains(t, stderr.String(), "describe rollback")
}

func TestHookRun_OtherToolAndDisabled(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("HOME", dir)

	var stdout, stderr bytes.Buffer
	require.NoError(t, hookRun(testCmd(), strings.NewReader(hookPayload("Bash", "ls", dir)), &stdout, &stderr))
	assert.Empty(t, stdout.String())

	t.Setenv("PLANAUDIT_OFF", "1")
	require.NoError(t, hookRun(testCmd(), strings.NewReader(hookPayload(hook.GatedTool, "1. x", dir)), &stdout, &stderr))
	assert.Empty(t, stdout.String())
	assert.Empty(t, stderr.String())
}

func TestHookRun_MalformedInput(t *testing.T) {
	testEnv(t)

	var stdout, stderr bytes.Buffer
	err := hookRun(testCmd(), strings.NewReader("{not json"), &stdout, &stderr)
	assert.NoError(t, err)
	assert.Empty(t, stdout.String())
}
