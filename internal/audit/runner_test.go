package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crhan/planaudit/internal/contextload"
	"github.com/crhan/planaudit/internal/logging"
	"github.com/crhan/planaudit/internal/models"
	"github.com/crhan/planaudit/internal/store"
)

type recordingAuditor struct {
	bundles []models.ContextBundle
	result  models.MergedDecision
	err     error
}

func (a *recordingAuditor) Audit(_ context.Context, plan string, bundle models.ContextBundle) (*models.AuditResult, error) {
	a.bundles = append(a.bundles, bundle)
	if a.err != nil {
		return nil, a.err
	}
	return &models.AuditResult{
		AuditID:     models.NewID(),
		PerReviewer: map[models.Role]*models.ReviewerResult{},
		Merged:      a.result,
	}, nil
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunner_PersistsAndFeedsPriorNotes(t *testing.T) {
	st := newStore(t)
	a := &recordingAuditor{result: models.MergedDecision{
		Decision: models.DecisionReject, Reason: "no rollback", Feedback: "add a down migration",
		AttributedTo: models.AttributedA, Policy: "symmetric",
	}}
	loader := &contextload.Loader{Home: t.TempDir(), Logger: logging.Discard()}
	r := NewRunner(a, loader, st, logging.Discard())

	ctx := context.Background()
	first, err := r.Run(ctx, Request{Plan: "drop table", SessionID: "s1", Cwd: t.TempDir()})
	require.NoError(t, err)

	rec, err := st.GetAudit(ctx, first.AuditID)
	require.NoError(t, err)
	assert.Equal(t, "drop table", rec.PlanText)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, models.DecisionReject, rec.Decision)

	_, err = r.Run(ctx, Request{Plan: "drop table, with backup", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, a.bundles, 2)
	assert.Empty(t, a.bundles[0].PriorReviewNotes)
	assert.Contains(t, a.bundles[1].PriorReviewNotes, "no rollback")
	assert.Contains(t, a.bundles[1].PriorReviewNotes, "add a down migration")
}

func TestRunner_WithoutStore(t *testing.T) {
	a := &recordingAuditor{result: models.MergedDecision{Decision: models.DecisionApprove}}
	r := NewRunner(a, &contextload.Loader{Logger: logging.Discard()}, nil, logging.Discard())

	res, err := r.Run(context.Background(), Request{Plan: "plan", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApprove, res.Merged.Decision)
	assert.Nil(t, r.Store())
}

func TestRunner_Errors(t *testing.T) {
	a := &recordingAuditor{err: ErrNoReviewers}
	r := NewRunner(a, &contextload.Loader{Logger: logging.Discard()}, nil, logging.Discard())

	_, err := r.Run(context.Background(), Request{Plan: "plan"})
	assert.True(t, errors.Is(err, ErrNoReviewers))

	_, err = r.Run(context.Background(), Request{Plan: " "})
	assert.ErrorIs(t, err, ErrEmptyPlan)
	assert.Len(t, a.bundles, 1)
}
