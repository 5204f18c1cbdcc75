package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crhan/planaudit/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func sampleRecord(session string, decision models.Decision, at time.Time) *models.AuditRecord {
	return &models.AuditRecord{
		SessionID:    session,
		Cwd:          "/work/app",
		PlanText:     "1. migrate db\n2. deploy",
		Decision:     decision,
		Reason:       "reason for " + string(decision),
		Feedback:     "fix it",
		AttributedTo: models.AttributedA,
		Policy:       "symmetric",
		Reviewers: []*models.ReviewerResult{
			{
				Role: models.RoleA, Name: "Qwen", Backend: "openai", Model: "qwen3.5-plus",
				Outcome: models.Succeeded("REJECT no rollback", 1500*time.Millisecond, map[string]any{"total_tokens": 12.0}),
				Verdict: &models.Verdict{Decision: models.DecisionReject, Reason: "Model rejected", Feedback: "REJECT no rollback"},
			},
			{
				Role: models.RoleB, Name: "Gemini", Backend: "gemini", Model: "gemini-3.1-pro-preview",
				Outcome: models.Failed(models.Failure{Kind: models.FailureHTTP, Status: 429, Body: "quota"}),
			},
		},
		DurationMs: 1600,
		CreatedAt:  at,
	}
}

func TestAuditCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("sess-1", models.DecisionReject, time.Now())
	require.NoError(t, s.CreateAudit(ctx, rec))
	assert.NotEmpty(t, rec.ID)

	got, err := s.GetAudit(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, got.SessionID)
	assert.Equal(t, rec.PlanText, got.PlanText)
	assert.Equal(t, models.DecisionReject, got.Decision)
	assert.Equal(t, models.AttributedA, got.AttributedTo)
	assert.Equal(t, int64(1600), got.DurationMs)
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Second)

	require.Len(t, got.Reviewers, 2)
	a, b := got.Reviewers[0], got.Reviewers[1]
	assert.Equal(t, "Qwen", a.Name)
	require.True(t, a.Outcome.OK())
	assert.Equal(t, 1500*time.Millisecond, a.Outcome.Success.Latency)
	require.NotNil(t, a.Verdict)
	assert.Equal(t, models.DecisionReject, a.Verdict.Decision)
	assert.Nil(t, b.Verdict)
	require.NotNil(t, b.Outcome.Failure)
	assert.Equal(t, 429, b.Outcome.Failure.Status)

	_, err = s.GetAudit(ctx, "nope")
	assert.True(t, IsNotFound(err))
}

func TestGetAuditByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("", models.DecisionApprove, time.Now())
	rec.ID = "01HAAAAAAAAAAAAAAAAAAAAAAA"
	require.NoError(t, s.CreateAudit(ctx, rec))
	other := sampleRecord("", models.DecisionApprove, time.Now())
	other.ID = "01HAAAAAAAAAAAAAAAAAAAAAAB"
	require.NoError(t, s.CreateAudit(ctx, other))

	got, err := s.GetAuditByPrefix(ctx, "01haaaaaaaaaaaaaaaaaaaaaab")
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID)

	_, err = s.GetAuditByPrefix(ctx, "01HA")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = s.GetAuditByPrefix(ctx, "ZZZ")
	assert.True(t, IsNotFound(err))

	// LIKE metacharacters match only themselves.
	for _, prefix := range []string{"_", "%", "01H_", "01HA%"} {
		_, err = s.GetAuditByPrefix(ctx, prefix)
		assert.True(t, IsNotFound(err), "prefix %q: %v", prefix, err)
	}
}

func TestListAudits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, d := range []models.Decision{models.DecisionApprove, models.DecisionReject, models.DecisionConcerns, models.DecisionReject} {
		session := "sess-1"
		if i%2 == 1 {
			session = "sess-2"
		}
		require.NoError(t, s.CreateAudit(ctx, sampleRecord(session, d, base.Add(time.Duration(i)*time.Minute))))
	}

	all, err := s.ListAudits(ctx, AuditListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.True(t, all[0].CreatedAt.After(all[3].CreatedAt), "newest first")

	rejects, err := s.ListAudits(ctx, AuditListFilter{Decision: models.DecisionReject})
	require.NoError(t, err)
	assert.Len(t, rejects, 2)

	sess1, err := s.ListAudits(ctx, AuditListFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Len(t, sess1, 2)

	limited, err := s.ListAudits(ctx, AuditListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLatestAuditForSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, s.CreateAudit(ctx, sampleRecord("sess-1", models.DecisionReject, base)))
	require.NoError(t, s.CreateAudit(ctx, sampleRecord("sess-1", models.DecisionConcerns, base.Add(time.Minute))))
	require.NoError(t, s.CreateAudit(ctx, sampleRecord("sess-2", models.DecisionApprove, base.Add(2*time.Minute))))

	got, err := s.LatestAuditForSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionConcerns, got.Decision)

	_, err = s.LatestAuditForSession(ctx, "sess-9")
	assert.True(t, IsNotFound(err))
	_, err = s.LatestAuditForSession(ctx, "")
	assert.True(t, IsNotFound(err))
}

func TestPruneAudits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateAudit(ctx, sampleRecord("", models.DecisionApprove, now.Add(-48*time.Hour))))
	require.NoError(t, s.CreateAudit(ctx, sampleRecord("", models.DecisionApprove, now)))

	n, err := s.PruneAudits(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.ListAudits(ctx, AuditListFilter{})
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestCreateAudit_RejectsUnknownDecision(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord("", models.Decision("MAYBE"), time.Now())
	assert.Error(t, s.CreateAudit(context.Background(), rec))
}
