package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/crhan/planaudit/internal/contextload"
	"github.com/crhan/planaudit/internal/models"
	"github.com/crhan/planaudit/internal/store"
)

// Auditor runs one audit. *Orchestrator implements it.
type Auditor interface {
	Audit(ctx context.Context, plan string, bundle models.ContextBundle) (*models.AuditResult, error)
}

// Request is a plan plus the identifiers used to gather its context.
type Request struct {
	Plan           string `json:"plan"`
	PlanPath       string `json:"plan_path,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
}

// Runner wires context loading, the audit itself, and history persistence.
// It is shared by the CLI, the hook, the REST API and the MCP server.
type Runner struct {
	auditor Auditor
	loader  *contextload.Loader
	store   store.Store
	logger  *slog.Logger
}

// NewRunner creates a Runner. st may be nil to disable history; when set, the
// latest stored audit of a session backs the prior-review-notes section.
func NewRunner(a Auditor, loader *contextload.Loader, st store.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if loader == nil {
		loader = contextload.NewLoader()
	}
	r := &Runner{auditor: a, loader: loader, store: st, logger: logger}
	if st != nil && loader.Notes == nil {
		loader.Notes = r.priorNotes
	}
	return r
}

// Store returns the history store, or nil.
func (r *Runner) Store() store.Store {
	return r.store
}

// Run audits req.Plan and records the result.
func (r *Runner) Run(ctx context.Context, req Request) (*models.AuditResult, error) {
	if strings.TrimSpace(req.Plan) == "" {
		return nil, ErrEmptyPlan
	}
	bundle := r.loader.Load(contextload.Input{
		Cwd:            req.Cwd,
		SessionID:      req.SessionID,
		TranscriptPath: req.TranscriptPath,
		PlanPath:       req.PlanPath,
	})

	res, err := r.auditor.Audit(ctx, req.Plan, bundle)
	if err != nil {
		return nil, err
	}

	if r.store != nil {
		rec := models.NewAuditRecord(res, models.AuditSource{
			SessionID: req.SessionID,
			Cwd:       req.Cwd,
			PlanPath:  req.PlanPath,
			PlanText:  req.Plan,
		})
		if err := r.store.CreateAudit(ctx, rec); err != nil {
			r.logger.Warn("failed to save audit history", "audit_id", res.AuditID, "error", err)
		}
	}
	return res, nil
}

func (r *Runner) priorNotes(sessionID string) string {
	rec, err := r.store.LatestAuditForSession(context.Background(), sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("prior audit lookup failed", "session_id", sessionID, "error", err)
		}
		return ""
	}
	return rec.Notes()
}
