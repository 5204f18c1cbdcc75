// Package audit runs both reviewers against a plan and merges their verdicts.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crhan/planaudit/internal/consensus"
	"github.com/crhan/planaudit/internal/models"
	"github.com/crhan/planaudit/internal/reviewer"
	"github.com/crhan/planaudit/internal/verdict"
)

var (
	// ErrNoReviewers means no reviewer had a usable backend, so no decision was made.
	ErrNoReviewers = errors.New("no reviewers configured")
	// ErrEmptyPlan is returned for a blank plan.
	ErrEmptyPlan = errors.New("plan text is empty")
)

// Slot is one configured reviewer and its client.
type Slot struct {
	Config reviewer.Config
	Client reviewer.Client
}

// Orchestrator owns the end-to-end audit.
type Orchestrator struct {
	slots   []Slot
	policy  consensus.Policy
	timeout time.Duration
	logger  *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout sets the per-reviewer deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithLogger sets the log sink.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator over prepared slots.
func New(slots []Slot, policy consensus.Policy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		slots:   slots,
		policy:  policy,
		timeout: reviewer.DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FromConfigs builds clients for every ready reviewer config. Reviewers whose
// backend needs a credential and has none are skipped with a warning.
func FromConfigs(cfgs []reviewer.Config, policy consensus.Policy, opts ...Option) (*Orchestrator, error) {
	o := New(nil, policy, opts...)
	for _, cfg := range cfgs {
		if !cfg.Ready() {
			o.logger.Warn("reviewer skipped: no API key", "reviewer", cfg.Name, "role", cfg.Role, "backend", cfg.Backend)
			continue
		}
		c, err := reviewer.New(cfg, o.logger)
		if err != nil {
			return nil, fmt.Errorf("reviewer %s: %w", cfg.Role, err)
		}
		o.slots = append(o.slots, Slot{Config: cfg, Client: c})
	}
	return o, nil
}

// Reviewers returns the configs of the reviewers that will be invoked.
func (o *Orchestrator) Reviewers() []reviewer.Config {
	out := make([]reviewer.Config, len(o.slots))
	for i, s := range o.slots {
		out[i] = s.Config
	}
	return out
}

// Policy returns the consensus policy in use.
func (o *Orchestrator) Policy() consensus.Policy {
	return o.policy
}

// Audit sends plan to every reviewer concurrently, waits for all of them, and
// merges the verdicts. It fails only for an empty plan or when no reviewer is
// configured; reviewer failures become absent opinions.
func (o *Orchestrator) Audit(ctx context.Context, plan string, bundle models.ContextBundle) (*models.AuditResult, error) {
	if strings.TrimSpace(plan) == "" {
		return nil, ErrEmptyPlan
	}
	if len(o.slots) == 0 {
		return nil, ErrNoReviewers
	}

	auditID := models.NewID()
	log := o.logger.With("audit_id", auditID)
	started := time.Now()
	log.Debug("audit started", "reviewers", len(o.slots), "policy", o.policy.Name(), "plan_chars", len(plan))

	results := make([]*models.ReviewerResult, len(o.slots))
	var g errgroup.Group
	for i, slot := range o.slots {
		req := models.ReviewRequest{
			PlanText:  plan,
			Context:   bundle,
			Timeout:   o.timeout,
			AuditID:   auditID,
			RequestID: models.NewID(),
		}
		g.Go(func() error {
			results[i] = o.review(ctx, slot, req)
			return nil
		})
	}
	_ = g.Wait()

	out := &models.AuditResult{
		AuditID:     auditID,
		PerReviewer: make(map[models.Role]*models.ReviewerResult, len(results)),
		StartedAt:   started,
	}
	var a, b *models.Verdict
	for _, r := range results {
		out.PerReviewer[r.Role] = r
		switch r.Role {
		case models.RoleA:
			a = r.Verdict
		case models.RoleB:
			b = r.Verdict
		}
	}
	out.Merged = o.policy.Merge(a, b)
	out.Duration = time.Since(started)

	log.Info("plan audit decision",
		"decision", out.Merged.Decision,
		"reason", out.Merged.Reason,
		"attributed_to", out.Merged.AttributedTo,
		"policy", out.Merged.Policy,
		"elapsed", out.Duration.Round(time.Millisecond),
	)
	return out, nil
}

func (o *Orchestrator) review(ctx context.Context, slot Slot, req models.ReviewRequest) *models.ReviewerResult {
	res := &models.ReviewerResult{
		Role:    slot.Config.Role,
		Name:    slot.Config.Name,
		Backend: slot.Config.Backend,
		Model:   slot.Config.Model,
	}
	res.Outcome = slot.Client.Invoke(ctx, req)
	if res.Outcome.OK() {
		v := verdict.Parse(res.Outcome.Success.RawText)
		res.Verdict = &v
		o.logger.Debug("reviewer verdict",
			"audit_id", req.AuditID,
			"request_id", req.RequestID,
			"reviewer", res.Name,
			"decision", v.Decision,
			"reason", v.Reason,
		)
	}
	return res
}
