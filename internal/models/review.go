package models

import (
	"strings"
	"time"
)

// Decision is a reviewer's or the gate's verdict on a plan.
type Decision string

const (
	DecisionApprove  Decision = "APPROVE"
	DecisionConcerns Decision = "CONCERNS"
	DecisionReject   Decision = "REJECT"
)

// ParseDecision maps a token to a Decision, case-insensitively.
// Anything that is not one of the three tokens reports ok=false.
func ParseDecision(s string) (Decision, bool) {
	switch Decision(strings.ToUpper(strings.TrimSpace(s))) {
	case DecisionApprove:
		return DecisionApprove, true
	case DecisionConcerns:
		return DecisionConcerns, true
	case DecisionReject:
		return DecisionReject, true
	}
	return DecisionConcerns, false
}

// Severity orders decisions: APPROVE < CONCERNS < REJECT.
func (d Decision) Severity() int {
	switch d {
	case DecisionApprove:
		return 0
	case DecisionReject:
		return 2
	default:
		return 1
	}
}

// Role identifies one of the two reviewer slots.
type Role string

const (
	RoleA Role = "a"
	RoleB Role = "b"
)

// Roles is the fixed evaluation order. Tie-breaks favour earlier roles.
var Roles = []Role{RoleA, RoleB}

// Attribution names which reviewer(s) a merged decision came from.
type Attribution string

const (
	AttributedA    Attribution = "a"
	AttributedB    Attribution = "b"
	AttributedBoth Attribution = "both"
	AttributedNone Attribution = "none"
)

// AttributionFor returns the single-reviewer attribution for a role.
func AttributionFor(r Role) Attribution {
	if r == RoleB {
		return AttributedB
	}
	return AttributedA
}

// Verdict is the structured opinion extracted from one reviewer's response.
// A nil *Verdict means the reviewer is absent (failed or not invoked).
type Verdict struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
	Feedback string   `json:"feedback"`
}

// MergedDecision is the final gating decision for one audit.
type MergedDecision struct {
	Decision     Decision    `json:"decision"`
	Reason       string      `json:"reason"`
	Feedback     string      `json:"feedback,omitempty"`
	AttributedTo Attribution `json:"attributed_to"`
	Policy       string      `json:"policy"`
}

// Blocks reports whether the decision should stop plan execution.
func (m MergedDecision) Blocks() bool {
	return m.Decision != DecisionApprove
}

// ReviewerResult records one reviewer's outcome and parsed verdict.
type ReviewerResult struct {
	Role    Role     `json:"role"`
	Name    string   `json:"name"`
	Backend string   `json:"backend"`
	Model   string   `json:"model"`
	Outcome Outcome  `json:"outcome"`
	Verdict *Verdict `json:"verdict,omitempty"`
}

// AuditResult is everything produced by a single audit.
type AuditResult struct {
	AuditID     string                   `json:"audit_id"`
	PerReviewer map[Role]*ReviewerResult `json:"per_reviewer"`
	Merged      MergedDecision           `json:"merged"`
	StartedAt   time.Time                `json:"started_at"`
	Duration    time.Duration            `json:"duration"`
}

// Reviewer returns the result for a role, or nil when that reviewer was not invoked.
func (r *AuditResult) Reviewer(role Role) *ReviewerResult {
	if r == nil || r.PerReviewer == nil {
		return nil
	}
	return r.PerReviewer[role]
}

// AuditRecord is a persisted audit, as stored in the history database.
type AuditRecord struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id,omitempty"`
	Cwd          string            `json:"cwd,omitempty"`
	PlanPath     string            `json:"plan_path,omitempty"`
	PlanText     string            `json:"plan_text"`
	Decision     Decision          `json:"decision"`
	Reason       string            `json:"reason"`
	Feedback     string            `json:"feedback,omitempty"`
	AttributedTo Attribution       `json:"attributed_to"`
	Policy       string            `json:"policy"`
	Reviewers    []*ReviewerResult `json:"reviewers"`
	DurationMs   int64             `json:"duration_ms"`
	CreatedAt    time.Time         `json:"created_at"`
}

// AuditSource describes where an audited plan came from.
type AuditSource struct {
	SessionID string
	Cwd       string
	PlanPath  string
	PlanText  string
}

// NewAuditRecord flattens an audit result for storage. Reviewers are ordered by role.
func NewAuditRecord(res *AuditResult, src AuditSource) *AuditRecord {
	rec := &AuditRecord{
		ID:           res.AuditID,
		SessionID:    src.SessionID,
		Cwd:          src.Cwd,
		PlanPath:     src.PlanPath,
		PlanText:     src.PlanText,
		Decision:     res.Merged.Decision,
		Reason:       res.Merged.Reason,
		Feedback:     res.Merged.Feedback,
		AttributedTo: res.Merged.AttributedTo,
		Policy:       res.Merged.Policy,
		DurationMs:   res.Duration.Milliseconds(),
		CreatedAt:    res.StartedAt,
	}
	for _, role := range Roles {
		if r := res.Reviewer(role); r != nil {
			rec.Reviewers = append(rec.Reviewers, r)
		}
	}
	return rec
}

// Notes renders the record's outcome as prior review notes for a later audit.
func (r *AuditRecord) Notes() string {
	s := "Previous review decision: " + string(r.Decision) + "\nReason: " + r.Reason
	if r.Feedback != "" {
		s += "\nFeedback:\n" + r.Feedback
	}
	return s
}
