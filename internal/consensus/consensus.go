// Package consensus merges two reviewer opinions into one gating decision.
package consensus

import (
	"fmt"
	"strings"

	"github.com/crhan/planaudit/internal/models"
)

const (
	// PolicySymmetric treats both reviewers as equals with REJECT dominant.
	PolicySymmetric = "symmetric"
	// PolicyPrimaryAdvisory makes one reviewer authoritative and the other advisory.
	PolicyPrimaryAdvisory = "primary-advisory"

	ReasonNoReviewer   = "no reviewer available"
	ReasonBothConcerns = "both reviewers have concerns"
)

// Policy combines two opinions. A nil verdict is an absent reviewer.
// Implementations are pure and total over every decision/absence pair.
type Policy interface {
	Name() string
	Merge(a, b *models.Verdict) models.MergedDecision
}

// Names maps each role to the label used in merged feedback.
type Names map[models.Role]string

func (n Names) of(r models.Role) string {
	if s := n[r]; s != "" {
		return s
	}
	return "reviewer " + strings.ToUpper(string(r))
}

// New returns the policy registered under name. primary selects the
// authoritative reviewer for the primary-advisory profile.
func New(name string, primary models.Role, names Names) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicySymmetric:
		return &Symmetric{Names: names}, nil
	case PolicyPrimaryAdvisory:
		if primary != models.RoleA && primary != models.RoleB {
			return nil, fmt.Errorf("invalid primary reviewer %q (must be a or b)", primary)
		}
		return &PrimaryAdvisory{Primary: primary}, nil
	default:
		return nil, fmt.Errorf("unknown consensus policy: %s (supported: %s, %s)", name, PolicySymmetric, PolicyPrimaryAdvisory)
	}
}

// failOpen is the decision when no reviewer produced an opinion.
func failOpen(policy string) models.MergedDecision {
	return models.MergedDecision{
		Decision:     models.DecisionApprove,
		Reason:       ReasonNoReviewer,
		AttributedTo: models.AttributedNone,
		Policy:       policy,
	}
}

// single adopts one reviewer's verdict.
func single(v *models.Verdict, role models.Role, policy string) models.MergedDecision {
	return finalize(models.MergedDecision{
		Decision:     v.Decision,
		Reason:       v.Reason,
		Feedback:     v.Feedback,
		AttributedTo: models.AttributionFor(role),
		Policy:       policy,
	})
}

var defaultReasons = map[models.Decision]string{
	models.DecisionConcerns: "Model has concerns",
	models.DecisionReject:   "Model rejected",
}

// finalize enforces the output invariant: blocking decisions carry a reason,
// and only blocking decisions carry feedback.
func finalize(m models.MergedDecision) models.MergedDecision {
	if m.Decision == models.DecisionApprove {
		m.Feedback = ""
		return m
	}
	if strings.TrimSpace(m.Reason) == "" {
		m.Reason = defaultReasons[m.Decision]
	}
	return m
}
