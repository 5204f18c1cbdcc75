package consensus

import (
	"fmt"

	"github.com/crhan/planaudit/internal/models"
)

// Symmetric is the REJECT-dominant policy: any rejection blocks, two
// hesitations escalate to a rejection, one hesitation is a warning.
type Symmetric struct {
	Names Names
}

func (p *Symmetric) Name() string { return PolicySymmetric }

func (p *Symmetric) Merge(a, b *models.Verdict) models.MergedDecision {
	switch {
	case a == nil && b == nil:
		return failOpen(p.Name())
	case b == nil:
		return single(a, models.RoleA, p.Name())
	case a == nil:
		return single(b, models.RoleB, p.Name())
	}

	aReject := a.Decision == models.DecisionReject
	bReject := b.Decision == models.DecisionReject
	if aReject || bReject {
		src, attr := a, models.AttributedA
		switch {
		case aReject && bReject:
			attr = models.AttributedBoth
		case bReject:
			src, attr = b, models.AttributedB
		}
		return finalize(models.MergedDecision{
			Decision:     models.DecisionReject,
			Reason:       src.Reason,
			Feedback:     src.Feedback,
			AttributedTo: attr,
			Policy:       p.Name(),
		})
	}

	aConcerns := a.Decision == models.DecisionConcerns
	bConcerns := b.Decision == models.DecisionConcerns
	switch {
	case aConcerns && bConcerns:
		return finalize(models.MergedDecision{
			Decision: models.DecisionReject,
			Reason:   ReasonBothConcerns,
			Feedback: fmt.Sprintf("%s: %s\n%s: %s",
				p.Names.of(models.RoleA), a.Reason, p.Names.of(models.RoleB), b.Reason),
			AttributedTo: models.AttributedBoth,
			Policy:       p.Name(),
		})
	case aConcerns || bConcerns:
		concerned, attr := a, models.AttributedA
		if bConcerns {
			concerned, attr = b, models.AttributedB
		}
		reason := concerned.Reason
		if reason == "" {
			reason = "one reviewer has concerns"
		}
		return finalize(models.MergedDecision{
			Decision:     models.DecisionApprove,
			Reason:       "Warning: " + reason,
			AttributedTo: attr,
			Policy:       p.Name(),
		})
	}

	reason := a.Reason
	if reason == "" {
		reason = b.Reason
	}
	if reason == "" {
		reason = "both reviewers approved"
	}
	return finalize(models.MergedDecision{
		Decision:     models.DecisionApprove,
		Reason:       reason,
		AttributedTo: models.AttributedBoth,
		Policy:       p.Name(),
	})
}
