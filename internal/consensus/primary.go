package consensus

import "github.com/crhan/planaudit/internal/models"

// PrimaryAdvisory trusts one reviewer's verdict and lets the other only
// escalate it. A failed advisory reviewer is ignored; a primary REJECT is final.
type PrimaryAdvisory struct {
	Primary models.Role
}

func (p *PrimaryAdvisory) Name() string { return PolicyPrimaryAdvisory }

func (p *PrimaryAdvisory) roles() (primary, advisory models.Role) {
	if p.Primary == models.RoleB {
		return models.RoleB, models.RoleA
	}
	return models.RoleA, models.RoleB
}

func (p *PrimaryAdvisory) Merge(a, b *models.Verdict) models.MergedDecision {
	primaryRole, advisoryRole := p.roles()
	primary, advisory := a, b
	if primaryRole == models.RoleB {
		primary, advisory = b, a
	}

	switch {
	case primary == nil && advisory == nil:
		return failOpen(p.Name())
	case advisory == nil:
		return single(primary, primaryRole, p.Name())
	case primary == nil:
		return single(advisory, advisoryRole, p.Name())
	}

	if advisory.Decision.Severity() > primary.Decision.Severity() {
		return single(advisory, advisoryRole, p.Name())
	}
	if primary.Decision == models.DecisionApprove && advisory.Decision == models.DecisionApprove {
		m := single(primary, primaryRole, p.Name())
		m.AttributedTo = models.AttributedBoth
		if m.Reason == "" {
			m.Reason = advisory.Reason
		}
		return m
	}
	return single(primary, primaryRole, p.Name())
}
