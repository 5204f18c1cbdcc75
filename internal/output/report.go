package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/crhan/planaudit/internal/models"
)

var decisionIcons = map[models.Decision]string{
	models.DecisionApprove:  "✅",
	models.DecisionConcerns: "⚠️",
	models.DecisionReject:   "❌",
}

// RenderReport formats an audit as Markdown: one section per invoked reviewer
// with its raw response or error, then the merged decision.
func RenderReport(res *models.AuditResult) string {
	var b strings.Builder
	b.WriteString("# Plan Audit Report\n\n")
	fmt.Fprintf(&b, "Audit `%s` · %s\n\n---\n\n", res.AuditID, res.Duration.Round(time.Millisecond))

	var summary []string
	for _, role := range models.Roles {
		r := res.Reviewer(role)
		if r == nil {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", reviewerTitle(r))
		fmt.Fprintf(&b, "**Model**: %s (%s)\n\n", orNA(r.Model), r.Backend)
		switch {
		case r.Outcome.Success != nil:
			fmt.Fprintf(&b, "_Responded in %s_\n\n", r.Outcome.Success.Latency.Round(time.Millisecond))
			b.WriteString(strings.TrimSpace(r.Outcome.Success.RawText))
			b.WriteString("\n")
		case r.Outcome.Failure != nil:
			fmt.Fprintf(&b, "❌ Error (%s): %s\n", r.Outcome.Failure.Kind, r.Outcome.Failure.Error())
		}
		b.WriteString("\n---\n\n")

		if r.Verdict != nil {
			summary = append(summary, fmt.Sprintf("%s %s: %s", decisionIcons[r.Verdict.Decision], reviewerTitle(r), r.Verdict.Decision))
		} else {
			summary = append(summary, fmt.Sprintf("➖ %s: no opinion (%s)", reviewerTitle(r), r.Outcome.Class()))
		}
	}

	b.WriteString("## Conclusion\n\n")
	for _, line := range summary {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(summary) > 0 {
		b.WriteString("\n")
	}

	m := res.Merged
	fmt.Fprintf(&b, "%s **Final decision: %s** - %s\n", decisionIcons[m.Decision], m.Decision, m.Reason)
	fmt.Fprintf(&b, "\n_Attributed to: %s · policy: %s_\n", m.AttributedTo, m.Policy)
	if m.Feedback != "" {
		b.WriteString("\n**Feedback**:\n\n")
		b.WriteString(m.Feedback)
		b.WriteString("\n")
	}
	return b.String()
}

func reviewerTitle(r *models.ReviewerResult) string {
	if r.Name != "" {
		return r.Name
	}
	return "Reviewer " + strings.ToUpper(string(r.Role))
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
