package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crhan/planaudit/internal/models"
	"github.com/crhan/planaudit/internal/output"
	"github.com/crhan/planaudit/internal/store"
)

var (
	historySession   string
	historyDecision  string
	historyLimit     int
	historyJSON      bool
	historyOlderThan string
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"hist"},
	Short:   "Browse stored plan audits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListRun(cmd)
	},
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audits, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListRun(cmd)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <audit-id>",
	Short: "Show the report of a stored audit (id or unique prefix)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd, args[0])
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audits older than a given age",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyPruneRun(cmd)
	},
}

func init() {
	for _, c := range []*cobra.Command{historyCmd, historyListCmd} {
		c.Flags().StringVar(&historySession, "session", "", "Filter by session ID")
		c.Flags().StringVar(&historyDecision, "decision", "", "Filter by decision (APPROVE, CONCERNS, REJECT)")
		c.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of audits")
	}
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "Print the stored record as JSON")
	historyPruneCmd.Flags().StringVar(&historyOlderThan, "older-than", "30d", "Age threshold (e.g. 30d, 72h)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	filter := store.AuditListFilter{SessionID: historySession, Limit: historyLimit}
	if historyDecision != "" {
		d, ok := models.ParseDecision(historyDecision)
		if !ok {
			return fmt.Errorf("invalid decision %q (must be APPROVE, CONCERNS or REJECT)", historyDecision)
		}
		filter.Decision = d
	}

	recs, err := s.ListAudits(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		ui.Info("No audits recorded")
		return nil
	}

	table := ui.Table([]string{"ID", "When", "Decision", "By", "Reviewers", "Reason"})
	for _, r := range recs {
		_ = table.Append([]string{
			output.Cyan(shortID(r.ID)),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			output.DecisionColor(string(r.Decision)),
			string(r.AttributedTo),
			reviewerSummary(r.Reviewers),
			truncateText(r.Reason, 60),
		})
	}
	return table.Render()
}

func historyShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	rec, err := s.GetAuditByPrefix(cmd.Context(), id)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	ui.Info("Audit %s (%s)", rec.ID, rec.CreatedAt.Local().Format(time.RFC3339))
	if rec.PlanPath != "" {
		ui.Info("Plan: %s", rec.PlanPath)
	}
	ui.VerboseLog("Session: %s", orDash(rec.SessionID))
	ui.VerboseLog("Cwd: %s", orDash(rec.Cwd))
	for _, r := range rec.Reviewers {
		ui.Info("Reviewer %s (%s/%s): %s", r.Name, r.Backend, r.Model, output.OutcomeColor(r.Outcome.Class()))
	}
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, output.RenderReport(recordResult(rec)))
	return nil
}

func historyPruneRun(cmd *cobra.Command) error {
	age, err := parseAge(historyOlderThan)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-age)

	if dryRun {
		ui.DryRunMsg("Would delete audits recorded before %s", cutoff.Local().Format(time.RFC3339))
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	n, err := s.PruneAudits(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	ui.Success("Deleted %d audit(s) older than %s", n, historyOlderThan)
	return nil
}

// recordResult rebuilds an AuditResult from a stored record for rendering.
func recordResult(rec *models.AuditRecord) *models.AuditResult {
	res := &models.AuditResult{
		AuditID:     rec.ID,
		PerReviewer: make(map[models.Role]*models.ReviewerResult, len(rec.Reviewers)),
		Merged: models.MergedDecision{
			Decision:     rec.Decision,
			Reason:       rec.Reason,
			Feedback:     rec.Feedback,
			AttributedTo: rec.AttributedTo,
			Policy:       rec.Policy,
		},
		StartedAt: rec.CreatedAt,
		Duration:  time.Duration(rec.DurationMs) * time.Millisecond,
	}
	for _, r := range rec.Reviewers {
		res.PerReviewer[r.Role] = r
	}
	return res
}

// parseAge accepts Go durations plus a whole-day suffix such as "30d".
func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}

func reviewerSummary(rs []*models.ReviewerResult) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		state := output.OutcomeColor(r.Outcome.Class())
		if r.Verdict != nil {
			state = string(r.Verdict.Decision)
		}
		parts = append(parts, r.Name+":"+state)
	}
	return strings.Join(parts, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}

func truncateText(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
