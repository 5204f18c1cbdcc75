package contextload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPlansDir is where projects keep plan files, relative to cwd.
const DefaultPlansDir = "docs/plans"

// ReviewNotesPath maps a plan file to its notes file: plan.md → plan-review-notes.md.
func ReviewNotesPath(planPath string) string {
	ext := filepath.Ext(planPath)
	return strings.TrimSuffix(planPath, ext) + "-review-notes.md"
}

// ReviewNotes reads the notes next to planPath. Plans outside
// <cwd>/<plansDir> are ignored.
func ReviewNotes(planPath, cwd, plansDir string) string {
	if planPath == "" || cwd == "" {
		return ""
	}
	if plansDir == "" {
		plansDir = DefaultPlansDir
	}
	plan, err := filepath.Abs(planPath)
	if err != nil {
		return ""
	}
	root, err := filepath.Abs(filepath.Join(cwd, plansDir))
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(root, plan)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	if _, err := os.Stat(plan); err != nil {
		return ""
	}
	return readText(ReviewNotesPath(plan))
}

// LatestPlan returns the newest Markdown plan in dir.
func LatestPlan(dir string) (path, text string, err error) {
	path = newestFile(dir, "*.md")
	if path == "" {
		return "", "", fmt.Errorf("no plan files in %s", dir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read plan: %w", err)
	}
	return path, string(data), nil
}

// PlansDir returns ~/.claude/plans under home.
func PlansDir(home string) string {
	return filepath.Join(home, ".claude", "plans")
}
