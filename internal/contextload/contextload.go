// Package contextload gathers the optional context sections sent to reviewers:
// instruction files, recent conversation, and prior review notes. Every loader
// tolerates missing input and returns an empty string.
package contextload

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/crhan/planaudit/internal/models"
)

// DefaultRounds is how many conversation rounds are kept.
const DefaultRounds = 5

const instructionsFile = "CLAUDE.md"

// Input identifies where the plan came from.
type Input struct {
	Cwd            string
	SessionID      string
	TranscriptPath string
	PlanPath       string
}

// NotesFunc returns prior review notes for a session, or "".
type NotesFunc func(sessionID string) string

// Loader reads context from the user's home directory and the project tree.
type Loader struct {
	Home     string    // defaults to the user's home directory
	Rounds   int       // conversation rounds to keep; defaults to DefaultRounds
	PlansDir string    // project-relative directory holding plan files
	Notes    NotesFunc // fallback for prior review notes
	Logger   *slog.Logger
}

// NewLoader returns a Loader rooted at the current user's home directory.
func NewLoader() *Loader {
	home, _ := os.UserHomeDir()
	return &Loader{Home: home, Rounds: DefaultRounds, PlansDir: DefaultPlansDir}
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Loader) rounds() int {
	if l.Rounds > 0 {
		return l.Rounds
	}
	return DefaultRounds
}

// Load assembles every section for in.
func (l *Loader) Load(in Input) models.ContextBundle {
	b := models.ContextBundle{
		GlobalInstructions:  l.GlobalInstructions(),
		ProjectInstructions: ProjectInstructions(in.Cwd),
		RecentDialogue:      l.RecentDialogue(in.TranscriptPath, in.Cwd),
		PriorReviewNotes:    ReviewNotes(in.PlanPath, in.Cwd, l.PlansDir),
	}
	if b.PriorReviewNotes == "" && l.Notes != nil && in.SessionID != "" {
		b.PriorReviewNotes = l.Notes(in.SessionID)
	}
	l.logger().Debug("context loaded",
		"global_chars", len(b.GlobalInstructions),
		"project_chars", len(b.ProjectInstructions),
		"dialogue_chars", len(b.RecentDialogue),
		"notes_chars", len(b.PriorReviewNotes),
	)
	return b
}

// GlobalInstructions reads ~/.claude/CLAUDE.md.
func (l *Loader) GlobalInstructions() string {
	if l.Home == "" {
		return ""
	}
	return readText(filepath.Join(l.Home, ".claude", instructionsFile))
}

// ProjectInstructions returns the nearest CLAUDE.md at or above cwd.
func ProjectInstructions(cwd string) string {
	if cwd == "" {
		return ""
	}
	dir, err := filepath.Abs(cwd)
	if err != nil {
		return ""
	}
	for {
		if text := readText(filepath.Join(dir, instructionsFile)); text != "" {
			return text
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func readText(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
