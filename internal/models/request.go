package models

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ContextBundle holds the optional context sections sent alongside a plan.
// Empty fields mean the section is unavailable.
type ContextBundle struct {
	GlobalInstructions  string `json:"global_instructions,omitempty"`
	ProjectInstructions string `json:"project_instructions,omitempty"`
	RecentDialogue      string `json:"recent_dialogue,omitempty"`
	PriorReviewNotes    string `json:"prior_review_notes,omitempty"`
}

// ReviewRequest is the immutable input to one reviewer call.
type ReviewRequest struct {
	PlanText  string
	Context   ContextBundle
	Timeout   time.Duration
	AuditID   string
	RequestID string
}

// NewID returns a new ULID string for audits and reviewer calls.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
