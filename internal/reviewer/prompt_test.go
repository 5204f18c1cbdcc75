package reviewer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crhan/planaudit/internal/models"
)

func TestBuildPrompt(t *testing.T) {
	t.Run("rubric and output format", func(t *testing.T) {
		system, _ := BuildPrompt(models.ReviewRequest{PlanText: "do it"}, 0)

		for _, c := range []string{"Completeness", "Correctness", "Safety", "Reversibility", "Security", "Best Practices"} {
			assert.Contains(t, system, c)
		}
		assert.Contains(t, system, `"decision"`)
		assert.Contains(t, system, "APPROVE|CONCERNS|REJECT")
	})

	t.Run("missing sections get placeholders", func(t *testing.T) {
		_, user := BuildPrompt(models.ReviewRequest{PlanText: "1. edit main.go"}, 0)

		assert.Contains(t, user, "1. edit main.go")
		assert.Equal(t, 4, strings.Count(user, noneText))
	})

	t.Run("sections included", func(t *testing.T) {
		req := models.ReviewRequest{
			PlanText: "plan",
			Context: models.ContextBundle{
				GlobalInstructions:  "global rules",
				ProjectInstructions: "project rules",
				RecentDialogue:      "user: please",
				PriorReviewNotes:    "last time: missing tests",
			},
		}
		_, user := BuildPrompt(req, 0)

		assert.Contains(t, user, "### Global Instructions\n\nglobal rules")
		assert.Contains(t, user, "### Project Instructions\n\nproject rules")
		assert.Contains(t, user, "### Recent Dialogue\n\nuser: please")
		assert.Contains(t, user, "### Prior Review Notes\n\nlast time: missing tests")
		assert.NotContains(t, user, noneText)
	})

	t.Run("limit cuts context but not plan", func(t *testing.T) {
		plan := strings.Repeat("p", 500)
		req := models.ReviewRequest{
			PlanText: plan,
			Context:  models.ContextBundle{RecentDialogue: strings.Repeat("d", 300) + "END"},
		}
		_, user := BuildPrompt(req, 50)

		assert.Contains(t, user, plan)
		assert.Contains(t, user, "END")
		assert.Contains(t, user, "characters truncated")
		assert.NotContains(t, user, strings.Repeat("d", 60))
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 0))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "[... 2 characters truncated ...]\ncde", Truncate("abcde", 3))
	assert.Equal(t, "[... 1 characters truncated ...]\n界!", Truncate("世界!", 2))
}
