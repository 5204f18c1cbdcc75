// Package verdict extracts a structured decision from free-form reviewer output.
package verdict

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/crhan/planaudit/internal/models"
)

// ReasonUnparseable is the reason attached to the fallback verdict.
const ReasonUnparseable = "unable to parse decision"

// strategy tries to extract a verdict and reports whether it matched.
type strategy func(raw string) (models.Verdict, bool)

// strategies run in order; the first match wins.
var strategies = []strategy{
	wholeJSON,
	fencedJSON,
	decisionPrefix,
}

// Parse extracts a verdict from raw reviewer text. It never fails: text that
// no strategy understands becomes a CONCERNS verdict carrying the raw text.
func Parse(raw string) models.Verdict {
	for _, try := range strategies {
		if v, ok := try(raw); ok {
			return v
		}
	}
	return models.Verdict{
		Decision: models.DecisionConcerns,
		Reason:   ReasonUnparseable,
		Feedback: raw,
	}
}

// payload mirrors the JSON object reviewers are asked to return.
// Decision stays raw so a present key of any type can be told apart from a
// missing one.
type payload struct {
	Decision json.RawMessage `json:"decision"`
	Reason   any             `json:"reason"`
	Feedback any             `json:"feedback"`
}

// fromJSON decodes an object that carries a "decision" key. A null or
// non-string decision counts as CONCERNS.
func fromJSON(s string) (models.Verdict, bool) {
	var p payload
	if err := json.Unmarshal([]byte(s), &p); err != nil || p.Decision == nil {
		return models.Verdict{}, false
	}
	var token string
	_ = json.Unmarshal(p.Decision, &token)
	decision, _ := models.ParseDecision(token)
	return models.Verdict{
		Decision: decision,
		Reason:   asText(p.Reason),
		Feedback: asText(p.Feedback),
	}, true
}

// asText renders a loosely typed JSON field as a string; null becomes "".
func asText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func wholeJSON(raw string) (models.Verdict, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return models.Verdict{}, false
	}
	return fromJSON(trimmed)
}

var fenceRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

func fencedJSON(raw string) (models.Verdict, bool) {
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		if v, ok := fromJSON(m[1]); ok {
			return v, true
		}
	}
	return models.Verdict{}, false
}

var prefixReasons = []struct {
	decision models.Decision
	reason   string
}{
	{models.DecisionApprove, "Model approved"},
	{models.DecisionConcerns, "Model has concerns"},
	{models.DecisionReject, "Model rejected"},
}

func decisionPrefix(raw string) (models.Verdict, bool) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	for _, p := range prefixReasons {
		if !strings.HasPrefix(upper, string(p.decision)) {
			continue
		}
		v := models.Verdict{Decision: p.decision, Reason: p.reason}
		if p.decision != models.DecisionApprove {
			v.Feedback = raw
		}
		return v, true
	}
	return models.Verdict{}, false
}
