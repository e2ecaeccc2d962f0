// Package planparse extracts an ExecutionPlan from free-form LLM response
// text, per spec.md §6: "The engine extracts an ExecutionPlan from the
// returned text by scanning for a fenced or bare JSON object whose shape
// matches the plan schema. Absence of such an object is not an error; the
// text is returned to the user verbatim."
package planparse

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/arcsign/chainpilot/internal/planmodel"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Extract scans text for a fenced or bare JSON object matching the plan
// schema (must at least carry "steps" and "id" keys) and returns the parsed
// plan. ok is false, with no error, when no such object is present — this
// is the expected outcome for ordinary conversational replies, not a
// failure.
func Extract(text string) (plan *planmodel.ExecutionPlan, ok bool, err error) {
	for _, candidate := range candidateObjects(text) {
		if !looksLikePlan(candidate) {
			continue
		}
		var p planmodel.ExecutionPlan
		if jsonErr := json.Unmarshal([]byte(candidate), &p); jsonErr != nil {
			continue
		}
		return &p, true, nil
	}
	return nil, false, nil
}

// candidateObjects returns every fenced JSON block in text, followed by the
// trimmed whole text itself (covering a bare JSON object with no fences).
func candidateObjects(text string) []string {
	var out []string
	for _, m := range fencedJSONPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		out = append(out, trimmed)
	}
	return out
}

// looksLikePlan does a cheap gjson presence check (no full unmarshal) to
// reject the common case of ordinary text/JSON-looking fragments before
// paying for a full decode into planmodel.ExecutionPlan.
func looksLikePlan(candidate string) bool {
	if !gjson.Valid(candidate) {
		return false
	}
	result := gjson.Parse(candidate)
	if !result.Get("id").Exists() {
		return false
	}
	steps := result.Get("steps")
	return steps.Exists() && steps.IsArray()
}
