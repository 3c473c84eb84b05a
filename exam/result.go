package exam

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"exambuilder-server/models"
)

// Assemble packages plans into a result. Empty plans are dropped and the plan order
// is kept.
func Assemble(plans []models.SelectionPlan, targetMarks, tolerance int, warnings ...string) models.SelectionResult {
	kept := make([]models.SelectionPlan, 0, len(plans))
	for _, p := range plans {
		if !p.IsEmpty() {
			kept = append(kept, p)
		}
	}
	return models.SelectionResult{
		Plans:       kept,
		TargetMarks: targetMarks,
		Tolerance:   tolerance,
		Warnings:    slices.Clone(warnings),
	}
}

// missingTopics lists requested topics absent from covered. Both are sorted.
func missingTopics(requested, covered []string) []string {
	var out []string
	for _, t := range requested {
		if _, found := slices.BinarySearch(covered, t); !found {
			out = append(out, t)
		}
	}
	return out
}

// Fingerprint identifies a selection independent of plan order, so two seeds that
// pick the same parts compare equal.
func Fingerprint(result models.SelectionResult) string {
	keys := make([]string, 0, len(result.Plans))
	for _, p := range result.Plans {
		keys = append(keys, p.Question.ID+"="+strings.Join(p.IncludedParts, ","))
	}
	slices.Sort(keys)
	sum := sha256.Sum256([]byte(strings.Join(keys, ";")))
	return hex.EncodeToString(sum[:8])
}
