package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// SelectionPlan is one question's contribution to a paper: the leaves that were kept.
// Plans are values; refinements build a new plan instead of editing one in place.
type SelectionPlan struct {
	Question *Question
	// IncludedParts holds leaf labels in document order.
	IncludedParts []string
}

// NewSelectionPlan builds a plan from leaf labels, rejecting labels that are not leaves
// of q. The stored order is document order regardless of the input order.
func NewSelectionPlan(q *Question, labels []string) (SelectionPlan, error) {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	included := make([]string, 0, len(want))
	for _, leaf := range q.LeafParts() {
		if want[leaf.Label()] {
			included = append(included, leaf.Label())
			delete(want, leaf.Label())
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for l := range want {
			unknown = append(unknown, l)
		}
		slices.Sort(unknown)
		return SelectionPlan{}, fmt.Errorf("%w: %s has no leaf parts %v", ErrInvalidPart, q.ID, unknown)
	}
	return SelectionPlan{Question: q, IncludedParts: included}, nil
}

// FullPlan includes every leaf of q.
func FullPlan(q *Question) SelectionPlan {
	return SelectionPlan{Question: q, IncludedParts: q.LeafLabels()}
}

// Includes reports whether the leaf label is kept.
func (p SelectionPlan) Includes(label string) bool {
	return slices.Contains(p.IncludedParts, label)
}

// IncludedLeaves returns the kept leaves in document order.
func (p SelectionPlan) IncludedLeaves() []*Part {
	var out []*Part
	for _, leaf := range p.Question.LeafParts() {
		if p.Includes(leaf.Label()) {
			out = append(out, leaf)
		}
	}
	return out
}

// ExcludedLeaves returns the dropped leaves in document order.
func (p SelectionPlan) ExcludedLeaves() []*Part {
	var out []*Part
	for _, leaf := range p.Question.LeafParts() {
		if !p.Includes(leaf.Label()) {
			out = append(out, leaf)
		}
	}
	return out
}

// Marks is the sum of the kept leaves' marks.
func (p SelectionPlan) Marks() int {
	total := 0
	for _, leaf := range p.IncludedLeaves() {
		total += leaf.TotalMarks()
	}
	return total
}

// IsEmpty reports whether the plan keeps nothing.
func (p SelectionPlan) IsEmpty() bool {
	return len(p.IncludedParts) == 0
}

// IsFullQuestion reports whether every leaf is kept.
func (p SelectionPlan) IsFullQuestion() bool {
	return !p.IsEmpty() && len(p.IncludedParts) == p.Question.Root.LeafCount()
}

// Topics returns the sorted resolved topics of the kept leaves.
func (p SelectionPlan) Topics() []string {
	var out []string
	for _, leaf := range p.IncludedLeaves() {
		if t := p.Question.TopicOf(leaf); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Without returns a copy of the plan with the given leaf labels removed.
func (p SelectionPlan) Without(labels ...string) SelectionPlan {
	kept := make([]string, 0, len(p.IncludedParts))
	for _, l := range p.IncludedParts {
		if !slices.Contains(labels, l) {
			kept = append(kept, l)
		}
	}
	return SelectionPlan{Question: p.Question, IncludedParts: kept}
}

// MarshalJSON writes the plan with its derived fields.
func (p SelectionPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		QuestionID     string   `json:"question_id"`
		ExamCode       string   `json:"exam_code"`
		Marks          int      `json:"marks"`
		IncludedParts  []string `json:"included_parts"`
		IsFullQuestion bool     `json:"is_full_question"`
	}{
		QuestionID:     p.Question.ID,
		ExamCode:       p.Question.ExamCode,
		Marks:          p.Marks(),
		IncludedParts:  p.IncludedParts,
		IsFullQuestion: p.IsFullQuestion(),
	})
}

// SelectionResult is the engine's output: ordered plans and the band they were fitted to.
type SelectionResult struct {
	Plans       []SelectionPlan
	TargetMarks int
	Tolerance   int
	Warnings    []string
}

// TotalMarks sums plan marks.
func (r SelectionResult) TotalMarks() int {
	total := 0
	for _, p := range r.Plans {
		total += p.Marks()
	}
	return total
}

// QuestionCount counts non-empty plans.
func (r SelectionResult) QuestionCount() int {
	n := 0
	for _, p := range r.Plans {
		if !p.IsEmpty() {
			n++
		}
	}
	return n
}

// CoveredTopics is the sorted union of kept leaf topics.
func (r SelectionResult) CoveredTopics() []string {
	var out []string
	for _, p := range r.Plans {
		out = append(out, p.Topics()...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// MarkDifference is total minus target; negative means under target.
func (r SelectionResult) MarkDifference() int {
	return r.TotalMarks() - r.TargetMarks
}

// Deviation is the absolute distance from target.
func (r SelectionResult) Deviation() int {
	d := r.MarkDifference()
	if d < 0 {
		return -d
	}
	return d
}

// WithinTolerance reports |total - target| <= tolerance.
func (r SelectionResult) WithinTolerance() bool {
	return r.Deviation() <= r.Tolerance
}

// Plan returns the plan for a question id.
func (r SelectionResult) Plan(questionID string) (SelectionPlan, bool) {
	for _, p := range r.Plans {
		if p.Question.ID == questionID {
			return p, true
		}
	}
	return SelectionPlan{}, false
}

// MarksPerTopic sums kept leaf marks by resolved topic.
func (r SelectionResult) MarksPerTopic() map[string]int {
	out := make(map[string]int)
	for _, p := range r.Plans {
		for _, leaf := range p.IncludedLeaves() {
			out[p.Question.TopicOf(leaf)] += leaf.TotalMarks()
		}
	}
	return out
}

// PartsPerTopic counts kept leaves by resolved topic.
func (r SelectionResult) PartsPerTopic() map[string]int {
	out := make(map[string]int)
	for _, p := range r.Plans {
		for _, leaf := range p.IncludedLeaves() {
			out[p.Question.TopicOf(leaf)]++
		}
	}
	return out
}

// MarshalJSON writes the plans together with the derived totals.
func (r SelectionResult) MarshalJSON() ([]byte, error) {
	plans := r.Plans
	if plans == nil {
		plans = []SelectionPlan{}
	}
	return json.Marshal(struct {
		Plans           []SelectionPlan `json:"plans"`
		TargetMarks     int             `json:"target_marks"`
		Tolerance       int             `json:"tolerance"`
		TotalMarks      int             `json:"total_marks"`
		QuestionCount   int             `json:"question_count"`
		CoveredTopics   []string        `json:"covered_topics"`
		WithinTolerance bool            `json:"within_tolerance"`
		Warnings        []string        `json:"warnings,omitempty"`
	}{
		Plans:           plans,
		TargetMarks:     r.TargetMarks,
		Tolerance:       r.Tolerance,
		TotalMarks:      r.TotalMarks(),
		QuestionCount:   r.QuestionCount(),
		CoveredTopics:   r.CoveredTopics(),
		WithinTolerance: r.WithinTolerance(),
		Warnings:        r.Warnings,
	})
}
