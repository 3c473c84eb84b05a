package models

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
)

// ErrInvalidQuestion is returned by Question.Validate.
var ErrInvalidQuestion = errors.New("invalid question")

var examCodePattern = regexp.MustCompile(`^\d{4}$`)

// Question is one extracted exam item and its part tree.
type Question struct {
	ID        string   `json:"id"`
	ExamCode  string   `json:"exam_code"`
	Year      int      `json:"year"`
	Paper     int      `json:"paper"`
	Variant   int      `json:"variant"`
	Topic     string   `json:"topic"`
	SubTopics []string `json:"sub_topics,omitempty"`
	Root      *Part    `json:"question_node"`
	// Text the keyword index searches. ChildText is keyed by part label.
	RootText  string            `json:"root_text,omitempty"`
	ChildText map[string]string `json:"child_text,omitempty"`
}

// Validate checks the identity fields and the presence of a question-level root.
// The selection engine assumes this already passed; it is run at ingestion.
func (q *Question) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidQuestion)
	}
	if !examCodePattern.MatchString(q.ExamCode) {
		return fmt.Errorf("%w: %s: exam code must be 4 digits, got %q", ErrInvalidQuestion, q.ID, q.ExamCode)
	}
	if q.Year < 2000 || q.Year > 2100 {
		return fmt.Errorf("%w: %s: year out of range: %d", ErrInvalidQuestion, q.ID, q.Year)
	}
	if q.Paper < 1 || q.Paper > 9 {
		return fmt.Errorf("%w: %s: paper must be 1-9, got %d", ErrInvalidQuestion, q.ID, q.Paper)
	}
	if q.Variant < 1 || q.Variant > 9 {
		return fmt.Errorf("%w: %s: variant must be 1-9, got %d", ErrInvalidQuestion, q.ID, q.Variant)
	}
	if q.Root == nil {
		return fmt.Errorf("%w: %s: missing question_node", ErrInvalidQuestion, q.ID)
	}
	if q.Root.Kind() != PartKindQuestion {
		return fmt.Errorf("%w: %s: root node must be a question, got %s", ErrInvalidQuestion, q.ID, q.Root.Kind())
	}
	return nil
}

// TotalMarks is the sum of all leaf marks.
func (q *Question) TotalMarks() int {
	return q.Root.TotalMarks()
}

// LeafParts returns the leaves in document order.
func (q *Question) LeafParts() []*Part {
	return q.Root.Leaves()
}

// AllParts returns every node, depth first.
func (q *Question) AllParts() []*Part {
	return q.Root.All()
}

// Part finds a node by label.
func (q *Question) Part(label string) *Part {
	return q.Root.Find(label)
}

// LeafLabels returns the labels of LeafParts.
func (q *Question) LeafLabels() []string {
	leaves := q.LeafParts()
	labels := make([]string, len(leaves))
	for i, l := range leaves {
		labels[i] = l.Label()
	}
	return labels
}

// TopicOf resolves a part's topic: its own override, else the question default.
func (q *Question) TopicOf(p *Part) string {
	if p.Topic() != "" {
		return p.Topic()
	}
	return q.Topic
}

// Topics returns the sorted set of resolved leaf topics.
func (q *Question) Topics() []string {
	var out []string
	for _, leaf := range q.LeafParts() {
		if t := q.TopicOf(leaf); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
