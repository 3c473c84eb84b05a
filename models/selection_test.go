package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectionPlan(t *testing.T) {
	q := sampleQuestion(t)

	p, err := NewSelectionPlan(q, []string{"2(b)(ii)", "2(a)", "2(a)"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2(a)", "2(b)(ii)"}, p.IncludedParts)
	assert.Equal(t, 6, p.Marks())
	assert.False(t, p.IsFullQuestion())
	assert.Equal(t, []string{"Networks", "Security"}, p.Topics())
	require.Len(t, p.ExcludedLeaves(), 1)
	assert.Equal(t, "2(b)(i)", p.ExcludedLeaves()[0].Label())

	_, err = NewSelectionPlan(q, []string{"2(b)"})
	assert.ErrorIs(t, err, ErrInvalidPart, "non-leaf labels are rejected")
	_, err = NewSelectionPlan(q, []string{"9(z)"})
	assert.ErrorIs(t, err, ErrInvalidPart)
}

func TestSelectionPlan_FullAndWithout(t *testing.T) {
	q := sampleQuestion(t)
	full := FullPlan(q)
	assert.True(t, full.IsFullQuestion())
	assert.Equal(t, 9, full.Marks())

	trimmed := full.Without("2(b)(i)")
	assert.Equal(t, 6, trimmed.Marks())
	assert.Equal(t, 9, full.Marks(), "Without leaves the original alone")

	empty := trimmed.Without("2(a)", "2(b)(ii)")
	assert.True(t, empty.IsEmpty())
	assert.False(t, empty.IsFullQuestion())
	assert.Equal(t, 0, empty.Marks())
}

func TestSelectionResult_Derived(t *testing.T) {
	q := sampleQuestion(t)
	partial, err := NewSelectionPlan(q, []string{"2(a)", "2(b)(i)"})
	require.NoError(t, err)

	other := *q
	other.ID = "q9"
	other.Topic = "Algorithms"

	r := SelectionResult{
		Plans:       []SelectionPlan{partial, FullPlan(&other), {Question: q}},
		TargetMarks: 12,
		Tolerance:   2,
	}

	assert.Equal(t, 14, r.TotalMarks())
	assert.Equal(t, 2, r.QuestionCount())
	assert.Equal(t, 2, r.MarkDifference())
	assert.Equal(t, 2, r.Deviation())
	assert.True(t, r.WithinTolerance())
	assert.Equal(t, []string{"Algorithms", "Networks", "Security"}, r.CoveredTopics())
	assert.Equal(t, map[string]int{"Networks": 5, "Algorithms": 5, "Security": 4}, r.MarksPerTopic())
	assert.Equal(t, map[string]int{"Networks": 2, "Algorithms": 2, "Security": 1}, r.PartsPerTopic())

	p, ok := r.Plan("q9")
	require.True(t, ok)
	assert.True(t, p.IsFullQuestion())
	_, ok = r.Plan("missing")
	assert.False(t, ok)

	r.TargetMarks = 17
	assert.Equal(t, -3, r.MarkDifference())
	assert.False(t, r.WithinTolerance())
}

func TestSelectionResult_JSON(t *testing.T) {
	q := sampleQuestion(t)
	r := SelectionResult{Plans: []SelectionPlan{FullPlan(q)}, TargetMarks: 9, Tolerance: 1}

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
	  "plans": [{"question_id": "q2", "exam_code": "0478", "marks": 9,
	             "included_parts": ["2(a)", "2(b)(i)", "2(b)(ii)"], "is_full_question": true}],
	  "target_marks": 9, "tolerance": 1, "total_marks": 9, "question_count": 1,
	  "covered_topics": ["Networks", "Security"], "within_tolerance": true
	}`, string(out))

	out, err = json.Marshal(SelectionResult{TargetMarks: 5})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"plans":[]`)
}
