package exam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exambuilder-server/models"
)

func mixedQuestion(t *testing.T) *models.Question {
	return mkQuestion(t, "q1", "A",
		lf{label: "1(a)", marks: 2},
		lf{label: "1(b)", marks: 3, topic: "B"},
		lf{label: "1(c)", marks: 4},
		lf{label: "1(d)", marks: 1, topic: "C"},
	)
}

func inScope(t *testing.T, pool []*models.Question, cfg SelectionConfig) map[string][]string {
	t.Helper()
	eligible, err := Filter(pool, cfg)
	require.NoError(t, err)
	out := make(map[string][]string, len(eligible))
	for _, e := range eligible {
		out[e.Question.ID] = e.InScope
	}
	return out
}

func TestFilter_TopicTailFilterPerMode(t *testing.T) {
	pool := []*models.Question{mixedQuestion(t)}

	tests := []struct {
		mode   PartMode
		topics []string
		want   []string
	}{
		{PartModeSkip, []string{"A"}, []string{"1(a)", "1(c)"}},
		{PartModePrune, []string{"A"}, []string{"1(a)", "1(b)", "1(c)"}},
		{PartModeAll, []string{"A"}, []string{"1(a)", "1(b)", "1(c)", "1(d)"}},
		{PartModeSkip, []string{"C"}, []string{"1(d)"}},
		{PartModePrune, []string{"C"}, []string{"1(a)", "1(b)", "1(c)", "1(d)"}},
		{PartModeSkip, nil, []string{"1(a)", "1(b)", "1(c)", "1(d)"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			cfg := mustConfig(t, 10, WithPartMode(tt.mode), WithTopics(tt.topics...))
			assert.Equal(t, tt.want, inScope(t, pool, cfg)["q1"])
		})
	}
}

func TestFilter_ExcludesQuestionsWithoutRequestedTopics(t *testing.T) {
	pool := []*models.Question{mixedQuestion(t), singleLeaf(t, 2, "Z", 5)}
	got := inScope(t, pool, mustConfig(t, 10, WithTopics("Z")))

	assert.NotContains(t, got, "q1")
	assert.Equal(t, []string{"2(a)"}, got["q2"])
}

func TestFilter_InvalidLeaves(t *testing.T) {
	q := mkQuestion(t, "q1", "A",
		lf{label: "1(a)", marks: 2},
		lf{label: "1(b)", marks: 3, invalid: true},
		lf{label: "1(c)", marks: 4},
	)
	pool := []*models.Question{q}

	assert.Equal(t, []string{"1(a)", "1(c)"}, inScope(t, pool, mustConfig(t, 10, WithTopics("A")))["q1"])
	assert.Equal(t, []string{"1(a)"}, inScope(t, pool, mustConfig(t, 10, WithTopics("A"), WithPartMode(PartModePrune)))["q1"])
	assert.NotContains(t, inScope(t, pool, mustConfig(t, 10, WithPartMode(PartModeAll))), "q1")
}

func TestFilter_KeywordScope(t *testing.T) {
	q := mkQuestion(t, "q2", "A",
		lf{label: "2(a)(i)", marks: 1},
		lf{label: "2(a)(ii)", marks: 2},
		lf{label: "2(b)", marks: 3},
		lf{label: "2(c)", marks: 4},
	)
	pool := []*models.Question{q, singleLeaf(t, 3, "A", 5)}
	matches := map[string][]string{"q2": {"2(a)", "2(c)"}}

	skip := inScope(t, pool, mustConfig(t, 10, WithKeywordMatches(matches)))
	assert.Equal(t, map[string][]string{"q2": {"2(a)(i)", "2(a)(ii)", "2(c)"}}, skip)

	prune := inScope(t, pool, mustConfig(t, 10, WithKeywordMatches(map[string][]string{"q2": {"2(b)"}}), WithPartMode(PartModePrune)))
	assert.Equal(t, []string{"2(a)(i)", "2(a)(ii)", "2(b)"}, prune["q2"])

	all := inScope(t, pool, mustConfig(t, 10, WithKeywordMatches(map[string][]string{"q2": {"2(b)"}}), WithPartMode(PartModeAll)))
	assert.Equal(t, []string{"2(a)(i)", "2(a)(ii)", "2(b)", "2(c)"}, all["q2"])
}

func TestFilter_PinsBypassFilters(t *testing.T) {
	pool := []*models.Question{mixedQuestion(t), singleLeaf(t, 2, "Z", 5)}
	cfg := mustConfig(t, 10, WithTopics("C"), WithPinnedQuestions("q2"), WithPinnedParts("q1::1(a)"))

	got := inScope(t, pool, cfg)
	assert.Equal(t, []string{"2(a)"}, got["q2"])
	assert.Equal(t, []string{"1(a)", "1(d)"}, got["q1"])
}

func TestBuildCandidates_SkipsDuplicates(t *testing.T) {
	a := singleLeaf(t, 1, "A", 2)
	b := singleLeaf(t, 1, "A", 5)

	order, byID, warnings := buildCandidates([]*models.Question{a, b, nil})
	require.Len(t, order, 1)
	assert.Same(t, a, byID["q1"].question)
	assert.Len(t, warnings, 2)
}
