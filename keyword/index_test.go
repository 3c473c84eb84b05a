package keyword

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exambuilder-server/models"
)

func leaf(t *testing.T, label string, kind models.PartKind, top, marks int) *models.Part {
	t.Helper()
	p, err := models.NewPart(models.PartSpec{
		Label:  label,
		Kind:   kind,
		Marks:  models.ExplicitMarks(marks),
		Bounds: models.SliceBounds{Top: top, Bottom: top + 10},
	})
	require.NoError(t, err)
	return p
}

func question(t *testing.T, id, rootText string, childText map[string]string) *models.Question {
	t.Helper()
	n := id[len(id)-1:]
	a := leaf(t, n+"(a)", models.PartKindLetter, 10, 2)
	b := leaf(t, n+"(b)", models.PartKindLetter, 30, 3)
	root, err := models.NewPart(models.PartSpec{
		Label:    n,
		Kind:     models.PartKindQuestion,
		Bounds:   models.SliceBounds{Top: 0, Bottom: 50},
		Children: []*models.Part{a, b},
	})
	require.NoError(t, err)
	return &models.Question{ID: id, ExamCode: "0478", Year: 2024, Paper: 1, Variant: 2, Topic: "Data", Root: root,
		RootText: rootText, ChildText: childText}
}

func fixture(t *testing.T) *Index {
	return NewIndex([]*models.Question{
		question(t, "q1", "", map[string]string{"1(a)": "Convert to Binary", "1(b)": "Explain a stack"}),
		question(t, "q2", "A linked list of binary numbers", map[string]string{"2(a)": "State one use"}),
		question(t, "q3", "", map[string]string{"3(a)": "Stacks and queues", "3(b)": "binary123"}),
	})
}

func TestSearch_FuzzyMatchesSubstringIgnoringCaseAndSpaces(t *testing.T) {
	idx := fixture(t)

	res, err := idx.Search(context.Background(), []string{"bin ary"})
	require.NoError(t, err)

	assert.Equal(t, []string{"q1", "q2", "q3"}, res.KeywordHits["bin ary"])
	m := res.Matches()
	assert.Equal(t, []string{"1(a)"}, m["q1"])
	assert.Equal(t, []string{"3(b)"}, m["q3"])
}

func TestSearch_RootHitMatchesEveryLeaf(t *testing.T) {
	res, err := fixture(t).Search(context.Background(), []string{"linked"})
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"q2": {"2(a)", "2(b)"}}, res.Matches())
}

func TestSearch_QuotedKeywordMatchesWholeWords(t *testing.T) {
	res, err := fixture(t).Search(context.Background(), []string{`"stack"`})
	require.NoError(t, err)

	// "Stacks" is not the whole word "stack".
	assert.Equal(t, []string{"q1"}, res.KeywordHits[`"stack"`])
	assert.Equal(t, []string{"1(b)"}, res.Matches()["q1"])
}

func TestSearch_MultipleKeywordsUnionLabels(t *testing.T) {
	res, err := fixture(t).Search(context.Background(), []string{"stack", "binary", "  ", `""`})
	require.NoError(t, err)

	assert.Len(t, res.KeywordHits, 2)
	assert.Equal(t, []string{"1(a)", "1(b)"}, res.Matches()["q1"])
	assert.Equal(t, []string{"3(a)", "3(b)"}, res.Matches()["q3"])
	assert.Equal(t, []string{"q1", "q2", "q3"}, res.QuestionIDs())
}

func TestSearch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fixture(t).Search(ctx, []string{"binary"})
	assert.ErrorIs(t, err, context.Canceled)
}
