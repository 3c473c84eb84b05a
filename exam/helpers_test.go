package exam

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"exambuilder-server/models"
)

// lf describes a leaf for the fixtures. A label with two groups such as "2(b)(i)" is
// nested under its letter part.
type lf struct {
	label   string
	marks   int
	topic   string
	invalid bool
}

// mkQuestion builds a question whose root label is the prefix before the first "(".
func mkQuestion(t testing.TB, id, topic string, leaves ...lf) *models.Question {
	t.Helper()
	rootLabel, _, _ := strings.Cut(leaves[0].label, "(")

	var children []*models.Part
	var letter string
	var romans []*models.Part
	top := 10
	letterTop := 0

	flush := func() {
		if letter == "" {
			return
		}
		p, err := models.NewPart(models.PartSpec{
			Label:    letter,
			Kind:     models.PartKindLetter,
			Bounds:   models.SliceBounds{Top: letterTop, Bottom: top},
			Children: romans,
		})
		require.NoError(t, err)
		children = append(children, p)
		letter, romans = "", nil
	}

	for _, l := range leaves {
		spec := models.PartSpec{
			Label:  l.label,
			Marks:  models.ExplicitMarks(l.marks),
			Bounds: models.SliceBounds{Top: top, Bottom: top + 10},
			Topic:  l.topic,
		}
		if l.invalid {
			spec.Issues = []string{"mark box not found"}
		}
		if strings.Count(l.label, "(") == 2 {
			parent := l.label[:strings.LastIndex(l.label, "(")]
			if parent != letter {
				flush()
				letter, letterTop = parent, top
			}
			spec.Kind = models.PartKindRoman
			p, err := models.NewPart(spec)
			require.NoError(t, err)
			romans = append(romans, p)
		} else {
			flush()
			spec.Kind = models.PartKindLetter
			p, err := models.NewPart(spec)
			require.NoError(t, err)
			children = append(children, p)
		}
		top += 10
	}
	flush()

	root, err := models.NewPart(models.PartSpec{
		Label:    rootLabel,
		Kind:     models.PartKindQuestion,
		Bounds:   models.SliceBounds{Top: 0, Bottom: top + 10},
		Children: children,
	})
	require.NoError(t, err)
	return &models.Question{
		ID: id, ExamCode: "0478", Year: 2024, Paper: 1, Variant: 2,
		Topic: topic, Root: root,
	}
}

// singleLeaf builds question n with one part worth marks.
func singleLeaf(t testing.TB, n int, topic string, marks int) *models.Question {
	return mkQuestion(t, fmt.Sprintf("q%d", n), topic, lf{label: fmt.Sprintf("%d(a)", n), marks: marks})
}

func mustConfig(t testing.TB, target int, opts ...ConfigOption) SelectionConfig {
	t.Helper()
	cfg, err := NewSelectionConfig(target, opts...)
	require.NoError(t, err)
	return cfg
}

func mustSelect(t testing.TB, pool []*models.Question, cfg SelectionConfig, opts ...Option) models.SelectionResult {
	t.Helper()
	res, err := Select(pool, cfg, opts...)
	require.NoError(t, err)
	return res
}

func planLabels(res models.SelectionResult) map[string][]string {
	out := make(map[string][]string, len(res.Plans))
	for _, p := range res.Plans {
		out[p.Question.ID] = p.IncludedParts
	}
	return out
}

func noJitter() Tuning {
	t := DefaultTuning()
	t.DiversityWeight = 0
	return t
}

func countLeaves(used map[string]int, res models.SelectionResult) {
	for _, p := range res.Plans {
		for _, label := range p.IncludedParts {
			used[p.Question.ID+"::"+label]++
		}
	}
}

// unusedLeaves lists the leaves of pool that never appear in used.
func unusedLeaves(pool []*models.Question, used map[string]int) []string {
	var out []string
	for _, q := range pool {
		for _, label := range q.LeafLabels() {
			if used[q.ID+"::"+label] == 0 {
				out = append(out, q.ID+"::"+label)
			}
		}
	}
	return out
}
