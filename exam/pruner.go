package exam

import (
	"slices"
	"sort"

	"exambuilder-server/models"
)

// PruneOptions controls which removals Prune may make.
type PruneOptions struct {
	Mode      PartMode
	Protected map[PartPin]bool // pinned leaves, never removed
	MinParts  int              // partial plans keep at least this many leaves
}

type removal struct {
	plan   int
	labels []string
	marks  int
	pos    int
}

// Prune trims plans whose total is above target+tolerance. Each step removes the
// cheapest legal piece that lands inside the band, or failing that the cheapest one
// that moves the total closer to the target. ALL removes whole questions, PRUNE only
// the last kept leaf and SKIP any leaf. Protected leaves are never removed. The input
// is not modified; empty plans are dropped from the output.
func Prune(plans []models.SelectionPlan, targetMarks, tolerance int, opts PruneOptions) []models.SelectionPlan {
	out := make([]models.SelectionPlan, len(plans))
	total := 0
	for i, p := range plans {
		out[i] = models.SelectionPlan{Question: p.Question, IncludedParts: slices.Clone(p.IncludedParts)}
		total += p.Marks()
	}
	low, high := targetMarks-tolerance, targetMarks+tolerance
	minParts := max(opts.MinParts, 1)

	for total > high {
		cands := removals(out, opts.Mode, opts.Protected, minParts)
		if len(cands) == 0 {
			break
		}
		sort.SliceStable(cands, func(i, j int) bool {
			a, b := cands[i], cands[j]
			if a.marks != b.marks {
				return a.marks < b.marks
			}
			if a.plan != b.plan {
				return a.plan > b.plan
			}
			return a.pos > b.pos
		})

		pick := -1
		for i, rm := range cands {
			if next := total - rm.marks; next >= low && next <= high {
				pick = i
				break
			}
		}
		if pick < 0 {
			current := abs(total - targetMarks)
			for i, rm := range cands {
				if abs(total-rm.marks-targetMarks) < current {
					pick = i
					break
				}
			}
		}
		if pick < 0 {
			break
		}
		rm := cands[pick]
		out[rm.plan] = out[rm.plan].Without(rm.labels...)
		total -= rm.marks
	}

	kept := out[:0]
	for _, p := range out {
		if !p.IsEmpty() {
			kept = append(kept, p)
		}
	}
	return kept
}

func removals(plans []models.SelectionPlan, mode PartMode, protected map[PartPin]bool, minParts int) []removal {
	var out []removal
	for i, p := range plans {
		if p.IsEmpty() {
			continue
		}
		qid := p.Question.ID
		leaves := p.IncludedLeaves()
		isProtected := func(leaf *models.Part) bool {
			return protected[PartPin{QuestionID: qid, Label: leaf.Label()}]
		}
		switch mode {
		case PartModeAll:
			if slices.ContainsFunc(leaves, isProtected) {
				continue
			}
			out = append(out, removal{plan: i, labels: slices.Clone(p.IncludedParts), marks: p.Marks()})
		case PartModePrune:
			if len(leaves) <= minParts {
				continue
			}
			last := leaves[len(leaves)-1]
			if isProtected(last) {
				continue
			}
			out = append(out, removal{plan: i, labels: []string{last.Label()}, marks: last.TotalMarks(), pos: len(leaves) - 1})
		default:
			if len(leaves) <= minParts {
				continue
			}
			for j, leaf := range leaves {
				if isProtected(leaf) {
					continue
				}
				out = append(out, removal{plan: i, labels: []string{leaf.Label()}, marks: leaf.TotalMarks(), pos: j})
			}
		}
	}
	return out
}
