package exam

import (
	"math/bits"
	"sort"
)

// optionGroup holds every legal leaf set of one candidate that is worth the same marks.
type optionGroup struct {
	marks int
	masks []uint64
}

func (g optionGroup) touching(topic uint64) []uint64 {
	if topic == 0 {
		return g.masks
	}
	var out []uint64
	for _, m := range g.masks {
		if m&topic != 0 {
			out = append(out, m)
		}
	}
	return out
}

// optionGroups lists the leaf sets the candidate may end up with, given what is already
// chosen or pinned. Every option contains that base. Groups are sorted by marks; within
// a group larger sets come first.
func (c *candidate) optionGroups(mode PartMode, t Tuning) []optionGroup {
	base := c.chosen | c.required
	if c.groups != nil && c.groupsBase == base {
		return c.groups
	}
	var masks []uint64
	switch mode {
	case PartModeAll:
		if c.scope != 0 || c.required != 0 {
			masks = []uint64{c.full()}
		}
	case PartModePrune:
		masks = c.prefixOptions(base, t.MinParts)
	default:
		masks = c.subsetOptions(base, t)
	}
	c.groups = groupByMarks(c, masks)
	c.groupsBase = base
	return c.groups
}

func (c *candidate) prefixOptions(base uint64, minParts int) []uint64 {
	allowed := c.scope | base
	limit := bits.TrailingZeros64(^allowed)
	if limit == 0 {
		return nil
	}
	k := max(min(minParts, limit), bits.Len64(base))
	var masks []uint64
	for ; k <= limit; k++ {
		masks = append(masks, prefixMask(k))
	}
	return masks
}

// subsetOptions enumerates base plus every subset of the free in-scope leaves. When more
// than MaxSkipLeaves leaves are free only the first MaxSkipLeaves are enumerated, and the
// whole scope is offered as one extra option.
func (c *candidate) subsetOptions(base uint64, t Tuning) []uint64 {
	free := c.scope &^ base
	enumerated := free
	var extra uint64
	if bits.OnesCount64(free) > t.MaxSkipLeaves {
		enumerated = 0
		rest := free
		for n := 0; n < t.MaxSkipLeaves; n++ {
			low := rest & -rest
			enumerated |= low
			rest &^= low
		}
		extra = base | free
	}
	need := min(t.MinParts, bits.OnesCount64(c.scope|base))
	var masks []uint64
	for sub := enumerated; ; sub = (sub - 1) & enumerated {
		m := base | sub
		if m != 0 && bits.OnesCount64(m) >= need {
			masks = append(masks, m)
		}
		if sub == 0 {
			break
		}
	}
	if extra != 0 {
		masks = append(masks, extra)
	}
	return masks
}

func groupByMarks(c *candidate, masks []uint64) []optionGroup {
	byMarks := make(map[int][]uint64)
	for _, m := range masks {
		marks := c.marksOf(m)
		byMarks[marks] = append(byMarks[marks], m)
	}
	groups := make([]optionGroup, 0, len(byMarks))
	for marks, ms := range byMarks {
		sort.Slice(ms, func(i, j int) bool {
			pi, pj := bits.OnesCount64(ms[i]), bits.OnesCount64(ms[j])
			if pi != pj {
				return pi > pj
			}
			return ms[i] < ms[j]
		})
		groups = append(groups, optionGroup{marks: marks, masks: ms})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].marks < groups[j].marks })
	return groups
}
