package exam

import (
	"fmt"
	"math/bits"

	"exambuilder-server/models"
)

// maxLeaves bounds the leaf count of a selectable question; leaf sets are uint64 masks.
const maxLeaves = 64

// EligibleQuestion is a question that passed filtering and the leaves in scope for it.
type EligibleQuestion struct {
	Question *models.Question
	InScope  []string // leaf labels in document order
}

// candidate is one pool question as seen by a single selection run. Leaf sets are
// bit masks over the question's leaves in document order.
type candidate struct {
	question *models.Question
	leaves   []*models.Part
	topics   []string // resolved topic per leaf
	valid    uint64

	scope    uint64 // leaves the current phase may add
	required uint64 // pinned leaves
	chosen   uint64 // leaves currently selected, 0 when unplaced
	pinned   bool   // whole question pinned
	closed   bool   // pinned whole, never grows

	groups     []optionGroup
	groupsBase uint64
}

func newCandidate(q *models.Question) (*candidate, error) {
	if q == nil || q.Root == nil {
		return nil, fmt.Errorf("question without a part tree")
	}
	leaves := q.LeafParts()
	if len(leaves) > maxLeaves {
		return nil, fmt.Errorf("question %s has %d leaves, more than %d", q.ID, len(leaves), maxLeaves)
	}
	c := &candidate{
		question: q,
		leaves:   leaves,
		topics:   make([]string, len(leaves)),
	}
	for i, leaf := range leaves {
		c.topics[i] = q.TopicOf(leaf)
		if leaf.Valid() {
			c.valid |= 1 << i
		}
	}
	return c, nil
}

func prefixMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return 1<<n - 1
}

func (c *candidate) full() uint64 {
	return prefixMask(len(c.leaves))
}

// validPrefix covers the leaves before the first invalid one.
func (c *candidate) validPrefix() uint64 {
	return prefixMask(bits.TrailingZeros64(^c.valid))
}

func (c *candidate) allValid() bool {
	return c.valid == c.full()
}

func (c *candidate) marksOf(mask uint64) int {
	total := 0
	for i, leaf := range c.leaves {
		if mask&(1<<i) != 0 {
			total += leaf.TotalMarks()
		}
	}
	return total
}

func (c *candidate) labelsOf(mask uint64) []string {
	labels := make([]string, 0, bits.OnesCount64(mask))
	for i, leaf := range c.leaves {
		if mask&(1<<i) != 0 {
			labels = append(labels, leaf.Label())
		}
	}
	return labels
}

func (c *candidate) topicMask(topic string) uint64 {
	var m uint64
	for i, t := range c.topics {
		if t == topic {
			m |= 1 << i
		}
	}
	return m
}

func (c *candidate) topicsOf(mask uint64) []string {
	var out []string
	for i, t := range c.topics {
		if mask&(1<<i) != 0 && t != "" {
			out = append(out, t)
		}
	}
	return out
}

// maskOfLabels resolves labels to leaves. A non-leaf label stands for all of its leaves.
func (c *candidate) maskOfLabels(labels []string) (mask uint64, unknown []string) {
	for _, label := range labels {
		node := c.question.Part(label)
		if node == nil {
			unknown = append(unknown, label)
			continue
		}
		for _, leaf := range node.Leaves() {
			for i, l := range c.leaves {
				if l == leaf {
					mask |= 1 << i
				}
			}
		}
	}
	return mask, unknown
}

// topicScope applies the topic filter. Leaves after the last requested-topic leaf are
// dropped; within that prefix PRUNE keeps everything, SKIP keeps only matching leaves
// and ALL takes the whole question.
func topicScope(c *candidate, requested map[string]bool, mode PartMode) uint64 {
	end := len(c.leaves)
	if len(requested) > 0 {
		end = 0
		for i, t := range c.topics {
			if requested[t] {
				end = i + 1
			}
		}
	}
	if end == 0 {
		return 0
	}
	switch mode {
	case PartModeAll:
		if !c.allValid() {
			return 0
		}
		return c.full()
	case PartModePrune:
		return prefixMask(end) & c.validPrefix()
	default:
		if len(requested) == 0 {
			return c.valid
		}
		var m uint64
		for i := 0; i < end; i++ {
			if requested[c.topics[i]] {
				m |= 1 << i
			}
		}
		return m & c.valid
	}
}

// keywordScope turns matched labels into the leaves a mode may select.
func keywordScope(c *candidate, labels []string, mode PartMode) uint64 {
	matched, _ := c.maskOfLabels(labels)
	matched &= c.valid
	if matched == 0 {
		return 0
	}
	switch mode {
	case PartModeAll:
		if !c.allValid() {
			return 0
		}
		return c.full()
	case PartModePrune:
		return prefixMask(bits.Len64(matched)) & c.validPrefix()
	default:
		return matched
	}
}

func topicSet(topics []string) map[string]bool {
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	return set
}

// buildCandidates wraps every usable pool question in pool order. Duplicate ids and
// oversized questions are skipped with a warning.
func buildCandidates(pool []*models.Question) (order []*candidate, byID map[string]*candidate, warnings []string) {
	byID = make(map[string]*candidate, len(pool))
	for _, q := range pool {
		c, err := newCandidate(q)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped question: %v", err))
			continue
		}
		if _, dup := byID[q.ID]; dup {
			warnings = append(warnings, fmt.Sprintf("skipped duplicate question %s", q.ID))
			continue
		}
		byID[q.ID] = c
		order = append(order, c)
	}
	return order, byID, warnings
}

// assignScopes sets each candidate's primary scope: keyword matches in keyword mode,
// the topic filter otherwise.
func assignScopes(order []*candidate, cfg SelectionConfig) {
	requested := topicSet(cfg.Topics)
	for _, c := range order {
		if cfg.KeywordMode {
			c.scope = keywordScope(c, cfg.KeywordMatches[c.question.ID], cfg.PartMode)
		} else {
			c.scope = topicScope(c, requested, cfg.PartMode)
		}
		c.groups = nil
	}
}

// Filter runs the eligibility stage on its own: which questions the selector may use
// and which of their leaves are in scope. Pinned content is always included.
func Filter(pool []*models.Question, cfg SelectionConfig) ([]EligibleQuestion, error) {
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	order, byID, _ := buildCandidates(pool)
	assignScopes(order, cfg)
	for _, id := range cfg.PinnedQuestionIDs {
		if c, ok := byID[id]; ok {
			c.scope = c.full()
		}
	}
	for _, pin := range cfg.partPins() {
		if c, ok := byID[pin.QuestionID]; ok {
			m, _ := c.maskOfLabels([]string{pin.Label})
			c.scope |= m
		}
	}
	var out []EligibleQuestion
	for _, c := range order {
		if c.scope == 0 {
			continue
		}
		out = append(out, EligibleQuestion{Question: c.question, InScope: c.labelsOf(c.scope)})
	}
	return out, nil
}
