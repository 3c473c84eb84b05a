package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidPart is returned when a part tree breaks one of its structural rules.
var ErrInvalidPart = errors.New("invalid part")

// MarkSource records where a mark value came from.
type MarkSource string

const (
	MarkSourceExplicit  MarkSource = "explicit"  // printed next to a leaf
	MarkSourceAggregate MarkSource = "aggregate" // sum of children
	MarkSourceInferred  MarkSource = "inferred"  // heuristic fallback from the extractor
)

// Marks is a mark value together with its provenance.
type Marks struct {
	Value  int        `json:"value"`
	Source MarkSource `json:"source"`
}

// ExplicitMarks returns author-assigned marks for a leaf.
func ExplicitMarks(value int) Marks {
	return Marks{Value: value, Source: MarkSourceExplicit}
}

// InferredMarks returns marks the extractor had to guess.
func InferredMarks(value int) Marks {
	return Marks{Value: value, Source: MarkSourceInferred}
}

// AggregateMarks sums the marks of the given parts.
func AggregateMarks(parts []*Part) Marks {
	total := 0
	for _, p := range parts {
		total += p.Marks().Value
	}
	return Marks{Value: total, Source: MarkSourceAggregate}
}

// SliceBounds is the vertical (and optionally horizontal) region a part occupies
// in the composite page image. Selection treats it as opaque apart from ordering.
type SliceBounds struct {
	Top           int  `json:"top"`
	Bottom        int  `json:"bottom"`
	Left          int  `json:"left,omitempty"`
	Right         *int `json:"right,omitempty"`
	ChildIsInline bool `json:"child_is_inline,omitempty"`
}

// Validate checks the bounds describe a non-empty region.
func (b SliceBounds) Validate() error {
	if b.Top < 0 {
		return fmt.Errorf("%w: top must be >= 0, got %d", ErrInvalidPart, b.Top)
	}
	if b.Bottom <= b.Top {
		return fmt.Errorf("%w: bottom must be > top (%d <= %d)", ErrInvalidPart, b.Bottom, b.Top)
	}
	if b.Left < 0 {
		return fmt.Errorf("%w: left must be >= 0, got %d", ErrInvalidPart, b.Left)
	}
	if b.Right != nil && *b.Right <= b.Left {
		return fmt.Errorf("%w: right must be > left (%d <= %d)", ErrInvalidPart, *b.Right, b.Left)
	}
	return nil
}

// Height is the number of pixel rows covered.
func (b SliceBounds) Height() int {
	return b.Bottom - b.Top
}

// Overlaps reports whether two regions share a pixel row. Touching regions do not overlap.
func (b SliceBounds) Overlaps(other SliceBounds) bool {
	return !(b.Bottom <= other.Top || other.Bottom <= b.Top)
}

// PartKind is the level of a node in a question tree.
type PartKind string

const (
	PartKindQuestion PartKind = "question" // "1"
	PartKindLetter   PartKind = "letter"   // "1(a)"
	PartKindRoman    PartKind = "roman"    // "1(a)(ii)"
)

// Depth returns 0, 1 or 2 for known kinds and -1 otherwise.
func (k PartKind) Depth() int {
	switch k {
	case PartKindQuestion:
		return 0
	case PartKindLetter:
		return 1
	case PartKindRoman:
		return 2
	default:
		return -1
	}
}

// PartSpec carries the inputs for NewPart.
type PartSpec struct {
	Label     string
	Kind      PartKind
	Marks     Marks // ignored for parents, their marks are always aggregated
	Bounds    SliceBounds
	Topic     string
	SubTopics []string
	Children  []*Part
	// Issues lists extractor validation problems. A part with issues is never selected.
	Issues []string
}

// Part is an immutable node of a question tree.
type Part struct {
	label     string
	kind      PartKind
	marks     Marks
	bounds    SliceBounds
	topic     string
	subTopics []string
	children  []*Part
	issues    []string
}

// NewPart builds a part and enforces the tree invariants: children are sorted by
// position, do not overlap and sit deeper than their parent; leaves carry explicit
// or inferred marks.
func NewPart(spec PartSpec) (*Part, error) {
	if spec.Label == "" {
		return nil, fmt.Errorf("%w: empty label", ErrInvalidPart)
	}
	depth := spec.Kind.Depth()
	if depth < 0 {
		return nil, fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidPart, spec.Label, spec.Kind)
	}
	if err := spec.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Label, err)
	}

	lastBottom := -1
	for _, child := range spec.Children {
		if child == nil {
			return nil, fmt.Errorf("%w: %s has a nil child", ErrInvalidPart, spec.Label)
		}
		if child.kind.Depth() <= depth {
			return nil, fmt.Errorf("%w: child %s (%s) is not deeper than %s (%s)",
				ErrInvalidPart, child.label, child.kind, spec.Label, spec.Kind)
		}
		if child.bounds.Top < lastBottom {
			return nil, fmt.Errorf("%w: children of %s must be sorted by position and cannot overlap (top=%d < last bottom=%d)",
				ErrInvalidPart, spec.Label, child.bounds.Top, lastBottom)
		}
		lastBottom = child.bounds.Bottom
	}

	p := &Part{
		label:     spec.Label,
		kind:      spec.Kind,
		bounds:    spec.Bounds,
		topic:     spec.Topic,
		subTopics: slices.Clone(spec.SubTopics),
		children:  slices.Clone(spec.Children),
		issues:    slices.Clone(spec.Issues),
	}
	if len(p.children) == 0 {
		m := spec.Marks
		if m.Source == "" {
			m.Source = MarkSourceExplicit
		}
		if m.Source == MarkSourceAggregate {
			return nil, fmt.Errorf("%w: leaf %s cannot carry aggregate marks", ErrInvalidPart, spec.Label)
		}
		if m.Value < 0 {
			return nil, fmt.Errorf("%w: leaf %s has negative marks %d", ErrInvalidPart, spec.Label, m.Value)
		}
		p.marks = m
	}
	return p, nil
}

func (p *Part) Label() string { return p.label }
func (p *Part) Kind() PartKind { return p.kind }
func (p *Part) Bounds() SliceBounds { return p.bounds }
func (p *Part) Topic() string { return p.topic }
func (p *Part) SubTopics() []string { return slices.Clone(p.subTopics) }
func (p *Part) Children() []*Part { return slices.Clone(p.children) }
func (p *Part) Issues() []string { return slices.Clone(p.issues) }
func (p *Part) IsLeaf() bool { return len(p.children) == 0 }
func (p *Part) Valid() bool { return len(p.issues) == 0 }
func (p *Part) Depth() int { return p.kind.Depth() }
func (p *Part) TotalMarks() int { return p.Marks().Value }
func (p *Part) LeafCount() int { return len(p.Leaves()) }

// Marks returns the leaf's own marks, or the children's sum for a parent.
func (p *Part) Marks() Marks {
	if p.IsLeaf() {
		return p.marks
	}
	return AggregateMarks(p.children)
}

// Leaves returns the leaves under p in document order.
func (p *Part) Leaves() []*Part {
	var out []*Part
	p.walk(func(n *Part) {
		if n.IsLeaf() {
			out = append(out, n)
		}
	})
	return out
}

// All returns p and every descendant, depth first.
func (p *Part) All() []*Part {
	var out []*Part
	p.walk(func(n *Part) { out = append(out, n) })
	return out
}

// Find returns the node with the given label, or nil.
func (p *Part) Find(label string) *Part {
	if p.label == label {
		return p
	}
	for _, c := range p.children {
		if found := c.Find(label); found != nil {
			return found
		}
	}
	return nil
}

func (p *Part) walk(fn func(*Part)) {
	fn(p)
	for _, c := range p.children {
		c.walk(fn)
	}
}

// partDocument is the on-disk layout written by the extractor.
type partDocument struct {
	Label            string      `json:"label"`
	Kind             PartKind    `json:"kind"`
	Marks            int         `json:"marks"`
	MarkSource       MarkSource  `json:"mark_source,omitempty"`
	Bounds           SliceBounds `json:"bounds"`
	Children         []*Part     `json:"children,omitempty"`
	Topic            string      `json:"topic,omitempty"`
	SubTopics        []string    `json:"sub_topics,omitempty"`
	IsValid          *bool       `json:"is_valid,omitempty"`
	ValidationIssues []string    `json:"validation_issues,omitempty"`
}

// MarshalJSON writes the extractor document layout.
func (p *Part) MarshalJSON() ([]byte, error) {
	m := p.Marks()
	doc := partDocument{
		Label:      p.label,
		Kind:       p.kind,
		Marks:      m.Value,
		MarkSource: m.Source,
		Bounds:     p.bounds,
		Children:   p.children,
		Topic:      p.topic,
		SubTopics:  p.subTopics,
	}
	if !p.Valid() {
		invalid := false
		doc.IsValid = &invalid
		doc.ValidationIssues = p.issues
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes the extractor layout through NewPart, so malformed trees are rejected.
func (p *Part) UnmarshalJSON(data []byte) error {
	var doc partDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	issues := doc.ValidationIssues
	if doc.IsValid != nil && !*doc.IsValid && len(issues) == 0 {
		issues = []string{"marked invalid by extractor"}
	}
	built, err := NewPart(PartSpec{
		Label:     doc.Label,
		Kind:      doc.Kind,
		Marks:     Marks{Value: doc.Marks, Source: doc.MarkSource},
		Bounds:    doc.Bounds,
		Topic:     doc.Topic,
		SubTopics: doc.SubTopics,
		Children:  doc.Children,
		Issues:    issues,
	})
	if err != nil {
		return err
	}
	*p = *built
	return nil
}
