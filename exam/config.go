package exam

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"exambuilder-server/utils"
)

// ErrInvalidConfig wraps every structural problem with a SelectionConfig or Tuning.
var ErrInvalidConfig = errors.New("invalid selection config")

const (
	DefaultTolerance = 2
	DefaultSeed      = 42
)

// PartMode governs which leaf subsets of a question may be selected.
type PartMode string

const (
	PartModeAll   PartMode = "all"   // whole questions only
	PartModePrune PartMode = "prune" // contiguous prefixes of the leaf order
	PartModeSkip  PartMode = "skip"  // any subset of in-scope leaves
)

// ParsePartMode accepts the mode names case-insensitively.
func ParsePartMode(s string) (PartMode, error) {
	m := PartMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: unknown part mode %q", ErrInvalidConfig, s)
	}
	return m, nil
}

// Valid reports whether m is one of the known modes.
func (m PartMode) Valid() bool {
	switch m {
	case PartModeAll, PartModePrune, PartModeSkip:
		return true
	}
	return false
}

func (m PartMode) String() string { return string(m) }

// PartPin identifies a leaf that must be selected and never pruned.
type PartPin struct {
	QuestionID string
	Label      string
}

// ParsePartPin parses "<question_id>::<label>".
func ParsePartPin(s string) (PartPin, error) {
	qid, label, ok := strings.Cut(s, "::")
	qid, label = strings.TrimSpace(qid), strings.TrimSpace(label)
	if !ok || qid == "" || label == "" {
		return PartPin{}, fmt.Errorf("%w: part pin %q must look like <question_id>::<label>", ErrInvalidConfig, s)
	}
	return PartPin{QuestionID: qid, Label: label}, nil
}

func (p PartPin) String() string { return p.QuestionID + "::" + p.Label }

// SelectionConfig is one declarative selection request.
type SelectionConfig struct {
	TargetMarks        int
	Tolerance          int
	Seed               int64
	Topics             []string
	ForceTopicCoverage bool
	MaxQuestions       int // 0 means no cap
	PartMode           PartMode
	KeywordMode        bool
	// KeywordMatches maps question id to matched part labels, as produced by the keyword index.
	KeywordMatches    map[string][]string
	PinnedQuestionIDs []string
	PinnedPartLabels  []string // "<question_id>::<label>"
	AllowGreedyFill   bool     // keyword mode only: backfill from the full pool
}

// ConfigOption adjusts a SelectionConfig under construction.
type ConfigOption func(*SelectionConfig) error

// NewSelectionConfig applies opts over the defaults and validates the result.
func NewSelectionConfig(targetMarks int, opts ...ConfigOption) (SelectionConfig, error) {
	cfg := SelectionConfig{
		TargetMarks:        targetMarks,
		Tolerance:          DefaultTolerance,
		Seed:               DefaultSeed,
		ForceTopicCoverage: true,
		PartMode:           PartModeSkip,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return SelectionConfig{}, err
		}
	}
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return SelectionConfig{}, err
	}
	return cfg, nil
}

// WithTolerance sets the accepted distance from the target.
func WithTolerance(tolerance int) ConfigOption {
	return func(c *SelectionConfig) error {
		c.Tolerance = tolerance
		return nil
	}
}

// WithSeed sets the seed for every randomized decision.
func WithSeed(seed int64) ConfigOption {
	return func(c *SelectionConfig) error {
		c.Seed = seed
		return nil
	}
}

// WithTopics restricts the pool to the given topics.
func WithTopics(topics ...string) ConfigOption {
	return func(c *SelectionConfig) error {
		c.Topics = append(c.Topics, topics...)
		return nil
	}
}

// WithTopicCoverage toggles forced representation of every requested topic.
func WithTopicCoverage(force bool) ConfigOption {
	return func(c *SelectionConfig) error {
		c.ForceTopicCoverage = force
		return nil
	}
}

// WithMaxQuestions caps the number of distinct questions.
func WithMaxQuestions(n int) ConfigOption {
	return func(c *SelectionConfig) error {
		c.MaxQuestions = n
		return nil
	}
}

// WithPartMode sets the subset policy.
func WithPartMode(mode PartMode) ConfigOption {
	return func(c *SelectionConfig) error {
		c.PartMode = mode
		return nil
	}
}

// WithPartModeName parses and sets the subset policy.
func WithPartModeName(name string) ConfigOption {
	return func(c *SelectionConfig) error {
		m, err := ParsePartMode(name)
		if err != nil {
			return err
		}
		c.PartMode = m
		return nil
	}
}

// WithKeywordMatches switches to keyword mode with the given matches.
func WithKeywordMatches(matches map[string][]string) ConfigOption {
	return func(c *SelectionConfig) error {
		c.KeywordMode = true
		c.KeywordMatches = maps.Clone(matches)
		return nil
	}
}

// WithGreedyFill enables keyword-mode backfill from the full pool.
func WithGreedyFill(allow bool) ConfigOption {
	return func(c *SelectionConfig) error {
		c.AllowGreedyFill = allow
		return nil
	}
}

// WithPinnedQuestions forces whole questions into the result.
func WithPinnedQuestions(ids ...string) ConfigOption {
	return func(c *SelectionConfig) error {
		c.PinnedQuestionIDs = append(c.PinnedQuestionIDs, ids...)
		return nil
	}
}

// WithPinnedParts forces individual parts into the result.
func WithPinnedParts(labels ...string) ConfigOption {
	return func(c *SelectionConfig) error {
		for _, l := range labels {
			if _, err := ParsePartPin(l); err != nil {
				return err
			}
		}
		c.PinnedPartLabels = append(c.PinnedPartLabels, labels...)
		return nil
	}
}

// Validate reports structural problems no selection could satisfy.
func (c SelectionConfig) Validate() error {
	if c.TargetMarks <= 0 {
		return fmt.Errorf("%w: target marks must be positive, got %d", ErrInvalidConfig, c.TargetMarks)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance cannot be negative, got %d", ErrInvalidConfig, c.Tolerance)
	}
	if !c.PartMode.Valid() {
		return fmt.Errorf("%w: unknown part mode %q", ErrInvalidConfig, c.PartMode)
	}
	if c.MaxQuestions < 0 {
		return fmt.Errorf("%w: max questions cannot be negative, got %d", ErrInvalidConfig, c.MaxQuestions)
	}
	for _, l := range c.PinnedPartLabels {
		if _, err := ParsePartPin(l); err != nil {
			return err
		}
	}
	return nil
}

// MarkRange is the inclusive acceptance band.
func (c SelectionConfig) MarkRange() (low, high int) {
	return c.TargetMarks - c.Tolerance, c.TargetMarks + c.Tolerance
}

// normalized returns a copy with list fields trimmed, sorted and de-duplicated.
func (c SelectionConfig) normalized() SelectionConfig {
	c.Topics = utils.NormalizeStrings(c.Topics)
	c.PinnedQuestionIDs = utils.NormalizeStrings(c.PinnedQuestionIDs)
	c.PinnedPartLabels = utils.NormalizeStrings(c.PinnedPartLabels)
	if c.KeywordMatches != nil {
		matches := make(map[string][]string, len(c.KeywordMatches))
		for qid, labels := range c.KeywordMatches {
			matches[qid] = utils.NormalizeStrings(labels)
		}
		c.KeywordMatches = matches
	}
	return c
}

func (c SelectionConfig) partPins() []PartPin {
	pins := make([]PartPin, 0, len(c.PinnedPartLabels))
	for _, l := range c.PinnedPartLabels {
		if pin, err := ParsePartPin(l); err == nil {
			pins = append(pins, pin)
		}
	}
	return pins
}

// Tuning holds the heuristic weights of the selector and pruner.
type Tuning struct {
	// DiversityWeight blends seeded jitter into candidate scores: 0 is pure fit, 1 pure noise.
	DiversityWeight float64
	// FullQuestionBonus is added to the jittered score of a candidate's whole scope when
	// choosing which of its groups to place.
	FullQuestionBonus float64
	// UnderBudgetBias penalises landing over the target more than landing under it.
	UnderBudgetBias float64
	// TopicFlexibility inflates the per-topic budget used while forcing coverage.
	TopicFlexibility float64
	// TopicOvershoot is the fraction of the target that forced coverage may exceed it by.
	TopicOvershoot float64
	// Requests at or under SmallBudgetMarks take at most SmallBudgetTopicCap questions per
	// topic before other topics get a turn; larger ones use LargeBudgetTopicCap (0 = no cap).
	SmallBudgetMarks    int
	SmallBudgetTopicCap int
	LargeBudgetTopicCap int
	// CoverageAttempts is how many seeds (seed, seed+1, ...) are tried when forced coverage misses a topic.
	CoverageAttempts int
	// MinParts is the smallest number of leaves a partial plan keeps.
	MinParts int
	// MaxSkipLeaves bounds subset enumeration in SKIP mode; beyond it only the whole scope is offered in addition.
	MaxSkipLeaves int
}

// DefaultTuning returns the weights used when none are configured.
func DefaultTuning() Tuning {
	return Tuning{
		DiversityWeight:     0.9,
		FullQuestionBonus:   0.35,
		UnderBudgetBias:     0.25,
		TopicFlexibility:    1.5,
		TopicOvershoot:      0.2,
		SmallBudgetMarks:    30,
		SmallBudgetTopicCap: 2,
		LargeBudgetTopicCap: 0,
		CoverageAttempts:    5,
		MinParts:            1,
		MaxSkipLeaves:       12,
	}
}

// Validate checks every weight is in range.
func (t Tuning) Validate() error {
	switch {
	case t.DiversityWeight < 0 || t.DiversityWeight > 1:
		return fmt.Errorf("%w: diversity weight must be within [0,1], got %v", ErrInvalidConfig, t.DiversityWeight)
	case t.FullQuestionBonus < 0:
		return fmt.Errorf("%w: full question bonus cannot be negative", ErrInvalidConfig)
	case t.UnderBudgetBias < 0:
		return fmt.Errorf("%w: under-budget bias cannot be negative", ErrInvalidConfig)
	case t.TopicFlexibility < 1:
		return fmt.Errorf("%w: topic flexibility must be >= 1, got %v", ErrInvalidConfig, t.TopicFlexibility)
	case t.TopicOvershoot < 0:
		return fmt.Errorf("%w: topic overshoot cannot be negative", ErrInvalidConfig)
	case t.SmallBudgetTopicCap < 0 || t.LargeBudgetTopicCap < 0:
		return fmt.Errorf("%w: topic caps cannot be negative", ErrInvalidConfig)
	case t.CoverageAttempts < 1:
		return fmt.Errorf("%w: coverage attempts must be >= 1, got %d", ErrInvalidConfig, t.CoverageAttempts)
	case t.MinParts < 1:
		return fmt.Errorf("%w: min parts must be >= 1, got %d", ErrInvalidConfig, t.MinParts)
	case t.MaxSkipLeaves < 1 || t.MaxSkipLeaves > 20:
		return fmt.Errorf("%w: max skip leaves must be within [1,20], got %d", ErrInvalidConfig, t.MaxSkipLeaves)
	}
	return nil
}

func (t Tuning) topicCap(targetMarks int) int {
	if targetMarks <= t.SmallBudgetMarks {
		return t.SmallBudgetTopicCap
	}
	return t.LargeBudgetTopicCap
}
