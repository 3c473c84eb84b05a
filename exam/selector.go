package exam

import (
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"math/rand"
	"sort"

	"exambuilder-server/logging"
	"exambuilder-server/models"
)

// Option configures the engine around a Select call.
type Option func(*engineConfig) error

type engineConfig struct {
	tuning Tuning
	logger *slog.Logger
}

// WithLogger routes selection diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) error {
		if logger == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidConfig)
		}
		c.logger = logger
		return nil
	}
}

// WithTuning replaces the default heuristic weights.
func WithTuning(t Tuning) Option {
	return func(c *engineConfig) error {
		c.tuning = t
		return nil
	}
}

func newEngineConfig(opts []Option) (engineConfig, error) {
	ec := engineConfig{
		tuning: DefaultTuning(),
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		if err := opt(&ec); err != nil {
			return engineConfig{}, err
		}
	}
	if err := ec.tuning.Validate(); err != nil {
		return engineConfig{}, err
	}
	return ec, nil
}

// Select builds a selection from pool. The same pool, config and tuning always give
// the same result. When forced coverage leaves a requested topic out, the run is
// repeated with seed+1, seed+2, ... and the best attempt is kept.
func Select(pool []*models.Question, cfg SelectionConfig, opts ...Option) (models.SelectionResult, error) {
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return models.SelectionResult{}, err
	}
	ec, err := newEngineConfig(opts)
	if err != nil {
		return models.SelectionResult{}, err
	}

	attempts := 1
	if cfg.ForceTopicCoverage && len(cfg.Topics) > 0 && !cfg.KeywordMode {
		attempts = ec.tuning.CoverageAttempts
	}

	var best models.SelectionResult
	bestMissing := -1
	for attempt := 0; attempt < attempts; attempt++ {
		r := newRun(pool, cfg, ec, cfg.Seed+int64(attempt))
		result := r.execute()
		missing := missingTopics(cfg.Topics, result.CoveredTopics())
		if bestMissing < 0 || len(missing) < bestMissing ||
			(len(missing) == bestMissing && result.Deviation() < best.Deviation()) {
			best, bestMissing = result, len(missing)
		}
		if len(missing) == 0 {
			break
		}
		ec.logger.Debug("topic coverage incomplete", "attempt", attempt+1, "seed", cfg.Seed+int64(attempt), "missing", missing)
	}
	return best, nil
}

// run is the mutable state of one selection attempt.
type run struct {
	cfg    SelectionConfig
	tuning Tuning
	logger *slog.Logger
	rng    *rand.Rand

	order []*candidate
	byID  map[string]*candidate

	placed     []*candidate // in placement order
	total      int
	covered    map[string]bool
	topicCount map[string]int
	warnings   []string
}

func newRun(pool []*models.Question, cfg SelectionConfig, ec engineConfig, seed int64) *run {
	order, byID, warnings := buildCandidates(pool)
	assignScopes(order, cfg)
	return &run{
		cfg:        cfg,
		tuning:     ec.tuning,
		logger:     ec.logger,
		rng:        rand.New(rand.NewSource(seed)),
		order:      order,
		byID:       byID,
		covered:    make(map[string]bool),
		topicCount: make(map[string]int),
		warnings:   warnings,
	}
}

func (r *run) execute() models.SelectionResult {
	r.applyPins()

	primary := r.eligible()
	r.forceCoverage(primary)
	r.greedyFill(primary)

	low, _ := r.cfg.MarkRange()
	if r.cfg.KeywordMode && r.cfg.AllowGreedyFill && r.total < low {
		r.greedyFill(r.backfillPool())
	}
	r.logger.Debug("selection finished", "total", r.total, "questions", len(r.placed))

	plans := make([]models.SelectionPlan, 0, len(r.placed))
	protected := make(map[PartPin]bool)
	for _, c := range r.placed {
		plans = append(plans, models.SelectionPlan{Question: c.question, IncludedParts: c.labelsOf(c.chosen)})
		for _, label := range c.labelsOf(c.required) {
			protected[PartPin{QuestionID: c.question.ID, Label: label}] = true
		}
	}
	plans = Prune(plans, r.cfg.TargetMarks, r.cfg.Tolerance, PruneOptions{
		Mode:      r.cfg.PartMode,
		Protected: protected,
		MinParts:  r.tuning.MinParts,
	})
	result := Assemble(plans, r.cfg.TargetMarks, r.cfg.Tolerance, r.warnings...)
	result.Warnings = append(result.Warnings, r.outcomeWarnings(result)...)
	return result
}

// applyPins places pinned questions whole and pinned parts in their smallest legal plan.
func (r *run) applyPins() {
	for _, id := range r.cfg.PinnedQuestionIDs {
		c, ok := r.byID[id]
		if !ok {
			r.warnf("pinned question %s is not in the pool", id)
			continue
		}
		c.pinned = true
		c.required = c.full()
		r.place(c, c.full())
		c.closed = true
	}

	for _, pin := range r.cfg.partPins() {
		c, ok := r.byID[pin.QuestionID]
		if !ok {
			r.warnf("pinned part %s: question is not in the pool", pin)
			continue
		}
		if c.pinned {
			continue
		}
		mask, unknown := c.maskOfLabels([]string{pin.Label})
		if len(unknown) > 0 {
			r.warnf("pinned part %s: no such part", pin)
			continue
		}
		c.required |= mask
	}

	for _, c := range r.order {
		if c.required == 0 || c.pinned {
			continue
		}
		var mask uint64
		switch r.cfg.PartMode {
		case PartModeAll:
			mask = c.full()
		case PartModePrune:
			mask = prefixMask(bits.Len64(c.required))
		default:
			mask = c.required
		}
		c.scope |= mask
		r.place(c, mask)
	}
}

func (r *run) eligible() []*candidate {
	var out []*candidate
	for _, c := range r.order {
		if c.scope != 0 || c.required != 0 {
			out = append(out, c)
		}
	}
	return out
}

// backfillPool re-scopes questions without a plan by the topic filter.
func (r *run) backfillPool() []*candidate {
	requested := topicSet(r.cfg.Topics)
	var out []*candidate
	for _, c := range r.order {
		if c.chosen != 0 {
			continue
		}
		c.scope = topicScope(c, requested, r.cfg.PartMode)
		c.groups = nil
		if c.scope != 0 {
			out = append(out, c)
		}
	}
	return out
}

// forceCoverage gives each requested topic one question before the greedy fill. Rare
// topics go first so that common ones cannot crowd them out of the budget. Nothing is
// forced once pins alone reach the target.
func (r *run) forceCoverage(pool []*candidate) {
	if !r.cfg.ForceTopicCoverage || len(r.cfg.Topics) == 0 {
		return
	}
	if r.total >= r.cfg.TargetMarks {
		r.logger.Debug("pins reach the target, coverage not forced", "total", r.total)
		return
	}
	var missing []string
	for _, t := range r.cfg.Topics {
		if !r.covered[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return
	}

	supply := make(map[string]int, len(missing))
	for _, t := range missing {
		for _, c := range pool {
			if c.chosen == 0 && c.scope&c.topicMask(t) != 0 {
				supply[t]++
			}
		}
	}
	if r.tuning.DiversityWeight > 0 {
		r.rng.Shuffle(len(missing), func(i, j int) { missing[i], missing[j] = missing[j], missing[i] })
	}
	sort.SliceStable(missing, func(i, j int) bool { return supply[missing[i]] < supply[missing[j]] })

	target := r.cfg.TargetMarks
	share := float64(target) / float64(len(r.cfg.Topics))
	perTopic := int(math.Ceil(share * r.tuning.TopicFlexibility))

	for _, topic := range missing {
		if r.covered[topic] {
			continue
		}
		if r.capReached() {
			r.logger.Debug("question cap reached while forcing coverage", "topic", topic)
			break
		}
		ceiling := target + int(math.Ceil(float64(target)*r.tuning.TopicOvershoot)) - r.total

		var (
			bestC     *candidate
			bestG     optionGroup
			bestScore = math.Inf(-1)
		)
		for _, c := range pool {
			if c.chosen != 0 {
				continue
			}
			tm := c.topicMask(topic) & c.scope
			if tm == 0 {
				continue
			}
			// a question spanning several missing topics earns a budget for each
			k := r.missingTopicsIn(c)
			budget := min(perTopic*k, ceiling)
			fit, g, ok := r.bestTopicGroup(c.optionGroups(r.cfg.PartMode, r.tuning), tm, budget, share*float64(k))
			if !ok {
				continue
			}
			if s := r.score(fit); s > bestScore {
				bestC, bestG, bestScore = c, g, s
			}
		}
		if bestC == nil {
			bestC, bestG = smallestTouching(pool, topic, r.cfg.PartMode, r.tuning)
		}
		if bestC == nil {
			continue
		}
		tm := bestC.topicMask(topic) & bestC.scope
		r.place(bestC, r.pickMask(bestG.touching(tm)))
	}
}

func (r *run) missingTopicsIn(c *candidate) int {
	k := 0
	for _, t := range r.cfg.Topics {
		if !r.covered[t] && c.scope&c.topicMask(t) != 0 {
			k++
		}
	}
	return max(k, 1)
}

// bestTopicGroup picks the group nearest share among those within budget that touch topic.
func (r *run) bestTopicGroup(groups []optionGroup, topic uint64, budget int, share float64) (float64, optionGroup, bool) {
	bestFit := math.Inf(-1)
	var best optionGroup
	found := false
	for _, g := range groups {
		if g.marks > budget || len(g.touching(topic)) == 0 {
			continue
		}
		fit := r.score(1 - math.Abs(float64(g.marks)-share)/math.Max(share, 1))
		if fit > bestFit {
			bestFit, best, found = fit, g, true
		}
	}
	return bestFit, best, found
}

// smallestTouching is the coverage fallback when nothing fits the per-topic budget.
// The budget is ignored here: covering the topic wins over the mark total.
func smallestTouching(pool []*candidate, topic string, mode PartMode, t Tuning) (*candidate, optionGroup) {
	var (
		bestC *candidate
		bestG optionGroup
	)
	for _, c := range pool {
		if c.chosen != 0 {
			continue
		}
		tm := c.topicMask(topic) & c.scope
		if tm == 0 {
			continue
		}
		for _, g := range c.optionGroups(mode, t) {
			if len(g.touching(tm)) == 0 {
				continue
			}
			if bestC == nil || g.marks < bestG.marks {
				bestC, bestG = c, g
			}
			break
		}
	}
	return bestC, bestG
}

// greedyFill adds or grows plans until the total reaches the lower edge of the band.
// A plan placed here or by forced coverage may grow again on a later step.
func (r *run) greedyFill(pool []*candidate) {
	low, high := r.cfg.MarkRange()
	topicCap := r.tuning.topicCap(r.cfg.TargetMarks)
	for r.total < low {
		c, g := r.pickGreedy(pool, high, topicCap)
		if c == nil && topicCap > 0 {
			c, g = r.pickGreedy(pool, high, 0)
		}
		if c == nil {
			c, g = r.closestOvershoot(pool)
		}
		if c == nil {
			r.logger.Debug("greedy fill exhausted", "total", r.total, "low", low)
			return
		}
		r.place(c, r.pickMask(g.masks))
	}
}

func (r *run) canExtend(c *candidate, topicCap int) bool {
	if c.closed {
		return false
	}
	if c.chosen != 0 {
		return true
	}
	if r.capReached() {
		return false
	}
	return topicCap == 0 || r.topicCount[c.question.Topic] < topicCap
}

type fitting struct {
	group   optionGroup
	fit     float64
	landing bool
}

// pickGreedy scores every extendable candidate's best fitting option and returns the winner.
// Options that would push the total over the band are never considered. When some option
// lands the total inside the band, only landing options compete.
func (r *run) pickGreedy(pool []*candidate, high, topicCap int) (*candidate, optionGroup) {
	low, _ := r.cfg.MarkRange()
	var (
		cands     []*candidate
		fits      [][]fitting
		finishing bool
	)
	for _, c := range pool {
		if !r.canExtend(c, topicCap) {
			continue
		}
		current := c.marksOf(c.chosen)
		var fs []fitting
		for _, og := range c.optionGroups(r.cfg.PartMode, r.tuning) {
			delta := og.marks - current
			if delta <= 0 || r.total+delta > high {
				continue
			}
			landing := r.total+delta >= low
			finishing = finishing || landing
			fs = append(fs, fitting{group: og, fit: r.fit(r.total + delta), landing: landing})
		}
		if len(fs) > 0 {
			cands = append(cands, c)
			fits = append(fits, fs)
		}
	}

	var (
		bestC     *candidate
		bestFits  []fitting
		bestScore = math.Inf(-1)
	)
	for i, c := range cands {
		fs := fits[i]
		if finishing {
			fs = landingOnly(fs)
			if len(fs) == 0 {
				continue
			}
		}
		bestFit := math.Inf(-1)
		for _, f := range fs {
			bestFit = math.Max(bestFit, f.fit)
		}
		if s := r.score(bestFit); s > bestScore {
			bestC, bestFits, bestScore = c, fs, s
		}
	}
	if bestC == nil {
		return nil, optionGroup{}
	}
	return bestC, r.pickGroup(bestC, bestFits)
}

func landingOnly(fs []fitting) []fitting {
	var out []fitting
	for _, f := range fs {
		if f.landing {
			out = append(out, f)
		}
	}
	return out
}

// pickGroup chooses among a candidate's fitting groups. With jitter on, every group gets
// its own draw and the whole scope gets FullQuestionBonus on top, so smaller groups are
// tried without crowding out complete questions.
func (r *run) pickGroup(c *candidate, fs []fitting) optionGroup {
	if r.tuning.DiversityWeight == 0 || len(fs) == 1 {
		best := fs[0]
		for _, f := range fs[1:] {
			if f.fit > best.fit {
				best = f
			}
		}
		return best.group
	}
	whole := c.marksOf(c.scope | c.chosen | c.required)
	var (
		best      optionGroup
		bestScore = math.Inf(-1)
	)
	for _, f := range fs {
		s := r.score(f.fit)
		if f.group.marks == whole {
			s += r.tuning.FullQuestionBonus
		}
		if s > bestScore {
			best, bestScore = f.group, s
		}
	}
	return best
}

// closestOvershoot is the last resort when nothing fits the band: the option that lands
// nearest the target, provided it is strictly nearer than the current total.
func (r *run) closestOvershoot(pool []*candidate) (*candidate, optionGroup) {
	target := r.cfg.TargetMarks
	bestDist := abs(target - r.total)
	var (
		bestC *candidate
		bestG optionGroup
	)
	for _, c := range pool {
		if !r.canExtend(c, 0) {
			continue
		}
		current := c.marksOf(c.chosen)
		for _, g := range c.optionGroups(r.cfg.PartMode, r.tuning) {
			delta := g.marks - current
			if delta <= 0 {
				continue
			}
			if d := abs(target - r.total - delta); d < bestDist {
				bestC, bestG, bestDist = c, g, d
			}
		}
	}
	return bestC, bestG
}

// fit is 1 at the target and falls off linearly; overshooting costs extra.
func (r *run) fit(total int) float64 {
	target := float64(r.cfg.TargetMarks)
	diff := math.Abs(float64(total) - target)
	if total > r.cfg.TargetMarks {
		diff *= 1 + r.tuning.UnderBudgetBias
	}
	return 1 - diff/target
}

// score blends fit with seeded jitter. One draw is consumed per call when jitter is on.
func (r *run) score(fit float64) float64 {
	w := r.tuning.DiversityWeight
	if w == 0 {
		return fit
	}
	return (1-w)*fit + w*r.rng.Float64()
}

func (r *run) pickMask(masks []uint64) uint64 {
	if len(masks) == 1 || r.tuning.DiversityWeight == 0 {
		return masks[0]
	}
	return masks[r.rng.Intn(len(masks))]
}

func (r *run) capReached() bool {
	return r.cfg.MaxQuestions > 0 && len(r.placed) >= r.cfg.MaxQuestions
}

// place sets the candidate's chosen leaves, registering it on first placement.
func (r *run) place(c *candidate, mask uint64) {
	if c.chosen == 0 {
		r.placed = append(r.placed, c)
		r.topicCount[c.question.Topic]++
	}
	r.total += c.marksOf(mask) - c.marksOf(c.chosen)
	c.chosen = mask
	c.groups = nil
	for _, t := range c.topicsOf(mask) {
		r.covered[t] = true
	}
}

func (r *run) warnf(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// outcomeWarnings explains how the final selection falls short of the request.
func (r *run) outcomeWarnings(result models.SelectionResult) []string {
	var out []string
	low, high := r.cfg.MarkRange()
	switch total := result.TotalMarks(); {
	case total > high:
		out = append(out, fmt.Sprintf("total of %d marks exceeds the target of %d by more than the tolerance of %d",
			total, r.cfg.TargetMarks, r.cfg.Tolerance))
	case total < low:
		out = append(out, fmt.Sprintf("total of %d marks falls short of the target of %d by more than the tolerance of %d",
			total, r.cfg.TargetMarks, r.cfg.Tolerance))
	}
	if r.cfg.ForceTopicCoverage && !r.cfg.KeywordMode {
		for _, t := range missingTopics(r.cfg.Topics, result.CoveredTopics()) {
			out = append(out, fmt.Sprintf("no selected part covers topic %q", t))
		}
	}
	if r.cfg.KeywordMode {
		unused := 0
		for qid, labels := range r.cfg.KeywordMatches {
			if len(labels) == 0 {
				continue
			}
			if _, ok := result.Plan(qid); !ok {
				if _, inPool := r.byID[qid]; inPool {
					unused++
				}
			}
		}
		if unused > 0 {
			out = append(out, fmt.Sprintf("%d keyword-matched questions were left out to stay within the mark budget", unused))
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
