package exam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"lukechampine.com/frand"

	"exambuilder-server/keyword"
	"exambuilder-server/metrics"
	"exambuilder-server/models"
	"exambuilder-server/utils"
)

// ErrNoQuestions is returned when the pool for a request is empty.
var ErrNoQuestions = errors.New("no questions available")

// PaperStore is the storage a paper build needs.
type PaperStore interface {
	LoadQuestionPool(ctx context.Context, filter models.PoolFilter) ([]*models.Question, error)
	SavePaper(ctx context.Context, paper *models.GeneratedPaper) error
}

// BuildOptions carries the server-side defaults applied to every request.
type BuildOptions struct {
	Tuning           Tuning
	DefaultTolerance int
	DefaultPartMode  PartMode
	Logger           *slog.Logger
	CreatedBy        string
}

func (o BuildOptions) engineOptions() []Option {
	t := o.Tuning
	if t == (Tuning{}) {
		t = DefaultTuning()
	}
	opts := []Option{WithTuning(t)}
	if o.Logger != nil {
		opts = append(opts, WithLogger(o.Logger))
	}
	return opts
}

// ResolveSeed picks the request's seed, else a seed derived from its seed name, else
// a random one.
func ResolveSeed(req models.PaperRequest) int64 {
	switch {
	case req.Seed != nil:
		return *req.Seed
	case req.SeedName != "":
		return utils.SeedFromString(req.SeedName)
	default:
		return int64(frand.Uint64n(math.MaxInt64))
	}
}

// ConfigFromRequest turns an API request into a SelectionConfig. matches must be set
// when the request carries keywords.
func ConfigFromRequest(req models.PaperRequest, seed int64, o BuildOptions, matches map[string][]string) (SelectionConfig, error) {
	mode := o.DefaultPartMode
	if mode == "" {
		mode = PartModeSkip
	}
	opts := []ConfigOption{
		WithSeed(seed),
		WithTolerance(utils.IntValue(req.Tolerance, o.DefaultTolerance)),
		WithPartMode(mode),
		WithTopics(req.Topics...),
		WithTopicCoverage(utils.BoolValue(req.ForceTopicCoverage, true)),
		WithMaxQuestions(req.MaxQuestions),
		WithPinnedQuestions(req.PinnedQuestionIDs...),
		WithPinnedParts(req.PinnedPartLabels...),
		WithGreedyFill(req.AllowGreedyFill),
	}
	if req.PartMode != "" {
		opts = append(opts, WithPartModeName(req.PartMode))
	}
	if len(utils.NormalizeStrings(req.Keywords)) > 0 {
		opts = append(opts, WithKeywordMatches(matches))
	}
	return NewSelectionConfig(req.TargetMarks, opts...)
}

// loadAndConfigure fetches the pool and runs the keyword index when needed.
func loadAndConfigure(ctx context.Context, store PaperStore, req models.PaperRequest, seed int64, o BuildOptions) ([]*models.Question, SelectionConfig, error) {
	pool, err := store.LoadQuestionPool(ctx, models.PoolFilter{
		ExamCode: req.ExamCode,
		Years:    req.Years,
		Papers:   req.Papers,
	})
	if err != nil {
		return nil, SelectionConfig{}, fmt.Errorf("failed to load question pool for %s: %w", req.ExamCode, err)
	}
	if len(pool) == 0 {
		return nil, SelectionConfig{}, fmt.Errorf("%w for exam %s", ErrNoQuestions, req.ExamCode)
	}

	var matches map[string][]string
	if keywords := utils.NormalizeStrings(req.Keywords); len(keywords) > 0 {
		res, err := keyword.NewIndex(pool).Search(ctx, keywords)
		if err != nil {
			return nil, SelectionConfig{}, fmt.Errorf("keyword search failed: %w", err)
		}
		matches = res.Matches()
	}

	cfg, err := ConfigFromRequest(req, seed, o, matches)
	if err != nil {
		return nil, SelectionConfig{}, err
	}
	return pool, cfg, nil
}

// BuildPaper selects a paper for req, stores it and returns the stored record.
func BuildPaper(ctx context.Context, store PaperStore, req models.PaperRequest, o BuildOptions) (*models.GeneratedPaper, error) {
	seed := ResolveSeed(req)
	ctx, span := otel.Tracer("exambuilder").Start(ctx, "exam.BuildPaper",
		trace.WithAttributes(
			attribute.String("exam_code", req.ExamCode),
			attribute.Int("target_marks", req.TargetMarks),
			attribute.Int64("seed", seed),
		),
	)
	defer span.End()

	pool, cfg, err := loadAndConfigure(ctx, store, req, seed, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "configure")
		return nil, err
	}

	start := time.Now()
	result, err := Select(pool, cfg, o.engineOptions()...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select")
		return nil, err
	}
	took := time.Since(start)

	paper := NewPaperRecord(result, cfg, req, o.CreatedBy)
	paper.PublicID = uuid.NewString()
	paper.CreatedAt = time.Now().UTC()
	if err := store.SavePaper(ctx, &paper); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save")
		return nil, fmt.Errorf("failed to save paper: %w", err)
	}

	metrics.ObservePaper(paper.ExamCode, paper.PartMode, paper.WithinTolerance, result.Deviation(), took)
	span.SetAttributes(
		attribute.Int("total_marks", paper.TotalMarks),
		attribute.Int("questions", len(paper.Questions)),
	)
	span.SetStatus(codes.Ok, "built")
	log.Printf("Built paper %s for %s: %d/%d marks, %d questions, seed %d",
		paper.PublicID, paper.ExamCode, paper.TotalMarks, paper.TargetMarks, len(paper.Questions), paper.Seed)
	return &paper, nil
}

// NewPaperRecord derives the stored form of a selection.
func NewPaperRecord(result models.SelectionResult, cfg SelectionConfig, req models.PaperRequest, createdBy string) models.GeneratedPaper {
	paper := models.GeneratedPaper{
		ExamCode:        req.ExamCode,
		TargetMarks:     result.TargetMarks,
		Tolerance:       result.Tolerance,
		Seed:            cfg.Seed,
		PartMode:        cfg.PartMode.String(),
		KeywordMode:     cfg.KeywordMode,
		TotalMarks:      result.TotalMarks(),
		WithinTolerance: result.WithinTolerance(),
		CoveredTopics:   result.CoveredTopics(),
		MarksPerTopic:   result.MarksPerTopic(),
		PartsPerTopic:   result.PartsPerTopic(),
		Questions:       make([]models.PaperQuestion, 0, len(result.Plans)),
		Warnings:        result.Warnings,
		Request:         req,
		CreatedBy:       createdBy,
	}
	for i, plan := range result.Plans {
		q := plan.Question
		paper.Questions = append(paper.Questions, models.PaperQuestion{
			Order:          i + 1,
			QuestionID:     q.ID,
			Year:           q.Year,
			Paper:          q.Paper,
			Variant:        q.Variant,
			Marks:          plan.Marks(),
			QuestionMarks:  q.TotalMarks(),
			IncludedParts:  plan.IncludedParts,
			IsFullQuestion: plan.IsFullQuestion(),
			Topics:         plan.Topics(),
		})
	}
	return paper
}

// UpdateQuestionExposure recomputes how often each question has been used in stored papers.
// This is a periodic background job.
func UpdateQuestionExposure(ctx context.Context, pool *pgxpool.Pool) error {
	log.Println("Starting question exposure update...")
	tag, err := pool.Exec(ctx, `
		UPDATE questions q
		SET times_selected = COALESCE(pq.uses, 0)
		FROM (
			SELECT q2.id, COUNT(pq2.paper_id) AS uses
			FROM questions q2
			LEFT JOIN paper_questions pq2 ON pq2.question_id = q2.id
			GROUP BY q2.id
		) pq
		WHERE q.id = pq.id AND q.times_selected IS DISTINCT FROM COALESCE(pq.uses, 0)
	`)
	if err != nil {
		return fmt.Errorf("failed to update question exposure: %w", err)
	}
	log.Printf("Question exposure updated for %d questions.", tag.RowsAffected())
	return nil
}
