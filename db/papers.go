package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"exambuilder-server/models"
)

// ErrPaperNotFound is returned by GetPaper for an unknown public id.
var ErrPaperNotFound = errors.New("paper not found")

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PaperRepository stores the question pool and built papers.
type PaperRepository struct {
	pool *pgxpool.Pool
}

func NewPaperRepository(pool *pgxpool.Pool) *PaperRepository {
	return &PaperRepository{pool: pool}
}

// poolQuery builds the SELECT for a pool filter. Empty filter fields are not applied.
func poolQuery(f models.PoolFilter) sq.SelectBuilder {
	q := psql.Select("document").
		From("questions").
		Where(sq.Eq{"exam_code": f.ExamCode})
	if len(f.Years) > 0 {
		q = q.Where(sq.Eq{"year": f.Years})
	}
	if len(f.Papers) > 0 {
		q = q.Where(sq.Eq{"paper": f.Papers})
	}
	if len(f.QuestionIDs) > 0 {
		q = q.Where(sq.Eq{"question_id": f.QuestionIDs})
	}
	return q.OrderBy("year DESC", "paper", "variant", "question_id")
}

// LoadQuestionPool decodes the stored question documents matching f.
func (r *PaperRepository) LoadQuestionPool(ctx context.Context, f models.PoolFilter) ([]*models.Question, error) {
	ctx, span := otel.Tracer("exambuilder").Start(ctx, "db.LoadQuestionPool",
		trace.WithAttributes(attribute.String("exam_code", f.ExamCode)),
	)
	defer span.End()

	query, args, err := poolQuery(f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build pool query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query")
		return nil, fmt.Errorf("failed to query question pool: %w", err)
	}
	defer rows.Close()

	var questions []*models.Question
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan question document: %w", err)
		}
		var q models.Question
		if err := json.Unmarshal(doc, &q); err != nil {
			return nil, fmt.Errorf("failed to decode stored question: %w", err)
		}
		questions = append(questions, &q)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rows")
		return nil, err
	}
	span.SetAttributes(attribute.Int("questions", len(questions)))
	return questions, nil
}

// SavePaper persists a paper and its question rows in one transaction and sets paper.ID.
func (r *PaperRepository) SavePaper(ctx context.Context, paper *models.GeneratedPaper) error {
	request, err := json.Marshal(paper.Request)
	if err != nil {
		return fmt.Errorf("failed to encode paper request: %w", err)
	}
	document, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("failed to encode paper: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // Rollback if not committed

	insertPaper, args, err := psql.Insert("papers").
		Columns("public_id", "exam_code", "target_marks", "tolerance", "seed", "part_mode",
			"keyword_mode", "total_marks", "within_tolerance", "request", "document", "created_by", "created_at").
		Values(paper.PublicID, paper.ExamCode, paper.TargetMarks, paper.Tolerance, paper.Seed, paper.PartMode,
			paper.KeywordMode, paper.TotalMarks, paper.WithinTolerance, request, document, paper.CreatedBy, paper.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build paper insert: %w", err)
	}
	if err := tx.QueryRow(ctx, insertPaper, args...).Scan(&paper.ID); err != nil {
		return fmt.Errorf("failed to insert paper: %w", err)
	}

	if len(paper.Questions) > 0 {
		rows := psql.Insert("paper_questions").
			Columns("paper_id", "question_id", "question_order", "marks", "included_parts")
		for _, q := range paper.Questions {
			rows = rows.Values(paper.ID,
				sq.Expr("(SELECT id FROM questions WHERE question_id = ?)", q.QuestionID),
				q.Order, q.Marks, q.IncludedParts)
		}
		insertRows, args, err := rows.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build paper question insert: %w", err)
		}
		if _, err := tx.Exec(ctx, insertRows, args...); err != nil {
			return fmt.Errorf("failed to insert paper questions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit paper: %w", err)
	}
	return nil
}

// GetPaper loads a stored paper by its public id.
func (r *PaperRepository) GetPaper(ctx context.Context, publicID string) (*models.GeneratedPaper, error) {
	var (
		id       int
		document []byte
	)
	err := r.pool.QueryRow(ctx, "SELECT id, document FROM papers WHERE public_id::text = $1", publicID).Scan(&id, &document)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPaperNotFound, publicID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query paper %s: %w", publicID, err)
	}
	var paper models.GeneratedPaper
	if err := json.Unmarshal(document, &paper); err != nil {
		return nil, fmt.Errorf("failed to decode paper %s: %w", publicID, err)
	}
	paper.ID = id
	return &paper, nil
}

// ListExams returns every exam with its stored question count.
func (r *PaperRepository) ListExams(ctx context.Context) ([]models.Exam, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.exam_code, COALESCE(e.title, ''), e.topics, COUNT(q.id) AS question_count
		FROM exams e
		LEFT JOIN questions q ON q.exam_id = e.id
		GROUP BY e.id
		ORDER BY e.exam_code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query exams: %w", err)
	}
	defer rows.Close()

	var exams []models.Exam
	for rows.Next() {
		var e models.Exam
		if err := rows.Scan(&e.ID, &e.ExamCode, &e.Title, &e.Topics, &e.QuestionCount); err != nil {
			return nil, fmt.Errorf("failed to scan exam row: %w", err)
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ListTopics returns the distinct leaf topics stored for an exam.
func (r *PaperRepository) ListTopics(ctx context.Context, examCode string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT t FROM questions, unnest(topics) AS t
		WHERE exam_code = $1
		ORDER BY t
	`, examCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics for %s: %w", examCode, err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
