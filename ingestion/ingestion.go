package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"exambuilder-server/db"
	"exambuilder-server/metrics"
	"exambuilder-server/models"
)

const sourceName = "ingestion"

// ErrInvalidBank is returned when an exam directory cannot be ingested at all.
var ErrInvalidBank = errors.New("invalid exam bank")

// FileProblem is a question file that was skipped.
type FileProblem struct {
	FilePath string
	Field    string
	Message  string
	Fix      string
}

// ExamBank is the parsed content of one exam directory in the question cache.
type ExamBank struct {
	Meta      models.ExamYAML
	Questions []*models.Question
	Problems  []FileProblem
	// UnknownTopics are leaf topics missing from exam.yaml's topic list.
	UnknownTopics []string
}

// LoadExamBank reads <root>/<examCode>/exam.yaml and questions/*.json. Files that fail to
// decode or validate are reported in Problems and skipped; a missing or mismatched
// exam.yaml fails the whole bank.
func LoadExamBank(root, examCode string) (*ExamBank, error) {
	examPath := filepath.Join(root, examCode)
	metaPath := filepath.Join(examPath, "exam.yaml")

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read exam.yaml for %s: %v", ErrInvalidBank, examCode, err)
	}
	bank := &ExamBank{}
	if err := yaml.Unmarshal(data, &bank.Meta); err != nil {
		return nil, fmt.Errorf("%w: failed to parse exam.yaml for %s: %v", ErrInvalidBank, examCode, err)
	}
	if bank.Meta.ExamCode != examCode {
		return nil, fmt.Errorf("%w: exam_code in exam.yaml (%s) must match directory name (%s)",
			ErrInvalidBank, bank.Meta.ExamCode, examCode)
	}

	files, err := filepath.Glob(filepath.Join(examPath, "questions", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list question files for %s: %w", examCode, err)
	}
	sort.Strings(files)

	seen := make(map[string]string) // question id -> file
	for _, path := range files {
		q, problem := readQuestion(path, examCode)
		if problem != nil {
			bank.Problems = append(bank.Problems, *problem)
			continue
		}
		if first, dup := seen[q.ID]; dup {
			bank.Problems = append(bank.Problems, FileProblem{
				FilePath: path,
				Field:    "id",
				Message:  fmt.Sprintf("duplicate question id %s", q.ID),
				Fix:      fmt.Sprintf("already defined in %s", filepath.Base(first)),
			})
			continue
		}
		seen[q.ID] = path
		bank.Questions = append(bank.Questions, q)
	}

	if len(bank.Meta.Topics) > 0 {
		for _, q := range bank.Questions {
			for _, t := range q.Topics() {
				if !slices.Contains(bank.Meta.Topics, t) && !slices.Contains(bank.UnknownTopics, t) {
					bank.UnknownTopics = append(bank.UnknownTopics, t)
				}
			}
		}
		slices.Sort(bank.UnknownTopics)
	}
	return bank, nil
}

func readQuestion(path, examCode string) (*models.Question, *FileProblem) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileProblem{FilePath: path, Message: "failed to read question file", Fix: err.Error()}
	}
	var q models.Question
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, &FileProblem{FilePath: path, Field: "question_node", Message: "failed to decode question",
			Fix: fmt.Sprintf("Regenerate the file with the extractor: %v", err)}
	}
	if err := q.Validate(); err != nil {
		return nil, &FileProblem{FilePath: path, Message: "question failed validation", Fix: err.Error()}
	}
	if q.ExamCode != examCode {
		return nil, &FileProblem{FilePath: path, Field: "exam_code",
			Message: fmt.Sprintf("question %s belongs to exam %s", q.ID, q.ExamCode),
			Fix:     fmt.Sprintf("Move the file under %s/", q.ExamCode)}
	}
	return &q, nil
}

// ProcessExamData loads an exam bank from the cache and replaces its stored questions in
// one transaction. Skipped files are written to the error log.
func ProcessExamData(ctx context.Context, pool *pgxpool.Pool, examCode, root string) error {
	bank, err := LoadExamBank(root, examCode)
	if err != nil {
		metrics.IngestionErrors.WithLabelValues(examCode).Inc()
		db.LogError(pool, sourceName, examCode, filepath.Join(root, examCode), "", err.Error(), "Check exam.yaml in the question cache")
		return err
	}
	for _, p := range bank.Problems {
		metrics.IngestionErrors.WithLabelValues(examCode).Inc()
		db.LogError(pool, sourceName, examCode, p.FilePath, p.Field, p.Message, p.Fix)
	}
	if len(bank.UnknownTopics) > 0 {
		log.Printf("Exam %s: topics not listed in exam.yaml: %s", examCode, strings.Join(bank.UnknownTopics, ", "))
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // Rollback on error

	var examID int
	err = tx.QueryRow(ctx, `
		INSERT INTO exams (exam_code, title, topics, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (exam_code) DO UPDATE SET
			title = EXCLUDED.title,
			topics = EXCLUDED.topics,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, examCode, bank.Meta.Title, nonNil(bank.Meta.Topics)).Scan(&examID)
	if err != nil {
		return fmt.Errorf("failed to upsert exam %s: %w", examCode, err)
	}

	ids := make([]string, 0, len(bank.Questions))
	for _, q := range bank.Questions {
		doc, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("failed to encode question %s: %w", q.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO questions (question_id, exam_id, exam_code, year, paper, variant, topic, topics, total_marks, leaf_count, document)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (question_id) DO UPDATE SET
				exam_id = EXCLUDED.exam_id,
				exam_code = EXCLUDED.exam_code,
				year = EXCLUDED.year,
				paper = EXCLUDED.paper,
				variant = EXCLUDED.variant,
				topic = EXCLUDED.topic,
				topics = EXCLUDED.topics,
				total_marks = EXCLUDED.total_marks,
				leaf_count = EXCLUDED.leaf_count,
				document = EXCLUDED.document
		`, q.ID, examID, examCode, q.Year, q.Paper, q.Variant, q.Topic, nonNil(q.Topics()),
			q.TotalMarks(), len(q.LeafParts()), doc)
		if err != nil {
			return fmt.Errorf("failed to upsert question %s: %w", q.ID, err)
		}
		ids = append(ids, q.ID)
	}

	// Questions that left the cache are removed along with their paper rows.
	tag, err := tx.Exec(ctx, `DELETE FROM questions WHERE exam_id = $1 AND NOT (question_id = ANY($2))`, examID, ids)
	if err != nil {
		return fmt.Errorf("failed to remove stale questions for %s: %w", examCode, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ingestion for %s: %w", examCode, err)
	}
	metrics.IngestedQuestions.WithLabelValues(examCode).Add(float64(len(bank.Questions)))
	log.Printf("Ingested %d questions for exam %s (%d skipped, %d removed)",
		len(bank.Questions), examCode, len(bank.Problems), tag.RowsAffected())
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
