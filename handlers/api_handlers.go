package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"exambuilder-server/db"
	"exambuilder-server/exam"
	"exambuilder-server/middleware"
	"exambuilder-server/models"
	"exambuilder-server/report"
)

// PaperRepository is the storage behind the paper API.
type PaperRepository interface {
	exam.PaperStore
	GetPaper(ctx context.Context, publicID string) (*models.GeneratedPaper, error)
	ListExams(ctx context.Context) ([]models.Exam, error)
	ListTopics(ctx context.Context, examCode string) ([]string, error)
}

// ErrorReporter records a failure in the persistent error log. It may be nil.
type ErrorReporter func(source, examCode, errMsg string)

// buildError maps engine and storage errors to a status and a client-safe message.
func buildError(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, exam.ErrInvalidConfig), errors.Is(err, models.ErrInvalidPart):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, exam.ErrNoQuestions), errors.Is(err, db.ErrPaperNotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, fallback
	}
}

// CreatePaper builds and stores a practice paper.
// POST /api/v1/papers
func CreatePaper(repo PaperRepository, opts exam.BuildOptions, reportErr ErrorReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.PaperRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		o := opts
		o.CreatedBy = c.GetString(middleware.UserEmailKey)
		paper, err := exam.BuildPaper(c.Request.Context(), repo, req, o)
		if err != nil {
			status, msg := buildError(err, "Failed to build paper")
			if status == http.StatusInternalServerError {
				log.Printf("Error building paper for %s: %v", req.ExamCode, err)
				if reportErr != nil {
					reportErr("paper_build", req.ExamCode, err.Error())
				}
			}
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusCreated, paper)
	}
}

// ComparePapers runs one request under several seeds without storing anything.
// POST /api/v1/papers/compare
func ComparePapers(repo PaperRepository, opts exam.BuildOptions, workers int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CompareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := exam.ComparePaperSeeds(c.Request.Context(), repo, req, workers, opts)
		if err != nil {
			status, msg := buildError(err, "Failed to compare seeds")
			if status == http.StatusInternalServerError {
				log.Printf("Error comparing seeds for %s: %v", req.ExamCode, err)
			}
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// loadPaper fetches the paper named by the :paper_id route parameter, writing the error
// response itself when that fails.
func loadPaper(c *gin.Context, repo PaperRepository) (*models.GeneratedPaper, bool) {
	id := c.Param("paper_id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid paper id: %s", id)})
		return nil, false
	}
	paper, err := repo.GetPaper(c.Request.Context(), id)
	if err != nil {
		status, msg := buildError(err, "Failed to retrieve paper")
		if status == http.StatusInternalServerError {
			log.Printf("Error fetching paper %s: %v", id, err)
		}
		c.JSON(status, gin.H{"error": msg})
		return nil, false
	}
	return paper, true
}

// GetPaper returns a stored paper.
// GET /api/v1/papers/:paper_id
func GetPaper(repo PaperRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		paper, ok := loadPaper(c, repo)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, paper)
	}
}

// GetPaperSummary renders a stored paper as markdown or HTML.
// GET /api/v1/papers/:paper_id/summary?format=markdown|html
func GetPaperSummary(repo PaperRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		format := c.DefaultQuery("format", "markdown")
		if format != "markdown" && format != "html" {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown format %q, use markdown or html", format)})
			return
		}
		paper, ok := loadPaper(c, repo)
		if !ok {
			return
		}

		if format == "markdown" {
			c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(report.Markdown(*paper)))
			return
		}
		html, err := report.HTML(*paper)
		if err != nil {
			log.Printf("Error rendering paper %s: %v", paper.PublicID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render paper"})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
	}
}

// GetExams lists exam codes with their question counts.
// GET /api/v1/exams
func GetExams(repo PaperRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		exams, err := repo.ListExams(c.Request.Context())
		if err != nil {
			log.Printf("Error querying exams: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve exams"})
			return
		}
		if exams == nil {
			exams = []models.Exam{}
		}
		c.JSON(http.StatusOK, exams)
	}
}

// GetExamTopics lists the topics present in an exam's question pool.
// GET /api/v1/exams/:exam_code/topics
func GetExamTopics(repo PaperRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		examCode := c.Param("exam_code")
		topics, err := repo.ListTopics(c.Request.Context(), examCode)
		if err != nil {
			log.Printf("Error querying topics for exam %s: %v", examCode, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve topics"})
			return
		}
		if len(topics) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("No questions found for exam code: %s", examCode)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"exam_code": examCode, "topics": topics})
	}
}
