package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"exambuilder-server/db"
	"exambuilder-server/ingestion"
	"exambuilder-server/middleware"
	"exambuilder-server/models"
)

// recentPaper is a dashboard row.
type recentPaper struct {
	PublicID        string
	ExamCode        string
	TotalMarks      int
	TargetMarks     int
	WithinTolerance bool
	CreatedBy       string
	CreatedAt       time.Time
}

// AdminDashboard renders the admin dashboard with pool size, build counts and recent activity.
// GET /admin/dashboard
func AdminDashboard(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var totalQuestions, totalPapers, outsideTolerance, ingestionFailures int
		_ = pool.QueryRow(ctx, `SELECT COUNT(id) FROM questions`).Scan(&totalQuestions)
		_ = pool.QueryRow(ctx, `SELECT COUNT(id), COUNT(id) FILTER (WHERE NOT within_tolerance) FROM papers`).
			Scan(&totalPapers, &outsideTolerance)
		_ = pool.QueryRow(ctx, `SELECT COUNT(id) FROM error_logs WHERE source = 'ingestion'`).Scan(&ingestionFailures)

		var recentAdminEvents []models.AdminEvent
		rows, err := pool.Query(ctx, `SELECT id, timestamp, action, actor, target, notes FROM admin_events ORDER BY timestamp DESC LIMIT 5`)
		if err == nil {
			for rows.Next() {
				var ae models.AdminEvent
				_ = rows.Scan(&ae.ID, &ae.Timestamp, &ae.Action, &ae.Actor, &ae.Target, &ae.Notes)
				recentAdminEvents = append(recentAdminEvents, ae)
			}
			rows.Close()
		} else {
			log.Printf("Error fetching recent admin events: %v", err)
		}

		var recentPapers []recentPaper
		rows, err = pool.Query(ctx, `
			SELECT public_id::text, exam_code, total_marks, target_marks, within_tolerance, COALESCE(created_by, ''), created_at
			FROM papers ORDER BY created_at DESC LIMIT 5
		`)
		if err == nil {
			for rows.Next() {
				var p recentPaper
				_ = rows.Scan(&p.PublicID, &p.ExamCode, &p.TotalMarks, &p.TargetMarks, &p.WithinTolerance, &p.CreatedBy, &p.CreatedAt)
				recentPapers = append(recentPapers, p)
			}
			rows.Close()
		} else {
			log.Printf("Error fetching recent papers: %v", err)
		}

		c.HTML(http.StatusOK, "admin_dashboard", gin.H{
			"Title":             "Exam Builder Admin Dashboard",
			"TotalQuestions":    totalQuestions,
			"TotalPapers":       totalPapers,
			"OutsideTolerance":  outsideTolerance,
			"IngestionFailures": ingestionFailures,
			"RecentAdminEvents": recentAdminEvents,
			"RecentPapers":      recentPapers,
			"UserEmail":         c.GetString(middleware.UserEmailKey),
		})
	}
}

// AdminErrorLogs displays ingestion and build failures.
// GET /admin/error_logs
func AdminErrorLogs(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		searchQuery := c.Query("search")
		searchSource := c.Query("source") // e.g., "ingestion", "paper_build"

		rows, err := pool.Query(c.Request.Context(), `
			SELECT id, timestamp, source, exam_code, file_path, field_name, error_message, suggested_fix
			FROM error_logs
			WHERE (COALESCE(exam_code, '') ILIKE $1 OR error_message ILIKE $1)
			AND ($2 = '' OR source = $2)
			ORDER BY timestamp DESC
			LIMIT 500
		`, "%"+searchQuery+"%", searchSource)
		if err != nil {
			log.Printf("Error querying error logs: %v", err)
			c.HTML(http.StatusInternalServerError, "admin_error_logs", gin.H{"error": "Failed to retrieve error logs"})
			return
		}
		defer rows.Close()

		var logs []models.ErrorLog
		for rows.Next() {
			var e models.ErrorLog
			if err := rows.Scan(&e.ID, &e.Timestamp, &e.Source, &e.ExamCode, &e.FilePath, &e.FieldName,
				&e.ErrorMessage, &e.SuggestedFix); err != nil {
				log.Printf("Error scanning error log row: %v", err)
				continue
			}
			logs = append(logs, e)
		}

		c.HTML(http.StatusOK, "admin_error_logs", gin.H{
			"Title":        "Error Logs",
			"ErrorLogs":    logs,
			"SearchQuery":  searchQuery,
			"SearchSource": searchSource,
			"UserEmail":    c.GetString(middleware.UserEmailKey),
		})
	}
}

// questionStatsQuery filters the pool listing by exam code and a topic or id search.
func questionStatsQuery(examCode, search string) sq.SelectBuilder {
	q := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("question_id", "exam_code", "year", "paper", "COALESCE(topic, '')", "topics",
			"total_marks", "leaf_count", "times_selected").
		From("questions")
	if examCode != "" {
		q = q.Where(sq.Eq{"exam_code": examCode})
	}
	if search != "" {
		pattern := "%" + search + "%"
		q = q.Where(sq.Or{
			sq.ILike{"question_id": pattern},
			sq.Expr("array_to_string(topics, ',') ILIKE ?", pattern),
		})
	}
	return q.OrderBy("times_selected DESC", "question_id").Limit(500)
}

// AdminQuestionStats lists stored questions with how often papers have used them.
// GET /admin/question_stats
func AdminQuestionStats(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		examCode := c.Query("exam_code")
		searchQuery := c.Query("search")

		query, args, err := questionStatsQuery(examCode, searchQuery).ToSql()
		if err != nil {
			c.HTML(http.StatusInternalServerError, "admin_question_stats", gin.H{"error": "Failed to build query"})
			return
		}
		rows, err := pool.Query(c.Request.Context(), query, args...)
		if err != nil {
			log.Printf("Error querying question stats: %v", err)
			c.HTML(http.StatusInternalServerError, "admin_question_stats", gin.H{"error": "Failed to retrieve question stats"})
			return
		}
		defer rows.Close()

		var stats []models.QuestionStats
		for rows.Next() {
			var qs models.QuestionStats
			if err := rows.Scan(&qs.QuestionID, &qs.ExamCode, &qs.Year, &qs.Paper, &qs.Topic, &qs.Topics,
				&qs.TotalMarks, &qs.LeafCount, &qs.TimesSelected); err != nil {
				log.Printf("Error scanning question stats row: %v", err)
				continue
			}
			stats = append(stats, qs)
		}

		c.HTML(http.StatusOK, "admin_question_stats", gin.H{
			"Title":       "Question Statistics",
			"Stats":       stats,
			"ExamCode":    examCode,
			"SearchQuery": searchQuery,
			"UserEmail":   c.GetString(middleware.UserEmailKey),
		})
	}
}

// AdminSettings displays server settings.
// GET /admin/settings
func AdminSettings(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := pool.Query(c.Request.Context(), `SELECT key, value, COALESCE(description, ''), updated_at, updated_by FROM settings ORDER BY key`)
		if err != nil {
			log.Printf("Error querying settings: %v", err)
			c.HTML(http.StatusInternalServerError, "admin_settings", gin.H{"error": "Failed to retrieve settings"})
			return
		}
		defer rows.Close()

		var settings []models.Setting
		for rows.Next() {
			var s models.Setting
			if err := rows.Scan(&s.Key, &s.Value, &s.Description, &s.UpdatedAt, &s.UpdatedBy); err != nil {
				log.Printf("Error scanning setting row: %v", err)
				continue
			}
			settings = append(settings, s)
		}

		c.HTML(http.StatusOK, "admin_settings", gin.H{
			"Title":     "Manage Server Settings",
			"Settings":  settings,
			"UserEmail": c.GetString(middleware.UserEmailKey),
		})
	}
}

// AdminUpdateSettings updates existing settings from form fields. Unknown keys are rejected.
// POST /admin/settings
func AdminUpdateSettings(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updates := make(map[string]string)
		for key, values := range c.Request.PostForm {
			if len(values) > 0 {
				updates[key] = values[0]
			}
		}
		if len(updates) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No settings supplied"})
			return
		}

		ctx := c.Request.Context()
		tx, err := pool.Begin(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction for settings update"})
			return
		}
		defer tx.Rollback(ctx)

		actor := c.GetString(middleware.UserEmailKey)
		var unknown []string
		for key, value := range updates {
			tag, err := tx.Exec(ctx, `
				UPDATE settings SET value = $1, updated_at = NOW(), updated_by = $2 WHERE key = $3
			`, value, actor, key)
			if err != nil {
				log.Printf("Error updating setting %s: %v", key, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to update setting %s", key)})
				return
			}
			if tag.RowsAffected() == 0 {
				unknown = append(unknown, key)
			}
		}
		if len(unknown) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown settings: %s", strings.Join(unknown, ", "))})
			return
		}

		if err := tx.Commit(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit settings updates"})
			return
		}
		for key, value := range updates {
			db.LogAdminEvent(pool, actor, "update_setting", key, fmt.Sprintf("Set to: %s", value))
		}
		c.JSON(http.StatusOK, gin.H{"message": "Settings updated successfully"})
	}
}

// TriggerIngestion reloads one exam from the question cache.
// POST /admin/ingest/:exam_code
func TriggerIngestion(pool *pgxpool.Pool, cacheRoot string) gin.HandlerFunc {
	return func(c *gin.Context) {
		examCode := c.Param("exam_code")
		actor := c.GetString(middleware.UserEmailKey)

		// Ingestion outlives a dropped client connection.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := ingestion.ProcessExamData(ctx, pool, examCode, cacheRoot); err != nil {
			log.Printf("Manual ingestion failed for %s: %v", examCode, err)
			db.LogAdminEvent(pool, actor, "manual_ingestion_failed", examCode, fmt.Sprintf("Error: %v", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Ingestion failed: %v", err)})
			return
		}

		db.LogAdminEvent(pool, actor, "manual_ingestion_success", examCode, "Question pool reloaded from cache.")
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Ingestion for exam '%s' completed. Check the error log for skipped files.", examCode)})
	}
}
