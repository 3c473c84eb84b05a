package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exambuilder-server/config"
	"exambuilder-server/db"
	"exambuilder-server/exam"
	"exambuilder-server/handlers"
	"exambuilder-server/ingestion"
	"exambuilder-server/logging"
	"exambuilder-server/middleware"
)

func adminRenderer() multitemplate.Renderer {
	r := multitemplate.NewRenderer()
	for _, page := range []string{"admin_dashboard", "admin_error_logs", "admin_question_stats", "admin_settings"} {
		r.AddFromFiles(page, "templates/layout.html", "templates/"+page+".html")
	}
	return r
}

// every runs job on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, job func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

func ingestAll(pool *pgxpool.Pool, cacheRoot string) func(context.Context) {
	return func(ctx context.Context) {
		log.Println("Running scheduled ingestion...")
		examCodes, err := db.GetAllExamCodes(pool)
		if err != nil {
			log.Printf("Error getting exam codes for scheduled ingestion: %v", err)
			return
		}
		for _, examCode := range examCodes {
			if err := ingestion.ProcessExamData(ctx, pool, examCode, cacheRoot); err != nil {
				log.Printf("Error during scheduled ingestion for %s: %v", examCode, err)
				db.LogAdminEvent(pool, "system", "ingestion_failed", examCode, fmt.Sprintf("Error: %v", err))
				continue
			}
			db.LogAdminEvent(pool, "system", "ingestion_success", examCode, "Question pool reloaded from cache.")
		}
	}
}

func updateExposure(pool *pgxpool.Pool) func(context.Context) {
	return func(ctx context.Context) {
		if err := exam.UpdateQuestionExposure(ctx, pool); err != nil {
			log.Printf("Error updating question exposure: %v", err)
			db.LogAdminEvent(pool, "system", "exposure_update_failed", "all_questions", fmt.Sprintf("Error: %v", err))
			return
		}
		db.LogAdminEvent(pool, "system", "exposure_update_success", "all_questions", "Question exposure counts updated.")
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	// log.Printf call sites go through the same handler from here on.
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	pool, err := db.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	// Ensure database schema is set up (simple creation for demo)
	if err := db.CreateSchema(pool); err != nil {
		log.Fatalf("Error creating database schema: %v", err)
	}

	partMode, err := cfg.PartMode()
	if err != nil {
		log.Fatalf("Error reading selection settings: %v", err)
	}
	buildOpts := exam.BuildOptions{
		Tuning:           cfg.Tuning(),
		DefaultTolerance: cfg.Selection.DefaultTolerance,
		DefaultPartMode:  partMode,
		Logger:           logger.With("component", "selection"),
	}
	repo := db.NewPaperRepository(pool)
	reportErr := func(source, examCode, errMsg string) {
		db.LogError(pool, source, examCode, "", "", errMsg, "")
	}

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger())
	router.HTMLRender = adminRenderer()

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(authMiddleware)
	{
		apiV1.GET("/exams", handlers.GetExams(repo))
		apiV1.GET("/exams/:exam_code/topics", handlers.GetExamTopics(repo))
		apiV1.POST("/papers", handlers.CreatePaper(repo, buildOpts, reportErr))
		apiV1.POST("/papers/compare", handlers.ComparePapers(repo, buildOpts, cfg.Selection.CompareWorkers))
		apiV1.GET("/papers/:paper_id", handlers.GetPaper(repo))
		apiV1.GET("/papers/:paper_id/summary", handlers.GetPaperSummary(repo))
	}

	admin := router.Group("/admin")
	admin.Use(authMiddleware)
	admin.Use(middleware.RoleCheckMiddleware([]string{"admin", "instructor"}))
	{
		admin.GET("/dashboard", handlers.AdminDashboard(pool))
		admin.GET("/error_logs", handlers.AdminErrorLogs(pool))
		admin.GET("/question_stats", handlers.AdminQuestionStats(pool))
		admin.GET("/settings", handlers.AdminSettings(pool))
		admin.POST("/settings", handlers.AdminUpdateSettings(pool))
		admin.POST("/ingest/:exam_code", handlers.TriggerIngestion(pool, cfg.Cache.RootPath))
	}

	jobs, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	go every(jobs, cfg.IngestionInterval, ingestAll(pool, cfg.Cache.RootPath))
	go every(jobs, cfg.ExposureInterval, updateExposure(pool))

	srv := &http.Server{
		Addr:    cfg.ServerPort,
		Handler: router,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")
		stopJobs()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("Exam builder server starting on %s", cfg.ServerPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server startup error: %v", err)
	}
	log.Println("Server exited gracefully.")
}
