package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InitDB initializes the PostgreSQL database connection pool
func InitDB(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Ping the database to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL database!")
	return pool, nil
}

// CreateSchema sets up the tables for the question pool and built papers.
// In a production environment, use a proper migration tool (e.g., golang-migrate).
func CreateSchema(pool *pgxpool.Pool) error {
	schemaSQL := `
	CREATE TABLE IF NOT EXISTS exams (
		id SERIAL PRIMARY KEY,
		exam_code VARCHAR(16) NOT NULL UNIQUE,
		title TEXT,
		topics TEXT[] NOT NULL DEFAULT '{}',
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS questions (
		id SERIAL PRIMARY KEY,
		question_id TEXT NOT NULL UNIQUE, -- extractor id, e.g. 0478_s24_qp_12_q3
		exam_id INT NOT NULL,
		exam_code VARCHAR(16) NOT NULL,
		year INT NOT NULL,
		paper INT NOT NULL,
		variant INT NOT NULL,
		topic TEXT,
		topics TEXT[] NOT NULL DEFAULT '{}', -- resolved leaf topics
		total_marks INT NOT NULL,
		leaf_count INT NOT NULL,
		document JSONB NOT NULL,             -- full question tree
		times_selected INT NOT NULL DEFAULT 0,
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS questions_exam_code_idx ON questions (exam_code, year, paper);

	CREATE TABLE IF NOT EXISTS papers (
		id SERIAL PRIMARY KEY,
		public_id UUID NOT NULL UNIQUE,
		exam_code VARCHAR(16) NOT NULL,
		target_marks INT NOT NULL,
		tolerance INT NOT NULL,
		seed BIGINT NOT NULL,
		part_mode VARCHAR(16) NOT NULL CHECK (part_mode IN ('all', 'prune', 'skip')),
		keyword_mode BOOLEAN NOT NULL DEFAULT FALSE,
		total_marks INT NOT NULL,
		within_tolerance BOOLEAN NOT NULL,
		request JSONB NOT NULL,
		document JSONB NOT NULL,
		created_by VARCHAR(255),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS paper_questions (
		id SERIAL PRIMARY KEY,
		paper_id INT NOT NULL,
		question_id INT NOT NULL,
		question_order INT NOT NULL,
		marks INT NOT NULL,
		included_parts TEXT[] NOT NULL,
		FOREIGN KEY (paper_id) REFERENCES papers(id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE,
		UNIQUE (paper_id, question_id),
		UNIQUE (paper_id, question_order)
	);

	CREATE TABLE IF NOT EXISTS error_logs (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		source TEXT NOT NULL, -- e.g., "ingestion", "paper_build"
		exam_code VARCHAR(16),
		file_path TEXT,
		field_name TEXT,
		error_message TEXT NOT NULL,
		suggested_fix TEXT
	);

	CREATE TABLE IF NOT EXISTS admin_events (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		action VARCHAR(255),
		actor VARCHAR(255), -- User email or 'system'
		target TEXT,        -- e.g., exam_code, paper id
		notes TEXT
	);

	CREATE TABLE IF NOT EXISTS settings (
		key VARCHAR(255) PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		updated_by VARCHAR(255)
	);
	`
	_, err := pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	// Insert default settings if not already present
	defaultSettings := map[string]string{
		"default_target_marks":        "50",
		"max_papers_per_user_per_day": "20",
	}

	for key, value := range defaultSettings {
		_, err := pool.Exec(context.Background(), `
			INSERT INTO settings (key, value, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING;
		`, key, value, fmt.Sprintf("Default setting for %s", key))
		if err != nil {
			log.Printf("Warning: Failed to insert default setting %s: %v", key, err)
		}
	}

	return nil
}

// LogError adds an entry to the error_logs table
func LogError(pool *pgxpool.Pool, source, examCode, filePath, fieldName, errMsg, fixSug string) {
	_, err := pool.Exec(context.Background(), `
		INSERT INTO error_logs (source, exam_code, file_path, field_name, error_message, suggested_fix)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''))
	`, source, examCode, filePath, fieldName, errMsg, fixSug)
	if err != nil {
		log.Printf("ERROR: Failed to log error to database: %v. Original error: %s", err, errMsg)
	}
}

// LogAdminEvent adds an entry to the admin_events table
func LogAdminEvent(pool *pgxpool.Pool, actor, action, target, notes string) {
	_, err := pool.Exec(context.Background(), `
		INSERT INTO admin_events (action, actor, target, notes)
		VALUES ($1, $2, $3, $4)
	`, action, actor, target, notes)
	if err != nil {
		log.Printf("ERROR: Failed to log admin event to database: %v. Event: %s by %s on %s", err, action, actor, target)
	}
}

// GetSetting fetches a setting value from the settings table
func GetSetting(pool *pgxpool.Pool, key string) (string, error) {
	var value string
	err := pool.QueryRow(context.Background(), "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("setting %s not found: %w", key, err)
	}
	return value, nil
}

// GetAllExamCodes fetches all exam codes from the exams table.
func GetAllExamCodes(pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(context.Background(), "SELECT exam_code FROM exams ORDER BY exam_code")
	if err != nil {
		return nil, fmt.Errorf("failed to query exam codes: %w", err)
	}
	defer rows.Close()

	var examCodes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan exam code: %w", err)
		}
		examCodes = append(examCodes, code)
	}
	return examCodes, rows.Err()
}
