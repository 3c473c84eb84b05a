package models

import (
	"time"
)

// Exam struct represents an exam code with its stored question pool
type Exam struct {
	ID            int      `json:"id"`
	ExamCode      string   `json:"exam_code"`
	Title         string   `json:"title"`
	Topics        []string `json:"topics"`
	QuestionCount int      `json:"question_count"`
}

// PoolFilter narrows the question pool loaded for a build
type PoolFilter struct {
	ExamCode    string
	Years       []int
	Papers      []int
	QuestionIDs []string
}

// PaperRequest for building a practice paper
type PaperRequest struct {
	ExamCode           string   `json:"exam_code" binding:"required"`
	TargetMarks        int      `json:"target_marks" binding:"required,gt=0"`
	Tolerance          *int     `json:"tolerance,omitempty"`
	Seed               *int64   `json:"seed,omitempty"`
	SeedName           string   `json:"seed_name,omitempty"` // hashed into a seed when Seed is absent
	Topics             []string `json:"topics,omitempty"`
	Years              []int    `json:"years,omitempty"`
	Papers             []int    `json:"papers,omitempty"`
	PartMode           string   `json:"part_mode,omitempty"`
	ForceTopicCoverage *bool    `json:"force_topic_coverage,omitempty"`
	MaxQuestions       int      `json:"max_questions,omitempty"`
	Keywords           []string `json:"keywords,omitempty"` // non-empty switches to keyword mode
	PinnedQuestionIDs  []string `json:"pinned_question_ids,omitempty"`
	PinnedPartLabels   []string `json:"pinned_part_labels,omitempty"` // "<question_id>::<label>"
	AllowGreedyFill    bool     `json:"allow_greedy_fill,omitempty"`
}

// CompareRequest runs the same request under several seeds
type CompareRequest struct {
	PaperRequest
	Seeds []int64 `json:"seeds" binding:"required,min=1,max=200"`
}

// SeedOutcome summarises one seed of a comparison
type SeedOutcome struct {
	Seed            int64    `json:"seed"`
	TotalMarks      int      `json:"total_marks"`
	Deviation       int      `json:"deviation"`
	WithinTolerance bool     `json:"within_tolerance"`
	QuestionCount   int      `json:"question_count"`
	CoveredTopics   []string `json:"covered_topics"`
	Fingerprint     string   `json:"fingerprint"` // equal fingerprints mean identical selections
}

// CompareResponse for a seed comparison
type CompareResponse struct {
	Outcomes           []SeedOutcome `json:"outcomes"`
	DistinctSelections int           `json:"distinct_selections"`
	WithinTolerance    int           `json:"within_tolerance"`
}

// PaperQuestion is one question of a stored paper
type PaperQuestion struct {
	Order          int      `json:"order"`
	QuestionID     string   `json:"question_id"`
	Year           int      `json:"year"`
	Paper          int      `json:"paper"`
	Variant        int      `json:"variant"`
	Marks          int      `json:"marks"`
	QuestionMarks  int      `json:"question_marks"`
	IncludedParts  []string `json:"included_parts"`
	IsFullQuestion bool     `json:"is_full_question"`
	Topics         []string `json:"topics"`
}

// GeneratedPaper is a persisted build: the request, the seed it ran with, and what was selected
type GeneratedPaper struct {
	ID              int             `json:"-"`
	PublicID        string          `json:"paper_id"`
	ExamCode        string          `json:"exam_code"`
	TargetMarks     int             `json:"target_marks"`
	Tolerance       int             `json:"tolerance"`
	Seed            int64           `json:"seed"`
	PartMode        string          `json:"part_mode"`
	KeywordMode     bool            `json:"keyword_mode"`
	TotalMarks      int             `json:"total_marks"`
	WithinTolerance bool            `json:"within_tolerance"`
	CoveredTopics   []string        `json:"covered_topics"`
	MarksPerTopic   map[string]int  `json:"marks_per_topic"`
	PartsPerTopic   map[string]int  `json:"parts_per_topic"`
	Questions       []PaperQuestion `json:"questions"`
	Warnings        []string        `json:"warnings,omitempty"`
	Request         PaperRequest    `json:"request"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ErrorLog represents an entry in the error_logs table
type ErrorLog struct {
	ID           int       `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	ExamCode     *string   `json:"exam_code"`
	FilePath     *string   `json:"file_path"`
	FieldName    *string   `json:"field_name"`
	ErrorMessage string    `json:"error_message"`
	SuggestedFix *string   `json:"suggested_fix"`
}

// AdminEvent represents an entry in the admin_events table
type AdminEvent struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Target    string    `json:"target"`
	Notes     string    `json:"notes"`
}

// QuestionStats for the admin question_stats page
type QuestionStats struct {
	QuestionID    string   `json:"question_id"`
	ExamCode      string   `json:"exam_code"`
	Year          int      `json:"year"`
	Paper         int      `json:"paper"`
	Topic         string   `json:"topic"`
	Topics        []string `json:"topics"`
	TotalMarks    int      `json:"total_marks"`
	LeafCount     int      `json:"leaf_count"`
	TimesSelected int      `json:"times_selected"`
}

// Setting represents an entry in the settings table
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   *string   `json:"updated_by"`
}

// ExamYAML for parsing exam.yaml in the question cache
type ExamYAML struct {
	ExamCode string   `yaml:"exam_code"`
	Title    string   `yaml:"title"`
	Topics   []string `yaml:"topics"`
}
