package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exambuilder-server/db"
	"exambuilder-server/exam"
	"exambuilder-server/middleware"
	"exambuilder-server/models"
)

type fakeRepo struct {
	pool    []*models.Question
	papers  map[string]*models.GeneratedPaper
	exams   []models.Exam
	topics  map[string][]string
	loadErr error
}

func newFakeRepo(pool ...*models.Question) *fakeRepo {
	return &fakeRepo{pool: pool, papers: map[string]*models.GeneratedPaper{}, topics: map[string][]string{}}
}

func (r *fakeRepo) LoadQuestionPool(_ context.Context, _ models.PoolFilter) ([]*models.Question, error) {
	return r.pool, r.loadErr
}

func (r *fakeRepo) SavePaper(_ context.Context, paper *models.GeneratedPaper) error {
	paper.ID = len(r.papers) + 1
	r.papers[paper.PublicID] = paper
	return nil
}

func (r *fakeRepo) GetPaper(_ context.Context, publicID string) (*models.GeneratedPaper, error) {
	p, ok := r.papers[publicID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", db.ErrPaperNotFound, publicID)
	}
	return p, nil
}

func (r *fakeRepo) ListExams(context.Context) ([]models.Exam, error) { return r.exams, nil }

func (r *fakeRepo) ListTopics(_ context.Context, examCode string) ([]string, error) {
	return r.topics[examCode], nil
}

// twoPartQuestion has leaves 1(a)=3 and 1(b)=5.
func twoPartQuestion(t *testing.T, id string) *models.Question {
	t.Helper()
	a, err := models.NewPart(models.PartSpec{Label: "1(a)", Kind: models.PartKindLetter,
		Marks: models.ExplicitMarks(3), Bounds: models.SliceBounds{Top: 10, Bottom: 20}})
	require.NoError(t, err)
	b, err := models.NewPart(models.PartSpec{Label: "1(b)", Kind: models.PartKindLetter,
		Marks: models.ExplicitMarks(5), Bounds: models.SliceBounds{Top: 20, Bottom: 30}, Topic: "Algorithms"})
	require.NoError(t, err)
	root, err := models.NewPart(models.PartSpec{Label: "1", Kind: models.PartKindQuestion,
		Bounds: models.SliceBounds{Top: 0, Bottom: 40}, Children: []*models.Part{a, b}})
	require.NoError(t, err)
	return &models.Question{ID: id, ExamCode: "0478", Year: 2024, Paper: 1, Variant: 2, Topic: "Networks", Root: root}
}

func newAPIRouter(repo PaperRepository, reported *[]string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserEmailKey, "instructor@example.com")
		c.Next()
	})
	opts := exam.BuildOptions{DefaultTolerance: 2, DefaultPartMode: exam.PartModeSkip}
	report := func(source, examCode, msg string) {
		*reported = append(*reported, source+":"+examCode)
	}
	api := r.Group("/api/v1")
	api.GET("/exams", GetExams(repo))
	api.GET("/exams/:exam_code/topics", GetExamTopics(repo))
	api.POST("/papers", CreatePaper(repo, opts, report))
	api.POST("/papers/compare", ComparePapers(repo, opts, 2))
	api.GET("/papers/:paper_id", GetPaper(repo))
	api.GET("/papers/:paper_id/summary", GetPaperSummary(repo))
	return r
}

func request(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreatePaper_AndFetch(t *testing.T) {
	repo := newFakeRepo(twoPartQuestion(t, "q1"))
	var reported []string
	r := newAPIRouter(repo, &reported)

	w := request(r, http.MethodPost, "/api/v1/papers", `{"exam_code":"0478","target_marks":8,"tolerance":0,"seed":5}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var paper models.GeneratedPaper
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &paper))
	assert.Equal(t, 8, paper.TotalMarks)
	assert.True(t, paper.WithinTolerance)
	assert.Equal(t, int64(5), paper.Seed)
	assert.Equal(t, "instructor@example.com", paper.CreatedBy)
	require.Len(t, paper.Questions, 1)
	assert.True(t, paper.Questions[0].IsFullQuestion)
	_, err := uuid.Parse(paper.PublicID)
	require.NoError(t, err)

	w = request(r, http.MethodGet, "/api/v1/papers/"+paper.PublicID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_marks":8`)

	w = request(r, http.MethodGet, "/api/v1/papers/"+paper.PublicID+"/summary", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, w.Body.String(), "- Total: 8 / 8 marks (tolerance 0)")

	w = request(r, http.MethodGet, "/api/v1/papers/"+paper.PublicID+"/summary?format=html", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "<table>")

	assert.Empty(t, reported)
}

func TestCreatePaper_Errors(t *testing.T) {
	tests := []struct {
		name     string
		repo     *fakeRepo
		body     string
		status   int
		reported bool
	}{
		{"missing target", newFakeRepo(twoPartQuestion(t, "q1")), `{"exam_code":"0478"}`, http.StatusBadRequest, false},
		{"malformed json", newFakeRepo(twoPartQuestion(t, "q1")), `{"exam_code":`, http.StatusBadRequest, false},
		{"bad part mode", newFakeRepo(twoPartQuestion(t, "q1")), `{"exam_code":"0478","target_marks":8,"part_mode":"odd"}`, http.StatusBadRequest, false},
		{"bad pin", newFakeRepo(twoPartQuestion(t, "q1")), `{"exam_code":"0478","target_marks":8,"pinned_part_labels":["q1"]}`, http.StatusBadRequest, false},
		{"empty pool", newFakeRepo(), `{"exam_code":"0478","target_marks":8}`, http.StatusNotFound, false},
		{"storage failure", &fakeRepo{loadErr: errors.New("connection refused")}, `{"exam_code":"0478","target_marks":8}`, http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reported []string
			r := newAPIRouter(tt.repo, &reported)
			w := request(r, http.MethodPost, "/api/v1/papers", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
			if tt.reported {
				assert.Equal(t, []string{"paper_build:0478"}, reported)
				assert.NotContains(t, w.Body.String(), "connection refused")
			} else {
				assert.Empty(t, reported)
			}
		})
	}
}

func TestGetPaper_Errors(t *testing.T) {
	var reported []string
	r := newAPIRouter(newFakeRepo(), &reported)

	w := request(r, http.MethodGet, "/api/v1/papers/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(r, http.MethodGet, "/api/v1/papers/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(r, http.MethodGet, "/api/v1/papers/"+uuid.NewString()+"/summary?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestComparePapers(t *testing.T) {
	var reported []string
	r := newAPIRouter(newFakeRepo(twoPartQuestion(t, "q1"), twoPartQuestion(t, "q2")), &reported)

	w := request(r, http.MethodPost, "/api/v1/papers/compare",
		`{"exam_code":"0478","target_marks":8,"tolerance":0,"seeds":[1,2,3]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.CompareResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Outcomes, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{resp.Outcomes[0].Seed, resp.Outcomes[1].Seed, resp.Outcomes[2].Seed})
	assert.Equal(t, 3, resp.WithinTolerance)

	w = request(r, http.MethodPost, "/api/v1/papers/compare", `{"exam_code":"0478","target_marks":8,"seeds":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExamListing(t *testing.T) {
	repo := newFakeRepo()
	repo.exams = []models.Exam{{ID: 1, ExamCode: "0478", Title: "Computer Science", QuestionCount: 12}}
	repo.topics["0478"] = []string{"Algorithms", "Networks"}
	var reported []string
	r := newAPIRouter(repo, &reported)

	w := request(r, http.MethodGet, "/api/v1/exams", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"question_count":12`)

	w = request(r, http.MethodGet, "/api/v1/exams/0478/topics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"exam_code":"0478","topics":["Algorithms","Networks"]}`, w.Body.String())

	w = request(r, http.MethodGet, "/api/v1/exams/9618/topics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(newAPIRouter(newFakeRepo(), &reported), http.MethodGet, "/api/v1/exams", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}
