package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const questionTemplate = `{
  "id": "%s",
  "exam_code": "%s",
  "year": 2024,
  "paper": 1,
  "variant": 2,
  "topic": "%s",
  "question_node": {
    "label": "1",
    "kind": "question",
    "bounds": {"top": 0, "bottom": 300},
    "children": [
      {"label": "1(a)", "kind": "letter", "marks": 3, "bounds": {"top": 10, "bottom": 100}},
      {"label": "1(b)", "kind": "letter", "marks": 5, "bounds": {"top": 100, "bottom": 200}, "topic": "Algorithms"}
    ]
  }
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func questionJSON(id, examCode, topic string) string {
	return fmt.Sprintf(questionTemplate, id, examCode, topic)
}

func newCache(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "0478", "exam.yaml"), `
exam_code: "0478"
title: Computer Science
topics:
  - Networks
  - Algorithms
`)
	return root
}

func TestLoadExamBank(t *testing.T) {
	root := newCache(t)
	qdir := filepath.Join(root, "0478", "questions")
	writeFile(t, filepath.Join(qdir, "a.json"), questionJSON("0478_s24_qp_12_q1", "0478", "Networks"))
	writeFile(t, filepath.Join(qdir, "b.json"), questionJSON("0478_s24_qp_12_q2", "0478", "Security"))
	writeFile(t, filepath.Join(qdir, "notes.txt"), "ignored")

	bank, err := LoadExamBank(root, "0478")
	require.NoError(t, err)

	assert.Equal(t, "Computer Science", bank.Meta.Title)
	require.Len(t, bank.Questions, 2)
	assert.Equal(t, "0478_s24_qp_12_q1", bank.Questions[0].ID)
	assert.Equal(t, 8, bank.Questions[0].TotalMarks())
	assert.Equal(t, []string{"1(a)", "1(b)"}, bank.Questions[0].LeafLabels())
	assert.Empty(t, bank.Problems)
	assert.Equal(t, []string{"Security"}, bank.UnknownTopics)
}

func TestLoadExamBank_SkipsBadFiles(t *testing.T) {
	root := newCache(t)
	qdir := filepath.Join(root, "0478", "questions")
	writeFile(t, filepath.Join(qdir, "1.json"), questionJSON("q1", "0478", "Networks"))
	writeFile(t, filepath.Join(qdir, "2.json"), questionJSON("q1", "0478", "Networks"))
	writeFile(t, filepath.Join(qdir, "3.json"), questionJSON("q3", "9618", "Networks"))
	writeFile(t, filepath.Join(qdir, "4.json"), `{"id": "q4", "exam_code": "0478", "question_node": {`)
	// children overlap, rejected by the part decoder
	writeFile(t, filepath.Join(qdir, "5.json"), `{
  "id": "q5", "exam_code": "0478", "year": 2024, "paper": 1, "variant": 1,
  "question_node": {"label": "5", "kind": "question", "bounds": {"top": 0, "bottom": 100},
    "children": [
      {"label": "5(a)", "kind": "letter", "marks": 1, "bounds": {"top": 0, "bottom": 60}},
      {"label": "5(b)", "kind": "letter", "marks": 1, "bounds": {"top": 50, "bottom": 90}}
    ]}
}`)

	bank, err := LoadExamBank(root, "0478")
	require.NoError(t, err)

	require.Len(t, bank.Questions, 1)
	assert.Equal(t, "q1", bank.Questions[0].ID)
	require.Len(t, bank.Problems, 4)
	assert.Equal(t, "id", bank.Problems[0].Field)
	assert.Equal(t, "exam_code", bank.Problems[1].Field)
	assert.Equal(t, "question_node", bank.Problems[2].Field)
	assert.Equal(t, "question_node", bank.Problems[3].Field)
}

func TestLoadExamBank_Rejects(t *testing.T) {
	t.Run("missing exam.yaml", func(t *testing.T) {
		_, err := LoadExamBank(t.TempDir(), "0478")
		assert.ErrorIs(t, err, ErrInvalidBank)
	})

	t.Run("code mismatch", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "0478", "exam.yaml"), "exam_code: \"9618\"\n")
		_, err := LoadExamBank(root, "0478")
		assert.ErrorIs(t, err, ErrInvalidBank)
	})

	t.Run("bad yaml", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "0478", "exam.yaml"), "exam_code: [\n")
		_, err := LoadExamBank(root, "0478")
		assert.ErrorIs(t, err, ErrInvalidBank)
	})
}

func TestLoadExamBank_NoTopicListSkipsTopicCheck(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "0478", "exam.yaml"), "exam_code: \"0478\"\n")
	writeFile(t, filepath.Join(root, "0478", "questions", "a.json"), questionJSON("q1", "0478", "Anything"))

	bank, err := LoadExamBank(root, "0478")
	require.NoError(t, err)
	assert.Len(t, bank.Questions, 1)
	assert.Empty(t, bank.UnknownTopics)
}
