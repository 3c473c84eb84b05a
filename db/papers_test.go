package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exambuilder-server/models"
)

func TestPoolQuery_ExamOnly(t *testing.T) {
	query, args, err := poolQuery(models.PoolFilter{ExamCode: "0478"}).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT document FROM questions WHERE exam_code = $1 ORDER BY year DESC, paper, variant, question_id",
		query)
	assert.Equal(t, []interface{}{"0478"}, args)
}

func TestPoolQuery_AllFilters(t *testing.T) {
	query, args, err := poolQuery(models.PoolFilter{
		ExamCode:    "0478",
		Years:       []int{2023, 2024},
		Papers:      []int{1},
		QuestionIDs: []string{"q1", "q2"},
	}).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT document FROM questions WHERE exam_code = $1 AND year IN ($2,$3) AND paper IN ($4) "+
			"AND question_id IN ($5,$6) ORDER BY year DESC, paper, variant, question_id",
		query)
	assert.Equal(t, []interface{}{"0478", 2023, 2024, 1, "q1", "q2"}, args)
}
