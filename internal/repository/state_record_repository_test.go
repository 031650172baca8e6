package repository

import (
	"testing"

	"learner_state_engine/internal/model"
	"learner_state_engine/internal/testutil"
	"learner_state_engine/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testCourse = "edX/Demo/2026"

func historyCount(t *testing.T, db *gorm.DB, stateRecordID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.StateHistory{}).
		Where("state_record_id = ?", stateRecordID).Count(&n).Error)
	return n
}

func TestGetOrCreateThenFirstSave(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewStateRecordRepository(db)

	rec, created, err := repo.GetOrCreate(1, testCourse, "i4x://edX/Demo/problem/p1", "problem")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Empty(t, rec.State)
	// Creation alone writes no history.
	assert.EqualValues(t, 0, historyCount(t, db, rec.ID))

	rec.State = `{"attempts":1}`
	require.NoError(t, repo.SaveInitial(rec))
	assert.EqualValues(t, 1, historyCount(t, db, rec.ID))

	again, created, err := repo.GetOrCreate(1, testCourse, "i4x://edX/Demo/problem/p1", "problem")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.ID, again.ID)
}

func TestSaveAppendsHistoryOnlyOnMaterialChange(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewStateRecordRepository(db)

	rec, _, err := repo.GetOrCreate(1, testCourse, "i4x://edX/Demo/problem/p1", "problem")
	require.NoError(t, err)
	rec.State = `{"attempts":1}`
	require.NoError(t, repo.SaveInitial(rec))

	// Identical content: no new history row.
	require.NoError(t, repo.Save(rec))
	assert.EqualValues(t, 1, historyCount(t, db, rec.ID))

	rec.State = `{"attempts":2}`
	rec.Grade = model.Float64Ptr(1)
	rec.MaxGrade = model.Float64Ptr(2)
	require.NoError(t, repo.Save(rec))
	assert.EqualValues(t, 2, historyCount(t, db, rec.ID))

	var latest model.StateHistory
	require.NoError(t, db.Where("state_record_id = ?", rec.ID).
		Order("id DESC").First(&latest).Error)
	assert.Equal(t, `{"attempts":2}`, latest.State)
	require.NotNil(t, latest.Grade)
	assert.Equal(t, 1.0, *latest.Grade)
}

func TestSaveValidatesGradePair(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewStateRecordRepository(db)

	rec, _, err := repo.GetOrCreate(1, testCourse, "i4x://edX/Demo/problem/p1", "problem")
	require.NoError(t, err)

	rec.Grade = model.Float64Ptr(2)
	assert.ErrorIs(t, repo.Save(rec), util.ErrInvalidInput) // grade without max

	rec.MaxGrade = model.Float64Ptr(1)
	assert.ErrorIs(t, repo.Save(rec), util.ErrInvalidInput) // grade > max
}

func TestDeleteTakesTerminalSnapshot(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewStateRecordRepository(db)

	rec, _, err := repo.GetOrCreate(1, testCourse, "i4x://edX/Demo/problem/p1", "problem")
	require.NoError(t, err)
	rec.State = `{"attempts":3}`
	require.NoError(t, repo.SaveInitial(rec))

	require.NoError(t, repo.Delete(rec))

	_, err = repo.Get(1, testCourse, "i4x://edX/Demo/problem/p1", "problem")
	assert.ErrorIs(t, err, util.ErrNotFound)
	// Initial save plus the terminal snapshot.
	assert.EqualValues(t, 2, historyCount(t, db, rec.ID))
}

func TestDirtyCourseRowsAndTwin(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewStateRecordRepository(db)

	dirty := &model.StateRecord{
		LearnerID: 1, CourseID: testCourse + "\n",
		BlockID: "i4x://edX/Demo/problem/p1", ModuleType: "problem",
	}
	clean := &model.StateRecord{
		LearnerID: 1, CourseID: testCourse,
		BlockID: "i4x://edX/Demo/problem/p1", ModuleType: "problem",
	}
	require.NoError(t, db.Create(dirty).Error)
	require.NoError(t, db.Create(clean).Error)

	rows, err := repo.DirtyCourseRows()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, dirty.ID, rows[0].ID)

	twin, err := repo.Twin(&rows[0], testCourse)
	require.NoError(t, err)
	require.NotNil(t, twin)
	assert.Equal(t, clean.ID, twin.ID)

	// A dirty row with no counterpart has no twin.
	lone := &model.StateRecord{
		LearnerID: 2, CourseID: testCourse + "\n",
		BlockID: "i4x://edX/Demo/problem/p2", ModuleType: "problem",
	}
	require.NoError(t, db.Create(lone).Error)
	twin, err = repo.Twin(lone, testCourse)
	require.NoError(t, err)
	assert.Nil(t, twin)
}

func TestForBlockSetAndLearnersWithState(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewStateRecordRepository(db)

	for learner := uint(1); learner <= 3; learner++ {
		rec := &model.StateRecord{
			LearnerID: learner, CourseID: testCourse,
			BlockID: "i4x://edX/Demo/problem/p1", ModuleType: "problem",
		}
		require.NoError(t, db.Create(rec).Error)
	}

	recs, err := repo.ForBlockSet(1, testCourse, []string{"i4x://edX/Demo/problem/p1", "i4x://edX/Demo/problem/missing"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	ids, err := repo.LearnersWithState(testCourse, "i4x://edX/Demo/problem/p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1, 2, 3}, ids)
}
