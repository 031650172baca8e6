package service

import (
	"context"
	"testing"
	"time"

	"learner_state_engine/internal/model"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/testutil"
	"learner_state_engine/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newAdminService(db *gorm.DB) *AdminService {
	grading := newGradingService(db)
	return NewAdminService(
		repository.NewStateRecordRepository(db),
		repository.NewFieldRepository(db),
		repository.NewTaskRepository(db),
		repository.NewEnrollmentRepository(db),
		grading, nil, 10,
	)
}

func seedState(t *testing.T, db *gorm.DB, learner uint, block, state string, grade, max *float64) *model.StateRecord {
	t.Helper()
	rec := &model.StateRecord{
		LearnerID: learner, CourseID: gradedCourse, BlockID: block,
		ModuleType: "problem", State: state, Grade: grade, MaxGrade: max,
	}
	require.NoError(t, db.Create(rec).Error)
	return rec
}

func TestResetAttemptsPreservesOtherFields(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newAdminService(db)

	seedState(t, db, 1, "i4x://edX/Demo/problem/p1",
		`{"attempts":4,"student_answers":{"q1":"42"}}`, nil, nil)

	require.NoError(t, svc.ResetAttempts(context.Background(), gradedCourse, 1, "i4x://edX/Demo/problem/p1"))

	var rec model.StateRecord
	require.NoError(t, db.Where("learner_id = ? AND block_id = ?", 1, "i4x://edX/Demo/problem/p1").First(&rec).Error)
	state, err := rec.StateMap()
	require.NoError(t, err)
	assert.EqualValues(t, 0, state["attempts"])
	assert.NotNil(t, state["student_answers"])
}

func TestResetAttemptsWithoutStateIsNotFound(t *testing.T) {
	svc := newAdminService(testutil.NewDB(t))
	err := svc.ResetAttempts(context.Background(), gradedCourse, 1, "i4x://edX/Demo/problem/p1")
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestRescoreDerivesCapaGrade(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newAdminService(db)
	tree := homeworkTree(t)

	state := `{"correct_map":{"q1":{"correctness":"correct"},"q2":{"correctness":"partially-correct","npoints":0.5}}}`
	seedState(t, db, 1, "i4x://edX/Demo/problem/p1", state,
		model.Float64Ptr(0), model.Float64Ptr(2))

	require.NoError(t, svc.Rescore(context.Background(), tree, 1, "i4x://edX/Demo/problem/p1"))

	var rec model.StateRecord
	require.NoError(t, db.Where("learner_id = ? AND block_id = ?", 1, "i4x://edX/Demo/problem/p1").First(&rec).Error)
	require.NotNil(t, rec.Grade)
	assert.Equal(t, 1.5, *rec.Grade)
	assert.Equal(t, 2.0, *rec.MaxGrade)
}

func TestRescoreSkipsExternallyGradedBlocks(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newAdminService(db)
	tree := homeworkTree(t)
	block, _ := tree.GetBlock("i4x://edX/Demo/problem/p1")
	block.ExternalGrader = true

	seedState(t, db, 1, "i4x://edX/Demo/problem/p1", "{}", nil, nil)

	err := svc.Rescore(context.Background(), tree, 1, "i4x://edX/Demo/problem/p1")
	assert.ErrorIs(t, err, ErrRescoreSkipped)
}

func TestRescoreUnknownBlockIsNotFound(t *testing.T) {
	svc := newAdminService(testutil.NewDB(t))
	tree := homeworkTree(t)
	err := svc.Rescore(context.Background(), tree, 1, "i4x://edX/Demo/problem/missing")
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestDeleteStateRemovesRow(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newAdminService(db)

	seedState(t, db, 1, "i4x://edX/Demo/problem/p1", `{"attempts":1}`, nil, nil)
	require.NoError(t, svc.DeleteState(context.Background(), gradedCourse, 1, "i4x://edX/Demo/problem/p1"))

	var n int64
	require.NoError(t, db.Model(&model.StateRecord{}).Count(&n).Error)
	assert.EqualValues(t, 0, n)
}

func TestSubmitBulkValidatesScope(t *testing.T) {
	svc := newAdminService(testutil.NewDB(t))
	learner := uint(1)

	_, err := svc.SubmitBulk(context.Background(), BulkRequest{
		Operation: model.OpBulkRescore, CourseID: gradedCourse,
		BlockID: "i4x://edX/Demo/problem/p1", AllLearners: true, LearnerID: &learner,
	})
	assert.ErrorIs(t, err, util.ErrInvalidInput)

	_, err = svc.SubmitBulk(context.Background(), BulkRequest{
		Operation: model.OpBulkRescore, CourseID: gradedCourse,
		BlockID: "i4x://edX/Demo/problem/p1",
	})
	assert.ErrorIs(t, err, util.ErrInvalidInput)
}

func TestSubmitBulkDeduplicates(t *testing.T) {
	svc := newAdminService(testutil.NewDB(t))

	req := BulkRequest{
		Operation: model.OpBulkRescore, CourseID: gradedCourse,
		BlockID: "i4x://edX/Demo/problem/p1", AllLearners: true,
	}
	_, err := svc.SubmitBulk(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.SubmitBulk(context.Background(), req)
	assert.ErrorIs(t, err, util.ErrAlreadyRunning)
}

func TestRunBulkFansOutOverEnrolledLearners(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newAdminService(db)
	tree := homeworkTree(t)
	enrollments := repository.NewEnrollmentRepository(db)

	for learner := uint(1); learner <= 3; learner++ {
		_, err := enrollments.Enroll(99, learner, "x@example.com", gradedCourse, model.ModeAudit, "")
		require.NoError(t, err)
	}
	// Two learners have state on the block; the third never touched it.
	seedState(t, db, 1, "i4x://edX/Demo/problem/p1", `{"attempts":2}`, nil, nil)
	seedState(t, db, 2, "i4x://edX/Demo/problem/p1", `{"attempts":1}`, nil, nil)

	task, err := svc.SubmitBulk(context.Background(), BulkRequest{
		Operation: model.OpBulkResetAttempts, CourseID: gradedCourse,
		BlockID: "i4x://edX/Demo/problem/p1", AllLearners: true, RequesterID: 99,
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunBulk(context.Background(), task, tree))

	got, err := svc.Tasks.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSuccess, got.Status)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 3, got.Attempted)
	assert.Equal(t, 2, got.Succeeded)
	assert.Equal(t, 1, got.Skipped)
	assert.Equal(t, 0, got.Failed)
}

func TestEntranceExamResetRequiresDeclaredExam(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newAdminService(db)
	tree := homeworkTree(t)

	learner := uint(1)
	task, err := svc.SubmitBulk(context.Background(), BulkRequest{
		Operation: model.OpEntranceExamReset, CourseID: gradedCourse,
		LearnerID: &learner, RequesterID: 99,
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunBulk(context.Background(), task, tree))

	got, err := svc.Tasks.Get(task.ID)
	require.NoError(t, err)
	// No entrance exam declared: the unit is skipped, not failed.
	assert.Equal(t, 1, got.Skipped)
}

func TestEntranceExamResetCoversSubtree(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newAdminService(db)
	tree := homeworkTree(t)
	tree.EntranceExamID = "i4x://edX/Demo/sequential/hw1"

	seedState(t, db, 1, "i4x://edX/Demo/problem/p1", `{"attempts":5}`, nil, nil)

	learner := uint(1)
	task, err := svc.SubmitBulk(context.Background(), BulkRequest{
		Operation: model.OpEntranceExamReset, CourseID: gradedCourse,
		LearnerID: &learner, RequesterID: 99,
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunBulk(context.Background(), task, tree))

	var rec model.StateRecord
	require.NoError(t, db.Where("learner_id = ? AND block_id = ?", 1, "i4x://edX/Demo/problem/p1").First(&rec).Error)
	state, err := rec.StateMap()
	require.NoError(t, err)
	assert.EqualValues(t, 0, state["attempts"])
}

func TestSetDueExtensionRejectsDateBeforeStart(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newAdminService(db)
	tree := homeworkTree(t)

	block, _ := tree.GetBlock("i4x://edX/Demo/problem/p1")
	start := time.Now().Add(48 * time.Hour)
	block.Start = &start

	err := svc.SetDueExtension(context.Background(), tree, 1, "i4x://edX/Demo/problem/p1", time.Now())
	assert.ErrorIs(t, err, util.ErrInvalidDueDate)
}

func TestClearAbsentDueExtensionIsNotFound(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newAdminService(db)
	tree := homeworkTree(t)

	err := svc.ClearDueExtension(context.Background(), tree, 1, "i4x://edX/Demo/problem/p1")
	assert.ErrorIs(t, err, util.ErrNotFound)
}
