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

func auditTransitions(t *testing.T, db *gorm.DB, courseID string) []string {
	t.Helper()
	var rows []model.EnrollmentAudit
	require.NoError(t, db.Where("course_id = ?", courseID).Order("id ASC").Find(&rows).Error)
	var transitions []string
	for _, row := range rows {
		transitions = append(transitions, row.Transition)
	}
	return transitions
}

func TestEnrollmentLifecycleAudit(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewEnrollmentRepository(db)

	transition, err := repo.Enroll(99, 1, "a@example.com", testCourse, model.ModeAudit, "test")
	require.NoError(t, err)
	assert.Equal(t, model.TransitionUnenrolledToEnrolled, transition)

	// Same mode again: a recorded no-op.
	transition, err = repo.Enroll(99, 1, "a@example.com", testCourse, model.ModeAudit, "test")
	require.NoError(t, err)
	assert.Equal(t, model.TransitionUnenrolledToUnenrolled, transition)

	// Mode change while active.
	transition, err = repo.Enroll(99, 1, "a@example.com", testCourse, model.ModeHonor, "upgrade")
	require.NoError(t, err)
	assert.Equal(t, model.TransitionEnrolledToEnrolled, transition)

	require.NoError(t, repo.Unenroll(99, 1, "a@example.com", testCourse, "done"))

	// Re-activation of an inactive row.
	transition, err = repo.Enroll(99, 1, "a@example.com", testCourse, model.ModeHonor, "back")
	require.NoError(t, err)
	assert.Equal(t, model.TransitionUnenrolledToEnrolled, transition)

	assert.Equal(t, []string{
		model.TransitionUnenrolledToEnrolled,
		model.TransitionUnenrolledToUnenrolled,
		model.TransitionEnrolledToEnrolled,
		model.TransitionEnrolledToUnenrolled,
		model.TransitionUnenrolledToEnrolled,
	}, auditTransitions(t, db, testCourse))
}

func TestAllowanceConsumedOnEnroll(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewEnrollmentRepository(db)

	require.NoError(t, repo.Allow(99, "b@example.com", testCourse, "bulk"))
	// Idempotent: allowing twice records one allowance and one audit row.
	require.NoError(t, repo.Allow(99, "b@example.com", testCourse, "bulk"))

	transition, err := repo.Enroll(99, 2, "b@example.com", testCourse, model.ModeAudit, "registered")
	require.NoError(t, err)
	assert.Equal(t, model.TransitionAllowedToEnrolled, transition)

	var remaining int64
	require.NoError(t, db.Model(&model.EnrollmentAllowed{}).Count(&remaining).Error)
	assert.EqualValues(t, 0, remaining)

	assert.Equal(t, []string{
		model.TransitionUnenrolledToAllowed,
		model.TransitionAllowedToEnrolled,
	}, auditTransitions(t, db, testCourse))
}

func TestRevokeAllowance(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewEnrollmentRepository(db)

	require.NoError(t, repo.Allow(99, "c@example.com", testCourse, "bulk"))
	require.NoError(t, repo.RevokeAllowance(99, "c@example.com", testCourse, "withdrawn"))

	var remaining int64
	require.NoError(t, db.Model(&model.EnrollmentAllowed{}).Count(&remaining).Error)
	assert.EqualValues(t, 0, remaining)

	assert.Equal(t, []string{
		model.TransitionUnenrolledToAllowed,
		model.TransitionAllowedToUnenrolled,
	}, auditTransitions(t, db, testCourse))

	// Revoking an absent allowance reports not found and audits nothing.
	err := repo.RevokeAllowance(99, "c@example.com", testCourse, "again")
	assert.ErrorIs(t, err, util.ErrNotFound)
	assert.Len(t, auditTransitions(t, db, testCourse), 2)
}

func TestActiveLearnerIDs(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewEnrollmentRepository(db)

	for learner := uint(1); learner <= 3; learner++ {
		_, err := repo.Enroll(99, learner, "x@example.com", testCourse, model.ModeAudit, "")
		require.NoError(t, err)
	}
	require.NoError(t, repo.Unenroll(99, 2, "x@example.com", testCourse, ""))

	ids, err := repo.ActiveLearnerIDs(testCourse)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3}, ids)
}
