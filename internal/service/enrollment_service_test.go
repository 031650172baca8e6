package service

import (
	"strings"
	"testing"
	"time"

	"learner_state_engine/internal/config"
	"learner_state_engine/internal/model"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/testutil"
	"learner_state_engine/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newEnrollmentService(db *gorm.DB, cfg config.EnrollmentConfig) *EnrollmentService {
	return NewEnrollmentService(
		repository.NewUserRepository(db),
		repository.NewEnrollmentRepository(db),
		cfg, 10,
	)
}

func TestParseRosterRequiresCSVExtension(t *testing.T) {
	svc := newEnrollmentService(testutil.NewDB(t), config.EnrollmentConfig{})
	_, _, err := svc.ParseRoster("roster.xlsx", strings.NewReader(""))
	assert.ErrorIs(t, err, util.ErrInvalidInput)
}

func TestParseRosterNormalizesLineEndings(t *testing.T) {
	svc := newEnrollmentService(testutil.NewDB(t), config.EnrollmentConfig{})

	raw := "a@example.com,alice,Alice,US\r\nb@example.com,bob,Bob,CA\rc@example.com,carol,Carol,GB\n"
	rows, rowErrors, err := svc.ParseRoster("roster.csv", strings.NewReader(raw))
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, rows, 3)
	assert.Equal(t, "alice", rows[0].Username)
	assert.Equal(t, "bob", rows[1].Username)
	assert.Equal(t, "carol", rows[2].Username)
}

func TestParseRosterSkipsBlankLinesAndFlagsColumnCounts(t *testing.T) {
	svc := newEnrollmentService(testutil.NewDB(t), config.EnrollmentConfig{})

	raw := "a@example.com,alice,Alice,US\n\nb@example.com,bob,Bob\nc@example.com,carol,Carol,GB,extra\n"
	rows, rowErrors, err := svc.ParseRoster("roster.csv", strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Line)

	require.Len(t, rowErrors, 2)
	assert.Equal(t, 3, rowErrors[0].Line)
	assert.Contains(t, rowErrors[0].Error, "got 3")
	assert.Equal(t, 4, rowErrors[1].Line)
	assert.Contains(t, rowErrors[1].Error, "got 5")
}

func TestResolveMode(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newEnrollmentService(db, config.EnrollmentConfig{DefaultPaidMode: "no_id_professional"})
	now := time.Now()
	expired := now.Add(-time.Hour)

	t.Run("no modes offered defaults to honor", func(t *testing.T) {
		mode, err := svc.ResolveMode("edX/Empty/2026", now)
		require.NoError(t, err)
		assert.Equal(t, model.ModeHonor, mode)
	})

	t.Run("active audit wins over paid tracks", func(t *testing.T) {
		course := "edX/Audited/2026"
		require.NoError(t, db.Create(&model.CourseMode{CourseID: course, Mode: model.ModeAudit}).Error)
		require.NoError(t, db.Create(&model.CourseMode{CourseID: course, Mode: "verified", MinPrice: 50}).Error)

		mode, err := svc.ResolveMode(course, now)
		require.NoError(t, err)
		assert.Equal(t, model.ModeAudit, mode)
	})

	t.Run("priced course without audit uses the paid default", func(t *testing.T) {
		course := "edX/Priced/2026"
		require.NoError(t, db.Create(&model.CourseMode{CourseID: course, Mode: "verified", MinPrice: 50}).Error)

		mode, err := svc.ResolveMode(course, now)
		require.NoError(t, err)
		assert.Equal(t, "no_id_professional", mode)
	})

	t.Run("expired audit mode is ignored", func(t *testing.T) {
		course := "edX/Expired/2026"
		require.NoError(t, db.Create(&model.CourseMode{CourseID: course, Mode: model.ModeAudit, ExpiresAt: &expired}).Error)

		mode, err := svc.ResolveMode(course, now)
		require.NoError(t, err)
		assert.Equal(t, model.ModeHonor, mode)
	})
}

func TestEnrollRosterCreatesAccountsAndEnrolls(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newEnrollmentService(db, config.EnrollmentConfig{AutoCreateAccounts: true})

	rows := []RosterRow{
		{Line: 1, Email: "new@example.com", Username: "newbie", FullName: "New Learner", Country: "US"},
	}
	result, err := svc.EnrollRoster(99, gradedCourse, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Enrolled)
	assert.Equal(t, 0, result.Failed)

	user, err := repository.NewUserRepository(db).FindByEmail("new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "newbie", user.Username)
	assert.Equal(t, model.Learner, user.Role)
	// The stored password is a bcrypt hash of a generated secret, never blank.
	assert.NoError(t, bcryptCostCheck(user.Password))

	var enrollment model.Enrollment
	require.NoError(t, db.Where("learner_id = ? AND course_id = ?", user.ID, gradedCourse).First(&enrollment).Error)
	assert.True(t, enrollment.IsActive)
}

func bcryptCostCheck(hash string) error {
	_, err := bcrypt.Cost([]byte(hash))
	return err
}

func TestEnrollRosterIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newEnrollmentService(db, config.EnrollmentConfig{AutoCreateAccounts: true})
	rows := []RosterRow{
		{Line: 1, Email: "new@example.com", Username: "newbie", FullName: "New Learner", Country: "US"},
	}

	_, err := svc.EnrollRoster(99, gradedCourse, rows, nil)
	require.NoError(t, err)

	// Rerunning the same roster is a recorded no-op per row.
	result, err := svc.EnrollRoster(99, gradedCourse, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Enrolled)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, model.TransitionUnenrolledToUnenrolled, result.Outcomes[0].Transition)
}

func TestEnrollRosterRowFailures(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newEnrollmentService(db, config.EnrollmentConfig{AutoCreateAccounts: true})

	existing := &model.User{Username: "taken", Email: "taken@example.com", Password: "x", Role: model.Learner}
	require.NoError(t, repository.NewUserRepository(db).Create(existing))

	rows := []RosterRow{
		{Line: 1, Email: "not-an-email", Username: "whoever"},
		{Line: 2, Email: "fresh@example.com", Username: "taken", FullName: "Fresh", Country: "US"},
		{Line: 3, Email: "taken@example.com", Username: "someone_else", FullName: "Taken", Country: "US"},
	}
	result, err := svc.EnrollRoster(99, gradedCourse, rows, nil)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)

	// Invalid email: row error, and no audit trail for the line.
	assert.Contains(t, result.Outcomes[0].Error, "invalid email")
	var audits int64
	require.NoError(t, db.Model(&model.EnrollmentAudit{}).Where("email = ?", "not-an-email").Count(&audits).Error)
	assert.EqualValues(t, 0, audits)

	// Username owned by a different email: row error.
	assert.Contains(t, result.Outcomes[1].Error, `username "taken" already belongs`)

	// Email owned by a different username: warning, enrollment proceeds.
	assert.Contains(t, result.Outcomes[2].Warning, "ignoring username")
	assert.True(t, result.Outcomes[2].Enrolled)

	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 1, result.Enrolled)
}

func TestEnrollRosterRecordsAllowanceWhenCreationDisabled(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newEnrollmentService(db, config.EnrollmentConfig{AutoCreateAccounts: false})

	rows := []RosterRow{
		{Line: 1, Email: "future@example.com", Username: "future", FullName: "Future", Country: "US"},
	}
	result, err := svc.EnrollRoster(99, gradedCourse, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Enrolled)
	assert.Equal(t, 1, result.Allowed)

	var allowed int64
	require.NoError(t, db.Model(&model.EnrollmentAllowed{}).
		Where("email = ? AND course_id = ?", "future@example.com", gradedCourse).Count(&allowed).Error)
	assert.EqualValues(t, 1, allowed)
}

func TestGeneratePasswordAlphabetAndUniqueness(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		password, err := generatePassword(12, seen)
		require.NoError(t, err)
		assert.Len(t, password, 12)
		for _, c := range password {
			assert.Contains(t, passwordAlphabet, string(c))
		}
	}
	assert.Len(t, seen, 50)
}
