package fieldstore

import (
	"testing"
	"time"

	"learner_state_engine/internal/content"
	"learner_state_engine/internal/location"
	"learner_state_engine/internal/model"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/testutil"
	"learner_state_engine/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	facadeCourse = "edX/Demo/2026"
	problemURL   = "i4x://edX/Demo/problem/p1"
	videoURL     = "i4x://edX/Demo/video/v1"
)

func demoTree(t *testing.T) *content.CourseTree {
	t.Helper()
	root, err := location.Parse("i4x://edX/Demo/course/2026")
	require.NoError(t, err)
	tree := content.NewCourseTree(facadeCourse, root)

	problem, err := location.Parse(problemURL)
	require.NoError(t, err)
	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tree.Add(&content.Block{
		Location:    problem,
		Category:    "problem",
		DisplayName: "Question 1",
		Due:         &due,
		MaxAttempts: 5,
	})

	video, err := location.Parse(videoURL)
	require.NoError(t, err)
	tree.Add(&content.Block{Location: video, Category: "video"})

	return tree
}

func newFacade(t *testing.T, db *gorm.DB) *Facade {
	t.Helper()
	return NewFacade(
		repository.NewStateRecordRepository(db),
		repository.NewFieldRepository(db),
		demoTree(t),
		1,
	)
}

func TestAuthoredScopesRefuseWrites(t *testing.T) {
	f := newFacade(t, testutil.NewDB(t))

	assert.ErrorIs(t, f.Set(ContentKey(problemURL, "text"), "x"), util.ErrInvalidWrite)
	assert.ErrorIs(t, f.Set(SettingsKey(problemURL, "due"), "x"), util.ErrInvalidWrite)
	assert.ErrorIs(t, f.Delete(SettingsKey(problemURL, "due")), util.ErrInvalidWrite)
}

func TestSettingsServeAuthoredAttributes(t *testing.T) {
	f := newFacade(t, testutil.NewDB(t))

	name, err := f.Get(SettingsKey(problemURL, "display_name"))
	require.NoError(t, err)
	assert.Equal(t, "Question 1", name)

	due, err := f.Get(SettingsKey(problemURL, "due"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), due)

	_, err = f.Get(SettingsKey("i4x://edX/Demo/problem/missing", "due"))
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestUserStateWriteCreatesRecord(t *testing.T) {
	db := testutil.NewDB(t)
	f := newFacade(t, db)
	key := UserStateKey(1, problemURL, "attempts")

	require.NoError(t, f.Set(key, 2))

	var rec model.StateRecord
	require.NoError(t, db.Where("learner_id = ? AND block_id = ?", 1, problemURL).First(&rec).Error)
	assert.Equal(t, "problem", rec.ModuleType)

	got, err := f.Get(key)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got)
}

func TestUserStateReadFallsBackToDefault(t *testing.T) {
	f := newFacade(t, testutil.NewDB(t))

	// "problem" registers an authored default for done; no record exists.
	v, err := f.Get(UserStateKey(1, problemURL, "done"))
	require.NoError(t, err)
	assert.Equal(t, false, v)

	// A field with no default and no record is absent, and the read never
	// creates a record.
	has, err := f.Has(UserStateKey(1, problemURL, "student_answers"))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDeleteUserStateField(t *testing.T) {
	f := newFacade(t, testutil.NewDB(t))
	key := UserStateKey(1, problemURL, "student_answers")

	assert.ErrorIs(t, f.Delete(key), util.ErrNotFound)

	require.NoError(t, f.Set(key, 1))
	require.NoError(t, f.Delete(key))

	has, err := f.Has(key)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestOtherScopesRoundTrip(t *testing.T) {
	f := newFacade(t, testutil.NewDB(t))

	require.NoError(t, f.Set(UserStateSummaryKey(problemURL, "total_votes"), 12))
	require.NoError(t, f.Set(PreferenceKey(1, "video", "speed"), 1.5))
	require.NoError(t, f.Set(UserInfoKey(1, "timezone"), "UTC"))

	votes, err := f.Get(UserStateSummaryKey(problemURL, "total_votes"))
	require.NoError(t, err)
	assert.EqualValues(t, 12, votes)

	speed, err := f.Get(PreferenceKey(1, "video", "speed"))
	require.NoError(t, err)
	assert.EqualValues(t, 1.5, speed)

	tz, err := f.Get(UserInfoKey(1, "timezone"))
	require.NoError(t, err)
	assert.Equal(t, "UTC", tz)

	require.NoError(t, f.Delete(PreferenceKey(1, "video", "speed")))
	_, err = f.Get(PreferenceKey(1, "video", "speed"))
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestWarmedAbsentBlockSkipsDatabase(t *testing.T) {
	db := testutil.NewDB(t)
	f := newFacade(t, db)

	require.NoError(t, f.Warm([]string{problemURL, videoURL}))

	rec, warmed := f.Cache.Get(problemURL)
	assert.True(t, warmed)
	assert.Nil(t, rec)

	// Reads served from the warmed cache still surface NotFound.
	_, err := f.Get(UserStateKey(1, problemURL, "student_answers"))
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestWriteThroughUpdatesCache(t *testing.T) {
	db := testutil.NewDB(t)
	f := newFacade(t, db)

	require.NoError(t, f.Warm([]string{problemURL}))
	require.NoError(t, f.Set(UserStateKey(1, problemURL, "attempts"), 3))

	rec, warmed := f.Cache.Get(problemURL)
	require.True(t, warmed)
	require.NotNil(t, rec)
	state, err := rec.StateMap()
	require.NoError(t, err)
	assert.EqualValues(t, 3, state["attempts"])
}
