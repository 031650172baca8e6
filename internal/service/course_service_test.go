package service

import (
	"os"
	"path/filepath"
	"testing"

	"learner_state_engine/internal/testutil"
	"learner_state_engine/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoManifest = `{
	"course_id": "edX/Demo/2026",
	"root": "i4x://edX/Demo/course/2026",
	"entrance_exam": "i4x://edX/Demo/sequential/exam",
	"blocks": [
		{
			"usage": "i4x://edX/Demo/course/2026",
			"children": ["i4x://edX/Demo/sequential/exam"]
		},
		{
			"usage": "i4x://edX/Demo/sequential/exam",
			"display_name": "Entrance Exam",
			"graded": true,
			"format": "Exam",
			"children": ["i4x://edX/Demo/problem/p1"]
		},
		{
			"usage": "i4x://edX/Demo/problem/p1",
			"graded": true,
			"points_possible": 2,
			"max_attempts": 3,
			"show_correctness": "always"
		}
	],
	"policy": {
		"GRADER": [{"type": "Exam", "min_count": 1, "drop_count": 0, "weight": 1.0}],
		"GRADE_CUTOFFS": {"Pass": 0.5}
	}
}`

func TestLoadManifestBuildsTreeAndPolicy(t *testing.T) {
	testutil.NewDB(t)
	svc := NewCourseService()

	tree, err := svc.LoadManifest([]byte(demoManifest))
	require.NoError(t, err)
	assert.Equal(t, "i4x://edX/Demo/sequential/exam", tree.EntranceExamID)

	got, err := svc.Tree("edX/Demo/2026")
	require.NoError(t, err)
	problem, ok := got.GetBlock("i4x://edX/Demo/problem/p1")
	require.True(t, ok)
	assert.Equal(t, "problem", problem.Category)
	assert.Equal(t, 2.0, problem.PointsPossible)
	assert.Equal(t, 3, problem.MaxAttempts)
	assert.Equal(t, "always", problem.ShowCorrectness)

	policy, err := svc.Policy("edX/Demo/2026")
	require.NoError(t, err)
	require.Len(t, policy.Grader, 1)
	assert.Equal(t, "Exam", policy.Grader[0].Type)

	assert.Equal(t, []string{"edX/Demo/2026"}, svc.CourseIDs())
}

func TestLoadManifestRejectsBadInput(t *testing.T) {
	testutil.NewDB(t)
	svc := NewCourseService()

	_, err := svc.LoadManifest([]byte("not json"))
	assert.ErrorIs(t, err, util.ErrInvalidInput)

	_, err = svc.LoadManifest([]byte(`{"root": "i4x://edX/Demo/course/2026"}`))
	assert.ErrorIs(t, err, util.ErrInvalidInput)

	_, err = svc.LoadManifest([]byte(`{"course_id": "edX/Demo/2026", "root": "garbage"}`))
	assert.ErrorIs(t, err, util.ErrInvalidInput)
}

func TestPolicyIsOptionalPerCourse(t *testing.T) {
	testutil.NewDB(t)
	svc := NewCourseService()

	manifest := `{"course_id": "edX/Ungraded/2026", "root": "i4x://edX/Ungraded/course/2026", "blocks": []}`
	_, err := svc.LoadManifest([]byte(manifest))
	require.NoError(t, err)

	_, err = svc.Tree("edX/Ungraded/2026")
	require.NoError(t, err)
	_, err = svc.Policy("edX/Ungraded/2026")
	assert.ErrorIs(t, err, util.ErrPolicy)

	_, err = svc.Tree("edX/Missing/2026")
	assert.ErrorIs(t, err, util.ErrNotFound)
}

func TestLoadDirSkipsBadManifests(t *testing.T) {
	testutil.NewDB(t)
	svc := NewCourseService()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.json"), []byte(demoManifest), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644))

	require.NoError(t, svc.LoadDir(dir))
	assert.Equal(t, []string{"edX/Demo/2026"}, svc.CourseIDs())
}
