package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learner_state_engine/internal/util"
)

func TestParseRoundTrip(t *testing.T) {
	for _, url := range []string{
		"i4x://MITx/6.002x/problem/Circuit_1",
		"i4x://edX/demo/video/intro/draft",
		"block://org-1/course.2/html/page_3",
	} {
		loc, err := Parse(url)
		require.NoError(t, err, url)
		assert.Equal(t, url, loc.URL())

		again, err := FromList(loc.List())
		require.NoError(t, err)
		assert.Equal(t, loc, again)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, url := range []string{
		"",
		"i4x://MITx/6.002x/problem",
		"i4x://MITx/6.002x/problem/has space",
		"not a url at all",
		"i4x://MITx/6.002x/problem/a/b/c",
	} {
		_, err := Parse(url)
		assert.ErrorIs(t, err, util.ErrInvalidIdentifier, url)
	}
}

func TestFromListArity(t *testing.T) {
	_, err := FromList([]string{"i4x", "org", "course", "problem"})
	assert.ErrorIs(t, err, util.ErrInvalidIdentifier)

	_, err = FromList([]string{"i4x", "org", "course", "problem", "name", "draft", "extra"})
	assert.ErrorIs(t, err, util.ErrInvalidIdentifier)

	loc, err := FromList([]string{"i4x", "org", "course", "problem", "name", "draft"})
	require.NoError(t, err)
	assert.Equal(t, "draft", loc.Revision)
}

func TestFromMap(t *testing.T) {
	loc, err := FromMap(map[string]string{
		"tag": "i4x", "org": "MITx", "course": "6.002x",
		"category": "problem", "name": "Circuit_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "i4x://MITx/6.002x/problem/Circuit_1", loc.URL())
	assert.Equal(t, loc.Map()["name"], "Circuit_1")
}

func TestHTMLID(t *testing.T) {
	loc := Location{Tag: "i4x", Org: "MITx", Course: "6.002x", Category: "problem", Name: "Circuit_1"}
	assert.Equal(t, "i4x-MITx-6.002x-problem-Circuit_1", loc.HTMLID())
}

func TestCleanIdempotent(t *testing.T) {
	cases := map[string]string{
		"hello world":   "hello_world",
		"a//b\\c":       "a_b_c",
		"already-clean": "already-clean",
		"many   gaps!!": "many_gaps_",
		"___collapse__": "_collapse_",
	}
	for in, want := range cases {
		got := Clean(in)
		assert.Equal(t, want, got)
		assert.Equal(t, got, Clean(got), "clean must be idempotent")
	}
}

func TestCourseKey(t *testing.T) {
	k, err := ParseCourseKey("MITx/6.002x/2013_Spring")
	require.NoError(t, err)
	assert.Equal(t, "MITx/6.002x/2013_Spring", k.String())

	_, err = ParseCourseKey("MITx/6.002x")
	assert.ErrorIs(t, err, util.ErrInvalidIdentifier)

	_, err = ParseCourseKey("MITx/6.002x/2013\n")
	assert.ErrorIs(t, err, util.ErrInvalidIdentifier)
}
