package location

import (
	"fmt"
	"regexp"
	"strings"

	"learner_state_engine/internal/util"
)

// Location identifies one authored block: tag://org/course/category/name[/revision].
// The zero value of a component means "any"; a Location used as a storage key
// must have tag, org, course, category and name all set.
type Location struct {
	Tag      string
	Org      string
	Course   string
	Category string
	Name     string
	Revision string
}

var (
	componentRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	urlRe       = regexp.MustCompile(`^([A-Za-z0-9]+)://([^/]+)/([^/]+)/([^/]+)/([^/]+)(?:/([^/]+))?$`)
	invalidRe   = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)
	underscores = regexp.MustCompile(`_+`)
)

// Parse builds a Location from its canonical URL form.
func Parse(text string) (Location, error) {
	m := urlRe.FindStringSubmatch(text)
	if m == nil {
		return Location{}, fmt.Errorf("%w: %q", util.ErrInvalidIdentifier, text)
	}
	loc := Location{Tag: m[1], Org: m[2], Course: m[3], Category: m[4], Name: m[5], Revision: m[6]}
	if err := loc.validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// FromList builds a Location from a 5- or 6-element component sequence
// (tag, org, course, category, name[, revision]).
func FromList(parts []string) (Location, error) {
	if len(parts) != 5 && len(parts) != 6 {
		return Location{}, fmt.Errorf("%w: want 5 or 6 components, got %d", util.ErrInvalidIdentifier, len(parts))
	}
	loc := Location{Tag: parts[0], Org: parts[1], Course: parts[2], Category: parts[3], Name: parts[4]}
	if len(parts) == 6 {
		loc.Revision = parts[5]
	}
	if err := loc.validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// FromMap builds a Location from a component map keyed by
// tag/org/course/category/name/revision.
func FromMap(fields map[string]string) (Location, error) {
	loc := Location{
		Tag:      fields["tag"],
		Org:      fields["org"],
		Course:   fields["course"],
		Category: fields["category"],
		Name:     fields["name"],
		Revision: fields["revision"],
	}
	if err := loc.validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

func (l Location) validate() error {
	for _, c := range []string{l.Tag, l.Org, l.Course, l.Category, l.Name, l.Revision} {
		if c != "" && !componentRe.MatchString(c) {
			return fmt.Errorf("%w: forbidden characters in %q", util.ErrInvalidIdentifier, c)
		}
	}
	if l.Tag == "" || l.Org == "" || l.Course == "" || l.Category == "" || l.Name == "" {
		return fmt.Errorf("%w: missing component in %v", util.ErrInvalidIdentifier, l.List())
	}
	return nil
}

// URL renders the canonical form. Equality and hashing of Locations are by
// this string; two Locations are the same block iff their URLs match.
func (l Location) URL() string {
	s := fmt.Sprintf("%s://%s/%s/%s/%s", l.Tag, l.Org, l.Course, l.Category, l.Name)
	if l.Revision != "" {
		s += "/" + l.Revision
	}
	return s
}

func (l Location) String() string { return l.URL() }

// List returns the components in order, with revision only when present.
func (l Location) List() []string {
	parts := []string{l.Tag, l.Org, l.Course, l.Category, l.Name}
	if l.Revision != "" {
		parts = append(parts, l.Revision)
	}
	return parts
}

// Map returns the components keyed by name. Absent revision maps to "".
func (l Location) Map() map[string]string {
	return map[string]string{
		"tag":      l.Tag,
		"org":      l.Org,
		"course":   l.Course,
		"category": l.Category,
		"name":     l.Name,
		"revision": l.Revision,
	}
}

// HTMLID joins the set components with "-" for use as a DOM id.
func (l Location) HTMLID() string {
	var parts []string
	for _, c := range l.List() {
		if c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "-")
}

// CourseKey returns the org/course/run triple this block belongs to, using
// the location's name as the run when the block is the course root.
func (l Location) CourseKey(run string) CourseKey {
	return CourseKey{Org: l.Org, Course: l.Course, Run: run}
}

// Clean maps arbitrary import-time text into the identifier alphabet: every
// character outside [A-Za-z0-9_.-] becomes "_", then runs of "_" collapse to
// one. Idempotent.
func Clean(value string) string {
	return underscores.ReplaceAllString(invalidRe.ReplaceAllString(value, "_"), "_")
}

// CourseKey names one course run. Stored textually as org/course/run.
type CourseKey struct {
	Org    string
	Course string
	Run    string
}

func ParseCourseKey(text string) (CourseKey, error) {
	parts := strings.Split(text, "/")
	if len(parts) != 3 {
		return CourseKey{}, fmt.Errorf("%w: course key %q", util.ErrInvalidIdentifier, text)
	}
	for _, p := range parts {
		if !componentRe.MatchString(p) {
			return CourseKey{}, fmt.Errorf("%w: forbidden characters in %q", util.ErrInvalidIdentifier, p)
		}
	}
	return CourseKey{Org: parts[0], Course: parts[1], Run: parts[2]}, nil
}

func (k CourseKey) String() string {
	return k.Org + "/" + k.Course + "/" + k.Run
}
