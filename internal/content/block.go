package content

import (
	"time"

	"learner_state_engine/internal/location"
)

// Block is one authored unit of the course tree. Blocks reference their
// children by Location; the owning CourseTree resolves them, so there are no
// back-references from a block to its loader.
type Block struct {
	Location        location.Location
	Category        string
	DisplayName     string
	Start           *time.Time
	Due             *time.Time
	MaxAttempts     int
	Weight          *float64
	Graded          bool
	AssignmentType  string // set on sections; groups leaf scores for the policy
	PointsPossible  float64
	ExternalGrader  bool   // scores live in the submissions store
	ShowCorrectness string // "always" exempts late submissions from zeroing
	Children        []location.Location
	FieldDefaults   map[string]interface{}
}

// Default returns the authored default for a field, if any.
func (b *Block) Default(field string) (interface{}, bool) {
	caps, ok := Lookup(b.Category)
	if ok {
		if v, found := caps.FieldDefaults[field]; found {
			if over, found := b.FieldDefaults[field]; found {
				return over, true
			}
			return v, true
		}
	}
	v, found := b.FieldDefaults[field]
	return v, found
}

// CourseTree owns every block of one course run, indexed by location URL.
type CourseTree struct {
	CourseID       string
	Root           location.Location
	EntranceExamID string // location URL of the declared entrance exam, if any
	blocks         map[string]*Block
}

func NewCourseTree(courseID string, root location.Location) *CourseTree {
	return &CourseTree{
		CourseID: courseID,
		Root:     root,
		blocks:   make(map[string]*Block),
	}
}

func (t *CourseTree) Add(b *Block) {
	t.blocks[b.Location.URL()] = b
}

// GetBlock resolves a usage id within this course. The bool result is false
// when the block is unknown.
func (t *CourseTree) GetBlock(usageID string) (*Block, bool) {
	b, ok := t.blocks[usageID]
	return b, ok
}

// Walk visits the subtree rooted at loc depth-first, parents before children.
// Unresolvable children are skipped.
func (t *CourseTree) Walk(loc location.Location, visit func(*Block)) {
	b, ok := t.GetBlock(loc.URL())
	if !ok {
		return
	}
	visit(b)
	for _, child := range b.Children {
		t.Walk(child, visit)
	}
}

// GradedLeaves returns the graded blocks with no graded descendants under
// loc, in depth-first order, each paired with the nearest enclosing
// assignment type.
func (t *CourseTree) GradedLeaves(loc location.Location) []GradedLeaf {
	var leaves []GradedLeaf
	t.collectLeaves(loc, "", &leaves)
	return leaves
}

type GradedLeaf struct {
	Block          *Block
	AssignmentType string
	SectionURL     string
}

func (t *CourseTree) collectLeaves(loc location.Location, assignmentType string, out *[]GradedLeaf) {
	b, ok := t.GetBlock(loc.URL())
	if !ok {
		return
	}
	at := assignmentType
	if b.AssignmentType != "" {
		at = b.AssignmentType
	}
	if len(b.Children) == 0 {
		if b.Graded {
			*out = append(*out, GradedLeaf{Block: b, AssignmentType: at, SectionURL: loc.URL()})
		}
		return
	}
	for _, child := range b.Children {
		t.collectLeaves(child, at, out)
	}
}

// Sections returns the graded sections (blocks declaring an assignment type)
// under the root, in authored order.
func (t *CourseTree) Sections() []*Block {
	var sections []*Block
	t.Walk(t.Root, func(b *Block) {
		if b.AssignmentType != "" && b.Graded {
			sections = append(sections, b)
		}
	})
	return sections
}
