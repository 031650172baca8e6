package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"learner_state_engine/internal/content"
	"learner_state_engine/internal/location"
	"learner_state_engine/internal/util"
	"learner_state_engine/pkg/logger"

	"go.uber.org/zap"
)

// CourseService holds the authored side of every loaded course run: the block
// tree and the grading policy. Authored content is read-only to the engine;
// it is loaded from published course manifests, not edited here.
type CourseService struct {
	mu      sync.RWMutex
	courses map[string]*loadedCourse
}

type loadedCourse struct {
	tree   *content.CourseTree
	policy *content.GradingPolicy
}

func NewCourseService() *CourseService {
	return &CourseService{courses: make(map[string]*loadedCourse)}
}

// courseManifest is the on-disk publication format for one course run.
type courseManifest struct {
	CourseID     string          `json:"course_id"`
	Root         string          `json:"root"`
	EntranceExam string          `json:"entrance_exam,omitempty"`
	Blocks       []blockManifest `json:"blocks"`
	Policy       json.RawMessage `json:"policy"`
}

type blockManifest struct {
	Usage           string                 `json:"usage"`
	DisplayName     string                 `json:"display_name,omitempty"`
	Start           *time.Time             `json:"start,omitempty"`
	Due             *time.Time             `json:"due,omitempty"`
	MaxAttempts     int                    `json:"max_attempts,omitempty"`
	Weight          *float64               `json:"weight,omitempty"`
	Graded          bool                   `json:"graded,omitempty"`
	AssignmentType  string                 `json:"format,omitempty"`
	PointsPossible  float64                `json:"points_possible,omitempty"`
	ExternalGrader  bool                   `json:"external_grader,omitempty"`
	ShowCorrectness string                 `json:"show_correctness,omitempty"`
	Children        []string               `json:"children,omitempty"`
	FieldDefaults   map[string]interface{} `json:"defaults,omitempty"`
}

// LoadManifest parses and registers one course manifest, replacing any
// earlier load of the same course id.
func (s *CourseService) LoadManifest(raw []byte) (*content.CourseTree, error) {
	var m courseManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: bad course manifest: %v", util.ErrInvalidInput, err)
	}
	if m.CourseID == "" {
		return nil, fmt.Errorf("%w: manifest without course_id", util.ErrInvalidInput)
	}
	root, err := location.Parse(m.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: bad root %q: %v", util.ErrInvalidInput, m.Root, err)
	}

	tree := content.NewCourseTree(m.CourseID, root)
	tree.EntranceExamID = m.EntranceExam
	for _, bm := range m.Blocks {
		loc, err := location.Parse(bm.Usage)
		if err != nil {
			return nil, fmt.Errorf("%w: bad usage %q: %v", util.ErrInvalidInput, bm.Usage, err)
		}
		block := &content.Block{
			Location:        loc,
			Category:        loc.Category,
			DisplayName:     bm.DisplayName,
			Start:           bm.Start,
			Due:             bm.Due,
			MaxAttempts:     bm.MaxAttempts,
			Weight:          bm.Weight,
			Graded:          bm.Graded,
			AssignmentType:  bm.AssignmentType,
			PointsPossible:  bm.PointsPossible,
			ExternalGrader:  bm.ExternalGrader,
			ShowCorrectness: bm.ShowCorrectness,
			FieldDefaults:   bm.FieldDefaults,
		}
		for _, child := range bm.Children {
			cl, err := location.Parse(child)
			if err != nil {
				return nil, fmt.Errorf("%w: bad child %q: %v", util.ErrInvalidInput, child, err)
			}
			block.Children = append(block.Children, cl)
		}
		tree.Add(block)
	}

	var policy *content.GradingPolicy
	if len(m.Policy) > 0 {
		policy, err = content.ParsePolicy(m.Policy)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.courses[m.CourseID] = &loadedCourse{tree: tree, policy: policy}
	s.mu.Unlock()
	logger.Log.Info("loaded course manifest",
		zap.String("course", m.CourseID), zap.Int("blocks", len(m.Blocks)))
	return tree, nil
}

// LoadDir loads every .json manifest under dir. Individual bad files are
// logged and skipped.
func (s *CourseService) LoadDir(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Log.Warn("unreadable course manifest", zap.String("path", path), zap.Error(err))
			continue
		}
		if _, err := s.LoadManifest(raw); err != nil {
			logger.Log.Warn("skipping bad course manifest", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

// Tree returns the block tree of a loaded course.
func (s *CourseService) Tree(courseID string) (*content.CourseTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[courseID]
	if !ok {
		return nil, fmt.Errorf("%w: course %s is not loaded", util.ErrNotFound, courseID)
	}
	return c.tree, nil
}

// Policy returns the grading policy of a loaded course; not every course
// declares one.
func (s *CourseService) Policy(courseID string) (*content.GradingPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[courseID]
	if !ok {
		return nil, fmt.Errorf("%w: course %s is not loaded", util.ErrNotFound, courseID)
	}
	if c.policy == nil {
		return nil, fmt.Errorf("%w: course %s has no grading policy", util.ErrPolicy, courseID)
	}
	return c.policy, nil
}

// CourseIDs lists the loaded course runs.
func (s *CourseService) CourseIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.courses))
	for id := range s.courses {
		ids = append(ids, id)
	}
	return ids
}
