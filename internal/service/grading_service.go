package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"learner_state_engine/internal/content"
	"learner_state_engine/internal/model"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/submissions"
	"learner_state_engine/internal/util"
	"learner_state_engine/pkg/logger"
	"learner_state_engine/pkg/monitoring"
	"learner_state_engine/pkg/tracing"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Score is one section's contribution to a grade set.
type Score struct {
	Section  string  `json:"section"`
	Earned   float64 `json:"earned"`
	Possible float64 `json:"possible"`
	Graded   bool    `json:"graded"`
}

// GradeSet is the full grading output for one learner in one course.
// Percent keeps full precision; DisplayPercent rounds for reporting.
type GradeSet struct {
	Percent       float64            `json:"percent"`
	Letter        string             `json:"letter,omitempty"`
	Passed        bool               `json:"passed"`
	TotaledScores map[string][]Score `json:"totaledScores"`
	RawScores     []Score            `json:"rawScores,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
}

func (g *GradeSet) DisplayPercent() float64 {
	return math.Round(g.Percent*10000) / 10000
}

const gradeEpsilon = 1e-9

// GradingService walks a course tree, collects per-block scores from state
// records and the submissions store, and applies the grading policy. It
// never writes state or history.
type GradingService struct {
	States      *repository.StateRecordRepository
	Fields      *repository.FieldRepository
	Enrollments *repository.EnrollmentRepository
	Submissions submissions.Store
	Redis       *redis.Client
}

func NewGradingService(
	states *repository.StateRecordRepository,
	fields *repository.FieldRepository,
	enrollments *repository.EnrollmentRepository,
	subs submissions.Store,
	rdb *redis.Client,
) *GradingService {
	return &GradingService{
		States:      states,
		Fields:      fields,
		Enrollments: enrollments,
		Submissions: subs,
		Redis:       rdb,
	}
}

// ComputeOptions tune one grade computation.
type ComputeOptions struct {
	// UseOffline permits serving a cached grade set instead of recomputing.
	UseOffline bool
	// WithRawScores includes the flat per-section list in the output.
	WithRawScores bool
}

// ComputeGrade produces the grade set for one learner. All state reads come
// from a single snapshot fetch, so one compute never mixes pre- and
// post-rescore state across leaves.
func (s *GradingService) ComputeGrade(ctx context.Context, tree *content.CourseTree, policy *content.GradingPolicy, learnerID uint, opts ComputeOptions) (*GradeSet, error) {
	ctx, span := tracing.Tracer.Start(ctx, "grading.compute")
	defer span.End()
	start := time.Now()
	defer func() {
		monitoring.GradeComputes.Observe(time.Since(start).Seconds())
	}()

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	if opts.UseOffline {
		if cached := s.cachedGradeSet(ctx, tree.CourseID, learnerID); cached != nil {
			return cached, nil
		}
	}

	// One snapshot of every state row for this learner and course.
	records, err := s.States.ForLearnerCourse(learnerID, tree.CourseID)
	if err != nil {
		return nil, err
	}
	byBlock := make(map[string]*model.StateRecord, len(records))
	for i := range records {
		byBlock[records[i].BlockID] = &records[i]
	}

	grades := &GradeSet{TotaledScores: map[string][]Score{}}

	byType := map[string][]sectionScore{}
	var typeOrder []string

	for idx, section := range tree.Sections() {
		leaves := tree.GradedLeaves(section.Location)
		var earned, possible float64
		for _, leaf := range leaves {
			e, p, warn := s.leafScore(ctx, tree, leaf.Block, byBlock, learnerID)
			if warn != "" {
				grades.Warnings = append(grades.Warnings, warn)
			}
			earned += e
			possible += p
		}
		score := Score{
			Section:  section.DisplayName,
			Earned:   earned,
			Possible: possible,
			Graded:   true,
		}
		at := section.AssignmentType
		if _, seen := byType[at]; !seen {
			typeOrder = append(typeOrder, at)
		}
		byType[at] = append(byType[at], sectionScore{score: score, index: idx})
		if opts.WithRawScores {
			grades.RawScores = append(grades.RawScores, score)
		}
	}

	var percent float64
	for _, group := range policy.Grader {
		sections := byType[group.Type]

		// Pad with zero-scored placeholders up to min_count; display only,
		// but the zeros participate in the average like the original does.
		for len(sections) < group.MinCount {
			sections = append(sections, sectionScore{
				score: Score{
					Section:  fmt.Sprintf("%s %d Unreleased", group.Type, len(sections)+1),
					Possible: 0,
					Graded:   true,
				},
				index: math.MaxInt32,
			})
		}
		if len(sections) == 0 {
			continue
		}

		kept := dropLowest(sections, group.DropCount)
		var total float64
		var scores []Score
		for _, sec := range kept {
			total += fraction(sec.score)
			scores = append(scores, sec.score)
		}
		typeTotal := total / float64(len(kept))
		percent += group.Weight * typeTotal
		grades.TotaledScores[group.Type] = scores
	}

	grades.Percent = percent
	grades.Letter = policy.Letter(percent)
	grades.Passed = grades.Letter != ""

	s.cacheGradeSet(ctx, tree.CourseID, learnerID, grades)
	return grades, nil
}

// leafScore resolves (earned, possible) for one graded leaf: the submissions
// store when the block declares an external grader, else the state record's
// grade pair, else zero out of the authored possible. A failing leaf scores
// (0, possible) and contributes a warning instead of aborting the compute.
func (s *GradingService) leafScore(ctx context.Context, tree *content.CourseTree, block *content.Block, byBlock map[string]*model.StateRecord, learnerID uint) (float64, float64, string) {
	if block.ExternalGrader && s.Submissions != nil {
		item := submissions.StudentItem{
			StudentID: fmt.Sprint(learnerID),
			CourseID:  tree.CourseID,
			ItemID:    block.Location.URL(),
			ItemType:  block.Category,
		}
		score, err := s.Submissions.GetScore(ctx, item)
		if err != nil {
			logger.Log.Warn("submissions store lookup failed",
				zap.String("block", block.Location.URL()), zap.Error(err))
			return 0, block.PointsPossible, fmt.Sprintf("no score for %s: %v", block.Location.URL(), err)
		}
		if score != nil {
			return score.PointsEarned, score.PointsPossible, ""
		}
	}

	rec := byBlock[block.Location.URL()]
	if rec != nil && rec.Grade != nil && rec.MaxGrade != nil {
		if s.submittedLate(tree, block, learnerID, rec.UpdatedAt) && block.ShowCorrectness != "always" {
			return 0, *rec.MaxGrade, ""
		}
		return *rec.Grade, *rec.MaxGrade, ""
	}
	return 0, block.PointsPossible, ""
}

// submittedLate consults the per-learner due override before the authored
// due date. No due date means never late.
func (s *GradingService) submittedLate(tree *content.CourseTree, block *content.Block, learnerID uint, submitted time.Time) bool {
	due := block.Due
	raw, err := s.Fields.GetOverride(tree.CourseID, learnerID, block.Location.URL(), "due")
	if err == nil {
		var t time.Time
		if json.Unmarshal([]byte(raw), &t) == nil {
			due = &t
		}
	} else if !errors.Is(err, util.ErrNotFound) {
		logger.Log.Warn("due override lookup failed", zap.Error(err))
	}
	if due == nil {
		return false
	}
	return submitted.After(*due)
}

type sectionScore struct {
	score Score
	index int
}

// dropLowest removes the dropCount lowest-fraction sections. Ties drop the
// section with the smaller authored index, stably. A drop count at or above
// the section count keeps the single best section rather than averaging over
// nothing.
func dropLowest(sections []sectionScore, dropCount int) []sectionScore {
	if dropCount >= len(sections) {
		dropCount = len(sections) - 1
	}
	if dropCount <= 0 {
		return sections
	}
	order := make([]int, len(sections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		fa, fb := fraction(sections[order[a]].score), fraction(sections[order[b]].score)
		if math.Abs(fa-fb) > gradeEpsilon {
			return fa < fb
		}
		return sections[order[a]].index < sections[order[b]].index
	})
	dropped := make(map[int]bool, dropCount)
	for _, i := range order[:dropCount] {
		dropped[i] = true
	}
	var kept []sectionScore
	for i, sec := range sections {
		if !dropped[i] {
			kept = append(kept, sec)
		}
	}
	return kept
}

func fraction(s Score) float64 {
	if s.Possible <= 0 {
		return 0
	}
	return s.Earned / s.Possible
}

// GradeReportRow is one learner's line in a course grade report.
type GradeReportRow struct {
	LearnerID uint               `json:"learnerId"`
	Percent   float64            `json:"percent"`
	Letter    string             `json:"letter,omitempty"`
	Passed    bool               `json:"passed"`
	ByType    map[string]float64 `json:"byType"`
	Error     string             `json:"error,omitempty"`
}

// GradeReport computes one row per actively enrolled learner. Rows that fail
// carry the error and do not abort the report.
func (s *GradingService) GradeReport(ctx context.Context, tree *content.CourseTree, policy *content.GradingPolicy) ([]GradeReportRow, error) {
	learners, err := s.Enrollments.ActiveLearnerIDs(tree.CourseID)
	if err != nil {
		return nil, err
	}
	rows := make([]GradeReportRow, 0, len(learners))
	for _, learnerID := range learners {
		row := GradeReportRow{LearnerID: learnerID}
		grades, err := s.ComputeGrade(ctx, tree, policy, learnerID, ComputeOptions{})
		if err != nil {
			row.Error = err.Error()
			rows = append(rows, row)
			continue
		}
		row.Percent = grades.DisplayPercent()
		row.Letter = grades.Letter
		row.Passed = grades.Passed
		row.ByType = map[string]float64{}
		for at, scores := range grades.TotaledScores {
			var earned, possible float64
			for _, sc := range scores {
				earned += sc.Earned
				possible += sc.Possible
			}
			if possible > 0 {
				row.ByType[at] = earned / possible
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

const gradeCacheTTL = 5 * time.Minute

func gradeCacheKey(courseID string, learnerID uint) string {
	return fmt.Sprintf("gradeset:%s:%d", courseID, learnerID)
}

func (s *GradingService) cachedGradeSet(ctx context.Context, courseID string, learnerID uint) *GradeSet {
	if s.Redis == nil {
		return nil
	}
	raw, err := s.Redis.Get(ctx, gradeCacheKey(courseID, learnerID)).Result()
	if err != nil {
		return nil
	}
	var grades GradeSet
	if json.Unmarshal([]byte(raw), &grades) != nil {
		return nil
	}
	return &grades
}

func (s *GradingService) cacheGradeSet(ctx context.Context, courseID string, learnerID uint, grades *GradeSet) {
	if s.Redis == nil {
		return
	}
	raw, err := json.Marshal(grades)
	if err != nil {
		return
	}
	s.Redis.Set(ctx, gradeCacheKey(courseID, learnerID), raw, gradeCacheTTL)
}

// InvalidateGradeCache drops the cached grade set after a rescore or reset.
func (s *GradingService) InvalidateGradeCache(ctx context.Context, courseID string, learnerID uint) {
	if s.Redis == nil {
		return
	}
	s.Redis.Del(ctx, gradeCacheKey(courseID, learnerID))
}
