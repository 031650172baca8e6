package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"learner_state_engine/internal/content"
	"learner_state_engine/internal/model"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/util"
	"learner_state_engine/pkg/logger"
	"learner_state_engine/pkg/monitoring"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AdminService implements the administrative mutators. Every operation is a
// single idempotent unit of work; bulk variants fan out one unit per
// enrolled learner through a task record and never run inline.
type AdminService struct {
	States      *repository.StateRecordRepository
	Fields      *repository.FieldRepository
	Tasks       *repository.TaskRepository
	Enrollments *repository.EnrollmentRepository
	Grading     *GradingService
	Redis       *redis.Client

	MaxReportedErrors int
}

func NewAdminService(
	states *repository.StateRecordRepository,
	fields *repository.FieldRepository,
	tasks *repository.TaskRepository,
	enrollments *repository.EnrollmentRepository,
	grading *GradingService,
	rdb *redis.Client,
	maxReportedErrors int,
) *AdminService {
	if maxReportedErrors <= 0 {
		maxReportedErrors = 100
	}
	return &AdminService{
		States:            states,
		Fields:            fields,
		Tasks:             tasks,
		Enrollments:       enrollments,
		Grading:           grading,
		Redis:             rdb,
		MaxReportedErrors: maxReportedErrors,
	}
}

// ResetAttempts zeroes the attempt counter of one learner's state on one
// block, preserving every other field. Absent state is ErrNotFound.
func (s *AdminService) ResetAttempts(ctx context.Context, courseID string, learnerID uint, blockID string) error {
	rec, err := s.States.GetAnyType(learnerID, courseID, blockID)
	if err != nil {
		s.countUnit(model.OpResetAttempts, err)
		return err
	}
	state, err := rec.StateMap()
	if err != nil {
		return err
	}
	state["attempts"] = 0
	if err := rec.SetStateMap(state); err != nil {
		return err
	}
	if err := s.States.Save(rec); err != nil {
		s.countUnit(model.OpResetAttempts, err)
		return err
	}
	s.Grading.InvalidateGradeCache(ctx, courseID, learnerID)
	s.countUnit(model.OpResetAttempts, nil)
	return nil
}

// DeleteState removes the learner's state row for one block after a terminal
// history snapshot of the pre-delete content.
func (s *AdminService) DeleteState(ctx context.Context, courseID string, learnerID uint, blockID string) error {
	rec, err := s.States.GetAnyType(learnerID, courseID, blockID)
	if err != nil {
		s.countUnit(model.OpDeleteState, err)
		return err
	}
	if err := s.States.Delete(rec); err != nil {
		s.countUnit(model.OpDeleteState, err)
		return err
	}
	s.Grading.InvalidateGradeCache(ctx, courseID, learnerID)
	s.countUnit(model.OpDeleteState, nil)
	return nil
}

// ErrRescoreSkipped marks a block whose score lives in the submissions
// store; rescoring leaves that store authoritative.
var ErrRescoreSkipped = errors.New("rescore skipped: external grader is authoritative")

// Rescore re-derives (grade, max_grade) from the stored state using the
// block category's scoring function and saves the result.
func (s *AdminService) Rescore(ctx context.Context, tree *content.CourseTree, learnerID uint, blockID string) error {
	block, ok := tree.GetBlock(blockID)
	if !ok {
		s.countUnit(model.OpRescore, util.ErrNotFound)
		return fmt.Errorf("%w: block %s", util.ErrNotFound, blockID)
	}
	if block.ExternalGrader {
		s.countUnit(model.OpRescore, ErrRescoreSkipped)
		return ErrRescoreSkipped
	}
	caps, ok := content.Lookup(block.Category)
	if !ok || caps.Scorer == nil {
		s.countUnit(model.OpRescore, util.ErrInvalidInput)
		return fmt.Errorf("%w: category %s has no scorer", util.ErrInvalidInput, block.Category)
	}

	rec, err := s.States.GetAnyType(learnerID, tree.CourseID, blockID)
	if err != nil {
		s.countUnit(model.OpRescore, err)
		return err
	}
	state, err := rec.StateMap()
	if err != nil {
		return err
	}
	grade, maxGrade := caps.Scorer(state)
	rec.Grade = grade
	rec.MaxGrade = maxGrade
	if err := s.States.Save(rec); err != nil {
		s.countUnit(model.OpRescore, err)
		return err
	}
	s.Grading.InvalidateGradeCache(ctx, tree.CourseID, learnerID)
	s.countUnit(model.OpRescore, nil)
	return nil
}

// BulkRequest describes a bulk mutator submission.
type BulkRequest struct {
	Operation   string
	CourseID    string
	BlockID     string
	AllLearners bool
	LearnerID   *uint
	RequesterID uint
}

// SubmitBulk validates and registers a bulk operation, returning the task
// record to poll. Specifying both all-learners and a single learner is
// invalid; a duplicate in-flight operation is ErrAlreadyRunning.
func (s *AdminService) SubmitBulk(ctx context.Context, req BulkRequest) (*model.TaskRecord, error) {
	if req.AllLearners && req.LearnerID != nil {
		return nil, fmt.Errorf("%w: both all-learners and a single learner specified", util.ErrInvalidInput)
	}
	if !req.AllLearners && req.LearnerID == nil {
		return nil, fmt.Errorf("%w: neither all-learners nor a learner specified", util.ErrInvalidInput)
	}

	task := &model.TaskRecord{
		Operation:   req.Operation,
		CourseID:    req.CourseID,
		BlockID:     req.BlockID,
		LearnerID:   req.LearnerID,
		RequesterID: req.RequesterID,
	}

	key := repository.TaskKey(req.Operation, req.CourseID, req.BlockID, req.LearnerID)
	if !s.acquireLock(ctx, key) {
		return nil, util.ErrAlreadyRunning
	}
	if err := s.Tasks.Submit(task); err != nil {
		s.releaseLock(ctx, key)
		return nil, err
	}
	return task, nil
}

// RunBulk drives the fan-out: one unit of work per affected learner, each
// committing independently. Cancellation is honored between units; progress
// counters persist at every commit boundary.
func (s *AdminService) RunBulk(ctx context.Context, task *model.TaskRecord, tree *content.CourseTree) error {
	key := repository.TaskKey(task.Operation, task.CourseID, task.BlockID, task.LearnerID)
	defer s.releaseLock(ctx, key)

	learners, err := s.bulkLearners(task)
	if err != nil {
		s.Tasks.Finish(task, model.TaskStatusFailed)
		return err
	}
	if err := s.Tasks.MarkRunning(task, len(learners)); err != nil {
		return err
	}

	var collected []model.TaskError
	for _, learnerID := range learners {
		if s.Tasks.Canceled(task.ID) {
			logger.Log.Info("bulk operation canceled",
				zap.String("task", task.ID), zap.String("operation", task.Operation))
			return nil
		}
		task.Attempted++
		err := s.runUnit(ctx, task.Operation, tree, learnerID, task.BlockID)
		switch {
		case err == nil:
			task.Succeeded++
		case errors.Is(err, ErrRescoreSkipped), errors.Is(err, util.ErrNotFound):
			task.Skipped++
		default:
			task.Failed++
			if len(collected) < s.MaxReportedErrors {
				collected = append(collected, model.TaskError{
					Unit:    fmt.Sprintf("learner %d", learnerID),
					Message: err.Error(),
				})
			}
		}
		task.SetErrorList(collected)
		if err := s.Tasks.RecordProgress(task); err != nil {
			logger.Log.Error("failed to record task progress",
				zap.String("task", task.ID), zap.Error(err))
		}
	}

	status := model.TaskStatusSuccess
	if task.Failed > 0 && task.Succeeded == 0 {
		status = model.TaskStatusFailed
	}
	return s.Tasks.Finish(task, status)
}

func (s *AdminService) bulkLearners(task *model.TaskRecord) ([]uint, error) {
	if task.LearnerID != nil {
		return []uint{*task.LearnerID}, nil
	}
	return s.Enrollments.ActiveLearnerIDs(task.CourseID)
}

func (s *AdminService) runUnit(ctx context.Context, operation string, tree *content.CourseTree, learnerID uint, blockID string) error {
	switch operation {
	case model.OpBulkResetAttempts, model.OpResetAttempts:
		return s.ResetAttempts(ctx, tree.CourseID, learnerID, blockID)
	case model.OpBulkRescore, model.OpRescore:
		return s.Rescore(ctx, tree, learnerID, blockID)
	case model.OpDeleteState:
		return s.DeleteState(ctx, tree.CourseID, learnerID, blockID)
	case model.OpEntranceExamReset:
		return s.entranceExamUnit(ctx, tree, learnerID, false)
	case model.OpEntranceExamRescore:
		return s.entranceExamUnit(ctx, tree, learnerID, true)
	}
	return fmt.Errorf("%w: unknown operation %q", util.ErrInvalidInput, operation)
}

// entranceExamUnit applies reset or rescore to every graded leaf in the
// subtree rooted at the course's declared entrance exam.
func (s *AdminService) entranceExamUnit(ctx context.Context, tree *content.CourseTree, learnerID uint, rescore bool) error {
	exam, err := s.entranceExamRoot(tree)
	if err != nil {
		return err
	}
	var firstErr error
	for _, leaf := range tree.GradedLeaves(exam.Location) {
		var uerr error
		if rescore {
			uerr = s.Rescore(ctx, tree, learnerID, leaf.Block.Location.URL())
		} else {
			uerr = s.ResetAttempts(ctx, tree.CourseID, learnerID, leaf.Block.Location.URL())
		}
		// Leaves the learner never touched are fine; real failures surface.
		if uerr != nil && !errors.Is(uerr, util.ErrNotFound) && !errors.Is(uerr, ErrRescoreSkipped) && firstErr == nil {
			firstErr = uerr
		}
	}
	return firstErr
}

func (s *AdminService) entranceExamRoot(tree *content.CourseTree) (*content.Block, error) {
	if tree.EntranceExamID == "" {
		return nil, fmt.Errorf("%w: course declares no entrance exam", util.ErrNotFound)
	}
	exam, ok := tree.GetBlock(tree.EntranceExamID)
	if !ok {
		return nil, fmt.Errorf("%w: entrance exam %s does not resolve", util.ErrNotFound, tree.EntranceExamID)
	}
	return exam, nil
}

// SetDueExtension grants one learner an extended due date on one block. The
// extension must fall strictly after the authored start.
func (s *AdminService) SetDueExtension(ctx context.Context, tree *content.CourseTree, learnerID uint, blockID string, due time.Time) error {
	block, ok := tree.GetBlock(blockID)
	if !ok {
		return fmt.Errorf("%w: block %s", util.ErrNotFound, blockID)
	}
	if block.Start != nil && !due.After(*block.Start) {
		return fmt.Errorf("%w: %s is not after start %s", util.ErrInvalidDueDate, due, block.Start)
	}
	raw, err := json.Marshal(due)
	if err != nil {
		return err
	}
	if err := s.Fields.SetOverride(tree.CourseID, learnerID, blockID, "due", string(raw)); err != nil {
		return err
	}
	s.Grading.InvalidateGradeCache(ctx, tree.CourseID, learnerID)
	return nil
}

// ClearDueExtension removes the override so the authored due date applies
// again. Clearing an absent override is ErrNotFound.
func (s *AdminService) ClearDueExtension(ctx context.Context, tree *content.CourseTree, learnerID uint, blockID string) error {
	if err := s.Fields.DeleteOverride(tree.CourseID, learnerID, blockID, "due"); err != nil {
		return err
	}
	s.Grading.InvalidateGradeCache(ctx, tree.CourseID, learnerID)
	return nil
}

func (s *AdminService) countUnit(operation string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, util.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrRescoreSkipped):
		outcome = "skipped"
	default:
		outcome = "error"
	}
	monitoring.UnitsOfWork.WithLabelValues(operation, outcome).Inc()
}

const taskLockTTL = time.Hour

// acquireLock is the redis fast path for duplicate detection; the task table
// remains authoritative when redis is absent.
func (s *AdminService) acquireLock(ctx context.Context, key string) bool {
	if s.Redis == nil {
		return true
	}
	ok, err := s.Redis.SetNX(ctx, "task_lock:"+key, 1, taskLockTTL).Result()
	if err != nil {
		logger.Log.Warn("task lock unavailable, falling back to database dedup", zap.Error(err))
		return true
	}
	return ok
}

func (s *AdminService) releaseLock(ctx context.Context, key string) {
	if s.Redis == nil {
		return
	}
	s.Redis.Del(ctx, "task_lock:"+key)
}
