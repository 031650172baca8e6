package repository

import (
	"errors"
	"fmt"

	"learner_state_engine/internal/model"
	"learner_state_engine/internal/util"

	"gorm.io/gorm"
)

// TaskRepository tracks administrative units of work. At most one
// non-terminal task may exist per task key; a duplicate submission surfaces
// as ErrAlreadyRunning.
type TaskRepository struct {
	DB *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{DB: db}
}

// TaskKey builds the dedup key for an operation.
func TaskKey(operation, courseID, blockID string, learnerID *uint) string {
	learner := "-"
	if learnerID != nil {
		learner = fmt.Sprint(*learnerID)
	}
	return fmt.Sprintf("%s|%s|%s|%s", operation, courseID, blockID, learner)
}

// Submit creates the task row unless a matching task is already in flight.
func (r *TaskRepository) Submit(task *model.TaskRecord) error {
	task.TaskKey = TaskKey(task.Operation, task.CourseID, task.BlockID, task.LearnerID)
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var existing model.TaskRecord
		err := tx.Where("task_key = ? AND status IN ?", task.TaskKey,
			[]string{model.TaskStatusPending, model.TaskStatusRunning}).
			First(&existing).Error
		if err == nil {
			return util.ErrAlreadyRunning
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		task.Status = model.TaskStatusPending
		return tx.Create(task).Error
	})
}

func (r *TaskRepository) Get(id string) (*model.TaskRecord, error) {
	var task model.TaskRecord
	err := r.DB.First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// MarkRunning flips pending -> running and records the fan-out size.
func (r *TaskRepository) MarkRunning(task *model.TaskRecord, total int) error {
	task.Status = model.TaskStatusRunning
	task.Total = total
	return r.DB.Model(task).Updates(map[string]interface{}{
		"status": task.Status,
		"total":  total,
	}).Error
}

// RecordProgress persists the counters at a unit commit boundary.
func (r *TaskRepository) RecordProgress(task *model.TaskRecord) error {
	return r.DB.Model(task).Updates(map[string]interface{}{
		"attempted": task.Attempted,
		"succeeded": task.Succeeded,
		"failed":    task.Failed,
		"skipped":   task.Skipped,
		"errors":    task.Errors,
	}).Error
}

// Finish writes the terminal status.
func (r *TaskRepository) Finish(task *model.TaskRecord, status string) error {
	task.Status = status
	return r.DB.Model(task).Updates(map[string]interface{}{
		"status":    status,
		"attempted": task.Attempted,
		"succeeded": task.Succeeded,
		"failed":    task.Failed,
		"skipped":   task.Skipped,
		"errors":    task.Errors,
	}).Error
}

// RequestCancel marks a running task canceled. In-flight units complete to
// their commit boundary; the driver stops scheduling new ones.
func (r *TaskRepository) RequestCancel(id string) error {
	res := r.DB.Model(&model.TaskRecord{}).
		Where("id = ? AND status IN ?", id, []string{model.TaskStatusPending, model.TaskStatusRunning}).
		Update("status", model.TaskStatusCanceled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrNotFound
	}
	return nil
}

// Canceled re-reads just the status flag, polled between units.
func (r *TaskRepository) Canceled(id string) bool {
	var task model.TaskRecord
	if err := r.DB.Select("status").First(&task, "id = ?", id).Error; err != nil {
		return false
	}
	return task.Status == model.TaskStatusCanceled
}
