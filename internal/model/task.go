package model

import "encoding/json"

// Task statuses. A bulk operation is submit-and-poll: submission returns the
// task id (or AlreadyRunning), results are fetched separately.
const (
	TaskStatusPending  = "pending"
	TaskStatusRunning  = "running"
	TaskStatusSuccess  = "success"
	TaskStatusFailed   = "failed"
	TaskStatusCanceled = "canceled"
)

// Result codes returned by administrative mutators.
const (
	ResultSuccess        = "success"
	ResultAlreadyRunning = "already_running"
	ResultInvalidInput   = "invalid_input"
	ResultNotFound       = "not_found"
	ResultForbidden      = "forbidden"
)

// Admin operations tracked as tasks.
const (
	OpResetAttempts        = "reset_attempts"
	OpDeleteState          = "delete_state"
	OpRescore              = "rescore"
	OpBulkResetAttempts    = "bulk_reset_attempts"
	OpBulkRescore          = "bulk_rescore"
	OpEntranceExamReset    = "entrance_exam_reset"
	OpEntranceExamRescore  = "entrance_exam_rescore"
	OpBulkEnroll           = "bulk_enroll"
	OpGradeReport          = "grade_report"
	OpHistoryMigration     = "history_migration"
	OpHistoryClean         = "history_clean"
	OpCourseIDRepair       = "course_id_repair"
)

// TaskRecord is one administrative unit-of-work fan-out. TaskKey is the
// dedup key: at most one non-terminal task may exist per
// (operation, course, block, learner).
type TaskRecord struct {
	UUIDBase
	Operation   string `gorm:"size:48;not null;index" json:"operation"`
	CourseID    string `gorm:"size:255;not null;index" json:"courseId"`
	BlockID     string `gorm:"size:255" json:"blockId"`
	LearnerID   *uint  `json:"learnerId"`
	TaskKey     string `gorm:"size:255;not null;index" json:"taskKey"`
	Status      string `gorm:"size:16;not null;default:'pending'" json:"status"`
	RequesterID uint   `gorm:"index" json:"requesterId"`

	// Progress counters, updated at commit points of each per-learner unit.
	Total     int `gorm:"default:0" json:"total"`
	Attempted int `gorm:"default:0" json:"attempted"`
	Succeeded int `gorm:"default:0" json:"succeeded"`
	Failed    int `gorm:"default:0" json:"failed"`
	Skipped   int `gorm:"default:0" json:"skipped"`

	// Errors holds the first N row/unit errors as a JSON array.
	Errors string `gorm:"type:text" json:"errors"`
}

func (TaskRecord) TableName() string {
	return "task_records"
}

// TaskError is one collected row-level failure.
type TaskError struct {
	Unit    string `json:"unit"`
	Message string `json:"message"`
}

func (t *TaskRecord) ErrorList() []TaskError {
	if t.Errors == "" {
		return nil
	}
	var errs []TaskError
	if json.Unmarshal([]byte(t.Errors), &errs) != nil {
		return nil
	}
	return errs
}

func (t *TaskRecord) SetErrorList(errs []TaskError) {
	raw, err := json.Marshal(errs)
	if err != nil {
		return
	}
	t.Errors = string(raw)
}

// Terminal reports whether the task has finished one way or another.
func (t *TaskRecord) Terminal() bool {
	switch t.Status {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusCanceled:
		return true
	}
	return false
}
