package repository

import (
	"errors"
	"fmt"

	"learner_state_engine/internal/model"
	"learner_state_engine/internal/util"
	"learner_state_engine/pkg/monitoring"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateRecordRepository owns the state rows and their history. Every
// materially-changing write appends exactly one history row in the same
// transaction; the history append is never skipped even when the state row
// later reverts (last writer wins on the row, history keeps both).
type StateRecordRepository struct {
	DB *gorm.DB
}

func NewStateRecordRepository(db *gorm.DB) *StateRecordRepository {
	return &StateRecordRepository{DB: db}
}

// Get loads the row for one (learner, course, block, module type) identity.
func (r *StateRecordRepository) Get(learnerID uint, courseID, blockID, moduleType string) (*model.StateRecord, error) {
	var rec model.StateRecord
	err := r.DB.Where(
		"learner_id = ? AND course_id = ? AND block_id = ? AND module_type = ?",
		learnerID, courseID, blockID, moduleType,
	).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAnyType loads the row for a (learner, course, block) regardless of
// module type. Administrative mutators address blocks without knowing it.
func (r *StateRecordRepository) GetAnyType(learnerID uint, courseID, blockID string) (*model.StateRecord, error) {
	var rec model.StateRecord
	err := r.DB.Where(
		"learner_id = ? AND course_id = ? AND block_id = ?",
		learnerID, courseID, blockID,
	).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetOrCreate returns the row, creating an empty one on first touch. The
// created row has empty state and no grade; creation emits the first history
// row once the caller saves actual content.
func (r *StateRecordRepository) GetOrCreate(learnerID uint, courseID, blockID, moduleType string) (*model.StateRecord, bool, error) {
	rec, err := r.Get(learnerID, courseID, blockID, moduleType)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, util.ErrNotFound) {
		return nil, false, err
	}

	rec = &model.StateRecord{
		LearnerID:  learnerID,
		CourseID:   courseID,
		BlockID:    blockID,
		ModuleType: moduleType,
	}
	// A concurrent first write may beat us to the insert; fall back to the
	// winner's row.
	if err := r.DB.Create(rec).Error; err != nil {
		existing, getErr := r.Get(learnerID, courseID, blockID, moduleType)
		if getErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}

// Save persists the caller's mutations to rec. Writes are serialized per row
// via a SELECT ... FOR UPDATE; a material change (state, grade or max_grade
// differ from the committed row) appends one history snapshot of the new
// content inside the same transaction.
func (r *StateRecordRepository) Save(rec *model.StateRecord) error {
	if err := validateGrades(rec); err != nil {
		return err
	}
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var current model.StateRecord
		err := lockForUpdate(tx).First(&current, rec.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrNotFound
		}
		if err != nil {
			return err
		}

		material := !current.SameContent(rec)
		if err := tx.Model(rec).Select("state", "grade", "max_grade", "updated_at").
			Updates(map[string]interface{}{
				"state":     rec.State,
				"grade":     rec.Grade,
				"max_grade": rec.MaxGrade,
			}).Error; err != nil {
			return err
		}
		if material {
			if err := appendHistory(tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveInitial writes the first real content of a freshly created row and
// appends its first history snapshot.
func (r *StateRecordRepository) SaveInitial(rec *model.StateRecord) error {
	if err := validateGrades(rec); err != nil {
		return err
	}
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(rec).Error; err != nil {
			return err
		}
		return appendHistory(tx, rec)
	})
}

// Delete removes the row after appending a terminal history snapshot of the
// pre-delete content. This is the only deletion path for learner state.
func (r *StateRecordRepository) Delete(rec *model.StateRecord) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var current model.StateRecord
		err := lockForUpdate(tx).First(&current, rec.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := appendHistory(tx, &current); err != nil {
			return err
		}
		return tx.Delete(&model.StateRecord{}, rec.ID).Error
	})
}

// ForBlockSet fetches every row a single render of blockIDs would touch, in
// one query. The request cache warms itself through this.
func (r *StateRecordRepository) ForBlockSet(learnerID uint, courseID string, blockIDs []string) ([]model.StateRecord, error) {
	if len(blockIDs) == 0 {
		return nil, nil
	}
	var recs []model.StateRecord
	err := r.DB.Where("learner_id = ? AND course_id = ? AND block_id IN ?", learnerID, courseID, blockIDs).
		Find(&recs).Error
	return recs, err
}

// ForLearnerCourse fetches every state row for one learner in one course.
func (r *StateRecordRepository) ForLearnerCourse(learnerID uint, courseID string) ([]model.StateRecord, error) {
	var recs []model.StateRecord
	err := r.DB.Where("learner_id = ? AND course_id = ?", learnerID, courseID).Find(&recs).Error
	return recs, err
}

// LearnersWithState returns the learner ids holding state for a block,
// for bulk fan-out.
func (r *StateRecordRepository) LearnersWithState(courseID, blockID string) ([]uint, error) {
	var ids []uint
	err := r.DB.Model(&model.StateRecord{}).
		Where("course_id = ? AND block_id = ?", courseID, blockID).
		Distinct().Pluck("learner_id", &ids).Error
	return ids, err
}

// DirtyCourseRows returns rows whose course id carries the historical
// trailing-newline corruption.
func (r *StateRecordRepository) DirtyCourseRows() ([]model.StateRecord, error) {
	var recs []model.StateRecord
	err := r.DB.Where("course_id LIKE ?", "%\n").Find(&recs).Error
	return recs, err
}

// Twin returns the clean counterpart of a dirty row: same learner, block and
// module type under the newline-stripped course id. Nil when absent.
func (r *StateRecordRepository) Twin(dirty *model.StateRecord, cleanCourseID string) (*model.StateRecord, error) {
	var twin model.StateRecord
	err := r.DB.Where(
		"learner_id = ? AND course_id = ? AND block_id = ? AND module_type = ?",
		dirty.LearnerID, cleanCourseID, dirty.BlockID, dirty.ModuleType,
	).First(&twin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &twin, nil
}

// lockForUpdate serializes per-row writers. SQLite has no row locks; its
// single-writer model serializes transactions anyway.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func validateGrades(rec *model.StateRecord) error {
	if rec.Grade != nil {
		if rec.MaxGrade == nil {
			return fmt.Errorf("%w: grade set without max_grade", util.ErrInvalidInput)
		}
		if *rec.Grade > *rec.MaxGrade {
			return fmt.Errorf("%w: grade %v exceeds max_grade %v", util.ErrInvalidInput, *rec.Grade, *rec.MaxGrade)
		}
		if *rec.Grade < 0 || *rec.MaxGrade <= 0 {
			return fmt.Errorf("%w: grade pair (%v, %v) out of range", util.ErrInvalidInput, *rec.Grade, *rec.MaxGrade)
		}
	}
	return nil
}

func appendHistory(tx *gorm.DB, rec *model.StateRecord) error {
	row := model.StateHistory{
		StateRecordID: rec.ID,
		State:         rec.State,
		Grade:         rec.Grade,
		MaxGrade:      rec.MaxGrade,
	}
	if err := tx.Create(&row).Error; err != nil {
		return err
	}
	monitoring.HistoryAppends.Inc()
	return nil
}
