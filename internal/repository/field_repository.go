package repository

import (
	"errors"

	"learner_state_engine/internal/model"
	"learner_state_engine/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FieldRepository backs the non-user-state field scopes: per-block summaries,
// per-learner preferences and per-learner info, plus instructor overrides.
type FieldRepository struct {
	DB *gorm.DB
}

func NewFieldRepository(db *gorm.DB) *FieldRepository {
	return &FieldRepository{DB: db}
}

func (r *FieldRepository) GetSummary(blockID, field string) (string, error) {
	var rec model.FieldSummary
	err := r.DB.Where("block_id = ? AND field_name = ?", blockID, field).First(&rec).Error
	return valueOrNotFound(rec.Value, err)
}

func (r *FieldRepository) SetSummary(blockID, field, value string) error {
	rec := model.FieldSummary{BlockID: blockID, FieldName: field, Value: value}
	return r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "block_id"}, {Name: "field_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
}

func (r *FieldRepository) DeleteSummary(blockID, field string) error {
	res := r.DB.Where("block_id = ? AND field_name = ?", blockID, field).Delete(&model.FieldSummary{})
	return deletedOrNotFound(res)
}

func (r *FieldRepository) GetPreference(learnerID uint, moduleType, field string) (string, error) {
	var rec model.LearnerPreference
	err := r.DB.Where("learner_id = ? AND module_type = ? AND field_name = ?", learnerID, moduleType, field).
		First(&rec).Error
	return valueOrNotFound(rec.Value, err)
}

func (r *FieldRepository) SetPreference(learnerID uint, moduleType, field, value string) error {
	rec := model.LearnerPreference{LearnerID: learnerID, ModuleType: moduleType, FieldName: field, Value: value}
	return r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "learner_id"}, {Name: "module_type"}, {Name: "field_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
}

func (r *FieldRepository) DeletePreference(learnerID uint, moduleType, field string) error {
	res := r.DB.Where("learner_id = ? AND module_type = ? AND field_name = ?", learnerID, moduleType, field).
		Delete(&model.LearnerPreference{})
	return deletedOrNotFound(res)
}

func (r *FieldRepository) GetInfo(learnerID uint, field string) (string, error) {
	var rec model.LearnerInfo
	err := r.DB.Where("learner_id = ? AND field_name = ?", learnerID, field).First(&rec).Error
	return valueOrNotFound(rec.Value, err)
}

func (r *FieldRepository) SetInfo(learnerID uint, field, value string) error {
	rec := model.LearnerInfo{LearnerID: learnerID, FieldName: field, Value: value}
	return r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "learner_id"}, {Name: "field_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
}

func (r *FieldRepository) DeleteInfo(learnerID uint, field string) error {
	res := r.DB.Where("learner_id = ? AND field_name = ?", learnerID, field).Delete(&model.LearnerInfo{})
	return deletedOrNotFound(res)
}

// GetOverride returns the instructor-set value for (course, learner, block,
// field), or ErrNotFound.
func (r *FieldRepository) GetOverride(courseID string, learnerID uint, blockID, field string) (string, error) {
	var rec model.FieldOverride
	err := r.DB.Where(
		"course_id = ? AND learner_id = ? AND block_id = ? AND field_name = ?",
		courseID, learnerID, blockID, field,
	).First(&rec).Error
	return valueOrNotFound(rec.Value, err)
}

func (r *FieldRepository) SetOverride(courseID string, learnerID uint, blockID, field, value string) error {
	rec := model.FieldOverride{
		CourseID: courseID, LearnerID: learnerID, BlockID: blockID,
		FieldName: field, Value: value,
	}
	return r.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "course_id"}, {Name: "learner_id"}, {Name: "block_id"}, {Name: "field_name"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
}

// DeleteOverride clears the override so the authored value takes over again.
// Clearing an absent override is ErrNotFound.
func (r *FieldRepository) DeleteOverride(courseID string, learnerID uint, blockID, field string) error {
	res := r.DB.Where(
		"course_id = ? AND learner_id = ? AND block_id = ? AND field_name = ?",
		courseID, learnerID, blockID, field,
	).Delete(&model.FieldOverride{})
	return deletedOrNotFound(res)
}

func valueOrNotFound(value string, err error) (string, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", util.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func deletedOrNotFound(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrNotFound
	}
	return nil
}
