package model

// FieldSummary serves content-runtime fields scoped to a block rather than a
// learner (e.g. poll tallies). Value is opaque JSON.
type FieldSummary struct {
	BaseModel
	BlockID   string `gorm:"uniqueIndex:uniq_summary_field;size:255;not null" json:"blockId"`
	FieldName string `gorm:"uniqueIndex:uniq_summary_field;size:64;not null" json:"fieldName"`
	Value     string `gorm:"type:text" json:"value"`
}

func (FieldSummary) TableName() string {
	return "field_summaries"
}

// LearnerPreference follows the learner across blocks of one module type
// (e.g. video speed).
type LearnerPreference struct {
	BaseModel
	LearnerID  uint   `gorm:"uniqueIndex:uniq_pref_field;not null" json:"learnerId"`
	ModuleType string `gorm:"uniqueIndex:uniq_pref_field;size:32;not null" json:"moduleType"`
	FieldName  string `gorm:"uniqueIndex:uniq_pref_field;size:64;not null" json:"fieldName"`
	Value      string `gorm:"type:text" json:"value"`
}

func (LearnerPreference) TableName() string {
	return "learner_preferences"
}

// LearnerInfo serves profile-scoped fields.
type LearnerInfo struct {
	BaseModel
	LearnerID uint   `gorm:"uniqueIndex:uniq_info_field;not null" json:"learnerId"`
	FieldName string `gorm:"uniqueIndex:uniq_info_field;size:64;not null" json:"fieldName"`
	Value     string `gorm:"type:text" json:"value"`
}

func (LearnerInfo) TableName() string {
	return "learner_info"
}

// FieldOverride holds an instructor-set value that wins over the authored
// default for one learner only, e.g. an extended due date.
type FieldOverride struct {
	BaseModel
	CourseID  string `gorm:"uniqueIndex:uniq_override_field;size:255;not null" json:"courseId"`
	LearnerID uint   `gorm:"uniqueIndex:uniq_override_field;not null" json:"learnerId"`
	BlockID   string `gorm:"uniqueIndex:uniq_override_field;size:255;not null" json:"blockId"`
	FieldName string `gorm:"uniqueIndex:uniq_override_field;size:64;not null" json:"fieldName"`
	Value     string `gorm:"type:text" json:"value"`
}

func (FieldOverride) TableName() string {
	return "field_overrides"
}
