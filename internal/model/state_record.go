package model

import (
	"encoding/json"
	"time"
)

// Module types the engine knows about. Only "problem" carries a derivable
// grade; everything else stores opaque state.
const (
	ModuleTypeProblem = "problem"
	ModuleTypeVideo   = "video"
	ModuleTypeHTML    = "html"
	ModuleTypeCourse  = "course"
	ModuleTypeChapter = "chapter"
)

// StateRecord is the per-(learner, block) row: opaque serialized state plus
// the derived grade pair. One row exists per unique
// (learner, course, block, module type); it is created lazily on first write.
type StateRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	LearnerID  uint      `gorm:"uniqueIndex:uniq_state_identity;not null" json:"learnerId"`
	CourseID   string    `gorm:"uniqueIndex:uniq_state_identity;size:255;not null" json:"courseId"`
	BlockID    string    `gorm:"uniqueIndex:uniq_state_identity;size:255;not null" json:"blockId"`
	ModuleType string    `gorm:"uniqueIndex:uniq_state_identity;size:32;not null;default:'problem'" json:"moduleType"`
	State      string    `gorm:"type:text" json:"state"`
	Grade      *float64  `json:"grade"`
	MaxGrade   *float64  `json:"maxGrade"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (StateRecord) TableName() string {
	return "state_records"
}

// StateMap decodes the serialized state. An empty state decodes to an empty
// map so callers can mutate and write back.
func (r *StateRecord) StateMap() (map[string]interface{}, error) {
	if r.State == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(r.State), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetStateMap re-serializes the state, preserving unknown keys verbatim.
func (r *StateRecord) SetStateMap(m map[string]interface{}) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	r.State = string(raw)
	return nil
}

// SameContent reports whether the other row matches field for field,
// timestamps excluded. Used to decide whether a save is material and so must
// append a history row.
func (r *StateRecord) SameContent(other *StateRecord) bool {
	return r.State == other.State &&
		floatPtrEqual(r.Grade, other.Grade) &&
		floatPtrEqual(r.MaxGrade, other.MaxGrade)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Float64Ptr is a convenience for literal grades.
func Float64Ptr(v float64) *float64 { return &v }
