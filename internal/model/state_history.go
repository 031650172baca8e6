package model

import "time"

// StateHistory is one immutable snapshot of a state record, appended whenever
// the record is materially changed. Writes land here (the extended table);
// StateHistoryLegacy holds rows from before the table split and is read-only.
type StateHistory struct {
	ID            uint `gorm:"primaryKey;autoIncrement" json:"id"`
	StateRecordID uint `gorm:"index;not null" json:"stateRecordId"`
	// SourceID is the legacy row this one was copied from; nil on rows the
	// application wrote directly. The unique index keeps the copy job from
	// ever duplicating a legacy row.
	SourceID  *uint     `gorm:"uniqueIndex" json:"-"`
	State     string    `gorm:"type:text" json:"state"`
	Grade     *float64  `json:"grade"`
	MaxGrade  *float64  `json:"maxGrade"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

func (StateHistory) TableName() string {
	return "state_history_extended"
}

type StateHistoryLegacy struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	StateRecordID uint      `gorm:"index;not null" json:"stateRecordId"`
	State         string    `gorm:"type:text" json:"state"`
	Grade         *float64  `json:"grade"`
	MaxGrade      *float64  `json:"maxGrade"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}

func (StateHistoryLegacy) TableName() string {
	return "state_history"
}

// HistoryEntry is the union-read view over both history tables.
type HistoryEntry struct {
	ID            uint      `json:"id"`
	StateRecordID uint      `json:"stateRecordId"`
	State         string    `json:"state"`
	Grade         *float64  `json:"grade"`
	MaxGrade      *float64  `json:"maxGrade"`
	CreatedAt     time.Time `json:"createdAt"`
	Source        string    `json:"source"` // "legacy" or "extended"
}
