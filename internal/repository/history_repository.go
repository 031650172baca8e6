package repository

import (
	"sort"

	"learner_state_engine/internal/model"

	"gorm.io/gorm"
)

// HistoryFlags gates which physical history tables a read sees. Writes are
// not affected: they always land in the extended table.
//
//	extended  union   result
//	true      true    union of both tables
//	true      false   extended only
//	false     true    legacy only
//	false     false   empty
type HistoryFlags struct {
	ExtendedEnabled bool
	UnionEnabled    bool
}

// HistoryRepository reads the legacy and extended history tables as one log
// and migrates legacy rows forward.
type HistoryRepository struct {
	DB    *gorm.DB
	Flags func() HistoryFlags
}

func NewHistoryRepository(db *gorm.DB, flags func() HistoryFlags) *HistoryRepository {
	if flags == nil {
		flags = func() HistoryFlags { return HistoryFlags{ExtendedEnabled: true, UnionEnabled: true} }
	}
	return &HistoryRepository{DB: db, Flags: flags}
}

// ForStateRecords returns the merged history for the given state record ids,
// newest first, ordered by (created desc, id desc).
func (r *HistoryRepository) ForStateRecords(ids ...uint) ([]model.HistoryEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	flags := r.Flags()

	if !flags.ExtendedEnabled && !flags.UnionEnabled {
		return nil, nil
	}

	var entries []model.HistoryEntry
	if flags.ExtendedEnabled {
		var rows []model.StateHistory
		if err := r.DB.Where("state_record_id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			entries = append(entries, model.HistoryEntry{
				ID: row.ID, StateRecordID: row.StateRecordID, State: row.State,
				Grade: row.Grade, MaxGrade: row.MaxGrade, CreatedAt: row.CreatedAt,
				Source: "extended",
			})
		}
	}
	// Legacy is visible under union mode, and alone when extended is hidden.
	if flags.UnionEnabled {
		var rows []model.StateHistoryLegacy
		if err := r.DB.Where("state_record_id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			entries = append(entries, model.HistoryEntry{
				ID: row.ID, StateRecordID: row.StateRecordID, State: row.State,
				Grade: row.Grade, MaxGrade: row.MaxGrade, CreatedAt: row.CreatedAt,
				Source: "legacy",
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
	return entries, nil
}

// MigrateRange copies legacy rows with ids in [lowID, highID] into the
// extended table. Every copy records the legacy id in source_id, keeping
// migrated rows apart from rows the application writes directly, which get
// their own auto-assigned ids. It works in descending id order, chunked; on
// restart it resumes from just below the smallest source_id already present
// in the range. Legacy rows are never deleted. Returns the number of rows
// copied.
func (r *HistoryRepository) MigrateRange(lowID, highID uint, chunk int) (int, error) {
	if chunk <= 0 {
		chunk = 1000
	}

	// Resume point: the smallest legacy id already copied within this range.
	ceiling := highID
	var minMigrated *uint
	if err := r.DB.Model(&model.StateHistory{}).
		Where("source_id BETWEEN ? AND ?", lowID, highID).
		Select("MIN(source_id)").Scan(&minMigrated).Error; err != nil {
		return 0, err
	}
	if minMigrated != nil {
		if *minMigrated <= lowID {
			return 0, nil
		}
		ceiling = *minMigrated - 1
	}

	copied := 0
	for {
		var rows []model.StateHistoryLegacy
		if err := r.DB.Where("id BETWEEN ? AND ?", lowID, ceiling).
			Order("id DESC").Limit(chunk).Find(&rows).Error; err != nil {
			return copied, err
		}
		if len(rows) == 0 {
			return copied, nil
		}
		err := r.DB.Transaction(func(tx *gorm.DB) error {
			for _, row := range rows {
				sourceID := row.ID
				dst := model.StateHistory{
					StateRecordID: row.StateRecordID,
					SourceID:      &sourceID,
					State:         row.State,
					Grade:         row.Grade,
					MaxGrade:      row.MaxGrade,
					CreatedAt:     row.CreatedAt,
				}
				if err := tx.Create(&dst).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return copied, err
		}
		copied += len(rows)
		last := rows[len(rows)-1].ID
		if last <= lowID {
			return copied, nil
		}
		ceiling = last - 1
	}
}

// LegacyBounds returns the min and max row ids of the legacy table; ok is
// false when the table is empty.
func (r *HistoryRepository) LegacyBounds() (uint, uint, bool, error) {
	var bounds struct {
		Min *uint
		Max *uint
	}
	err := r.DB.Model(&model.StateHistoryLegacy{}).
		Select("MIN(id) AS min, MAX(id) AS max").Scan(&bounds).Error
	if err != nil {
		return 0, 0, false, err
	}
	if bounds.Min == nil || bounds.Max == nil {
		return 0, 0, false, nil
	}
	return *bounds.Min, *bounds.Max, true, nil
}

// OrderedForCleaning fetches every extended-table row of one state record
// ordered oldest first by (created, id), as the cleaner consumes it.
func (r *HistoryRepository) OrderedForCleaning(stateRecordID uint) ([]model.StateHistory, error) {
	var rows []model.StateHistory
	err := r.DB.Where("state_record_id = ?", stateRecordID).
		Order("created_at ASC, id ASC").Find(&rows).Error
	return rows, err
}

// DeleteBatch removes a set of history rows in one statement within tx.
func (r *HistoryRepository) DeleteBatch(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.Delete(&model.StateHistory{}, ids).Error
}

// StateRecordIDsAbove lists distinct state record ids present in the
// extended table with id > cursor, ascending, limited. Drives the cleaner's
// resumable outer loop.
func (r *HistoryRepository) StateRecordIDsAbove(cursor uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.DB.Model(&model.StateHistory{}).
		Where("state_record_id > ?", cursor).
		Distinct("state_record_id").
		Order("state_record_id ASC").
		Limit(limit).
		Pluck("state_record_id", &ids).Error
	return ids, err
}
