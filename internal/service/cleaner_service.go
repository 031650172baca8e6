package service

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"learner_state_engine/internal/config"
	"learner_state_engine/internal/model"
	"learner_state_engine/internal/repository"
	"learner_state_engine/pkg/logger"
	"learner_state_engine/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CleanerService prunes rapid-save bursts from the extended history table.
// Within one state record's timeline a row is redundant when the next row
// landed inside the coalescing window; the newest row of every burst, and of
// the whole record, always survives.
type CleanerService struct {
	DB      *gorm.DB
	History *repository.HistoryRepository
	Config  config.CleanerConfig
	Window  time.Duration
}

func NewCleanerService(db *gorm.DB, history *repository.HistoryRepository, cfg config.CleanerConfig, window time.Duration) *CleanerService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &CleanerService{DB: db, History: history, Config: cfg, Window: window}
}

// cleanerCursor is the on-disk resume point: the next state record id to
// process. A crashed or failed run restarts from the last committed batch.
type cleanerCursor struct {
	NextStateRecordID uint `json:"next_state_record_id"`
}

func (s *CleanerService) loadCursor() uint {
	raw, err := os.ReadFile(s.Config.CursorPath)
	if err != nil {
		return 0
	}
	var c cleanerCursor
	if json.Unmarshal(raw, &c) != nil {
		return 0
	}
	return c.NextStateRecordID
}

func (s *CleanerService) saveCursor(next uint) error {
	raw, err := json.Marshal(cleanerCursor{NextStateRecordID: next})
	if err != nil {
		return err
	}
	return os.WriteFile(s.Config.CursorPath, raw, 0644)
}

// RedundantIDs picks the rows of one record's ordered timeline whose newer
// neighbor arrived within the window, boundary included: every retained
// consecutive pair ends up strictly farther apart than the window. The last
// row is never selected.
func (s *CleanerService) RedundantIDs(rows []model.StateHistory) []uint {
	var ids []uint
	for i := 0; i+1 < len(rows); i++ {
		if rows[i+1].CreatedAt.Sub(rows[i].CreatedAt) <= s.Window {
			ids = append(ids, rows[i].ID)
		}
	}
	return ids
}

// CleanRecord dedups one state record's history in a single transaction and
// returns the number of rows removed.
func (s *CleanerService) CleanRecord(stateRecordID uint) (int, error) {
	rows, err := s.History.OrderedForCleaning(stateRecordID)
	if err != nil {
		return 0, err
	}
	ids := s.RedundantIDs(rows)
	if len(ids) == 0 {
		return 0, nil
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		return s.History.DeleteBatch(tx, ids)
	})
	if err != nil {
		return 0, err
	}
	monitoring.CleanerDeleted.Add(float64(len(ids)))
	return len(ids), nil
}

// Run sweeps the whole table batch by batch, persisting the cursor after each
// successful batch and sleeping between them. A failing batch stops the run
// without advancing the cursor, so the next run retries it.
func (s *CleanerService) Run(ctx context.Context) (int, error) {
	cursor := s.loadCursor()
	deleted := 0
	for {
		select {
		case <-ctx.Done():
			return deleted, ctx.Err()
		default:
		}

		ids, err := s.History.StateRecordIDsAbove(cursor, s.Config.BatchSize)
		if err != nil {
			return deleted, err
		}
		if len(ids) == 0 {
			logger.Log.Info("history cleaner finished", zap.Int("deleted", deleted))
			return deleted, nil
		}

		for _, id := range ids {
			n, err := s.CleanRecord(id)
			if err != nil {
				logger.Log.Error("history cleaner batch failed, cursor not advanced",
					zap.Uint("stateRecord", id), zap.Error(err))
				return deleted, err
			}
			deleted += n
		}

		cursor = ids[len(ids)-1]
		if err := s.saveCursor(cursor); err != nil {
			return deleted, err
		}
		logger.Log.Info("history cleaner batch done",
			zap.Uint("cursor", cursor), zap.Int("deleted", deleted))

		if s.Config.SleepSeconds > 0 {
			select {
			case <-ctx.Done():
				return deleted, ctx.Err()
			case <-time.After(time.Duration(s.Config.SleepSeconds) * time.Second):
			}
		}
	}
}
