package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"learner_state_engine/internal/config"
	"learner_state_engine/internal/model"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newCleaner(t *testing.T, db *gorm.DB) *CleanerService {
	t.Helper()
	cfg := config.CleanerConfig{
		BatchSize:  100,
		CursorPath: filepath.Join(t.TempDir(), "cleaner_cursor.json"),
	}
	return NewCleanerService(db, repository.NewHistoryRepository(db, nil), cfg, 500*time.Millisecond)
}

func seedSnapshot(t *testing.T, db *gorm.DB, recordID uint, at time.Time) uint {
	t.Helper()
	row := model.StateHistory{StateRecordID: recordID, State: "{}", CreatedAt: at}
	require.NoError(t, db.Create(&row).Error)
	return row.ID
}

func TestRedundantIDsKeepsNewestOfEveryBurst(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newCleaner(t, db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Two bursts: {0ms, 100ms} and {1s, 1.05s}. The newer row of each burst
	// survives, and so does the record's newest row.
	rows := []model.StateHistory{
		{ID: 1, CreatedAt: base},
		{ID: 2, CreatedAt: base.Add(100 * time.Millisecond)},
		{ID: 3, CreatedAt: base.Add(time.Second)},
		{ID: 4, CreatedAt: base.Add(1050 * time.Millisecond)},
	}
	assert.Equal(t, []uint{1, 3}, svc.RedundantIDs(rows))
}

func TestRedundantIDsDropsGapExactlyAtWindow(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newCleaner(t, db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Retained neighbors must end up strictly farther apart than the window,
	// so a gap exactly at the window still coalesces.
	rows := []model.StateHistory{
		{ID: 1, CreatedAt: base},
		{ID: 2, CreatedAt: base.Add(500 * time.Millisecond)},
		{ID: 3, CreatedAt: base.Add(1001 * time.Millisecond)},
	}
	assert.Equal(t, []uint{1}, svc.RedundantIDs(rows))
}

func TestRedundantIDsNeverSelectsTheNewestRow(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newCleaner(t, db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := []model.StateHistory{
		{ID: 1, CreatedAt: base},
		{ID: 2, CreatedAt: base.Add(10 * time.Millisecond)},
	}
	assert.Equal(t, []uint{1}, svc.RedundantIDs(rows))

	assert.Empty(t, svc.RedundantIDs(rows[1:]))
	assert.Empty(t, svc.RedundantIDs(nil))
}

func TestCleanRecordDeletesOnlyBurstRows(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newCleaner(t, db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	redundant := seedSnapshot(t, db, 1, base)
	kept := seedSnapshot(t, db, 1, base.Add(50*time.Millisecond))
	lone := seedSnapshot(t, db, 1, base.Add(10*time.Second))
	otherRecord := seedSnapshot(t, db, 2, base)

	n, err := svc.CleanRecord(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var remaining []uint
	require.NoError(t, db.Model(&model.StateHistory{}).Order("id ASC").Pluck("id", &remaining).Error)
	assert.Equal(t, []uint{kept, lone, otherRecord}, remaining)
	assert.NotContains(t, remaining, redundant)
}

func TestRunSweepsTableAndPersistsCursor(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newCleaner(t, db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Record 1 has a burst of three; record 5 is already clean.
	seedSnapshot(t, db, 1, base)
	seedSnapshot(t, db, 1, base.Add(100*time.Millisecond))
	seedSnapshot(t, db, 1, base.Add(200*time.Millisecond))
	seedSnapshot(t, db, 5, base)
	seedSnapshot(t, db, 5, base.Add(time.Minute))

	deleted, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	raw, err := os.ReadFile(svc.Config.CursorPath)
	require.NoError(t, err)
	var cursor struct {
		NextStateRecordID uint `json:"next_state_record_id"`
	}
	require.NoError(t, json.Unmarshal(raw, &cursor))
	assert.EqualValues(t, 5, cursor.NextStateRecordID)

	// A second run resumes past the cursor and finds nothing to do.
	deleted, err = svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestRunHonorsCancellation(t *testing.T) {
	db := testutil.NewDB(t)
	svc := newCleaner(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
