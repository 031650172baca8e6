package service

import (
	"context"
	"sync"

	"learner_state_engine/internal/repository"
	"learner_state_engine/pkg/logger"

	"go.uber.org/zap"
)

// MigrationService drives the legacy-to-extended history copy. The legacy id
// space is split into disjoint ranges, one worker per range; each range is
// independently resumable, so a killed run picks up where it stopped.
type MigrationService struct {
	History *repository.HistoryRepository
	Chunk   int
	Workers int
}

func NewMigrationService(history *repository.HistoryRepository, chunk, workers int) *MigrationService {
	if chunk <= 0 {
		chunk = 1000
	}
	if workers <= 0 {
		workers = 1
	}
	return &MigrationService{History: history, Chunk: chunk, Workers: workers}
}

// MigrationResult reports one finished run.
type MigrationResult struct {
	Copied int      `json:"copied"`
	Ranges int      `json:"ranges"`
	Errors []string `json:"errors,omitempty"`
}

// Run migrates the whole legacy table. Copies record the legacy row id as
// their source and never delete legacy rows, so reruns are harmless.
func (s *MigrationService) Run(ctx context.Context) (*MigrationResult, error) {
	low, high, ok, err := s.History.LegacyBounds()
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Log.Info("legacy history table is empty, nothing to migrate")
		return &MigrationResult{}, nil
	}
	return s.RunRange(ctx, low, high)
}

// RunRange migrates legacy rows with ids in [lowID, highID], split across the
// configured workers.
func (s *MigrationService) RunRange(ctx context.Context, lowID, highID uint) (*MigrationResult, error) {
	ranges := splitRange(lowID, highID, s.Workers)
	result := &MigrationResult{Ranges: len(ranges)}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, rg := range ranges {
		wg.Add(1)
		go func(low, high uint) {
			defer wg.Done()
			copied, err := s.History.MigrateRange(low, high, s.Chunk)
			mu.Lock()
			defer mu.Unlock()
			result.Copied += copied
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
				logger.Log.Error("history migration range failed",
					zap.Uint("low", low), zap.Uint("high", high), zap.Error(err))
				return
			}
			logger.Log.Info("history migration range done",
				zap.Uint("low", low), zap.Uint("high", high), zap.Int("copied", copied))
		}(rg[0], rg[1])
	}
	wg.Wait()
	return result, nil
}

// splitRange carves [low, high] into up to n disjoint inclusive subranges.
func splitRange(low, high uint, n int) [][2]uint {
	if high < low {
		return nil
	}
	total := high - low + 1
	if n <= 1 || uint(n) >= total {
		return [][2]uint{{low, high}}
	}
	size := total / uint(n)
	var ranges [][2]uint
	start := low
	for i := 0; i < n; i++ {
		end := start + size - 1
		if i == n-1 || end > high {
			end = high
		}
		ranges = append(ranges, [2]uint{start, end})
		if end == high {
			break
		}
		start = end + 1
	}
	return ranges
}
