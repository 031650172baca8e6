// Deduplicates rapid-save bursts in the extended history table.
//
// Runs batch by batch with an on-disk cursor, so it is safe to stop and
// rerun; a killed run resumes from its last committed batch.
//
// Usage: go run ./scripts/clean_history [-window-ms 500] [-batch 100]
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"learner_state_engine/internal/config"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/service"
	"learner_state_engine/pkg/database"
	"learner_state_engine/pkg/logger"
)

func main() {
	windowMs := flag.Int("window-ms", 0, "coalescing window in milliseconds (0 = config value)")
	batch := flag.Int("batch", 0, "state records per batch (0 = config value)")
	flag.Parse()

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *windowMs > 0 {
		cfg.Cleaner.WindowMillis = *windowMs
	}
	if *batch > 0 {
		cfg.Cleaner.BatchSize = *batch
	}

	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	history := repository.NewHistoryRepository(db, nil)
	cleaner := service.NewCleanerService(db, history, cfg.Cleaner, cfg.CleanerWindow())

	start := time.Now()
	deleted, err := cleaner.Run(context.Background())
	if err != nil {
		log.Fatalf("Cleaner stopped after deleting %d rows: %v", deleted, err)
	}
	log.Printf("Deleted %d redundant history rows in %s", deleted, time.Since(start))
}
