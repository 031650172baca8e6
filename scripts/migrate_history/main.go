// Copies legacy history rows into the extended table.
//
// Each copy records its legacy source id and legacy rows are never deleted,
// so the copy is idempotent; a killed run resumes below the smallest
// already-migrated source id of each worker's range.
//
// Usage: go run ./scripts/migrate_history [-workers 4] [-low N -high M]
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
	workers := flag.Int("workers", 4, "parallel range workers")
	low := flag.Uint("low", 0, "lowest legacy id to migrate (0 = table minimum)")
	high := flag.Uint("high", 0, "highest legacy id to migrate (0 = table maximum)")
	flag.Parse()

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	history := repository.NewHistoryRepository(db, nil)
	migration := service.NewMigrationService(history, cfg.History.MigrateChunk, *workers)

	start := time.Now()
	var result *service.MigrationResult
	if *low > 0 || *high > 0 {
		result, err = migration.RunRange(context.Background(), *low, *high)
	} else {
		result, err = migration.Run(context.Background())
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Copied %d rows across %d ranges in %s", result.Copied, result.Ranges, time.Since(start))
	for _, msg := range result.Errors {
		log.Printf("range error: %s", msg)
	}
}
