// Repairs state rows whose course id carries a trailing newline.
//
// Each dirty row is renamed, merged with its clean twin, or archived under a
// ticket-tagged run; one transaction per row, so reruns only see what is
// still dirty.
//
// Usage: go run ./scripts/fix_course_ids -ticket OPS-1234
package main

import (
	"flag"
	"log"

	"learner_state_engine/internal/config"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/service"
	"learner_state_engine/pkg/database"
	"learner_state_engine/pkg/logger"
)

func main() {
	ticket := flag.String("ticket", "", "tracking ticket used to tag archived rows (required)")
	flag.Parse()
	if *ticket == "" {
		log.Fatal("-ticket is required")
	}

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

	states := repository.NewStateRecordRepository(db)
	repair := service.NewRepairService(db, states, *ticket)

	report, err := repair.Run()
	if err != nil {
		log.Fatalf("Repair failed: %v", err)
	}
	log.Printf("Repaired %d dirty rows: %d renamed, %d merged, %d archived, %d failed",
		report.Total, report.Renamed, report.Merged, report.Archived, report.Failed)
}
