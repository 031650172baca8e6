// Package testutil provides shared test fixtures: an isolated in-memory
// database per test and a quiet logger.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"learner_state_engine/pkg/database"
	"learner_state_engine/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewDB opens a fresh in-memory database with the full schema. Each call gets
// its own database; the shared cache keeps it alive across the pool's
// connections for the test's duration.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	if logger.Log == nil {
		logger.Log = zap.NewNop()
	}

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}
