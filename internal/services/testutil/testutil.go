// Package testutil provides shared test utilities for packages that need a
// journal database.
package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bbernstein/lacylights-artnet/internal/database"
	"github.com/bbernstein/lacylights-artnet/internal/database/repositories"
)

// TestDB holds the test database and repositories.
type TestDB struct {
	DB       *gorm.DB
	Nodes    *repositories.NodeRepository
	Settings *repositories.SettingRepository
	Jobs     *repositories.FirmwareJobRepository
}

// SetupTestDB creates a migrated in-memory SQLite database that is closed
// when the test ends.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	return &TestDB{
		DB:       db,
		Nodes:    repositories.NewNodeRepository(db),
		Settings: repositories.NewSettingRepository(db),
		Jobs:     repositories.NewFirmwareJobRepository(db),
	}
}
