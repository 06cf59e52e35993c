// Package dbtest opens throwaway databases for tests.
package dbtest

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/pysugar/trade-nexus/internal/db"
	"gorm.io/gorm"
)

// Open returns a migrated in-memory database private to t.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(t.Name()))
	database, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// Shared-cache memory databases report SQLITE_LOCKED under concurrent writers.
	if sqlDB, err := database.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return database
}
