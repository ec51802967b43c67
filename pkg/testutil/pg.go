// Package testutil opens the Postgres database used by repository tests.
package testutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/you/event-booking/pkg/db"
)

// PG returns a gorm handle for TEST_DATABASE_DSN and skips the test when it
// is not set. Tables passed in are dropped before and after the test.
func PG(t *testing.T, tables ...any) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	gdb, err := db.Open(dsn)
	require.NoError(t, err)

	drop := func() {
		if len(tables) > 0 {
			_ = gdb.Migrator().DropTable(tables...)
		}
	}
	drop()
	t.Cleanup(func() {
		drop()
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
