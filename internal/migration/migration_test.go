package migration

import (
	"io/fs"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRunCreatesSQLiteSchema(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(conn, "sqlite"))
	for _, table := range []string{"ledger_entries", "app_settings", "import_runs"} {
		require.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestEmbeddedMigrationsPairUpAndDown(t *testing.T) {
	for _, dialect := range []string{"postgres", "mysql"} {
		ups, err := fs.Glob(embeddedMigrations, "migrations/"+dialect+"/*.up.sql")
		require.NoError(t, err)
		downs, err := fs.Glob(embeddedMigrations, "migrations/"+dialect+"/*.down.sql")
		require.NoError(t, err)
		require.NotEmpty(t, ups)
		require.Len(t, downs, len(ups))
	}
}
