package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

// testStore creates a Store backed by a temporary sqlite file.
func testStore(t *testing.T) *Store {
	t.Helper()

	cfg := Config{
		URL:      filepath.Join(t.TempDir(), "test.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	}
	store, err := NewStore(cfg)
	require.NoError(t, err, "NewStore failed")
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Ping())

	var journalMode string
	err := store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error
	require.NoError(t, err)
	require.Equal(t, "wal", journalMode)

	tables := []string{
		"bookmarks",
		"dup_groups",
		"bookmark_dup_map",
		"tags",
		"bookmark_tags",
		"cluster_assignments",
		"cluster_summaries",
		"topic_nodes",
		"published_versions",
		"batch_runs",
	}
	for _, table := range tables {
		require.True(t, store.DB.Migrator().HasTable(table), "table %q does not exist", table)
	}
}
