package db

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations applies all schema migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: bookmarks
		{
			ID: "001_bookmarks",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Bookmark{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("bookmarks")
			},
		},

		// Migration 002: duplicate groups and primary membership
		{
			ID: "002_dup_groups",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&DupGroup{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&DupMembership{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("dup_groups", "bookmark_dup_map")
			},
		},

		// Migration 003: tags with per-bookmark weights
		{
			ID: "003_tags",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Tag{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&BookmarkTag{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("tags", "bookmark_tags")
			},
		},

		// Migration 004: versioned snapshot tables
		{
			ID: "004_snapshots",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&ClusterAssignment{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&ClusterSummary{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&TopicNode{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&PublishedVersion{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					"cluster_assignments", "cluster_summaries", "topic_nodes", "published_versions")
			},
		},

		// Migration 005: batch runs
		{
			ID: "005_batch_runs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&BatchRun{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("batch_runs")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}
