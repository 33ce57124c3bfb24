// Package db provides GORM-based storage for curator.
package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/goodpocket/curator/pkg/models"
)

// GORM models. UUIDs are stored as text for sqlite/postgres portability;
// simhash values are stored signed (BIGINT) and masked back to uint64 in code.

// Bookmark is a saved URL with its derived indexing state.
type Bookmark struct {
	ID              uuid.UUID               `gorm:"type:text;primaryKey"`
	OwnerID         uuid.UUID               `gorm:"type:text;index:idx_bookmarks_owner_created,priority:1;not null"`
	URL             string                  `gorm:"type:text;not null"`
	Title           string                  `gorm:"type:text"`
	Domain          string                  `gorm:"type:text"`
	TextExcerpt     string                  `gorm:"type:text"`
	Simhash         sql.NullInt64           `gorm:"column:simhash64"`
	Status          models.BookmarkStatus   `gorm:"type:text;default:'pending';check:status IN ('pending', 'embedded', 'failed');index"`
	Embedding       models.JSONFloat32Array `gorm:"type:text"`
	CreatedAtEpoch  int64                   `gorm:"index:idx_bookmarks_owner_created,priority:2;not null"`
	EmbeddedAtEpoch sql.NullInt64
	UpdatedAtEpoch  int64 `gorm:"not null"`
}

func (Bookmark) TableName() string { return "bookmarks" }

// BeforeCreate hook to ensure id and timestamps are set.
func (b *Bookmark) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UnixMilli()
	if b.CreatedAtEpoch == 0 {
		b.CreatedAtEpoch = now
	}
	if b.UpdatedAtEpoch == 0 {
		b.UpdatedAtEpoch = now
	}
	if b.Status == "" {
		b.Status = models.BookmarkStatusPending
	}
	return nil
}

// DupGroup is a near-duplicate group. The representative is fixed once chosen
// and re-elected only when removed.
type DupGroup struct {
	ID               uuid.UUID `gorm:"type:text;primaryKey"`
	OwnerID          uuid.UUID `gorm:"type:text;index:idx_dup_groups_owner_bucket,priority:1;not null"`
	RepresentativeID uuid.UUID `gorm:"type:text;not null"`
	MemberCount      int       `gorm:"default:1;not null"`
	BucketKey        int64     `gorm:"index:idx_dup_groups_owner_bucket,priority:2;not null"`
	Fingerprint      int64     `gorm:"column:fingerprint64;not null"`
	UpdatedAtEpoch   int64     `gorm:"not null"`
}

func (DupGroup) TableName() string { return "dup_groups" }

// BeforeCreate hook to ensure id and timestamp are set.
func (g *DupGroup) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.UpdatedAtEpoch == 0 {
		g.UpdatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// DupMembership maps a bookmark to its single primary duplicate group.
type DupMembership struct {
	BookmarkID uuid.UUID `gorm:"type:text;primaryKey"`
	GroupID    uuid.UUID `gorm:"type:text;index:idx_dup_membership_group;not null"`
}

func (DupMembership) TableName() string { return "bookmark_dup_map" }

// Tag is a normalized tag label scoped to an owner.
type Tag struct {
	ID      uuid.UUID `gorm:"type:text;primaryKey"`
	OwnerID uuid.UUID `gorm:"type:text;uniqueIndex:idx_tags_owner_label,priority:1;not null"`
	Label   string    `gorm:"type:text;uniqueIndex:idx_tags_owner_label,priority:2;not null"`
}

func (Tag) TableName() string { return "tags" }

// BeforeCreate hook to ensure id is set.
func (t *Tag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// BookmarkTag links a bookmark to a tag with its rank weight.
type BookmarkTag struct {
	BookmarkID uuid.UUID `gorm:"type:text;uniqueIndex:idx_bookmark_tags_pair,priority:1;not null"`
	TagID      uuid.UUID `gorm:"type:text;uniqueIndex:idx_bookmark_tags_pair,priority:2;index;not null"`
	Weight     float64   `gorm:"type:real;not null"`
}

func (BookmarkTag) TableName() string { return "bookmark_tags" }

// ClusterAssignment is one bookmark's cluster for one snapshot version.
type ClusterAssignment struct {
	OwnerID    uuid.UUID `gorm:"type:text;index:idx_assignments_owner_version,priority:1;not null"`
	Version    int64     `gorm:"index:idx_assignments_owner_version,priority:2;not null"`
	BookmarkID uuid.UUID `gorm:"type:text;not null"`
	ClusterID  int       `gorm:"not null"`
	Label      string    `gorm:"type:text"`
}

func (ClusterAssignment) TableName() string { return "cluster_assignments" }

// ClusterSummary is one cluster's size and label for one snapshot version.
type ClusterSummary struct {
	OwnerID   uuid.UUID `gorm:"type:text;index:idx_cluster_summaries_owner_version,priority:1;not null"`
	Version   int64     `gorm:"index:idx_cluster_summaries_owner_version,priority:2;not null"`
	ClusterID int       `gorm:"not null"`
	Label     string    `gorm:"type:text"`
	Size      int       `gorm:"not null"`
}

func (ClusterSummary) TableName() string { return "cluster_summaries" }

// TopicNode is one node of a versioned topic tree.
type TopicNode struct {
	ID       uuid.UUID              `gorm:"type:text;primaryKey"`
	OwnerID  uuid.UUID              `gorm:"type:text;index:idx_topic_nodes_owner_version,priority:1;not null"`
	Version  int64                  `gorm:"index:idx_topic_nodes_owner_version,priority:2;not null"`
	ParentID sql.NullString         `gorm:"type:text"`
	Depth    int                    `gorm:"not null"`
	Label    string                 `gorm:"type:text"`
	GroupIDs models.JSONStringArray `gorm:"type:text"`
	Metrics  models.TopicMetrics    `gorm:"type:text"`
}

func (TopicNode) TableName() string { return "topic_nodes" }

// PublishedVersion points readers at the owner's current snapshot. Flipped
// atomically inside the publish transaction, never updated in place mid-build.
type PublishedVersion struct {
	OwnerID          uuid.UUID `gorm:"type:text;primaryKey"`
	Version          int64     `gorm:"not null"`
	PublishedAtEpoch int64     `gorm:"not null"`
}

func (PublishedVersion) TableName() string { return "published_versions" }

// BatchRun is one end-to-end pipeline pass for one owner.
type BatchRun struct {
	ID              uuid.UUID         `gorm:"type:text;primaryKey"`
	OwnerID         uuid.UUID         `gorm:"type:text;index:idx_batch_runs_owner,priority:1;not null"`
	Status          models.RunStatus  `gorm:"type:text;check:status IN ('running', 'succeeded', 'failed');index;not null"`
	Checkpoint      models.Checkpoint `gorm:"type:text"`
	Processed       int               `gorm:"default:0"`
	Embedded        int               `gorm:"default:0"`
	Failed          int               `gorm:"default:0"`
	Error           sql.NullString    `gorm:"type:text"`
	StartedAtEpoch  int64             `gorm:"index:idx_batch_runs_owner,priority:2,sort:desc;not null"`
	FinishedAtEpoch sql.NullInt64
}

func (BatchRun) TableName() string { return "batch_runs" }

// BeforeCreate hook to ensure id and start time are set.
func (r *BatchRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.StartedAtEpoch == 0 {
		r.StartedAtEpoch = time.Now().UnixMilli()
	}
	if r.Status == "" {
		r.Status = models.RunStatusRunning
	}
	return nil
}
