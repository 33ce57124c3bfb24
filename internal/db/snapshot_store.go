package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/goodpocket/curator/internal/topic"
)

// ErrCorruptState is reported when a snapshot fails validation before
// publish. The previously published version stays live.
var ErrCorruptState = errors.New("db: snapshot failed validation")

// SnapshotStore owns versioned snapshot publication and the read surface
// over the published version.
type SnapshotStore struct {
	store *Store
}

// NewSnapshotStore creates a SnapshotStore.
func NewSnapshotStore(store *Store) *SnapshotStore {
	return &SnapshotStore{store: store}
}

// Snapshot is the output of one pipeline pass, staged for publication.
type Snapshot struct {
	Assignments []ClusterAssignment
	Summaries   []ClusterSummary
	Topics      []TopicNode
}

// Publish validates the snapshot, writes it under the owner's next version,
// flips the published pointer, and deletes the retired version, all in one
// transaction. Readers observe either the old version or the new one, never
// a mix.
func (s *SnapshotStore) Publish(ctx context.Context, owner uuid.UUID, snap Snapshot) (int64, error) {
	if err := validateSnapshot(snap); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	var version int64
	err := s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current PublishedVersion
		err := tx.First(&current, "owner_id = ?", owner).Error
		switch {
		case err == nil:
			version = current.Version + 1
		case errors.Is(err, gorm.ErrRecordNotFound):
			version = 1
		default:
			return err
		}

		for i := range snap.Assignments {
			snap.Assignments[i].OwnerID = owner
			snap.Assignments[i].Version = version
		}
		for i := range snap.Summaries {
			snap.Summaries[i].OwnerID = owner
			snap.Summaries[i].Version = version
		}
		for i := range snap.Topics {
			snap.Topics[i].OwnerID = owner
			snap.Topics[i].Version = version
		}

		if len(snap.Assignments) > 0 {
			if err := tx.CreateInBatches(snap.Assignments, 200).Error; err != nil {
				return err
			}
		}
		if len(snap.Summaries) > 0 {
			if err := tx.CreateInBatches(snap.Summaries, 200).Error; err != nil {
				return err
			}
		}
		if len(snap.Topics) > 0 {
			if err := tx.CreateInBatches(snap.Topics, 200).Error; err != nil {
				return err
			}
		}

		pointer := PublishedVersion{
			OwnerID:          owner,
			Version:          version,
			PublishedAtEpoch: time.Now().UnixMilli(),
		}
		if version == 1 {
			if err := tx.Create(&pointer).Error; err != nil {
				return err
			}
		} else {
			err := tx.Model(&PublishedVersion{}).
				Where("owner_id = ?", owner).
				Updates(map[string]interface{}{
					"version":            pointer.Version,
					"published_at_epoch": pointer.PublishedAtEpoch,
				}).Error
			if err != nil {
				return err
			}
			// Retire everything older than the new version.
			for _, model := range []interface{}{&ClusterAssignment{}, &ClusterSummary{}, &TopicNode{}} {
				if err := tx.Delete(model, "owner_id = ? AND version < ?", owner, version).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("publish snapshot: %w", err)
	}
	return version, nil
}

// validateSnapshot checks internal consistency before anything is written.
func validateSnapshot(snap Snapshot) error {
	clusters := make(map[int]bool, len(snap.Summaries))
	for _, sum := range snap.Summaries {
		if sum.Size < 1 {
			return fmt.Errorf("cluster %d has size %d", sum.ClusterID, sum.Size)
		}
		clusters[sum.ClusterID] = true
	}
	for _, a := range snap.Assignments {
		if a.ClusterID == topicNoiseCluster {
			continue
		}
		if !clusters[a.ClusterID] {
			return fmt.Errorf("assignment %s references unknown cluster %d", a.BookmarkID, a.ClusterID)
		}
	}

	nodes := make(map[uuid.UUID]TopicNode, len(snap.Topics))
	for _, n := range snap.Topics {
		nodes[n.ID] = n
	}
	childDocs := make(map[uuid.UUID]int)
	for _, n := range snap.Topics {
		if n.Depth < 0 || n.Depth >= topic.MaxDepth {
			return fmt.Errorf("topic %q at invalid depth %d", n.Label, n.Depth)
		}
		if !n.ParentID.Valid {
			if n.Depth != 0 {
				return fmt.Errorf("topic %q at depth %d has no parent", n.Label, n.Depth)
			}
			continue
		}
		parentID, err := uuid.Parse(n.ParentID.String)
		if err != nil {
			return fmt.Errorf("topic %q has malformed parent id: %v", n.Label, err)
		}
		parent, ok := nodes[parentID]
		if !ok {
			return fmt.Errorf("topic %q references unknown parent %s", n.Label, parentID)
		}
		if n.Depth != parent.Depth+1 {
			return fmt.Errorf("topic %q depth %d under parent at depth %d", n.Label, n.Depth, parent.Depth)
		}
		childDocs[parentID] += n.Metrics.DocCount
	}
	for id, sum := range childDocs {
		if parent, ok := nodes[id]; ok && parent.Metrics.DocCount < sum {
			return fmt.Errorf("topic %q doc_count %d below children total %d", parent.Label, parent.Metrics.DocCount, sum)
		}
	}
	return nil
}

// topicNoiseCluster mirrors cluster.Noise without importing the engine here.
const topicNoiseCluster = -1

// currentVersion reads the owner's published version inside tx, or 0 when
// nothing has been published.
func currentVersion(tx *gorm.DB, owner uuid.UUID) (int64, error) {
	var p PublishedVersion
	err := tx.First(&p, "owner_id = ?", owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return p.Version, nil
}

// CurrentVersion returns the owner's published version, or 0 when nothing
// has been published.
func (s *SnapshotStore) CurrentVersion(ctx context.Context, owner uuid.UUID) (int64, error) {
	return currentVersion(s.store.DB.WithContext(ctx), owner)
}

// TopicTree returns the published topic nodes, shallowest first, with the
// version they belong to. The pointer lookup and the row read happen in one
// transaction so a publish landing in between cannot strand the read on a
// retired version.
func (s *SnapshotStore) TopicTree(ctx context.Context, owner uuid.UUID) ([]TopicNode, int64, error) {
	var (
		nodes   []TopicNode
		version int64
	)
	err := s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		version, err = currentVersion(tx, owner)
		if err != nil || version == 0 {
			return err
		}
		return tx.Where("owner_id = ? AND version = ?", owner, version).
			Order("depth ASC, label ASC").
			Find(&nodes).Error
	})
	if err != nil {
		return nil, 0, fmt.Errorf("load topic tree: %w", err)
	}
	return nodes, version, nil
}

// ClusterSummaries returns the published cluster summaries largest first,
// paginated, with their version. Reads the same way TopicTree does.
func (s *SnapshotStore) ClusterSummaries(ctx context.Context, owner uuid.UUID, page Page) ([]ClusterSummary, int64, int64, error) {
	page = page.normalized()
	var (
		out     []ClusterSummary
		total   int64
		version int64
	)
	err := s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		version, err = currentVersion(tx, owner)
		if err != nil || version == 0 {
			return err
		}
		q := tx.Model(&ClusterSummary{}).
			Where("owner_id = ? AND version = ?", owner, version)
		if err := q.Count(&total).Error; err != nil {
			return err
		}
		return q.Order("size DESC, cluster_id ASC").
			Offset(page.offset()).Limit(page.Size).
			Find(&out).Error
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("list cluster summaries: %w", err)
	}
	return out, total, version, nil
}

// ClusterMembers returns the published assignments of one cluster, paginated.
func (s *SnapshotStore) ClusterMembers(ctx context.Context, owner uuid.UUID, clusterID int, page Page) ([]ClusterAssignment, int64, error) {
	page = page.normalized()
	var (
		out   []ClusterAssignment
		total int64
	)
	err := s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, err := currentVersion(tx, owner)
		if err != nil || version == 0 {
			return err
		}
		q := tx.Model(&ClusterAssignment{}).
			Where("owner_id = ? AND version = ? AND cluster_id = ?", owner, version, clusterID)
		if err := q.Count(&total).Error; err != nil {
			return err
		}
		return q.Order("bookmark_id ASC").
			Offset(page.offset()).Limit(page.Size).
			Find(&out).Error
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list cluster members: %w", err)
	}
	return out, total, nil
}
