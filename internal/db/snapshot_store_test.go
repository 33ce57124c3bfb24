package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodpocket/curator/pkg/models"
)

// testSnapshot builds a small valid snapshot: two clusters, one noise
// assignment, and a two-level topic tree.
func testSnapshot() Snapshot {
	rootID := uuid.New()
	child := func(label string, docs int) TopicNode {
		return TopicNode{
			ID:       uuid.New(),
			ParentID: sql.NullString{String: rootID.String(), Valid: true},
			Depth:    1,
			Label:    label,
			Metrics:  models.TopicMetrics{DocCount: docs, DupGroupCount: docs, TopTags: []string{label}},
		}
	}
	return Snapshot{
		Assignments: []ClusterAssignment{
			{BookmarkID: uuid.New(), ClusterID: 0, Label: "go"},
			{BookmarkID: uuid.New(), ClusterID: 0, Label: "go"},
			{BookmarkID: uuid.New(), ClusterID: 1, Label: "rust"},
			{BookmarkID: uuid.New(), ClusterID: -1},
		},
		Summaries: []ClusterSummary{
			{ClusterID: 0, Label: "go", Size: 2},
			{ClusterID: 1, Label: "rust", Size: 1},
		},
		Topics: []TopicNode{
			{
				ID:      rootID,
				Depth:   0,
				Label:   "all",
				Metrics: models.TopicMetrics{DocCount: 5, DupGroupCount: 4},
			},
			child("go.dev", 3),
			child("rust-lang.org", 2),
		},
	}
}

func TestSnapshotStore_FirstPublish(t *testing.T) {
	store := testStore(t)
	snapshots := NewSnapshotStore(store)
	ctx := context.Background()
	owner := uuid.New()

	version, err := snapshots.CurrentVersion(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	tree, treeVersion, err := snapshots.TopicTree(ctx, owner)
	require.NoError(t, err)
	assert.Nil(t, tree)
	assert.Equal(t, int64(0), treeVersion)

	version, err = snapshots.Publish(ctx, owner, testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	tree, treeVersion, err = snapshots.TopicTree(ctx, owner)
	require.NoError(t, err)
	require.Len(t, tree, 3)
	assert.Equal(t, int64(1), treeVersion)
	assert.Equal(t, "all", tree[0].Label)
	assert.Equal(t, 0, tree[0].Depth)

	summaries, total, sumVersion, err := snapshots.ClusterSummaries(ctx, owner, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), sumVersion)
	require.Len(t, summaries, 2)
	assert.Equal(t, "go", summaries[0].Label, "largest cluster first")

	members, total, err := snapshots.ClusterMembers(ctx, owner, 0, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, members, 2)
}

func TestSnapshotStore_RepublishRetiresOldVersion(t *testing.T) {
	store := testStore(t)
	snapshots := NewSnapshotStore(store)
	ctx := context.Background()
	owner := uuid.New()

	_, err := snapshots.Publish(ctx, owner, testSnapshot())
	require.NoError(t, err)

	next := testSnapshot()
	next.Summaries = next.Summaries[:1]
	next.Assignments = next.Assignments[:2]
	version, err := snapshots.Publish(ctx, owner, next)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	current, err := snapshots.CurrentVersion(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), current)

	// Retired rows are gone: only version 2 remains in every snapshot table.
	for _, model := range []interface{}{&ClusterAssignment{}, &ClusterSummary{}, &TopicNode{}} {
		var stale int64
		err := store.DB.Model(model).Where("owner_id = ? AND version < 2", owner).Count(&stale).Error
		require.NoError(t, err)
		assert.Equal(t, int64(0), stale)
	}

	summaries, total, sumVersion, err := snapshots.ClusterSummaries(ctx, owner, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(2), sumVersion)
	require.Len(t, summaries, 1)
	assert.Equal(t, "go", summaries[0].Label)
}

func TestSnapshotStore_CorruptSnapshotKeepsPublished(t *testing.T) {
	store := testStore(t)
	snapshots := NewSnapshotStore(store)
	ctx := context.Background()
	owner := uuid.New()

	_, err := snapshots.Publish(ctx, owner, testSnapshot())
	require.NoError(t, err)

	// Assignment pointing at a cluster with no summary.
	bad := testSnapshot()
	bad.Assignments = append(bad.Assignments, ClusterAssignment{BookmarkID: uuid.New(), ClusterID: 99})
	_, err = snapshots.Publish(ctx, owner, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptState))

	// The previously published version stays live and intact.
	current, err := snapshots.CurrentVersion(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
	tree, treeVersion, err := snapshots.TopicTree(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, tree, 3)
	assert.Equal(t, int64(1), treeVersion)
}

func TestSnapshotStore_ReadsMatchReturnedVersion(t *testing.T) {
	store := testStore(t)
	snapshots := NewSnapshotStore(store)
	ctx := context.Background()
	owner := uuid.New()

	_, err := snapshots.Publish(ctx, owner, testSnapshot())
	require.NoError(t, err)

	// Republish concurrently while hammering the read path. Every read must
	// see a version together with that version's rows: retired versions have
	// their rows deleted, so a torn read would come back empty.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			next := testSnapshot()
			_, err := snapshots.Publish(ctx, owner, next)
			assert.NoError(t, err)
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		tree, version, err := snapshots.TopicTree(ctx, owner)
		require.NoError(t, err)
		require.Positive(t, version)
		require.Len(t, tree, 3, "version %d published but its rows missing", version)

		summaries, total, version, err := snapshots.ClusterSummaries(ctx, owner, Page{})
		require.NoError(t, err)
		require.Positive(t, version)
		require.Equal(t, int64(2), total)
		require.Len(t, summaries, 2, "version %d published but its rows missing", version)
	}
}

func TestValidateSnapshot(t *testing.T) {
	t.Run("orphan parent", func(t *testing.T) {
		snap := testSnapshot()
		snap.Topics[1].ParentID = sql.NullString{String: uuid.New().String(), Valid: true}
		assert.Error(t, validateSnapshot(snap))
	})

	t.Run("depth gap", func(t *testing.T) {
		snap := testSnapshot()
		snap.Topics[1].Depth = 2
		assert.Error(t, validateSnapshot(snap))
	})

	t.Run("non-root without parent", func(t *testing.T) {
		snap := testSnapshot()
		snap.Topics[1].ParentID = sql.NullString{}
		assert.Error(t, validateSnapshot(snap))
	})

	t.Run("parent doc_count below children", func(t *testing.T) {
		snap := testSnapshot()
		snap.Topics[0].Metrics.DocCount = 1
		assert.Error(t, validateSnapshot(snap))
	})

	t.Run("empty cluster summary", func(t *testing.T) {
		snap := testSnapshot()
		snap.Summaries[0].Size = 0
		assert.Error(t, validateSnapshot(snap))
	})

	t.Run("noise assignments allowed", func(t *testing.T) {
		assert.NoError(t, validateSnapshot(testSnapshot()))
	})
}
