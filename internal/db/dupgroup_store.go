package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/goodpocket/curator/internal/dedup"
	"github.com/goodpocket/curator/internal/fingerprint"
)

// DupGroupStore owns duplicate group persistence. It implements dedup.Index.
type DupGroupStore struct {
	store *Store
}

// NewDupGroupStore creates a DupGroupStore.
func NewDupGroupStore(store *Store) *DupGroupStore {
	return &DupGroupStore{store: store}
}

var _ dedup.Index = (*DupGroupStore)(nil)

// CandidatesByBucket returns the owner's groups indexed under bucketKey.
func (s *DupGroupStore) CandidatesByBucket(ctx context.Context, owner uuid.UUID, bucketKey int64) ([]dedup.Candidate, error) {
	var groups []DupGroup
	err := s.store.DB.WithContext(ctx).
		Where("owner_id = ? AND bucket_key = ?", owner, bucketKey).
		Find(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("load bucket %d: %w", bucketKey, err)
	}
	out := make([]dedup.Candidate, 0, len(groups))
	for _, g := range groups {
		out = append(out, dedup.Candidate{
			GroupID:     g.ID,
			Fingerprint: fingerprint.FromSigned(g.Fingerprint),
		})
	}
	return out, nil
}

// CreateGroup creates a singleton group with the bookmark as representative
// and records the bookmark's membership in the same transaction.
func (s *DupGroupStore) CreateGroup(ctx context.Context, owner, representative uuid.UUID, fp uint64, bucketKey int64) (uuid.UUID, error) {
	group := DupGroup{
		OwnerID:          owner,
		RepresentativeID: representative,
		MemberCount:      1,
		BucketKey:        bucketKey,
		Fingerprint:      fingerprint.ToSigned(fp),
	}
	err := s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		if err := s.detach(tx, representative); err != nil {
			return err
		}
		return tx.Create(&DupMembership{BookmarkID: representative, GroupID: group.ID}).Error
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create dup group: %w", err)
	}
	return group.ID, nil
}

// AddMember adds the bookmark to the group. Any previous membership is
// replaced so a bookmark always belongs to exactly one group.
func (s *DupGroupStore) AddMember(ctx context.Context, groupID, bookmarkID uuid.UUID) error {
	return s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev DupMembership
		err := tx.First(&prev, "bookmark_id = ?", bookmarkID).Error
		switch {
		case err == nil:
			if prev.GroupID == groupID {
				return nil
			}
			if err := s.detach(tx, bookmarkID); err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first assignment
		default:
			return err
		}
		if err := tx.Create(&DupMembership{BookmarkID: bookmarkID, GroupID: groupID}).Error; err != nil {
			return err
		}
		return tx.Model(&DupGroup{}).Where("id = ?", groupID).
			Updates(map[string]interface{}{
				"member_count":     gorm.Expr("member_count + 1"),
				"updated_at_epoch": time.Now().UnixMilli(),
			}).Error
	})
}

// detach removes the bookmark's membership, if any, decrementing the old
// group's count, re-electing its representative when needed, and deleting the
// group when it empties. Runs inside the caller's transaction.
func (s *DupGroupStore) detach(tx *gorm.DB, bookmarkID uuid.UUID) error {
	var prev DupMembership
	err := tx.First(&prev, "bookmark_id = ?", bookmarkID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := tx.Delete(&DupMembership{}, "bookmark_id = ?", bookmarkID).Error; err != nil {
		return err
	}

	var group DupGroup
	if err := tx.First(&group, "id = ?", prev.GroupID).Error; err != nil {
		return err
	}
	if group.MemberCount <= 1 {
		return tx.Delete(&DupGroup{}, "id = ?", group.ID).Error
	}

	updates := map[string]interface{}{
		"member_count":     gorm.Expr("member_count - 1"),
		"updated_at_epoch": time.Now().UnixMilli(),
	}
	if group.RepresentativeID == bookmarkID {
		// Re-elect the oldest remaining member.
		var next Bookmark
		err := tx.
			Joins("JOIN bookmark_dup_map ON bookmark_dup_map.bookmark_id = bookmarks.id").
			Where("bookmark_dup_map.group_id = ?", group.ID).
			Order("bookmarks.created_at_epoch ASC, bookmarks.id ASC").
			First(&next).Error
		if err != nil {
			return fmt.Errorf("re-elect representative for group %s: %w", group.ID, err)
		}
		updates["representative_id"] = next.ID
	}
	return tx.Model(&DupGroup{}).Where("id = ?", group.ID).Updates(updates).Error
}

// RemoveMember drops the bookmark from its group, if any.
func (s *DupGroupStore) RemoveMember(ctx context.Context, bookmarkID uuid.UUID) error {
	return s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.detach(tx, bookmarkID)
	})
}

// GroupOf returns the bookmark's group id, or uuid.Nil when unassigned.
func (s *DupGroupStore) GroupOf(ctx context.Context, bookmarkID uuid.UUID) (uuid.UUID, error) {
	var m DupMembership
	err := s.store.DB.WithContext(ctx).First(&m, "bookmark_id = ?", bookmarkID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return m.GroupID, nil
}

// Get returns one group.
func (s *DupGroupStore) Get(ctx context.Context, id uuid.UUID) (*DupGroup, error) {
	var g DupGroup
	if err := s.store.DB.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// ListByOwner returns the owner's groups largest first, paginated. A minSize
// above 1 filters to groups with at least that many members.
func (s *DupGroupStore) ListByOwner(ctx context.Context, owner uuid.UUID, minSize int, page Page) ([]DupGroup, int64, error) {
	page = page.normalized()
	var total int64
	q := s.store.DB.WithContext(ctx).Model(&DupGroup{}).Where("owner_id = ?", owner)
	if minSize > 1 {
		q = q.Where("member_count >= ?", minSize)
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var groups []DupGroup
	err := q.Order("member_count DESC, id ASC").
		Offset(page.offset()).Limit(page.Size).
		Find(&groups).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list dup groups: %w", err)
	}
	return groups, total, nil
}

// Members returns the group's bookmarks oldest first, paginated.
func (s *DupGroupStore) Members(ctx context.Context, groupID uuid.UUID, page Page) ([]Bookmark, int64, error) {
	page = page.normalized()
	var total int64
	err := s.store.DB.WithContext(ctx).Model(&DupMembership{}).
		Where("group_id = ?", groupID).Count(&total).Error
	if err != nil {
		return nil, 0, err
	}
	var out []Bookmark
	err = s.store.DB.WithContext(ctx).
		Joins("JOIN bookmark_dup_map ON bookmark_dup_map.bookmark_id = bookmarks.id").
		Where("bookmark_dup_map.group_id = ?", groupID).
		Order("bookmarks.created_at_epoch ASC, bookmarks.id ASC").
		Offset(page.offset()).Limit(page.Size).
		Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list group members: %w", err)
	}
	return out, total, nil
}

// GroupDigest is the per-group feed for the topic builder: the group, its
// representative's domain, and the group's weighted tags.
type GroupDigest struct {
	Group  DupGroup
	Domain string
	Tags   map[string]float64
	Size   int
}

// DigestsByOwner assembles the topic builder's input for every group the
// owner has.
func (s *DupGroupStore) DigestsByOwner(ctx context.Context, owner uuid.UUID) ([]GroupDigest, error) {
	var groups []DupGroup
	err := s.store.DB.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("member_count DESC, id ASC").
		Find(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("load dup groups: %w", err)
	}

	out := make([]GroupDigest, 0, len(groups))
	for _, g := range groups {
		var rep Bookmark
		if err := s.store.DB.WithContext(ctx).First(&rep, "id = ?", g.RepresentativeID).Error; err != nil {
			return nil, fmt.Errorf("load representative %s: %w", g.RepresentativeID, err)
		}

		type tagRow struct {
			Label  string
			Weight float64
		}
		var rows []tagRow
		err := s.store.DB.WithContext(ctx).Model(&BookmarkTag{}).
			Select("tags.label AS label, SUM(bookmark_tags.weight) AS weight").
			Joins("JOIN tags ON tags.id = bookmark_tags.tag_id").
			Joins("JOIN bookmark_dup_map ON bookmark_dup_map.bookmark_id = bookmark_tags.bookmark_id").
			Where("bookmark_dup_map.group_id = ?", g.ID).
			Group("tags.label").
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("load group tags: %w", err)
		}
		tags := make(map[string]float64, len(rows))
		for _, r := range rows {
			tags[r.Label] = r.Weight
		}

		out = append(out, GroupDigest{
			Group:  g,
			Domain: rep.Domain,
			Tags:   tags,
			Size:   g.MemberCount,
		})
	}
	return out, nil
}

// MembershipsByOwner maps every bookmark of the owner to its group.
func (s *DupGroupStore) MembershipsByOwner(ctx context.Context, owner uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	var rows []DupMembership
	err := s.store.DB.WithContext(ctx).
		Joins("JOIN dup_groups ON dup_groups.id = bookmark_dup_map.group_id").
		Where("dup_groups.owner_id = ?", owner).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	out := make(map[uuid.UUID]uuid.UUID, len(rows))
	for _, r := range rows {
		out[r.BookmarkID] = r.GroupID
	}
	return out, nil
}

// CountByOwner returns the owner's group count.
func (s *DupGroupStore) CountByOwner(ctx context.Context, owner uuid.UUID) (int64, error) {
	var count int64
	err := s.store.DB.WithContext(ctx).Model(&DupGroup{}).
		Where("owner_id = ?", owner).Count(&count).Error
	return count, err
}
