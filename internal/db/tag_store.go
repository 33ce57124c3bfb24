package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/goodpocket/curator/pkg/models"
)

// TagStore owns tag persistence.
type TagStore struct {
	store *Store
}

// NewTagStore creates a TagStore.
func NewTagStore(store *Store) *TagStore {
	return &TagStore{store: store}
}

// ReplaceTags sets the bookmark's tags to the given ranked list, assigning
// rank weights 1/(rank+1). Tags are created per owner on first use. Any
// previous tag links for the bookmark are dropped.
func (s *TagStore) ReplaceTags(ctx context.Context, owner, bookmarkID uuid.UUID, labels []string) error {
	return s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&BookmarkTag{}, "bookmark_id = ?", bookmarkID).Error; err != nil {
			return err
		}
		for rank, label := range labels {
			tagID, err := s.findOrCreate(tx, owner, label)
			if err != nil {
				return err
			}
			link := BookmarkTag{
				BookmarkID: bookmarkID,
				TagID:      tagID,
				Weight:     1.0 / float64(rank+1),
			}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *TagStore) findOrCreate(tx *gorm.DB, owner uuid.UUID, label string) (uuid.UUID, error) {
	var tag Tag
	err := tx.First(&tag, "owner_id = ? AND label = ?", owner, label).Error
	if err == nil {
		return tag.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, err
	}
	tag = Tag{OwnerID: owner, Label: label}
	if err := tx.Create(&tag).Error; err != nil {
		return uuid.Nil, fmt.Errorf("create tag %q: %w", label, err)
	}
	return tag.ID, nil
}

// TagsFor returns the bookmark's tags heaviest first.
func (s *TagStore) TagsFor(ctx context.Context, bookmarkID uuid.UUID) ([]models.TagWeight, error) {
	var rows []models.TagWeight
	err := s.store.DB.WithContext(ctx).Model(&BookmarkTag{}).
		Select("tags.label AS label, bookmark_tags.weight AS weight").
		Joins("JOIN tags ON tags.id = bookmark_tags.tag_id").
		Where("bookmark_tags.bookmark_id = ?", bookmarkID).
		Order("bookmark_tags.weight DESC, tags.label ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load bookmark tags: %w", err)
	}
	return rows, nil
}

// WeightedTagsFor aggregates tag weights across a set of bookmarks. Input to
// the label generator.
func (s *TagStore) WeightedTagsFor(ctx context.Context, bookmarkIDs []uuid.UUID) (map[string]float64, error) {
	if len(bookmarkIDs) == 0 {
		return map[string]float64{}, nil
	}
	type row struct {
		Label  string
		Weight float64
	}
	var rows []row
	err := s.store.DB.WithContext(ctx).Model(&BookmarkTag{}).
		Select("tags.label AS label, SUM(bookmark_tags.weight) AS weight").
		Joins("JOIN tags ON tags.id = bookmark_tags.tag_id").
		Where("bookmark_tags.bookmark_id IN ?", bookmarkIDs).
		Group("tags.label").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate tags: %w", err)
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Weight
	}
	return out, nil
}
