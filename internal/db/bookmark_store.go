package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/goodpocket/curator/internal/urls"
	"github.com/goodpocket/curator/pkg/models"
)

// BookmarkStore owns bookmark persistence for the pipeline.
type BookmarkStore struct {
	store *Store
}

// NewBookmarkStore creates a BookmarkStore.
func NewBookmarkStore(store *Store) *BookmarkStore {
	return &BookmarkStore{store: store}
}

// Create inserts a bookmark. The URL is canonicalized at this boundary so
// credentials and tracking parameters never reach the database.
func (s *BookmarkStore) Create(ctx context.Context, b *Bookmark) error {
	b.URL = urls.Canonicalize(b.URL)
	return s.store.DB.WithContext(ctx).Create(b).Error
}

// Get returns one bookmark.
func (s *BookmarkStore) Get(ctx context.Context, id uuid.UUID) (*Bookmark, error) {
	var b Bookmark
	if err := s.store.DB.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// PendingChunk returns the next chunk of unprocessed bookmarks for the owner
// strictly after the cursor, in the stable pipeline order
// (created_at_epoch asc, id asc). Bookmarks needing a retry after a transient
// embedding failure are still pending and reappear here on the next pass.
func (s *BookmarkStore) PendingChunk(ctx context.Context, owner uuid.UUID, cursor models.Checkpoint, limit int) ([]Bookmark, error) {
	var out []Bookmark
	q := s.store.DB.WithContext(ctx).
		Where("owner_id = ? AND status = ?", owner, models.BookmarkStatusPending).
		Order("created_at_epoch ASC, id ASC").
		Limit(limit)
	if !cursor.Zero() {
		q = q.Where(
			"(created_at_epoch > ?) OR (created_at_epoch = ? AND id > ?)",
			cursor.CursorEpoch, cursor.CursorEpoch, cursor.CursorID,
		)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load pending chunk: %w", err)
	}
	return out, nil
}

// SetFingerprint records the derived fingerprint, domain, and excerpt.
func (s *BookmarkStore) SetFingerprint(ctx context.Context, id uuid.UUID, fp int64, domain, excerpt string) error {
	return s.store.DB.WithContext(ctx).Model(&Bookmark{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"simhash64":        fp,
			"domain":           domain,
			"text_excerpt":     excerpt,
			"updated_at_epoch": time.Now().UnixMilli(),
		}).Error
}

// MarkEmbedded stores the vector and flips the bookmark to embedded.
func (s *BookmarkStore) MarkEmbedded(ctx context.Context, id uuid.UUID, vector models.JSONFloat32Array) error {
	now := time.Now().UnixMilli()
	return s.store.DB.WithContext(ctx).Model(&Bookmark{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"embedding":         vector,
			"status":            models.BookmarkStatusEmbedded,
			"embedded_at_epoch": sql.NullInt64{Int64: now, Valid: true},
			"updated_at_epoch":  now,
		}).Error
}

// MarkFailed flips the bookmark to failed after a permanent embedding error.
func (s *BookmarkStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return s.store.DB.WithContext(ctx).Model(&Bookmark{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           models.BookmarkStatusFailed,
			"updated_at_epoch": time.Now().UnixMilli(),
		}).Error
}

// EmbeddedByOwner returns all embedded bookmarks for one owner in the stable
// pipeline order. Input to the cluster engine.
func (s *BookmarkStore) EmbeddedByOwner(ctx context.Context, owner uuid.UUID) ([]Bookmark, error) {
	var out []Bookmark
	err := s.store.DB.WithContext(ctx).
		Where("owner_id = ? AND status = ?", owner, models.BookmarkStatusEmbedded).
		Order("created_at_epoch ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load embedded bookmarks: %w", err)
	}
	return out, nil
}

// CountByStatus returns the owner's bookmark count in the given status.
func (s *BookmarkStore) CountByStatus(ctx context.Context, owner uuid.UUID, status models.BookmarkStatus) (int64, error) {
	var count int64
	err := s.store.DB.WithContext(ctx).Model(&Bookmark{}).
		Where("owner_id = ? AND status = ?", owner, status).
		Count(&count).Error
	return count, err
}

// OwnersWithPending lists owners that have pending bookmarks, for the
// scheduler.
func (s *BookmarkStore) OwnersWithPending(ctx context.Context) ([]uuid.UUID, error) {
	var owners []uuid.UUID
	err := s.store.DB.WithContext(ctx).Model(&Bookmark{}).
		Where("status = ?", models.BookmarkStatusPending).
		Distinct("owner_id").
		Order("owner_id ASC").
		Pluck("owner_id", &owners).Error
	if err != nil {
		return nil, fmt.Errorf("list owners with pending bookmarks: %w", err)
	}
	return owners, nil
}
