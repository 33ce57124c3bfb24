package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/goodpocket/curator/pkg/models"
)

// ErrRunInProgress is reported when an owner already has a running batch.
var ErrRunInProgress = errors.New("db: batch run already in progress")

// BatchRunStore owns batch run bookkeeping.
type BatchRunStore struct {
	store *Store
}

// NewBatchRunStore creates a BatchRunStore.
func NewBatchRunStore(store *Store) *BatchRunStore {
	return &BatchRunStore{store: store}
}

// Begin creates a running run for the owner, resuming from the most recent
// failed run's checkpoint when one exists. At most one run per owner may be
// running; a second Begin reports ErrRunInProgress.
func (s *BatchRunStore) Begin(ctx context.Context, owner uuid.UUID) (*BatchRun, error) {
	var run *BatchRun
	err := s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var running int64
		err := tx.Model(&BatchRun{}).
			Where("owner_id = ? AND status = ?", owner, models.RunStatusRunning).
			Count(&running).Error
		if err != nil {
			return err
		}
		if running > 0 {
			return ErrRunInProgress
		}

		checkpoint, err := s.resumePoint(tx, owner)
		if err != nil {
			return err
		}
		run = &BatchRun{
			OwnerID:    owner,
			Status:     models.RunStatusRunning,
			Checkpoint: checkpoint,
		}
		return tx.Create(run).Error
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// resumePoint returns the failed predecessor's checkpoint, or the zero
// checkpoint when the owner's last run succeeded or no run exists.
func (s *BatchRunStore) resumePoint(tx *gorm.DB, owner uuid.UUID) (models.Checkpoint, error) {
	var last BatchRun
	err := tx.Where("owner_id = ?", owner).
		Order("started_at_epoch DESC, id DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Checkpoint{}, nil
	}
	if err != nil {
		return models.Checkpoint{}, err
	}
	if last.Status == models.RunStatusFailed {
		return last.Checkpoint, nil
	}
	return models.Checkpoint{}, nil
}

// SaveProgress persists the run's checkpoint and counters after a chunk.
func (s *BatchRunStore) SaveProgress(ctx context.Context, runID uuid.UUID, cp models.Checkpoint, processed, embedded, failed int) error {
	return s.store.DB.WithContext(ctx).Model(&BatchRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"checkpoint": cp,
			"processed":  processed,
			"embedded":   embedded,
			"failed":     failed,
		}).Error
}

// Finish marks the run succeeded or failed. A non-nil cause is recorded on
// the run.
func (s *BatchRunStore) Finish(ctx context.Context, runID uuid.UUID, status models.RunStatus, cause error) error {
	updates := map[string]interface{}{
		"status":            status,
		"finished_at_epoch": sql.NullInt64{Int64: time.Now().UnixMilli(), Valid: true},
	}
	if cause != nil {
		updates["error"] = sql.NullString{String: cause.Error(), Valid: true}
	}
	return s.store.DB.WithContext(ctx).Model(&BatchRun{}).
		Where("id = ?", runID).
		Updates(updates).Error
}

// Get returns one run.
func (s *BatchRunStore) Get(ctx context.Context, id uuid.UUID) (*BatchRun, error) {
	var run BatchRun
	if err := s.store.DB.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// Latest returns the owner's most recent run, or nil when none exists.
func (s *BatchRunStore) Latest(ctx context.Context, owner uuid.UUID) (*BatchRun, error) {
	var run BatchRun
	err := s.store.DB.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("started_at_epoch DESC, id DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	return &run, nil
}

// ListByOwner returns the owner's runs newest first, paginated.
func (s *BatchRunStore) ListByOwner(ctx context.Context, owner uuid.UUID, page Page) ([]BatchRun, int64, error) {
	page = page.normalized()
	var total int64
	q := s.store.DB.WithContext(ctx).Model(&BatchRun{}).Where("owner_id = ?", owner)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var runs []BatchRun
	err := q.Order("started_at_epoch DESC, id DESC").
		Offset(page.offset()).Limit(page.Size).
		Find(&runs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	return runs, total, nil
}
