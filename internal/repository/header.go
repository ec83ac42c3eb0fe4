package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormHeaderRepository struct {
	db *gorm.DB
}

// NewHeaderRepository returns a HeaderRepository backed by the provided *gorm.DB.
func NewHeaderRepository(db *gorm.DB) HeaderRepository {
	return &gormHeaderRepository{db: db}
}

// Create appends a header to the log. Must run in the same transaction as
// the DatasetRepository.NextIDHeader call that produced h.IDHeader, and the
// ChangeRepository.CreateBatch call for its changes, so a header never
// commits without its changes or vice versa.
func (r *gormHeaderRepository) Create(ctx context.Context, tx Tx, h *db.Header) error {
	if err := tx.db.WithContext(ctx).Create(h).Error; err != nil {
		return fmt.Errorf("headers: create: %w", err)
	}
	return nil
}

// UpdateStatus re-persists h's status. Must run in the same transaction as
// any row-storage rollback it accompanies.
func (r *gormHeaderRepository) UpdateStatus(ctx context.Context, tx Tx, headerID uuid.UUID, status int) error {
	err := tx.db.WithContext(ctx).
		Model(&db.Header{}).
		Where("id = ?", headerID).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("headers: update status: %w", err)
	}
	return nil
}

func (r *gormHeaderRepository) ListSince(ctx context.Context, datasetID uuid.UUID, afterIDHeader uint64, limit int) ([]db.Header, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var items []db.Header
	err := r.db.WithContext(ctx).
		Where("dataset_id = ? AND id_header > ?", datasetID, afterIDHeader).
		Order("id_header ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("headers: list since: %w", err)
	}
	return items, nil
}

func (r *gormHeaderRepository) Latest(ctx context.Context, datasetID uuid.UUID) (*db.Header, error) {
	var h db.Header
	err := r.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("id_header DESC").
		First(&h).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("headers: latest: %w", err)
	}
	return &h, nil
}
