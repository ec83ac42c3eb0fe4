package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormDatasetRepository struct {
	db *gorm.DB
}

// NewDatasetRepository returns a DatasetRepository backed by the provided *gorm.DB.
func NewDatasetRepository(db *gorm.DB) DatasetRepository {
	return &gormDatasetRepository{db: db}
}

func (r *gormDatasetRepository) Create(ctx context.Context, d *db.Dataset) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("datasets: create: %w", err)
	}
	return nil
}

func (r *gormDatasetRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Dataset, error) {
	var d db.Dataset
	err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("datasets: get by id: %w", err)
	}
	return &d, nil
}

func (r *gormDatasetRepository) Update(ctx context.Context, d *db.Dataset) error {
	result := r.db.WithContext(ctx).Save(d)
	if result.Error != nil {
		return fmt.Errorf("datasets: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormDatasetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Dataset{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("datasets: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormDatasetRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, opts ListOptions) ([]db.Dataset, int64, error) {
	var (
		items []db.Dataset
		total int64
	)
	if err := r.db.WithContext(ctx).Model(&db.Dataset{}).
		Where("owner_id = ?", ownerID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("datasets: count: %w", err)
	}
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Limit(opts.limit()).
		Offset(opts.Offset).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("datasets: list by owner: %w", err)
	}
	return items, total, nil
}

// NextIDHeader increments the dataset's header counter and returns the new
// value. Must run inside a transaction obtained from Transactor.WithinTx:
// the UPDATE itself takes the row lock that serializes concurrent callers
// against the same dataset (spec I1, per-dataset idHeader is strictly
// monotonic) — avoids relying on a SELECT ... FOR UPDATE clause, which
// SQLite does not understand.
func (r *gormDatasetRepository) NextIDHeader(ctx context.Context, tx Tx, datasetID uuid.UUID) (uint64, error) {
	result := tx.db.WithContext(ctx).Model(&db.Dataset{}).
		Where("id = ?", datasetID).
		Update("id_header", gorm.Expr("id_header + 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("datasets: advance id_header: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, ErrNotFound
	}

	var d db.Dataset
	if err := tx.db.WithContext(ctx).First(&d, "id = ?", datasetID).Error; err != nil {
		return 0, fmt.Errorf("datasets: read back id_header: %w", err)
	}
	return d.IDHeader, nil
}
