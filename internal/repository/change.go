package repository

import (
	"context"
	"fmt"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormChangeRepository struct {
	db *gorm.DB
}

// NewChangeRepository returns a ChangeRepository backed by the provided *gorm.DB.
func NewChangeRepository(db *gorm.DB) ChangeRepository {
	return &gormChangeRepository{db: db}
}

func (r *gormChangeRepository) CreateBatch(ctx context.Context, tx Tx, changes []db.Change) error {
	if len(changes) == 0 {
		return nil
	}
	if err := tx.db.WithContext(ctx).Create(&changes).Error; err != nil {
		return fmt.Errorf("changes: create batch: %w", err)
	}
	return nil
}

func (r *gormChangeRepository) ListByHeader(ctx context.Context, datasetID uuid.UUID, idHeader uint64) ([]db.Change, error) {
	var items []db.Change
	err := r.db.WithContext(ctx).
		Where("dataset_id = ? AND id_header = ?", datasetID, idHeader).
		Order("id_change ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("changes: list by header: %w", err)
	}
	return items, nil
}
