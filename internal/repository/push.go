package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormPushRepository struct {
	db *gorm.DB
}

// NewPushRepository returns a PushRepository backed by the provided *gorm.DB.
func NewPushRepository(db *gorm.DB) PushRepository {
	return &gormPushRepository{db: db}
}

func (r *gormPushRepository) Create(ctx context.Context, p *db.Push) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("pushes: create: %w", err)
	}
	return nil
}

func (r *gormPushRepository) GetByUUID(ctx context.Context, token string) (*db.Push, error) {
	var p db.Push
	err := r.db.WithContext(ctx).First(&p, "uuid = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pushes: get by uuid: %w", err)
	}
	return &p, nil
}

func (r *gormPushRepository) Update(ctx context.Context, p *db.Push) error {
	result := r.db.WithContext(ctx).Save(p)
	if result.Error != nil {
		return fmt.Errorf("pushes: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormPushRepository) Delete(ctx context.Context, token string) error {
	result := r.db.WithContext(ctx).Delete(&db.Push{}, "uuid = ?", token)
	if result.Error != nil {
		return fmt.Errorf("pushes: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormPushRepository) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]db.Push, error) {
	var items []db.Push
	if err := r.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("pushes: list by dataset: %w", err)
	}
	return items, nil
}

// DeleteExpired removes all push tokens whose Until has passed nowUnix.
// Intended to be called periodically by a background cleanup job (spec I6).
func (r *gormPushRepository) DeleteExpired(ctx context.Context, nowUnix int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("until < ?", nowUnix).
		Delete(&db.Push{})
	if result.Error != nil {
		return 0, fmt.Errorf("pushes: delete expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}
