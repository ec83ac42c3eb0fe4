package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormContextRepository struct {
	db *gorm.DB
}

// NewContextRepository returns a ContextRepository backed by the provided *gorm.DB.
func NewContextRepository(db *gorm.DB) ContextRepository {
	return &gormContextRepository{db: db}
}

func (r *gormContextRepository) Create(ctx context.Context, c *db.Context) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("contexts: create: %w", err)
	}
	return nil
}

func (r *gormContextRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Context, error) {
	var c db.Context
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("contexts: get by id: %w", err)
	}
	return &c, nil
}

func (r *gormContextRepository) GetByName(ctx context.Context, name string) (*db.Context, error) {
	var c db.Context
	err := r.db.WithContext(ctx).First(&c, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("contexts: get by name: %w", err)
	}
	return &c, nil
}

func (r *gormContextRepository) Update(ctx context.Context, c *db.Context) error {
	result := r.db.WithContext(ctx).Save(c)
	if result.Error != nil {
		return fmt.Errorf("contexts: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormContextRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Context{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("contexts: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormContextRepository) List(ctx context.Context, opts ListOptions) ([]db.Context, int64, error) {
	var (
		items []db.Context
		total int64
	)
	if err := r.db.WithContext(ctx).Model(&db.Context{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("contexts: count: %w", err)
	}
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Limit(opts.limit()).
		Offset(opts.Offset).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("contexts: list: %w", err)
	}
	return items, total, nil
}
