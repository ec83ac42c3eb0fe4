package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormMemberRepository struct {
	db *gorm.DB
}

// NewMemberRepository returns a MemberRepository backed by the provided *gorm.DB.
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &gormMemberRepository{db: db}
}

func (r *gormMemberRepository) Create(ctx context.Context, m *db.Member) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("members: create: %w", err)
	}
	return nil
}

func (r *gormMemberRepository) Get(ctx context.Context, datasetID, userID uuid.UUID) (*db.Member, error) {
	var m db.Member
	err := r.db.WithContext(ctx).
		First(&m, "dataset_id = ? AND user_id = ?", datasetID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("members: get: %w", err)
	}
	return &m, nil
}

func (r *gormMemberRepository) Update(ctx context.Context, m *db.Member) error {
	result := r.db.WithContext(ctx).Save(m)
	if result.Error != nil {
		return fmt.Errorf("members: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormMemberRepository) Delete(ctx context.Context, datasetID, userID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Delete(&db.Member{}, "dataset_id = ? AND user_id = ?", datasetID, userID)
	if result.Error != nil {
		return fmt.Errorf("members: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormMemberRepository) ListByDataset(ctx context.Context, datasetID uuid.UUID, opts ListOptions) ([]db.Member, int64, error) {
	var (
		items []db.Member
		total int64
	)
	if err := r.db.WithContext(ctx).Model(&db.Member{}).
		Where("dataset_id = ?", datasetID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("members: count: %w", err)
	}
	err := r.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("created_at ASC").
		Limit(opts.limit()).
		Offset(opts.Offset).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("members: list by dataset: %w", err)
	}
	return items, total, nil
}

func (r *gormMemberRepository) ListByUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.Member, int64, error) {
	var (
		items []db.Member
		total int64
	)
	if err := r.db.WithContext(ctx).Model(&db.Member{}).
		Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("members: count: %w", err)
	}
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Limit(opts.limit()).
		Offset(opts.Offset).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("members: list by user: %w", err)
	}
	return items, total, nil
}

func (r *gormMemberRepository) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&db.Member{}, "user_id = ?", userID).Error; err != nil {
		return fmt.Errorf("members: delete all for user: %w", err)
	}
	return nil
}

func (r *gormMemberRepository) DeleteAllForDataset(ctx context.Context, datasetID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&db.Member{}, "dataset_id = ?", datasetID).Error; err != nil {
		return fmt.Errorf("members: delete all for dataset: %w", err)
	}
	return nil
}
