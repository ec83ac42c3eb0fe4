package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormUserRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a UserRepository backed by the provided *gorm.DB.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) Create(ctx context.Context, u *db.User) error {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("users: create: %w", err)
	}
	return nil
}

func (r *gormUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.User, error) {
	var u db.User
	err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users: get by id: %w", err)
	}
	return &u, nil
}

// GetByIdentifier looks a user up by its context-scoped identifier (the
// lowercase email address used for both local sign-in and Google sign-in).
func (r *gormUserRepository) GetByIdentifier(ctx context.Context, contextID uuid.UUID, identifier string) (*db.User, error) {
	var u db.User
	err := r.db.WithContext(ctx).
		First(&u, "context_id = ? AND identifier = ?", contextID, identifier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("users: get by identifier: %w", err)
	}
	return &u, nil
}

func (r *gormUserRepository) Update(ctx context.Context, u *db.User) error {
	result := r.db.WithContext(ctx).Save(u)
	if result.Error != nil {
		return fmt.Errorf("users: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.User{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("users: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormUserRepository) List(ctx context.Context, contextID uuid.UUID, opts ListOptions) ([]db.User, int64, error) {
	var (
		items []db.User
		total int64
	)
	if err := r.db.WithContext(ctx).Model(&db.User{}).
		Where("context_id = ?", contextID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}
	err := r.db.WithContext(ctx).
		Where("context_id = ?", contextID).
		Order("created_at ASC").
		Limit(opts.limit()).
		Offset(opts.Offset).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	return items, total, nil
}
