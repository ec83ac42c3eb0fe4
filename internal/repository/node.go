package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormNodeRepository struct {
	db *gorm.DB
}

// NewNodeRepository returns a NodeRepository backed by the provided *gorm.DB.
func NewNodeRepository(db *gorm.DB) NodeRepository {
	return &gormNodeRepository{db: db}
}

func (r *gormNodeRepository) Create(ctx context.Context, n *db.Node) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("nodes: create: %w", err)
	}
	return nil
}

func (r *gormNodeRepository) Get(ctx context.Context, userID, nodeID uuid.UUID) (*db.Node, error) {
	var n db.Node
	err := r.db.WithContext(ctx).
		First(&n, "user_id = ? AND id = ?", userID, nodeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("nodes: get: %w", err)
	}
	return &n, nil
}

func (r *gormNodeRepository) Update(ctx context.Context, n *db.Node) error {
	result := r.db.WithContext(ctx).Save(n)
	if result.Error != nil {
		return fmt.Errorf("nodes: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormNodeRepository) Delete(ctx context.Context, userID, nodeID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Delete(&db.Node{}, "user_id = ? AND id = ?", userID, nodeID)
	if result.Error != nil {
		return fmt.Errorf("nodes: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormNodeRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]db.Node, error) {
	var items []db.Node
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("nodes: list by user: %w", err)
	}
	return items, nil
}

func (r *gormNodeRepository) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&db.Node{}, "user_id = ?", userID).Error; err != nil {
		return fmt.Errorf("nodes: delete all for user: %w", err)
	}
	return nil
}
