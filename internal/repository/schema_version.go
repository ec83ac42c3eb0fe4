package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormSchemaVersionRepository struct {
	db *gorm.DB
}

// NewSchemaVersionRepository returns a SchemaVersionRepository backed by the provided *gorm.DB.
func NewSchemaVersionRepository(db *gorm.DB) SchemaVersionRepository {
	return &gormSchemaVersionRepository{db: db}
}

func (r *gormSchemaVersionRepository) Create(ctx context.Context, v *db.SchemaVersion) error {
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("schema_versions: create: %w", err)
	}
	return nil
}

func (r *gormSchemaVersionRepository) Get(ctx context.Context, contextID uuid.UUID, number int) (*db.SchemaVersion, error) {
	var v db.SchemaVersion
	err := r.db.WithContext(ctx).
		First(&v, "context_id = ? AND number = ?", contextID, number).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("schema_versions: get: %w", err)
	}
	return &v, nil
}

func (r *gormSchemaVersionRepository) Latest(ctx context.Context, contextID uuid.UUID) (*db.SchemaVersion, error) {
	var v db.SchemaVersion
	err := r.db.WithContext(ctx).
		Where("context_id = ?", contextID).
		Order("number DESC").
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("schema_versions: latest: %w", err)
	}
	return &v, nil
}

func (r *gormSchemaVersionRepository) ListByContext(ctx context.Context, contextID uuid.UUID) ([]db.SchemaVersion, error) {
	var items []db.SchemaVersion
	err := r.db.WithContext(ctx).
		Where("context_id = ?", contextID).
		Order("number ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("schema_versions: list by context: %w", err)
	}
	return items, nil
}

// DeleteAbove removes all schema versions strictly above keep — used when a
// context downgrades its published version (spec §3) and when a context is
// dropped entirely (keep = -1 removes every version).
func (r *gormSchemaVersionRepository) DeleteAbove(ctx context.Context, contextID uuid.UUID, keep int) error {
	err := r.db.WithContext(ctx).
		Where("context_id = ? AND number > ?", contextID, keep).
		Delete(&db.SchemaVersion{}).Error
	if err != nil {
		return fmt.Errorf("schema_versions: delete above: %w", err)
	}
	return nil
}
