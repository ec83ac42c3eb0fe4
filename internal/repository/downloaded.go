package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormDownloadedRepository struct {
	db *gorm.DB
}

// NewDownloadedRepository returns a DownloadedRepository backed by the provided *gorm.DB.
func NewDownloadedRepository(db *gorm.DB) DownloadedRepository {
	return &gormDownloadedRepository{db: db}
}

func (r *gormDownloadedRepository) Get(ctx context.Context, nodeID, datasetID uuid.UUID) (*db.Downloaded, error) {
	var d db.Downloaded
	err := r.db.WithContext(ctx).
		First(&d, "node_id = ? AND dataset_id = ?", nodeID, datasetID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("downloaded: get: %w", err)
	}
	return &d, nil
}

// Upsert writes the resume cursor, inserting it the first time a node syncs
// a dataset and overwriting it on every later sync (spec §4.4).
func (r *gormDownloadedRepository) Upsert(ctx context.Context, d *db.Downloaded) error {
	return upsertDownloaded(ctx, r.db, d)
}

// UpsertTx is Upsert run against the caller's transaction.
func (r *gormDownloadedRepository) UpsertTx(ctx context.Context, tx Tx, d *db.Downloaded) error {
	return upsertDownloaded(ctx, tx.db, d)
}

func upsertDownloaded(ctx context.Context, conn *gorm.DB, d *db.Downloaded) error {
	err := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "node_id"}, {Name: "dataset_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_id_header", "last_author_id_node"}),
		}).
		Create(d).Error
	if err != nil {
		return fmt.Errorf("downloaded: upsert: %w", err)
	}
	return nil
}
