// Package repository implements the data-access layer over internal/db's
// GORM models: one interface plus one gorm-backed implementation per table,
// following the same Create/GetByID/Update/Delete/List shape throughout.
package repository

import (
	"context"
	"errors"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/google/uuid"
)

// ErrNotFound is returned by repository methods when the requested record
// does not exist. Callers should check with errors.Is.
var ErrNotFound = errors.New("record not found")

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return 100
	}
	return o.Limit
}

// ContextRepository manages tenant/application namespaces.
type ContextRepository interface {
	Create(ctx context.Context, c *db.Context) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Context, error)
	GetByName(ctx context.Context, name string) (*db.Context, error)
	Update(ctx context.Context, c *db.Context) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.Context, int64, error)
}

// SchemaVersionRepository manages immutable schema snapshots.
type SchemaVersionRepository interface {
	Create(ctx context.Context, v *db.SchemaVersion) error
	Get(ctx context.Context, contextID uuid.UUID, number int) (*db.SchemaVersion, error)
	Latest(ctx context.Context, contextID uuid.UUID) (*db.SchemaVersion, error)
	ListByContext(ctx context.Context, contextID uuid.UUID) ([]db.SchemaVersion, error)
	// DeleteAbove removes every schema version strictly greater than keep
	// (spec §3: "downgrade discards all versions > edited").
	DeleteAbove(ctx context.Context, contextID uuid.UUID, keep int) error
}

// UserRepository manages local and federated user accounts.
type UserRepository interface {
	Create(ctx context.Context, u *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetByIdentifier(ctx context.Context, contextID uuid.UUID, identifier string) (*db.User, error)
	Update(ctx context.Context, u *db.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, contextID uuid.UUID, opts ListOptions) ([]db.User, int64, error)
}

// NodeRepository manages devices registered to users.
type NodeRepository interface {
	Create(ctx context.Context, n *db.Node) error
	Get(ctx context.Context, userID, nodeID uuid.UUID) (*db.Node, error)
	Update(ctx context.Context, n *db.Node) error
	Delete(ctx context.Context, userID, nodeID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]db.Node, error)
	// DeleteAllForUser removes every node belonging to userID (sign-off cascade).
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) error
}

// DatasetRepository manages shared-row containers.
type DatasetRepository interface {
	Create(ctx context.Context, d *db.Dataset) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Dataset, error)
	Update(ctx context.Context, d *db.Dataset) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, opts ListOptions) ([]db.Dataset, int64, error)
	// NextIDHeader atomically increments and returns the dataset's header
	// counter inside the given transaction.
	NextIDHeader(ctx context.Context, tx Tx, datasetID uuid.UUID) (uint64, error)
}

// MemberRepository manages per-dataset membership and roles.
type MemberRepository interface {
	Create(ctx context.Context, m *db.Member) error
	Get(ctx context.Context, datasetID, userID uuid.UUID) (*db.Member, error)
	Update(ctx context.Context, m *db.Member) error
	Delete(ctx context.Context, datasetID, userID uuid.UUID) error
	ListByDataset(ctx context.Context, datasetID uuid.UUID, opts ListOptions) ([]db.Member, int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]db.Member, int64, error)
	// DeleteAllForUser removes every membership belonging to userID (sign-off cascade).
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) error
	// DeleteAllForDataset removes every membership of datasetID (dataset-delete cascade, spec S5).
	DeleteAllForDataset(ctx context.Context, datasetID uuid.UUID) error
}

// PushRepository manages time/count-limited share tokens.
type PushRepository interface {
	Create(ctx context.Context, p *db.Push) error
	GetByUUID(ctx context.Context, token string) (*db.Push, error)
	Update(ctx context.Context, p *db.Push) error
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, nowUnix int64) (int64, error)
	// ListByDataset returns every outstanding push token for a dataset
	// (spec §4.9 Phase C iii).
	ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]db.Push, error)
}

// HeaderRepository manages the append-only transaction log.
type HeaderRepository interface {
	Create(ctx context.Context, tx Tx, h *db.Header) error
	// UpdateStatus re-persists a header's status after a row-apply rollback
	// or a post-script downgrade (spec §4.4 steps 2b/3). The header itself
	// is never deleted or reassigned a new idHeader — only its status changes.
	UpdateStatus(ctx context.Context, tx Tx, headerID uuid.UUID, status int) error
	ListSince(ctx context.Context, datasetID uuid.UUID, afterIDHeader uint64, limit int) ([]db.Header, error)
	Latest(ctx context.Context, datasetID uuid.UUID) (*db.Header, error)
}

// ChangeRepository manages row-level mutations inside headers.
type ChangeRepository interface {
	CreateBatch(ctx context.Context, tx Tx, changes []db.Change) error
	ListByHeader(ctx context.Context, datasetID uuid.UUID, idHeader uint64) ([]db.Change, error)
}

// DownloadedRepository manages per-(node,dataset) resume cursors.
type DownloadedRepository interface {
	Get(ctx context.Context, nodeID, datasetID uuid.UUID) (*db.Downloaded, error)
	Upsert(ctx context.Context, d *db.Downloaded) error
	// UpsertTx is Upsert scoped to the caller's transaction, so a header
	// apply's cursor advance commits atomically with the header and its
	// changes (spec §4.4 step 4).
	UpsertTx(ctx context.Context, tx Tx, d *db.Downloaded) error
}
