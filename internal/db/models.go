package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models. ID uses UUID v7
// (time-ordered) so primary-key indexes stay naturally sorted by creation
// time without a separate secondary index.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID was not already supplied by
// the caller. Several Beehive identifiers (Node, Dataset) are client-
// supplied — in that case ID is already set and this is a no-op.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Context & schema
// -----------------------------------------------------------------------------

// Context is a tenant/application namespace. It owns schema versions, users,
// and datasets (spec §3).
type Context struct {
	base
	Name    string `gorm:"uniqueIndex;not null"`
	Version int    `gorm:"not null;default:0"` // current published version
	Edited  int    `gorm:"not null;default:0"` // mutable draft version, Edited >= Version
}

// SchemaVersion is an immutable snapshot of a context's entities,
// transactions, roles, and modules at a given version number. Blob holds the
// JSON-serialized schema.Version definition; internal/schema compiles it
// into the in-memory Registry.
type SchemaVersion struct {
	base
	ContextID uuid.UUID `gorm:"type:text;not null;index:idx_schemaversion_ctx_v,unique"`
	Number    int       `gorm:"not null;index:idx_schemaversion_ctx_v,unique"`
	Blob      []byte    `gorm:"type:blob;not null"`
}

// -----------------------------------------------------------------------------
// Users & Nodes
// -----------------------------------------------------------------------------

// User represents a person authenticated either locally (password) or via a
// Google ID token (spec §3, §4.7).
type User struct {
	base
	ContextID    uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_user_ctx_identifier"`
	Identifier   string    `gorm:"not null;uniqueIndex:idx_user_ctx_identifier"` // lowercase email
	Name         string    `gorm:"not null"`
	Type         string    `gorm:"not null;default:'internal'"` // "internal" or "google"
	PasswordHash string    `gorm:"default:''"`                  // "saltHex:hashHex", empty for google users
}

// Node is a device registered for a user. ID is client-supplied (spec §3),
// so BeforeCreate is a no-op for nodes created through normal sign-in —
// uuid generation only kicks in if a caller forgets to set it.
type Node struct {
	base
	UserID    uuid.UUID       `gorm:"type:text;not null;uniqueIndex:idx_node_user_id"`
	ContextID uuid.UUID       `gorm:"type:text;not null"`
	Key       EncryptedString `gorm:"type:text;not null"` // 16 random bytes, hex-encoded, rotated every sign-in
	Module    string          `gorm:"not null;default:''"`
	Version   int             `gorm:"not null;default:0"` // client schema version last advertised
}

// -----------------------------------------------------------------------------
// Datasets, members, pushes
// -----------------------------------------------------------------------------

// Dataset is a logical container of rows shared among its Members, with a
// linear Header log. ID is client-supplied on creation during full-sync
// upload (spec §4.9 Phase B, status==2).
type Dataset struct {
	base
	OwnerID  uuid.UUID `gorm:"type:text;not null;index"`
	IDHeader uint64    `gorm:"not null;default:0"` // monotonic counter, spec I1
	Status   int       `gorm:"not null;default:1"`
}

// Member is one user's role and status within a dataset (spec §3 I5: exactly
// one active member per (dataset, user); status=0 is a tombstone).
type Member struct {
	base
	DatasetID uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_member_dataset_user"`
	UserID    uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_member_dataset_user"`
	Role      uuid.UUID `gorm:"type:text;not null"`
	Name      string    `gorm:"not null"`
	Status    int       `gorm:"not null;default:1"`
}

// Push is a time- and count-limited share invite (spec §3, §4.8).
type Push struct {
	UUID      string    `gorm:"type:text;primaryKey"` // base64(27 random bytes)
	DatasetID uuid.UUID `gorm:"type:text;not null;index"`
	Role      uuid.UUID `gorm:"type:text;not null"`
	Until     int64     `gorm:"not null"`           // unix seconds
	Number    int       `gorm:"not null;default:0"` // 0 = unlimited
	CreatedAt time.Time `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Header log
// -----------------------------------------------------------------------------

// Header is one committed transaction on a dataset (spec §3, §4.4).
// The natural key is (DatasetID, IDHeader); gorm still needs a single-column
// primary key, so a synthetic surrogate is used while the composite is kept
// unique and is what every lookup actually filters on.
type Header struct {
	base
	DatasetID       uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_header_dataset_idheader"`
	IDHeader        uint64    `gorm:"not null;uniqueIndex:idx_header_dataset_idheader"`
	NodeID          uuid.UUID `gorm:"type:text;not null;index"`
	IDNode          uint64    `gorm:"not null"` // author's client-side sequence number, spec I2
	TransactionName string    `gorm:"not null"`
	TransactionUUID uuid.UUID `gorm:"type:text"`
	Version         int       `gorm:"not null"`
	Status          int       `gorm:"not null"`
}

// Change is one row-level mutation inside a Header (spec §3).
type Change struct {
	base
	DatasetID  uuid.UUID `gorm:"type:text;not null;index:idx_change_header"`
	IDHeader   uint64    `gorm:"not null;index:idx_change_header"`
	IDChange   int       `gorm:"not null"`
	Operation  int       `gorm:"not null"`
	EntityName string    `gorm:"not null"`
	EntityUUID uuid.UUID `gorm:"type:text"`
	NewPK      []byte    `gorm:"type:blob"`
	NewData    []byte    `gorm:"type:blob"`
	OldPK      []byte    `gorm:"type:blob"`
	OldData    []byte    `gorm:"type:blob"`
}

// Downloaded is the per-(node,dataset) resume cursor into the header log
// (spec §3, §4.4).
type Downloaded struct {
	NodeID           uuid.UUID `gorm:"type:text;primaryKey"`
	DatasetID        uuid.UUID `gorm:"type:text;primaryKey"`
	LastIDHeader     uint64    `gorm:"not null;default:0"`
	LastAuthorIDNode uint64    `gorm:"not null;default:0"`
}
