// Package schema holds the in-memory, version-indexed catalog of entities,
// transactions, roles, and modules for one context (spec §3, §4.2).
package schema

import "github.com/google/uuid"

// AttrType is the declared type of a key or attribute.
type AttrType int

const (
	TypeInteger AttrType = iota
	TypeText
	TypeBlob
	TypeUuidV1
	TypeUuidV4
	TypeReal
)

// Key is one member of an Entity's primary key.
type Key struct {
	ID   int
	Name string
	Type AttrType
}

// Attribute is one non-key field of an Entity.
type Attribute struct {
	ID      int
	Name    string
	Type    AttrType
	NotNull bool
	Check   *CompiledCheck // nil if no check expression is declared
}

// Entity is one table-like schema object.
type Entity struct {
	UUID       uuid.UUID
	Name       string
	Keys       []Key
	Attributes []Attribute
}

// KeyByID returns the entity's key with the given id, or ok=false.
func (e *Entity) KeyByID(id int) (Key, bool) {
	for _, k := range e.Keys {
		if k.ID == id {
			return k, true
		}
	}
	return Key{}, false
}

// AttributeByID returns the entity's attribute with the given id, or ok=false.
func (e *Entity) AttributeByID(id int) (Attribute, bool) {
	for _, a := range e.Attributes {
		if a.ID == id {
			return a, true
		}
	}
	return Attribute{}, false
}

// EntityTxView is the per-entity reshape of a Transaction's permissions,
// precomputed once at registry publish time (spec §4.2, §9 "break the
// Entity<->Transaction cycle by storing the view alongside the Entity").
type EntityTxView struct {
	Name      string
	Add       bool
	Remove    bool
	UpdateIDs map[int]bool
}

// Transaction is a named operation template.
type Transaction struct {
	UUID   uuid.UUID
	Name   string
	Entity map[uuid.UUID]EntityTxView // entityUUID -> this transaction's view on that entity
}

// Role is a capabilities bag plus per-entity visibility and allowed
// transactions.
type Role struct {
	UUID            uuid.UUID
	Name            string
	ReadMembers     bool
	ManageMembers   bool
	ReadEmail       bool
	ShareDataset    bool
	ManageShare     bool
	Default         bool
	VisibleAttrs    map[uuid.UUID]map[int]bool // entityUUID -> attribute id -> visible
	AllowedTxs      map[uuid.UUID]bool         // transaction uuid -> allowed
}

// Module is a per-entity visible-attribute mask declared by a client build.
type Module struct {
	UUID         uuid.UUID
	Name         string
	VisibleAttrs map[uuid.UUID]map[int]bool
}
