package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Version is one immutable, version-indexed catalog snapshot for a context.
type Version struct {
	Number int

	entities     map[uuid.UUID]*Entity
	transactions map[uuid.UUID]*Transaction
	roles        map[uuid.UUID]*Role
	modules      map[uuid.UUID]*Module

	entityByName      map[string]uuid.UUID // lowercased
	transactionByName map[string]uuid.UUID
	roleByName        map[string]uuid.UUID
	moduleByName       map[string]uuid.UUID

	defaultRole uuid.UUID
}

// EntityByName resolves an entity by its case-insensitive name.
func (v *Version) EntityByName(name string) (*Entity, bool) {
	id, ok := v.entityByName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	e := v.entities[id]
	return e, e != nil
}

// TransactionByName resolves a transaction by its case-insensitive name.
func (v *Version) TransactionByName(name string) (*Transaction, bool) {
	id, ok := v.transactionByName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	t := v.transactions[id]
	return t, t != nil
}

// Role looks up a role by uuid.
func (v *Version) Role(id uuid.UUID) (*Role, bool) {
	r, ok := v.roles[id]
	return r, ok
}

// Module looks up a module by uuid.
func (v *Version) Module(id uuid.UUID) (*Module, bool) {
	m, ok := v.modules[id]
	return m, ok
}

// ModuleByName resolves a module by its case-insensitive name, as declared
// by a node's advertised build (spec §4.9 Phase C's role ∩ module mask).
func (v *Version) ModuleByName(name string) (*Module, bool) {
	id, ok := v.moduleByName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	m := v.modules[id]
	return m, m != nil
}

// Entity looks up an entity by uuid.
func (v *Version) Entity(id uuid.UUID) (*Entity, bool) {
	e, ok := v.entities[id]
	return e, ok
}

// Entities returns every entity declared in this version, in no particular
// order (used by the sync orchestrator's first-sync snapshot, spec §4.9
// Phase C iv).
func (v *Version) Entities() []*Entity {
	out := make([]*Entity, 0, len(v.entities))
	for _, e := range v.entities {
		out = append(out, e)
	}
	return out
}

// DefaultRole returns the context's single default role (assigned to a
// dataset creator, spec §3 Role invariant).
func (v *Version) DefaultRole() (*Role, bool) {
	r, ok := v.roles[v.defaultRole]
	return r, ok
}

// Builder assembles a Version from its constituent definitions, indexing each
// by UUID and by lowercased name. It derives nothing: transactions arrive
// with their per-entity views already built, and attribute checks arrive
// already compiled (schemaload.Compile does both).
type Builder struct {
	v *Version
}

// NewBuilder starts building a new schema Version.
func NewBuilder(number int) *Builder {
	return &Builder{v: &Version{
		Number:            number,
		entities:          map[uuid.UUID]*Entity{},
		transactions:      map[uuid.UUID]*Transaction{},
		roles:             map[uuid.UUID]*Role{},
		modules:           map[uuid.UUID]*Module{},
		entityByName:      map[string]uuid.UUID{},
		transactionByName: map[string]uuid.UUID{},
		roleByName:        map[string]uuid.UUID{},
		moduleByName:      map[string]uuid.UUID{},
	}}
}

// AddEntity registers an entity. Must be called before AddTransaction for
// any transaction that references it.
func (b *Builder) AddEntity(e *Entity) error {
	if len(e.Keys) == 0 {
		return fmt.Errorf("schema: entity %q has no keys", e.Name)
	}
	seen := map[int]bool{}
	for _, k := range e.Keys {
		if seen[k.ID] {
			return fmt.Errorf("schema: entity %q has duplicate key id %d", e.Name, k.ID)
		}
		seen[k.ID] = true
	}
	b.v.entities[e.UUID] = e
	b.v.entityByName[strings.ToLower(e.Name)] = e.UUID
	return nil
}

// AddTransaction registers a transaction by UUID and lowercased name; its
// per-entity view is stored as given.
func (b *Builder) AddTransaction(t *Transaction) {
	b.v.transactions[t.UUID] = t
	b.v.transactionByName[strings.ToLower(t.Name)] = t.UUID
}

// AddRole registers a role. If def is true it becomes the context's default
// role (spec §3: exactly one defaultrole per context).
func (b *Builder) AddRole(r *Role, def bool) {
	b.v.roles[r.UUID] = r
	b.v.roleByName[strings.ToLower(r.Name)] = r.UUID
	if def {
		b.v.defaultRole = r.UUID
	}
}

// AddModule registers a module.
func (b *Builder) AddModule(m *Module) {
	b.v.modules[m.UUID] = m
	b.v.moduleByName[strings.ToLower(m.Name)] = m.UUID
}

// Build finalizes and returns the Version.
func (b *Builder) Build() *Version {
	return b.v
}

// Registry is the per-context, in-memory catalog indexed by schema version.
// Reads dominate; publish/import take the exclusive writer lock to swap in
// a whole new Version (spec §4.2, §5: "writers are rare; reads dominate").
type Registry struct {
	mu       sync.RWMutex
	versions map[int]*Version
	current  int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{versions: map[int]*Version{}}
}

// Publish installs v as the current version, replacing any version with the
// same number. It takes the registry's exclusive lock itself.
func (r *Registry) Publish(v *Version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[v.Number] = v
	if v.Number > r.current {
		r.current = v.Number
	}
}

// Downgrade discards every version greater than keep (spec §3: "downgrade
// discards all versions > edited").
func (r *Registry) Downgrade(keep int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n := range r.versions {
		if n > keep {
			delete(r.versions, n)
		}
	}
	if r.current > keep {
		r.current = keep
	}
}

// Version returns the schema snapshot at the given version number.
func (r *Registry) Version(n int) (*Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[n]
	return v, ok
}

// CurrentVersion returns the highest published version number.
func (r *Registry) CurrentVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
