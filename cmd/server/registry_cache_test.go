package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/repository"
	"github.com/beehive-sync/beehive/internal/schemaload"
)

type fakeVersions struct {
	rows []db.SchemaVersion
}

func (f *fakeVersions) Create(ctx context.Context, v *db.SchemaVersion) error { return nil }
func (f *fakeVersions) Get(ctx context.Context, contextID uuid.UUID, number int) (*db.SchemaVersion, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeVersions) Latest(ctx context.Context, contextID uuid.UUID) (*db.SchemaVersion, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeVersions) ListByContext(ctx context.Context, contextID uuid.UUID) ([]db.SchemaVersion, error) {
	var out []db.SchemaVersion
	for _, v := range f.rows {
		if v.ContextID == contextID {
			out = append(out, v)
		}
	}
	return out, nil
}
func (f *fakeVersions) DeleteAbove(ctx context.Context, contextID uuid.UUID, keep int) error { return nil }

type fakeContexts struct {
	byID map[uuid.UUID]*db.Context
}

func (f *fakeContexts) Create(ctx context.Context, c *db.Context) error { return nil }
func (f *fakeContexts) GetByID(ctx context.Context, id uuid.UUID) (*db.Context, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}
func (f *fakeContexts) GetByName(ctx context.Context, name string) (*db.Context, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeContexts) Update(ctx context.Context, c *db.Context) error { return nil }
func (f *fakeContexts) Delete(ctx context.Context, id uuid.UUID) error  { return nil }
func (f *fakeContexts) List(ctx context.Context, opts repository.ListOptions) ([]db.Context, int64, error) {
	return nil, 0, nil
}

func emptySchemaBlob(t *testing.T) []byte {
	t.Helper()
	blob, err := json.Marshal(schemaload.Document{})
	if err != nil {
		t.Fatalf("marshal empty document: %v", err)
	}
	return blob
}

func TestRegistryCacheBuildsOnlyUpToPublishedVersion(t *testing.T) {
	ctxID := uuid.New()
	versions := &fakeVersions{rows: []db.SchemaVersion{
		{ContextID: ctxID, Number: 0, Blob: emptySchemaBlob(t)},
		{ContextID: ctxID, Number: 1, Blob: emptySchemaBlob(t)},
		{ContextID: ctxID, Number: 2, Blob: emptySchemaBlob(t)}, // draft above published, must not be served
	}}
	contexts := &fakeContexts{byID: map[uuid.UUID]*db.Context{
		ctxID: {Version: 1, Edited: 2},
	}}
	contexts.byID[ctxID].ID = ctxID

	cache := newRegistryCache(versions, contexts, zap.NewNop())
	reg, err := cache.Registry(context.Background(), ctxID)
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if _, ok := reg.Version(0); !ok {
		t.Fatal("expected version 0 to be served")
	}
	if _, ok := reg.Version(1); !ok {
		t.Fatal("expected version 1 (published) to be served")
	}
	if _, ok := reg.Version(2); ok {
		t.Fatal("expected draft version 2 (above published) not to be served")
	}
	if reg.CurrentVersion() != 1 {
		t.Fatalf("CurrentVersion() = %d, want 1", reg.CurrentVersion())
	}
}

func TestRegistryCacheCachesAndInvalidates(t *testing.T) {
	ctxID := uuid.New()
	versions := &fakeVersions{rows: []db.SchemaVersion{
		{ContextID: ctxID, Number: 0, Blob: emptySchemaBlob(t)},
	}}
	contexts := &fakeContexts{byID: map[uuid.UUID]*db.Context{
		ctxID: {Version: 0, Edited: 0},
	}}
	contexts.byID[ctxID].ID = ctxID

	cache := newRegistryCache(versions, contexts, zap.NewNop())
	reg1, err := cache.Registry(context.Background(), ctxID)
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	reg2, err := cache.Registry(context.Background(), ctxID)
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if reg1 != reg2 {
		t.Fatal("expected the second call to return the cached registry instance")
	}

	cache.Invalidate(ctxID)
	reg3, err := cache.Registry(context.Background(), ctxID)
	if err != nil {
		t.Fatalf("Registry after invalidate: %v", err)
	}
	if reg3 == reg1 {
		t.Fatal("expected Invalidate to force a fresh registry instance")
	}
}
