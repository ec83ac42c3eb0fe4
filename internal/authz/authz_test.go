package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/repository"
	"github.com/beehive-sync/beehive/internal/schema"
)

type fakeMembers struct {
	member *db.Member
	err    error
}

func (f *fakeMembers) Get(ctx context.Context, datasetID, userID uuid.UUID) (*db.Member, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.member, nil
}
func (f *fakeMembers) Create(ctx context.Context, m *db.Member) error                { return nil }
func (f *fakeMembers) Update(ctx context.Context, m *db.Member) error                { return nil }
func (f *fakeMembers) Delete(ctx context.Context, datasetID, userID uuid.UUID) error { return nil }
func (f *fakeMembers) ListByDataset(ctx context.Context, datasetID uuid.UUID, opts repository.ListOptions) ([]db.Member, int64, error) {
	return nil, 0, nil
}
func (f *fakeMembers) ListByUser(ctx context.Context, userID uuid.UUID, opts repository.ListOptions) ([]db.Member, int64, error) {
	return nil, 0, nil
}
func (f *fakeMembers) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error { return nil }

func (f *fakeMembers) DeleteAllForDataset(ctx context.Context, datasetID uuid.UUID) error { return nil }

func buildRegistry(t *testing.T, roleUUID uuid.UUID, role *schema.Role) *schema.Registry {
	t.Helper()
	b := schema.NewBuilder(1)
	b.AddRole(role, true)
	reg := schema.NewRegistry()
	reg.Publish(b.Build())
	_ = roleUUID
	return reg
}

func TestResolveGrantsRoleCapabilities(t *testing.T) {
	roleUUID := uuid.New()
	role := &schema.Role{UUID: roleUUID, Name: "editor", ReadMembers: true, ShareDataset: true}
	reg := buildRegistry(t, roleUUID, role)

	member := &db.Member{DatasetID: uuid.New(), UserID: uuid.New(), Role: roleUUID, Status: 1}
	r := NewResolver(&fakeMembers{member: member})

	cap, err := r.Resolve(context.Background(), member.DatasetID, member.UserID, reg, 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := RequireReadMembers(cap); err != nil {
		t.Errorf("RequireReadMembers: %v", err)
	}
	if err := RequireShareDataset(cap); err != nil {
		t.Errorf("RequireShareDataset: %v", err)
	}
	if err := RequireManageShare(cap); !errors.Is(err, ErrNotEnoughRights) {
		t.Errorf("RequireManageShare = %v, want ErrNotEnoughRights", err)
	}
}

func TestResolveMissingMemberIsNotEnoughRights(t *testing.T) {
	reg := schema.NewRegistry()
	reg.Publish(schema.NewBuilder(1).Build())
	r := NewResolver(&fakeMembers{err: repository.ErrNotFound})

	_, err := r.Resolve(context.Background(), uuid.New(), uuid.New(), reg, 1)
	if !errors.Is(err, ErrNotEnoughRights) {
		t.Fatalf("Resolve error = %v, want ErrNotEnoughRights", err)
	}
}

func TestResolveUnknownSchemaVersion(t *testing.T) {
	reg := schema.NewRegistry()
	r := NewResolver(&fakeMembers{member: &db.Member{}})

	_, err := r.Resolve(context.Background(), uuid.New(), uuid.New(), reg, 99)
	if !errors.Is(err, ErrInvalidSchema) {
		t.Fatalf("Resolve error = %v, want ErrInvalidSchema", err)
	}
}

func TestRequireActive(t *testing.T) {
	cap := &Capability{Member: &db.Member{Status: 0}}
	if err := RequireActive(cap); !errors.Is(err, ErrNotEnoughRights) {
		t.Fatalf("RequireActive = %v, want ErrNotEnoughRights", err)
	}
	cap.Member.Status = 1
	if err := RequireActive(cap); err != nil {
		t.Fatalf("RequireActive = %v, want nil", err)
	}
}

func TestRequireOwner(t *testing.T) {
	owner := uuid.New()
	other := uuid.New()
	dataset := &db.Dataset{OwnerID: owner}
	if err := RequireOwner(dataset, owner); err != nil {
		t.Fatalf("RequireOwner(owner) = %v, want nil", err)
	}
	if err := RequireOwner(dataset, other); !errors.Is(err, ErrNotEnoughRights) {
		t.Fatalf("RequireOwner(other) = %v, want ErrNotEnoughRights", err)
	}
}
