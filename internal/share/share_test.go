package share

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/authz"
	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/repository"
	"github.com/beehive-sync/beehive/internal/schema"
)

type fakePushes struct {
	byUUID map[string]*db.Push
}

func newFakePushes() *fakePushes { return &fakePushes{byUUID: map[string]*db.Push{}} }

func (f *fakePushes) Create(ctx context.Context, p *db.Push) error {
	f.byUUID[p.UUID] = p
	return nil
}
func (f *fakePushes) GetByUUID(ctx context.Context, token string) (*db.Push, error) {
	p, ok := f.byUUID[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}
func (f *fakePushes) Update(ctx context.Context, p *db.Push) error {
	f.byUUID[p.UUID] = p
	return nil
}
func (f *fakePushes) Delete(ctx context.Context, token string) error {
	if _, ok := f.byUUID[token]; !ok {
		return repository.ErrNotFound
	}
	delete(f.byUUID, token)
	return nil
}
func (f *fakePushes) DeleteExpired(ctx context.Context, nowUnix int64) (int64, error) { return 0, nil }

func (f *fakePushes) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]db.Push, error) {
	var out []db.Push
	for _, p := range f.byUUID {
		if p.DatasetID == datasetID {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fakeMembers struct {
	byKey map[string]*db.Member
}

func newFakeMembers() *fakeMembers { return &fakeMembers{byKey: map[string]*db.Member{}} }
func key(datasetID, userID uuid.UUID) string { return datasetID.String() + ":" + userID.String() }

func (f *fakeMembers) Get(ctx context.Context, datasetID, userID uuid.UUID) (*db.Member, error) {
	m, ok := f.byKey[key(datasetID, userID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m, nil
}
func (f *fakeMembers) Create(ctx context.Context, m *db.Member) error {
	f.byKey[key(m.DatasetID, m.UserID)] = m
	return nil
}
func (f *fakeMembers) Update(ctx context.Context, m *db.Member) error {
	f.byKey[key(m.DatasetID, m.UserID)] = m
	return nil
}
func (f *fakeMembers) Delete(ctx context.Context, datasetID, userID uuid.UUID) error {
	delete(f.byKey, key(datasetID, userID))
	return nil
}
func (f *fakeMembers) ListByDataset(ctx context.Context, datasetID uuid.UUID, opts repository.ListOptions) ([]db.Member, int64, error) {
	return nil, 0, nil
}
func (f *fakeMembers) ListByUser(ctx context.Context, userID uuid.UUID, opts repository.ListOptions) ([]db.Member, int64, error) {
	return nil, 0, nil
}
func (f *fakeMembers) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error { return nil }

func (f *fakeMembers) DeleteAllForDataset(ctx context.Context, datasetID uuid.UUID) error { return nil }

func setup(t *testing.T) (*Service, *fakePushes, *fakeMembers, *schema.Registry, uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	datasetID := uuid.New()
	ownerID := uuid.New()
	ownerRoleID := uuid.New()
	targetRoleID := uuid.New()

	pushes := newFakePushes()
	members := newFakeMembers()
	members.byKey[key(datasetID, ownerID)] = &db.Member{DatasetID: datasetID, UserID: ownerID, Role: ownerRoleID, Status: 1}

	b := schema.NewBuilder(1)
	b.AddRole(&schema.Role{UUID: ownerRoleID, Name: "owner", ShareDataset: true, ManageShare: true}, true)
	b.AddRole(&schema.Role{UUID: targetRoleID, Name: "viewer"}, false)
	reg := schema.NewRegistry()
	reg.Publish(b.Build())

	resolver := authz.NewResolver(members)
	svc := NewService(pushes, members, resolver)
	return svc, pushes, members, reg, datasetID, ownerID, targetRoleID
}

func TestPushCreatesToken(t *testing.T) {
	svc, pushes, _, reg, datasetID, ownerID, roleID := setup(t)

	push, err := svc.Push(context.Background(), datasetID, ownerID, reg, 1, roleID, time.Now().Add(time.Hour).Unix(), 1)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if push.UUID == "" {
		t.Fatal("expected non-empty push uuid")
	}
	if _, ok := pushes.byUUID[push.UUID]; !ok {
		t.Fatal("push was not stored")
	}
}

func TestPushUnauthorized(t *testing.T) {
	svc, _, members, reg, datasetID, _, roleID := setup(t)
	nonMember := uuid.New()
	_ = members

	_, err := svc.Push(context.Background(), datasetID, nonMember, reg, 1, roleID, time.Now().Add(time.Hour).Unix(), 0)
	if !errors.Is(err, authz.ErrNotEnoughRights) {
		t.Fatalf("Push error = %v, want ErrNotEnoughRights", err)
	}
}

func TestPopAcceptsValidToken(t *testing.T) {
	svc, _, members, reg, datasetID, ownerID, roleID := setup(t)
	push, err := svc.Push(context.Background(), datasetID, ownerID, reg, 1, roleID, time.Now().Add(time.Hour).Unix(), 1)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	newUser := uuid.New()
	member, err := svc.Pop(context.Background(), datasetID, push.UUID, newUser, "New User", "", time.Now())
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if member.Role != roleID {
		t.Fatalf("member.Role = %v, want %v", member.Role, roleID)
	}
	if _, ok := members.byKey[key(datasetID, newUser)]; !ok {
		t.Fatal("member was not created")
	}
}

func TestPopExhaustsAfterNUses(t *testing.T) {
	svc, pushes, _, reg, datasetID, ownerID, roleID := setup(t)
	push, err := svc.Push(context.Background(), datasetID, ownerID, reg, 1, roleID, time.Now().Add(time.Hour).Unix(), 1)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	if _, err := svc.Pop(context.Background(), datasetID, push.UUID, uuid.New(), "A", "", time.Now()); err != nil {
		t.Fatalf("first Pop: %v", err)
	}
	if _, ok := pushes.byUUID[push.UUID]; ok {
		t.Fatal("expected push to be removed after exhausting its single use")
	}

	if _, err := svc.Pop(context.Background(), datasetID, push.UUID, uuid.New(), "B", "", time.Now()); !errors.Is(err, ErrExpired) {
		t.Fatalf("second Pop error = %v, want ErrExpired", err)
	}
}

func TestPopExpiredToken(t *testing.T) {
	svc, _, _, reg, datasetID, ownerID, roleID := setup(t)
	push, err := svc.Push(context.Background(), datasetID, ownerID, reg, 1, roleID, time.Now().Add(-time.Hour).Unix(), 1)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	if _, err := svc.Pop(context.Background(), datasetID, push.UUID, uuid.New(), "A", "", time.Now()); !errors.Is(err, ErrExpired) {
		t.Fatalf("Pop error = %v, want ErrExpired", err)
	}
}

func TestPullRemovesToken(t *testing.T) {
	svc, pushes, _, reg, datasetID, ownerID, roleID := setup(t)
	push, err := svc.Push(context.Background(), datasetID, ownerID, reg, 1, roleID, time.Now().Add(time.Hour).Unix(), 0)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := svc.Pull(context.Background(), datasetID, ownerID, reg, 1, push.UUID); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if _, ok := pushes.byUUID[push.UUID]; ok {
		t.Fatal("expected push to be removed by Pull")
	}
}
