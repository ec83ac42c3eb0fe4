package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/auth"
	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/repository"
)

type fakeUsers struct {
	byID map[uuid.UUID]*db.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byID: map[uuid.UUID]*db.User{}} }

func (f *fakeUsers) Create(ctx context.Context, u *db.User) error {
	for _, existing := range f.byID {
		if existing.ContextID == u.ContextID && existing.Identifier == u.Identifier {
			return repository.ErrNotFound
		}
	}
	u.ID = uuid.New()
	f.byID[u.ID] = u
	return nil
}
func (f *fakeUsers) GetByID(ctx context.Context, id uuid.UUID) (*db.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}
func (f *fakeUsers) GetByIdentifier(ctx context.Context, contextID uuid.UUID, identifier string) (*db.User, error) {
	for _, u := range f.byID {
		if u.ContextID == contextID && u.Identifier == identifier {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}
func (f *fakeUsers) Update(ctx context.Context, u *db.User) error {
	if _, ok := f.byID[u.ID]; !ok {
		return repository.ErrNotFound
	}
	f.byID[u.ID] = u
	return nil
}
func (f *fakeUsers) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}
func (f *fakeUsers) List(ctx context.Context, contextID uuid.UUID, opts repository.ListOptions) ([]db.User, int64, error) {
	var out []db.User
	for _, u := range f.byID {
		if u.ContextID == contextID {
			out = append(out, *u)
		}
	}
	return out, int64(len(out)), nil
}

type fakeNodes struct{ deletedForUser []uuid.UUID }

func (f *fakeNodes) Create(ctx context.Context, n *db.Node) error { return nil }
func (f *fakeNodes) Get(ctx context.Context, userID, nodeID uuid.UUID) (*db.Node, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeNodes) Update(ctx context.Context, n *db.Node) error               { return nil }
func (f *fakeNodes) Delete(ctx context.Context, userID, nodeID uuid.UUID) error { return nil }
func (f *fakeNodes) ListByUser(ctx context.Context, userID uuid.UUID) ([]db.Node, error) {
	return nil, nil
}
func (f *fakeNodes) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	f.deletedForUser = append(f.deletedForUser, userID)
	return nil
}

type fakeMembersForUsers struct{ deletedForUser []uuid.UUID }

func (f *fakeMembersForUsers) Create(ctx context.Context, m *db.Member) error { return nil }
func (f *fakeMembersForUsers) Get(ctx context.Context, datasetID, userID uuid.UUID) (*db.Member, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeMembersForUsers) Update(ctx context.Context, m *db.Member) error { return nil }
func (f *fakeMembersForUsers) Delete(ctx context.Context, datasetID, userID uuid.UUID) error {
	return nil
}
func (f *fakeMembersForUsers) ListByDataset(ctx context.Context, datasetID uuid.UUID, opts repository.ListOptions) ([]db.Member, int64, error) {
	return nil, 0, nil
}
func (f *fakeMembersForUsers) ListByUser(ctx context.Context, userID uuid.UUID, opts repository.ListOptions) ([]db.Member, int64, error) {
	return nil, 0, nil
}
func (f *fakeMembersForUsers) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	f.deletedForUser = append(f.deletedForUser, userID)
	return nil
}
func (f *fakeMembersForUsers) DeleteAllForDataset(ctx context.Context, datasetID uuid.UUID) error {
	return nil
}

func newTestUserHandler() (*UserHandler, *fakeUsers, *fakeNodes, *fakeMembersForUsers) {
	users := newFakeUsers()
	nodes := &fakeNodes{}
	members := &fakeMembersForUsers{}
	sessions := auth.NewSession(users, nodes, members, nil)
	h := NewUserHandler(users, sessions, zap.NewNop())
	return h, users, nodes, members
}

// withUserParams injects both the context and user chi URL params onto r, for
// handlers reached through /context/{uuid}/users/{userUuid}.
func withUserParams(r *http.Request, contextID, userID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("uuid", contextID)
	rctx.URLParams.Add("userUuid", userID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestUserCreateAndGet(t *testing.T) {
	h, _, _, _ := newTestUserHandler()
	contextID := uuid.New()

	body, _ := json.Marshal(createUserRequest{Identifier: "a@example.com", Name: "Alice"})
	r := withUUIDParam(httptest.NewRequest(http.MethodPost, "/context/"+contextID.String()+"/users", bytes.NewReader(body)), "uuid", contextID.String())
	w := httptest.NewRecorder()
	h.Create(w, r)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Create status = %d, want 202", w.Code)
	}
	var resp userResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Type != "internal" {
		t.Fatalf("Type = %q, want default internal", resp.Type)
	}
	if resp.ID == "" {
		t.Fatal("expected non-empty id")
	}

	r2 := withUserParams(httptest.NewRequest(http.MethodGet, "/context/"+contextID.String()+"/users/"+resp.ID, nil), contextID.String(), resp.ID)
	w2 := httptest.NewRecorder()
	h.GetByID(w2, r2)
	if w2.Code != http.StatusOK {
		t.Fatalf("GetByID status = %d, want 200", w2.Code)
	}
}

func TestUserCreateMissingFieldsBadRequest(t *testing.T) {
	h, _, _, _ := newTestUserHandler()
	contextID := uuid.New()

	body, _ := json.Marshal(createUserRequest{Identifier: "", Name: ""})
	r := withUUIDParam(httptest.NewRequest(http.MethodPost, "/context/"+contextID.String()+"/users", bytes.NewReader(body)), "uuid", contextID.String())
	w := httptest.NewRecorder()
	h.Create(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUserDeleteCascadesViaSignOff(t *testing.T) {
	h, users, nodes, members := newTestUserHandler()
	u := &db.User{ContextID: uuid.New(), Identifier: "b@example.com", Name: "Bob"}
	_ = users.Create(context.Background(), u)

	r := withUserParams(httptest.NewRequest(http.MethodDelete, "/context/x/users/"+u.ID.String(), nil), u.ContextID.String(), u.ID.String())
	w := httptest.NewRecorder()
	h.Delete(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Delete status = %d, want 204", w.Code)
	}
	if _, ok := users.byID[u.ID]; ok {
		t.Fatal("expected user to be deleted")
	}
	if len(nodes.deletedForUser) != 1 || nodes.deletedForUser[0] != u.ID {
		t.Fatalf("expected nodes cascade for %s, got %v", u.ID, nodes.deletedForUser)
	}
	if len(members.deletedForUser) != 1 || members.deletedForUser[0] != u.ID {
		t.Fatalf("expected memberships cascade for %s, got %v", u.ID, members.deletedForUser)
	}
}

func TestUserDeleteNotFound(t *testing.T) {
	h, _, _, _ := newTestUserHandler()
	r := withUserParams(httptest.NewRequest(http.MethodDelete, "/context/x/users/y", nil), uuid.New().String(), uuid.New().String())
	w := httptest.NewRecorder()
	h.Delete(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestUserUpdateOnlyName(t *testing.T) {
	h, users, _, _ := newTestUserHandler()
	u := &db.User{ContextID: uuid.New(), Identifier: "c@example.com", Name: "Carol"}
	_ = users.Create(context.Background(), u)

	body, _ := json.Marshal(updateUserRequest{Name: "Carol Updated"})
	r := withUserParams(httptest.NewRequest(http.MethodPut, "/context/x/users/"+u.ID.String(), bytes.NewReader(body)), u.ContextID.String(), u.ID.String())
	w := httptest.NewRecorder()
	h.Update(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("Update status = %d, want 200", w.Code)
	}
	if users.byID[u.ID].Name != "Carol Updated" {
		t.Fatalf("Name = %q, want Carol Updated", users.byID[u.ID].Name)
	}
}
