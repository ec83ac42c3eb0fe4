package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/auth"
	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/repository"
)

// fakeNodesFull is a full in-memory NodeRepository, unlike users_test.go's
// fakeNodes (which only tracks DeleteAllForUser calls) — sign-up/sign-in
// round trips need Get/Create/Update to actually mint and persist node keys.
type fakeNodesFull struct {
	byKey map[string]*db.Node // userID:nodeID -> node
}

func newFakeNodesFull() *fakeNodesFull { return &fakeNodesFull{byKey: map[string]*db.Node{}} }

func nodeKey(userID, nodeID uuid.UUID) string { return userID.String() + ":" + nodeID.String() }

func (f *fakeNodesFull) Create(ctx context.Context, n *db.Node) error {
	f.byKey[nodeKey(n.UserID, n.ID)] = n
	return nil
}
func (f *fakeNodesFull) Get(ctx context.Context, userID, nodeID uuid.UUID) (*db.Node, error) {
	n, ok := f.byKey[nodeKey(userID, nodeID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return n, nil
}
func (f *fakeNodesFull) Update(ctx context.Context, n *db.Node) error {
	f.byKey[nodeKey(n.UserID, n.ID)] = n
	return nil
}
func (f *fakeNodesFull) Delete(ctx context.Context, userID, nodeID uuid.UUID) error {
	delete(f.byKey, nodeKey(userID, nodeID))
	return nil
}
func (f *fakeNodesFull) ListByUser(ctx context.Context, userID uuid.UUID) ([]db.Node, error) {
	var out []db.Node
	for _, n := range f.byKey {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out, nil
}
func (f *fakeNodesFull) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	for k, n := range f.byKey {
		if n.UserID == userID {
			delete(f.byKey, k)
		}
	}
	return nil
}

func newTestSynchHandler() (*SynchHandler, *fakeUsers, *fakeNodesFull) {
	users := newFakeUsers()
	nodes := newFakeNodesFull()
	members := &fakeMembersForUsers{}
	sessions := auth.NewSession(users, nodes, members, nil)
	return NewSynchHandler(sessions, zap.NewNop()), users, nodes
}

func TestSynchSignUpCreatesUserAndNode(t *testing.T) {
	h, users, nodes := newTestSynchHandler()
	contextID := uuid.New()

	body, _ := json.Marshal(signUpRequest{Email: "new@example.com", Password: "hunter22", Name: "New"})
	r := withUUIDParam(httptest.NewRequest(http.MethodPost, "/context/"+contextID.String()+"/synch/signup", bytes.NewReader(body)), "uuid", contextID.String())
	w := httptest.NewRecorder()
	h.SignUp(w, r)

	if w.Code != http.StatusAccepted {
		t.Fatalf("SignUp status = %d, want 202, body=%s", w.Code, w.Body.String())
	}
	var resp sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("expected non-empty sessionId")
	}
	if len(users.byID) != 1 {
		t.Fatalf("expected one user to be created, got %d", len(users.byID))
	}
	if len(nodes.byKey) != 1 {
		t.Fatalf("expected one node to be created, got %d", len(nodes.byKey))
	}
}

func TestSynchSignInLocalWrongPasswordForbidden(t *testing.T) {
	h, users, _ := newTestSynchHandler()
	contextID := uuid.New()

	hash, err := auth.HashPassword("correct-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &db.User{ContextID: contextID, Identifier: "existing@example.com", Name: "Existing", Type: "internal", PasswordHash: hash}
	_ = users.Create(context.Background(), u)

	body, _ := json.Marshal(signInRequest{Email: "existing@example.com", Password: "wrong-password"})
	r := withUUIDParam(httptest.NewRequest(http.MethodPost, "/context/"+contextID.String()+"/synch/signin", bytes.NewReader(body)), "uuid", contextID.String())
	w := httptest.NewRecorder()
	h.SignIn(w, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("SignIn status = %d, want 403, body=%s", w.Code, w.Body.String())
	}
}

func TestSynchSignInLocalSucceeds(t *testing.T) {
	h, users, nodes := newTestSynchHandler()
	contextID := uuid.New()

	hash, err := auth.HashPassword("correct-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &db.User{ContextID: contextID, Identifier: "existing@example.com", Name: "Existing", Type: "internal", PasswordHash: hash}
	_ = users.Create(context.Background(), u)

	body, _ := json.Marshal(signInRequest{Email: "existing@example.com", Password: "correct-password"})
	r := withUUIDParam(httptest.NewRequest(http.MethodPost, "/context/"+contextID.String()+"/synch/signin", bytes.NewReader(body)), "uuid", contextID.String())
	w := httptest.NewRecorder()
	h.SignIn(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("SignIn status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if len(nodes.byKey) != 1 {
		t.Fatalf("expected a node to be minted, got %d", len(nodes.byKey))
	}
}

func TestSynchSignOutRemovesNode(t *testing.T) {
	h, users, nodes := newTestSynchHandler()
	contextID := uuid.New()
	u := &db.User{ContextID: contextID, Identifier: "x@example.com", Name: "X", Type: "internal"}
	_ = users.Create(context.Background(), u)
	nodeID := uuid.New()
	_ = nodes.Create(context.Background(), &db.Node{UserID: u.ID, ID: nodeID, Key: "deadbeef"})

	body, _ := json.Marshal(signOutRequest{UserID: u.ID.String(), NodeID: nodeID.String()})
	r := withUUIDParam(httptest.NewRequest(http.MethodPost, "/context/"+contextID.String()+"/synch/signout", bytes.NewReader(body)), "uuid", contextID.String())
	w := httptest.NewRecorder()
	h.SignOut(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("SignOut status = %d, want 204", w.Code)
	}
	if _, ok := nodes.byKey[nodeKey(u.ID, nodeID)]; ok {
		t.Fatal("expected node to be removed")
	}
}

func TestSynchSignOffDeletesUser(t *testing.T) {
	h, users, _ := newTestSynchHandler()
	contextID := uuid.New()
	hash, _ := auth.HashPassword("pw123456")
	u := &db.User{ContextID: contextID, Identifier: "gone@example.com", Name: "Gone", Type: "internal", PasswordHash: hash}
	_ = users.Create(context.Background(), u)

	body, _ := json.Marshal(signOffRequest{Email: "gone@example.com", Password: "pw123456"})
	r := withUUIDParam(httptest.NewRequest(http.MethodPost, "/context/"+contextID.String()+"/synch/signoff", bytes.NewReader(body)), "uuid", contextID.String())
	w := httptest.NewRecorder()
	h.SignOff(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("SignOff status = %d, want 204, body=%s", w.Code, w.Body.String())
	}
	if _, ok := users.byID[u.ID]; ok {
		t.Fatal("expected user to be deleted")
	}
}

func TestParseOrNewNodeID(t *testing.T) {
	id, err := parseOrNewNodeID("")
	if err != nil {
		t.Fatalf("parseOrNewNodeID(\"\"): %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected a freshly minted uuid")
	}

	fixed := uuid.New()
	id2, err := parseOrNewNodeID(fixed.String())
	if err != nil {
		t.Fatalf("parseOrNewNodeID(fixed): %v", err)
	}
	if id2 != fixed {
		t.Fatalf("id2 = %v, want %v", id2, fixed)
	}

	if _, err := parseOrNewNodeID("not-a-uuid"); err == nil {
		t.Fatal("expected error for invalid uuid")
	}
}
