package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/auth"
	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/repository"
)

// UserHandler implements POST/GET/PUT/DELETE `/context/{uuid}/users[/{uuid}]`
// (spec §6.2): developer administration of a context's user accounts. It
// never mints password hashes: Create provisions the account row without a
// password, and a local user's hash is set by their first sync-protocol
// sign-up.
type UserHandler struct {
	repo     repository.UserRepository
	sessions *auth.Session
	logger   *zap.Logger
}

// NewUserHandler builds a UserHandler.
func NewUserHandler(repo repository.UserRepository, sessions *auth.Session, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, sessions: sessions, logger: logger.Named("user_handler")}
}

// userResponse is the JSON representation of a user. PasswordHash is
// intentionally omitted — it is a write-only, never-exposed field.
type userResponse struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Type       string `json:"type"`
}

func toUserResponse(u *db.User) userResponse {
	return userResponse{
		ID:         u.ID.String(),
		Identifier: u.Identifier,
		Name:       u.Name,
		Type:       u.Type,
	}
}

// List handles GET /context/{uuid}/users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	users, _, err := h.repo.List(r.Context(), contextID, listOptionsFromQuery(r))
	if err != nil {
		h.logger.Error("list users", zap.Error(err))
		ErrInternal(w)
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	Ok(w, out)
}

type createUserRequest struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Type       string `json:"type"`
}

// Create handles POST /context/{uuid}/users. It provisions the account row
// only — local users still authenticate their first sign-in through the
// sync protocol's `U` opener, which mints the password hash.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Identifier == "" || req.Name == "" {
		ErrBadRequest(w, "identifier and name are required")
		return
	}
	userType := req.Type
	if userType == "" {
		userType = "internal"
	}

	u := &db.User{ContextID: contextID, Identifier: req.Identifier, Name: req.Name, Type: userType}
	if err := h.repo.Create(r.Context(), u); err != nil {
		ErrConflict(w, "user already exists")
		return
	}
	Created(w, toUserResponse(u))
}

// GetByID handles GET /context/{uuid}/users/{userUuid}.
func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	_, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	userID, ok := parseUUIDParam(w, r, "userUuid")
	if !ok {
		return
	}
	u, err := h.repo.GetByID(r.Context(), userID)
	if err != nil {
		ErrNotFound(w)
		return
	}
	Ok(w, toUserResponse(u))
}

type updateUserRequest struct {
	Name string `json:"name"`
}

// Update handles PUT /context/{uuid}/users/{userUuid}. Only the display
// name is developer-editable — identifier and credentials flow through the
// sync protocol, not the admin surface.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	_, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	userID, ok := parseUUIDParam(w, r, "userUuid")
	if !ok {
		return
	}
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.repo.GetByID(r.Context(), userID)
	if err != nil {
		ErrNotFound(w)
		return
	}
	if req.Name != "" {
		u.Name = req.Name
	}
	if err := h.repo.Update(r.Context(), u); err != nil {
		ErrInternal(w)
		return
	}
	Ok(w, toUserResponse(u))
}

// Delete handles DELETE /context/{uuid}/users/{userUuid}. This is the
// developer-side equivalent of the sync protocol's sign-off opener: it
// cascades to every node and membership (spec §4.7's SignOff), without
// requiring the user's own credentials.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	_, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	userID, ok := parseUUIDParam(w, r, "userUuid")
	if !ok {
		return
	}
	if _, err := h.repo.GetByID(r.Context(), userID); err != nil {
		ErrNotFound(w)
		return
	}
	if err := h.sessions.SignOff(r.Context(), userID); err != nil {
		h.logger.Error("sign off user", zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}
