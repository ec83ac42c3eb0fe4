package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/auth"
)

// SynchHandler implements the `/context/{uuid}/synch/*` routes of spec
// §6.2 — the HTTP-side counterpart to the TCP sync protocol's opener tags
// (§6.1). It is mainly useful for browser-based or test clients that would
// rather not speak the binary wire format to obtain a session.
type SynchHandler struct {
	sessions *auth.Session
	logger   *zap.Logger
}

// NewSynchHandler builds a SynchHandler.
func NewSynchHandler(sessions *auth.Session, logger *zap.Logger) *SynchHandler {
	return &SynchHandler{sessions: sessions, logger: logger.Named("synch_handler")}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	NodeID   string `json:"nodeId"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	NodeID    string `json:"nodeId"`
}

// SignUp handles POST /context/{uuid}/synch/signup: registers a new local
// user and its first node in one step, returning a reconnection token as
// `sessionId` (spec §6.2).
func (h *SynchHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	nodeID, err := parseOrNewNodeID(req.NodeID)
	if err != nil {
		ErrBadRequest(w, "nodeId must be a valid uuid")
		return
	}

	identity, err := h.sessions.SignUp(r.Context(), contextID, req.Email, req.Password, req.Name, nodeID)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	Created(w, sessionResponse{
		SessionID: identity.Token,
		UserID:    identity.User.ID.String(),
		NodeID:    identity.Node.ID.String(),
	})
}

type signInRequest struct {
	// Local sign-in.
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	// Google sign-in.
	IDToken string `json:"idToken,omitempty"`

	NodeID string `json:"nodeId"`
}

// SignIn handles POST /context/{uuid}/synch/signin: starts a node session
// either locally (email/password) or via a Google ID token, matching the
// sync protocol's `S`/`I` openers.
func (h *SynchHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	nodeID, err := parseOrNewNodeID(req.NodeID)
	if err != nil {
		ErrBadRequest(w, "nodeId must be a valid uuid")
		return
	}

	var identity *auth.Identity
	if req.IDToken != "" {
		identity, err = h.sessions.SignInGoogle(r.Context(), contextID, req.IDToken, nodeID)
	} else {
		identity, err = h.sessions.SignInLocal(r.Context(), contextID, req.Email, req.Password, nodeID)
	}
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	Ok(w, sessionResponse{
		SessionID: identity.Token,
		UserID:    identity.User.ID.String(),
		NodeID:    identity.Node.ID.String(),
	})
}

type signOutRequest struct {
	UserID string `json:"userId"`
	NodeID string `json:"nodeId"`
}

// SignOut handles POST /context/{uuid}/synch/signout: ends a single node
// session, leaving the account and its other nodes intact.
func (h *SynchHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if _, ok := parseUUIDParam(w, r, "uuid"); !ok {
		return
	}
	var req signOutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		ErrBadRequest(w, "userId must be a valid uuid")
		return
	}
	nodeID, err := uuid.Parse(req.NodeID)
	if err != nil {
		ErrBadRequest(w, "nodeId must be a valid uuid")
		return
	}
	if err := h.sessions.SignOut(r.Context(), userID, nodeID); err != nil {
		h.logger.Error("sign out", zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}

type signOffRequest struct {
	// Local sign-off.
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	// Google sign-off.
	IDToken string `json:"idToken,omitempty"`
}

// SignOff handles POST /context/{uuid}/synch/signoff: deletes the user and
// cascades to every node and membership, matching the sync protocol's
// `G`/`F` openers.
func (h *SynchHandler) SignOff(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	var req signOffRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var userID uuid.UUID
	var err error
	if req.IDToken != "" {
		user, verr := h.sessions.VerifyGoogleUser(r.Context(), contextID, req.IDToken)
		if verr != nil {
			h.writeAuthError(w, verr)
			return
		}
		userID = user.ID
	} else {
		user, verr := h.sessions.VerifyLocalUser(r.Context(), contextID, req.Email, req.Password)
		if verr != nil {
			h.writeAuthError(w, verr)
			return
		}
		userID = user.ID
	}

	if err = h.sessions.SignOff(r.Context(), userID); err != nil {
		h.logger.Error("sign off", zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}

// writeAuthError maps the Session package's sentinel errors to spec §6.2's
// exit codes; anything unrecognized is a 500.
func (h *SynchHandler) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed), errors.Is(err, auth.ErrUserDisabled):
		ErrForbidden(w)
	default:
		h.logger.Error("synch operation failed", zap.Error(err))
		ErrInternal(w)
	}
}

// parseOrNewNodeID parses s as a uuid, or mints a fresh v7 id if s is empty
// — a browser-based test client may not have a prior node identity to
// present.
func parseOrNewNodeID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.NewV7()
	}
	return uuid.Parse(s)
}
