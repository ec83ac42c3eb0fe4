package syncsrv

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/auth"
	"github.com/beehive-sync/beehive/internal/wire"
)

// authJWT handles opener tag `I`: Google ID token sign-in (spec §6.1).
// Frame: token (u16 payload), context name (u8 string), module (u8 string),
// node uuid (u8 string, text form), version (u32), CRC.
func (h *connHandler) authJWT(ctx context.Context, r *wire.Reader) (*auth.Identity, uuid.UUID, string, uint32, error) {
	token, err := r.LongPayload()
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	ctxName, err := r.ShortString()
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	module, err := r.ShortString()
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	nodeIDStr, err := r.ShortString()
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	version, err := r.U32()
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	if err := r.Finish(); err != nil {
		return nil, uuid.Nil, "", 0, err
	}

	nodeID, err := uuid.Parse(nodeIDStr)
	if err != nil {
		return nil, uuid.Nil, "", 0, fmt.Errorf("syncsrv: parsing node uuid: %w", err)
	}
	ctxRow, err := h.s.contexts.GetByName(ctx, ctxName)
	if err != nil {
		return nil, uuid.Nil, "", 0, auth.ErrAuthenticationFailed
	}

	identity, err := h.s.sessions.SignInGoogle(ctx, ctxRow.ID, string(token), nodeID)
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	return identity, ctxRow.ID, module, version, nil
}

// authLocal handles opener tags `S` (sign-in) and `U` (sign-up, spec §6.1).
// A `U` frame carries a display name ahead of the `S` payload: email (u8
// string), password (u8 string), context name (u8 string), module (u8
// string), node uuid (u8 string, text form), version (u32), CRC.
func (h *connHandler) authLocal(ctx context.Context, r *wire.Reader, isSignUp bool) (*auth.Identity, uuid.UUID, string, uint32, error) {
	var name string
	var err error
	if isSignUp {
		name, err = r.ShortString()
		if err != nil {
			return nil, uuid.Nil, "", 0, err
		}
	}
	email, err := r.ShortString()
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	password, err := r.ShortString()
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	ctxName, err := r.ShortString()
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	module, err := r.ShortString()
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	nodeIDStr, err := r.ShortString()
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	version, err := r.U32()
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	if err := r.Finish(); err != nil {
		return nil, uuid.Nil, "", 0, err
	}

	nodeID, err := uuid.Parse(nodeIDStr)
	if err != nil {
		return nil, uuid.Nil, "", 0, fmt.Errorf("syncsrv: parsing node uuid: %w", err)
	}
	ctxRow, err := h.s.contexts.GetByName(ctx, ctxName)
	if err != nil {
		return nil, uuid.Nil, "", 0, auth.ErrAuthenticationFailed
	}

	var identity *auth.Identity
	if isSignUp {
		identity, err = h.s.sessions.SignUp(ctx, ctxRow.ID, email, password, name, nodeID)
	} else {
		identity, err = h.s.sessions.SignInLocal(ctx, ctxRow.ID, email, password, nodeID)
	}
	if err != nil {
		return nil, uuid.Nil, "", 0, err
	}
	return identity, ctxRow.ID, module, version, nil
}

// authReconnect handles opener tag `C`: raw reconnection-token resumption
// (spec §6.1). Frame: auth.ReconnectTokenRawLen raw bytes, then version
// (u32), CRC. The node's module/version aren't re-sent on reconnect — only
// refreshed once the client re-authenticates via `I`/`S`/`U`.
func (h *connHandler) authReconnect(ctx context.Context, r *wire.Reader) (*auth.Identity, uuid.UUID, error) {
	raw, err := r.Bytes(auth.ReconnectTokenRawLen)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if _, err := r.U32(); err != nil { // version: informational only on reconnect
		return nil, uuid.Nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, uuid.Nil, err
	}

	identity, err := h.s.sessions.ReconnectRaw(ctx, raw)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return identity, identity.User.ContextID, nil
}

// signOffJWT handles opener tag `F`: sign-off via Google ID token, removing
// the authenticated user and everything it owns (spec §4.7, §6.1). Frame:
// token (u16 payload), context name (u8 string), CRC.
func (h *connHandler) signOffJWT(ctx context.Context, r *wire.Reader) error {
	token, err := r.LongPayload()
	if err != nil {
		return err
	}
	ctxName, err := r.ShortString()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}

	ctxRow, err := h.s.contexts.GetByName(ctx, ctxName)
	if err != nil {
		return auth.ErrAuthenticationFailed
	}
	user, err := h.s.sessions.VerifyGoogleUser(ctx, ctxRow.ID, string(token))
	if err != nil {
		return err
	}
	return h.s.sessions.SignOff(ctx, user.ID)
}

// signOffLocal handles opener tag `G`: sign-off via password (spec §6.1).
// Frame: email (u8 string), password (u8 string), context name (u8 string),
// CRC.
func (h *connHandler) signOffLocal(ctx context.Context, r *wire.Reader) error {
	email, err := r.ShortString()
	if err != nil {
		return err
	}
	password, err := r.ShortString()
	if err != nil {
		return err
	}
	ctxName, err := r.ShortString()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}

	ctxRow, err := h.s.contexts.GetByName(ctx, ctxName)
	if err != nil {
		return auth.ErrAuthenticationFailed
	}
	user, err := h.s.sessions.VerifyLocalUser(ctx, ctxRow.ID, email, password)
	if err != nil {
		return err
	}
	return h.s.sessions.SignOff(ctx, user.ID)
}
