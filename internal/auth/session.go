package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/repository"
)

// Identity is the authenticated pair returned by every sign-in path: the
// user and the specific node (device) that authenticated.
type Identity struct {
	User  *db.User
	Node  *db.Node
	Token string // reconnection token, empty after Reconnect
}

// Session implements sign-in, sign-up, reconnect, sign-out and sign-off
// (spec §4.7). It is the one place node keys are minted and checked.
type Session struct {
	users  repository.UserRepository
	nodes  repository.NodeRepository
	members repository.MemberRepository
	google *GoogleVerifier
}

// NewSession constructs a Session. google may be nil if the deployment has
// no Google client configured — SignInGoogle then always fails.
func NewSession(users repository.UserRepository, nodes repository.NodeRepository, members repository.MemberRepository, google *GoogleVerifier) *Session {
	return &Session{users: users, nodes: nodes, members: members, google: google}
}

// SignInLocal authenticates with a lowercase email and password against a
// User of type "internal" in the given context, then mints or rotates the
// node's key and returns a fresh reconnection token.
func (s *Session) SignInLocal(ctx context.Context, contextID uuid.UUID, email, password string, nodeID uuid.UUID) (*Identity, error) {
	user, err := s.VerifyLocalUser(ctx, contextID, email, password)
	if err != nil {
		return nil, err
	}
	return s.completeSignIn(ctx, user, nodeID)
}

// VerifyLocalUser checks email/password without minting a node, for sign-off
// (spec §6.1 `G`), which identifies the user to remove but never needs a
// session.
func (s *Session) VerifyLocalUser(ctx context.Context, contextID uuid.UUID, email, password string) (*db.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByIdentifier(ctx, contextID, email)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("auth: sign-in: %w", err)
	}
	if user.Type != "internal" {
		return nil, ErrUserDisabled
	}
	if !verifyPassword(password, user.PasswordHash) {
		return nil, ErrAuthenticationFailed
	}
	return user, nil
}

// SignInGoogle verifies a Google ID token, finds or creates the
// corresponding User (type "google"), then proceeds exactly as SignInLocal.
func (s *Session) SignInGoogle(ctx context.Context, contextID uuid.UUID, rawIDToken string, nodeID uuid.UUID) (*Identity, error) {
	user, err := s.verifyGoogle(ctx, contextID, rawIDToken, true)
	if err != nil {
		return nil, err
	}
	return s.completeSignIn(ctx, user, nodeID)
}

// VerifyGoogleUser verifies a Google ID token and resolves the existing User
// without minting a node or provisioning a new account, for sign-off (spec
// §6.1 `F`).
func (s *Session) VerifyGoogleUser(ctx context.Context, contextID uuid.UUID, rawIDToken string) (*db.User, error) {
	return s.verifyGoogle(ctx, contextID, rawIDToken, false)
}

func (s *Session) verifyGoogle(ctx context.Context, contextID uuid.UUID, rawIDToken string, provision bool) (*db.User, error) {
	if s.google == nil {
		return nil, ErrAuthenticationFailed
	}
	claims, err := s.google.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	email := strings.ToLower(claims.Email)
	user, err := s.users.GetByIdentifier(ctx, contextID, email)
	if err != nil {
		if !isRepoNotFound(err) {
			return nil, fmt.Errorf("auth: sign-in google: %w", err)
		}
		if !provision {
			return nil, ErrAuthenticationFailed
		}
		user = &db.User{
			ContextID:  contextID,
			Identifier: email,
			Name:       claims.Name,
			Type:       "google",
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("auth: provisioning google user: %w", err)
		}
	}
	if user.Type != "google" {
		return nil, ErrUserDisabled
	}

	return user, nil
}

// SignUp registers local credentials for an account. If the account already
// exists with no password (created by a direct invite, spec §4.6), the
// supplied password is attached. If it already has a password, the call
// behaves as a sign-in — it never silently overwrites credentials.
func (s *Session) SignUp(ctx context.Context, contextID uuid.UUID, email, password, name string, nodeID uuid.UUID) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByIdentifier(ctx, contextID, email)
	switch {
	case err == nil:
		if user.Type != "internal" {
			return nil, ErrUserDisabled
		}
		if user.PasswordHash == "" {
			hash, hashErr := HashPassword(password)
			if hashErr != nil {
				return nil, fmt.Errorf("auth: sign-up: %w", hashErr)
			}
			user.PasswordHash = hash
			if err := s.users.Update(ctx, user); err != nil {
				return nil, fmt.Errorf("auth: attaching credentials: %w", err)
			}
		} else if !verifyPassword(password, user.PasswordHash) {
			return nil, ErrAuthenticationFailed
		}
	case isRepoNotFound(err):
		hash, hashErr := HashPassword(password)
		if hashErr != nil {
			return nil, fmt.Errorf("auth: sign-up: %w", hashErr)
		}
		user = &db.User{
			ContextID:    contextID,
			Identifier:   email,
			Name:         name,
			Type:         "internal",
			PasswordHash: hash,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("auth: creating user: %w", err)
		}
	default:
		return nil, fmt.Errorf("auth: sign-up: %w", err)
	}

	return s.completeSignIn(ctx, user, nodeID)
}

// completeSignIn mints a fresh node key, upserts the Node, and returns the
// reconnection token.
func (s *Session) completeSignIn(ctx context.Context, user *db.User, nodeID uuid.UUID) (*Identity, error) {
	key := make([]byte, nodeKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("auth: generating node key: %w", err)
	}
	keyHex := hex.EncodeToString(key)

	node, err := s.nodes.Get(ctx, user.ID, nodeID)
	switch {
	case err == nil:
		node.Key = db.EncryptedString(keyHex)
		if err := s.nodes.Update(ctx, node); err != nil {
			return nil, fmt.Errorf("auth: rotating node key: %w", err)
		}
	case isRepoNotFound(err):
		node = &db.Node{
			UserID: user.ID,
			Key:    db.EncryptedString(keyHex),
		}
		node.ID = nodeID
		if err := s.nodes.Create(ctx, node); err != nil {
			return nil, fmt.Errorf("auth: registering node: %w", err)
		}
	default:
		return nil, fmt.Errorf("auth: loading node: %w", err)
	}

	token, err := encodeReconnectToken(key, nodeID, user.ID)
	if err != nil {
		return nil, err
	}

	return &Identity{User: user, Node: node, Token: token}, nil
}

// Reconnect decodes a base64 reconnection token, loads the named node and
// user, and requires the token's key to byte-match the node's stored key.
func (s *Session) Reconnect(ctx context.Context, token string) (*Identity, error) {
	candidateKey, nodeID, userID, err := decodeReconnectToken(token)
	if err != nil {
		return nil, err
	}
	return s.reconnect(ctx, candidateKey, nodeID, userID)
}

// ReconnectRaw is Reconnect for a token already split into raw bytes, as
// read directly off the wire by the `C` reconnect tag (spec §6.1).
func (s *Session) ReconnectRaw(ctx context.Context, raw []byte) (*Identity, error) {
	candidateKey, nodeID, userID, err := DecodeReconnectTokenRaw(raw)
	if err != nil {
		return nil, err
	}
	return s.reconnect(ctx, candidateKey, nodeID, userID)
}

func (s *Session) reconnect(ctx context.Context, candidateKey []byte, nodeID, userID uuid.UUID) (*Identity, error) {
	node, err := s.nodes.Get(ctx, userID, nodeID)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	storedKey, err := hex.DecodeString(string(node.Key))
	if err != nil || !constantTimeEqual(candidateKey, storedKey) {
		return nil, ErrAuthenticationFailed
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	return &Identity{User: user, Node: node}, nil
}

// SignOut removes a single node (device logout).
func (s *Session) SignOut(ctx context.Context, userID, nodeID uuid.UUID) error {
	if err := s.nodes.Delete(ctx, userID, nodeID); err != nil && !isRepoNotFound(err) {
		return fmt.Errorf("auth: sign-out: %w", err)
	}
	return nil
}

// SignOff removes the user, cascading to all of its nodes and memberships
// (spec §4.7).
func (s *Session) SignOff(ctx context.Context, userID uuid.UUID) error {
	if err := s.members.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("auth: sign-off: removing memberships: %w", err)
	}
	if err := s.nodes.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("auth: sign-off: removing nodes: %w", err)
	}
	if err := s.users.Delete(ctx, userID); err != nil && !isRepoNotFound(err) {
		return fmt.Errorf("auth: sign-off: removing user: %w", err)
	}
	return nil
}

func isRepoNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
