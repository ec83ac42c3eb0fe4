// Package authz resolves a caller's capabilities on a dataset from their
// Member row and the schema Role it names, and gates the operations listed
// in spec §4.6.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/repository"
	"github.com/beehive-sync/beehive/internal/schema"
)

var (
	// ErrNotEnoughRights is returned when the caller's role does not grant
	// the capability the operation requires.
	ErrNotEnoughRights = errors.New("authz: not enough rights")

	// ErrInvalidSchema is returned when an operation references a role or
	// entity the current schema version does not define — distinct from a
	// rights failure because it signals a schema/client mismatch rather
	// than a permission boundary.
	ErrInvalidSchema = errors.New("authz: invalid schema reference")
)

// Capability is a caller's resolved standing on a dataset: their Member row
// and the schema Role it names. The Require* functions gate operations on it.
type Capability struct {
	Member *db.Member
	Role   *schema.Role
}

// Resolver looks up the caller's membership and role for a dataset. It
// takes no schema.Registry at construction — one Resolver is shared across
// every context's connections (spec §2: the server is multi-tenant), and
// each context owns its own Registry, so the registry is supplied per call.
type Resolver struct {
	members repository.MemberRepository
}

// NewResolver returns a Resolver backed by the given repository.
func NewResolver(members repository.MemberRepository) *Resolver {
	return &Resolver{members: members}
}

// Resolve implements the capability-resolution rule that every gated
// operation starts from: "member = memberDAO.read(dataset, user); role =
// schema.role(member.role)". schemas is the caller's context registry,
// schemaVersion the schema version the caller's request named.
func (r *Resolver) Resolve(ctx context.Context, datasetID, userID uuid.UUID, schemas *schema.Registry, schemaVersion int) (*Capability, error) {
	member, err := r.members.Get(ctx, datasetID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotEnoughRights
		}
		return nil, fmt.Errorf("authz: resolving member: %w", err)
	}

	sv, ok := schemas.Version(schemaVersion)
	if !ok {
		return nil, ErrInvalidSchema
	}
	role, ok := sv.Role(member.Role)
	if !ok {
		return nil, ErrInvalidSchema
	}

	return &Capability{Member: member, Role: role}, nil
}

// RequireActive returns ErrNotEnoughRights unless the member's status is
// active (status == 1, spec §3 I5).
func RequireActive(cap *Capability) error {
	if cap.Member.Status != 1 {
		return ErrNotEnoughRights
	}
	return nil
}

// RequireReadMembers gates reading a dataset's member list.
func RequireReadMembers(cap *Capability) error {
	if !cap.Role.ReadMembers {
		return ErrNotEnoughRights
	}
	return nil
}

// RequireManageShare gates reading or cancelling outstanding share tokens.
func RequireManageShare(cap *Capability) error {
	if !cap.Role.ManageShare {
		return ErrNotEnoughRights
	}
	return nil
}

// RequireShareDataset gates creating a share token or inviting a user directly.
func RequireShareDataset(cap *Capability) error {
	if !cap.Role.ShareDataset {
		return ErrNotEnoughRights
	}
	return nil
}

// RequireManageMembers gates updating a member's role or removing a member.
// Callers must separately enforce "may never change own role".
func RequireManageMembers(cap *Capability) error {
	if !cap.Role.ManageMembers {
		return ErrNotEnoughRights
	}
	return nil
}

// RequireOwner gates dataset deletion to the dataset's owner.
func RequireOwner(dataset *db.Dataset, userID uuid.UUID) error {
	if dataset.OwnerID != userID {
		return ErrNotEnoughRights
	}
	return nil
}

// RequireTransaction gates submitting a Header: the role must allow the
// header's transaction. Which entities and operations the transaction may
// touch is not checked here.
func RequireTransaction(cap *Capability, txUUID uuid.UUID) error {
	if !cap.Role.AllowedTxs[txUUID] {
		return ErrNotEnoughRights
	}
	return nil
}
