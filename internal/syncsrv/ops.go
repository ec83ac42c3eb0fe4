package syncsrv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/authz"
	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/metrics"
	"github.com/beehive-sync/beehive/internal/repository"
	"github.com/beehive-sync/beehive/internal/share"
	"github.com/beehive-sync/beehive/internal/wire"
)

// dispatch reads and runs one authenticated operation (spec §4.9's
// tag-to-op map). The connection's read deadline is already set by the
// caller; dispatch only ever consumes exactly the bytes its op's frame
// declares, so the next tag byte is left for the caller to read.
func (h *connHandler) dispatch(ctx context.Context, tag byte) error {
	r := wire.NewReader(h.conn)
	tagLabel := string(tag)
	timer := metrics.NewTimer()

	var err error
	switch tag {
	case 'O':
		err = h.opSignOut(ctx, r)
	case 'e':
		err = h.opDeleteDataset(ctx, r)
	case 'g':
		err = h.opPushDataset(ctx, r)
	case 'i':
		err = h.opPopDataset(ctx, r)
	case 'r':
		err = h.opPutDataset(ctx, r)
	case 't':
		err = h.opPullDataset(ctx, r)
	case 's':
		err = h.opLeaveDataset(ctx, r)
	case 'k':
		err = h.opUpdateMember(ctx, r)
	case 'l':
		err = h.opDeleteMember(ctx, r)
	case 'z':
		err = h.opFullSync(ctx, r)
	default:
		_ = writeReplyCode(h.conn, codeTransmissionError)
		metrics.SyncOperationsTotal.WithLabelValues(tagLabel, "unknown").Inc()
		return fmt.Errorf("syncsrv: unknown operation tag %q", tag)
	}

	timer.ObserveSeconds(metrics.SyncOperationDuration, tagLabel)
	if err != nil {
		_ = writeReplyCode(h.conn, opErrorCode(err))
		outcome := "error"
		if errors.Is(err, io.EOF) {
			outcome = "closed"
		}
		metrics.SyncOperationsTotal.WithLabelValues(tagLabel, outcome).Inc()
		return err
	}
	metrics.SyncOperationsTotal.WithLabelValues(tagLabel, "ok").Inc()
	return nil
}

// opErrorCode maps a domain error to the wire response code of spec §6.1's
// operation response table.
func opErrorCode(err error) byte {
	switch {
	case errors.Is(err, wire.ErrTransmission):
		return codeTransmissionError
	case errors.Is(err, authz.ErrNotEnoughRights):
		return codeNotEnoughRights
	case errors.Is(err, authz.ErrInvalidSchema):
		return codeInvalidSchema
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, share.ErrExpired):
		return codeDataNotFound
	default:
		return codeInternalError
	}
}

// resolveCap resolves the caller's capability on datasetID at the
// connection's current schema version (spec §4.6).
func (h *connHandler) resolveCap(ctx context.Context, datasetID uuid.UUID) (*authz.Capability, error) {
	return h.s.authzr.Resolve(ctx, datasetID, h.identity.User.ID, h.registry, h.registry.CurrentVersion())
}

// opSignOut handles tag `O`: remove the authenticated node (device logout,
// spec §4.7). Empty frame body; ends the session.
func (h *connHandler) opSignOut(ctx context.Context, r *wire.Reader) error {
	if err := r.Finish(); err != nil {
		return err
	}
	if err := h.s.sessions.SignOut(ctx, h.identity.User.ID, h.identity.Node.ID); err != nil {
		return err
	}
	if err := writeReplyCode(h.conn, codeSuccess); err != nil {
		return err
	}
	return io.EOF
}

// opDeleteDataset handles tag `e`: delete a dataset, owner-only (spec §4.6).
// Frame: dataset uuid (16 binary), CRC.
func (h *connHandler) opDeleteDataset(ctx context.Context, r *wire.Reader) error {
	datasetID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}

	dataset, err := h.s.datasets.GetByID(ctx, datasetID)
	if err != nil {
		return err
	}
	if err := authz.RequireOwner(dataset, h.identity.User.ID); err != nil {
		return err
	}

	pushes, err := h.s.pushes.ListByDataset(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("syncsrv: listing pushes for delete: %w", err)
	}
	for _, p := range pushes {
		if err := h.s.pushes.Delete(ctx, p.UUID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("syncsrv: deleting push %s: %w", p.UUID, err)
		}
	}
	if err := h.s.members.DeleteAllForDataset(ctx, datasetID); err != nil {
		return fmt.Errorf("syncsrv: deleting members for dataset: %w", err)
	}
	if err := h.s.datasets.Delete(ctx, datasetID); err != nil {
		return fmt.Errorf("syncsrv: deleting dataset: %w", err)
	}
	return writeReplyCode(h.conn, codeSuccess)
}

// opPushDataset handles tag `g`: create a share token (spec §4.8 push).
// Frame: dataset uuid (16 binary), role uuid (16 binary), until (u64 unix
// seconds), number (u8, 0 = unlimited), CRC.
func (h *connHandler) opPushDataset(ctx context.Context, r *wire.Reader) error {
	datasetID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	roleID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	until, err := r.U64()
	if err != nil {
		return err
	}
	number, err := r.U8()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}

	push, err := h.s.shares.Push(ctx, datasetID, h.identity.User.ID, h.registry, h.registry.CurrentVersion(), roleID, int64(until), int(number))
	if err != nil {
		return err
	}

	w := wire.NewWriter(h.conn)
	if err := w.U8(codeSuccess); err != nil {
		return err
	}
	if err := w.ShortString(push.UUID); err != nil {
		return err
	}
	return w.Finish()
}

// opPopDataset handles tag `i`: accept a share token (spec §4.8 pop). Frame:
// dataset uuid (16 binary), push uuid (u8 string), new member name (u8
// string, may be empty), CRC.
func (h *connHandler) opPopDataset(ctx context.Context, r *wire.Reader) error {
	datasetID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	pushUUID, err := r.ShortString()
	if err != nil {
		return err
	}
	newName, err := r.ShortString()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}

	member, err := h.s.shares.Pop(ctx, datasetID, pushUUID, h.identity.User.ID, h.identity.User.Name, newName, time.Now())
	if err != nil {
		return err
	}

	w := wire.NewWriter(h.conn)
	if err := w.U8(codeSuccess); err != nil {
		return err
	}
	if err := w.UUIDBinary(member.Role); err != nil {
		return err
	}
	return w.Finish()
}

// opPutDataset handles tag `r`: invite a user directly by email (spec §4.6
// PUT). Frame: dataset uuid (16 binary), email (u8 string), name (u8
// string), role uuid (16 binary), CRC.
func (h *connHandler) opPutDataset(ctx context.Context, r *wire.Reader) error {
	datasetID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	email, err := r.ShortString()
	if err != nil {
		return err
	}
	name, err := r.ShortString()
	if err != nil {
		return err
	}
	roleID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}

	cap, err := h.resolveCap(ctx, datasetID)
	if err != nil {
		return err
	}
	if err := authz.RequireShareDataset(cap); err != nil {
		return err
	}
	sv, ok := h.registry.Version(h.registry.CurrentVersion())
	if !ok {
		return authz.ErrInvalidSchema
	}
	if _, ok := sv.Role(roleID); !ok {
		return authz.ErrInvalidSchema
	}

	if _, err := h.applyDirectInvite(ctx, datasetID, email, name, roleID); err != nil {
		return err
	}
	return writeReplyCode(h.conn, codeSuccess)
}

// applyDirectInvite finds or provisions a User by email within the
// connection's context and upserts it as an active Member of datasetID with
// roleID, sharing the "attach on first login" shape of a local sign-up
// against a pre-existing, passwordless account (spec §4.6, §4.7).
func (h *connHandler) applyDirectInvite(ctx context.Context, datasetID uuid.UUID, email, name string, roleID uuid.UUID) (*db.Member, error) {
	user, err := h.s.users.GetByIdentifier(ctx, h.contextID, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("syncsrv: resolving invitee: %w", err)
		}
		user = &db.User{
			ContextID:  h.contextID,
			Identifier: email,
			Name:       name,
			Type:       "internal",
		}
		if err := h.s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("syncsrv: provisioning invitee: %w", err)
		}
	}

	member, err := h.s.members.Get(ctx, datasetID, user.ID)
	switch {
	case err == nil:
		member.Role = roleID
		member.Status = 1
		if name != "" {
			member.Name = name
		}
		if err := h.s.members.Update(ctx, member); err != nil {
			return nil, fmt.Errorf("syncsrv: updating invitee membership: %w", err)
		}
	case errors.Is(err, repository.ErrNotFound):
		member = &db.Member{
			DatasetID: datasetID,
			UserID:    user.ID,
			Role:      roleID,
			Name:      name,
			Status:    1,
		}
		if err := h.s.members.Create(ctx, member); err != nil {
			return nil, fmt.Errorf("syncsrv: creating invitee membership: %w", err)
		}
	default:
		return nil, fmt.Errorf("syncsrv: loading invitee membership: %w", err)
	}
	return member, nil
}

// opPullDataset handles tag `t`: cancel a share token (spec §4.8 pull).
// Frame: dataset uuid (16 binary), push uuid (u8 string), CRC.
func (h *connHandler) opPullDataset(ctx context.Context, r *wire.Reader) error {
	datasetID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	pushUUID, err := r.ShortString()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}

	if err := h.s.shares.Pull(ctx, datasetID, h.identity.User.ID, h.registry, h.registry.CurrentVersion(), pushUUID); err != nil {
		return err
	}
	return writeReplyCode(h.conn, codeSuccess)
}

// opLeaveDataset handles tag `s`: the caller removes their own membership.
// Frame: dataset uuid (16 binary), CRC. Any member, regardless of role, may
// leave — this is not one of spec §4.6's gated operations.
func (h *connHandler) opLeaveDataset(ctx context.Context, r *wire.Reader) error {
	datasetID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}

	if err := h.s.members.Delete(ctx, datasetID, h.identity.User.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("syncsrv: leaving dataset: %w", err)
	}
	return writeReplyCode(h.conn, codeSuccess)
}

// opUpdateMember handles tag `k`: change a member's role (spec §4.6). Frame:
// dataset uuid (16 binary), target user uuid (16 binary), new role uuid (16
// binary), CRC.
func (h *connHandler) opUpdateMember(ctx context.Context, r *wire.Reader) error {
	datasetID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	targetUserID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	newRoleID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}

	if targetUserID == h.identity.User.ID {
		return authz.ErrNotEnoughRights
	}

	cap, err := h.resolveCap(ctx, datasetID)
	if err != nil {
		return err
	}
	if err := authz.RequireManageMembers(cap); err != nil {
		return err
	}
	sv, ok := h.registry.Version(h.registry.CurrentVersion())
	if !ok {
		return authz.ErrInvalidSchema
	}
	if _, ok := sv.Role(newRoleID); !ok {
		return authz.ErrInvalidSchema
	}

	target, err := h.s.members.Get(ctx, datasetID, targetUserID)
	if err != nil {
		return err
	}
	target.Role = newRoleID
	if err := h.s.members.Update(ctx, target); err != nil {
		return fmt.Errorf("syncsrv: updating member role: %w", err)
	}
	return writeReplyCode(h.conn, codeSuccess)
}

// opDeleteMember handles tag `l`: remove a member (spec §4.6). Frame:
// dataset uuid (16 binary), target user uuid (16 binary), CRC.
func (h *connHandler) opDeleteMember(ctx context.Context, r *wire.Reader) error {
	datasetID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	targetUserID, err := r.UUIDBinary()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}

	cap, err := h.resolveCap(ctx, datasetID)
	if err != nil {
		return err
	}
	if err := authz.RequireManageMembers(cap); err != nil {
		return err
	}

	if err := h.s.members.Delete(ctx, datasetID, targetUserID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("syncsrv: deleting member: %w", err)
	}
	return writeReplyCode(h.conn, codeSuccess)
}
