package syncsrv

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/authz"
	"github.com/beehive-sync/beehive/internal/codec"
	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/metrics"
	"github.com/beehive-sync/beehive/internal/repository"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/store"
	"github.com/beehive-sync/beehive/internal/validator"
	"github.com/beehive-sync/beehive/internal/wire"
)

// headerListPageSize bounds each ListSince batch during Phase C's
// incremental download, so one sync session never holds an unbounded
// result set in memory.
const headerListPageSize = 500

// opFullSync drives the full-sync FSM of spec §4.9 for tag `z`: client
// declares its datasets (Phase A), uploads local headers (Phase B), then
// for every dataset the caller belongs to, downloads whatever it's missing
// (Phase C).
func (h *connHandler) opFullSync(ctx context.Context, r *wire.Reader) error {
	if err := h.fullSyncPhaseA(r); err != nil {
		return err
	}
	if err := h.fullSyncPhaseB(ctx); err != nil {
		return err
	}
	if err := h.fullSyncPhaseC(ctx); err != nil {
		return err
	}
	return writeReplyCode(h.conn, codeSuccess)
}

// fullSyncPhaseA reads the client's declared dataset list. The list itself
// is not load-bearing for what follows — Phase B validates each upload
// against the dataset's actual existence/membership, and Phase C re-derives
// the authoritative set from the caller's current memberships — so this
// phase only needs to consume exactly the bytes the client sent.
func (h *connHandler) fullSyncPhaseA(r *wire.Reader) error {
	count, err := r.U16()
	if err != nil {
		return err
	}
	for i := uint16(0); i < count; i++ {
		if _, err := r.UUIDText(); err != nil {
			return err
		}
	}
	return r.Finish()
}

// fullSyncPhaseB reads zero or more newContainerAvailable uploads (spec
// §4.9 Phase B). The frame count prefixing this list, and the count
// prefixing each upload's optional invite/header sub-streams, are this
// implementation's own convention — the spec names these
// lists "zero or more" without giving them an explicit wire count.
func (h *connHandler) fullSyncPhaseB(ctx context.Context) error {
	count, err := readRawU16(h.conn)
	if err != nil {
		return err
	}
	for i := uint16(0); i < count; i++ {
		if err := h.fullSyncUpload(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *connHandler) fullSyncUpload(ctx context.Context) error {
	r := wire.NewReader(h.conn)
	datasetID, err := r.UUIDText()
	if err != nil {
		return err
	}
	reportedIDHeader, err := r.U32()
	if err != nil {
		return err
	}
	status, err := r.U8()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}

	dataset, err := h.s.datasets.GetByID(ctx, datasetID)
	switch {
	case err == nil:
		// existing dataset; nothing to do here
	case errors.Is(err, repository.ErrNotFound):
		if status != 2 {
			return authz.ErrNotEnoughRights
		}
		sv, ok := h.registry.Version(h.registry.CurrentVersion())
		if !ok {
			return authz.ErrInvalidSchema
		}
		defaultRole, ok := sv.DefaultRole()
		if !ok {
			return authz.ErrInvalidSchema
		}
		dataset = &db.Dataset{OwnerID: h.identity.User.ID, Status: 1}
		dataset.ID = datasetID
		if err := h.s.datasets.Create(ctx, dataset); err != nil {
			return fmt.Errorf("syncsrv: creating dataset: %w", err)
		}
		member := &db.Member{
			DatasetID: datasetID,
			UserID:    h.identity.User.ID,
			Role:      defaultRole.UUID,
			Name:      h.identity.User.Name,
			Status:    1,
		}
		if err := h.s.members.Create(ctx, member); err != nil {
			return fmt.Errorf("syncsrv: creating default member: %w", err)
		}
	default:
		return fmt.Errorf("syncsrv: loading dataset: %w", err)
	}

	cursor, err := h.s.downloaded.Get(ctx, h.identity.Node.ID, datasetID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("syncsrv: loading downloaded cursor: %w", err)
		}
		cursor = &db.Downloaded{NodeID: h.identity.Node.ID, DatasetID: datasetID}
	}
	if uint64(reportedIDHeader) > cursor.LastIDHeader {
		cursor.LastIDHeader = uint64(reportedIDHeader)
		if err := h.s.downloaded.Upsert(ctx, cursor); err != nil {
			return fmt.Errorf("syncsrv: updating downloaded cursor: %w", err)
		}
	}

	if err := h.fullSyncInvites(ctx, datasetID); err != nil {
		return err
	}
	return h.fullSyncHeaders(ctx, datasetID, uint64(reportedIDHeader), cursor)
}

// fullSyncInvites reads the optional newElementAvailable sub-stream of
// direct invites (spec §4.9 Phase B), each its own CRC-framed tuple.
func (h *connHandler) fullSyncInvites(ctx context.Context, datasetID uuid.UUID) error {
	count, err := readRawU16(h.conn)
	if err != nil {
		return err
	}
	for i := uint16(0); i < count; i++ {
		r := wire.NewReader(h.conn)
		email, err := r.ShortString()
		if err != nil {
			return err
		}
		name, err := r.ShortString()
		if err != nil {
			return err
		}
		roleID, err := r.UUIDText()
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
		if _, err := h.applyDirectInvite(ctx, datasetID, email, name, roleID); err != nil {
			return err
		}
	}
	return nil
}

// fullSyncHeaders reads the optional newGroupAvailable sub-stream of
// Headers (spec §4.9 Phase B): each header frame owns its own running CRC,
// covering its fields and every nested Change, closed by the header's own
// finalCRC. Only the change-count prefix within a header is this
// implementation's own convention.
func (h *connHandler) fullSyncHeaders(ctx context.Context, datasetID uuid.UUID, reportedIDHeader uint64, cursor *db.Downloaded) error {
	count, err := readRawU16(h.conn)
	if err != nil {
		return err
	}
	for i := uint16(0); i < count; i++ {
		if err := h.fullSyncOneHeader(ctx, datasetID, reportedIDHeader, cursor); err != nil {
			return err
		}
	}
	return nil
}

func (h *connHandler) fullSyncOneHeader(ctx context.Context, datasetID uuid.UUID, reportedIDHeader uint64, cursor *db.Downloaded) error {
	r := wire.NewReader(h.conn)
	idNode, err := r.U32()
	if err != nil {
		return err
	}
	txName, err := r.ShortString()
	if err != nil {
		return err
	}
	version, err := r.U32()
	if err != nil {
		return err
	}

	changeCount, err := readRawU16(h.conn)
	if err != nil {
		return err
	}
	changes := make([]validator.ChangeInput, 0, changeCount)
	for j := uint16(0); j < changeCount; j++ {
		idChange, err := r.U16()
		if err != nil {
			return err
		}
		operation, err := r.U8()
		if err != nil {
			return err
		}
		entityName, err := r.ShortString()
		if err != nil {
			return err
		}
		newPK, err := readShortBytes(r)
		if err != nil {
			return err
		}
		oldPK, err := readShortBytes(r)
		if err != nil {
			return err
		}
		newData, err := r.LongPayload()
		if err != nil {
			return err
		}
		oldData, err := r.LongPayload()
		if err != nil {
			return err
		}
		changes = append(changes, validator.ChangeInput{
			IDChange:  int(idChange),
			Operation: validator.Operation(operation),
			Entity:    entityName,
			NewPK:     newPK,
			NewData:   newData,
			OldPK:     oldPK,
			OldData:   oldData,
		})
	}
	if err := r.Finish(); err != nil {
		return err
	}

	if uint64(idNode) <= cursor.LastAuthorIDNode {
		metrics.HeaderApplyTotal.WithLabelValues("stale").Inc()
		return nil // stale/duplicate upload from this author, spec §5
	}

	cap, err := h.resolveCap(ctx, datasetID)
	if err != nil || authz.RequireActive(cap) != nil {
		metrics.HeaderApplyTotal.WithLabelValues("inactive_member").Inc()
		return nil // no-longer-active member: drop per spec §4.9 Phase B
	}

	sv, ok := h.registry.Version(int(version))
	if !ok {
		metrics.HeaderApplyTotal.WithLabelValues("unknown_version").Inc()
		return nil // unknown client version: drop, can't validate
	}

	result, err := validator.Validate(validator.HeaderInput{Transaction: txName, Version: int(version), Changes: changes}, sv)
	if err != nil {
		metrics.HeaderApplyTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("syncsrv: validating header: %w", err)
	}
	if result.Code == validator.Success {
		if err := authz.RequireTransaction(cap, result.TransactionUUID); err != nil {
			metrics.HeaderApplyTotal.WithLabelValues("rejected").Inc()
			return nil // unauthorized transaction: drop, per spec §4.6
		}
	}

	_, err = h.s.engine.Apply(ctx, store.Request{
		DatasetID:        datasetID,
		NodeID:           h.identity.Node.ID,
		IDNode:           uint64(idNode),
		TransactionName:  txName,
		TransactionUUID:  result.TransactionUUID,
		Version:          int(version),
		ValidationResult: result,
		ReportedIDHeader: reportedIDHeader,
	}, sv, h.s.scripts)
	if err != nil {
		metrics.HeaderApplyTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("syncsrv: applying header: %w", err)
	}

	metrics.HeaderApplyTotal.WithLabelValues("applied").Inc()
	cursor.LastAuthorIDNode = uint64(idNode)
	return nil
}

// fullSyncPhaseC downloads, for each dataset the caller currently belongs
// to, whatever the caller's node hasn't seen yet (spec §4.9 Phase C).
func (h *connHandler) fullSyncPhaseC(ctx context.Context) error {
	memberships, _, err := h.s.members.ListByUser(ctx, h.identity.User.ID, repository.ListOptions{Limit: 500})
	if err != nil {
		return fmt.Errorf("syncsrv: listing memberships: %w", err)
	}

	for _, m := range memberships {
		if m.Status != 1 {
			continue
		}
		if err := h.fullSyncDownloadDataset(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (h *connHandler) fullSyncDownloadDataset(ctx context.Context, member db.Member) error {
	unlock := h.s.engine.Lock(member.DatasetID)
	defer unlock()

	dataset, err := h.s.datasets.GetByID(ctx, member.DatasetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("syncsrv: loading dataset: %w", err)
	}

	sv, ok := h.registry.Version(h.registry.CurrentVersion())
	if !ok {
		return authz.ErrInvalidSchema
	}
	role, ok := sv.Role(member.Role)
	if !ok {
		return authz.ErrInvalidSchema
	}
	module, _ := sv.ModuleByName(h.identity.Node.Module)

	if err := h.writeNewContainer(dataset); err != nil {
		return err
	}
	if role.ReadMembers {
		if err := h.writeMembers(ctx, sv, member.DatasetID); err != nil {
			return err
		}
	} else if err := writeRawU16(h.conn, 0); err != nil {
		return err
	}
	if role.ManageShare {
		if err := h.writePushes(ctx, sv, member.DatasetID); err != nil {
			return err
		}
	} else if err := writeRawU16(h.conn, 0); err != nil {
		return err
	}

	cursor, err := h.s.downloaded.Get(ctx, h.identity.Node.ID, member.DatasetID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("syncsrv: loading downloaded cursor: %w", err)
		}
		cursor = &db.Downloaded{NodeID: h.identity.Node.ID, DatasetID: member.DatasetID}
	}

	if cursor.LastIDHeader == 0 && cursor.LastAuthorIDNode == 0 {
		if err := h.writeSnapshot(ctx, sv, member.DatasetID, role, module); err != nil {
			return err
		}
	} else if err := h.writeIncremental(ctx, member.DatasetID, cursor.LastIDHeader, role, module); err != nil {
		return err
	}

	cursor.LastIDHeader = dataset.IDHeader
	if err := h.s.downloaded.Upsert(ctx, cursor); err != nil {
		return fmt.Errorf("syncsrv: advancing downloaded cursor: %w", err)
	}
	return nil
}

func (h *connHandler) writeNewContainer(dataset *db.Dataset) error {
	if err := writeReplyCode(h.conn, codeNewContainerAvailable); err != nil {
		return err
	}
	w := wire.NewWriter(h.conn)
	if err := w.UUIDText(dataset.ID); err != nil {
		return err
	}
	if err := w.U32(uint32(dataset.IDHeader)); err != nil {
		return err
	}
	return w.Finish()
}

func (h *connHandler) writeMembers(ctx context.Context, sv *schema.Version, datasetID uuid.UUID) error {
	members, _, err := h.s.members.ListByDataset(ctx, datasetID, repository.ListOptions{Limit: 500})
	if err != nil {
		return fmt.Errorf("syncsrv: listing members: %w", err)
	}
	if err := writeRawU16(h.conn, uint16(len(members))); err != nil {
		return err
	}
	for _, m := range members {
		roleName := "Unknown"
		if role, ok := sv.Role(m.Role); ok {
			roleName = role.Name
		}
		email := ""
		if user, err := h.s.users.GetByID(ctx, m.UserID); err == nil {
			email = user.Identifier
		}

		if err := writeReplyCode(h.conn, codeNewGroupAvailable); err != nil {
			return err
		}
		w := wire.NewWriter(h.conn)
		if err := w.UUIDBinary(m.UserID); err != nil {
			return err
		}
		if err := w.ShortString(roleName); err != nil {
			return err
		}
		if err := w.ShortString(email); err != nil {
			return err
		}
		if err := w.ShortString(m.Name); err != nil {
			return err
		}
		if err := w.U8(uint8(m.Status)); err != nil {
			return err
		}
		if err := w.Finish(); err != nil {
			return err
		}
	}
	return nil
}

func (h *connHandler) writePushes(ctx context.Context, sv *schema.Version, datasetID uuid.UUID) error {
	pushes, err := h.s.pushes.ListByDataset(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("syncsrv: listing pushes: %w", err)
	}
	if err := writeRawU16(h.conn, uint16(len(pushes))); err != nil {
		return err
	}
	for _, p := range pushes {
		roleName := "Unknown"
		if role, ok := sv.Role(p.Role); ok {
			roleName = role.Name
		}

		if err := writeReplyCode(h.conn, codeNewGroupAvailable); err != nil {
			return err
		}
		w := wire.NewWriter(h.conn)
		if err := w.ShortString(p.UUID); err != nil {
			return err
		}
		if err := w.ShortString(roleName); err != nil {
			return err
		}
		if err := w.U64(uint64(p.Until)); err != nil {
			return err
		}
		if err := w.U8(uint8(p.Number)); err != nil {
			return err
		}
		if err := w.Finish(); err != nil {
			return err
		}
	}
	return nil
}

// writeSnapshot streams every visible row of every entity for a first-time
// sync pair (spec §4.9 Phase C.iv).
func (h *connHandler) writeSnapshot(ctx context.Context, sv *schema.Version, datasetID uuid.UUID, role *schema.Role, module *schema.Module) error {
	var idChange uint16
	for _, entity := range sv.Entities() {
		rows, err := h.s.rows.All(ctx, entity, datasetID)
		if err != nil {
			return fmt.Errorf("syncsrv: snapshotting entity %s: %w", entity.Name, err)
		}
		for _, row := range rows {
			data := filterVisible(row.Data, entity.UUID, role, module)
			if err := writeReplyCode(h.conn, codeNewElementAvailable); err != nil {
				return err
			}
			w := wire.NewWriter(h.conn)
			if err := w.U16(idChange); err != nil {
				return err
			}
			if err := w.U8(uint8(validator.Insert)); err != nil {
				return err
			}
			if err := w.ShortString(entity.Name); err != nil {
				return err
			}
			if err := writeShortBytes(w, row.Key); err != nil {
				return err
			}
			if err := writeShortBytes(w, nil); err != nil {
				return err
			}
			if err := w.LongPayload(data); err != nil {
				return err
			}
			if err := w.LongPayload(nil); err != nil {
				return err
			}
			if err := w.Finish(); err != nil {
				return err
			}
			idChange++
		}
	}
	return nil
}

// writeIncremental streams Headers with idHeader > afterIDHeader (spec
// §4.9 Phase C.v).
func (h *connHandler) writeIncremental(ctx context.Context, datasetID uuid.UUID, afterIDHeader uint64, role *schema.Role, module *schema.Module) error {
	for {
		batch, err := h.s.headers.ListSince(ctx, datasetID, afterIDHeader, headerListPageSize)
		if err != nil {
			return fmt.Errorf("syncsrv: listing headers: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		for _, hdr := range batch {
			if err := h.writeOneHeader(ctx, hdr, role, module); err != nil {
				return err
			}
			afterIDHeader = hdr.IDHeader
		}
		if len(batch) < headerListPageSize {
			return nil
		}
	}
}

func (h *connHandler) writeOneHeader(ctx context.Context, hdr db.Header, role *schema.Role, module *schema.Module) error {
	ownHeader := hdr.NodeID == h.identity.Node.ID
	if !ownHeader && hdr.Status != int(validator.Success) {
		return nil // peer-authored failed header: drop, spec §4.9 Phase C.v
	}

	var changes []db.Change
	if !ownHeader {
		var err error
		changes, err = h.s.changes.ListByHeader(ctx, hdr.DatasetID, hdr.IDHeader)
		if err != nil {
			return fmt.Errorf("syncsrv: listing changes: %w", err)
		}
	}

	if err := writeReplyCode(h.conn, codeNewGroupAvailable); err != nil {
		return err
	}
	w := wire.NewWriter(h.conn)

	idNode := hdr.IDNode
	status := hdr.Status
	if !ownHeader {
		idNode = 0
		status = int(validator.Approved)
	}
	if err := w.U32(uint32(idNode)); err != nil {
		return err
	}
	if err := w.U8(uint8(status)); err != nil {
		return err
	}
	if err := w.U16(uint16(len(changes))); err != nil {
		return err
	}
	for _, ch := range changes {
		newData, oldData := ch.NewData, ch.OldData
		if !ownHeader {
			newData = filterVisible(newData, ch.EntityUUID, role, module)
			oldData = filterVisible(oldData, ch.EntityUUID, role, module)
		}
		if err := w.U16(uint16(ch.IDChange)); err != nil {
			return err
		}
		if err := w.U8(uint8(ch.Operation)); err != nil {
			return err
		}
		if err := w.ShortString(ch.EntityName); err != nil {
			return err
		}
		if err := writeShortBytes(w, ch.NewPK); err != nil {
			return err
		}
		if err := writeShortBytes(w, ch.OldPK); err != nil {
			return err
		}
		if err := w.LongPayload(newData); err != nil {
			return err
		}
		if err := w.LongPayload(oldData); err != nil {
			return err
		}
	}
	return w.Finish()
}

// filterVisible re-encodes data keeping only attributes both the caller's
// role and (if the node declared one) its module mark visible for entityID.
// A nil mask means the schema declares no restriction for that entity, so
// every attribute passes (spec §4.9 Phase C.v: "visible mask ... derived
// from role ∩ module").
func filterVisible(data []byte, entityID uuid.UUID, role *schema.Role, module *schema.Module) []byte {
	if len(data) == 0 {
		return data
	}
	recs, err := codec.Decode(data)
	if err != nil {
		return data
	}

	roleMask := role.VisibleAttrs[entityID]
	var moduleMask map[int]bool
	if module != nil {
		moduleMask = module.VisibleAttrs[entityID]
	}

	b := codec.NewBuilder(len(data))
	for _, rec := range recs {
		if roleMask != nil && !roleMask[rec.ID] {
			continue
		}
		if moduleMask != nil && !moduleMask[rec.ID] {
			continue
		}
		b.PutValue(rec.ID, rec.Value)
	}
	return b.Bytes()
}
