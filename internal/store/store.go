// Package store implements the header-log storage engine (spec §4.4): the
// two-phase apply path that takes one validated Header, allocates its
// idHeader, runs pre/post script hooks, applies its Changes to row storage,
// and records the result — all under a per-dataset exclusive lock so
// idHeader allocation is strictly serialized (spec §5).
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/codec"
	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/repository"
	"github.com/beehive-sync/beehive/internal/rowstore"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/validator"
)

// ScriptChange is the neutral, opaque-to-the-core shape of one row mutation
// handed to the pre/post script callbacks (spec §9).
type ScriptChange struct {
	Operation validator.Operation
	Entity    string
	NewPK     []byte
	NewData   []byte
	OldPK     []byte
	OldData   []byte
}

// ScriptHeader is the neutral, opaque-to-the-core shape of a header handed
// to the pre/post script callbacks.
type ScriptHeader struct {
	DatasetID   uuid.UUID
	NodeID      uuid.UUID
	IDNode      uint64
	Transaction string
	Version     int
	Changes     []ScriptChange
}

// Scripts is the embedded scripting runtime's replacement: an external
// collaborator invoked through exactly two opaque callbacks (spec §9). The
// core never interprets what pre/post scripts do; it only acts on the bool
// they return. Absence of a hook for a transaction means accept — that
// distinction lives entirely inside whatever implements this interface,
// since the core cannot tell "no hook" from "hook approved" apart and the
// spec treats them as synonyms.
type Scripts interface {
	Pre(ctx context.Context, h ScriptHeader) (bool, error)
	Post(ctx context.Context, h ScriptHeader) (bool, error)
}

// Request bundles one already-validated header awaiting the apply path.
// Validation (name resolution, structural checks, PK/data reshaping) has
// already happened in internal/validator; Request carries its Result.
type Request struct {
	DatasetID        uuid.UUID
	NodeID           uuid.UUID // author
	IDNode           uint64    // author's client-side sequence number (spec I2)
	TransactionName  string
	TransactionUUID  uuid.UUID
	Version          int
	ValidationResult validator.Result
	// ReportedIDHeader is the client's own view of the dataset's idHeader,
	// as declared in the Phase A/B per-dataset frame (spec §4.9); persisted
	// into Downloaded.LastIDHeader regardless of this header's outcome.
	ReportedIDHeader uint64
}

// Outcome is the final, persisted status of one header apply.
type Outcome struct {
	IDHeader uint64
	HeaderID uuid.UUID
	Status   validator.Code
}

// Engine is the header-log storage engine.
type Engine struct {
	tx         repository.Transactor
	datasets   repository.DatasetRepository
	headers    repository.HeaderRepository
	changes    repository.ChangeRepository
	downloaded repository.DownloadedRepository
	rows       *rowstore.Store
	registry   *schema.Registry

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// New constructs an Engine.
func New(
	tx repository.Transactor,
	datasets repository.DatasetRepository,
	headers repository.HeaderRepository,
	changes repository.ChangeRepository,
	downloaded repository.DownloadedRepository,
	rows *rowstore.Store,
	registry *schema.Registry,
) *Engine {
	return &Engine{
		tx:         tx,
		datasets:   datasets,
		headers:    headers,
		changes:    changes,
		downloaded: downloaded,
		rows:       rows,
		registry:   registry,
		locks:      map[uuid.UUID]*sync.Mutex{},
	}
}

// lockFor returns the exclusive lock for a dataset, creating it on first use.
// Per spec §5 this lock is never reentrant; callers must never acquire it
// twice on the same path.
func (e *Engine) lockFor(datasetID uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[datasetID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[datasetID] = l
	}
	return l
}

// Lock acquires the per-dataset exclusive lock and returns a release func,
// for callers that must hold it across more than Apply (spec §4.9 Phase C's
// server-download phase also takes this lock).
func (e *Engine) Lock(datasetID uuid.UUID) func() {
	l := e.lockFor(datasetID)
	l.Lock()
	return l.Unlock
}

// abortApply is returned from inside a transactional func to force a
// rollback of row-side effects without that rollback looking like a real
// persistence failure to the caller — the Header record survives because
// it is written in a separate, always-committed transaction.
type abortApply struct {
	code validator.Code
}

func (a *abortApply) Error() string { return "store: apply aborted" }

// Apply runs the full two-phase apply path of spec §4.4 for one validated
// header, under req.DatasetID's exclusive lock. sv must be the schema
// Version req.Version named (the caller resolves it once before calling, to
// avoid a registry lookup under the dataset lock). scripts may be nil.
func (e *Engine) Apply(ctx context.Context, req Request, sv *schema.Version, scripts Scripts) (Outcome, error) {
	unlock := e.Lock(req.DatasetID)
	defer unlock()

	status := req.ValidationResult.Code
	headerID := uuid.New()
	var idHeader uint64

	err := e.tx.WithinTx(ctx, func(tx repository.Tx) error {
		var allocErr error
		idHeader, allocErr = e.datasets.NextIDHeader(ctx, tx, req.DatasetID)
		if allocErr != nil {
			return fmt.Errorf("store: allocating idHeader: %w", allocErr)
		}
		h := &db.Header{
			DatasetID:       req.DatasetID,
			IDHeader:        idHeader,
			NodeID:          req.NodeID,
			IDNode:          req.IDNode,
			TransactionName: req.TransactionName,
			TransactionUUID: req.TransactionUUID,
			Version:         req.Version,
			Status:          int(status),
		}
		h.ID = headerID
		return e.headers.Create(ctx, tx, h)
	})
	if err != nil {
		return Outcome{}, err
	}

	if status == validator.Success {
		status, err = e.applyChanges(ctx, req, sv, headerID, idHeader, scripts)
		if err != nil {
			return Outcome{}, err
		}
		if status != validator.Success {
			if err := e.tx.WithinTx(ctx, func(tx repository.Tx) error {
				return e.headers.UpdateStatus(ctx, tx, headerID, int(status))
			}); err != nil {
				return Outcome{}, fmt.Errorf("store: persisting downgraded status: %w", err)
			}
		}
	}

	if err := e.tx.WithinTx(ctx, func(tx repository.Tx) error {
		return e.downloaded.UpsertTx(ctx, tx, &db.Downloaded{
			NodeID:           req.NodeID,
			DatasetID:        req.DatasetID,
			LastIDHeader:     req.ReportedIDHeader,
			LastAuthorIDNode: req.IDNode,
		})
	}); err != nil {
		return Outcome{}, fmt.Errorf("store: updating downloaded cursor: %w", err)
	}

	return Outcome{IDHeader: idHeader, HeaderID: headerID, Status: status}, nil
}

// applyChanges runs the pre-script, each Change in order, and the
// post-script, rolling back all row-side effects of this header unless
// every step succeeds (spec §4.4 steps 2-3).
func (e *Engine) applyChanges(ctx context.Context, req Request, sv *schema.Version, headerID uuid.UUID, idHeader uint64, scripts Scripts) (validator.Code, error) {
	scriptHdr := toScriptHeader(req)

	if scripts != nil {
		ok, err := scripts.Pre(ctx, scriptHdr)
		if err != nil {
			return 0, fmt.Errorf("store: pre-script: %w", err)
		}
		if !ok {
			return validator.UserValidation, nil
		}
	}

	finalStatus := validator.Success
	var persisted []db.Change

	txErr := e.tx.WithinTx(ctx, func(tx repository.Tx) error {
		for _, ch := range req.ValidationResult.Changes {
			if ch.Code == validator.SkipEntity {
				continue
			}

			entity, ok := sv.Entity(ch.EntityUUID)
			if !ok {
				finalStatus = validator.EntityDefinition
				return &abortApply{code: finalStatus}
			}
			if err := e.rows.EnsureTable(ctx, entity); err != nil {
				return fmt.Errorf("store: ensuring row table: %w", err)
			}

			code, err := e.applyChange(ctx, tx, entity, req.DatasetID, ch)
			if err != nil {
				return fmt.Errorf("store: applying change %d: %w", ch.IDChange, err)
			}
			if code != validator.Success {
				finalStatus = code
				return &abortApply{code: finalStatus}
			}

			persisted = append(persisted, db.Change{
				DatasetID:  req.DatasetID,
				IDHeader:   idHeader,
				IDChange:   ch.IDChange,
				Operation:  int(ch.Operation),
				EntityName: ch.EntityName,
				EntityUUID: ch.EntityUUID,
				NewPK:      ch.NewPK,
				NewData:    ch.NewData,
				OldPK:      ch.OldPK,
				OldData:    ch.OldData,
			})
		}

		if scripts != nil {
			ok, err := scripts.Post(ctx, scriptHdr)
			if err != nil {
				return fmt.Errorf("store: post-script: %w", err)
			}
			if !ok {
				finalStatus = validator.UserValidation
				return &abortApply{code: finalStatus}
			}
		}

		return e.changes.CreateBatch(ctx, tx, persisted)
	})

	if txErr != nil {
		var abort *abortApply
		if errors.As(txErr, &abort) {
			return abort.code, nil
		}
		return 0, txErr
	}
	return finalStatus, nil
}

// applyChange is the row-level dispatch of spec §4.5.
func (e *Engine) applyChange(ctx context.Context, tx repository.Tx, entity *schema.Entity, datasetID uuid.UUID, ch validator.ReshapedChange) (validator.Code, error) {
	switch ch.Operation {
	case validator.Insert:
		err := e.rows.Insert(ctx, tx.DB(), entity, datasetID, ch.NewPK, ch.NewData)
		return rowErrToCode(err, validator.DuplicatedEntity)

	case validator.Update:
		stored, err := e.rows.Get(ctx, tx.DB(), entity, datasetID, ch.OldPK)
		if err != nil {
			return rowErrToCode(err, validator.EntityNotFound)
		}
		storedRecs, decErr := codec.Decode(stored)
		if decErr != nil {
			return validator.NotValidIncomeData, nil
		}
		incomingRecs, decErr := codec.Decode(ch.NewData)
		if decErr != nil {
			return validator.NotValidIncomeData, nil
		}
		merged := codec.Merge(storedRecs, incomingRecs)
		err = e.rows.Update(ctx, tx.DB(), entity, datasetID, ch.OldPK, merged)
		return rowErrToCode(err, validator.EntityNotFound)

	case validator.Delete:
		err := e.rows.Delete(ctx, tx.DB(), entity, datasetID, ch.OldPK)
		return rowErrToCode(err, validator.EntityNotFound)

	default:
		return validator.NotValidOperation, nil
	}
}

func rowErrToCode(err error, notFoundOrDuplicate validator.Code) (validator.Code, error) {
	if err == nil {
		return validator.Success, nil
	}
	if errors.Is(err, rowstore.ErrDuplicateKey) || errors.Is(err, rowstore.ErrRowNotFound) {
		return notFoundOrDuplicate, nil
	}
	return 0, err
}

func toScriptHeader(req Request) ScriptHeader {
	sh := ScriptHeader{
		DatasetID:   req.DatasetID,
		NodeID:      req.NodeID,
		IDNode:      req.IDNode,
		Transaction: req.TransactionName,
		Version:     req.Version,
	}
	for _, ch := range req.ValidationResult.Changes {
		if ch.Code == validator.SkipEntity {
			continue
		}
		sh.Changes = append(sh.Changes, ScriptChange{
			Operation: ch.Operation,
			Entity:    ch.EntityName,
			NewPK:     ch.NewPK,
			NewData:   ch.NewData,
			OldPK:     ch.OldPK,
			OldData:   ch.OldData,
		})
	}
	return sh
}
