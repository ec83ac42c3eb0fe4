// Package validator implements structural and authorization checks on an
// incoming header against a schema version (spec §4.3), and reshapes
// wire-form PK/data tuples into the binary form the storage engine persists.
package validator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/codec"
	"github.com/beehive-sync/beehive/internal/schema"
)

// Code is the numeric validation outcome, also persisted as Header.Status
// (spec §4.3 table).
type Code int

const (
	Success             Code = 0
	Approved            Code = 1
	SkipEntity          Code = 9
	EntityNotFound      Code = 10
	DuplicatedEntity    Code = 110
	NotValidIncomeData  Code = 120
	NotValidOperation   Code = 130
	EntityDefinition    Code = 140
	UserValidation      Code = 150
)

// Operation is the kind of row mutation a Change performs.
type Operation int

const (
	Insert Operation = iota
	Update
	Delete
)

// ChangeInput is one wire-form row mutation awaiting validation.
type ChangeInput struct {
	IDChange  int
	Operation Operation
	Entity    string
	NewPK     []byte // encoded attribute tuple, text form (see codec package)
	NewData   []byte
	OldPK     []byte
	OldData   []byte
}

// HeaderInput is a decoded header awaiting validation, addressed by name
// per spec §4.3 ("resolve names to uuids against the header's declared
// schema version").
type HeaderInput struct {
	Transaction string
	Version     int
	Changes     []ChangeInput
}

// ReshapedChange is a Change with its PK/data tuples reshaped into binary
// form (spec §4.1), plus the resolved entity/transaction identity.
type ReshapedChange struct {
	IDChange   int
	Operation  Operation
	EntityUUID uuid.UUID
	EntityName string
	NewPK      []byte
	NewData    []byte
	OldPK      []byte
	OldData    []byte
	Code       Code // SkipEntity for dropped changes, Success otherwise
}

// Result is the outcome of validating a whole header.
type Result struct {
	Code            Code
	TransactionUUID uuid.UUID
	Changes         []ReshapedChange // changes up to and including the failing one; SkipEntity changes are omitted from storage but kept here for audit
}

// Validate checks hdr against the given schema version and reshapes its
// changes into binary form. It never returns a Go error for a structurally
// or semantically invalid header — those become a non-success Result.Code
// per spec §7 ("validator/apply failures are recorded, not thrown"). A
// non-nil error indicates something the caller must treat as internal
// (e.g. a schema version lookup that should have already happened).
func Validate(hdr HeaderInput, sv *schema.Version) (Result, error) {
	tx, ok := sv.TransactionByName(hdr.Transaction)
	if !ok {
		return Result{Code: EntityDefinition}, nil
	}

	res := Result{Code: Success, TransactionUUID: tx.UUID}

	for _, ch := range hdr.Changes {
		rc, code := validateChange(ch, tx, sv)
		rc.Code = code

		if code == SkipEntity {
			res.Changes = append(res.Changes, rc)
			continue
		}
		if code != Success {
			res.Code = code
			res.Changes = append(res.Changes, rc)
			break
		}
		res.Changes = append(res.Changes, rc)
	}

	return res, nil
}

func validateChange(ch ChangeInput, tx *schema.Transaction, sv *schema.Version) (ReshapedChange, Code) {
	rc := ReshapedChange{IDChange: ch.IDChange, Operation: ch.Operation, EntityName: ch.Entity}

	entity, ok := sv.EntityByName(ch.Entity)
	if !ok {
		return rc, SkipEntity
	}
	rc.EntityUUID = entity.UUID

	view, hasView := tx.Entity[entity.UUID]
	if !hasView {
		return rc, NotValidOperation
	}

	switch ch.Operation {
	case Insert:
		if !view.Add {
			return rc, NotValidOperation
		}
		newPK, code := reshapeKeys(ch.NewPK, entity)
		if code != Success {
			return rc, code
		}
		newData, code := reshapeData(ch.NewData, entity, view.UpdateIDs, true)
		if code != Success {
			return rc, code
		}
		rc.NewPK, rc.NewData = newPK, newData
		return rc, Success

	case Update:
		if len(view.UpdateIDs) == 0 {
			return rc, NotValidOperation
		}
		newPK, code := reshapeKeys(ch.NewPK, entity)
		if code != Success {
			return rc, code
		}
		oldPK, code := reshapeKeys(ch.OldPK, entity)
		if code != Success {
			return rc, code
		}
		newData, code := reshapeData(ch.NewData, entity, view.UpdateIDs, false)
		if code != Success {
			return rc, code
		}
		rc.NewPK, rc.OldPK, rc.NewData = newPK, oldPK, newData
		return rc, Success

	case Delete:
		if !view.Remove {
			return rc, NotValidOperation
		}
		oldPK, code := reshapeKeys(ch.OldPK, entity)
		if code != Success {
			return rc, code
		}
		rc.OldPK = oldPK
		return rc, Success

	default:
		return rc, NotValidOperation
	}
}

// reshapeKeys validates a PK tuple (every declared key present, non-null,
// type-compatible, unique) and re-encodes it in binary form.
func reshapeKeys(buf []byte, entity *schema.Entity) ([]byte, Code) {
	recs, err := codec.Decode(buf)
	if err != nil {
		return nil, NotValidIncomeData
	}

	seen := map[int]bool{}
	b := codec.NewBuilder(len(recs) * 8)

	for _, r := range recs {
		key, ok := entity.KeyByID(r.ID)
		if !ok {
			return nil, EntityDefinition // unknown key ids abort, like a missing declared key below
		}
		if seen[r.ID] {
			return nil, NotValidIncomeData
		}
		seen[r.ID] = true

		if r.Value.Type == codec.TypeNull {
			return nil, NotValidIncomeData
		}
		if !keyTypeCompatible(key.Type, r.Value.Type) {
			return nil, NotValidIncomeData
		}
		if key.Type == schema.TypeUuidV1 {
			if !validUUIDv1(r.Value.S) {
				return nil, NotValidIncomeData
			}
		}
		b.PutValue(r.ID, r.Value)
	}

	for _, k := range entity.Keys {
		if !seen[k.ID] {
			return nil, EntityDefinition
		}
	}

	return b.Bytes(), Success
}

// reshapeData validates a data tuple: unknown attributes are dropped, and
// nothing is logged or reported for them; missing notnull attributes abort, non-null
// values must match their declared type and pass any compiled check, and
// duplicate attribute ids abort. allowedIDs restricts which attributes the
// transaction may touch; for Insert it is ignored (an insert may set any
// declared attribute).
func reshapeData(buf []byte, entity *schema.Entity, allowedIDs map[int]bool, isInsert bool) ([]byte, Code) {
	recs, err := codec.Decode(buf)
	if err != nil {
		return nil, NotValidIncomeData
	}

	seen := map[int]bool{}
	b := codec.NewBuilder(len(recs) * 8)
	present := map[int]bool{}

	for _, r := range recs {
		attr, ok := entity.AttributeByID(r.ID)
		if !ok {
			continue // unknown attribute: dropped, header continues (spec §3 I4)
		}
		if seen[r.ID] {
			return nil, NotValidIncomeData
		}
		seen[r.ID] = true

		if !isInsert && !allowedIDs[r.ID] {
			return nil, NotValidOperation
		}

		if r.Value.Type == codec.TypeNull {
			if attr.NotNull {
				return nil, NotValidIncomeData
			}
			b.PutValue(r.ID, r.Value)
			present[r.ID] = true
			continue
		}

		if !attrTypeCompatible(attr.Type, r.Value.Type) {
			return nil, NotValidIncomeData
		}
		if !attr.Check.Accept(r.Value) {
			return nil, NotValidIncomeData
		}

		b.PutValue(r.ID, r.Value)
		present[r.ID] = true
	}

	if isInsert {
		for _, a := range entity.Attributes {
			if a.NotNull && !present[a.ID] {
				return nil, NotValidIncomeData
			}
		}
	}

	return b.Bytes(), Success
}

func keyTypeCompatible(declared schema.AttrType, got codec.Type) bool {
	switch declared {
	case schema.TypeInteger:
		return got == codec.TypeInteger
	case schema.TypeText, schema.TypeUuidV1, schema.TypeUuidV4:
		// text tag accepted as widening for UuidV1/UuidV4/Text keys (spec §4.3)
		return got == codec.TypeText
	case schema.TypeBlob:
		return got == codec.TypeBlob
	default:
		return false
	}
}

func attrTypeCompatible(declared schema.AttrType, got codec.Type) bool {
	switch declared {
	case schema.TypeInteger:
		return got == codec.TypeInteger
	case schema.TypeReal:
		return got == codec.TypeReal
	case schema.TypeText, schema.TypeUuidV1, schema.TypeUuidV4:
		return got == codec.TypeText
	case schema.TypeBlob:
		return got == codec.TypeBlob
	default:
		return false
	}
}

// validUUIDv1 requires uuid_parse success AND uuid_type == DCE_TIME (spec §4.3).
func validUUIDv1(text []byte) bool {
	id, err := uuid.ParseBytes(text)
	if err != nil {
		return false
	}
	return id.Version() == 1
}

// ResolveTransaction exposes the name lookup used by Validate, for callers
// (e.g. authorization) that need the transaction uuid before validation runs.
func ResolveTransaction(sv *schema.Version, name string) (*schema.Transaction, error) {
	tx, ok := sv.TransactionByName(name)
	if !ok {
		return nil, fmt.Errorf("validator: unknown transaction %q", name)
	}
	return tx, nil
}
