// Package rowstore is the per-entity row DAO behind spec §4.5's applyChange:
// one SQL table per Entity, created on first use from the schema registry's
// declared keys, holding a typed key column per declared key plus the
// opaque binary-form PK and data tuples for exact round-trip. It issues raw
// DDL and DML directly because the entity table set is not known until a
// schema is published, so gorm's struct-tag model does not apply here —
// db.go documents this as the one component that reaches past the ORM.
package rowstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beehive-sync/beehive/internal/codec"
	"github.com/beehive-sync/beehive/internal/schema"
)

// ErrDuplicateKey is returned by Insert when a row with the same primary key
// already exists for the dataset (spec §4.3 duplicatedEntity).
var ErrDuplicateKey = errors.New("rowstore: duplicate primary key")

// ErrRowNotFound is returned by Update/Delete/Get when no row matches
// (spec §4.3 entityNotFound).
var ErrRowNotFound = errors.New("rowstore: row not found")

// Store issues DDL/DML for entity row tables against the shared *gorm.DB.
type Store struct {
	db     *gorm.DB
	driver string // "sqlite" or "postgres"
}

// New returns a Store. driver must be "sqlite" or "postgres" (db.Config.Driver).
func New(database *gorm.DB, driver string) *Store {
	return &Store{db: database, driver: driver}
}

func tableName(entityUUID uuid.UUID) string {
	return "row_" + strings.ReplaceAll(entityUUID.String(), "-", "")
}

func keyColumn(keyID int) string {
	return fmt.Sprintf("key_%d", keyID)
}

func (s *Store) sqlType(t schema.AttrType) string {
	pg := s.driver == "postgres"
	switch t {
	case schema.TypeInteger:
		if pg {
			return "BIGINT"
		}
		return "INTEGER"
	case schema.TypeReal:
		if pg {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case schema.TypeBlob:
		if pg {
			return "BYTEA"
		}
		return "BLOB"
	default: // Text, UuidV1, UuidV4
		return "TEXT"
	}
}

func (s *Store) blobType() string {
	if s.driver == "postgres" {
		return "BYTEA"
	}
	return "BLOB"
}

// EnsureTable creates entity's row table if it does not already exist.
// Idempotent; safe to call before every apply.
func (s *Store) EnsureTable(ctx context.Context, entity *schema.Entity) error {
	var cols []string
	var pkCols []string
	cols = append(cols, "dataset_id TEXT NOT NULL")
	pkCols = append(pkCols, "dataset_id")
	for _, k := range entity.Keys {
		cols = append(cols, fmt.Sprintf("%s %s NOT NULL", keyColumn(k.ID), s.sqlType(k.Type)))
		pkCols = append(pkCols, keyColumn(k.ID))
	}
	cols = append(cols, fmt.Sprintf("row_key %s NOT NULL", s.blobType()))
	cols = append(cols, fmt.Sprintf("row_data %s NOT NULL", s.blobType()))

	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (%s))",
		tableName(entity.UUID), strings.Join(cols, ", "), strings.Join(pkCols, ", "),
	)
	if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("rowstore: creating table for entity %s: %w", entity.Name, err)
	}
	return nil
}

// keyBindings extracts, in entity.Keys order, the column name/value pairs
// for a decoded binary-form PK tuple.
func keyBindings(entity *schema.Entity, pk []byte) ([]string, []any, error) {
	recs, err := codec.Decode(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("rowstore: decoding key: %w", err)
	}
	byID := make(map[int]codec.Value, len(recs))
	for _, r := range recs {
		byID[r.ID] = r.Value
	}

	cols := make([]string, 0, len(entity.Keys))
	vals := make([]any, 0, len(entity.Keys))
	for _, k := range entity.Keys {
		v, ok := byID[k.ID]
		if !ok {
			return nil, nil, fmt.Errorf("rowstore: key %d missing from tuple", k.ID)
		}
		cols = append(cols, keyColumn(k.ID))
		switch v.Type {
		case codec.TypeInteger:
			vals = append(vals, v.I)
		case codec.TypeReal:
			vals = append(vals, v.R)
		case codec.TypeText:
			vals = append(vals, string(v.S))
		case codec.TypeBlob:
			vals = append(vals, v.S)
		default:
			return nil, nil, fmt.Errorf("rowstore: key %d has unsupported value type", k.ID)
		}
	}
	return cols, vals, nil
}

func whereClause(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " = ?"
	}
	return strings.Join(parts, " AND ")
}

// Insert writes a new row within tx. binaryPK/binaryData are already the
// reshaped binary-form tuples produced by the validator. tx is the *gorm.DB
// of the caller's repository.Tx, so the row write commits or rolls back
// atomically with the Header/Change/Dataset/Downloaded writes of the same
// apply (spec §4.4).
func (s *Store) Insert(ctx context.Context, tx *gorm.DB, entity *schema.Entity, datasetID uuid.UUID, binaryPK, binaryData []byte) error {
	keyCols, keyVals, err := keyBindings(entity, binaryPK)
	if err != nil {
		return err
	}

	where := whereClause(keyCols)
	checkStmt := fmt.Sprintf("SELECT 1 FROM %s WHERE dataset_id = ? AND %s", tableName(entity.UUID), where)
	checkArgs := append([]any{datasetID.String()}, keyVals...)
	var dummy int
	switch err := tx.WithContext(ctx).Raw(checkStmt, checkArgs...).Row().Scan(&dummy); {
	case err == nil:
		return ErrDuplicateKey
	case !errors.Is(err, gorm.ErrRecordNotFound) && err.Error() != "sql: no rows in result set":
		return fmt.Errorf("rowstore: checking duplicate key: %w", err)
	}

	allCols := append([]string{"dataset_id"}, keyCols...)
	allCols = append(allCols, "row_key", "row_data")
	placeholders := strings.Repeat("?, ", len(allCols)-1) + "?"
	insertStmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tableName(entity.UUID), strings.Join(allCols, ", "), placeholders)

	args := append([]any{datasetID.String()}, keyVals...)
	args = append(args, binaryPK, binaryData)
	if err := tx.WithContext(ctx).Exec(insertStmt, args...).Error; err != nil {
		return fmt.Errorf("rowstore: inserting row: %w", err)
	}
	return nil
}

// Get reads the stored binary-form data tuple for the row named by binaryPK.
func (s *Store) Get(ctx context.Context, tx *gorm.DB, entity *schema.Entity, datasetID uuid.UUID, binaryPK []byte) ([]byte, error) {
	keyCols, keyVals, err := keyBindings(entity, binaryPK)
	if err != nil {
		return nil, err
	}
	where := whereClause(keyCols)
	stmt := fmt.Sprintf("SELECT row_data FROM %s WHERE dataset_id = ? AND %s", tableName(entity.UUID), where)
	args := append([]any{datasetID.String()}, keyVals...)

	var data []byte
	err = tx.WithContext(ctx).Raw(stmt, args...).Row().Scan(&data)
	switch {
	case err != nil && (errors.Is(err, gorm.ErrRecordNotFound) || err.Error() == "sql: no rows in result set"):
		return nil, ErrRowNotFound
	case err != nil:
		return nil, fmt.Errorf("rowstore: reading row: %w", err)
	}
	return data, nil
}

// Update overwrites the stored data tuple for the row named by binaryPK.
// Callers are responsible for merging (codec.Merge) before calling this —
// rowstore stores opaque bytes, it does not interpret them.
func (s *Store) Update(ctx context.Context, tx *gorm.DB, entity *schema.Entity, datasetID uuid.UUID, binaryPK, newData []byte) error {
	keyCols, keyVals, err := keyBindings(entity, binaryPK)
	if err != nil {
		return err
	}
	where := whereClause(keyCols)
	stmt := fmt.Sprintf("UPDATE %s SET row_data = ? WHERE dataset_id = ? AND %s", tableName(entity.UUID), where)
	args := append([]any{newData, datasetID.String()}, keyVals...)

	res := tx.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return fmt.Errorf("rowstore: updating row: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRowNotFound
	}
	return nil
}

// Delete removes the row named by binaryPK.
func (s *Store) Delete(ctx context.Context, tx *gorm.DB, entity *schema.Entity, datasetID uuid.UUID, binaryPK []byte) error {
	keyCols, keyVals, err := keyBindings(entity, binaryPK)
	if err != nil {
		return err
	}
	where := whereClause(keyCols)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE dataset_id = ? AND %s", tableName(entity.UUID), where)
	args := append([]any{datasetID.String()}, keyVals...)

	res := tx.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return fmt.Errorf("rowstore: deleting row: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRowNotFound
	}
	return nil
}

// Row is one stored row, used by the full-sync snapshot path (spec §4.9
// Phase C.iv) to stream every visible row of an entity.
type Row struct {
	Key  []byte
	Data []byte
}

// All returns every row of entity for datasetID, in unspecified but stable
// order, for the first-sync snapshot. Runs outside any apply transaction.
func (s *Store) All(ctx context.Context, entity *schema.Entity, datasetID uuid.UUID) ([]Row, error) {
	stmt := fmt.Sprintf("SELECT row_key, row_data FROM %s WHERE dataset_id = ?", tableName(entity.UUID))
	rows, err := s.db.WithContext(ctx).Raw(stmt, datasetID.String()).Rows()
	if err != nil {
		return nil, fmt.Errorf("rowstore: listing rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Key, &r.Data); err != nil {
			return nil, fmt.Errorf("rowstore: scanning row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
