package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/beehive-sync/beehive/internal/codec"
	beedb "github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/repository"
	"github.com/beehive-sync/beehive/internal/rowstore"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/validator"
)

func newTestEngine(t *testing.T) (*Engine, uuid.UUID) {
	t.Helper()
	database, err := beedb.New(beedb.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}

	datasetID := uuid.New()
	ownerID := uuid.New()
	if err := database.Exec(
		"INSERT INTO datasets (id, owner_id, id_header, status, created_at, updated_at) VALUES (?, ?, 0, 1, datetime('now'), datetime('now'))",
		datasetID.String(), ownerID.String(),
	).Error; err != nil {
		t.Fatalf("seeding dataset: %v", err)
	}

	engine := New(
		repository.NewTransactor(database),
		repository.NewDatasetRepository(database),
		repository.NewHeaderRepository(database),
		repository.NewChangeRepository(database),
		repository.NewDownloadedRepository(database),
		rowstore.New(database, "sqlite"),
		schema.NewRegistry(),
	)
	return engine, datasetID
}

func itemEntity() *schema.Entity {
	return &schema.Entity{
		UUID: uuid.New(),
		Name: "Item",
		Keys: []schema.Key{{ID: 1, Name: "k1", Type: schema.TypeInteger}},
		Attributes: []schema.Attribute{
			{ID: 2, Name: "a1", Type: schema.TypeText, NotNull: true},
		},
	}
}

func addItemTx(entityUUID uuid.UUID) *schema.Transaction {
	return &schema.Transaction{
		UUID: uuid.New(),
		Name: "AddItem",
		Entity: map[uuid.UUID]schema.EntityTxView{
			entityUUID: {Name: "Item", Add: true, UpdateIDs: map[int]bool{2: true}},
		},
	}
}

func buildVersion(t *testing.T, entity *schema.Entity, tx *schema.Transaction) *schema.Version {
	t.Helper()
	b := schema.NewBuilder(1)
	if err := b.AddEntity(entity); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	b.AddTransaction(tx)
	return b.Build()
}

func TestEngineApplyInsertSuccess(t *testing.T) {
	engine, datasetID := newTestEngine(t)
	entity := itemEntity()
	tx := addItemTx(entity.UUID)
	sv := buildVersion(t, entity, tx)

	hdr := validator.HeaderInput{
		Transaction: tx.Name,
		Version:     1,
		Changes: []validator.ChangeInput{{
			IDChange:  1,
			Operation: validator.Insert,
			Entity:    entity.Name,
			NewPK:     codec.NewBuilder(8).PutInteger(1, 42).Bytes(),
			NewData:   codec.NewBuilder(16).PutText(2, "hello").Bytes(),
		}},
	}
	result, err := validator.Validate(hdr, sv)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Code != validator.Success {
		t.Fatalf("Validate code = %v, want Success", result.Code)
	}

	req := Request{
		DatasetID:        datasetID,
		NodeID:           uuid.New(),
		IDNode:           1,
		TransactionName:  tx.Name,
		TransactionUUID:  result.TransactionUUID,
		Version:          1,
		ValidationResult: result,
		ReportedIDHeader: 0,
	}

	outcome, err := engine.Apply(context.Background(), req, sv, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome.Status != validator.Success {
		t.Fatalf("outcome.Status = %v, want Success", outcome.Status)
	}
	if outcome.IDHeader != 1 {
		t.Fatalf("outcome.IDHeader = %d, want 1", outcome.IDHeader)
	}

	rows, err := engine.rows.All(context.Background(), entity, datasetID)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
}

func TestEngineApplyForbiddenOperationRollsBackAndPersistsHeader(t *testing.T) {
	engine, datasetID := newTestEngine(t)
	entity := itemEntity()
	// Transaction with no update permissions: an Update change must fail.
	noUpdateTx := &schema.Transaction{
		UUID: uuid.New(),
		Name: "EditItem",
		Entity: map[uuid.UUID]schema.EntityTxView{
			entity.UUID: {Name: "Item"}, // no Add, no Remove, empty UpdateIDs
		},
	}
	sv := buildVersion(t, entity, noUpdateTx)

	hdr := validator.HeaderInput{
		Transaction: noUpdateTx.Name,
		Version:     1,
		Changes: []validator.ChangeInput{{
			IDChange:  1,
			Operation: validator.Update,
			Entity:    entity.Name,
			NewPK:     codec.NewBuilder(8).PutInteger(1, 1).Bytes(),
			OldPK:     codec.NewBuilder(8).PutInteger(1, 1).Bytes(),
			NewData:   codec.NewBuilder(16).PutText(2, "x").Bytes(),
		}},
	}
	result, err := validator.Validate(hdr, sv)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Code != validator.NotValidOperation {
		t.Fatalf("Validate code = %v, want NotValidOperation", result.Code)
	}

	req := Request{
		DatasetID:        datasetID,
		NodeID:           uuid.New(),
		IDNode:           1,
		TransactionName:  noUpdateTx.Name,
		TransactionUUID:  result.TransactionUUID,
		Version:          1,
		ValidationResult: result,
	}

	outcome, err := engine.Apply(context.Background(), req, sv, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome.Status != validator.NotValidOperation {
		t.Fatalf("outcome.Status = %v, want NotValidOperation", outcome.Status)
	}
	if outcome.IDHeader != 1 {
		t.Fatalf("outcome.IDHeader = %d, want 1 (still allocated despite failure)", outcome.IDHeader)
	}
}

type fakeScripts struct {
	preOK, postOK bool
}

func (f *fakeScripts) Pre(ctx context.Context, h ScriptHeader) (bool, error)  { return f.preOK, nil }
func (f *fakeScripts) Post(ctx context.Context, h ScriptHeader) (bool, error) { return f.postOK, nil }

func TestEngineApplyPostScriptRejectionDowngradesAfterSuccessfulApply(t *testing.T) {
	engine, datasetID := newTestEngine(t)
	entity := itemEntity()
	tx := addItemTx(entity.UUID)
	sv := buildVersion(t, entity, tx)

	hdr := validator.HeaderInput{
		Transaction: tx.Name,
		Version:     1,
		Changes: []validator.ChangeInput{{
			IDChange:  1,
			Operation: validator.Insert,
			Entity:    entity.Name,
			NewPK:     codec.NewBuilder(8).PutInteger(1, 7).Bytes(),
			NewData:   codec.NewBuilder(16).PutText(2, "hi").Bytes(),
		}},
	}
	result, err := validator.Validate(hdr, sv)
	if err != nil || result.Code != validator.Success {
		t.Fatalf("Validate: code=%v err=%v", result.Code, err)
	}

	req := Request{
		DatasetID:        datasetID,
		NodeID:           uuid.New(),
		IDNode:           1,
		TransactionName:  tx.Name,
		TransactionUUID:  result.TransactionUUID,
		Version:          1,
		ValidationResult: result,
	}

	outcome, err := engine.Apply(context.Background(), req, sv, &fakeScripts{preOK: true, postOK: false})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if outcome.Status != validator.UserValidation {
		t.Fatalf("outcome.Status = %v, want UserValidation", outcome.Status)
	}

	rows, err := engine.rows.All(context.Background(), entity, datasetID)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("len(rows) = %d, want 0 (rolled back)", len(rows))
	}
}
