package rowstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"

	_ "modernc.org/sqlite"

	"github.com/beehive-sync/beehive/internal/codec"
	"github.com/beehive-sync/beehive/internal/schema"
)

func testEntity() *schema.Entity {
	return &schema.Entity{
		UUID: uuid.New(),
		Name: "Item",
		Keys: []schema.Key{{ID: 1, Name: "k1", Type: schema.TypeInteger}},
		Attributes: []schema.Attribute{
			{ID: 2, Name: "a1", Type: schema.TypeText},
		},
	}
}

func encodePK(id int64) []byte {
	return codec.NewBuilder(8).PutInteger(1, id).Bytes()
}

func encodeData(text string) []byte {
	return codec.NewBuilder(16).PutText(2, text).Bytes()
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	database, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return database
}

func TestInsertGetUpdateDelete(t *testing.T) {
	database := openTestDB(t)
	store := New(database, "sqlite")
	entity := testEntity()
	datasetID := uuid.New()
	ctx := context.Background()

	if err := store.EnsureTable(ctx, entity); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	pk := encodePK(42)
	data := encodeData("hello")
	if err := store.Insert(ctx, database, entity, datasetID, pk, data); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := store.Insert(ctx, database, entity, datasetID, pk, data); err != ErrDuplicateKey {
		t.Fatalf("second Insert error = %v, want ErrDuplicateKey", err)
	}

	got, err := store.Get(ctx, database, entity, datasetID, pk)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	recs, err := codec.Decode(got)
	if err != nil || len(recs) != 1 || string(recs[0].Value.S) != "hello" {
		t.Fatalf("Get decoded = %+v, err=%v", recs, err)
	}

	updated := encodeData("world")
	if err := store.Update(ctx, database, entity, datasetID, pk, updated); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err = store.Get(ctx, database, entity, datasetID, pk)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	recs, _ = codec.Decode(got)
	if string(recs[0].Value.S) != "world" {
		t.Fatalf("data after update = %q, want world", recs[0].Value.S)
	}

	if err := store.Delete(ctx, database, entity, datasetID, pk); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, database, entity, datasetID, pk); err != ErrRowNotFound {
		t.Fatalf("Get after delete error = %v, want ErrRowNotFound", err)
	}
}

func TestUpdateMissingRow(t *testing.T) {
	database := openTestDB(t)
	store := New(database, "sqlite")
	entity := testEntity()
	ctx := context.Background()
	if err := store.EnsureTable(ctx, entity); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	if err := store.Update(ctx, database, entity, uuid.New(), encodePK(1), encodeData("x")); err != ErrRowNotFound {
		t.Fatalf("Update on missing row error = %v, want ErrRowNotFound", err)
	}
	if err := store.Delete(ctx, database, entity, uuid.New(), encodePK(1)); err != ErrRowNotFound {
		t.Fatalf("Delete on missing row error = %v, want ErrRowNotFound", err)
	}
}

func TestAllReturnsEveryRowForDataset(t *testing.T) {
	database := openTestDB(t)
	store := New(database, "sqlite")
	entity := testEntity()
	ctx := context.Background()
	if err := store.EnsureTable(ctx, entity); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	datasetA := uuid.New()
	datasetB := uuid.New()
	if err := store.Insert(ctx, database, entity, datasetA, encodePK(1), encodeData("a")); err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(ctx, database, entity, datasetA, encodePK(2), encodeData("b")); err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(ctx, database, entity, datasetB, encodePK(1), encodeData("c")); err != nil {
		t.Fatal(err)
	}

	rows, err := store.All(ctx, entity, datasetA)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("All returned %d rows, want 2", len(rows))
	}
}
