package schemaload

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestCompileEntitiesTransactionsRolesModules(t *testing.T) {
	entityID := uuid.New()
	txID := uuid.New()
	roleID := uuid.New()
	moduleID := uuid.New()

	doc := Document{
		Entities: []entityDoc{
			{
				UUID: entityID,
				Name: "widget",
				Keys: []keyDoc{{ID: 0, Name: "id", Type: 1}},
				Attributes: []attributeDoc{
					{ID: 1, Name: "name", Type: 2, NotNull: true},
					{ID: 2, Name: "price", Type: 3, Check: "> 0"},
				},
			},
		},
		Transactions: []transactionDoc{
			{
				UUID: txID,
				Name: "create_widget",
				Views: []entityTxViewDoc{
					{EntityUUID: entityID, Add: true, UpdateIDs: []int{1, 2}},
				},
			},
		},
		Roles: []roleDoc{
			{
				UUID:         roleID,
				Name:         "editor",
				ShareDataset: true,
				Default:      true,
				Visible: []visibleMaskDoc{
					{EntityUUID: entityID, AttributeIDs: []int{1}},
				},
				AllowedTxs: []uuid.UUID{txID},
			},
		},
		Modules: []moduleDoc{
			{UUID: moduleID, Name: "reports"},
		},
	}

	blob, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	v, err := Compile(blob, 3)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	e, ok := v.Entity(entityID)
	if !ok {
		t.Fatal("expected entity to be present")
	}
	if e.Name != "widget" {
		t.Fatalf("entity name = %q, want widget", e.Name)
	}
	attr, ok := e.AttributeByID(2)
	if !ok || attr.Check == nil {
		t.Fatal("expected attribute 2 to have a compiled check")
	}

	tx, ok := v.TransactionByName("create_widget")
	if !ok {
		t.Fatal("expected transaction to be present")
	}
	view, ok := tx.Entity[entityID]
	if !ok || !view.Add || !view.UpdateIDs[1] || !view.UpdateIDs[2] {
		t.Fatalf("unexpected transaction view: %+v", view)
	}

	role, ok := v.Role(roleID)
	if !ok {
		t.Fatal("expected role to be present")
	}
	if !role.ShareDataset {
		t.Fatal("expected role.ShareDataset = true")
	}
	if !role.AllowedTxs[txID] {
		t.Fatal("expected role to allow the transaction")
	}
	if role.VisibleAttrs[entityID][1] != true {
		t.Fatalf("expected visible mask for attribute 1, got %+v", role.VisibleAttrs)
	}

	def, ok := v.DefaultRole()
	if !ok || def.UUID != roleID {
		t.Fatal("expected the role marked default=true to be the registry default")
	}

	mod, ok := v.Module(moduleID)
	if !ok || mod.Name != "reports" {
		t.Fatal("expected module to be present")
	}
}

func TestCompileInvalidCheckExpression(t *testing.T) {
	doc := Document{
		Entities: []entityDoc{
			{
				UUID: uuid.New(),
				Name: "broken",
				Attributes: []attributeDoc{
					{ID: 1, Name: "bad", Check: "((("},
				},
			},
		},
	}
	blob, _ := json.Marshal(doc)

	if _, err := Compile(blob, 0); err == nil {
		t.Fatal("expected Compile to fail on an invalid check expression")
	}
}

func TestCompileMalformedJSON(t *testing.T) {
	if _, err := Compile([]byte("not json"), 0); err == nil {
		t.Fatal("expected Compile to fail on malformed JSON")
	}
}

func TestVisibleMaskFromDocNilForNoMasks(t *testing.T) {
	if got := visibleMaskFromDoc(nil); got != nil {
		t.Fatalf("visibleMaskFromDoc(nil) = %v, want nil", got)
	}
}
