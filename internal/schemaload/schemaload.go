// Package schemaload compiles a context's durable SchemaVersion blob (spec
// §4.2, §6.4) into the in-memory schema.Version the registry serves reads
// from. The wire format is JSON, chosen because it is what the admin HTTP
// surface's PUT/POST `/context` bodies already carry (spec §6.2) — there is
// no separate schema DSL or file format to parse.
package schemaload

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/schema"
)

// Document is the JSON shape of one schema.Version, as stored in
// db.SchemaVersion.Blob.
type Document struct {
	Entities     []entityDoc     `json:"entities"`
	Transactions []transactionDoc `json:"transactions"`
	Roles        []roleDoc       `json:"roles"`
	Modules      []moduleDoc     `json:"modules"`
}

type keyDoc struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

type attributeDoc struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Type    int    `json:"type"`
	NotNull bool   `json:"notNull"`
	Check   string `json:"check,omitempty"`
}

type entityDoc struct {
	UUID       uuid.UUID      `json:"uuid"`
	Name       string         `json:"name"`
	Keys       []keyDoc       `json:"keys"`
	Attributes []attributeDoc `json:"attributes"`
}

type entityTxViewDoc struct {
	EntityUUID uuid.UUID `json:"entityUuid"`
	Add        bool      `json:"add"`
	Remove     bool      `json:"remove"`
	UpdateIDs  []int     `json:"updateIds"`
}

type transactionDoc struct {
	UUID   uuid.UUID         `json:"uuid"`
	Name   string            `json:"name"`
	Views  []entityTxViewDoc `json:"views"`
}

type visibleMaskDoc struct {
	EntityUUID  uuid.UUID `json:"entityUuid"`
	AttributeIDs []int    `json:"attributeIds"`
}

type roleDoc struct {
	UUID          uuid.UUID        `json:"uuid"`
	Name          string           `json:"name"`
	ReadMembers   bool             `json:"readMembers"`
	ManageMembers bool             `json:"manageMembers"`
	ReadEmail     bool             `json:"readEmail"`
	ShareDataset  bool             `json:"shareDataset"`
	ManageShare   bool             `json:"manageShare"`
	Default       bool             `json:"default"`
	Visible       []visibleMaskDoc `json:"visible"`
	AllowedTxs    []uuid.UUID      `json:"allowedTransactions"`
}

type moduleDoc struct {
	UUID    uuid.UUID        `json:"uuid"`
	Name    string           `json:"name"`
	Visible []visibleMaskDoc `json:"visible"`
}

// Compile parses blob and builds the corresponding schema.Version at the
// given version number. Entities must appear before any transaction that
// references them and before any role/module visibility mask that names
// them — the same ordering schema.Builder itself requires.
func Compile(blob []byte, number int) (*schema.Version, error) {
	var doc Document
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("schemaload: decoding version %d: %w", number, err)
	}

	b := schema.NewBuilder(number)

	for _, ed := range doc.Entities {
		e := &schema.Entity{UUID: ed.UUID, Name: ed.Name}
		for _, kd := range ed.Keys {
			e.Keys = append(e.Keys, schema.Key{ID: kd.ID, Name: kd.Name, Type: schema.AttrType(kd.Type)})
		}
		for _, ad := range ed.Attributes {
			attr := schema.Attribute{ID: ad.ID, Name: ad.Name, Type: schema.AttrType(ad.Type), NotNull: ad.NotNull}
			if ad.Check != "" {
				check, err := schema.CompileCheck(ad.Check)
				if err != nil {
					return nil, fmt.Errorf("schemaload: entity %q attribute %q: %w", ed.Name, ad.Name, err)
				}
				attr.Check = check
			}
			e.Attributes = append(e.Attributes, attr)
		}
		if err := b.AddEntity(e); err != nil {
			return nil, fmt.Errorf("schemaload: %w", err)
		}
	}

	for _, td := range doc.Transactions {
		t := &schema.Transaction{UUID: td.UUID, Name: td.Name, Entity: map[uuid.UUID]schema.EntityTxView{}}
		for _, vd := range td.Views {
			view := schema.EntityTxView{Add: vd.Add, Remove: vd.Remove, UpdateIDs: map[int]bool{}}
			for _, id := range vd.UpdateIDs {
				view.UpdateIDs[id] = true
			}
			t.Entity[vd.EntityUUID] = view
		}
		b.AddTransaction(t)
	}

	for _, rd := range doc.Roles {
		r := &schema.Role{
			UUID:          rd.UUID,
			Name:          rd.Name,
			ReadMembers:   rd.ReadMembers,
			ManageMembers: rd.ManageMembers,
			ReadEmail:     rd.ReadEmail,
			ShareDataset:  rd.ShareDataset,
			ManageShare:   rd.ManageShare,
			Default:       rd.Default,
			VisibleAttrs:  visibleMaskFromDoc(rd.Visible),
			AllowedTxs:    map[uuid.UUID]bool{},
		}
		for _, id := range rd.AllowedTxs {
			r.AllowedTxs[id] = true
		}
		b.AddRole(r, rd.Default)
	}

	for _, md := range doc.Modules {
		b.AddModule(&schema.Module{UUID: md.UUID, Name: md.Name, VisibleAttrs: visibleMaskFromDoc(md.Visible)})
	}

	return b.Build(), nil
}

func visibleMaskFromDoc(docs []visibleMaskDoc) map[uuid.UUID]map[int]bool {
	if docs == nil {
		return nil
	}
	out := make(map[uuid.UUID]map[int]bool, len(docs))
	for _, d := range docs {
		ids := make(map[int]bool, len(d.AttributeIDs))
		for _, id := range d.AttributeIDs {
			ids[id] = true
		}
		out[d.EntityUUID] = ids
	}
	return out
}
