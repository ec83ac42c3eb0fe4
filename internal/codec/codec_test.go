package codec

import (
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	b := NewBuilder(0)
	b.PutInteger(1, 42)
	b.PutText(2, "hello")
	b.PutReal(3, 3.5)
	b.PutNull(4)
	b.PutBlob(5, []byte{0xde, 0xad, 0xbe, 0xef})

	recs, err := Decode(b.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 records, got %d", len(recs))
	}

	want := map[int]Value{
		1: {Type: TypeInteger, I: 42},
		2: {Type: TypeText, S: []byte("hello")},
		3: {Type: TypeReal, R: 3.5},
		4: {Type: TypeNull},
		5: {Type: TypeBlob, S: []byte{0xde, 0xad, 0xbe, 0xef}},
	}
	for _, r := range recs {
		wv, ok := want[r.ID]
		if !ok {
			t.Fatalf("unexpected id %d", r.ID)
		}
		if !reflect.DeepEqual(wv, r.Value) {
			t.Fatalf("id %d: got %+v want %+v", r.ID, r.Value, wv)
		}
	}
}

func TestDecodeCorruptTruncatedLength(t *testing.T) {
	buf := []byte{0, 1, byte(TypeText), 0, 10, 'h', 'i'} // declares len 10, only 2 bytes follow
	if _, err := Decode(buf); err != ErrCorruptEncoding {
		t.Fatalf("expected ErrCorruptEncoding, got %v", err)
	}
}

func TestDecodeCorruptDuplicateID(t *testing.T) {
	b := NewBuilder(0)
	b.PutInteger(1, 1)
	raw := b.Bytes()
	b2 := NewBuilder(0)
	b2.PutInteger(1, 2)
	raw = append(raw, b2.Bytes()...)

	if _, err := Decode(raw); err != ErrCorruptEncoding {
		t.Fatalf("expected ErrCorruptEncoding for duplicate id, got %v", err)
	}
}

func TestDecodeCorruptUnknownType(t *testing.T) {
	buf := []byte{0, 1, 0xFF}
	if _, err := Decode(buf); err != ErrCorruptEncoding {
		t.Fatalf("expected ErrCorruptEncoding, got %v", err)
	}
}

func TestMergeSparseUpdate(t *testing.T) {
	stored := NewBuilder(0)
	stored.PutText(2, "hello")
	stored.PutInteger(9, 100)

	incoming := NewBuilder(0)
	incoming.PutText(2, "world")

	merged := Merge(mustDecode(t, stored.Bytes()), mustDecode(t, incoming.Bytes()))
	recs, err := Decode(merged)
	if err != nil {
		t.Fatalf("decode merged: %v", err)
	}

	got := map[int]Value{}
	for _, r := range recs {
		got[r.ID] = r.Value
	}

	if string(got[2].S) != "world" {
		t.Fatalf("expected attr 2 to be overwritten with incoming value, got %q", got[2].S)
	}
	if got[9].I != 100 {
		t.Fatalf("expected attr 9 to be carried through from stored, got %d", got[9].I)
	}
}

func mustDecode(t *testing.T, buf []byte) []Record {
	t.Helper()
	recs, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return recs
}
