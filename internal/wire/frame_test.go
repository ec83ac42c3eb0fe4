package wire

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	id := uuid.New()

	if err := w.U16(7); err != nil {
		t.Fatal(err)
	}
	if err := w.UUIDText(id); err != nil {
		t.Fatal(err)
	}
	if err := w.ShortString("hello"); err != nil {
		t.Fatal(err)
	}
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	n, err := r.U16()
	if err != nil || n != 7 {
		t.Fatalf("u16: %v %v", n, err)
	}
	gotID, err := r.UUIDText()
	if err != nil || gotID != id {
		t.Fatalf("uuid: %v %v", gotID, err)
	}
	s, err := r.ShortString()
	if err != nil || s != "hello" {
		t.Fatalf("string: %q %v", s, err)
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
}

func TestFrameTamperedCRCRejected(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_ = w.ShortString("admin@example.com")
	_ = w.Finish()

	raw := buf.Bytes()
	// Flip one bit in the email payload without touching the trailing CRC —
	// this is scenario S6 from spec §8.
	raw[1] ^= 0x01

	r := NewReader(bytes.NewReader(raw))
	if _, err := r.ShortString(); err != nil {
		t.Fatal(err)
	}
	if err := r.Finish(); err != ErrTransmission {
		t.Fatalf("expected ErrTransmission, got %v", err)
	}
}
