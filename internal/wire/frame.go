package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Length caps from spec §6.1.
const (
	MaxShortString = 255   // u8-prefixed strings
	MaxLongPayload = 32767 // u16-prefixed payloads
)

// ErrTransmission is returned when a frame's trailing CRC does not match the
// running checksum accumulated over its sub-fields. The caller must reply
// with the single-byte messageTransmissionError response and abort the frame
// (spec §6.1, §8 P8).
var ErrTransmission = errors.New("wire: CRC mismatch, transmission error")

// ErrFieldTooLong is returned when a string/payload field exceeds its cap.
var ErrFieldTooLong = errors.New("wire: field exceeds protocol length cap")

// Reader reads primitives off an io.Reader while accumulating a running CRC.
// Callers call Reader.Finish at the end of a frame to validate the trailing
// CRC the sender appended.
type Reader struct {
	r   io.Reader
	crc CRC
}

// NewReader wraps r for one frame's worth of reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (r *Reader) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	r.crc.Update(buf)
	return buf, nil
}

// U8 reads one unsigned byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a big-endian uint16.
func (r *Reader) U16() (uint16, error) {
	b, err := r.read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// U32 reads a big-endian uint32.
func (r *Reader) U32() (uint32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// U64 reads a big-endian uint64.
func (r *Reader) U64() (uint64, error) {
	b, err := r.read(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Bytes reads exactly n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.read(n)
}

// ShortString reads a u8-length-prefixed string, capped at MaxShortString.
func (r *Reader) ShortString() (string, error) {
	n, err := r.U8()
	if err != nil {
		return "", err
	}
	b, err := r.read(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// LongPayload reads a u16-length-prefixed payload, capped at MaxLongPayload.
func (r *Reader) LongPayload() ([]byte, error) {
	n, err := r.U16()
	if err != nil {
		return nil, err
	}
	if int(n) > MaxLongPayload {
		return nil, ErrFieldTooLong
	}
	return r.read(int(n))
}

// UUIDText reads the canonical 36-byte text form of a UUID.
func (r *Reader) UUIDText() (uuid.UUID, error) {
	b, err := r.read(36)
	if err != nil {
		return uuid.UUID{}, err
	}
	id, err := uuid.Parse(string(b))
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("wire: parsing uuid text: %w", err)
	}
	return id, nil
}

// UUIDBinary reads the 16-byte binary form of a UUID.
func (r *Reader) UUIDBinary() (uuid.UUID, error) {
	b, err := r.read(16)
	if err != nil {
		return uuid.UUID{}, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

// Finish reads the trailing u16 CRC and compares it against the running
// checksum accumulated over every field read so far. Returns ErrTransmission
// on mismatch.
func (r *Reader) Finish() error {
	expected := r.crc.Value()
	b := make([]byte, 2)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return err
	}
	got := binary.BigEndian.Uint16(b)
	if got != expected {
		return ErrTransmission
	}
	return nil
}

// Writer writes primitives to an io.Writer while accumulating a running CRC,
// emitted as the frame's trailing checksum by Finish.
type Writer struct {
	w   io.Writer
	crc CRC
}

// NewWriter wraps w for one frame's worth of writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) write(b []byte) error {
	w.crc.Update(b)
	_, err := w.w.Write(b)
	return err
}

func (w *Writer) U8(v uint8) error { return w.write([]byte{v}) }

func (w *Writer) U16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return w.write(b[:])
}

func (w *Writer) U32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return w.write(b[:])
}

func (w *Writer) U64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return w.write(b[:])
}

func (w *Writer) Bytes(b []byte) error { return w.write(b) }

// ShortString writes a u8-length-prefixed string. Returns ErrFieldTooLong if
// s exceeds MaxShortString bytes.
func (w *Writer) ShortString(s string) error {
	if len(s) > MaxShortString {
		return ErrFieldTooLong
	}
	if err := w.U8(uint8(len(s))); err != nil {
		return err
	}
	return w.write([]byte(s))
}

// LongPayload writes a u16-length-prefixed payload. Returns ErrFieldTooLong
// if b exceeds MaxLongPayload bytes.
func (w *Writer) LongPayload(b []byte) error {
	if len(b) > MaxLongPayload {
		return ErrFieldTooLong
	}
	if err := w.U16(uint16(len(b))); err != nil {
		return err
	}
	return w.write(b)
}

// UUIDText writes the canonical 36-byte text form of a UUID.
func (w *Writer) UUIDText(id uuid.UUID) error {
	return w.write([]byte(id.String()))
}

// UUIDBinary writes the 16-byte binary form of a UUID.
func (w *Writer) UUIDBinary(id uuid.UUID) error {
	return w.write(id[:])
}

// Finish writes the trailing u16 CRC computed over every field written so far.
func (w *Writer) Finish() error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], w.crc.Value())
	_, err := w.w.Write(b[:])
	return err
}

// TextToBinary converts the 36-byte canonical text form of a UUID to its
// 16-byte binary form. Total function — any parse failure returns the zero
// UUID and an error (spec §9: "neither should branch on string lookups at
// hot paths").
func TextToBinary(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// BinaryToText converts a 16-byte UUID to its 36-byte canonical text form.
func BinaryToText(id uuid.UUID) string {
	return id.String()
}
