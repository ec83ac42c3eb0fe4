package syncsrv

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/beehive-sync/beehive/internal/wire"
)

// Wire response codes for operation tags after authentication (spec §6.1
// table), declared here as literals. The success/transmission-error/
// auth-failure/not-enough-rights/invalid-schema values equal internal/errs's
// Kind.WireCode() for the matching Kind; the remaining message-type codes
// have no Kind of their own.
const (
	codeSuccess               byte = 0
	codeTransmissionError     byte = 1
	codeNewContainerAvailable byte = 40
	codeNewGroupAvailable     byte = 50
	codeNewElementAvailable   byte = 51
	codeDataNotFound          byte = 99
	codeUserNotFound          byte = 100
	codeNotEnoughRights       byte = 110
	codeInvalidSchema         byte = 120
	codeInternalError         byte = 255
)

// readRawU16/writeRawU16 read/write a plain big-endian u16 off the wire with
// no CRC participation — used for the structural item-counts this
// implementation introduces between CRC-framed sub-streams (spec §4.9's
// "zero or more" / "optional sub-stream" language names no explicit count
// field; every other list in the protocol is count-prefixed, so the same
// convention is used here).
func readRawU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func writeRawU16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// readShortBytes/writeShortBytes read/write a u8-length-prefixed raw byte
// string (as opposed to wire.ShortString, which assumes UTF-8 text) — used
// for the newPK/oldPK fields of a change frame (spec §4.9: "newPK (u8 len)").
func readShortBytes(r *wire.Reader) ([]byte, error) {
	n, err := r.U8()
	if err != nil {
		return nil, err
	}
	return r.Bytes(int(n))
}

func writeShortBytes(w *wire.Writer, b []byte) error {
	if len(b) > wire.MaxShortString {
		return fmt.Errorf("syncsrv: field exceeds short-bytes cap")
	}
	if err := w.U8(uint8(len(b))); err != nil {
		return err
	}
	return w.Bytes(b)
}

// writeReplyCode writes a single raw response byte with no CRC — used for
// the one-byte auth failure / transmission-error replies (spec §6.1: "sends
// a single reply byte").
func writeReplyCode(w io.Writer, code byte) error {
	_, err := w.Write([]byte{code})
	return err
}
