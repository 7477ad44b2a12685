// Package tds frames and decodes the Tabular Data Stream messages carried
// inside a reassembled SQL Server TCP stream: carving 8-byte-header-prefixed
// messages out of a byte buffer (the framer) and recovering the SQL text a
// SQLBatch or RPC message carries (the body decoder).
package tds

import (
	"github.com/tdscap/tdscap/memview"
)

// Type identifies a TDS message's packet_type byte. Only the two types the
// decoder understands get names; everything else is carried as Other so
// the framer can still skip it correctly.
type Type byte

const (
	SQLBatch Type = 0x01
	RPC      Type = 0x03
	Response Type = 0x04
)

func (t Type) String() string {
	switch t {
	case SQLBatch:
		return "SQLBatch"
	case RPC:
		return "RPC"
	case Response:
		return "Response"
	default:
		return "Other"
	}
}

// known reports whether t is a packet_type TDS actually assigns, as opposed
// to an arbitrary byte the framer landed on mid-stream. The framer skips
// known-but-undecoded messages wholesale by their header length; anything
// else triggers byte-at-a-time resync.
func (t Type) known() bool {
	switch byte(t) {
	case 0x01, 0x02, 0x03, 0x04, 0x06, 0x07, 0x08, 0x0E, 0x10, 0x11, 0x12:
		return true
	}
	return false
}

// headerLen is the fixed size of a TDS packet header: packet_type, status,
// length (big-endian u16, includes this header), SPID, packet_id, window.
const headerLen = 8

// Header is a parsed TDS packet header.
type Header struct {
	Type     Type
	Status   byte
	Length   uint16
	SPID     uint16
	PacketID uint8
	Window   uint8
}

// parseHeader reads the 8-byte TDS header at the front of mv. It returns
// false if mv is too short or the header is invalid (Length < headerLen,
// which can never happen in a well-formed packet since the header itself
// is always included in Length).
func parseHeader(mv memview.MemView) (Header, bool) {
	if mv.Len() < headerLen {
		return Header{}, false
	}

	length := mv.GetUint16BE(2)
	if length < headerLen {
		return Header{}, false
	}

	return Header{
		Type:     Type(mv.GetByte(0)),
		Status:   byte(mv.GetByte(1)),
		Length:   length,
		SPID:     mv.GetUint16BE(4),
		PacketID: uint8(mv.GetByte(6)),
		Window:   uint8(mv.GetByte(7)),
	}, true
}

// RawMessage is one fully-present TDS message carved out of a reassembled
// stream, still in wire form.
type RawMessage struct {
	Header Header
	Body   memview.MemView // the full message, header included
}
