// Package flow implements the per-TCP-conversation flow table and the
// read-time segment reassembler.
package flow

import (
	"fmt"
	"net/netip"
)

// Endpoint is one side of a TCP conversation. netip.Addr (rather than
// net.IP) keeps Endpoint comparable, so an ID built from two Endpoints can
// be a map key in the flow table.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

func (e Endpoint) less(o Endpoint) bool {
	if e.Addr != o.Addr {
		return e.Addr.Less(o.Addr)
	}
	return e.Port < o.Port
}

// ID canonically identifies a TCP conversation independent of packet
// direction: ID(a, b) == ID(b, a). Endpoints A and B are ordered so that
// A <= B lexicographically, which is what lets both directions of a
// conversation hash to the same key.
type ID struct {
	A, B Endpoint
}

// NewID canonicalizes the (src, dst) endpoints of an observed packet into a
// direction-independent flow identity.
func NewID(src, dst Endpoint) ID {
	if src.less(dst) {
		return ID{A: src, B: dst}
	}
	return ID{A: dst, B: src}
}

// IsClientToServer reports whether a packet whose source endpoint is src
// belongs to flow id and is traveling in the client-to-server direction.
// Direction is fixed by the canonical ordering, not by observation order:
// the lower endpoint (A) is treated as the client, so the answer is the
// same for every packet of the flow whichever side was seen first.
func (id ID) IsClientToServer(src Endpoint) bool {
	return src == id.A
}

func (id ID) String() string {
	return fmt.Sprintf("%s<->%s", id.A, id.B)
}
