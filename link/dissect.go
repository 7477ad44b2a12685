// Package link dissects raw captured frames into TCP segments by walking
// the Ethernet, IPv4, and TCP headers byte-by-byte at their documented
// offsets. It does not use a general-purpose packet-decoding library:
// everything it needs from a frame is the TCP 4-tuple, sequence number,
// control flags, and payload, and hand-walking three fixed-shape headers to
// get those is both cheap and easy to audit for correctness against RFC 791
// and RFC 9293.
package link

import (
	"encoding/binary"
	"net/netip"

	"github.com/pkg/errors"

	"github.com/tdscap/tdscap/flow"
)

const (
	ethHeaderLen  = 14
	ethTypeIPv4   = 0x0800
	ethType8021Q  = 0x8100
	vlanTagLen    = 4
	ipProtocolTCP = 6
)

// Flags holds the subset of TCP control bits the rest of the pipeline
// cares about.
type Flags struct {
	SYN, FIN, RST, ACK, PSH bool
}

// Packet is one dissected TCP segment, ready to be handed to the flow
// table.
type Packet struct {
	Src, Dst flow.Endpoint
	Seq      uint32
	Flags    Flags
	Payload  []byte
}

// ErrNotTCP is returned, unwrapped, when a frame is not an IPv4/TCP packet.
// Callers should treat it as "skip this frame", not as a fatal error: a
// capture will always contain ARP, IPv6, UDP, and other traffic alongside
// the TCP connections we care about.
var ErrNotTCP = errors.New("link: not an IPv4/TCP frame")

// Dissect parses one raw Ethernet frame (as returned by a pcap handle) into
// a Packet. It returns ErrNotTCP when the EtherType is not IPv4 or the IP
// protocol is not TCP, and a different error if the frame is too short or
// malformed for the headers it claims to contain.
func Dissect(frame []byte) (Packet, error) {
	ethType, ipStart, err := parseEthernet(frame)
	if err != nil {
		return Packet{}, err
	}
	if ethType != ethTypeIPv4 {
		return Packet{}, ErrNotTCP
	}

	srcIP, dstIP, protocol, tcpStart, payloadEnd, err := parseIPv4(frame, ipStart)
	if err != nil {
		return Packet{}, err
	}
	if protocol != ipProtocolTCP {
		return Packet{}, ErrNotTCP
	}

	srcPort, dstPort, seq, flags, payload, err := parseTCP(frame, tcpStart, payloadEnd)
	if err != nil {
		return Packet{}, err
	}

	return Packet{
		Src:     flow.Endpoint{Addr: srcIP, Port: srcPort},
		Dst:     flow.Endpoint{Addr: dstIP, Port: dstPort},
		Seq:     seq,
		Flags:   flags,
		Payload: payload,
	}, nil
}

// parseEthernet returns the EtherType of frame and the byte offset at
// which the next layer starts, transparently skipping a single 802.1Q VLAN
// tag if present.
func parseEthernet(frame []byte) (etherType uint16, nextOffset int, err error) {
	if len(frame) < ethHeaderLen {
		return 0, 0, errors.New("link: frame shorter than an Ethernet header")
	}

	etherType = binary.BigEndian.Uint16(frame[12:14])
	offset := ethHeaderLen

	if etherType == ethType8021Q {
		if len(frame) < offset+vlanTagLen+2 {
			return 0, 0, errors.New("link: truncated 802.1Q tag")
		}
		etherType = binary.BigEndian.Uint16(frame[offset+2 : offset+4])
		offset += vlanTagLen
	}

	return etherType, offset, nil
}

// parseIPv4 returns the source and destination addresses, the transport
// protocol number, the byte offset of the transport header, and the offset
// one past the end of the IP payload (per the header's Total Length
// field, which may be less than len(frame) due to Ethernet padding).
func parseIPv4(frame []byte, start int) (src, dst netip.Addr, protocol uint8, transportStart, payloadEnd int, err error) {
	if len(frame) < start+20 {
		return src, dst, 0, 0, 0, errors.New("link: frame shorter than a minimal IPv4 header")
	}

	versionIHL := frame[start]
	version := versionIHL >> 4
	if version != 4 {
		return src, dst, 0, 0, 0, errors.Errorf("link: unsupported IP version %d", version)
	}

	ihl := int(versionIHL&0x0F) * 4
	if ihl < 20 {
		return src, dst, 0, 0, 0, errors.Errorf("link: IPv4 IHL %d below minimum header size", ihl)
	}
	if len(frame) < start+ihl {
		return src, dst, 0, 0, 0, errors.New("link: frame shorter than its IPv4 header claims")
	}

	totalLength := int(binary.BigEndian.Uint16(frame[start+2 : start+4]))
	protocol = frame[start+9]
	src = ipv4Addr(frame[start+12 : start+16])
	dst = ipv4Addr(frame[start+16 : start+20])

	transportStart = start + ihl
	end := start + totalLength
	if totalLength == 0 || end > len(frame) {
		// Total Length absent or lying (common with TSO-offloaded captures):
		// fall back to "rest of the frame".
		end = len(frame)
	}

	return src, dst, protocol, transportStart, end, nil
}

// parseTCP returns the source/destination ports, sequence number, control
// flags, and payload of the TCP segment starting at offset start in frame,
// bounded by payloadEnd (the end of the enclosing IP packet).
func parseTCP(frame []byte, start, payloadEnd int) (srcPort, dstPort uint16, seq uint32, flags Flags, payload []byte, err error) {
	if len(frame) < start+20 || payloadEnd < start+20 {
		return 0, 0, 0, Flags{}, nil, errors.New("link: frame shorter than a minimal TCP header")
	}

	srcPort = binary.BigEndian.Uint16(frame[start : start+2])
	dstPort = binary.BigEndian.Uint16(frame[start+2 : start+4])
	seq = binary.BigEndian.Uint32(frame[start+4 : start+8])

	dataOffset := int(frame[start+12]>>4) * 4
	if dataOffset < 20 {
		return 0, 0, 0, Flags{}, nil, errors.Errorf("link: TCP data offset %d below minimum header size", dataOffset)
	}
	if start+dataOffset > payloadEnd {
		return 0, 0, 0, Flags{}, nil, errors.New("link: TCP header longer than the enclosing IP packet")
	}

	flagByte := frame[start+13]
	flags = Flags{
		FIN: flagByte&0x01 != 0,
		SYN: flagByte&0x02 != 0,
		RST: flagByte&0x04 != 0,
		PSH: flagByte&0x08 != 0,
		ACK: flagByte&0x10 != 0,
	}

	payload = frame[start+dataOffset : payloadEnd]
	return srcPort, dstPort, seq, flags, payload, nil
}

// ipv4Addr converts a 4-byte address field into a netip.Addr, detaching it
// from the capture buffer in the process.
func ipv4Addr(b []byte) netip.Addr {
	var a [4]byte
	copy(a[:], b)
	return netip.AddrFrom4(a)
}
