// Package capture drives a packet source through the dissection,
// reassembly, framing, decoding, and emission pipeline.
package capture

import (
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

// ErrTimeout is returned by Source.Next when no packet arrived before the
// source's read timeout elapsed. It is not a fatal error: the driver loop
// uses it to go back and poll the stop channel.
var ErrTimeout = errors.New("capture: read timeout")

// RawPacket is the external packet-source interface's unit of input: one
// captured frame plus its capture timestamp.
type RawPacket struct {
	Timestamp time.Time
	Data      []byte
}

// Source is a bounded-wait iterator over captured frames. It is the only
// assumed capture collaborator; the rest of the pipeline only depends on
// this interface, not on gopacket or libpcap directly.
type Source interface {
	// Next blocks until a packet arrives, the read timeout elapses (in
	// which case it returns ErrTimeout), or a terminal capture error
	// occurs.
	Next() (RawPacket, error)
	Close() error
}

// pcapSource adapts a live or offline gopacket/pcap handle to Source. It
// uses pcap only to pull raw frame bytes and a timestamp off the wire or
// out of a capture file; all parsing above Ethernet is done by package
// link, not by gopacket's layers.
type pcapSource struct {
	handle *pcap.Handle
}

// OpenOffline opens a pcap/pcapng capture file for replay.
func OpenOffline(path string) (Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, errors.Wrapf(err, "capture: opening capture file %s", path)
	}
	return &pcapSource{handle: handle}, nil
}

// OpenLive opens a live network interface in promiscuous mode.
func OpenLive(iface string, snapLen int32, readTimeout time.Duration) (Source, error) {
	handle, err := pcap.OpenLive(iface, snapLen, true, readTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "capture: opening interface %s", iface)
	}
	return &pcapSource{handle: handle}, nil
}

func (s *pcapSource) Next() (RawPacket, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err == pcap.NextErrorTimeoutExpired {
		return RawPacket{}, ErrTimeout
	}
	if err != nil {
		return RawPacket{}, errors.Wrap(err, "capture: reading next packet")
	}
	return RawPacket{Timestamp: ci.Timestamp, Data: data}, nil
}

func (s *pcapSource) Close() error {
	s.handle.Close()
	return nil
}
