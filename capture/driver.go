package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/tdscap/tdscap/event"
	"github.com/tdscap/tdscap/flow"
	"github.com/tdscap/tdscap/link"
	"github.com/tdscap/tdscap/tds"
)

// Driver owns the flow table and drives one capture session end to end:
// read a packet, dissect it, insert it into the flow table, and for
// client-to-server traffic run the TDS framer/decoder/emitter chain.
//
// A Driver's flow table is the sole mutable state of a capture session and
// is only ever touched from the goroutine running Run: no locking is
// needed beyond what Table already does internally for its own callers.
type Driver struct {
	cfg     Config
	table   *flow.Table
	emitter *event.Emitter

	// SessionID correlates this driver's log output across a capture
	// run; it has no bearing on flow identity, which is derived purely
	// from observed 4-tuples.
	SessionID uuid.UUID
}

// NewDriver constructs a Driver that publishes decoded events on out. The
// caller owns out and should close it once the driver's Run has returned.
func NewDriver(cfg Config, out chan<- event.SqlEvent) *Driver {
	return &Driver{
		cfg:       cfg,
		table:     flow.NewTable(),
		emitter:   event.NewEmitter(out),
		SessionID: uuid.New(),
	}
}

// Stats summarizes one Run's activity for the capture-stop banner a
// logging collaborator may print.
type Stats struct {
	PacketsRead      int
	PacketsDissected int
	EventsPublished  int
}

// Run drives the capture loop until stop is closed or src returns a fatal
// (non-timeout) error. It never blocks longer than src's own read timeout
// between checks of stop.
func (d *Driver) Run(src Source, stop <-chan struct{}) (Stats, error) {
	var stats Stats

	for {
		select {
		case <-stop:
			return stats, nil
		default:
		}

		raw, err := src.Next()
		if err == ErrTimeout {
			continue
		}
		if err != nil {
			return stats, err
		}
		stats.PacketsRead++

		pkt, err := link.Dissect(raw.Data)
		if err != nil {
			continue // FrameTooShort / NonIPv4 / NonTCP: silently skip
		}
		stats.PacketsDissected++

		if !d.cfg.portsMatch(pkt.Src.Port, pkt.Dst.Port) {
			continue // PortMismatch
		}

		id := flow.NewID(pkt.Src, pkt.Dst)
		isClient := id.IsClientToServer(pkt.Src)

		if len(pkt.Payload) > 0 {
			d.table.AddPacket(pkt.Src, pkt.Dst, flow.Segment{
				Seq:       pkt.Seq,
				Data:      pkt.Payload,
				Timestamp: raw.Timestamp,
			})
		}

		if !isClient {
			continue
		}

		published, gone := d.processClientSide(id, pkt, stop)
		stats.EventsPublished += published
		if gone {
			return stats, nil // SubscriberGone
		}
	}
}

// processClientSide frames and decodes whatever is currently reassembled
// for id's client-to-server direction and emits any new SqlEvents.
func (d *Driver) processClientSide(id flow.ID, pkt link.Packet, stop <-chan struct{}) (published int, subscriberGone bool) {
	mv, _, ok := d.table.GetClientData(id)
	if !ok {
		return 0, false
	}

	firstSeen, _ := d.table.FirstSeen(id)
	flowID := flowIDString(pkt)

	result := tds.FrameMessages(mv)
	for _, msg := range result.Messages {
		decoded, err := tds.DecodeMessage(msg)
		if err != nil {
			continue // DecodeRejected
		}

		ok, gone := d.emit(decoded, msg.Body.Bytes(), flowID, firstSeen, stop)
		if ok {
			published++
		}
		if gone {
			return published, true
		}
	}

	if d.cfg.ParsingMode == ModeHeuristic && len(result.Messages) == 0 {
		if decoded, ok := tds.DecodeHeuristic(mv); ok {
			ok, gone := d.emit(decoded, nil, flowID, firstSeen, stop)
			if ok {
				published++
			}
			if gone {
				return published, true
			}
		}
	}

	return published, false
}

func (d *Driver) emit(decoded tds.Decoded, raw []byte, flowID string, firstSeen time.Time, stop <-chan struct{}) (published, gone bool) {
	return d.emitter.Emit(event.Candidate{
		Text:        decoded.SQLText,
		Operation:   decoded.Operation,
		RawBytes:    raw,
		FlowID:      flowID,
		FirstSeenAt: firstSeen,
		IncludeRaw:  d.cfg.IncludeRawData && raw != nil,
	}, stop)
}

// flowIDString renders the printable flow-identity string, which preserves
// packet direction unlike the canonical flow.ID.
func flowIDString(pkt link.Packet) string {
	return pkt.Src.String() + "->" + pkt.Dst.String()
}
