package flow

import (
	"sort"
	"sync"
	"time"

	"github.com/tdscap/tdscap/memview"
)

// FlowState holds every TCP segment observed so far for one conversation,
// split by direction. Nothing is reassembled as segments arrive; assembly
// happens lazily and is always recomputed from scratch when a caller reads
// a side's data (see reassemble). This trades CPU for simplicity and makes
// the reassembler's behavior easy to reason about: it has no hidden
// incremental state that could drift from what AddPacket actually received.
type FlowState struct {
	clientSegs []Segment
	serverSegs []Segment
	firstSeen  time.Time
}

// Table tracks FlowState for every conversation currently being observed.
type Table struct {
	mu    sync.Mutex
	flows map[ID]*FlowState
}

// NewTable returns an empty flow table.
func NewTable() *Table {
	return &Table{flows: make(map[ID]*FlowState)}
}

// AddPacket records one TCP payload observed traveling from src to dst as
// part of the flow canonicalized from (src, dst). It is a no-op if seg
// carries no payload.
func (t *Table) AddPacket(src, dst Endpoint, seg Segment) {
	if len(seg.Data) == 0 {
		return
	}

	id := NewID(src, dst)

	t.mu.Lock()
	defer t.mu.Unlock()

	fs, ok := t.flows[id]
	if !ok {
		fs = &FlowState{firstSeen: seg.Timestamp}
		t.flows[id] = fs
	}

	if id.IsClientToServer(src) {
		fs.clientSegs = append(fs.clientSegs, seg)
	} else {
		fs.serverSegs = append(fs.serverSegs, seg)
	}
}

// GetClientData reassembles everything observed so far in the
// client-to-server direction of id. ok is false if the flow is unknown.
func (t *Table) GetClientData(id ID) (mv memview.MemView, nextSeq uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fs, found := t.flows[id]
	if !found {
		return memview.MemView{}, 0, false
	}
	mv, nextSeq = reassemble(fs.clientSegs)
	return mv, nextSeq, true
}

// GetServerData is GetClientData for the server-to-client direction.
func (t *Table) GetServerData(id ID) (mv memview.MemView, nextSeq uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fs, found := t.flows[id]
	if !found {
		return memview.MemView{}, 0, false
	}
	mv, nextSeq = reassemble(fs.serverSegs)
	return mv, nextSeq, true
}

// FirstSeen returns the timestamp of the first packet observed for id.
func (t *Table) FirstSeen(id ID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fs, ok := t.flows[id]
	if !ok {
		return time.Time{}, false
	}
	return fs.firstSeen, true
}

// Forget drops all state for id. Callers use this once a flow's SqlEvents
// have all been emitted and no more packets are expected (e.g. on FIN/RST).
func (t *Table) Forget(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.flows, id)
}

// Len returns the number of conversations currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}

// seqLess reports whether a precedes b in sequence-number space, correctly
// handling the 32-bit wraparound that a long-lived TCP connection will
// eventually hit.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// reassemble sorts segs by sequence number and walks them in order,
// trimming overlapping prefixes and stopping at the first gap. It is
// recomputed from scratch on every call rather than incrementally updated:
// a later call with more segments may resolve a gap an earlier call could
// not cross, and this way there's only ever one code path that produces a
// reassembled buffer.
//
// The returned nextSeq is the sequence number one past the last byte
// included in mv; it is what a subsequent segment would need to start at
// (or before, with overlap) to extend the buffer further.
func reassemble(segs []Segment) (mv memview.MemView, nextSeq uint32) {
	if len(segs) == 0 {
		return memview.MemView{}, 0
	}

	sorted := make([]Segment, len(segs))
	copy(sorted, segs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return seqLess(sorted[i].Seq, sorted[j].Seq)
	})

	expected := sorted[0].Seq

	for _, s := range sorted {
		if seqLess(expected, s.Seq) {
			// s starts after the next byte we need: a gap. Everything after
			// this point in sorted order starts at or after s.Seq too, so
			// there's nothing left to recover in this pass.
			break
		}

		end := s.end()
		if !seqLess(expected, end) {
			// Already fully covered by what's been appended so far.
			continue
		}

		overlap := expected - s.Seq
		data := s.Data
		if overlap > 0 {
			data = data[overlap:]
		}

		mv.Append(memview.New(data))
		expected += uint32(len(data))
	}

	return mv, expected
}
