package flow

import "time"

// Segment is one observed TCP payload, keyed by the sequence number of its
// first byte. Segments are stored in both directions of a flow as they
// arrive and are only assembled into a contiguous stream when a caller asks
// to read one side's data.
type Segment struct {
	Seq       uint32
	Data      []byte
	Timestamp time.Time
}

// end returns the sequence number one past the last byte of data, with
// 32-bit wraparound.
func (s Segment) end() uint32 {
	return s.Seq + uint32(len(s.Data))
}
