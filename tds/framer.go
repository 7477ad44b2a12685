package tds

import "github.com/tdscap/tdscap/memview"

// FrameResult is the outcome of one framing pass over a reassembled
// client-to-server stream.
type FrameResult struct {
	// Messages holds every fully-present SQLBatch/RPC message found, in
	// stream order.
	Messages []RawMessage
	// Consumed is the number of leading bytes of the input buffer that
	// were either carved into a Messages entry, skipped as a non-SQL TDS
	// message, or discarded during resync. Callers don't need this for
	// correctness (reassembly is always recomputed from the full segment
	// list, never from this offset) but it's useful for logging resync
	// activity.
	Consumed int64
	// ResyncBytes counts the bytes discarded one at a time while scanning
	// for the next plausible header.
	ResyncBytes int64
}

// FrameMessages carves every complete SQLBatch or RPC message out of buf.
// It stops as soon as it finds a message that isn't fully present yet
// (IncompleteTdsMessage) rather than blocking: the caller is expected to
// call again once the flow table has more reassembled bytes.
func FrameMessages(buf memview.MemView) FrameResult {
	var result FrameResult

	offset := int64(0)
	for buf.Len()-offset >= headerLen {
		t := Type(buf.GetByte(offset))
		if !t.known() {
			// Resynchronize: the buffer may start mid-message after a gap,
			// or contain noise that isn't a TDS packet boundary at all.
			offset++
			result.ResyncBytes++
			continue
		}

		header, ok := parseHeader(buf.SubView(offset, buf.Len()))
		if !ok {
			offset++
			result.ResyncBytes++
			continue
		}

		remaining := buf.Len() - offset
		if int64(header.Length) > remaining {
			// IncompleteTdsMessage: wait for more bytes. This also covers a
			// known-but-undecoded message whose tail hasn't arrived yet: its
			// skip can only happen once the length it claims is present.
			break
		}

		end := offset + int64(header.Length)
		if t != SQLBatch && t != RPC {
			// A type we don't decode (login, pre-login, a response that
			// leaked into this direction) is skipped wholesale rather than
			// resynced byte-by-byte.
			offset = end
			continue
		}

		result.Messages = append(result.Messages, RawMessage{
			Header: header,
			Body:   buf.SubView(offset, end),
		})
		offset = end
	}

	result.Consumed = offset
	return result
}
