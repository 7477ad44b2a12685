package tds

import (
	"testing"

	"github.com/tdscap/tdscap/memview"
)

// buildSQLBatch constructs a full SQLBatch message: 8-byte header, a
// 22-byte ALL_HEADERS prefix (TotalLength, then a transaction-descriptor
// header: length, type, descriptor, outstanding request count), and
// UTF-16LE text.
func buildSQLBatch(text string) []byte {
	textBytes := utf16LE(text)

	allHeaders := []byte{
		0x16, 0x00, 0x00, 0x00, // TotalLength = 22, includes itself
		0x12, 0x00, 0x00, 0x00, // header length = 18
		0x02, 0x00, // header type: transaction descriptor
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // descriptor
		0x01, 0x00, 0x00, 0x00, // outstanding requests
	}
	length := 8 + len(allHeaders) + len(textBytes)

	msg := make([]byte, 0, length)
	msg = append(msg, 0x01, 0x01, byte(length>>8), byte(length), 0x00, 0x16, 0x00, 0x00)
	msg = append(msg, allHeaders...)
	msg = append(msg, textBytes...)
	return msg
}

func utf16LE(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r), 0x00)
	}
	return out
}

// A hand-written SQLBatch with an ALL_HEADERS prefix, down to exact bytes:
// message length 0x2E (46) covering 8 header + 22 ALL_HEADERS + 16 text.
func TestFrameAndDecode_SingleSQLBatch(t *testing.T) {
	raw := []byte{
		0x01, 0x01, 0x00, 0x2E, 0x00, 0x00, 0x01, 0x00,
		0x16, 0x00, 0x00, 0x00, 0x12, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, 0x00, 0x00,
		0x53, 0x00, 0x45, 0x00, 0x4C, 0x00, 0x45, 0x00,
		0x43, 0x00, 0x54, 0x00, 0x20, 0x00, 0x31, 0x00,
	}

	mv := memview.New(raw)
	result := FrameMessages(mv)
	if len(result.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(result.Messages))
	}

	decoded, err := DecodeMessage(result.Messages[0])
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.SQLText != "SELECT 1" {
		t.Errorf("SQLText = %q, want %q", decoded.SQLText, "SELECT 1")
	}
	if decoded.Operation != "TDS" {
		t.Errorf("Operation = %q, want %q", decoded.Operation, "TDS")
	}
}

func TestFrameMessages_TwoBackToBackBatches(t *testing.T) {
	m1 := buildSQLBatch("SELECT 1")
	m2 := buildSQLBatch("SELECT 2")

	mv := memview.New(append(append([]byte{}, m1...), m2...))
	result := FrameMessages(mv)
	if len(result.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(result.Messages))
	}

	d1, err := DecodeMessage(result.Messages[0])
	if err != nil {
		t.Fatalf("DecodeMessage(m1): %v", err)
	}
	d2, err := DecodeMessage(result.Messages[1])
	if err != nil {
		t.Fatalf("DecodeMessage(m2): %v", err)
	}

	if d1.SQLText != "SELECT 1" || d2.SQLText != "SELECT 2" {
		t.Errorf("got texts %q, %q, want %q, %q", d1.SQLText, d2.SQLText, "SELECT 1", "SELECT 2")
	}
}

// Four bytes of noise before a valid SQLBatch should be skipped via
// resync, one byte at a time.
func TestFrameMessages_ResyncPastNoise(t *testing.T) {
	noise := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	valid := buildSQLBatch("SELECT 3")

	mv := memview.New(append(append([]byte{}, noise...), valid...))
	result := FrameMessages(mv)

	if result.ResyncBytes != int64(len(noise)) {
		t.Errorf("ResyncBytes = %d, want %d", result.ResyncBytes, len(noise))
	}
	if len(result.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(result.Messages))
	}

	decoded, err := DecodeMessage(result.Messages[0])
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.SQLText != "SELECT 3" {
		t.Errorf("SQLText = %q, want %q", decoded.SQLText, "SELECT 3")
	}
}

func TestFrameMessages_IncompleteMessageStops(t *testing.T) {
	full := buildSQLBatch("SELECT 1")
	truncated := full[:len(full)-4]

	mv := memview.New(truncated)
	result := FrameMessages(mv)

	if len(result.Messages) != 0 {
		t.Fatalf("got %d messages, want 0 for a truncated message", len(result.Messages))
	}
	if result.Consumed != 0 {
		t.Errorf("Consumed = %d, want 0 (nothing should be skipped while waiting)", result.Consumed)
	}
}

// n well-formed concatenated messages yield n decode attempts.
func TestFrameMessages_NConcatenatedMessages(t *testing.T) {
	var buf []byte
	texts := []string{"SELECT 1", "SELECT 2", "SELECT 3", "SELECT 4"}
	for _, text := range texts {
		buf = append(buf, buildSQLBatch(text)...)
	}

	result := FrameMessages(memview.New(buf))
	if len(result.Messages) != len(texts) {
		t.Fatalf("got %d messages, want %d", len(result.Messages), len(texts))
	}
	for i, msg := range result.Messages {
		decoded, err := DecodeMessage(msg)
		if err != nil {
			t.Fatalf("DecodeMessage(%d): %v", i, err)
		}
		if decoded.SQLText != texts[i] {
			t.Errorf("message %d: SQLText = %q, want %q", i, decoded.SQLText, texts[i])
		}
	}
}

func TestFrameMessages_UnknownTypeSkipped(t *testing.T) {
	// A Response (0x04) message followed by a valid SQLBatch.
	response := []byte{0x04, 0x01, 0x00, 0x0A, 0x00, 0x00, 0x01, 0x00, 0xAA, 0xBB}
	valid := buildSQLBatch("SELECT 5")

	mv := memview.New(append(append([]byte{}, response...), valid...))
	result := FrameMessages(mv)

	if len(result.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(result.Messages))
	}
	decoded, err := DecodeMessage(result.Messages[0])
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.SQLText != "SELECT 5" {
		t.Errorf("SQLText = %q, want %q", decoded.SQLText, "SELECT 5")
	}
}
