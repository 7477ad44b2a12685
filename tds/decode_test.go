package tds

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/tdscap/tdscap/memview"
)

func u16name(s string) []byte {
	return append([]byte{byte(len(s))}, utf16LE(s)...)
}

// buildExecSQLRPC constructs a full RPC message invoking sp_executesql
// with an NVARCHAR @stmt parameter and an INT @id parameter.
func buildExecSQLRPC(stmt string, id int32) []byte {
	var body []byte
	body = append(body, 0xFF, 0xFF) // ProcID marker
	body = append(body, 0x0A, 0x00) // sp_executesql
	body = append(body, 0x00, 0x00) // option flags

	// @stmt NVARCHAR parameter.
	body = append(body, u16name("@stmt")...)
	body = append(body, 0x00)       // status flags
	body = append(body, typeNVarChar)
	maxLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(maxLen, 4000)
	body = append(body, maxLen...)
	body = append(body, make([]byte, 5)...) // collation
	stmtBytes := utf16LE(stmt)
	dataLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(dataLen, uint16(len(stmtBytes)))
	body = append(body, dataLen...)
	body = append(body, stmtBytes...)

	// @id INT parameter.
	body = append(body, u16name("@id")...)
	body = append(body, 0x00) // status flags
	body = append(body, typeInt)
	idLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(idLen, 4)
	body = append(body, idLen...)
	idBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(idBytes, uint32(id))
	body = append(body, idBytes...)

	length := 8 + len(body)
	msg := make([]byte, 0, length)
	msg = append(msg, 0x03, 0x01, byte(length>>8), byte(length), 0x00, 0x20, 0x00, 0x00)
	msg = append(msg, body...)
	return msg
}

func TestDecodeRPC_ExecSQLWithIntBind(t *testing.T) {
	raw := buildExecSQLRPC("SELECT * FROM T WHERE id=@id", 7)

	result := FrameMessages(memview.New(raw))
	if len(result.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(result.Messages))
	}

	decoded, err := DecodeMessage(result.Messages[0])
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}

	want := "SELECT * FROM T WHERE id=@id -- @id=7"
	if decoded.SQLText != want {
		t.Errorf("SQLText = %q, want %q", decoded.SQLText, want)
	}
}

func TestDecodeRPC_NullParameterValue(t *testing.T) {
	var body []byte
	body = append(body, 0xFF, 0xFF, 0x0A, 0x00, 0x00, 0x00)
	body = append(body, u16name("@stmt")...)
	body = append(body, 0x00, typeNVarChar)
	body = append(body, 0xA0, 0x0F)
	body = append(body, make([]byte, 5)...)
	stmtBytes := utf16LE("SELECT name FROM T WHERE x=@x")
	dataLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(dataLen, uint16(len(stmtBytes)))
	body = append(body, dataLen...)
	body = append(body, stmtBytes...)

	body = append(body, u16name("@x")...)
	body = append(body, 0x00, typeInt)
	body = append(body, 0xFF, 0xFF) // DataLen = 0xFFFF => NULL

	length := 8 + len(body)
	msg := make([]byte, 0, length)
	msg = append(msg, 0x03, 0x01, byte(length>>8), byte(length), 0x00, 0x20, 0x00, 0x00)
	msg = append(msg, body...)

	result := FrameMessages(memview.New(msg))
	if len(result.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(result.Messages))
	}
	decoded, err := DecodeMessage(result.Messages[0])
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	want := "SELECT name FROM T WHERE x=@x -- @x=NULL"
	if decoded.SQLText != want {
		t.Errorf("SQLText = %q, want %q", decoded.SQLText, want)
	}
}

func TestIsValidSQLText(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"SELECT 1", true},
		{"ab", false},                // below 3 trimmed chars
		{"   ", false},               // all whitespace
		{"\x01\x02\x03ok", false},    // majority control characters
		{"SELECT * FROM T", true},
	}
	for _, c := range cases {
		if got := isValidSQLText(c.text); got != c.want {
			t.Errorf("isValidSQLText(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

// Text directly after the packet header: the first u32 of the body is not
// a plausible ALL_HEADERS TotalLength, so the decoder treats the prefix as
// absent.
func TestDecodeSQLBatch_NoAllHeaders(t *testing.T) {
	textBytes := utf16LE("SELECT 1")
	length := 8 + len(textBytes)
	msg := append([]byte{0x01, 0x01, byte(length >> 8), byte(length), 0x00, 0x00, 0x01, 0x00}, textBytes...)

	result := FrameMessages(memview.New(msg))
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
}

func TestDecodeSQLBatch_RejectsShortText(t *testing.T) {
	msg := buildSQLBatch("a")
	// "a" alone trims to 1 char: below the 3-character validity floor.
	_, err := DecodeMessage(RawMessage{
		Header: mustParseHeader(msg),
		Body:   memview.New(msg),
	})
	if err != ErrDecodeRejected {
		t.Errorf("DecodeMessage = %v, want ErrDecodeRejected", err)
	}
}

func mustParseHeader(b []byte) Header {
	h, ok := parseHeader(memview.New(b))
	if !ok {
		panic("invalid test fixture header")
	}
	return h
}

func TestDecodeHeuristic_FindsEmbeddedQuery(t *testing.T) {
	query := "SELECT col FROM dbo.Widgets WHERE id = 1"
	payload := utf16LE(query)

	decoded, ok := DecodeHeuristic(memview.New(payload))
	if !ok {
		t.Fatal("expected heuristic decode to succeed")
	}
	if !strings.Contains(decoded.SQLText, "SELECT col FROM dbo.Widgets") {
		t.Errorf("SQLText = %q, want it to contain the query", decoded.SQLText)
	}
	if decoded.Operation != "SELECT" {
		t.Errorf("Operation = %q, want %q", decoded.Operation, "SELECT")
	}
}

func TestDecodeHeuristic_RejectsNonSQL(t *testing.T) {
	payload := utf16LE("this is just some plain english text with no keywords at all")
	_, ok := DecodeHeuristic(memview.New(payload))
	if ok {
		t.Error("expected heuristic decode to reject text with no SQL keyword")
	}
}
