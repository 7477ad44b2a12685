package tds

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
	xunicode "golang.org/x/text/encoding/unicode"
)

// utf16LEDecoder is shared by SQLBatch text and NVARCHAR RPC parameters:
// TDS character data is UTF-16LE with no byte-order mark.
var utf16LEDecoder = xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM).NewDecoder()

// ErrDecodeRejected means a candidate string failed the validity filter
// (too short, or too noisy to plausibly be SQL text).
var ErrDecodeRejected = errors.New("tds: decoded text rejected")

// Decoded is the result of successfully decoding a TDS message's body.
type Decoded struct {
	SQLText   string
	Operation string
}

// DecodeMessage dispatches on msg.Header.Type and recovers the SQL text it
// carries, or ErrDecodeRejected if nothing plausible could be found.
func DecodeMessage(msg RawMessage) (Decoded, error) {
	switch msg.Header.Type {
	case SQLBatch:
		return decodeSQLBatch(msg)
	case RPC:
		return decodeRPC(msg)
	default:
		return Decoded{}, errors.Errorf("tds: unsupported message type %s", msg.Header.Type)
	}
}

// bodyBounds locates where a SQLBatch/RPC message's body starts, skipping
// the ALL_HEADERS prefix when one is plausibly present, and where it ends.
func bodyBounds(msg RawMessage) (start, end int64) {
	end = int64(msg.Header.Length)
	if end > msg.Body.Len() {
		end = msg.Body.Len()
	}

	start = headerLen
	if msg.Body.Len() >= 12 {
		total := msg.Body.GetUint32LE(headerLen)
		if total > 0 && total <= 65535 && headerLen+int64(total) <= msg.Body.Len() {
			start = headerLen + int64(total)
		}
	}

	return start, end
}

// decodeSQLBatch recovers the UTF-16LE SQL text of a SQLBatch message:
// header(8) || ALL_HEADERS || TextData.
func decodeSQLBatch(msg RawMessage) (Decoded, error) {
	start, end := bodyBounds(msg)
	if start >= end {
		return Decoded{}, ErrDecodeRejected
	}

	// Truncate to an even length: UTF-16LE code units are 2 bytes.
	if (end-start)%2 != 0 {
		end--
	}

	text, err := decodeUTF16LE(msg.Body.SubView(start, end).Bytes())
	if err != nil {
		return Decoded{}, errors.Wrap(err, "tds: decoding SQLBatch text")
	}

	if !isValidSQLText(text) {
		return Decoded{}, ErrDecodeRejected
	}

	return Decoded{SQLText: text, Operation: "TDS"}, nil
}

// decodeUTF16LE decodes raw UTF-16LE bytes, stripping leading NUL code
// units and truncating at the first interior NUL.
func decodeUTF16LE(raw []byte) (string, error) {
	decoded, err := utf16LEDecoder.Bytes(raw)
	if err != nil {
		return "", err
	}

	s := string(decoded)
	s = strings.TrimLeft(s, "\x00")
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return s, nil
}

// isValidSQLText applies the decoding validity filter shared by both
// decode paths: reject strings shorter than 3 trimmed characters, or whose
// control-character ratio exceeds 50%.
func isValidSQLText(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 3 {
		return false
	}

	runes := []rune(trimmed)
	printable := 0
	for _, r := range runes {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return printable*2 >= len(runes)
}

var sqlVerbs = []string{"SELECT", "INSERT", "UPDATE", "DELETE", "EXEC"}

// leadingVerb returns the SQL verb s begins with (after trimming), or ""
// if it doesn't start with one of the recognized verbs. The match is
// case-sensitive: client libraries emit these keywords uppercased, and a
// lowercase lookalike in free text shouldn't trigger the bind-value
// formatting path.
func leadingVerb(s string) string {
	trimmed := strings.TrimSpace(s)
	for _, verb := range sqlVerbs {
		if strings.HasPrefix(trimmed, verb) {
			return verb
		}
	}
	return ""
}
