package tds

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	xcharmap "golang.org/x/text/encoding/charmap"

	"github.com/tdscap/tdscap/memview"
	"github.com/tdscap/tdscap/slices"
)

// RPC typed-parameter type IDs the decoder understands.
const (
	typeNVarChar = 0xE7
	typeVarChar  = 0xA7
	typeInt      = 0x26
	typeFloat    = 0x6A

	nullDataLen = 0xFFFF
	procMarker  = 0xFFFF
	procExecSQL = 0x000A
)

// sqlStmtParamNames are the sp_executesql parameter names whose NVARCHAR
// value is the SQL body itself, not a bind value.
var sqlStmtParamNames = map[string]bool{"@stmt": true, "@statement": true}

// decodeRPC recovers the SQL text an RPC (0x03) message carries: a typed
// binary parameter stream, most interestingly sp_executesql's @stmt
// parameter plus its bind values.
func decodeRPC(msg RawMessage) (Decoded, error) {
	start, end := bodyBounds(msg)
	if start >= end {
		return Decoded{}, ErrDecodeRejected
	}

	sub := msg.Body.SubView(start, end)
	r := sub.Reader()

	// Procedure identifier: FFFF marker + builtin ProcID, or a name.
	marker, err := r.ReadUint16LE()
	if err != nil {
		return Decoded{}, ErrDecodeRejected
	}
	if marker == procMarker {
		if _, err := r.ReadUint16LE(); err != nil {
			return Decoded{}, ErrDecodeRejected
		}
	} else {
		// The u16 just read was actually B_NameLen plus the first byte of
		// the UTF-16LE procedure name. Unread that name byte, then skip the
		// whole name; it's only useful for diagnostics.
		if _, err := r.Seek(-1, io.SeekCurrent); err != nil {
			return Decoded{}, ErrDecodeRejected
		}
		nameLen := int(marker & 0xFF)
		if _, err := r.ReadBytes(2 * nameLen); err != nil {
			return Decoded{}, ErrDecodeRejected
		}
	}

	// Option flags.
	if _, err := r.ReadUint16LE(); err != nil {
		return Decoded{}, ErrDecodeRejected
	}

	stmt, parts, ok := decodeRPCParameters(r)
	if !ok {
		return Decoded{}, ErrDecodeRejected
	}
	if len(parts) == 0 {
		return Decoded{}, ErrDecodeRejected
	}

	var text string
	if stmt != "" && leadingVerb(stmt) != "" {
		binds := make([]rpcParam, 0, len(parts))
		for _, p := range parts {
			if !p.isStmt {
				binds = append(binds, p)
			}
		}

		var b strings.Builder
		b.WriteString(stmt)
		for i, p := range binds {
			if i == 0 {
				b.WriteString(" -- ")
			} else {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", p.name, p.value)
		}
		text = b.String()
	} else {
		values := slices.Map(parts, func(p rpcParam) string { return p.value })
		text = strings.Join(values, " | ")
	}

	if !isValidSQLText(text) {
		return Decoded{}, ErrDecodeRejected
	}

	return Decoded{SQLText: text, Operation: "TDS"}, nil
}

type rpcParam struct {
	name   string
	value  string
	isStmt bool
}

// decodeRPCParameters walks the parameter stream until the reader is
// exhausted. stmt is the value of the last @stmt/@statement NVARCHAR
// parameter encountered, if any; parts holds every parameter in encounter
// order, except that each @stmt entry is moved to the front as it is read.
func decodeRPCParameters(r *memview.Reader) (stmt string, parts []rpcParam, ok bool) {
	for {
		nameLen, err := r.ReadByte()
		if err != nil {
			// Clean end of the parameter stream.
			break
		}

		nameBytes, err := r.ReadBytes(2 * int(nameLen))
		if err != nil {
			return "", nil, false
		}
		name, err := decodeUTF16LE(nameBytes)
		if err != nil {
			return "", nil, false
		}

		if _, err := r.ReadByte(); err != nil { // StatusFlags
			return "", nil, false
		}

		typeID, err := r.ReadByte()
		if err != nil {
			return "", nil, false
		}

		param, ok := decodeRPCValue(r, typeID, name)
		if !ok {
			return "", nil, false
		}

		if sqlStmtParamNames[strings.ToLower(param.name)] && typeID == typeNVarChar {
			param.isStmt = true
			stmt = param.value
			parts = append([]rpcParam{param}, parts...)
			continue
		}
		parts = append(parts, param)
	}

	return stmt, parts, true
}

// decodeRPCValue reads one typed parameter value. ok is false
// only on a structural read failure (truncated message); an unrecognized
// type or a NULL value still returns ok=true with an empty/placeholder
// value.
func decodeRPCValue(r *memview.Reader, typeID byte, name string) (rpcParam, bool) {
	switch typeID {
	case typeNVarChar:
		if _, err := r.ReadUint16LE(); err != nil { // MaxLen
			return rpcParam{}, false
		}
		if _, err := r.ReadBytes(5); err != nil { // Collation
			return rpcParam{}, false
		}
		dataLen, err := r.ReadUint16LE()
		if err != nil {
			return rpcParam{}, false
		}
		if dataLen == nullDataLen {
			return rpcParam{name: name, value: "NULL"}, true
		}
		raw, err := r.ReadBytes(int(dataLen))
		if err != nil {
			return rpcParam{}, false
		}
		value, err := decodeUTF16LE(raw)
		if err != nil {
			return rpcParam{}, false
		}
		return rpcParam{name: name, value: value}, true

	case typeVarChar:
		if _, err := r.ReadUint16LE(); err != nil { // MaxLen
			return rpcParam{}, false
		}
		if _, err := r.ReadBytes(5); err != nil { // Collation
			return rpcParam{}, false
		}
		dataLen, err := r.ReadUint16LE()
		if err != nil {
			return rpcParam{}, false
		}
		if dataLen == nullDataLen {
			return rpcParam{name: name, value: "NULL"}, true
		}
		raw, err := r.ReadBytes(int(dataLen))
		if err != nil {
			return rpcParam{}, false
		}
		return rpcParam{name: name, value: decodeVarChar(raw)}, true

	case typeInt:
		dataLen, err := r.ReadUint16LE()
		if err != nil {
			return rpcParam{}, false
		}
		if dataLen == nullDataLen {
			return rpcParam{name: name, value: "NULL"}, true
		}
		raw, err := r.ReadBytes(int(dataLen))
		if err != nil {
			return rpcParam{}, false
		}
		if dataLen == 4 {
			v := int32(uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24)
			return rpcParam{name: name, value: strconv.FormatInt(int64(v), 10)}, true
		}
		return rpcParam{name: name, value: fmt.Sprintf("0x%x", raw)}, true

	case typeFloat:
		dataLen, err := r.ReadUint16LE()
		if err != nil {
			return rpcParam{}, false
		}
		if dataLen == nullDataLen {
			return rpcParam{name: name, value: "NULL"}, true
		}
		raw, err := r.ReadBytes(int(dataLen))
		if err != nil {
			return rpcParam{}, false
		}
		if dataLen == 8 {
			bits := uint64(0)
			for i := 7; i >= 0; i-- {
				bits = bits<<8 | uint64(raw[i])
			}
			return rpcParam{name: name, value: strconv.FormatFloat(math.Float64frombits(bits), 'g', -1, 64)}, true
		}
		return rpcParam{name: name, value: fmt.Sprintf("0x%x", raw)}, true

	default:
		dataLen, err := r.ReadUint16LE()
		if err != nil {
			return rpcParam{}, false
		}
		if dataLen != nullDataLen {
			if _, err := r.ReadBytes(int(dataLen)); err != nil {
				return rpcParam{}, false
			}
		}
		return rpcParam{name: name, value: ""}, true
	}
}

// decodeVarChar best-effort-decodes a VARCHAR value: valid UTF-8 is used
// as-is, otherwise it's treated as Windows-1252 (a superset of Latin-1 and
// SQL Server's common default collation code page).
func decodeVarChar(raw []byte) string {
	if isValidUTF8(raw) {
		return string(raw)
	}
	decoded, err := xcharmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}
