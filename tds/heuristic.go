package tds

import (
	"strings"

	"github.com/tdscap/tdscap/memview"
)

// heuristicOffsets are the fixed payload offsets the heuristic fallback
// tries, in order.
var heuristicOffsets = []int64{0, 8, 10, 12, 14, 16, 18, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// sqlKeywords is the fixed keyword set a heuristic candidate must contain
// at least one token of.
var sqlKeywords = []string{
	"SELECT", "INSERT", "UPDATE", "DELETE", "EXEC", "EXECUTE",
	"CREATE", "ALTER", "DROP", "FROM", "WHERE", "JOIN", "INNER",
	"OUTER", "LEFT", "RIGHT", "UNION", "ORDER", "GROUP", "BY",
	"HAVING", "AND", "OR", "NOT", "INTO", "SET", "VALUES", "TABLE",
	"DATABASE", "SCHEMA",
}

// DecodeHeuristic is the "v1" fallback decode path (enabled by
// configuration), used when structured ALL_HEADERS/body-offset framing is
// ambiguous. It scans a fixed list of payload offsets for the first
// UTF-16LE decode that looks enough like SQL to trust.
func DecodeHeuristic(payload memview.MemView) (Decoded, bool) {
	for _, offset := range heuristicOffsets {
		if offset >= payload.Len() {
			continue
		}

		end := payload.Len()
		if (end-offset)%2 != 0 {
			end--
		}
		if end <= offset {
			continue
		}

		raw := payload.SubView(offset, end).Bytes()
		text, err := decodeUTF16LE(raw)
		if err != nil {
			continue
		}

		if candidate, ok := acceptHeuristicCandidate(text); ok {
			return Decoded{SQLText: candidate, Operation: heuristicOperation(candidate)}, true
		}
	}

	return Decoded{}, false
}

// acceptHeuristicCandidate applies the heuristic path's acceptance rule:
// at least 10 printable trimmed characters with more valid than invalid
// code units, containing a recognized SQL keyword token, and a total
// length over 20.
func acceptHeuristicCandidate(text string) (string, bool) {
	trimmed := strings.TrimSpace(strings.Trim(text, "\x00"))
	if len(trimmed) <= 20 {
		return "", false
	}

	printable := 0
	runes := []rune(trimmed)
	for _, r := range runes {
		if r >= 0x20 && r < 0x7f || r == '\t' {
			printable++
		}
	}
	if printable < 10 || printable*2 <= len(runes) {
		return "", false
	}

	upper := strings.ToUpper(trimmed)
	found := false
	for _, kw := range sqlKeywords {
		if containsToken(upper, kw) {
			found = true
			break
		}
	}
	if !found {
		return "", false
	}

	return trimmed, true
}

// containsToken reports whether kw occurs in s as a standalone word
// (bounded by non-letter characters or the string edges), so "FROM"
// doesn't match inside "FROMAGE".
func containsToken(s, kw string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], kw)
		if i < 0 {
			return false
		}
		pos := idx + i
		before := byte(' ')
		if pos > 0 {
			before = s[pos-1]
		}
		after := byte(' ')
		if end := pos + len(kw); end < len(s) {
			after = s[end]
		}
		if !isLetter(before) && !isLetter(after) {
			return true
		}
		idx = pos + len(kw)
	}
}

func isLetter(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z'
}

// heuristicOperation derives an operation label from the candidate's
// leading keyword, since the heuristic path has no structured message
// type to fall back on.
func heuristicOperation(text string) string {
	if verb := leadingVerb(text); verb != "" {
		return verb
	}
	return "TDS"
}
