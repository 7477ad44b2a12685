package capture

import "github.com/tdscap/tdscap/sets"

// ParsingMode selects between the structured TDS decoder (ALL_HEADERS and
// typed-parameter parsing) and the offset-scanning heuristic fallback.
type ParsingMode int

const (
	ModeStructured ParsingMode = iota
	ModeHeuristic
)

// DefaultSQLServerPorts is the set of TCP ports the driver filters
// client/server traffic against: the standard SQL Server instance,
// dedicated admin connection, and browser service ports.
func DefaultSQLServerPorts() sets.Set[uint16] {
	return sets.NewSet(uint16(1433), uint16(1434), uint16(1436))
}

// Config is the driver's explicit configuration record. There is no
// ambient or environment-derived configuration; every field here must be
// set by the caller (NewConfig fills in the documented defaults).
type Config struct {
	Interface      string
	SQLServerPorts sets.Set[uint16]
	ParsingMode    ParsingMode
	SnapLen        uint32
	ReadTimeoutMs  uint32
	// IncludeRawData, when set, attaches the raw TDS message bytes to
	// every emitted SqlEvent (the optional raw_data field).
	IncludeRawData bool
}

// NewConfig returns a Config with every documented default applied,
// overriding just the capture interface.
func NewConfig(iface string) Config {
	return Config{
		Interface:      iface,
		SQLServerPorts: DefaultSQLServerPorts(),
		ParsingMode:    ModeStructured,
		SnapLen:        65535,
		ReadTimeoutMs:  100,
	}
}

// portsMatch reports whether either endpoint's port is in cfg's
// configured SQL Server port set.
func (cfg Config) portsMatch(srcPort, dstPort uint16) bool {
	return cfg.SQLServerPorts.Contains(srcPort) || cfg.SQLServerPorts.Contains(dstPort)
}
