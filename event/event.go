// Package event constructs SqlEvents from decoded TDS messages, deduplicates
// them, and publishes them on an outbound channel.
package event

import (
	"encoding/json"
	"time"

	"github.com/tdscap/tdscap/optionals"
)

// SqlEvent is one observed SQL statement, ready for a downstream consumer.
// Once published, an event is never mutated.
type SqlEvent struct {
	Timestamp time.Time
	FlowID    string
	SQLText   string
	Tables    []string
	Operation string
	Label     optionals.Optional[string]
	RawData   optionals.Optional[[]byte]
}

// wireEvent is SqlEvent's JSON-lines shape: label and raw_data become
// omitempty pointer/slice fields so absent values drop out of the output
// entirely rather than appearing as explicit nulls.
type wireEvent struct {
	Timestamp time.Time `json:"timestamp"`
	FlowID    string    `json:"flow_id"`
	SQLText   string    `json:"sql_text"`
	Tables    []string  `json:"tables"`
	Operation string    `json:"operation"`
	Label     *string   `json:"label,omitempty"`
	RawData   []byte    `json:"raw_data,omitempty"`
}

// MarshalJSON encodes e per the JSON-lines wire format: RFC 3339
// timestamp, tables always present (possibly empty), label/raw_data
// omitted when absent. RawData is base64-encoded by encoding/json's
// built-in []byte handling.
func (e SqlEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Timestamp: e.Timestamp.UTC(),
		FlowID:    e.FlowID,
		SQLText:   e.SQLText,
		Tables:    e.Tables,
		Operation: e.Operation,
	}
	if label, ok := e.Label.Get(); ok {
		w.Label = &label
	}
	if raw, ok := e.RawData.Get(); ok {
		w.RawData = raw
	}
	if w.Tables == nil {
		w.Tables = []string{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes e from the JSON-lines wire format.
func (e *SqlEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = SqlEvent{
		Timestamp: w.Timestamp,
		FlowID:    w.FlowID,
		SQLText:   w.SQLText,
		Tables:    w.Tables,
		Operation: w.Operation,
		Label:     optionals.None[string](),
		RawData:   optionals.None[[]byte](),
	}
	if w.Label != nil {
		e.Label = optionals.Some(*w.Label)
	}
	if w.RawData != nil {
		e.RawData = optionals.Some(w.RawData)
	}
	return nil
}
