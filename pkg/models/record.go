package models

import (
	"encoding/json"
	"time"
)

// Record type tags emitted by the decoder.
const (
	TypeTelemetry      = "telemetry"
	TypeDuplicate      = "telemetry.duplicate"
	TypeTelemetryError = "telemetry.error"
	TypeTelemetryRaw   = "telemetry.raw"
)

// Sentinels for fields that must always be present on a canonical record.
const (
	UnknownDim = "UNKNOWN" // unresolvable routing dimension
	UnknownGeo = "??"      // unresolvable geo lookup
)

// RawJSON tags a field value as a verbatim JSON document rather than a
// scalar. It marshals as-is, so stripped subtrees stay addressable without
// re-encoding.
type RawJSON []byte

func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *RawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

// DuplicateDelta reports how long after the first observation a duplicate
// submission arrived, in the dedupe filter's interval granularity.
type DuplicateDelta struct {
	Value          int64  `json:"value"`
	Representation string `json:"representation"`
}

// CanonicalRecord is the normalized output unit for one accepted
// submission. Fields holds scalars, RawJSON documents and, for duplicate
// records, a DuplicateDelta. Not mutated after emission.
type CanonicalRecord struct {
	Timestamp int64          `json:"timestamp"` // nanoseconds since epoch
	Type      string         `json:"type"`
	Logger    string         `json:"logger"`
	Hostname  string         `json:"hostname,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// NewCanonicalRecord returns a record with an initialized field map.
func NewCanonicalRecord(timestamp int64, recordType, logger string) *CanonicalRecord {
	return &CanonicalRecord{
		Timestamp: timestamp,
		Type:      recordType,
		Logger:    logger,
		Fields:    make(map[string]any),
	}
}

// SetDefault sets a field only when it is still absent.
func (r *CanonicalRecord) SetDefault(name string, value any) {
	if _, ok := r.Fields[name]; !ok {
		r.Fields[name] = value
	}
}

// StringField returns the named field when it holds a string.
func (r *CanonicalRecord) StringField(name string) string {
	if v, ok := r.Fields[name].(string); ok {
		return v
	}
	return ""
}

func (r *CanonicalRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// SubmissionDate renders a nanosecond timestamp as the YYYYMMDD partition
// key used on every emitted record.
func SubmissionDate(tsNanos int64) string {
	return time.Unix(0, tsNanos).UTC().Format("20060102")
}
