package models

import (
	"encoding/json"
	"time"
)

// Well-known metadata field names carried on a raw submission. The edge
// populates these from the HTTP request; the decoder reads them by name.
const (
	FieldURI             = "uri"
	FieldContent         = "content"
	FieldXForwardedFor   = "X-Forwarded-For"
	FieldRemoteAddr      = "RemoteAddr"
	FieldHost            = "Host"
	FieldDNT             = "DNT"
	FieldDate            = "Date"
	FieldPingSenderVer   = "X-PingSender-Version"
	FieldGeoCountry      = "geoCountry"
	FieldGeoCity         = "geoCity"
	FieldEnvVersion      = "EnvVersion"
	FieldHostname        = "Hostname"
	FieldSubmissionDate  = "submissionDate"
	FieldSourceName      = "sourceName"
	FieldDecodeError     = "DecodeError"
	FieldDecodeErrorType = "DecodeErrorType"
)

// RawMessage is one telemetry submission as delivered by the transport:
// an opaque payload, the submission timestamp and named metadata fields.
// The pipeline treats it as read-only.
type RawMessage struct {
	ID        string            `json:"id"`
	Timestamp int64             `json:"timestamp"` // nanoseconds since epoch
	Payload   []byte            `json:"payload"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Field returns the named metadata field or "" when absent.
func (m *RawMessage) Field(name string) string {
	if m.Fields == nil {
		return ""
	}
	return m.Fields[name]
}

// Time returns the submission timestamp as a time.Time in UTC.
func (m *RawMessage) Time() time.Time {
	return time.Unix(0, m.Timestamp).UTC()
}

func (m *RawMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
