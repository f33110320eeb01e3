package errors

import (
	"errors"
	"fmt"
)

// DecodeKind is the typed tag attached to diagnostic records when a
// submission cannot be decoded.
type DecodeKind string

const (
	DecodeURI    DecodeKind = "uri"    // bad path, unknown namespace, dimension mismatch
	DecodeJSON   DecodeKind = "json"   // payload not parseable
	DecodeSchema DecodeKind = "schema" // document failed schema validation
	DecodeInject DecodeKind = "inject" // downstream rejected the record
)

// DecodeError is a recoverable per-message failure. The pipeline converts
// it into a diagnostic record instead of dropping the submission.
type DecodeError struct {
	Kind    DecodeKind
	Message string
	// Extra holds diagnostic fields the failing stage wants on the record.
	Extra map[string]interface{}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func NewDecodeError(kind DecodeKind, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *DecodeError) WithExtra(key string, value interface{}) *DecodeError {
	if e.Extra == nil {
		e.Extra = make(map[string]interface{})
	}
	e.Extra[key] = value
	return e
}

// AsDecode unwraps err to a DecodeError when it carries one.
func AsDecode(err error) (*DecodeError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
