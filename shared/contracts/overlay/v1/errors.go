package v1

import (
	"errors"
	"fmt"
)

// Rejection reasons (stable; used as metric labels).
const (
	ReasonTooLarge     = "too_large"
	ReasonTooDeep      = "too_deep"
	ReasonMalformed    = "malformed"
	ReasonUnknownType  = "unknown_type"
	ReasonFieldType    = "field_type"
	ReasonMissingField = "missing_field"
)

// ErrRejected is the sentinel every RejectError unwraps to.
var ErrRejected = errors.New("payload rejected")

// RejectError describes why a payload was dropped.
// Field is a wire field name when applicable. It never carries payload contents.
type RejectError struct {
	Reason string
	Field  string
}

func (e *RejectError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrRejected, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrRejected, e.Reason, e.Field)
}

func (e *RejectError) Unwrap() error { return ErrRejected }

func reject(reason, field string) *RejectError {
	return &RejectError{Reason: reason, Field: field}
}

// RejectReason returns the reason of a rejection, or "" if err is not one.
func RejectReason(err error) string {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
