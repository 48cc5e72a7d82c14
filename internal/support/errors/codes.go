package errors

import (
	"fmt"
	"time"
)

// Code enumerates the programmer-error / data-integrity taxonomy shared
// across Truth and Entity.
type Code string

const (
	// Truth: programmer errors
	CodePropertyKindMismatch Code = "PROPERTY_KIND_MISMATCH"
	CodeTooManyProperties    Code = "TOO_MANY_PROPERTIES"
	CodeNilObjectID          Code = "NIL_OBJECT_ID"
	CodeCommitOnDestroyed    Code = "COMMIT_ON_DESTROYED"
	CodeUnknownType          Code = "UNKNOWN_TYPE"
	CodeDuplicateTypeName    Code = "DUPLICATE_TYPE_NAME"
	CodePrototypeCycle       Code = "PROTOTYPE_CYCLE"

	// Truth: transient / resource
	CodeWriteConflict     Code = "WRITE_CONFLICT"
	CodeAllocationFailed  Code = "ALLOCATION_FAILED"
	CodeOverlappingWrite  Code = "OVERLAPPING_WRITE"
	CodeSerializationSkew Code = "SERIALIZATION_SKEW"

	// Entity: programmer errors
	CodeDuplicateAddComponent Code = "DUPLICATE_ADD_COMPONENT"
	CodeComponentLimitReached Code = "COMPONENT_LIMIT_REACHED"
	CodeUnknownComponent      Code = "UNKNOWN_COMPONENT"
	CodePseudoOwnerMismatch   Code = "PSEUDO_OWNER_MISMATCH"
	CodeHandleOutOfScope      Code = "HANDLE_OUT_OF_SCOPE"

	// Entity: plugin unavailability (non-fatal, results in silent disable)
	CodeMissingComponentForEngine Code = "MISSING_COMPONENT_FOR_ENGINE"
)

// Error is the concrete error type Errorf-reported conditions are wrapped
// in when the caller wants to inspect the code programmatically (e.g. the
// mod bridge silently dropping a script engine whose component is
// missing).
type Error struct {
	Code      Code
	Message   string
	Timestamp time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New builds an *Error stamped with the current time.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Timestamp: time.Now()}
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
