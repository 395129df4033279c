package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by envelope parsing and document validation.
// The error router (internal/router) maps these to classification codes;
// domain itself performs no classification.
var (
	ErrMissingField       = errors.New("missing required field")
	ErrMalformedEventID   = errors.New("external_event_id does not match the required pattern")
	ErrMalformedChecksum  = errors.New("checksum does not match sha256:<64 hex> form")
	ErrMalformedPackageURI = errors.New("package_uri is not a valid <scheme>://<bucket>/<key> URI")
	ErrMalformedSchemaVersion = errors.New("schema_version is not in major.minor form")
	ErrUnknownSchemaMajor = errors.New("schema_version major is not in the configured known set")
	ErrMissingTraceID     = errors.New("metadata.trace_id is missing or not a UUID v4")
	ErrRetryCountOutOfRange = errors.New("retry_count is negative or exceeds the bound")

	ErrSegmentBoundsInverted  = errors.New("segment start_ms is greater than end_ms")
	ErrSegmentConfidenceRange = errors.New("segment confidence is outside [0,1]")
	ErrSegmentTextEmpty       = errors.New("segment text is empty")
	ErrSegmentUnknownLanguage = errors.New("segment language code is not recognized")
	ErrSpeakerNotDeclared     = errors.New("segment speaker_id is not present in participants")
	ErrRootDirMismatch        = errors.New("archive root directory does not equal external_event_id")
	ErrMeetingWindowMissing   = errors.New("meeting_metadata needs duration_sec or end_at")
)

// ValidationError wraps a sentinel with the offending field and value, in
// the same shape the envelope/document validators across this codebase use
// so callers can both log a human string and errors.Is against the sentinel.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
