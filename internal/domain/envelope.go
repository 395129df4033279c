package domain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ParseEnvelope validates a RawEvent against the fixed envelope schema and
// returns a typed Event. It performs no I/O: every failure is a pure
// function of the input plus the caller-supplied set of known schema
// majors (internal/config loads that set once at startup).
//
// Mirrors spec §4.2: missing fields, a malformed external_event_id, a
// malformed checksum, or an unknown schema major all fail with
// ErrMissingField / ErrMalformedEventID / ErrMalformedChecksum /
// ErrUnknownSchemaMajor wrapped in a *ValidationError.
func ParseEnvelope(raw RawEvent, knownMajors map[int]bool) (Event, error) {
	if raw.ExternalEventID == "" {
		return Event{}, NewValidationError("external_event_id", raw.ExternalEventID, ErrMissingField)
	}
	if !eventIDPattern.MatchString(raw.ExternalEventID) {
		return Event{}, NewValidationError("external_event_id", raw.ExternalEventID, ErrMalformedEventID)
	}

	if raw.PackageURI == "" {
		return Event{}, NewValidationError("package_uri", raw.PackageURI, ErrMissingField)
	}
	bucket, key, err := splitPackageURI(raw.PackageURI)
	if err != nil {
		return Event{}, NewValidationError("package_uri", raw.PackageURI, ErrMalformedPackageURI)
	}

	if raw.Checksum == "" {
		return Event{}, NewValidationError("checksum", raw.Checksum, ErrMissingField)
	}
	if !checksumPattern.MatchString(raw.Checksum) {
		return Event{}, NewValidationError("checksum", raw.Checksum, ErrMalformedChecksum)
	}

	if raw.SchemaVersion == "" {
		return Event{}, NewValidationError("schema_version", raw.SchemaVersion, ErrMissingField)
	}
	version, err := parseSchemaVersion(raw.SchemaVersion)
	if err != nil {
		return Event{}, NewValidationError("schema_version", raw.SchemaVersion, ErrMalformedSchemaVersion)
	}
	if len(knownMajors) > 0 && !knownMajors[version.Major] {
		return Event{}, NewValidationError("schema_version", raw.SchemaVersion, ErrUnknownSchemaMajor)
	}

	if raw.RetryCount < 0 || raw.RetryCount > maxRetryCount {
		return Event{}, NewValidationError("retry_count", strconv.Itoa(raw.RetryCount), ErrRetryCountOutOfRange)
	}

	if raw.Priority == "" {
		raw.Priority = PriorityNormal
	}
	if raw.Priority != PriorityNormal && raw.Priority != PriorityHigh {
		return Event{}, NewValidationError("priority", raw.Priority, ErrMissingField)
	}

	traceID := raw.Metadata["trace_id"]
	if traceID == "" || !uuidV4Pattern.MatchString(strings.ToLower(traceID)) {
		return Event{}, NewValidationError("metadata.trace_id", traceID, ErrMissingTraceID)
	}

	metadata := make(map[string]string, len(raw.Metadata))
	for k, v := range raw.Metadata {
		metadata[k] = v
	}

	return Event{
		ExternalEventID: raw.ExternalEventID,
		Bucket:          bucket,
		ObjectKey:       key,
		Checksum:        raw.Checksum,
		SchemaVersion:   version,
		RetryCount:      raw.RetryCount,
		ProducedAt:      raw.ProducedAt,
		Producer:        raw.Producer,
		Priority:        raw.Priority,
		TraceID:         traceID,
		Metadata:        metadata,
	}, nil
}

// IsTimeSkewed reports whether the event's produced_at is more than 24h in
// the future relative to now — accepted with a warning, never rejected
// (spec §8 boundary behavior).
func (e Event) IsTimeSkewed(now time.Time) bool {
	return e.ProducedAt.After(now.Add(24 * time.Hour))
}

func splitPackageURI(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" || u.Host == "" || u.Path == "" || u.Path == "/" {
		return "", "", fmt.Errorf("package_uri missing scheme, bucket, or key: %q", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func parseSchemaVersion(raw string) (SchemaVersion, error) {
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 {
		return SchemaVersion{}, fmt.Errorf("schema_version %q is not major.minor", raw)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return SchemaVersion{}, err
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return SchemaVersion{}, err
	}
	return SchemaVersion{Major: major, Minor: minor}, nil
}
