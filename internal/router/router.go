// Package router classifies pipeline failures into the fourteen error
// codes of spec §4.8. It is a pure function package with no I/O of its
// own — mirroring pkg/fn and pkg/resilience's style of small,
// dependency-free logic packages — so internal/stream (ack/nak, DLQ
// publish, metrics) and internal/pipeline (job row update) decide the
// side effects from the Classification it returns.
package router

import (
	"context"
	"errors"

	"github.com/meridianrag/ingestcore/internal/domain"
)

// Code is one of the fourteen classified error codes.
type Code string

const (
	CodeValidationError      Code = "validation_error"
	CodeChecksumMismatch     Code = "checksum_mismatch"
	CodeUnknownSchemaMajor   Code = "unknown_schema_major"
	CodeDuplicateEvent       Code = "duplicate_event"
	CodeObjectNotFound       Code = "object_not_found"
	CodePayloadTooLarge      Code = "payload_too_large"
	CodeObjectStoreUnavailable Code = "object_store_unavailable"
	CodePersistenceFailure   Code = "persistence_failure"
	CodeVectorIndexFailure   Code = "vector_index_failure"
	CodeNLPPartial           Code = "nlp_partial"
	CodeIngestionTimeout     Code = "ingestion_timeout"
	CodeProcessingFailure    Code = "processing_failure"
	CodeCancelled            Code = "cancelled"
	CodeRetryExhausted       Code = "retry_exhausted"
)

// Stage names the pipeline component an error occurred in. It decides the
// code of an error that matches no known sentinel: validation_error in the
// parse and validate stages, processing_failure elsewhere. Remediation
// hints depend on the code only.
type Stage string

const (
	StageParse       Stage = "parse"
	StageDownload    Stage = "download"
	StageChecksum    Stage = "checksum"
	StageValidate    Stage = "validate"
	StageChunkEmbed  Stage = "chunk_embed"
	StageNER         Stage = "ner"
	StageSentiment   Stage = "sentiment"
	StagePersist     Stage = "persist"
	StageVectorWrite Stage = "vector_write"

	// StageProcessing is the fallback used by ClassifyErr when an error
	// was never tagged with WithStage.
	StageProcessing Stage = "processing"
)

// stageError associates an error with the stage that raised it, so a
// Classify call made far from the original call site (e.g. in the
// stream consumer, after a handler has already returned) can still
// refine its classification by stage.
type stageError struct {
	stage Stage
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// WithStage tags err with the stage it originated in. A nil err returns
// nil.
func WithStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: err}
}

// Classification is the Error Router's output for one failure.
type Classification struct {
	Code            Code
	Retryable       bool
	RemediationHint string
	Cause           error
}

// Sentinel errors stage implementations raise to drive classification
// without the router needing to type-switch on every possible concrete
// error from every dependency.
var (
	ErrObjectNotFound          = errors.New("object not found in store")
	ErrObjectStoreUnavailable  = errors.New("object store unavailable")
	ErrPayloadTooLarge         = errors.New("payload exceeds configured size cap")
	ErrChecksumMismatch        = errors.New("checksum mismatch")
	ErrPersistenceFailure      = errors.New("relational persistence failure")
	ErrVectorIndexFailure      = errors.New("vector index failure")
	ErrDuplicateEvent          = errors.New("event already completed")
	ErrRetryExhausted          = errors.New("retry count exhausted")
)

// remediationHints gives each code a short, fixed hint naming the
// responsible party (producer, ingestion, or infrastructure), per spec §7.
var remediationHints = map[Code]string{
	CodeValidationError:        "Producer: republish with a conforming envelope or document.",
	CodeChecksumMismatch:       "Producer: rebuild archive and republish.",
	CodeUnknownSchemaMajor:     "Producer: downgrade to a known schema major, or operator: add the major to KNOWN_SCHEMA_MAJORS.",
	CodeDuplicateEvent:         "No action: event already processed.",
	CodeObjectNotFound:         "Producer: verify package_uri references an existing object.",
	CodePayloadTooLarge:        "Producer: split or compress the archive below the configured caps.",
	CodeObjectStoreUnavailable: "Infrastructure: check object store connectivity and credentials.",
	CodePersistenceFailure:     "Infrastructure: check relational store connectivity and capacity.",
	CodeVectorIndexFailure:     "Infrastructure: check vector store connectivity and capacity.",
	CodeNLPPartial:             "Ingestion: inspect NLP provider logs; job still completed.",
	CodeIngestionTimeout:       "Infrastructure: check downstream latency; consider raising the stage deadline.",
	CodeProcessingFailure:      "Ingestion: inspect worker logs for an uncategorized exception.",
	CodeCancelled:              "No action: graceful shutdown observed.",
	CodeRetryExhausted:         "Operator: inspect the underlying cause and manually requeue if appropriate.",
}

// ClassifyErr is Classify, but recovers the originating stage from err
// itself via WithStage rather than requiring the caller to already know
// it — the shape needed once an error has crossed a package boundary
// (stream consumer classifying a handler's returned error). Falls back
// to StageProcessing when err was never tagged.
func ClassifyErr(err error, retryCount, maxRetries int) Classification {
	stage := StageProcessing
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}
	return Classify(stage, err, retryCount, maxRetries)
}

// Classify maps a raw error plus the stage it occurred in and the event's
// current retry count into a Classification. maxRetries is the configured
// MAX_RETRIES.
func Classify(stage Stage, err error, retryCount, maxRetries int) Classification {
	code, retryable := classifyCode(stage, err)

	if retryable && retryCount >= maxRetries {
		code = CodeRetryExhausted
		retryable = false
	}

	return Classification{
		Code:            code,
		Retryable:       retryable,
		RemediationHint: remediationHints[code],
		Cause:           err,
	}
}

func classifyCode(stage Stage, err error) (Code, bool) {
	switch {
	case errors.Is(err, context.Canceled):
		return CodeCancelled, false
	case errors.Is(err, ErrDuplicateEvent):
		return CodeDuplicateEvent, false
	case errors.Is(err, domain.ErrUnknownSchemaMajor):
		return CodeUnknownSchemaMajor, false
	case isValidationError(err):
		return CodeValidationError, false
	case errors.Is(err, ErrChecksumMismatch):
		return CodeChecksumMismatch, false
	case errors.Is(err, ErrObjectNotFound):
		return CodeObjectNotFound, false
	case errors.Is(err, ErrPayloadTooLarge):
		return CodePayloadTooLarge, false
	case errors.Is(err, ErrObjectStoreUnavailable):
		return CodeObjectStoreUnavailable, true
	case errors.Is(err, ErrPersistenceFailure):
		return CodePersistenceFailure, true
	case errors.Is(err, ErrVectorIndexFailure):
		return CodeVectorIndexFailure, true
	case errors.Is(err, context.DeadlineExceeded):
		return CodeIngestionTimeout, true
	default:
		// Parse/validate are local, deterministic stages: an uncategorized
		// failure there is a bug in the payload, not a transient condition,
		// so redelivery won't help. Every other stage touches the network
		// or a downstream store, where an uncategorized failure is worth
		// one more attempt.
		if stage == StageParse || stage == StageValidate {
			return CodeValidationError, false
		}
		return CodeProcessingFailure, true
	}
}

func isValidationError(err error) bool {
	var ve *domain.ValidationError
	return errors.As(err, &ve)
}
