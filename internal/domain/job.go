package domain

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a Job row (spec §4.1 state machine).
type JobStatus string

const (
	StatusReceived     JobStatus = "received"
	StatusParsed       JobStatus = "parsed"
	StatusDownloading  JobStatus = "downloading"
	StatusNormalizing  JobStatus = "normalizing" // checksum + payload validation
	StatusEmbedding    JobStatus = "embedding"   // chunk + embed + index + NLP
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"
	StatusDuplicate    JobStatus = "duplicate" // terminal short-circuit, no new writes
)

// terminal reports whether a status is one a job may reach at most once
// (spec §3 invariant: "A job reaches a terminal state at most once").
func (s JobStatus) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDuplicate
}

// validTransitions encodes the forward edges of the state machine in
// spec §4.1. Re-processing after a retryable failure re-enters at
// StatusReceived, which is why StatusFailed has no outgoing edge here —
// a failed, non-exhausted job starts a fresh Job-shaped traversal, it does
// not "resume" from Failed.
var validTransitions = map[JobStatus][]JobStatus{
	StatusReceived:    {StatusParsed},
	StatusParsed:      {StatusDuplicate, StatusDownloading},
	StatusDownloading: {StatusNormalizing, StatusFailed},
	StatusNormalizing: {StatusEmbedding, StatusFailed},
	StatusEmbedding:   {StatusCompleted, StatusFailed},
}

// NLPSource records which code path produced a conversation's
// sentiment/entity annotations.
type NLPSource string

const (
	NLPSourceUpstream NLPSource = "upstream"
	NLPSourceLocal    NLPSource = "local"
	NLPSourceNone     NLPSource = "none"
)

// Job is the persisted, mutable row owning one external_event_id (spec §3).
type Job struct {
	ID                 string
	ExternalEventID    string
	TraceID            string
	Bucket             string
	ObjectKey          string
	Checksum           string
	SchemaVersion      string
	Status             JobStatus
	RetryCount         int
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	LastErrorAt        *time.Time
	ErrorCode          string
	ErrorMessage       string
	NLPSource          NLPSource
	NLPPartial         bool
	ProcessingMetadata ProcessingMetadata
}

// ProcessingMetadata is the summary recorded on a completed job (spec §4.7).
type ProcessingMetadata struct {
	SegmentCount      int           `json:"segment_count"`
	ChunkCount        int           `json:"chunk_count"`
	PersonCount       int           `json:"person_count"`
	SentimentHistogram map[int]int  `json:"sentiment_histogram,omitempty"`
	TopPersons        []string      `json:"top_persons,omitempty"`
	EntityTypeCounts  map[string]int `json:"entity_type_counts,omitempty"`
	NLPSource         NLPSource     `json:"nlp_source"`
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// Transition validates and applies a status change, returning an error if
// the edge is not in the state machine or the job is already terminal.
func (j *Job) Transition(to JobStatus) error {
	if j.Status.terminal() {
		return fmt.Errorf("job %s is already terminal at %s, cannot move to %s", j.ExternalEventID, j.Status, to)
	}
	for _, allowed := range validTransitions[j.Status] {
		if allowed == to {
			j.Status = to
			return nil
		}
	}
	return fmt.Errorf("invalid transition for job %s: %s -> %s", j.ExternalEventID, j.Status, to)
}

// ConversationRow is the persisted metadata of a validated document (spec §3).
type ConversationRow struct {
	ID              string
	JobID           string
	ExternalEventID string
	SourceSystem    string
	CreatedAt       time.Time
	Date            time.Time
	Participants    []string
	Topics          []string
	SegmentCount    int
	ChunkCount      int
	VectorPointIDs  []string
	NLPSource       NLPSource
	NLPPartial      bool
}

// TurnRow is the persisted per-segment row (spec §3).
type TurnRow struct {
	ID             string
	ConversationID string
	SegmentID      string
	SpeakerID      string
	StartMS        int64
	EndMS          int64
	Text           string
	Language       string
	Confidence     float64
	Sentiment      *Sentiment
	VectorPointID  *string
}

// VectorPoint is a (dense-vector, payload) pair written to the vector
// index (spec §3).
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload VectorPayload
}

// VectorPayload is the metadata attached to a VectorPoint.
type VectorPayload struct {
	ConversationID string   `json:"conversation_id"`
	Speakers       []string `json:"speakers"`
	TurnRangeFirst string   `json:"turn_range_first"`
	TurnRangeLast  string   `json:"turn_range_last"`
	TraceID        string   `json:"trace_id"`
	ChunkIndex     int      `json:"chunk_index"`
	Text           string   `json:"text"`
}

// DLQRecord is the output record published to the dead-letter stream
// (spec §3/§4.8).
type DLQRecord struct {
	Event           RawEvent
	ErrorCode       string
	ErrorMessage    string
	RemediationHint string
	FailedAt        time.Time
	AttemptCount    int
	TraceID         string
}
