// Package persistence implements the Persistence Layer (C7): one
// transactional write per job across the conversations and
// conversation_turns tables plus the owning job row, idempotent on
// external_event_id, with a compensating vector-index delete when the
// relational write fails after the vector index already succeeded.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianrag/ingestcore/internal/domain"
	"github.com/meridianrag/ingestcore/internal/router"
)

// VectorDeleter is the narrow dependency persistence needs from the
// vector index to compensate a failed relational write. Defined here
// rather than imported from internal/enrich so this package has no
// compile-time dependency on the enrichment stage.
type VectorDeleter interface {
	DeleteByConversationID(ctx context.Context, conversationID string) error
}

// Store owns the relational side of C7.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-configured pgxpool.Pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Init creates the tables this package owns if they are not already
// present. Production deployments are expected to manage migrations
// externally; this is a dev/test convenience, matching the teacher's
// own best-effort CREATE IF NOT EXISTS bootstrap style.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ingestion_jobs (
    id TEXT PRIMARY KEY,
    external_event_id TEXT NOT NULL UNIQUE,
    trace_id TEXT NOT NULL DEFAULT '',
    bucket TEXT NOT NULL DEFAULT '',
    object_key TEXT NOT NULL DEFAULT '',
    checksum TEXT NOT NULL DEFAULT '',
    schema_version TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    last_error_at TIMESTAMPTZ,
    error_code TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    nlp_source TEXT NOT NULL DEFAULT 'none',
    nlp_partial BOOLEAN NOT NULL DEFAULT FALSE,
    processing_metadata JSONB
);

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL REFERENCES ingestion_jobs(id),
    external_event_id TEXT NOT NULL UNIQUE,
    source_system TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    conversation_date TIMESTAMPTZ NOT NULL,
    participants TEXT[] NOT NULL DEFAULT '{}',
    topics TEXT[] NOT NULL DEFAULT '{}',
    segment_count INTEGER NOT NULL DEFAULT 0,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    vector_point_ids TEXT[] NOT NULL DEFAULT '{}',
    nlp_source TEXT NOT NULL DEFAULT 'none',
    nlp_partial BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS conversation_turns (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    segment_id TEXT NOT NULL,
    speaker_id TEXT NOT NULL,
    start_ms BIGINT NOT NULL,
    end_ms BIGINT NOT NULL,
    text TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    sentiment_stars INTEGER,
    sentiment_score DOUBLE PRECISION,
    vector_point_id TEXT
);

CREATE INDEX IF NOT EXISTS conversation_turns_conversation_idx ON conversation_turns(conversation_id);
`)
	return err
}

// AlreadyCompleted reports whether a job for external_event_id has
// already reached the completed status (spec §3's idempotence
// invariant), short-circuiting reprocessing of a duplicate delivery.
func (s *Store) AlreadyCompleted(ctx context.Context, externalEventID string) (bool, error) {
	var status string
	err := s.pool.QueryRow(ctx, `
SELECT status FROM ingestion_jobs WHERE external_event_id = $1`, externalEventID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", router.ErrPersistenceFailure, err)
	}
	return status == string(domain.StatusCompleted), nil
}

// CommitResult bundles what one successful enrichment pass produced,
// the unit this package persists transactionally.
type CommitResult struct {
	Job          domain.Job
	Conversation domain.ConversationRow
	Turns        []domain.TurnRow
}

// Commit persists one job's conversation row, all of its turn rows, and
// the job's completed status inside a single transaction — the
// all-or-nothing unit spec.md §4.7 requires. On failure it attempts a
// compensating delete of whatever the vector index already wrote for
// this conversation, so a relational failure never leaves orphaned
// vectors behind; that compensating delete's own failure is logged by
// the caller (via the returned error, which wraps both causes) but does
// not change the overall outcome — the job is still reported failed.
func (s *Store) Commit(ctx context.Context, result CommitResult, vectors VectorDeleter) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", router.ErrPersistenceFailure, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := upsertConversation(ctx, tx, result.Conversation); err != nil {
		return s.compensate(ctx, vectors, result.Conversation.ID, err)
	}
	if err := insertTurns(ctx, tx, result.Conversation.ID, result.Turns); err != nil {
		return s.compensate(ctx, vectors, result.Conversation.ID, err)
	}
	if err := completeJob(ctx, tx, result.Job); err != nil {
		return s.compensate(ctx, vectors, result.Conversation.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return s.compensate(ctx, vectors, result.Conversation.ID, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) compensate(ctx context.Context, vectors VectorDeleter, conversationID string, cause error) error {
	wrapped := fmt.Errorf("%w: %v", router.ErrPersistenceFailure, cause)
	if vectors == nil {
		return wrapped
	}
	if delErr := vectors.DeleteByConversationID(context.WithoutCancel(ctx), conversationID); delErr != nil {
		return fmt.Errorf("%w (compensating vector delete also failed: %v)", wrapped, delErr)
	}
	return wrapped
}

func upsertConversation(ctx context.Context, tx pgx.Tx, c domain.ConversationRow) error {
	_, err := tx.Exec(ctx, `
INSERT INTO conversations (id, job_id, external_event_id, source_system, created_at, conversation_date,
    participants, topics, segment_count, chunk_count, vector_point_ids, nlp_source, nlp_partial)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (external_event_id) DO UPDATE SET
    participants = EXCLUDED.participants,
    topics = EXCLUDED.topics,
    segment_count = EXCLUDED.segment_count,
    chunk_count = EXCLUDED.chunk_count,
    vector_point_ids = EXCLUDED.vector_point_ids,
    nlp_source = EXCLUDED.nlp_source,
    nlp_partial = EXCLUDED.nlp_partial
`, c.ID, c.JobID, c.ExternalEventID, c.SourceSystem, c.CreatedAt, c.Date,
		c.Participants, c.Topics, c.SegmentCount, c.ChunkCount, c.VectorPointIDs, string(c.NLPSource), c.NLPPartial)
	return err
}

func insertTurns(ctx context.Context, tx pgx.Tx, conversationID string, turns []domain.TurnRow) error {
	batch := &pgx.Batch{}
	for _, t := range turns {
		var stars *int
		var score *float64
		if t.Sentiment != nil {
			stars = &t.Sentiment.Stars
			score = &t.Sentiment.Score
		}
		batch.Queue(`
INSERT INTO conversation_turns (id, conversation_id, segment_id, speaker_id, start_ms, end_ms, text,
    language, confidence, sentiment_stars, sentiment_score, vector_point_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO NOTHING
`, t.ID, conversationID, t.SegmentID, t.SpeakerID, t.StartMS, t.EndMS, t.Text,
			t.Language, t.Confidence, stars, score, t.VectorPointID)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range turns {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func completeJob(ctx context.Context, tx pgx.Tx, job domain.Job) error {
	now := time.Now().UTC()
	metaJSON, err := json.Marshal(job.ProcessingMetadata)
	if err != nil {
		return fmt.Errorf("marshal processing_metadata: %w", err)
	}
	_, err = tx.Exec(ctx, `
UPDATE ingestion_jobs SET
    status = $2,
    completed_at = $3,
    nlp_source = $4,
    nlp_partial = $5,
    processing_metadata = $6::jsonb
WHERE id = $1
`, job.ID, string(domain.StatusCompleted), now, string(job.NLPSource), job.NLPPartial, string(metaJSON))
	return err
}

// CreateJob inserts the initial job row in the received state, the
// first relational write for a newly parsed event (spec §4.1 state
// machine's entry point). Idempotent on external_event_id: a duplicate
// delivery's insert is ignored, matching the Stream Consumer's
// duplicate-short-circuit contract rather than erroring.
func (s *Store) CreateJob(ctx context.Context, job domain.Job) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ingestion_jobs (id, external_event_id, trace_id, bucket, object_key, checksum, schema_version, status, retry_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (external_event_id) DO NOTHING
`, job.ID, job.ExternalEventID, job.TraceID, job.Bucket, job.ObjectKey, job.Checksum, job.SchemaVersion,
		string(domain.StatusReceived), job.RetryCount, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: create job: %v", router.ErrPersistenceFailure, err)
	}
	return nil
}

// UpdateStatus persists a job's lifecycle transition, stamping
// started_at on the first transition out of received via COALESCE so
// later calls leave it untouched.
func (s *Store) UpdateStatus(ctx context.Context, externalEventID string, status domain.JobStatus) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
UPDATE ingestion_jobs SET status = $2, started_at = COALESCE(started_at, $3)
WHERE external_event_id = $1
`, externalEventID, string(status), now)
	if err != nil {
		return fmt.Errorf("%w: update status: %v", router.ErrPersistenceFailure, err)
	}
	return nil
}

// MarkFailed records a terminal failure on the job row (spec §4.1/§4.7),
// used by the caller after the Error Router classifies a non-retryable
// or retry-exhausted error.
func (s *Store) MarkFailed(ctx context.Context, externalEventID, errorCode, errorMessage string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
UPDATE ingestion_jobs SET status = $2, last_error_at = $3, error_code = $4, error_message = $5
WHERE external_event_id = $1
`, externalEventID, string(domain.StatusFailed), now, errorCode, errorMessage)
	if err != nil {
		return fmt.Errorf("%w: mark failed: %v", router.ErrPersistenceFailure, err)
	}
	return nil
}
