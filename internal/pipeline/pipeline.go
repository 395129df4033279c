// Package pipeline wires C2 through C7 into the single per-event
// fetch → verify → parse_document → validate → enrich → chunk_embed →
// persist → graph_sync composition cmd/ingestworker
// hands to the stream consumer, the same Stage/Result shape and
// LoggedTap-between-stages style as the teacher's engine/ingest package,
// generalized from a scraped-post pipeline to an audio-transcript one.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meridianrag/ingestcore/internal/domain"
	"github.com/meridianrag/ingestcore/internal/enrich"
	"github.com/meridianrag/ingestcore/internal/graphstore"
	"github.com/meridianrag/ingestcore/internal/integrity"
	"github.com/meridianrag/ingestcore/internal/objectstore"
	"github.com/meridianrag/ingestcore/internal/persistence"
	"github.com/meridianrag/ingestcore/internal/router"
	"github.com/meridianrag/ingestcore/internal/validator"
	"github.com/meridianrag/ingestcore/pkg/fn"
	"github.com/meridianrag/ingestcore/pkg/metrics"
)

// documentFileName is the fixed name of the conversation document inside
// every extracted package (spec §3).
const documentFileName = "conversation.json"

// Storer is the subset of persistence.Store the pipeline depends on.
type Storer interface {
	AlreadyCompleted(ctx context.Context, externalEventID string) (bool, error)
	CreateJob(ctx context.Context, job domain.Job) error
	UpdateStatus(ctx context.Context, externalEventID string, status domain.JobStatus) error
	Commit(ctx context.Context, result persistence.CommitResult, vectors persistence.VectorDeleter) error
	MarkFailed(ctx context.Context, externalEventID, errorCode, errorMessage string) error
}

// Per-stage deadlines (spec §5 defaults table). Deadline exceeded maps
// to router.CodeIngestionTimeout.
const (
	parseTimeout       = 100 * time.Millisecond
	downloadTimeout    = 60 * time.Second
	checksumTimeout    = 30 * time.Second
	validateTimeout    = 5 * time.Second
	chunkEmbedTimeout  = 120 * time.Second
	nlpTimeout         = 60 * time.Second
	persistTimeout     = 10 * time.Second
	vectorWriteTimeout = 30 * time.Second
)

// VectorWriter is the subset of enrich.VectorIndex the pipeline depends on.
type VectorWriter interface {
	Upsert(ctx context.Context, points []domain.VectorPoint) error
	DeleteByConversationID(ctx context.Context, conversationID string) error
}

// GraphSyncer is the subset of graphstore.GraphStore the pipeline
// depends on; nil disables the knowledge-graph supplement entirely.
type GraphSyncer interface {
	SyncConversation(ctx context.Context, conversationID, externalEventID string, speakerIDs []string, mentions []graphstore.EntityMention) error
}

// Deps are every external dependency one event's processing touches.
type Deps struct {
	ObjectStore              objectstore.ObjectStore
	TempDir                  string
	RequireManifestSelfListing bool

	Embedder       enrich.Embedder
	EmbeddingBatch int

	NLPEnableLocal bool
	LLMAnnotator   *enrich.LLMAnnotator // nil unless NLP_PROVIDER=llm

	VectorIndex VectorWriter
	Store       Storer
	GraphStore  GraphSyncer // nil disables the supplement

	KnownSchemaMajors map[int]bool
	MaxRetries        int
	Logger            *slog.Logger
}

// jobCtx accumulates one event's working state as it flows through the
// pipeline's stages. Stages mutate and return the same pointer; fn.Stage
// requires a single type on both sides of Pipeline, so this struct plays
// the role scraper.ScrapedPost/ParsedDoc/ChunkedDoc/EmbeddedDoc played as
// separate types in the teacher's pipeline.
type jobCtx struct {
	event      domain.Event
	retryCount int

	fetched *objectstore.Fetched
	doc     domain.ConversationDocument
	mode    enrich.Mode

	segments []domain.Segment
	nlpSource domain.NLPSource
	nlpPartial bool

	chunks       []enrich.Chunk
	vectorPoints []domain.VectorPoint

	job          domain.Job
	conversation domain.ConversationRow
	turns        []domain.TurnRow

	startedAt time.Time
}

// NewHandler builds the stream.Handler cmd/ingestworker registers with
// the consumer: parse the envelope, short-circuit on a prior completion,
// then run the full stage pipeline and translate the outcome into a job
// row update.
func NewHandler(deps Deps) func(ctx context.Context, raw domain.RawEvent, retryCount int) error {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	run := build(deps, log)

	return func(ctx context.Context, raw domain.RawEvent, retryCount int) error {
		event, err := domain.ParseEnvelope(raw, deps.KnownSchemaMajors)
		if err != nil {
			return router.WithStage(router.StageParse, err)
		}
		if event.IsTimeSkewed(time.Now()) {
			log.Warn("pipeline.time_skew", "external_event_id", event.ExternalEventID, "produced_at", event.ProducedAt)
		}

		done, err := deps.Store.AlreadyCompleted(ctx, event.ExternalEventID)
		if err != nil {
			return router.WithStage(router.StagePersist, fmt.Errorf("%w: %v", router.ErrPersistenceFailure, err))
		}
		if done {
			metrics.DuplicatesTotal.Inc()
			return nil
		}

		start := &jobCtx{event: event, retryCount: retryCount, startedAt: time.Now()}
		job := domain.Job{
			ID:              uuid.NewString(),
			ExternalEventID: event.ExternalEventID,
			TraceID:         event.TraceID,
			Bucket:          event.Bucket,
			ObjectKey:       event.ObjectKey,
			Checksum:        event.Checksum,
			SchemaVersion:   fmt.Sprintf("%d.%d", event.SchemaVersion.Major, event.SchemaVersion.Minor),
			Status:          domain.StatusReceived,
			RetryCount:      retryCount,
			CreatedAt:       time.Now().UTC(),
		}
		start.job = job
		if err := deps.Store.CreateJob(ctx, job); err != nil {
			return router.WithStage(router.StagePersist, fmt.Errorf("%w: %v", router.ErrPersistenceFailure, err))
		}
		if err := transitionAndPersist(ctx, deps, start, domain.StatusParsed); err != nil {
			return router.WithStage(router.StageParse, err)
		}

		result := run(ctx, start)
		if start.fetched != nil {
			// cleanupStage is skipped once a stage fails; remove the
			// extracted archive on that path too.
			_ = start.fetched.Close()
		}
		_, err = result.Unwrap()
		if err != nil {
			class := router.ClassifyErr(err, retryCount, deps.MaxRetries)
			if terr := start.job.Transition(domain.StatusFailed); terr != nil {
				log.Warn("pipeline.fsm_transition_failed", "error", terr, "external_event_id", event.ExternalEventID)
			}
			_ = deps.Store.MarkFailed(ctx, event.ExternalEventID, string(class.Code), err.Error())
			return err
		}

		metrics.ProcessingDurationSeconds.Observe(time.Since(start.startedAt).Seconds())
		metrics.NLPSourceTotal.WithLabelValues(string(start.nlpSource)).Inc()
		return nil
	}
}

// transitionAndPersist drives the job's in-memory FSM (domain.Job.Transition)
// and writes the new status through to the job row, stamping started_at on
// the first transition out of received. Making each stage boundary call
// this keeps the lifecycle automaton in spec §3/§4.1 actually enforced and
// the job row's intermediate state observable outside process memory.
func transitionAndPersist(ctx context.Context, deps Deps, jc *jobCtx, to domain.JobStatus) error {
	if err := jc.job.Transition(to); err != nil {
		return err
	}
	if jc.job.StartedAt == nil {
		now := time.Now().UTC()
		jc.job.StartedAt = &now
	}
	return deps.Store.UpdateStatus(ctx, jc.job.ExternalEventID, jc.job.Status)
}

// build composes the fixed stage sequence, the same LoggedTap-wrapped
// fn.Pipeline shape as the teacher's NewPipeline.
func build(deps Deps, log *slog.Logger) fn.Stage[*jobCtx, *jobCtx] {
	return fn.Pipeline(
		tap("fetch", log), fetchStage(deps),
		tap("verify", log), verifyStage(deps),
		tap("parse_document", log), parseDocumentStage(log),
		tap("validate", log), validateStage(),
		tap("enrich", log), enrichStage(deps, log),
		tap("chunk_embed", log), chunkEmbedStage(deps),
		tap("persist", log), persistStage(deps),
		tap("graph_sync", log), graphSyncStage(deps, log),
		cleanupStage(),
	)
}

func tap(name string, log *slog.Logger) fn.Stage[*jobCtx, *jobCtx] {
	return func(ctx context.Context, jc *jobCtx) fn.Result[*jobCtx] {
		log.Debug("pipeline.stage", "stage", name, "external_event_id", jc.event.ExternalEventID)
		return fn.Ok(jc)
	}
}

func fetchStage(deps Deps) fn.Stage[*jobCtx, *jobCtx] {
	return func(ctx context.Context, jc *jobCtx) fn.Result[*jobCtx] {
		if err := transitionAndPersist(ctx, deps, jc, domain.StatusDownloading); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageDownload, err))
		}

		dctx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()
		fetched, err := objectstore.Fetch(dctx, deps.ObjectStore, deps.TempDir, jc.event.Bucket, jc.event.ObjectKey)
		if err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageDownload, err))
		}
		jc.fetched = fetched
		metrics.DownloadSizeBytes.Observe(float64(fetched.UncompressedBytes))
		return fn.Ok(jc)
	}
}

func verifyStage(deps Deps) fn.Stage[*jobCtx, *jobCtx] {
	return func(ctx context.Context, jc *jobCtx) fn.Result[*jobCtx] {
		if err := transitionAndPersist(ctx, deps, jc, domain.StatusNormalizing); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageChecksum, err))
		}

		cctx, cancel := context.WithTimeout(ctx, checksumTimeout)
		defer cancel()

		digest, err := integrity.VerifyEnvelopeChecksumFormat(jc.event.Checksum)
		if err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageChecksum, err))
		}
		if err := integrity.VerifyArchiveChecksum(jc.fetched.ArchivePath, digest); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageChecksum, err))
		}
		if err := integrity.VerifyManifest(jc.fetched.ExtractedRoot, deps.RequireManifestSelfListing); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageChecksum, err))
		}
		if err := cctx.Err(); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageChecksum, err))
		}
		return fn.Ok(jc)
	}
}

// unknownTopLevelKeys diffs raw's top-level keys against the JSON tags
// domain.ConversationDocument declares, so the caller can preserve and
// warn on anything the schema doesn't recognize instead of silently
// dropping it (spec §4.5).
func unknownTopLevelKeys(raw []byte) (map[string]any, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, err
	}
	known := map[string]bool{
		"schema_version": true, "external_event_id": true, "source_system": true,
		"created_at": true, "meeting_metadata": true, "participants": true,
		"segments": true, "analytics": true, "attachments": true, "quality_flags": true,
	}
	unknown := map[string]any{}
	for k, v := range all {
		if known[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			val = string(v)
		}
		unknown[k] = val
	}
	return unknown, nil
}

func parseDocumentStage(log *slog.Logger) fn.Stage[*jobCtx, *jobCtx] {
	return func(ctx context.Context, jc *jobCtx) fn.Result[*jobCtx] {
		pctx, cancel := context.WithTimeout(ctx, parseTimeout)
		defer cancel()

		raw, err := os.ReadFile(filepath.Join(jc.fetched.ExtractedRoot, documentFileName))
		if err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageParse, fmt.Errorf("pipeline: read %s: %w", documentFileName, err)))
		}
		var doc domain.ConversationDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageParse, domain.NewValidationError(documentFileName, "", fmt.Errorf("%w: %v", domain.ErrMissingField, err))))
		}
		if unknown, err := unknownTopLevelKeys(raw); err == nil && len(unknown) > 0 {
			doc.UnknownFields = unknown
			keys := make([]string, 0, len(unknown))
			for k := range unknown {
				keys = append(keys, k)
			}
			log.Warn("pipeline.unknown_document_fields", "external_event_id", jc.event.ExternalEventID, "keys", keys)
		}
		jc.doc = doc
		if err := pctx.Err(); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageParse, err))
		}
		return fn.Ok(jc)
	}
}

// archiveRootName derives the package's identity from its object key
// (e.g. "raw/rec-20251003T091500Z-3f9c4241.tar.gz" -> the event id
// stem), the archive-naming equivalent of a root directory name, and is
// asserted against the document's own external_event_id by
// validator.Validate (spec §4.5).
func archiveRootName(objectKey string) string {
	base := filepath.Base(objectKey)
	for _, ext := range []string{".tar.gz", ".tgz", ".tar", ".gz", ".zip"} {
		if trimmed, ok := cutSuffix(base, ext); ok {
			return trimmed
		}
	}
	return base
}

func cutSuffix(s, suffix string) (string, bool) {
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)], true
	}
	return s, false
}

func validateStage() fn.Stage[*jobCtx, *jobCtx] {
	return func(ctx context.Context, jc *jobCtx) fn.Result[*jobCtx] {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		defer cancel()

		if err := validator.Validate(jc.doc, archiveRootName(jc.event.ObjectKey)); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageValidate, err))
		}
		metrics.ConversationSegments.Observe(float64(len(jc.doc.Segments)))
		metrics.ConversationParticipants.Observe(float64(len(jc.doc.Participants)))
		if err := vctx.Err(); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageValidate, err))
		}
		return fn.Ok(jc)
	}
}

// enrichStage runs mode detection and, on the legacy branch, local or
// LLM-backed NER/sentiment — never failing the job (spec §4.6.5).
func enrichStage(deps Deps, log *slog.Logger) fn.Stage[*jobCtx, *jobCtx] {
	return func(ctx context.Context, jc *jobCtx) fn.Result[*jobCtx] {
		if err := transitionAndPersist(ctx, deps, jc, domain.StatusEmbedding); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageNER, err))
		}

		jc.mode = enrich.DetectMode(jc.doc, jc.event.SchemaVersion)

		if jc.mode == enrich.ModeEnriched {
			jc.segments = jc.doc.Segments
			jc.nlpSource = domain.NLPSourceUpstream
			return fn.Ok(jc)
		}

		if !deps.NLPEnableLocal {
			jc.segments = jc.doc.Segments
			jc.nlpSource = domain.NLPSourceNone
			return fn.Ok(jc)
		}

		nctx, cancel := context.WithTimeout(ctx, nlpTimeout)
		defer cancel()

		if deps.LLMAnnotator != nil {
			start := time.Now()
			annotated, partial := deps.LLMAnnotator.AnnotateBatch(nctx, jc.doc.Segments)
			metrics.NLPDurationSeconds.WithLabelValues("llm").Observe(time.Since(start).Seconds())
			jc.segments = annotated
			jc.nlpSource = domain.NLPSourceLocal
			jc.nlpPartial = partial
			return fn.Ok(jc)
		}

		start := time.Now()
		jc.segments = enrich.AnnotateLocal(jc.doc.Segments)
		metrics.NLPDurationSeconds.WithLabelValues("lexicon").Observe(time.Since(start).Seconds())
		jc.nlpSource = domain.NLPSourceLocal
		if err := nctx.Err(); err != nil {
			jc.nlpPartial = true
			log.Warn("pipeline.nlp_timeout", "external_event_id", jc.event.ExternalEventID, "error", err)
		}
		return fn.Ok(jc)
	}
}

func chunkEmbedStage(deps Deps) fn.Stage[*jobCtx, *jobCtx] {
	return func(ctx context.Context, jc *jobCtx) fn.Result[*jobCtx] {
		ectx, cancel := context.WithTimeout(ctx, chunkEmbedTimeout)
		defer cancel()

		doc := jc.doc
		doc.Segments = jc.segments
		chunks := enrich.ChunkDocument(doc)
		jc.chunks = chunks

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}

		vectors := make([][]float32, 0, len(texts))
		for _, batch := range enrich.BatchTexts(texts, deps.EmbeddingBatch) {
			embedded, err := deps.Embedder.Embed(ectx, batch)
			if err != nil {
				return fn.Err[*jobCtx](router.WithStage(router.StageChunkEmbed, fmt.Errorf("pipeline: embed: %w", err)))
			}
			vectors = append(vectors, embedded...)
		}

		points := make([]domain.VectorPoint, len(chunks))
		for i, c := range chunks {
			points[i] = domain.VectorPoint{
				ID:     uuid.NewString(),
				Vector: vectors[i],
				Payload: domain.VectorPayload{
					ConversationID: jc.event.ExternalEventID,
					Speakers:       c.SpeakerIDs,
					TurnRangeFirst: c.TurnRangeFirst,
					TurnRangeLast:  c.TurnRangeLast,
					TraceID:        jc.event.TraceID,
					ChunkIndex:     c.Index,
					Text:           c.Text,
				},
			}
		}
		jc.vectorPoints = points
		if err := ectx.Err(); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageChunkEmbed, err))
		}
		return fn.Ok(jc)
	}
}

func persistStage(deps Deps) fn.Stage[*jobCtx, *jobCtx] {
	return func(ctx context.Context, jc *jobCtx) fn.Result[*jobCtx] {
		// Key every vector point by the conversation row's ID, the same ID
		// Commit's compensating delete uses.
		convID := uuid.NewString()
		for i := range jc.vectorPoints {
			jc.vectorPoints[i].Payload.ConversationID = convID
		}

		vctx, vcancel := context.WithTimeout(ctx, vectorWriteTimeout)
		defer vcancel()
		if err := deps.VectorIndex.Upsert(vctx, jc.vectorPoints); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StageVectorWrite, fmt.Errorf("%w: %v", router.ErrVectorIndexFailure, err)))
		}

		pointIDs := make([]string, len(jc.vectorPoints))
		for i, p := range jc.vectorPoints {
			pointIDs[i] = p.ID
		}

		entityCounts := map[string]int{}
		personMentions := map[string]int{}
		var personOrder []string
		sentimentHistogram := map[int]int{}
		turns := make([]domain.TurnRow, len(jc.segments))
		for i, seg := range jc.segments {
			var sentiment *domain.Sentiment
			if seg.Annotations != nil {
				sentiment = seg.Annotations.Sentiment
				if sentiment != nil {
					sentimentHistogram[sentiment.Stars]++
				}
				for _, e := range seg.Annotations.Entities {
					entityCounts[string(e.Type)]++
					if e.Type == domain.EntityPerson {
						if personMentions[e.Text] == 0 {
							personOrder = append(personOrder, e.Text)
						}
						personMentions[e.Text]++
					}
				}
			}
			turns[i] = domain.TurnRow{
				ID:             uuid.NewString(),
				ConversationID: convID,
				SegmentID:      seg.SegmentID,
				SpeakerID:      seg.SpeakerID,
				StartMS:        seg.StartMS,
				EndMS:          seg.EndMS,
				Text:           seg.Text,
				Language:       seg.Language,
				Confidence:     seg.Confidence,
				Sentiment:      sentiment,
			}
		}
		// Link each turn to the vector point produced from its chunk's turn range.
		assignVectorPointIDs(turns, jc.chunks, pointIDs)

		topics := extractTopics(jc.segments)

		jc.conversation = domain.ConversationRow{
			ID:              convID,
			JobID:           jc.job.ID,
			ExternalEventID: jc.event.ExternalEventID,
			SourceSystem:    jc.doc.SourceSystem,
			CreatedAt:       time.Now().UTC(),
			Date:            jc.doc.CreatedAt,
			Participants:    sortedParticipantIDs(jc.doc),
			Topics:          topics,
			SegmentCount:    len(jc.segments),
			ChunkCount:      len(jc.chunks),
			VectorPointIDs:  pointIDs,
			NLPSource:       jc.nlpSource,
			NLPPartial:      jc.nlpPartial,
		}
		jc.turns = turns

		if err := jc.job.Transition(domain.StatusCompleted); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StagePersist, err))
		}
		jc.job.NLPSource = jc.nlpSource
		jc.job.NLPPartial = jc.nlpPartial
		jc.job.ProcessingMetadata = domain.ProcessingMetadata{
			SegmentCount:       len(jc.segments),
			ChunkCount:         len(jc.chunks),
			PersonCount:        entityCounts[string(domain.EntityPerson)],
			SentimentHistogram: sentimentHistogram,
			TopPersons:         topPersons(personMentions, personOrder, 5),
			EntityTypeCounts:   entityCounts,
			NLPSource:          jc.nlpSource,
			ProcessingDuration: time.Since(jc.startedAt),
		}

		result := persistence.CommitResult{
			Job:          jc.job,
			Conversation: jc.conversation,
			Turns:        jc.turns,
		}
		pctx, pcancel := context.WithTimeout(ctx, persistTimeout)
		defer pcancel()
		if err := deps.Store.Commit(pctx, result, deps.VectorIndex); err != nil {
			return fn.Err[*jobCtx](router.WithStage(router.StagePersist, err))
		}
		return fn.Ok(jc)
	}
}

// topPersons returns the n most-mentioned PERSON entity texts, most
// mentions first. order lists each name once, in the order it was first
// seen, so sort.SliceStable's tie-break is a real first-appearance order
// rather than Go's randomized map-iteration order, keeping the result
// deterministic across runs over the same segments (spec §4.6.5).
func topPersons(mentions map[string]int, order []string, n int) []string {
	if len(order) == 0 {
		return nil
	}
	names := make([]string, len(order))
	copy(names, order)
	sort.SliceStable(names, func(i, j int) bool {
		return mentions[names[i]] > mentions[names[j]]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// graphSyncStage mirrors the completed conversation into the knowledge
// graph. It is additive and best-effort: any failure is logged, never
// propagated, matching spec.md's nlp_partial containment discipline.
func graphSyncStage(deps Deps, log *slog.Logger) fn.Stage[*jobCtx, *jobCtx] {
	return func(ctx context.Context, jc *jobCtx) fn.Result[*jobCtx] {
		if deps.GraphStore == nil {
			return fn.Ok(jc)
		}
		var perSegment [][]domain.Entity
		for _, seg := range jc.segments {
			if seg.Annotations != nil {
				perSegment = append(perSegment, seg.Annotations.Entities)
			}
		}
		mentions := graphstore.MentionsFromEntities(perSegment)
		if err := deps.GraphStore.SyncConversation(ctx, jc.conversation.ID, jc.event.ExternalEventID, jc.conversation.Participants, mentions); err != nil {
			log.Warn("pipeline.graph_sync_failed", "error", err, "external_event_id", jc.event.ExternalEventID)
		}
		return fn.Ok(jc)
	}
}

func cleanupStage() fn.Stage[*jobCtx, *jobCtx] {
	return func(ctx context.Context, jc *jobCtx) fn.Result[*jobCtx] {
		if jc.fetched != nil {
			_ = jc.fetched.Close()
		}
		return fn.Ok(jc)
	}
}

func assignVectorPointIDs(turns []domain.TurnRow, chunks []enrich.Chunk, pointIDs []string) {
	bySegment := make(map[string]int, len(turns))
	for i, t := range turns {
		bySegment[t.SegmentID] = i
	}
	for ci, c := range chunks {
		if ci >= len(pointIDs) {
			continue
		}
		if idx, ok := bySegment[c.TurnRangeLast]; ok {
			id := pointIDs[ci]
			turns[idx].VectorPointID = &id
		}
	}
}

func sortedParticipantIDs(doc domain.ConversationDocument) []string {
	ids := make([]string, 0, len(doc.Participants))
	for _, p := range doc.Participants {
		ids = append(ids, p.SpeakerID)
	}
	return ids
}

// extractTopics collects distinct ORGANIZATION/MISC entity text as a
// cheap topic proxy when no dedicated topic model is in scope (spec.md
// names meeting_metadata.title as the primary topic source; this
// supplements it from whatever NER already produced).
func extractTopics(segments []domain.Segment) []string {
	seen := map[string]bool{}
	var topics []string
	for _, seg := range segments {
		if seg.Annotations == nil {
			continue
		}
		for _, e := range seg.Annotations.Entities {
			if e.Type != domain.EntityOrganization && e.Type != domain.EntityMisc {
				continue
			}
			if seen[e.Text] {
				continue
			}
			seen[e.Text] = true
			topics = append(topics, e.Text)
		}
	}
	return topics
}
