// Package graphstore mirrors each completed conversation into Neo4j as a
// small knowledge graph: a Conversation node, a Speaker node per
// participant with a PARTICIPATED_IN edge, and — when NER produced
// entities — an Entity node per distinct mention with a MENTIONED_IN edge
// carrying a mention count. This is additive to the relational store in
// internal/persistence, not a substitute for it: its writes are
// best-effort and a failure here is logged by the caller but never fails
// the job, the same containment discipline internal/enrich uses for
// nlp_partial.
package graphstore

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/meridianrag/ingestcore/internal/domain"
)

// cypherResult is the minimal interface needed from a neo4j result.
type cypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// cypherRunner is the minimal interface needed from a neo4j session or
// managed transaction.
type cypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error)
}

// cypherSession additionally owns the session lifecycle and the managed
// write transaction used to batch several MERGE statements atomically.
type cypherSession interface {
	cypherRunner
	Close(ctx context.Context) error
	ExecuteWrite(ctx context.Context, work func(tx cypherRunner) (any, error)) (any, error)
}

// sessionAdapter wraps a real neo4j.SessionWithContext so GraphStore's
// methods only ever depend on the narrow interfaces above, which keeps
// the tests mock-driven without a live driver.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

func (a *sessionAdapter) ExecuteWrite(ctx context.Context, work func(tx cypherRunner) (any, error)) (any, error) {
	return a.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&txAdapter{tx: tx})
	})
}

type txAdapter struct {
	tx neo4j.ManagedTransaction
}

func (a *txAdapter) Run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error) {
	return a.tx.Run(ctx, cypher, params)
}

// GraphStore writes conversation/speaker/entity nodes directly via Cypher,
// the same style as the teacher's component graph rather than the
// generic repository wrapper, since every write here is a fixed shape
// known at compile time.
type GraphStore struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) cypherSession // overridden in tests
}

// New wraps an already-configured Neo4j driver.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{driver: driver}
}

func (g *GraphStore) session(ctx context.Context) cypherSession {
	if g.newSession != nil {
		return g.newSession(ctx)
	}
	return &sessionAdapter{sess: g.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// Close releases the driver.
func (g *GraphStore) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// EntityMention is one distinct entity text/type pair mentioned within a
// conversation, with how many segments mentioned it.
type EntityMention struct {
	Type  domain.EntityType
	Text  string
	Count int
}

// SyncConversation merges the conversation's graph shape in a single
// managed write transaction: one Conversation node, one Speaker node per
// participant, and one Entity node per distinct mention, grounded on the
// teacher's SaveBatch pattern of batching many MERGE statements inside a
// single neo4j.ExecuteWrite.
func (g *GraphStore) SyncConversation(ctx context.Context, conversationID, externalEventID string, speakerIDs []string, mentions []EntityMention) error {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx cypherRunner) (any, error) {
		if _, err := tx.Run(ctx,
			`MERGE (c:Conversation {id: $id}) SET c.external_event_id = $externalEventID`,
			map[string]any{"id": conversationID, "externalEventID": externalEventID},
		); err != nil {
			return nil, fmt.Errorf("merge conversation: %w", err)
		}

		for _, speakerID := range speakerIDs {
			if _, err := tx.Run(ctx, `
MERGE (s:Speaker {id: $speakerID})
MERGE (c:Conversation {id: $conversationID})
MERGE (s)-[:PARTICIPATED_IN]->(c)`,
				map[string]any{"speakerID": speakerID, "conversationID": conversationID},
			); err != nil {
				return nil, fmt.Errorf("merge speaker %s: %w", speakerID, err)
			}
		}

		for _, m := range mentions {
			if _, err := tx.Run(ctx, `
MERGE (e:Entity {type: $type, text: $text})
MERGE (c:Conversation {id: $conversationID})
MERGE (e)-[r:MENTIONED_IN]->(c)
SET r.count = $count`,
				map[string]any{
					"type":           string(m.Type),
					"text":           m.Text,
					"conversationID": conversationID,
					"count":          m.Count,
				},
			); err != nil {
				return nil, fmt.Errorf("merge entity %s/%s: %w", m.Type, m.Text, err)
			}
		}

		return nil, nil
	})
	return err
}

// Neighbors returns the ids of every node directly connected to
// conversationID, regardless of label — a small read path useful for
// downstream exploration tooling (out of scope for the ingestion
// pipeline itself, but grounded on the teacher's own Neighbors query).
func (g *GraphStore) Neighbors(ctx context.Context, conversationID string) ([]string, error) {
	sess := g.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `
MATCH (c:Conversation {id: $id})--(n)
RETURN DISTINCT coalesce(n.id, n.text) AS nodeKey`,
		map[string]any{"id": conversationID})
	if err != nil {
		return nil, err
	}

	var ids []string
	for result.Next(ctx) {
		v, ok := result.Record().Get("nodeKey")
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, result.Err()
}

// MentionsFromEntities collapses a conversation's extracted entities into
// distinct (type, text) mentions with counts, the shape SyncConversation
// needs, given every segment's extracted domain.Entity slice.
func MentionsFromEntities(perSegmentEntities [][]domain.Entity) []EntityMention {
	counts := make(map[string]*EntityMention)
	var order []string
	for _, entities := range perSegmentEntities {
		for _, e := range entities {
			key := string(e.Type) + "|" + e.Text
			if existing, ok := counts[key]; ok {
				existing.Count++
				continue
			}
			counts[key] = &EntityMention{Type: e.Type, Text: e.Text, Count: 1}
			order = append(order, key)
		}
	}
	out := make([]EntityMention, 0, len(order))
	for _, key := range order {
		out = append(out, *counts[key])
	}
	return out
}
