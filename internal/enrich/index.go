package enrich

import (
	"context"
	"fmt"

	"github.com/meridianrag/ingestcore/internal/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// VectorIndex is the sole owner of all Qdrant operations for the
// enrichment pipeline (spec §4.7). One collection holds every
// conversation's chunk vectors, partitioned by the conversation_id
// payload field.
type VectorIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// NewVectorIndex dials Qdrant at addr and binds to collection.
func NewVectorIndex(addr, collection string) (*VectorIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("enrich: dial qdrant %s: %w", addr, err)
	}
	return &VectorIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewVectorIndexWithClients injects already-constructed Qdrant clients,
// used by tests to substitute mocks without a live gRPC connection.
func NewVectorIndexWithClients(points pb.PointsClient, collections pb.CollectionsClient, collection string) *VectorIndex {
	return &VectorIndex{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection, if one was dialed.
func (v *VectorIndex) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection (cosine distance, the given
// embedding dimension) and its payload indexes if they don't already
// exist, so every ingest worker instance converges on the same schema
// without a migration step.
func (v *VectorIndex) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("enrich: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	size := uint64(dims)
	if _, err := v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     size,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	}); err != nil {
		return fmt.Errorf("enrich: create collection %s: %w", v.collection, err)
	}

	for _, field := range []string{"conversation_id", "speakers", "trace_id"} {
		if _, err := v.collections.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: v.collection,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		}); err != nil {
			return fmt.Errorf("enrich: create payload index on %s: %w", field, err)
		}
	}
	return nil
}

// Upsert writes chunk vectors in order, so a crash mid-batch leaves a
// prefix of the conversation indexed rather than a scattered subset —
// callers retry the whole conversation on failure, and duplicate point
// IDs are idempotent overwrites.
func (v *VectorIndex) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		pbPoints[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}},
			},
			Payload: payloadToQdrant(p.Payload),
		}
	}

	wait := true
	if _, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         pbPoints,
	}); err != nil {
		return fmt.Errorf("enrich: upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteByConversationID removes every point belonging to a
// conversation, the compensating action when a relational write fails
// after the vector write already succeeded (spec §4.8's ordering
// invariant: vector index before relational commit).
func (v *VectorIndex) DeleteByConversationID(ctx context.Context, conversationID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{fieldMatch("conversation_id", conversationID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("enrich: delete by conversation_id %s: %w", conversationID, err)
	}
	return nil
}

func payloadToQdrant(p domain.VectorPayload) map[string]*pb.Value {
	speakers := make([]*pb.Value, len(p.Speakers))
	for i, s := range p.Speakers {
		speakers[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
	}
	return map[string]*pb.Value{
		"conversation_id":  {Kind: &pb.Value_StringValue{StringValue: p.ConversationID}},
		"speakers":         {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: speakers}}},
		"turn_range_first": {Kind: &pb.Value_StringValue{StringValue: p.TurnRangeFirst}},
		"turn_range_last":  {Kind: &pb.Value_StringValue{StringValue: p.TurnRangeLast}},
		"trace_id":         {Kind: &pb.Value_StringValue{StringValue: p.TraceID}},
		"chunk_index":      {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.ChunkIndex)}},
		"text":             {Kind: &pb.Value_StringValue{StringValue: p.Text}},
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}
