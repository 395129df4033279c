package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/meridianrag/ingestcore/internal/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type mockPoints struct {
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	deleteResp *pb.PointsOperationResponse
	deleteErr  error
}

func (m *mockPoints) Upsert(_ context.Context, _ *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.upsertResp, m.upsertErr
}

func (m *mockPoints) Delete(_ context.Context, _ *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}

type mockCollections struct {
	listResp        *pb.ListCollectionsResponse
	listErr         error
	createResp      *pb.CollectionOperationResponse
	createErr       error
	fieldIndexErr   error
	fieldIndexCalls int
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}

func (m *mockCollections) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.createResp, m.createErr
}

func (m *mockCollections) CreateFieldIndex(_ context.Context, _ *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.fieldIndexCalls++
	return &pb.CollectionOperationResponse{Result: true}, m.fieldIndexErr
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{{Name: "transcripts"}}},
	}
	idx := NewVectorIndexWithClients(&mockPoints{}, cols, "transcripts")
	require.NoError(t, idx.EnsureCollection(t.Context(), 768))
	assert.Zero(t, cols.fieldIndexCalls)
}

func TestEnsureCollection_CreatesCollectionAndIndexes(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	idx := NewVectorIndexWithClients(&mockPoints{}, cols, "transcripts")
	require.NoError(t, idx.EnsureCollection(t.Context(), 768))
	assert.Equal(t, 3, cols.fieldIndexCalls)
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc down")}
	idx := NewVectorIndexWithClients(&mockPoints{}, cols, "transcripts")
	require.Error(t, idx.EnsureCollection(t.Context(), 768))
}

func TestEnsureCollection_CreateError(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{},
		createErr: errors.New("create failed"),
	}
	idx := NewVectorIndexWithClients(&mockPoints{}, cols, "transcripts")
	require.Error(t, idx.EnsureCollection(t.Context(), 768))
}

func TestUpsert_Empty(t *testing.T) {
	idx := NewVectorIndexWithClients(&mockPoints{}, &mockCollections{}, "transcripts")
	require.NoError(t, idx.Upsert(t.Context(), nil))
}

func TestUpsert_Success(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	idx := NewVectorIndexWithClients(pts, &mockCollections{}, "transcripts")

	points := []domain.VectorPoint{
		{
			ID:     "11111111-1111-1111-1111-111111111111",
			Vector: []float32{0.1, 0.2, 0.3},
			Payload: domain.VectorPayload{
				ConversationID: "conv-1",
				Speakers:       []string{"spk-1", "spk-2"},
				TurnRangeFirst: "seg-1",
				TurnRangeLast:  "seg-5",
				TraceID:        "trace-1",
				ChunkIndex:     0,
				Text:           "hello world",
			},
		},
	}
	require.NoError(t, idx.Upsert(t.Context(), points))
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("upsert failed")}
	idx := NewVectorIndexWithClients(pts, &mockCollections{}, "transcripts")
	err := idx.Upsert(t.Context(), []domain.VectorPoint{{ID: "p1", Vector: []float32{1, 0}}})
	require.Error(t, err)
}

func TestDeleteByConversationID_Success(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	idx := NewVectorIndexWithClients(pts, &mockCollections{}, "transcripts")
	require.NoError(t, idx.DeleteByConversationID(t.Context(), "conv-1"))
}

func TestDeleteByConversationID_Error(t *testing.T) {
	pts := &mockPoints{deleteErr: errors.New("delete failed")}
	idx := NewVectorIndexWithClients(pts, &mockCollections{}, "transcripts")
	require.Error(t, idx.DeleteByConversationID(t.Context(), "conv-1"))
}

func TestFieldMatch(t *testing.T) {
	cond := fieldMatch("conversation_id", "conv-1")
	fc := cond.GetField()
	assert.Equal(t, "conversation_id", fc.Key)
	assert.Equal(t, "conv-1", fc.Match.GetKeyword())
}

func TestClose_NoDialedConn(t *testing.T) {
	idx := NewVectorIndexWithClients(&mockPoints{}, &mockCollections{}, "transcripts")
	require.NoError(t, idx.Close())
}
