package enrich

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NoError(t, json.NewEncoder(w).Encode(ollamaEmbedResp{
			Embeddings: [][]float64{{3, 4}},
		}))
	}))
	defer srv.Close()

	embedder := NewOllamaEmbedder(srv.URL, "nomic-embed-text", 2)
	vecs, err := embedder.Embed(t.Context(), []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	for _, v := range vecs {
		var sumSquares float64
		for _, x := range v {
			sumSquares += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-6)
	}
	assert.Equal(t, 2, embedder.Dimension())
}

func TestOllamaEmbedder_Embed_PropagatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	embedder := NewOllamaEmbedder(srv.URL, "nomic-embed-text", 2)
	_, err := embedder.Embed(t.Context(), []string{"hello"})
	require.Error(t, err)
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	assert.Equal(t, []float32{0, 0, 0}, normalize([]float32{0, 0, 0}))
}

func TestMeanPool_AveragesAndNormalizes(t *testing.T) {
	pooled := MeanPool([][]float32{{1, 0}, {0, 1}})
	require.Len(t, pooled, 2)
	assert.InDelta(t, pooled[0], pooled[1], 1e-6)
	assert.InDelta(t, 1/math.Sqrt2, float64(pooled[0]), 1e-6)
}

func TestMeanPool_Empty(t *testing.T) {
	assert.Nil(t, MeanPool(nil))
}

func TestBatchTexts_SplitsIntoBatchesOfSize(t *testing.T) {
	texts := make([]string, 70)
	for i := range texts {
		texts[i] = "chunk"
	}
	batches := BatchTexts(texts, 32)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 32)
	assert.Len(t, batches[1], 32)
	assert.Len(t, batches[2], 6)
}

func TestBatchTexts_DefaultsWhenNonPositive(t *testing.T) {
	texts := make([]string, 40)
	batches := BatchTexts(texts, 0)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 32)
}
