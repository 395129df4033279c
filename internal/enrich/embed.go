package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Embedder produces dense vectors for a batch of chunk texts, called with
// EmbeddingBatch-sized slices by the pipeline stage. Two implementations
// exist behind this interface — Ollama HTTP and OpenAI-compatible batch —
// selected by EMBEDDING_PROVIDER, matching the single-provider-per-job
// contract of spec §4.6.3.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// OllamaEmbedder calls Ollama's HTTP /api/embed endpoint one text at a
// time (Ollama has no native batch endpoint), the same request/response
// shape as the teacher's Ollama client, rebuilt here without the missing
// mlpb proto dependency (see DESIGN.md).
type OllamaEmbedder struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewOllamaEmbedder builds an OllamaEmbedder.
func NewOllamaEmbedder(baseURL, model string, dim int) *OllamaEmbedder {
	return &OllamaEmbedder{baseURL: baseURL, model: model, dim: dim, client: &http.Client{}}
}

func (c *OllamaEmbedder) Dimension() int { return c.dim }

type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResp struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed sends each text as its own request, normalizes each result to
// unit length, and returns them in input order.
func (c *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("ollama embed [%d]: %w", i, err)
		}
		out[i] = normalize(vec)
	}
	return out, nil
}

func (c *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedReq{Model: c.model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings response")
	}

	vec := make([]float32, len(result.Embeddings[0]))
	for i, v := range result.Embeddings[0] {
		vec[i] = float32(v)
	}
	return vec, nil
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint via
// openai-go/v2, which does support native batching.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dim    int
}

// NewOpenAIEmbedder builds an OpenAIEmbedder pointed at baseURL (an
// OpenAI-compatible endpoint) with the given API key.
func NewOpenAIEmbedder(baseURL, apiKey, embeddingModel string, dim int) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  embeddingModel,
		dim:    dim,
	}
}

func (c *OpenAIEmbedder) Dimension() int { return c.dim }

// Embed sends the whole batch in one request and mean-pools nothing
// further — the provider already returns one vector per input text.
func (c *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = normalize(vec)
	}
	return out, nil
}

// normalize scales a vector to unit L2 length (spec §4.6.3).
func normalize(vec []float32) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sumSquares))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// MeanPool averages a set of token-level vectors into one chunk vector,
// used when an embedding backend returns per-token rather than
// pre-pooled output.
func MeanPool(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(len(vectors)))
	}
	return normalize(out)
}

// BatchTexts splits texts into batches of at most size n (default 32 per
// spec §4.6.3, EMBEDDING_BATCH).
func BatchTexts(texts []string, n int) [][]string {
	if n <= 0 {
		n = 32
	}
	var batches [][]string
	for i := 0; i < len(texts); i += n {
		end := i + n
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}
	return batches
}
