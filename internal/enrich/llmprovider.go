package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/meridianrag/ingestcore/internal/domain"
	"github.com/meridianrag/ingestcore/pkg/fn"
)

// llmAnnotationPrompt instructs the model to return nothing but the JSON
// object this package parses back into domain.Annotations.
const llmAnnotationPrompt = `Analyze the following conversation segment. Respond with ONLY a JSON object of this exact shape, no prose:
{"stars": <1-5 integer>, "score": <float -1..1>, "entities": [{"type": "PERSON|LOCATION|ORGANIZATION|DATE|TIME|MONEY|MISC", "text": "<span>", "confidence": <float 0..1>}]}

Segment:
`

// llmNLPWorkers bounds concurrent calls to the provider so a large
// conversation doesn't open hundreds of simultaneous connections.
const llmNLPWorkers = 4

// LLMAnnotator calls a hosted model to perform the same job AnnotateLocal
// does heuristically — NLP_PROVIDER=llm opts into this path for higher
// quality at the cost of per-segment API calls. Off by default (spec
// §4.6.5); when enabled, a single call failure degrades that segment to
// an empty annotation rather than failing the job, the same containment
// AnnotateLocal provides.
type LLMAnnotator struct {
	sdk   anthropic.Client
	model string
}

// NewLLMAnnotator builds an LLMAnnotator against an Anthropic-compatible
// endpoint. baseURL may be empty to use the default Anthropic API.
func NewLLMAnnotator(baseURL, apiKey, model string) *LLMAnnotator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &LLMAnnotator{sdk: anthropic.NewClient(opts...), model: model}
}

type llmAnnotationResponse struct {
	Stars    int     `json:"stars"`
	Score    float64 `json:"score"`
	Entities []struct {
		Type       string  `json:"type"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
}

// AnnotateBatch runs AnnotateOne over every segment with bounded
// concurrency, matching the provider's own per-segment failure
// containment: a segment whose call errors keeps whatever annotation it
// already had (nil if none) rather than aborting the batch.
func (p *LLMAnnotator) AnnotateBatch(ctx context.Context, segments []domain.Segment) ([]domain.Segment, bool) {
	partial := false
	out := fn.ParMap(segments, llmNLPWorkers, func(seg domain.Segment) domain.Segment {
		if seg.Annotations.HasAnnotations() {
			return seg
		}
		ann, err := p.AnnotateOne(ctx, seg.Text)
		if err != nil {
			partial = true
			return seg
		}
		seg.Annotations = ann
		return seg
	})
	return out, partial
}

// AnnotateOne asks the model to score sentiment and extract entities for
// a single segment's text.
func (p *LLMAnnotator) AnnotateOne(ctx context.Context, text string) (*domain.Annotations, error) {
	resp, err := p.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(llmAnnotationPrompt + text)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm annotate: %w", err)
	}

	var raw string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			raw += tb.Text
		}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("llm annotate: empty response")
	}

	var parsed llmAnnotationResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("llm annotate: parse response: %w", err)
	}

	entities := make([]domain.Entity, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		entities = append(entities, domain.Entity{
			Type:       domain.EntityType(e.Type),
			Text:       e.Text,
			Confidence: e.Confidence,
		})
	}

	return &domain.Annotations{
		Sentiment: &domain.Sentiment{Stars: parsed.Stars, Score: parsed.Score},
		Entities:  entities,
	}, nil
}
