package enrich

import (
	"testing"

	"github.com/meridianrag/ingestcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotateLocal_SkipsAlreadyAnnotated(t *testing.T) {
	existing := &domain.Annotations{Sentiment: &domain.Sentiment{Stars: 5}}
	segments := []domain.Segment{{SegmentID: "s1", Text: "hello", Annotations: existing}}
	out := AnnotateLocal(segments)
	require.Len(t, out, 1)
	assert.Same(t, existing, out[0].Annotations)
}

func TestAnnotateLocal_FillsMissingAnnotations(t *testing.T) {
	segments := []domain.Segment{
		{SegmentID: "s1", Text: "Thanks so much, this is great."},
		{SegmentID: "s2", Text: "Unfortunately there is a problem."},
	}
	out := AnnotateLocal(segments)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].Annotations)
	require.NotNil(t, out[0].Annotations.Sentiment)
	assert.GreaterOrEqual(t, out[0].Annotations.Sentiment.Stars, 4)
	assert.LessOrEqual(t, out[1].Annotations.Sentiment.Stars, 2)
}

func TestScoreSentiment_Neutral(t *testing.T) {
	s := scoreSentiment("the meeting starts at nine")
	require.NotNil(t, s)
	assert.Equal(t, 3, s.Stars)
}

func TestExtractEntities_Money(t *testing.T) {
	entities := extractEntities("The invoice total is $4,500.00 due next week.")
	found := false
	for _, e := range entities {
		if e.Type == domain.EntityMoney {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExtractEntities_Date(t *testing.T) {
	entities := extractEntities("We should follow up on March 5, 2026.")
	found := false
	for _, e := range entities {
		if e.Type == domain.EntityDate {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExtractEntities_PersonWithTitle(t *testing.T) {
	entities := extractEntities("Please loop in Dr. Sarah Collins on this.")
	found := false
	for _, e := range entities {
		if e.Type == domain.EntityPerson {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExtractEntities_Organization(t *testing.T) {
	entities := extractEntities("We signed the contract with Initech Corp yesterday.")
	found := false
	for _, e := range entities {
		if e.Type == domain.EntityOrganization {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExtractEntities_EmptyText(t *testing.T) {
	assert.Nil(t, extractEntities(""))
}

func TestExtractEntities_Deduplicates(t *testing.T) {
	entities := extractEntities("$100 and $100 again")
	count := 0
	for _, e := range entities {
		if e.Type == domain.EntityMoney {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
