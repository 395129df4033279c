package validator

import (
	"testing"
	"time"

	"github.com/meridianrag/ingestcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDoc() domain.ConversationDocument {
	duration := 600
	return domain.ConversationDocument{
		SchemaVersion:   "1.1",
		ExternalEventID: "rec-20251003T091500Z-3f9c4241",
		SourceSystem:    "transcriber",
		CreatedAt:       time.Now(),
		MeetingMetadata: domain.MeetingMetadata{
			ScheduledStart: time.Now(),
			DurationSec:    &duration,
		},
		Participants: []domain.Participant{{SpeakerID: "spk-1"}, {SpeakerID: "spk-2"}},
		Segments: []domain.Segment{
			{SegmentID: "seg-1", SpeakerID: "spk-1", StartMS: 0, EndMS: 1000, Text: "hello", Language: "en", Confidence: 0.9},
			{SegmentID: "seg-2", SpeakerID: "spk-2", StartMS: 1000, EndMS: 2000, Text: "hi", Language: "en", Confidence: 0.8},
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	doc := validDoc()
	require.NoError(t, Validate(doc, doc.ExternalEventID))
}

func TestValidate_RootDirMismatch(t *testing.T) {
	doc := validDoc()
	err := Validate(doc, "rec-wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRootDirMismatch)
}

func TestValidate_MissingMeetingWindow(t *testing.T) {
	doc := validDoc()
	doc.MeetingMetadata.DurationSec = nil
	doc.MeetingMetadata.EndAt = nil
	err := Validate(doc, doc.ExternalEventID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMeetingWindowMissing)
}

func TestValidate_SegmentBoundsInverted(t *testing.T) {
	doc := validDoc()
	doc.Segments[0].StartMS = 500
	doc.Segments[0].EndMS = 100
	err := Validate(doc, doc.ExternalEventID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSegmentBoundsInverted)
}

func TestValidate_SegmentEqualBoundsAccepted(t *testing.T) {
	doc := validDoc()
	doc.Segments[0].StartMS = 500
	doc.Segments[0].EndMS = 500
	require.NoError(t, Validate(doc, doc.ExternalEventID))
}

func TestValidate_ConfidenceOutOfRange(t *testing.T) {
	doc := validDoc()
	doc.Segments[0].Confidence = 1.5
	err := Validate(doc, doc.ExternalEventID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSegmentConfidenceRange)
}

func TestValidate_EmptyText(t *testing.T) {
	doc := validDoc()
	doc.Segments[0].Text = ""
	err := Validate(doc, doc.ExternalEventID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSegmentTextEmpty)
}

func TestValidate_UnknownLanguage(t *testing.T) {
	doc := validDoc()
	doc.Segments[0].Language = "xx"
	err := Validate(doc, doc.ExternalEventID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSegmentUnknownLanguage)
}

func TestValidate_SpeakerNotDeclared(t *testing.T) {
	doc := validDoc()
	doc.Segments[0].SpeakerID = "spk-ghost"
	err := Validate(doc, doc.ExternalEventID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSpeakerNotDeclared)
}

