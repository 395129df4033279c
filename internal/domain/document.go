package domain

import "time"

// ConversationDocument is the canonical conversation.json shape (spec §3),
// field order matching the wire contract. go-playground/validator tags
// cover the structural checks internal/validator can express declaratively;
// the cross-field invariants (speaker coverage, monotonic bounds) are
// hand-written in internal/validator, same split the teacher's
// engine/domain package uses between tag-level and function-level checks.
type ConversationDocument struct {
	SchemaVersion   string             `json:"schema_version" validate:"required"`
	ExternalEventID string             `json:"external_event_id" validate:"required"`
	SourceSystem    string             `json:"source_system" validate:"required"`
	CreatedAt       time.Time          `json:"created_at" validate:"required"`
	MeetingMetadata MeetingMetadata    `json:"meeting_metadata" validate:"required"`
	Participants    []Participant      `json:"participants" validate:"required,min=1,dive"`
	Segments        []Segment          `json:"segments" validate:"required,min=1,dive"`
	Analytics       *Analytics         `json:"analytics,omitempty"`
	Attachments     []Attachment       `json:"attachments,omitempty"`
	QualityFlags    []string           `json:"quality_flags,omitempty"`

	// UnknownFields preserves top-level keys the validator does not
	// recognize so they can be forwarded downstream; their presence is
	// a warning, never fatal (spec §4.5).
	UnknownFields map[string]any `json:"-"`
}

// MeetingMetadata describes the recording session.
type MeetingMetadata struct {
	ScheduledStart time.Time  `json:"scheduled_start" validate:"required"`
	DurationSec    *int       `json:"duration_sec,omitempty"`
	EndAt          *time.Time `json:"end_at,omitempty"`
	Title          string     `json:"title,omitempty"`
}

// HasWindow reports whether either duration_sec or end_at is present, as
// required by spec §4.5.
func (m MeetingMetadata) HasWindow() bool {
	return m.DurationSec != nil || m.EndAt != nil
}

// Participant is one declared speaker in the conversation.
type Participant struct {
	SpeakerID   string `json:"speaker_id" validate:"required"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Segment is one speaker turn with text and time bounds.
type Segment struct {
	SegmentID   string       `json:"segment_id" validate:"required"`
	SpeakerID   string       `json:"speaker_id" validate:"required"`
	StartMS     int64        `json:"start_ms" validate:"min=0"`
	EndMS       int64        `json:"end_ms" validate:"min=0"`
	Text        string       `json:"text" validate:"required"`
	Language    string       `json:"language" validate:"required,len=2"`
	Confidence  float64      `json:"confidence" validate:"min=0,max=1"`
	Annotations *Annotations `json:"annotations,omitempty"`
}

// Annotations carries upstream-computed sentiment/entities, present only
// in enriched (schema >= 1.1) documents.
type Annotations struct {
	Sentiment *Sentiment `json:"sentiment,omitempty"`
	Entities  []Entity   `json:"entities,omitempty"`
}

// HasAnnotations reports whether this annotation set carries any content
// (used by enrichment mode detection, spec §4.6.1).
func (a *Annotations) HasAnnotations() bool {
	if a == nil {
		return false
	}
	return a.Sentiment != nil || len(a.Entities) > 0
}

// Sentiment is a 5-star sentiment score, either upstream-supplied or
// locally computed.
type Sentiment struct {
	Stars int     `json:"stars" validate:"min=1,max=5"`
	Score float64 `json:"score"`
}

// EntityType enumerates the recognized named-entity categories (spec §4.6.5).
type EntityType string

const (
	EntityPerson       EntityType = "PERSON"
	EntityLocation     EntityType = "LOCATION"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityDate         EntityType = "DATE"
	EntityTime         EntityType = "TIME"
	EntityMoney        EntityType = "MONEY"
	EntityMisc         EntityType = "MISC"
)

// Entity is one named-entity mention within a segment.
type Entity struct {
	Type       EntityType `json:"type"`
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence,omitempty"`
}

// Analytics carries optional conversation-level precomputed analytics,
// passed through untouched.
type Analytics struct {
	Extra map[string]any `json:"-"`
}

// Attachment references a companion asset living alongside the conversation
// document in the package (media/, artifacts/, logs/ subtrees).
type Attachment struct {
	Name        string `json:"name"`
	RelPath     string `json:"rel_path"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// SpeakerIDs returns the set of speaker_id values declared in Participants.
func (d ConversationDocument) SpeakerIDs() map[string]bool {
	out := make(map[string]bool, len(d.Participants))
	for _, p := range d.Participants {
		out[p.SpeakerID] = true
	}
	return out
}
