// Package validator implements the Payload Validator (C5): structural tag
// validation via go-playground/validator/v10 plus the hand-written
// invariant checks the tags cannot express, in the same sequential,
// first-error-wins style the teacher's engine/domain validators use.
package validator

import (
	"fmt"

	govalidator "github.com/go-playground/validator/v10"

	"github.com/meridianrag/ingestcore/internal/domain"
)

var knownLanguages = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "it": true, "pt": true,
	"nl": true, "ja": true, "zh": true, "ko": true, "ru": true, "ar": true,
	"hi": true, "pl": true, "sv": true, "tr": true,
}

var structValidator = govalidator.New()

// Validate runs structural validation against the struct tags in
// internal/domain, then the cross-field invariants of spec §4.5:
// root-folder/external_event_id agreement, meeting window presence,
// segment bound/confidence/text/language checks, and speaker-id coverage.
// It returns the first failure, matching the teacher's sequential style.
func Validate(doc domain.ConversationDocument, archiveRootName string) error {
	if err := structValidator.Struct(doc); err != nil {
		return firstStructError(err)
	}

	if archiveRootName != doc.ExternalEventID {
		return domain.NewValidationError("external_event_id", archiveRootName, domain.ErrRootDirMismatch)
	}

	if !doc.MeetingMetadata.HasWindow() {
		return domain.NewValidationError("meeting_metadata", "", domain.ErrMeetingWindowMissing)
	}

	speakerIDs := doc.SpeakerIDs()
	for _, seg := range doc.Segments {
		if err := validateSegment(seg, speakerIDs); err != nil {
			return err
		}
	}

	return nil
}

func validateSegment(seg domain.Segment, speakerIDs map[string]bool) error {
	if seg.StartMS > seg.EndMS {
		return domain.NewValidationError("segments["+seg.SegmentID+"].start_ms", fmt.Sprintf("%d", seg.StartMS), domain.ErrSegmentBoundsInverted)
	}
	if seg.Confidence < 0 || seg.Confidence > 1 {
		return domain.NewValidationError("segments["+seg.SegmentID+"].confidence", fmt.Sprintf("%f", seg.Confidence), domain.ErrSegmentConfidenceRange)
	}
	if seg.Text == "" {
		return domain.NewValidationError("segments["+seg.SegmentID+"].text", "", domain.ErrSegmentTextEmpty)
	}
	if !knownLanguages[seg.Language] {
		return domain.NewValidationError("segments["+seg.SegmentID+"].language", seg.Language, domain.ErrSegmentUnknownLanguage)
	}
	if !speakerIDs[seg.SpeakerID] {
		return domain.NewValidationError("segments["+seg.SegmentID+"].speaker_id", seg.SpeakerID, domain.ErrSpeakerNotDeclared)
	}
	return nil
}

func firstStructError(err error) error {
	verrs, ok := err.(govalidator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return domain.NewValidationError("document", "", fmt.Errorf("%w: %s", domain.ErrMissingField, err))
	}
	fe := verrs[0]
	sentinel := domain.ErrMissingField
	switch fe.StructField() {
	case "Confidence":
		sentinel = domain.ErrSegmentConfidenceRange
	case "Text":
		sentinel = domain.ErrSegmentTextEmpty
	}
	return domain.NewValidationError(fe.Namespace(), fmt.Sprintf("%v", fe.Value()), sentinel)
}
