// Package enrich implements the Enrichment Engine (C6): mode detection,
// chunking, embedding, vector indexing, and the NLP branches of spec §4.6.
package enrich

import "github.com/meridianrag/ingestcore/internal/domain"

// Mode is the result of enrichment-mode detection (spec §4.6.1).
type Mode string

const (
	ModeEnriched Mode = "enriched"
	ModeLegacy   Mode = "legacy"
)

// DetectMode decides enriched vs. legacy by inspecting whether any segment
// carries non-empty annotations AND the schema version is >= 1.1.
func DetectMode(doc domain.ConversationDocument, version domain.SchemaVersion) Mode {
	if !version.AtLeast(1, 1) {
		return ModeLegacy
	}
	for _, seg := range doc.Segments {
		if seg.Annotations.HasAnnotations() {
			return ModeEnriched
		}
	}
	return ModeLegacy
}
