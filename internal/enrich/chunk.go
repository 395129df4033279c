package enrich

import (
	"math"
	"sort"
	"strings"

	"github.com/meridianrag/ingestcore/internal/domain"
)

// Strategy is the tagged-union chunking strategy selected per
// conversation (spec §9 re-architecture guidance: a small tagged variant
// over deep class hierarchies).
type Strategy string

const (
	StrategyTurnBased     Strategy = "turn_based"
	StrategySpeakerGrouped Strategy = "speaker_grouped"
	StrategySlidingWindow Strategy = "sliding_window"
	StrategySemantic      Strategy = "semantic"
)

const (
	slidingWindowSize    = 512
	slidingWindowOverlap = 64
	semanticDropThreshold = 0.35
	minChunkTokens       = 32
	maxSpeakerGroupTokens = 512
)

// Chunk is one unit of text assembled from contiguous segments (spec §3/§9).
type Chunk struct {
	Index          int
	Text           string
	SpeakerIDs     []string
	TurnRangeFirst string
	TurnRangeLast  string
}

// SelectStrategy applies the decision table of spec §4.6.2.
func SelectStrategy(doc domain.ConversationDocument) Strategy {
	participants := len(doc.Participants)
	median := medianTokenLength(doc.Segments)

	switch {
	case participants <= 2 && median <= 300:
		return StrategyTurnBased
	case participants >= 3:
		return StrategySpeakerGrouped
	case median > 600:
		return StrategySlidingWindow
	default:
		return StrategySemantic
	}
}

// ChunkDocument runs the selected strategy over a conversation's segments.
func ChunkDocument(doc domain.ConversationDocument) []Chunk {
	strategy := SelectStrategy(doc)
	switch strategy {
	case StrategyTurnBased:
		return chunkTurnBased(doc.Segments)
	case StrategySpeakerGrouped:
		return chunkSpeakerGrouped(doc.Segments)
	case StrategySlidingWindow:
		return chunkSlidingWindow(doc.Segments)
	default:
		return chunkSemantic(doc.Segments)
	}
}

func medianTokenLength(segments []domain.Segment) int {
	if len(segments) == 0 {
		return 0
	}
	lengths := make([]int, len(segments))
	for i, seg := range segments {
		lengths[i] = tokenCount(seg.Text)
	}
	sort.Ints(lengths)
	mid := len(lengths) / 2
	if len(lengths)%2 == 0 {
		return (lengths[mid-1] + lengths[mid]) / 2
	}
	return lengths[mid]
}

func tokenCount(s string) int {
	return len(strings.Fields(s))
}

// chunkTurnBased makes one chunk per segment, merging any chunk that
// falls below minChunkTokens into its successor so short turns (e.g.
// "yes", "okay") don't become their own indexed point.
func chunkTurnBased(segments []domain.Segment) []Chunk {
	var chunks []Chunk
	var pending *Chunk

	flush := func() {
		if pending != nil {
			chunks = append(chunks, *pending)
			pending = nil
		}
	}

	for _, seg := range segments {
		if pending == nil {
			pending = &Chunk{
				Text:           seg.Text,
				SpeakerIDs:     []string{seg.SpeakerID},
				TurnRangeFirst: seg.SegmentID,
				TurnRangeLast:  seg.SegmentID,
			}
			continue
		}
		if tokenCount(pending.Text) < minChunkTokens {
			pending.Text = pending.Text + " " + seg.Text
			pending.SpeakerIDs = appendUnique(pending.SpeakerIDs, seg.SpeakerID)
			pending.TurnRangeLast = seg.SegmentID
			continue
		}
		flush()
		pending = &Chunk{
			Text:           seg.Text,
			SpeakerIDs:     []string{seg.SpeakerID},
			TurnRangeFirst: seg.SegmentID,
			TurnRangeLast:  seg.SegmentID,
		}
	}
	flush()

	return indexChunks(chunks)
}

// chunkSpeakerGrouped accumulates a contiguous run of segments from the
// same speaker, splitting when the speaker changes or the run exceeds
// maxSpeakerGroupTokens.
func chunkSpeakerGrouped(segments []domain.Segment) []Chunk {
	var chunks []Chunk
	var current *Chunk
	var currentTokens int

	flush := func() {
		if current != nil {
			chunks = append(chunks, *current)
			current = nil
			currentTokens = 0
		}
	}

	for _, seg := range segments {
		segTokens := tokenCount(seg.Text)
		sameSpeaker := current != nil && len(current.SpeakerIDs) == 1 && current.SpeakerIDs[0] == seg.SpeakerID
		fitsBudget := current == nil || currentTokens+segTokens <= maxSpeakerGroupTokens

		if current != nil && sameSpeaker && fitsBudget {
			current.Text = current.Text + " " + seg.Text
			current.TurnRangeLast = seg.SegmentID
			currentTokens += segTokens
			continue
		}

		flush()
		current = &Chunk{
			Text:           seg.Text,
			SpeakerIDs:     []string{seg.SpeakerID},
			TurnRangeFirst: seg.SegmentID,
			TurnRangeLast:  seg.SegmentID,
		}
		currentTokens = segTokens
	}
	flush()

	return indexChunks(chunks)
}

// chunkSlidingWindow concatenates segment text in order and slides a
// fixed-size, overlapping token window across it, the same
// accumulate-until-budget-then-back-up approach as the teacher's sentence
// chunker, generalized from sentences to segments.
func chunkSlidingWindow(segments []domain.Segment) []Chunk {
	if len(segments) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0

	for start < len(segments) {
		var buf strings.Builder
		tokens := 0
		end := start
		speakers := map[string]bool{}

		for end < len(segments) {
			words := tokenCount(segments[end].Text)
			if tokens+words > slidingWindowSize && tokens > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(segments[end].Text)
			speakers[segments[end].SpeakerID] = true
			tokens += words
			end++
		}

		chunks = append(chunks, Chunk{
			Text:           buf.String(),
			SpeakerIDs:     sortedKeys(speakers),
			TurnRangeFirst: segments[start].SegmentID,
			TurnRangeLast:  segments[end-1].SegmentID,
		})

		overlapTokens := 0
		newStart := end
		for newStart > start && overlapTokens < slidingWindowOverlap {
			newStart--
			overlapTokens += tokenCount(segments[newStart].Text)
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
	}

	return indexChunks(chunks)
}

// chunkSemantic greedily accumulates segments into a chunk, using
// word-bag cosine similarity against the running mean of the chunk's
// accumulated vocabulary as a cheap local proxy for semantic drift —
// the real embedding provider only runs after chunking (spec §4.6.3), so
// a chunking-time call to it would create a circular dependency and
// double the embedding cost. A segment is folded into the current chunk
// while similarity stays within semanticDropThreshold of the running
// mean; a larger drop starts a new chunk.
func chunkSemantic(segments []domain.Segment) []Chunk {
	if len(segments) == 0 {
		return nil
	}

	var chunks []Chunk
	var current *Chunk
	runningVocab := map[string]int{}

	flush := func() {
		if current != nil {
			chunks = append(chunks, *current)
			current = nil
			runningVocab = map[string]int{}
		}
	}

	for _, seg := range segments {
		vocab := wordBag(seg.Text)
		if current != nil {
			sim := cosineSimilarity(runningVocab, vocab)
			if 1-sim > semanticDropThreshold {
				flush()
			}
		}

		if current == nil {
			current = &Chunk{
				Text:           seg.Text,
				SpeakerIDs:     []string{seg.SpeakerID},
				TurnRangeFirst: seg.SegmentID,
				TurnRangeLast:  seg.SegmentID,
			}
		} else {
			current.Text = current.Text + " " + seg.Text
			current.SpeakerIDs = appendUnique(current.SpeakerIDs, seg.SpeakerID)
			current.TurnRangeLast = seg.SegmentID
		}
		for w, c := range vocab {
			runningVocab[w] += c
		}
	}
	flush()

	return indexChunks(chunks)
}

func wordBag(text string) map[string]int {
	bag := map[string]int{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		bag[w]++
	}
	return bag
}

func cosineSimilarity(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for w, ca := range a {
		normA += float64(ca * ca)
		if cb, ok := b[w]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range b {
		normB += float64(cb * cb)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func indexChunks(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

func appendUnique(xs []string, x string) []string {
	for _, v := range xs {
		if v == x {
			return xs
		}
	}
	return append(xs, x)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
