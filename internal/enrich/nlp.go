package enrich

import (
	"regexp"
	"strings"

	"github.com/meridianrag/ingestcore/internal/domain"
	"github.com/meridianrag/ingestcore/pkg/fn"
)

// nlpWorkers bounds concurrency for the local annotation pass; segments
// are independent so there is no reason to cap it to a small pool.
const nlpWorkers = 8

// personTitles precede a capitalized name with high confidence.
var personTitles = []string{"mr", "mrs", "ms", "dr", "prof", "sir", "madam"}

// orgSuffixes follow a capitalized run and mark it as an organization.
var orgSuffixes = []string{"inc", "llc", "ltd", "corp", "corporation", "co", "gmbh", "group", "partners"}

// locationWords mark a preceding or following capitalized run as a place.
var locationWords = []string{"street", "st", "avenue", "ave", "road", "rd", "city", "county", "building", "room", "office", "headquarters"}

var (
	capitalizedRunRe = regexp.MustCompile(`\b([A-Z][a-zA-Z]*(?:\s[A-Z][a-zA-Z]*){0,3})\b`)
	moneyRe          = regexp.MustCompile(`(?i)(\$\s?\d[\d,]*(?:\.\d+)?|\d[\d,]*(?:\.\d+)?\s?(?:dollars|usd|eur|euros))`)
	timeRe           = regexp.MustCompile(`(?i)\b(\d{1,2}(:\d{2})?\s?(am|pm)|\d{1,2}:\d{2})\b`)
	dateRe           = regexp.MustCompile(`(?i)\b((?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?|\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2})\b`)
)

var positiveWords = map[string]bool{
	"great": true, "good": true, "excellent": true, "happy": true, "pleased": true,
	"thanks": true, "thank": true, "appreciate": true, "perfect": true, "love": true,
	"wonderful": true, "fantastic": true, "agree": true, "yes": true, "awesome": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "angry": true, "frustrated": true, "concerned": true,
	"issue": true, "problem": true, "unfortunately": true, "disappointed": true,
	"no": true, "cannot": true, "can't": true, "worried": true, "delay": true,
}

// AnnotateLocal runs lexicon/regex-driven named-entity extraction and
// sentiment scoring over segments that arrived without upstream
// annotations (the legacy branch of spec §4.6.1), the same
// gazetteer-plus-regex-plus-confidence-scoring shape as the vehicle
// extractor this is grounded on, generalized from vehicle mentions to
// generic entity categories. Segments already carrying annotations are
// passed through untouched. A panic or malformed segment degrades that
// one segment to an empty annotation rather than failing the batch —
// local NLP must never fail a job (spec §4.6.5).
func AnnotateLocal(segments []domain.Segment) []domain.Segment {
	return fn.ParMap(segments, nlpWorkers, annotateSegment)
}

func annotateSegment(seg domain.Segment) (out domain.Segment) {
	defer func() {
		if recover() != nil {
			seg.Annotations = &domain.Annotations{}
			out = seg
		}
	}()
	if seg.Annotations.HasAnnotations() {
		return seg
	}
	seg.Annotations = &domain.Annotations{
		Sentiment: scoreSentiment(seg.Text),
		Entities:  extractEntities(seg.Text),
	}
	return seg
}

// scoreSentiment assigns a 1-5 star rating from a signed lexicon count,
// mapped onto a fixed scale rather than a continuous model output —
// intentionally coarse, matching the confidence-bucket style of the
// vehicle extractor's heuristic scoring.
func scoreSentiment(text string) *domain.Sentiment {
	words := strings.Fields(strings.ToLower(text))
	var score int
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'")
		switch {
		case positiveWords[w]:
			score++
		case negativeWords[w]:
			score--
		}
	}

	stars := 3
	switch {
	case score >= 2:
		stars = 5
	case score == 1:
		stars = 4
	case score == 0:
		stars = 3
	case score == -1:
		stars = 2
	default:
		stars = 1
	}

	return &domain.Sentiment{
		Stars: stars,
		Score: float64(score) / float64(max(len(words), 1)),
	}
}

// extractEntities scans text for MONEY/DATE/TIME mentions using regexes,
// then for PERSON/LOCATION/ORGANIZATION mentions using capitalized-run
// plus context-word heuristics. A span repeated with the same type
// (case-insensitive) is kept once; overlapping spans are not merged.
func extractEntities(text string) []domain.Entity {
	if text == "" {
		return nil
	}

	var entities []domain.Entity
	used := map[string]bool{}

	add := func(typ domain.EntityType, span string, conf float64) {
		span = strings.TrimSpace(span)
		if span == "" {
			return
		}
		key := string(typ) + "|" + strings.ToLower(span)
		if used[key] {
			return
		}
		used[key] = true
		entities = append(entities, domain.Entity{Type: typ, Text: span, Confidence: conf})
	}

	for _, m := range moneyRe.FindAllString(text, -1) {
		add(domain.EntityMoney, m, 0.9)
	}
	for _, m := range dateRe.FindAllString(text, -1) {
		add(domain.EntityDate, m, 0.85)
	}
	for _, m := range timeRe.FindAllString(text, -1) {
		add(domain.EntityTime, m, 0.85)
	}

	for _, loc := range capitalizedRunRe.FindAllStringIndex(text, -1) {
		span := text[loc[0]:loc[1]]
		typ, conf := classifyCapitalizedRun(text, span, loc[0], loc[1])
		if typ == "" {
			continue
		}
		add(typ, span, conf)
	}

	return entities
}

// classifyCapitalizedRun decides whether a capitalized word run names a
// person, organization, or location by checking for a preceding title or
// a following/preceding context word. A multi-word run that matches no
// context falls back to PERSON at 0.55; a single word is dropped.
func classifyCapitalizedRun(text, span string, start, end int) (domain.EntityType, float64) {
	before := strings.ToLower(strings.TrimSpace(lastWords(text[:start], 3)))
	after := strings.ToLower(strings.TrimSpace(firstWords(text[end:], 3)))

	for _, title := range personTitles {
		if strings.HasSuffix(before, title) || strings.HasSuffix(before, title+".") {
			return domain.EntityPerson, 0.9
		}
	}
	for _, suffix := range orgSuffixes {
		if hasWord(after, suffix) || hasWord(strings.ToLower(span), suffix) {
			return domain.EntityOrganization, 0.8
		}
	}
	for _, loc := range locationWords {
		if hasWord(after, loc) || hasWord(before, loc) {
			return domain.EntityLocation, 0.75
		}
	}

	// A multi-word capitalized run with no context word is plausibly a
	// person's full name; a single capitalized word is too ambiguous to
	// tag with any confidence and is dropped.
	if strings.Contains(span, " ") {
		return domain.EntityPerson, 0.55
	}
	return "", 0
}

func hasWord(s, word string) bool {
	for _, w := range strings.Fields(s) {
		if strings.Trim(w, ".,!?;:") == word {
			return true
		}
	}
	return false
}

func lastWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) <= n {
		return s
	}
	return strings.Join(fields[len(fields)-n:], " ")
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) <= n {
		return s
	}
	return strings.Join(fields[:n], " ")
}

