/**
 * Anchor/Layout Extractor
 *
 * For every entry area and configured field: find the field's label phrase,
 * derive a search zone from it and read the value tokens inside the zone.
 */

package layout

import (
	"math"
	"sort"
	"strings"

	"github.com/adverant/nexus/recordfusion/internal/vision"
)

// DefaultEntryID names the whole-page entry area
const DefaultEntryID = "entry_0"

// Rect is an x/y/width/height rectangle
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Box converts to corner form
func (r Rect) Box() vision.Box {
	return vision.Box{X0: r.X, Y0: r.Y, X1: r.X + r.W, Y1: r.Y + r.H}
}

// EntryArea is one record instance on a page, in pixels
type EntryArea struct {
	EntryID string `json:"entryId"`
	BBox    Rect   `json:"bbox"`
}

// WholePage returns the single entry area covering a page
func WholePage(width, height int) EntryArea {
	return EntryArea{EntryID: DefaultEntryID, BBox: Rect{W: float64(width), H: float64(height)}}
}

// MatchedAnchor records which phrase located a field in an entry
type MatchedAnchor struct {
	EntryID  string     `json:"entryId"`
	FieldKey string     `json:"fieldKey"`
	Phrase   string     `json:"phrase"`
	BBox     vision.Box `json:"bbox"`
}

// FieldExtraction is the value found for one (entry, field) pair
type FieldExtraction struct {
	FieldKey            string     `json:"fieldKey"`
	EntryID             string     `json:"entryId"`
	ExtractedText       string     `json:"extractedText"`
	AvgConfidence       float64    `json:"avgConfidence"`
	BBoxUnionNormalized vision.Box `json:"bboxUnionNormalized"`
	MatchedAnchorPhrase string     `json:"matchedAnchorPhrase"`
	TokensUsed          int        `json:"tokensUsed"`
	SearchZone          vision.Box `json:"searchZone"`
}

// Result maps "entryId_fieldKey" to extractions
type Result struct {
	Anchors []MatchedAnchor            `json:"anchors"`
	Fields  map[string]FieldExtraction `json:"fields"`
}

// FieldID is the composite key used in Result.Fields
func FieldID(entryID, fieldKey string) string {
	return entryID + "_" + fieldKey
}

// DistinctAnchors counts matched (entry, field) pairs
func (r Result) DistinctAnchors() int {
	seen := make(map[string]bool, len(r.Anchors))
	for _, a := range r.Anchors {
		seen[FieldID(a.EntryID, a.FieldKey)] = true
	}
	return len(seen)
}

// Options tunes extraction
type Options struct {
	// MinTokenConfidence excludes weaker tokens from field values (anchors are unaffected)
	MinTokenConfidence float64
}

// Extractor runs one resolved anchor set; it holds no other state
type Extractor struct {
	anchors AnchorSet
	opts    Options
}

// NewExtractor creates an extractor for an explicit anchor set
func NewExtractor(anchors AnchorSet, opts Options) *Extractor {
	return &Extractor{anchors: anchors.clone(), opts: opts}
}

// Extract runs every configured field against every entry area.
// With no areas the whole page is one entry.
func (e *Extractor) Extract(page vision.PageResult, areas []EntryArea) Result {
	result := Result{Anchors: []MatchedAnchor{}, Fields: map[string]FieldExtraction{}}
	if page.Width <= 0 || page.Height <= 0 || len(page.Tokens) == 0 {
		return result
	}
	if len(areas) == 0 {
		areas = []EntryArea{WholePage(page.Width, page.Height)}
	}

	for _, area := range areas {
		e.extractEntry(page, area, &result)
	}
	return result
}

func (e *Extractor) extractEntry(page vision.PageResult, area EntryArea, result *Result) {
	entryBox := area.BBox.Box()
	if entryBox.Width() <= 0 || entryBox.Height() <= 0 {
		return
	}

	var tokens []vision.Token
	for _, t := range page.Tokens {
		if t.BBoxPixel.Intersects(entryBox) {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		return
	}
	lines := clusterLines(tokens)

	for _, field := range e.anchors {
		match, ok := firstMatch(lines, tokens, field.Phrases)
		if !ok {
			continue
		}
		result.Anchors = append(result.Anchors, MatchedAnchor{
			EntryID:  area.EntryID,
			FieldKey: field.Key,
			Phrase:   match.phrase,
			BBox:     vision.Normalize(match.box, page.Width, page.Height),
		})

		zone := SearchZone(match.box, entryBox, field.AnchorConfig)
		value := e.collect(tokens, zone, match.tokens)
		if len(value) == 0 {
			continue
		}

		boxes := make([]vision.Box, len(value))
		sum := 0.0
		for i, t := range value {
			boxes[i] = t.BBoxNormalized
			sum += t.Confidence
		}
		result.Fields[FieldID(area.EntryID, field.Key)] = FieldExtraction{
			FieldKey:            field.Key,
			EntryID:             area.EntryID,
			ExtractedText:       readingOrderText(value),
			AvgConfidence:       sum / float64(len(value)),
			BBoxUnionNormalized: vision.Union(boxes...),
			MatchedAnchorPhrase: match.phrase,
			TokensUsed:          len(value),
			SearchZone:          vision.Normalize(zone, page.Width, page.Height),
		}
	}
}

// firstMatch tries phrases in configured order; the first phrase found anywhere wins
func firstMatch(lines []indexedLine, tokens []vision.Token, phrases []string) (anchorMatch, bool) {
	for _, phrase := range phrases {
		if m, ok := findPhrase(lines, tokens, phrase); ok {
			return m, true
		}
	}
	return anchorMatch{}, false
}

// SearchZone extends from the anchor box in the configured direction by the
// extent, insets by the padding (both fractions of the entry area) and clips
// to the entry area. All boxes are in pixels.
func SearchZone(anchor, entry vision.Box, cfg AnchorConfig) vision.Box {
	ew, eh := entry.Width(), entry.Height()
	w := cfg.ZoneExtent.Width * ew
	h := cfg.ZoneExtent.Height * eh

	var zone vision.Box
	switch cfg.Direction {
	case DirectionAbove:
		zone = vision.Box{X0: anchor.X0, Y0: anchor.Y0 - h, X1: anchor.X0 + w, Y1: anchor.Y0}
	case DirectionLeft:
		half := math.Max(anchor.Height(), h) / 2
		zone = vision.Box{X0: anchor.X0 - w, Y0: anchor.CenterY() - half, X1: anchor.X0, Y1: anchor.CenterY() + half}
	case DirectionRight:
		half := math.Max(anchor.Height(), h) / 2
		zone = vision.Box{X0: anchor.X1, Y0: anchor.CenterY() - half, X1: anchor.X1 + w, Y1: anchor.CenterY() + half}
	default:
		zone = vision.Box{X0: anchor.X0, Y0: anchor.Y1, X1: anchor.X0 + w, Y1: anchor.Y1 + h}
	}

	zone.X0 += cfg.ZonePadding.Left * ew
	zone.X1 -= cfg.ZonePadding.Right * ew
	zone.Y0 += cfg.ZonePadding.Top * eh
	zone.Y1 -= cfg.ZonePadding.Bottom * eh

	return zone.Clip(entry)
}

func (e *Extractor) collect(tokens []vision.Token, zone vision.Box, exclude []int) []vision.Token {
	if zone.Width() <= 0 || zone.Height() <= 0 {
		return nil
	}
	skip := make(map[int]bool, len(exclude))
	for _, i := range exclude {
		skip[i] = true
	}

	var out []vision.Token
	for i, t := range tokens {
		if skip[i] || t.Confidence < e.opts.MinTokenConfidence {
			continue
		}
		if zone.ContainsPoint(t.BBoxPixel.CenterX(), t.BBoxPixel.CenterY()) {
			out = append(out, t)
		}
	}
	return out
}

// readingOrderText joins tokens top to bottom then left to right;
// words on a line are space separated, lines newline separated
func readingOrderText(tokens []vision.Token) string {
	lines := clusterLines(tokens)
	texts := make([]string, 0, len(lines))
	for _, line := range lines {
		words := make([]string, 0, len(line.indexes))
		for _, i := range line.indexes {
			if w := strings.TrimSpace(tokens[i].Text); w != "" {
				words = append(words, w)
			}
		}
		if len(words) > 0 {
			texts = append(texts, strings.Join(words, " "))
		}
	}
	return strings.Join(texts, "\n")
}

func sortStable(idx []int, less func(a, b int) bool) {
	sort.SliceStable(idx, func(i, j int) bool { return less(idx[i], idx[j]) })
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
