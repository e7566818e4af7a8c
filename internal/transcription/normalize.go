/**
 * Transcription Normalizer
 *
 * Turns adapter tokens/lines into readable text: token cleanup, line
 * reconstruction from geometry, hyphen joins and paragraph breaks.
 * Pure function of its input and threshold.
 */

package transcription

import (
	"sort"
	"strings"

	"github.com/adverant/nexus/recordfusion/internal/vision"
)

// DefaultConfidenceThreshold applies when Settings leaves it unset
const DefaultConfidenceThreshold = 0.35

const (
	lineGroupFactor     = 0.8
	paragraphGapFactor  = 1.2
	fallbackTokenHeight = 0.02
	lowConfidenceMean   = 0.5
	headerMaxLength     = 40
)

// WarningLowConfidence is reported when mean line confidence is below 0.5
const WarningLowConfidence = "low_confidence_overall"

// Settings tunes normalization
type Settings struct {
	ConfidenceThreshold *float64 `json:"confidenceThreshold,omitempty"`
}

func (s Settings) threshold() float64 {
	if s.ConfidenceThreshold == nil {
		return DefaultConfidenceThreshold
	}
	return *s.ConfidenceThreshold
}

// Input carries tokens and/or provider lines
type Input struct {
	Tokens []vision.Token `json:"tokens,omitempty"`
	Lines  []vision.Line  `json:"lines,omitempty"`
}

// Diagnostics summarize what normalization did
type Diagnostics struct {
	DroppedTokenCount int      `json:"droppedTokenCount"`
	LineCount         int      `json:"lineCount"`
	ParagraphCount    int      `json:"paragraphCount"`
	ScriptsPresent    []string `json:"scriptsPresent"`
	Warnings          []string `json:"warnings"`
}

// Result is the normalized transcription
type Result struct {
	Text        string      `json:"text"`
	Paragraphs  []string    `json:"paragraphs"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Normalize runs cleanup, line acquisition, hyphen join and paragraph reconstruction
func Normalize(input Input, settings Settings) Result {
	threshold := settings.threshold()
	diag := Diagnostics{ScriptsPresent: []string{}, Warnings: []string{}}

	// Step 1: token cleanup
	cleaned := make([]vision.Token, 0, len(input.Tokens))
	for _, tok := range input.Tokens {
		if ShouldDrop(tok.Text, tok.Confidence, threshold) {
			diag.DroppedTokenCount++
			continue
		}
		tok.Text = collapseSpace(tok.Text)
		cleaned = append(cleaned, tok)
	}

	// Step 2: supplied lines win over reconstruction
	var lines []vision.Line
	if len(input.Lines) > 0 {
		countDrops := len(input.Tokens) == 0
		for _, line := range input.Lines {
			refiltered, dropped := refilterLine(line, threshold)
			if countDrops {
				diag.DroppedTokenCount += dropped
			}
			lines = append(lines, refiltered)
		}
	} else {
		lines = ReconstructLines(cleaned)
	}
	lines = nonEmpty(lines)
	diag.LineCount = len(lines)

	// Step 3: hyphenated breaks
	lines = JoinHyphenated(lines)

	// Step 4: paragraphs
	paragraphs := ReconstructParagraphs(lines)
	diag.ParagraphCount = len(paragraphs)

	seen := map[vision.Script]bool{}
	for _, line := range lines {
		script := vision.DetectScript(line.Text)
		if script == vision.ScriptUnknown || seen[script] {
			continue
		}
		seen[script] = true
		diag.ScriptsPresent = append(diag.ScriptsPresent, string(script))
	}

	// Step 5: assembly
	texts := make([]string, len(paragraphs))
	for i, para := range paragraphs {
		texts[i] = strings.Join(para, " ")
	}

	mean := 0.0
	if len(lines) > 0 {
		for _, line := range lines {
			mean += line.Confidence
		}
		mean /= float64(len(lines))
	}
	if mean < lowConfidenceMean {
		diag.Warnings = append(diag.Warnings, WarningLowConfidence)
	}

	return Result{
		Text:        strings.Join(texts, "\n\n"),
		Paragraphs:  texts,
		Diagnostics: diag,
	}
}

// ReconstructLines groups tokens by vertical centre within 0.8 x median token height,
// then orders each line left to right
func ReconstructLines(tokens []vision.Token) []vision.Line {
	if len(tokens) == 0 {
		return nil
	}

	sorted := make([]vision.Token, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BBoxNormalized.CenterY() < sorted[j].BBoxNormalized.CenterY()
	})

	heights := make([]float64, 0, len(sorted))
	for _, t := range sorted {
		if h := t.BBoxNormalized.Height(); h > 0 {
			heights = append(heights, h)
		}
	}
	tolerance := median(heights, fallbackTokenHeight) * lineGroupFactor

	var groups [][]vision.Token
	current := []vision.Token{sorted[0]}
	anchorY := sorted[0].BBoxNormalized.CenterY()
	for _, t := range sorted[1:] {
		y := t.BBoxNormalized.CenterY()
		if abs(y-anchorY) <= tolerance {
			current = append(current, t)
			continue
		}
		groups = append(groups, current)
		current = []vision.Token{t}
		anchorY = y
	}
	groups = append(groups, current)

	lines := make([]vision.Line, 0, len(groups))
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].BBoxNormalized.X0 < group[j].BBoxNormalized.X0
		})
		lines = append(lines, vision.NewLine(group))
	}
	return lines
}

// JoinHyphenated merges a line ending in "-" with a following line that starts with a letter.
// A merged line keeps absorbing while it still ends in "-", so a second pass changes nothing.
func JoinHyphenated(lines []vision.Line) []vision.Line {
	if len(lines) <= 1 {
		return lines
	}

	joined := make([]vision.Line, 0, len(lines))
	i := 0
	for i < len(lines) {
		current := lines[i]
		i++
		for i < len(lines) && canJoin(current, lines[i]) {
			current = mergeHyphenated(current, lines[i])
			i++
		}
		joined = append(joined, current)
	}
	return joined
}

func canJoin(current, next vision.Line) bool {
	text := strings.TrimSpace(current.Text)
	if !strings.HasSuffix(text, "-") {
		return false
	}
	nextText := []rune(strings.TrimSpace(next.Text))
	return len(nextText) > 0 && isJoinLetter(nextText[0])
}

func mergeHyphenated(current, next vision.Line) vision.Line {
	text := strings.TrimSuffix(strings.TrimSpace(current.Text), "-") + strings.TrimSpace(next.Text)
	tokens := make([]vision.Token, 0, len(current.Tokens)+len(next.Tokens))
	tokens = append(tokens, current.Tokens...)
	tokens = append(tokens, next.Tokens...)

	box := current.BBoxNormalized
	if !next.BBoxNormalized.IsZero() {
		if box.IsZero() {
			box = next.BBoxNormalized
		} else {
			box = vision.Union(box, next.BBoxNormalized)
		}
	}

	return vision.Line{
		Text:           text,
		Tokens:         tokens,
		BBoxNormalized: box,
		Confidence:     min(current.Confidence, next.Confidence),
	}
}

// ReconstructParagraphs breaks on vertical gaps above 1.2 x median line height
// and on script changes at header-like lines
func ReconstructParagraphs(lines []vision.Line) [][]string {
	if len(lines) == 0 {
		return nil
	}

	heights := make([]float64, 0, len(lines))
	for _, line := range lines {
		heights = append(heights, meanTokenHeight(line))
	}
	gapThreshold := median(heights, fallbackTokenHeight) * paragraphGapFactor

	var paragraphs [][]string
	var current []string
	prevBottom := 0.0
	if len(lines[0].Tokens) > 0 {
		prevBottom = lines[0].Tokens[0].BBoxNormalized.Y1
	}

	for _, line := range lines {
		text := strings.TrimSpace(line.Text)
		if text == "" {
			continue
		}

		lineBottom := prevBottom
		if len(line.Tokens) > 0 {
			lineBottom = line.Tokens[0].BBoxNormalized.Y1
		}
		gap := lineBottom - prevBottom

		script := vision.DetectScript(text)
		prevScript := vision.ScriptUnknown
		if len(current) > 0 {
			prevScript = vision.DetectScript(current[len(current)-1])
		}
		scriptChanged := script != vision.ScriptUnknown &&
			prevScript != vision.ScriptUnknown &&
			script != prevScript

		if len(current) > 0 && (gap > gapThreshold || (scriptChanged && LooksLikeHeader(text))) {
			paragraphs = append(paragraphs, current)
			current = nil
		}
		current = append(current, text)

		if n := len(line.Tokens); n > 0 {
			prevBottom = line.Tokens[n-1].BBoxNormalized.Y1
		} else {
			prevBottom = lineBottom
		}
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, current)
	}
	return paragraphs
}

func refilterLine(line vision.Line, threshold float64) (vision.Line, int) {
	if len(line.Tokens) == 0 {
		line.Text = collapseSpace(line.Text)
		return line, 0
	}

	kept := make([]vision.Token, 0, len(line.Tokens))
	texts := make([]string, 0, len(line.Tokens))
	dropped := 0
	for _, tok := range line.Tokens {
		if ShouldDrop(tok.Text, tok.Confidence, threshold) {
			dropped++
			continue
		}
		tok.Text = collapseSpace(tok.Text)
		kept = append(kept, tok)
		texts = append(texts, tok.Text)
	}
	line.Tokens = kept
	line.Text = strings.Join(texts, " ")
	return line, dropped
}

func nonEmpty(lines []vision.Line) []vision.Line {
	out := make([]vision.Line, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line.Text) != "" {
			out = append(out, line)
		}
	}
	return out
}

func meanTokenHeight(line vision.Line) float64 {
	sum, n := 0.0, 0
	for _, t := range line.Tokens {
		if h := t.BBoxNormalized.Height(); h > 0 {
			sum += h
			n++
		}
	}
	if n == 0 {
		return fallbackTokenHeight
	}
	return sum / float64(n)
}

// median picks the upper middle element; fallback for an empty set
func median(values []float64, fallback float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
