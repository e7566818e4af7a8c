package vision

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

// Adapt converts one provider page into tokens (one per word) and lines (one per paragraph).
// Missing page data yields an empty result; it never fails.
func Adapt(resp *Response, pageIndex int) PageResult {
	empty := PageResult{Tokens: []Token{}, Lines: []Line{}}
	if resp == nil || resp.FullTextAnnotation == nil {
		return empty
	}
	pages := resp.FullTextAnnotation.Pages
	if pageIndex < 0 || pageIndex >= len(pages) {
		return empty
	}

	page := pages[pageIndex]
	empty.Width, empty.Height = page.Width, page.Height
	if page.Width <= 0 || page.Height <= 0 {
		empty.Degenerate = true
		return empty
	}

	result := empty
	wordIndex := 0
	for _, block := range page.Blocks {
		for _, para := range block.Paragraphs {
			lineTokens := make([]Token, 0, len(para.Words))
			for _, word := range para.Words {
				text := wordText(word)
				if text == "" {
					continue
				}
				pixel := wordBox(word)
				token := Token{
					Text:           text,
					Confidence:     wordConfidence(word, para, block),
					PageIndex:      pageIndex,
					BBoxPixel:      pixel,
					BBoxNormalized: Normalize(pixel, page.Width, page.Height),
					ScriptHint:     DetectScript(text),
				}
				token.ID = tokenID(token, wordIndex)
				wordIndex++
				lineTokens = append(lineTokens, token)
			}
			if len(lineTokens) == 0 {
				continue
			}
			result.Tokens = append(result.Tokens, lineTokens...)
			result.Lines = append(result.Lines, NewLine(lineTokens))
		}
	}

	return result
}

// NewLine builds a line from tokens kept in the given order
func NewLine(tokens []Token) Line {
	texts := make([]string, 0, len(tokens))
	boxes := make([]Box, 0, len(tokens))
	sum := 0.0
	for _, t := range tokens {
		texts = append(texts, t.Text)
		boxes = append(boxes, t.BBoxNormalized)
		sum += t.Confidence
	}
	line := Line{
		Text:           strings.Join(texts, " "),
		Tokens:         tokens,
		BBoxNormalized: Union(boxes...),
	}
	if len(tokens) > 0 {
		line.Confidence = sum / float64(len(tokens))
	}
	return line
}

// DetectScript classifies text: any Cyrillic wins over Latin, otherwise unknown
func DetectScript(text string) Script {
	hasLatin := false
	for _, r := range text {
		if r >= 0x0400 && r <= 0x04FF {
			return ScriptCyrillic
		}
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			hasLatin = true
		}
	}
	if hasLatin {
		return ScriptLatin
	}
	return ScriptUnknown
}

func wordText(word Word) string {
	var sb strings.Builder
	for _, sym := range word.Symbols {
		sb.WriteString(sym.Text)
		if sym.Property != nil && sym.Property.DetectedBreak != nil {
			switch sym.Property.DetectedBreak.Type {
			case BreakSpace, BreakSureSpace:
				sb.WriteByte(' ')
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func wordBox(word Word) Box {
	if word.BoundingBox != nil {
		return BoxFromVertices(word.BoundingBox.Vertices)
	}
	return Box{}
}

// wordConfidence falls back word -> mean symbol -> paragraph -> block -> 1.0
func wordConfidence(word Word, para Paragraph, block Block) float64 {
	if word.Confidence != nil {
		return clamp01(*word.Confidence)
	}
	sum, n := 0.0, 0
	for _, sym := range word.Symbols {
		if sym.Confidence != nil {
			sum += *sym.Confidence
			n++
		}
	}
	if n > 0 {
		return clamp01(sum / float64(n))
	}
	if para.Confidence != nil {
		return clamp01(*para.Confidence)
	}
	if block.Confidence != nil {
		return clamp01(*block.Confidence)
	}
	return 1.0
}

// tokenID is stable across rescans of the same page: rounded geometry plus folded text
func tokenID(t Token, index int) string {
	folded := strings.Join(strings.FieldsFunc(strings.ToLower(t.Text), unicode.IsSpace), " ")
	if r := []rune(folded); len(r) > 20 {
		folded = string(r[:20])
	}
	return fmt.Sprintf("token_p%d_%d_%d_%d_%d_%s_%d",
		t.PageIndex,
		int(math.Round(t.BBoxPixel.X0)),
		int(math.Round(t.BBoxPixel.Y0)),
		int(math.Round(t.BBoxPixel.Width())),
		int(math.Round(t.BBoxPixel.Height())),
		folded,
		index,
	)
}
