package layout

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/adverant/nexus/recordfusion/internal/vision"
)

// FoldPhrase normalizes label text for comparison: NFKC (so "№" reads as "No"),
// upper case, punctuation removed, whitespace collapsed
func FoldPhrase(s string) string {
	s = strings.ToUpper(norm.NFKC.String(s))
	var sb strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if space && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return sb.String()
}

// anchorMatch is a phrase found on a line
type anchorMatch struct {
	phrase string
	tokens []int // indexes into the entry token slice
	box    vision.Box
}

// indexedLine keeps token positions so matches can be excluded from zones
type indexedLine struct {
	indexes []int
	folded  []string
}

// findPhrase returns the first occurrence of phrase, scanning lines top to bottom
// and tokens left to right. Windows of one or more tokens are compared both
// space-joined and concatenated so split or merged labels still match.
func findPhrase(lines []indexedLine, tokens []vision.Token, phrase string) (anchorMatch, bool) {
	target := FoldPhrase(phrase)
	if target == "" {
		return anchorMatch{}, false
	}
	words := strings.Fields(target)
	targetJoined := strings.Join(words, "")

	for _, line := range lines {
		for start := range line.folded {
			if line.folded[start] == "" {
				continue
			}
			for size := 1; size <= len(words) && start+size <= len(line.folded); size++ {
				window := line.folded[start : start+size]
				spaced := strings.Join(window, " ")
				if spaced != target && strings.ReplaceAll(spaced, " ", "") != targetJoined {
					continue
				}
				idx := line.indexes[start : start+size]
				boxes := make([]vision.Box, len(idx))
				for i, ti := range idx {
					boxes[i] = tokens[ti].BBoxPixel
				}
				return anchorMatch{
					phrase: phrase,
					tokens: append([]int(nil), idx...),
					box:    vision.Union(boxes...),
				}, true
			}
		}
	}
	return anchorMatch{}, false
}

// clusterLines groups entry tokens into reading-order lines by vertical centre,
// tolerance 0.8 x median token height
func clusterLines(tokens []vision.Token) []indexedLine {
	if len(tokens) == 0 {
		return nil
	}

	order := make([]int, len(tokens))
	for i := range order {
		order[i] = i
	}
	sortStable(order, func(a, b int) bool {
		return tokens[a].BBoxPixel.CenterY() < tokens[b].BBoxPixel.CenterY()
	})

	heights := make([]float64, 0, len(tokens))
	for _, t := range tokens {
		if h := t.BBoxPixel.Height(); h > 0 {
			heights = append(heights, h)
		}
	}
	tolerance := medianOf(heights) * 0.8

	var groups [][]int
	current := []int{order[0]}
	anchorY := tokens[order[0]].BBoxPixel.CenterY()
	for _, ti := range order[1:] {
		y := tokens[ti].BBoxPixel.CenterY()
		if abs(y-anchorY) <= tolerance {
			current = append(current, ti)
			continue
		}
		groups = append(groups, current)
		current = []int{ti}
		anchorY = y
	}
	groups = append(groups, current)

	lines := make([]indexedLine, len(groups))
	for gi, group := range groups {
		sortStable(group, func(a, b int) bool {
			return tokens[a].BBoxPixel.X0 < tokens[b].BBoxPixel.X0
		})
		folded := make([]string, len(group))
		for i, ti := range group {
			folded[i] = FoldPhrase(tokens[ti].Text)
		}
		lines[gi] = indexedLine{indexes: group, folded: folded}
	}
	return lines
}
