package layout

import (
	"sort"
	"strings"
)

// LearnedAdjustment is accumulated from reviewer corrections for one field
type LearnedAdjustment struct {
	AddPhrases       []string `json:"add_phrases,omitempty"`
	ZoneExtendHeight float64  `json:"zone_extend_height,omitempty"`
	ZoneExtendWidth  float64  `json:"zone_extend_width,omitempty"`
}

// LearnedParams is the learned_params document stored on an extractor
type LearnedParams struct {
	AnchorAdjustments map[string]LearnedAdjustment `json:"anchor_adjustments,omitempty"`
}

// Resolve layers anchors: record-type defaults, then tenant overrides replacing
// whole fields by key, then learned adjustments. Learned layers only touch fields
// that already exist; they append phrases and grow extents, capped at maxExtent.
//
// The learned layer is always applied to the default+tenant base, never to a
// previous result, so resolving the same inputs twice gives the same set and
// the order of learned layers does not matter.
func Resolve(defaults, tenant AnchorSet, maxExtent float64, learned ...LearnedParams) AnchorSet {
	out := defaults.clone()
	index := make(map[string]int, len(out))
	for i, f := range out {
		index[f.Key] = i
	}

	for _, f := range tenant {
		cfg := f.AnchorConfig.clone()
		if i, ok := index[f.Key]; ok {
			out[i].AnchorConfig = cfg
			continue
		}
		index[f.Key] = len(out)
		out = append(out, FieldAnchor{Key: f.Key, AnchorConfig: cfg})
	}

	for i := range out {
		key := out[i].Key
		var added []string
		growW, growH := 0.0, 0.0
		for _, layer := range learned {
			adj, ok := layer.AnchorAdjustments[key]
			if !ok {
				continue
			}
			added = append(added, adj.AddPhrases...)
			if adj.ZoneExtendWidth > 0 {
				growW += adj.ZoneExtendWidth
			}
			if adj.ZoneExtendHeight > 0 {
				growH += adj.ZoneExtendHeight
			}
		}
		out[i].Phrases = appendPhrases(out[i].Phrases, added)
		out[i].ZoneExtent.Width = growExtent(out[i].ZoneExtent.Width, growW, maxExtent)
		out[i].ZoneExtent.Height = growExtent(out[i].ZoneExtent.Height, growH, maxExtent)
	}

	return out
}

// appendPhrases adds new phrases after the configured ones, de-duplicated
// case-insensitively and sorted so the result does not depend on input order
func appendPhrases(existing, added []string) []string {
	if len(added) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing)+len(added))
	for _, p := range existing {
		seen[FoldPhrase(p)] = true
	}

	candidates := make([]string, 0, len(added))
	for _, p := range added {
		if p = strings.TrimSpace(p); p != "" {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		fi, fj := FoldPhrase(candidates[i]), FoldPhrase(candidates[j])
		if fi != fj {
			return fi < fj
		}
		return candidates[i] < candidates[j]
	})

	out := append([]string(nil), existing...)
	for _, p := range candidates {
		folded := FoldPhrase(p)
		if folded == "" || seen[folded] {
			continue
		}
		seen[folded] = true
		out = append(out, p)
	}
	return out
}

// growExtent never shrinks a configured extent
func growExtent(base, grow, maxExtent float64) float64 {
	if grow <= 0 {
		return base
	}
	grown := base + grow
	if maxExtent > 0 && grown > maxExtent {
		grown = maxExtent
	}
	if grown < base {
		return base
	}
	return grown
}
