/**
 * Form Extraction Strategies
 *
 * Extraction policies for non-tabular layouts built on the anchor extractor:
 * - single form per page
 * - multiple forms per page (configured record regions)
 * - auto (anchor run, or a signal to fall back to generic table extraction)
 */

package forms

import (
	"fmt"

	"github.com/adverant/nexus/recordfusion/internal/layout"
	"github.com/adverant/nexus/recordfusion/internal/logging"
	"github.com/adverant/nexus/recordfusion/internal/vision"
)

// Mode is an extractor's extraction mode
type Mode string

const (
	ModeForm      Mode = "form"
	ModeMultiForm Mode = "multi_form"
	ModeAuto      Mode = "auto"
	ModeAutoForm  Mode = "auto_form"
)

// DefaultMinAnchors is the auto-mode threshold
const DefaultMinAnchors = 3

// RecordRegion is a record rectangle drawn in the template editor (normalized 0..1)
type RecordRegion struct {
	ID     string  `json:"id,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Label  string  `json:"label,omitempty"`
}

// Profile is a tenant's stored extractor definition
type Profile struct {
	ID            int64                `json:"id"`
	Name          string               `json:"name,omitempty"`
	RecordType    string               `json:"record_type,omitempty"`
	Mode          Mode                 `json:"extraction_mode"`
	RecordRegions []RecordRegion       `json:"record_regions,omitempty"`
	LearnedParams layout.LearnedParams `json:"learned_params"`
}

// Options for the strategies
type Options struct {
	MinTokenConfidence float64
	MinAnchors         int
}

// AutoOutcome is the auto-mode result. NotEnoughAnchors tells the caller to
// switch to generic table extraction; Result is nil in that case.
type AutoOutcome struct {
	Result           *Result `json:"result,omitempty"`
	NotEnoughAnchors bool    `json:"notEnoughAnchors"`
	AnchorsMatched   int     `json:"anchorsMatched"`
}

// Strategies runs form extraction for one resolved anchor set
type Strategies struct {
	extractor  *layout.Extractor
	fieldOrder []string
	minAnchors int
	logger     *logging.Logger
}

// NewStrategies creates strategies over an explicit anchor set
func NewStrategies(anchors layout.AnchorSet, opts Options, logger *logging.Logger) *Strategies {
	if opts.MinAnchors <= 0 {
		opts.MinAnchors = DefaultMinAnchors
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Strategies{
		extractor:  layout.NewExtractor(anchors, layout.Options{MinTokenConfidence: opts.MinTokenConfidence}),
		fieldOrder: anchors.Keys(),
		minAnchors: opts.MinAnchors,
		logger:     logger,
	}
}

// ExtractFormPage treats the whole page as one record
func (s *Strategies) ExtractFormPage(page vision.PageResult) Result {
	res := s.extractor.Extract(page, []layout.EntryArea{layout.WholePage(page.Width, page.Height)})
	return toTable(res, ModeForm, nil, s.fieldOrder)
}

// ExtractMultiFormPage extracts one record per configured region, rows in region order.
// With no regions it falls back to the single form page.
func (s *Strategies) ExtractMultiFormPage(page vision.PageResult, regions []RecordRegion) Result {
	if len(regions) == 0 {
		s.logger.Warn("multi_form extractor has no record regions, falling back to full page")
		return s.ExtractFormPage(page)
	}

	areas := EntryAreas(regions, page.Width, page.Height)
	ids := make([]string, len(areas))
	for i, a := range areas {
		ids[i] = a.EntryID
	}

	res := s.extractor.Extract(page, areas)
	return toTable(res, ModeMultiForm, ids, s.fieldOrder)
}

// ExtractAutoMode runs the anchors against the whole page and accepts the
// result only when enough distinct anchors matched
func (s *Strategies) ExtractAutoMode(page vision.PageResult) AutoOutcome {
	res := s.extractor.Extract(page, []layout.EntryArea{layout.WholePage(page.Width, page.Height)})
	matched := res.DistinctAnchors()

	if matched < s.minAnchors {
		s.logger.Info("auto mode: not enough anchors, generic table fallback",
			"anchors", matched,
			"required", s.minAnchors,
		)
		return AutoOutcome{NotEnoughAnchors: true, AnchorsMatched: matched}
	}

	s.logger.Info("auto mode: using form extraction", "anchors", matched)
	out := toTable(res, ModeAutoForm, nil, s.fieldOrder)
	return AutoOutcome{Result: &out, AnchorsMatched: matched}
}

// Run dispatches on the profile's extraction mode
func (s *Strategies) Run(page vision.PageResult, profile Profile) (AutoOutcome, error) {
	switch profile.Mode {
	case ModeForm, "":
		out := s.ExtractFormPage(page)
		return AutoOutcome{Result: &out, AnchorsMatched: anchorCount(out)}, nil
	case ModeMultiForm:
		out := s.ExtractMultiFormPage(page, profile.RecordRegions)
		return AutoOutcome{Result: &out, AnchorsMatched: anchorCount(out)}, nil
	case ModeAuto:
		return s.ExtractAutoMode(page), nil
	default:
		return AutoOutcome{}, fmt.Errorf("unknown extraction mode %q", profile.Mode)
	}
}

// EntryAreas converts normalized regions to pixel entry areas
func EntryAreas(regions []RecordRegion, width, height int) []layout.EntryArea {
	w, h := float64(width), float64(height)
	areas := make([]layout.EntryArea, len(regions))
	for i, r := range regions {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("entry_%d", i)
		}
		areas[i] = layout.EntryArea{
			EntryID: id,
			BBox:    layout.Rect{X: r.X * w, Y: r.Y * h, W: r.Width * w, H: r.Height * h},
		}
	}
	return areas
}

func anchorCount(r Result) int {
	if r.LayoutResult == nil {
		return 0
	}
	return r.LayoutResult.DistinctAnchors()
}
