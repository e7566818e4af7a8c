package layout

import (
	"reflect"
	"testing"

	"github.com/adverant/nexus/recordfusion/internal/vision"
)

const pageSize = 1000

// ptok places a token in pixel space on a 1000x1000 page
func ptok(text string, x0, y0, x1, y1 float64) vision.Token {
	px := vision.Box{X0: x0, Y0: y0, X1: x1, Y1: y1}
	return vision.Token{
		Text:           text,
		Confidence:     0.9,
		BBoxPixel:      px,
		BBoxNormalized: vision.Normalize(px, pageSize, pageSize),
		ScriptHint:     vision.DetectScript(text),
	}
}

func page(tokens ...vision.Token) vision.PageResult {
	return vision.PageResult{Tokens: tokens, Width: pageSize, Height: pageSize}
}

func field(key string, dir Direction, w, h float64, phrases ...string) FieldAnchor {
	return FieldAnchor{Key: key, AnchorConfig: AnchorConfig{
		Phrases:    phrases,
		Direction:  dir,
		ZoneExtent: ZoneExtent{Width: w, Height: h},
	}}
}

func TestExtractValueBelowAnchor(t *testing.T) {
	ex := NewExtractor(AnchorSet{field("officiant", DirectionBelow, 0.3, 0.1, "OFFICIANT")}, Options{})

	got := ex.Extract(page(
		ptok("OFFICIANT", 100, 100, 300, 130),
		ptok("Michael", 170, 140, 290, 165),
		ptok("Rev.", 100, 140, 160, 165),
		ptok("Chicago", 600, 140, 700, 165),
	), nil)

	fe, ok := got.Fields[FieldID(DefaultEntryID, "officiant")]
	if !ok {
		t.Fatalf("expected officiant extraction, got %+v", got.Fields)
	}
	if fe.ExtractedText != "Rev. Michael" {
		t.Errorf("extractedText = %q, want %q", fe.ExtractedText, "Rev. Michael")
	}
	if fe.MatchedAnchorPhrase != "OFFICIANT" {
		t.Errorf("matched phrase = %q", fe.MatchedAnchorPhrase)
	}
	if fe.TokensUsed != 2 {
		t.Errorf("tokens used = %d, want 2", fe.TokensUsed)
	}
	wantBox := vision.Box{X0: 0.1, Y0: 0.14, X1: 0.29, Y1: 0.165}
	if fe.BBoxUnionNormalized != wantBox {
		t.Errorf("union = %+v, want %+v", fe.BBoxUnionNormalized, wantBox)
	}
	if len(got.Anchors) != 1 || got.Anchors[0].FieldKey != "officiant" {
		t.Errorf("anchors = %+v", got.Anchors)
	}
}

func TestExtractTieBreakFollowsConfiguredOrder(t *testing.T) {
	ex := NewExtractor(AnchorSet{field("performed_by", DirectionRight, 0.3, 0.05, "PRIEST", "PERFORMED BY")}, Options{})

	got := ex.Extract(page(
		ptok("PERFORMED", 100, 100, 220, 130),
		ptok("BY", 225, 100, 260, 130),
		ptok("Deacon", 280, 100, 380, 130),
		ptok("PRIEST", 100, 500, 200, 530),
		ptok("Fr.", 220, 500, 260, 530),
		ptok("George", 265, 500, 360, 530),
	), nil)

	fe := got.Fields[FieldID(DefaultEntryID, "performed_by")]
	if fe.MatchedAnchorPhrase != "PRIEST" {
		t.Fatalf("matched %q, want PRIEST", fe.MatchedAnchorPhrase)
	}
	if fe.ExtractedText != "Fr. George" {
		t.Errorf("extractedText = %q", fe.ExtractedText)
	}
}

func TestExtractPhraseVariants(t *testing.T) {
	testCases := []struct {
		name   string
		tokens []vision.Token
	}{
		{"split words", []vision.Token{
			ptok("Date", 100, 100, 160, 130), ptok("of", 165, 100, 190, 130), ptok("Baptism:", 195, 100, 300, 130),
		}},
		{"merged words", []vision.Token{
			ptok("DATEOF", 100, 100, 190, 130), ptok("BAPTISM", 195, 100, 300, 130),
		}},
		{"one token with spaces", []vision.Token{
			ptok("DATE OF BAPTISM", 100, 100, 300, 130),
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ex := NewExtractor(AnchorSet{field("date_of_baptism", DirectionBelow, 0.3, 0.1, "DATE OF BAPTISM")}, Options{})
			tokens := append(tc.tokens, ptok("1921-03-04", 100, 140, 250, 165))
			got := ex.Extract(page(tokens...), nil)
			if fe := got.Fields[FieldID(DefaultEntryID, "date_of_baptism")]; fe.ExtractedText != "1921-03-04" {
				t.Errorf("extractedText = %q", fe.ExtractedText)
			}
		})
	}
}

func TestExtractAbsentField(t *testing.T) {
	ex := NewExtractor(AnchorSet{
		field("officiant", DirectionBelow, 0.3, 0.1, "OFFICIANT"),
		field("witnesses", DirectionBelow, 0.3, 0.1, "WITNESSES"),
	}, Options{})

	got := ex.Extract(page(
		ptok("OFFICIANT", 100, 100, 300, 130),
		ptok("WITNESSES", 100, 800, 300, 830),
		ptok("Rev.", 100, 140, 160, 165),
	), nil)

	if _, ok := got.Fields[FieldID(DefaultEntryID, "witnesses")]; ok {
		t.Error("empty zone should not produce an extraction")
	}
	if got.DistinctAnchors() != 2 {
		t.Errorf("distinct anchors = %d, want 2", got.DistinctAnchors())
	}
}

func TestExtractPerEntryArea(t *testing.T) {
	ex := NewExtractor(AnchorSet{field("child_name", DirectionBelow, 0.6, 0.1, "NAME OF CHILD")}, Options{})
	areas := []EntryArea{
		{EntryID: "a", BBox: Rect{X: 0, Y: 0, W: 500, H: 1000}},
		{EntryID: "b", BBox: Rect{X: 500, Y: 0, W: 500, H: 1000}},
	}

	got := ex.Extract(page(
		ptok("NAME", 550, 100, 620, 130), ptok("OF", 625, 100, 650, 130), ptok("CHILD", 655, 100, 750, 130),
		ptok("Maria", 550, 140, 640, 165),
		ptok("NAME", 50, 100, 120, 130), ptok("OF", 125, 100, 150, 130), ptok("CHILD", 155, 100, 250, 130),
		ptok("John", 50, 140, 120, 165),
	), areas)

	want := map[string]string{"a_child_name": "John", "b_child_name": "Maria"}
	for key, text := range want {
		if got.Fields[key].ExtractedText != text {
			t.Errorf("%s = %q, want %q", key, got.Fields[key].ExtractedText, text)
		}
	}
	if len(got.Fields) != 2 {
		t.Errorf("fields = %d, want 2", len(got.Fields))
	}
}

func TestExtractMinTokenConfidence(t *testing.T) {
	ex := NewExtractor(AnchorSet{field("officiant", DirectionBelow, 0.3, 0.1, "OFFICIANT")}, Options{MinTokenConfidence: 0.55})
	faint := ptok("smudge", 170, 140, 290, 165)
	faint.Confidence = 0.2

	got := ex.Extract(page(ptok("OFFICIANT", 100, 100, 300, 130), ptok("Rev.", 100, 140, 160, 165), faint), nil)
	if fe := got.Fields[FieldID(DefaultEntryID, "officiant")]; fe.ExtractedText != "Rev." {
		t.Errorf("extractedText = %q, want Rev.", fe.ExtractedText)
	}
}

func TestExtractDegeneratePage(t *testing.T) {
	ex := NewExtractor(DefaultAnchors("baptism"), Options{})

	got := ex.Extract(vision.PageResult{Tokens: []vision.Token{}, Lines: []vision.Line{}}, nil)
	if got.Fields == nil || len(got.Fields) != 0 || len(got.Anchors) != 0 {
		t.Errorf("expected empty non-nil result, got %+v", got)
	}
}

func TestSearchZone(t *testing.T) {
	entry := vision.Box{X0: 0, Y0: 0, X1: 1000, Y1: 1000}
	anchor := vision.Box{X0: 100, Y0: 100, X1: 300, Y1: 130}

	testCases := []struct {
		name string
		cfg  AnchorConfig
		want vision.Box
	}{
		{"below", AnchorConfig{Direction: DirectionBelow, ZoneExtent: ZoneExtent{0.3, 0.1}},
			vision.Box{X0: 100, Y0: 130, X1: 400, Y1: 230}},
		{"above clipped", AnchorConfig{Direction: DirectionAbove, ZoneExtent: ZoneExtent{0.3, 0.2}},
			vision.Box{X0: 100, Y0: 0, X1: 400, Y1: 100}},
		{"right uses anchor band", AnchorConfig{Direction: DirectionRight, ZoneExtent: ZoneExtent{0.2, 0.01}},
			vision.Box{X0: 300, Y0: 100, X1: 500, Y1: 130}},
		{"left clipped", AnchorConfig{Direction: DirectionLeft, ZoneExtent: ZoneExtent{0.5, 0.01}},
			vision.Box{X0: 0, Y0: 100, X1: 100, Y1: 130}},
		{"padding insets", AnchorConfig{Direction: DirectionBelow, ZoneExtent: ZoneExtent{0.3, 0.1},
			ZonePadding: ZonePadding{Left: 0.01, Right: 0.02, Top: 0.01, Bottom: 0.02}},
			vision.Box{X0: 110, Y0: 140, X1: 380, Y1: 210}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := SearchZone(anchor, entry, tc.cfg)
			if !boxClose(got, tc.want) {
				t.Errorf("zone = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestFoldPhrase(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"Date  of\tBirth:", "DATE OF BIRTH"},
		{"Priest's Name", "PRIESTS NAME"},
		{"№ 12", "NO 12"},
		{"Дата крещения", "ДАТА КРЕЩЕНИЯ"},
		{" . ", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			if got := FoldPhrase(tc.in); got != tc.want {
				t.Errorf("FoldPhrase(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDefaultAnchorsAreCopies(t *testing.T) {
	a := DefaultAnchors("baptism")
	a[0].Phrases[0] = "CHANGED"
	b := DefaultAnchors("baptism")
	if b[0].Phrases[0] == "CHANGED" {
		t.Error("defaults leaked a mutable slice")
	}
	if len(DefaultAnchors("unknown")) != 0 {
		t.Error("unknown record type should have no anchors")
	}
	if reflect.DeepEqual(DefaultAnchors("marriage").Keys(), DefaultAnchors("funeral").Keys()) {
		t.Error("marriage and funeral should differ")
	}
}

func boxClose(a, b vision.Box) bool {
	const eps = 1e-9
	return abs(a.X0-b.X0) < eps && abs(a.Y0-b.Y0) < eps && abs(a.X1-b.X1) < eps && abs(a.Y1-b.Y1) < eps
}
