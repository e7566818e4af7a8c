/**
 * Vision Types - provider response and normalized token structures
 *
 * The provider shapes mirror fullTextAnnotation as returned by the OCR provider;
 * Token and Line are what the rest of the pipeline consumes.
 */

package vision

// Response is the raw OCR provider response
type Response struct {
	FullTextAnnotation *FullTextAnnotation `json:"fullTextAnnotation,omitempty"`
}

// FullTextAnnotation holds the page hierarchy
type FullTextAnnotation struct {
	Pages []Page `json:"pages"`
	Text  string `json:"text,omitempty"`
}

// Page is one provider page (pixel dimensions)
type Page struct {
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Blocks     []Block  `json:"blocks"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Block is a provider text block
type Block struct {
	Paragraphs  []Paragraph   `json:"paragraphs"`
	BoundingBox *BoundingPoly `json:"boundingBox,omitempty"`
	Confidence  *float64      `json:"confidence,omitempty"`
}

// Paragraph becomes one Line
type Paragraph struct {
	Words       []Word        `json:"words"`
	BoundingBox *BoundingPoly `json:"boundingBox,omitempty"`
	Confidence  *float64      `json:"confidence,omitempty"`
}

// Word becomes one Token
type Word struct {
	Symbols     []Symbol      `json:"symbols"`
	BoundingBox *BoundingPoly `json:"boundingBox,omitempty"`
	Confidence  *float64      `json:"confidence,omitempty"`
}

// Symbol is a single recognized character
type Symbol struct {
	Text        string          `json:"text"`
	Confidence  *float64        `json:"confidence,omitempty"`
	BoundingBox *BoundingPoly   `json:"boundingBox,omitempty"`
	Property    *SymbolProperty `json:"property,omitempty"`
}

// SymbolProperty carries the detected break after a symbol
type SymbolProperty struct {
	DetectedBreak *DetectedBreak `json:"detectedBreak,omitempty"`
}

// DetectedBreak marks whitespace or line breaks following a symbol
type DetectedBreak struct {
	Type BreakType `json:"type"`
}

// BreakType enumerates provider break annotations
type BreakType string

const (
	BreakSpace        BreakType = "SPACE"
	BreakSureSpace    BreakType = "SURE_SPACE"
	BreakEOLSureSpace BreakType = "EOL_SURE_SPACE"
	BreakHyphen       BreakType = "HYPHEN"
	BreakLineBreak    BreakType = "LINE_BREAK"
)

// BoundingPoly is the provider polygon (2-4 vertices)
type BoundingPoly struct {
	Vertices []Vertex `json:"vertices"`
}

// Vertex is a pixel coordinate; the provider omits zero values
type Vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Script is a coarse per-token script classification
type Script string

const (
	ScriptLatin    Script = "latin"
	ScriptCyrillic Script = "cyrillic"
	ScriptUnknown  Script = "unknown"
)

// Box is an axis-aligned rectangle given by its corners
type Box struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Token is one recognized word. Immutable once produced by Adapt.
type Token struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	PageIndex      int     `json:"pageIndex"`
	BBoxPixel      Box     `json:"bboxPixel"`
	BBoxNormalized Box     `json:"bboxNormalized"`
	ScriptHint     Script  `json:"scriptHint"`
}

// Line is an ordered run of tokens, one per provider paragraph
type Line struct {
	Text           string  `json:"text"`
	Tokens         []Token `json:"tokens"`
	BBoxNormalized Box     `json:"bboxNormalized"`
	Confidence     float64 `json:"confidence"`
}

// PageResult is the adapter output for one page
type PageResult struct {
	Tokens []Token `json:"tokens"`
	Lines  []Line  `json:"lines"`
	Width  int     `json:"width"`
	Height int     `json:"height"`

	// Degenerate is set when the page exists but has a zero dimension
	Degenerate bool `json:"degenerate,omitempty"`
}
