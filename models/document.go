package models

// Rect is an axis-aligned bounding box in page coordinates.
// Y grows downward: Y0 is the top edge, Y1 the bottom edge.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// Width returns the horizontal extent of the box
func (r Rect) Width() float64 { return r.X1 - r.X0 }

// Height returns the vertical extent of the box
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// TextRun is one positioned piece of text with its font attributes,
// as produced by the extraction adapter
type TextRun struct {
	Text     string
	Page     int
	BBox     Rect
	Font     string
	FontSize float64
	Bold     bool
}

// ImageBlock is one embedded raster image extracted from a page
type ImageBlock struct {
	Page  int
	Index int
	Data  []byte
	BBox  Rect
}

// RawPage is the extracted content of one page prior to structure
// inference. Immutable once produced by the extractor.
type RawPage struct {
	Number int
	Width  float64
	Height float64
	Runs   []TextRun
	Images []ImageBlock
}

// NodeKind tags a StructureNode variant
type NodeKind string

const (
	NodeHeading         NodeKind = "heading"
	NodeParagraph       NodeKind = "paragraph"
	NodeFigure          NodeKind = "figure"
	NodeTable           NodeKind = "table"
	NodeReferenceMarker NodeKind = "reference_marker"
)

// ImageRef identifies exactly one ImageBlock in the originating page set
type ImageRef struct {
	Page  int
	Index int
}

// StructureNode is one semantic unit of the reconstructed document.
// Nodes form a flat ordered sequence in reading order; heading nesting is
// implied by Level, not stored as a tree.
type StructureNode struct {
	Kind NodeKind
	Page int

	// Heading and Paragraph
	Text  string
	Level int

	// Figure
	Image       ImageRef
	Caption     string
	Description string // set at most once by the enricher, never reverted

	// Table
	Rows [][]string
}

// DocumentMetadata holds best-effort bibliographic metadata. Every field
// may legitimately be absent; absence never fails the pipeline.
type DocumentMetadata struct {
	Title      string
	Authors    []string
	Abstract   string
	Keywords   []string
	References []string
}

// ResolveImage returns the ImageBlock a figure node refers to, or nil if
// the reference does not resolve
func ResolveImage(pages []RawPage, ref ImageRef) *ImageBlock {
	for i := range pages {
		if pages[i].Number != ref.Page {
			continue
		}
		for j := range pages[i].Images {
			if pages[i].Images[j].Index == ref.Index {
				return &pages[i].Images[j]
			}
		}
	}
	return nil
}
