// Package structure reconstructs a semantic document outline from the
// weakly-typed positional and typographic signals of extracted pages.
package structure

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/hagyro/paper-md/models"
)

// Options tunes the typography heuristics
type Options struct {
	// HeadingScale is the multiplier over the body font size above which
	// a run becomes a heading candidate
	HeadingScale float64
}

// DefaultOptions returns the tuning used when no configuration overrides it
func DefaultOptions() Options {
	return Options{HeadingScale: 1.15}
}

const (
	maxHeadingLen = 200
	maxCellLen    = 40
	maxCaptionLen = 300
)

var (
	captionPattern   = regexp.MustCompile(`(?i)^(?:figure|fig\.?|table)\s*\d+`)
	referencePattern = regexp.MustCompile(`(?i)^(?:\d+\.?\s*)?(references?|bibliography|citations?)\s*$`)
	letterPattern    = regexp.MustCompile(`[a-zA-Z]`)
)

// Analyze clusters the extracted runs of all pages into an ordered
// sequence of structure nodes. It is total: it never fails, and with no
// usable typography signals it degrades to an all-paragraph sequence.
func Analyze(pages []models.RawPage, opts Options) []models.StructureNode {
	if opts.HeadingScale <= 1.0 {
		opts.HeadingScale = DefaultOptions().HeadingScale
	}
	if len(pages) == 0 {
		return nil
	}

	bodySize := modalFontSize(pages)
	levels := headingLevels(pages, bodySize, opts.HeadingScale)

	var nodes []models.StructureNode
	var para *paragraphBuilder

	for pi := range pages {
		page := &pages[pi]

		tables, consumed := detectTables(page, bodySize)
		captions := make(map[int]bool) // run indexes consumed as figure captions
		figureCaptions := collectFigureCaptions(page, consumed, captions)

		// Decide whether an open paragraph survives the page break
		if para != nil && !continuesAcrossBreak(page, consumed, captions, levels, opts, bodySize) {
			nodes = append(nodes, para.node())
			para = nil
		}

		tableCursor := 0
		for ri := range page.Runs {
			run := &page.Runs[ri]

			// Emit any table whose region starts above this run
			for tableCursor < len(tables) && tables[tableCursor].top <= run.BBox.Y0 {
				if para != nil {
					nodes = append(nodes, para.node())
					para = nil
				}
				nodes = append(nodes, tables[tableCursor].node)
				tableCursor++
			}

			if consumed[ri] || captions[ri] {
				continue
			}

			if level, ok := headingLevel(run, levels, opts, bodySize, page); ok {
				if para != nil {
					nodes = append(nodes, para.node())
					para = nil
				}
				nodes = append(nodes, models.StructureNode{
					Kind:  models.NodeHeading,
					Page:  page.Number,
					Text:  collapseSpaces(run.Text),
					Level: level,
				})
				if referencePattern.MatchString(strings.TrimSpace(run.Text)) {
					nodes = append(nodes, models.StructureNode{Kind: models.NodeReferenceMarker, Page: page.Number})
				}
				continue
			}

			if para != nil && !para.adjacent(run) {
				nodes = append(nodes, para.node())
				para = nil
			}
			if para == nil {
				para = newParagraphBuilder(run)
			} else {
				para.append(run)
			}
		}

		for ; tableCursor < len(tables); tableCursor++ {
			if para != nil {
				nodes = append(nodes, para.node())
				para = nil
			}
			nodes = append(nodes, tables[tableCursor].node)
		}

		// Image positions are not recoverable from the extraction
		// adapter, so figures sit after the page's text in extraction
		// order, paired with that page's captions in order.
		for ii := range page.Images {
			if para != nil {
				nodes = append(nodes, para.node())
				para = nil
			}
			caption := ""
			if ii < len(figureCaptions) {
				caption = figureCaptions[ii]
			}
			nodes = append(nodes, models.StructureNode{
				Kind:    models.NodeFigure,
				Page:    page.Number,
				Image:   models.ImageRef{Page: page.Number, Index: page.Images[ii].Index},
				Caption: caption,
			})
		}
	}

	if para != nil {
		nodes = append(nodes, para.node())
	}
	return nodes
}

// modalFontSize finds the body text size: the most common run size,
// weighted by text length and bucketed to half points
func modalFontSize(pages []models.RawPage) float64 {
	weights := make(map[float64]int)
	for _, page := range pages {
		for _, run := range page.Runs {
			if run.FontSize <= 0 {
				continue
			}
			bucket := math.Round(run.FontSize*2) / 2
			weights[bucket] += len(run.Text)
		}
	}
	var modal float64
	best := -1
	for size, weight := range weights {
		// Prefer the smaller size on equal weight for determinism
		if weight > best || (weight == best && size < modal) {
			modal = size
			best = weight
		}
	}
	if modal == 0 {
		modal = 10.0
	}
	return modal
}

// headingLevels maps each distinct heading-candidate font size to a
// level: the largest size gets level 1, the next distinct size level 2,
// capped at 6. Sizes are bucketed so near-ties share a level.
func headingLevels(pages []models.RawPage, bodySize, scale float64) map[float64]int {
	seen := make(map[float64]bool)
	for pi := range pages {
		page := &pages[pi]
		for ri := range page.Runs {
			run := &page.Runs[ri]
			if isHeadingCandidate(run, bodySize, scale, page) {
				seen[sizeBucket(run.FontSize)] = true
			}
		}
	}

	sizes := make([]float64, 0, len(seen))
	for size := range seen {
		sizes = append(sizes, size)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sizes)))

	levels := make(map[float64]int, len(sizes))
	for i, size := range sizes {
		level := i + 1
		if level > 6 {
			level = 6
		}
		levels[size] = level
	}
	return levels
}

func sizeBucket(size float64) float64 {
	return math.Round(size*4) / 4
}

// isHeadingCandidate applies the typographic gate: noticeably larger
// than body text and either bold or alone on its line
func isHeadingCandidate(run *models.TextRun, bodySize, scale float64, page *models.RawPage) bool {
	text := strings.TrimSpace(run.Text)
	if text == "" || len(text) > maxHeadingLen {
		return false
	}
	if len(letterPattern.FindAllString(text, 3)) < 3 {
		return false
	}
	if captionPattern.MatchString(text) {
		return false
	}
	if run.FontSize < bodySize*scale {
		return false
	}
	return run.Bold || lineIsolated(run, page)
}

// lineIsolated reports whether no other run shares the run's vertical band
func lineIsolated(run *models.TextRun, page *models.RawPage) bool {
	for i := range page.Runs {
		other := &page.Runs[i]
		if other == run {
			continue
		}
		if verticalOverlap(run.BBox, other.BBox) {
			return false
		}
	}
	return true
}

func verticalOverlap(a, b models.Rect) bool {
	return a.Y0 < b.Y1 && b.Y0 < a.Y1
}

// headingLevel classifies a run, returning its level when it is a heading
func headingLevel(run *models.TextRun, levels map[float64]int, opts Options, bodySize float64, page *models.RawPage) (int, bool) {
	if !isHeadingCandidate(run, bodySize, opts.HeadingScale, page) {
		return 0, false
	}
	level, ok := levels[sizeBucket(run.FontSize)]
	if !ok {
		return 0, false
	}
	return level, true
}

// collectFigureCaptions pulls the page's figure caption runs, in reading
// order, out of the paragraph stream
func collectFigureCaptions(page *models.RawPage, consumed map[int]bool, captions map[int]bool) []string {
	var out []string
	if len(page.Images) == 0 {
		return nil
	}
	for ri := range page.Runs {
		if consumed[ri] {
			continue
		}
		text := strings.TrimSpace(page.Runs[ri].Text)
		if len(text) > maxCaptionLen {
			continue
		}
		if !captionPattern.MatchString(text) || strings.HasPrefix(strings.ToLower(text), "table") {
			continue
		}
		captions[ri] = true
		out = append(out, collapseSpaces(text))
	}
	return out
}

// continuesAcrossBreak decides whether an open paragraph flows onto the
// next page: the page must open with body text sitting near the top
// margin rather than a heading, caption, or table region.
func continuesAcrossBreak(page *models.RawPage, consumed, captions map[int]bool, levels map[float64]int, opts Options, bodySize float64) bool {
	for ri := range page.Runs {
		if consumed[ri] || captions[ri] {
			continue
		}
		run := &page.Runs[ri]
		if isHeadingCandidate(run, bodySize, opts.HeadingScale, page) {
			return false
		}
		// A first run far below the top margin implies a deliberate gap
		return run.BBox.Y0 <= page.Height*0.2
	}
	return false
}

// paragraphBuilder accumulates vertically adjacent runs into one paragraph
type paragraphBuilder struct {
	text      strings.Builder
	lastBBox  models.Rect
	lastSize  float64
	page      int
	startPage int
}

func newParagraphBuilder(run *models.TextRun) *paragraphBuilder {
	b := &paragraphBuilder{lastBBox: run.BBox, lastSize: run.FontSize, page: run.Page, startPage: run.Page}
	b.text.WriteString(collapseSpaces(run.Text))
	return b
}

// adjacent reports whether the run continues this paragraph: same page
// within a line-and-a-bit of vertical gap, or the first run of a new page
// (the page-break decision was already made by continuesAcrossBreak)
func (b *paragraphBuilder) adjacent(run *models.TextRun) bool {
	if run.Page != b.page {
		return true
	}
	lineHeight := b.lastSize
	if lineHeight <= 0 {
		lineHeight = 12.0
	}
	gap := run.BBox.Y0 - b.lastBBox.Y1
	return gap <= lineHeight*0.8
}

func (b *paragraphBuilder) append(run *models.TextRun) {
	b.text.WriteString(" ")
	b.text.WriteString(collapseSpaces(run.Text))
	b.lastBBox = run.BBox
	b.lastSize = run.FontSize
	b.page = run.Page
}

func (b *paragraphBuilder) node() models.StructureNode {
	return models.StructureNode{Kind: models.NodeParagraph, Page: b.startPage, Text: b.text.String()}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
