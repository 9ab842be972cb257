package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"

	"github.com/hagyro/paper-md/models"
)

// Extraction failure classes surfaced to the orchestrator. All of them
// fail the job as a whole.
var (
	ErrCorruptDocument   = errors.New("corrupt document")
	ErrEncryptedDocument = errors.New("encrypted document")
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// US Letter defaults for pages whose MediaBox cannot be resolved
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// Extractor turns PDF bytes into page-ordered raw content
type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]models.RawPage, error)
}

// PDFExtractor extracts positioned text runs with ledongthuc/pdf and
// embedded images with pdfcpu. Image positions are not recoverable
// through pdfcpu, so ImageBlock bounding boxes are zero and figures are
// ordered by page and extraction index downstream.
type PDFExtractor struct {
	logger  *logrus.Logger
	tempDir string
}

// NewPDFExtractor creates an extractor that stages image extraction
// under tempDir
func NewPDFExtractor(logger *logrus.Logger, tempDir string) *PDFExtractor {
	return &PDFExtractor{logger: logger, tempDir: tempDir}
}

// Extract implements Extractor
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (pages []models.RawPage, err error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, ErrUnsupportedFormat
	}

	// The reader panics on some malformed documents
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: %v", ErrCorruptDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, classifyOpenError(err)
	}

	images, err := e.extractImages(data)
	if err != nil {
		// Image extraction failure leaves a text-only document
		e.logger.WithError(err).Warn("Failed to extract images, continuing without images")
		images = nil
	}

	pages = make([]models.RawPage, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := models.RawPage{
			Number: i,
			Width:  defaultPageWidth,
			Height: defaultPageHeight,
			Images: images[i],
		}

		p := reader.Page(i)
		if !p.V.IsNull() {
			if w, h, ok := mediaBoxSize(p); ok {
				page.Width, page.Height = w, h
			}
			page.Runs = mergeRuns(p.Content().Text, i, page.Height)
		}

		pages = append(pages, page)
	}

	return pages, nil
}

// classifyOpenError maps reader errors onto the adapter's failure classes
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "encrypt") || strings.Contains(msg, "password") {
		return fmt.Errorf("%w: %s", ErrEncryptedDocument, err)
	}
	return fmt.Errorf("%w: %s", ErrCorruptDocument, err)
}

// mediaBoxSize resolves the page dimensions from its MediaBox entry
func mediaBoxSize(p pdf.Page) (w, h float64, ok bool) {
	mb := p.V.Key("MediaBox")
	if mb.Kind() != pdf.Array || mb.Len() != 4 {
		return 0, 0, false
	}
	w = mb.Index(2).Float64() - mb.Index(0).Float64()
	h = mb.Index(3).Float64() - mb.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// textChunk is one raw positioned string from the content stream
type textChunk struct {
	x, y, w  float64
	font     string
	fontSize float64
	s        string
}

// textLine groups chunks sharing a vertical band
type textLine struct {
	y      float64
	chunks []textChunk
}

// mergeRuns groups raw content-stream strings into per-line text runs.
// Chunks are bucketed into lines by Y proximity, ordered top-to-bottom,
// then concatenated left-to-right with font-relative word spacing. A font
// or size change inside a line starts a new run so heading and body
// fragments sharing a baseline stay distinguishable.
func mergeRuns(raw []pdf.Text, pageNum int, pageHeight float64) []models.TextRun {
	var chunks []textChunk
	for _, t := range raw {
		if strings.TrimSpace(t.S) == "" {
			continue
		}
		chunks = append(chunks, textChunk{x: t.X, y: t.Y, w: t.W, font: t.Font, fontSize: t.FontSize, s: t.S})
	}
	if len(chunks) == 0 {
		return nil
	}

	yTolerance := 3.0
	if chunks[0].fontSize > 0 {
		yTolerance = chunks[0].fontSize * 0.3
	}

	var lines []textLine
	for _, c := range chunks {
		placed := false
		for i := range lines {
			if abs(lines[i].y-c.y) < yTolerance {
				lines[i].chunks = append(lines[i].chunks, c)
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, textLine{y: c.y, chunks: []textChunk{c}})
		}
	}

	// PDF coordinates grow upward: larger Y is nearer the top
	sort.Slice(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	var runs []models.TextRun
	for _, ln := range lines {
		sort.Slice(ln.chunks, func(i, j int) bool { return ln.chunks[i].x < ln.chunks[j].x })
		runs = append(runs, lineToRuns(ln, pageNum, pageHeight)...)
	}
	return runs
}

// lineToRuns concatenates a line's chunks into runs, splitting on font or
// size changes
func lineToRuns(ln textLine, pageNum int, pageHeight float64) []models.TextRun {
	var runs []models.TextRun
	var sb strings.Builder
	var cur textChunk
	var x0, x1 float64
	started := false

	flush := func() {
		text := strings.TrimSpace(sb.String())
		if text == "" {
			return
		}
		top := pageHeight - ln.y - cur.fontSize
		runs = append(runs, models.TextRun{
			Text:     text,
			Page:     pageNum,
			BBox:     models.Rect{X0: x0, Y0: top, X1: x1, Y1: top + cur.fontSize},
			Font:     cur.font,
			FontSize: cur.fontSize,
			Bold:     isBoldFont(cur.font),
		})
		sb.Reset()
	}

	for _, c := range ln.chunks {
		if started && (c.font != cur.font || c.fontSize != cur.fontSize) {
			flush()
			started = false
		}
		if !started {
			cur = c
			x0 = c.x
			started = true
		} else {
			gap := c.x - x1
			threshold := c.fontSize * 0.2
			if threshold < 1.0 {
				threshold = 1.0
			}
			if gap > threshold {
				sb.WriteString(" ")
			}
		}
		sb.WriteString(c.s)
		x1 = c.x + chunkWidth(c)
	}
	flush()
	return runs
}

// chunkWidth estimates the rendered width of a chunk when the content
// stream does not carry one
func chunkWidth(c textChunk) float64 {
	if c.w > 0 {
		return c.w
	}
	return float64(len([]rune(c.s))) * c.fontSize * 0.55
}

// isBoldFont reports whether a font name advertises a bold weight
func isBoldFont(font string) bool {
	lower := strings.ToLower(font)
	return strings.Contains(lower, "bold") || strings.Contains(lower, "black") || strings.Contains(lower, "heavy")
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// imageFilePattern matches pdfcpu's extracted image names, which embed
// the source page number
var imageFilePattern = regexp.MustCompile(`_(?:page_)?(\d+)_[^/]*\.(?:png|jpe?g|tiff?|bmp)$`)

// extractImages stages the document in a temp directory and pulls its
// embedded images out with pdfcpu, keyed by page number
func (e *PDFExtractor) extractImages(data []byte) (map[int][]models.ImageBlock, error) {
	workDir, err := os.MkdirTemp(e.tempDir, "papermd_img_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			e.logger.WithError(err).Warn("Failed to clean up temp directory")
		}
	}()

	pdfPath := filepath.Join(workDir, "source.pdf")
	if err := os.WriteFile(pdfPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to stage source: %w", err)
	}

	imageDir := filepath.Join(workDir, "images")
	if err := os.MkdirAll(imageDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.ExtractImagesFile(pdfPath, imageDir, nil, conf); err != nil {
		return nil, fmt.Errorf("pdfcpu image extraction: %w", err)
	}

	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	images := make(map[int][]models.ImageBlock)
	for _, name := range names {
		pageNum, ok := pageNumberFromImageName(name)
		if !ok {
			e.logger.WithField("file", name).Debug("Skipping image with unrecognised name")
			continue
		}
		imgBytes, err := os.ReadFile(filepath.Join(imageDir, name))
		if err != nil {
			e.logger.WithError(err).WithField("file", name).Warn("Failed to read extracted image")
			continue
		}
		images[pageNum] = append(images[pageNum], models.ImageBlock{
			Page:  pageNum,
			Index: len(images[pageNum]),
			Data:  imgBytes,
		})
	}

	return images, nil
}

// pageNumberFromImageName parses the page number pdfcpu encodes into
// extracted image file names
func pageNumberFromImageName(name string) (int, bool) {
	m := imageFilePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
