package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hagyro/paper-md/models"
)

func run(text string, y, size float64) models.TextRun {
	return models.TextRun{
		Text:     text,
		Page:     1,
		BBox:     models.Rect{X0: 72, Y0: y, X1: 540, Y1: y + size},
		FontSize: size,
	}
}

func TestExtractFullFrontMatter(t *testing.T) {
	pages := []models.RawPage{{
		Number: 1, Width: 612, Height: 792,
		Runs: []models.TextRun{
			run("Adaptive Batching for Stream Processors", 72, 18),
			run("Ana Petrova*, Lee Chang, Marta Silva", 100, 11),
			run("Department of Computer Science, ETH Zurich", 114, 9),
			run("ana.petrova@example.edu", 126, 9),
			run("Abstract", 150, 12),
			run("Keywords: stream processing; batching; latency", 420, 10),
		},
	}}
	nodes := []models.StructureNode{
		{Kind: models.NodeHeading, Page: 1, Level: 1, Text: "Adaptive Batching for Stream Processors"},
		{Kind: models.NodeHeading, Page: 1, Level: 2, Text: "Abstract"},
		{Kind: models.NodeParagraph, Page: 1, Text: "We present an adaptive batching scheme that trades latency for throughput."},
		{Kind: models.NodeHeading, Page: 1, Level: 2, Text: "1 Introduction"},
		{Kind: models.NodeParagraph, Page: 1, Text: "Stream processors face a fundamental tension."},
		{Kind: models.NodeHeading, Page: 2, Level: 2, Text: "References"},
		{Kind: models.NodeReferenceMarker, Page: 2},
		{Kind: models.NodeParagraph, Page: 2, Text: "[1] A. Author. Batching revisited. 2019. [2] B. Author. Latency budgets. 2021."},
	}

	meta := Extract(pages, nodes)

	assert.Equal(t, "Adaptive Batching for Stream Processors", meta.Title)
	assert.Equal(t, []string{"Ana Petrova", "Lee Chang", "Marta Silva"}, meta.Authors)
	assert.Equal(t, "We present an adaptive batching scheme that trades latency for throughput.", meta.Abstract)
	assert.Equal(t, []string{"stream processing", "batching", "latency"}, meta.Keywords)
	require.Len(t, meta.References, 2)
	assert.Equal(t, "[1] A. Author. Batching revisited. 2019.", meta.References[0])
	assert.Equal(t, "[2] B. Author. Latency budgets. 2021.", meta.References[1])
}

func TestExtractTitleFallsBackToLargestRun(t *testing.T) {
	pages := []models.RawPage{{
		Number: 1, Width: 612, Height: 792,
		Runs: []models.TextRun{
			run("3", 20, 8), // page number
			run("Cache Coherence Without Directories", 80, 16),
			run("body text at the regular size sits below the title", 120, 10),
		},
	}}

	meta := Extract(pages, nil)
	assert.Equal(t, "Cache Coherence Without Directories", meta.Title)
}

func TestExtractTitleIgnoresRunsBelowTopRegion(t *testing.T) {
	pages := []models.RawPage{{
		Number: 1, Width: 612, Height: 792,
		Runs: []models.TextRun{
			run("A modest opening line", 100, 10),
			// larger, but in the bottom half of the page
			run("SECTION HEADING IN THE BODY", 500, 16),
		},
	}}

	meta := Extract(pages, nil)
	assert.Equal(t, "A modest opening line", meta.Title)
}

func TestExtractKeywordsLabelOnOwnLine(t *testing.T) {
	pages := []models.RawPage{{
		Number: 1, Width: 612, Height: 792,
		Runs: []models.TextRun{
			run("Index Terms", 300, 10),
			run("caching, consistency, replication", 312, 10),
		},
	}}

	meta := Extract(pages, nil)
	assert.Equal(t, []string{"caching", "consistency", "replication"}, meta.Keywords)
}

func TestExtractKeywordsDeduplicates(t *testing.T) {
	pages := []models.RawPage{{
		Number: 1, Width: 612, Height: 792,
		Runs: []models.TextRun{
			run("Keywords: caching, Caching, eviction", 300, 10),
		},
	}}

	meta := Extract(pages, nil)
	assert.Equal(t, []string{"caching", "eviction"}, meta.Keywords)
}

func TestExtractReferencesWithoutMarkers(t *testing.T) {
	nodes := []models.StructureNode{
		{Kind: models.NodeHeading, Page: 5, Level: 1, Text: "References"},
		{Kind: models.NodeParagraph, Page: 5, Text: "Gray, J. The transaction concept. 1981."},
		{Kind: models.NodeParagraph, Page: 5, Text: "Lamport, L. Time, clocks, and the ordering of events. 1978."},
	}
	pages := []models.RawPage{{Number: 1, Width: 612, Height: 792}}

	meta := Extract(pages, nodes)
	require.Len(t, meta.References, 2)
	assert.Equal(t, "Gray, J. The transaction concept. 1981.", meta.References[0])
}

func TestExtractReferencesStopAtNextHeading(t *testing.T) {
	nodes := []models.StructureNode{
		{Kind: models.NodeHeading, Page: 5, Level: 1, Text: "References"},
		{Kind: models.NodeParagraph, Page: 5, Text: "Stonebraker, M. The case for shared nothing. 1986."},
		{Kind: models.NodeHeading, Page: 6, Level: 1, Text: "Appendix A"},
		{Kind: models.NodeParagraph, Page: 6, Text: "Supplementary proofs omitted from the body."},
	}
	pages := []models.RawPage{{Number: 1, Width: 612, Height: 792}}

	meta := Extract(pages, nodes)
	require.Len(t, meta.References, 1)
	assert.NotContains(t, meta.References[0], "Supplementary")
}

func TestExtractEmptyInput(t *testing.T) {
	meta := Extract(nil, nil)
	assert.Empty(t, meta.Title)
	assert.Empty(t, meta.Authors)
	assert.Empty(t, meta.Keywords)
	assert.Empty(t, meta.References)
}
