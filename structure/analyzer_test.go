package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hagyro/paper-md/models"
)

func textRun(text string, page int, x, y, size float64, bold bool) models.TextRun {
	return models.TextRun{
		Text:     text,
		Page:     page,
		BBox:     models.Rect{X0: x, Y0: y, X1: x + float64(len(text))*size*0.5, Y1: y + size},
		Font:     "Times-Roman",
		FontSize: size,
		Bold:     bold,
	}
}

func singlePage(runs ...models.TextRun) []models.RawPage {
	return []models.RawPage{{Number: 1, Width: 612, Height: 792, Runs: runs}}
}

func TestAnalyzeHeadingHierarchy(t *testing.T) {
	pages := singlePage(
		textRun("Distributed Consensus in Practice", 1, 72, 72, 18, true),
		textRun("This paper surveys consensus protocols as deployed in modern systems.", 1, 72, 110, 10, false),
		textRun("We focus on quorum behavior under partial failure and reconfiguration.", 1, 72, 122, 10, false),
		textRun("1 Introduction", 1, 72, 160, 14, true),
		textRun("Consensus protocols coordinate replicated state machines.", 1, 72, 190, 10, false),
	)

	nodes := Analyze(pages, DefaultOptions())
	require.Len(t, nodes, 4)

	assert.Equal(t, models.NodeHeading, nodes[0].Kind)
	assert.Equal(t, 1, nodes[0].Level)
	assert.Equal(t, "Distributed Consensus in Practice", nodes[0].Text)

	assert.Equal(t, models.NodeParagraph, nodes[1].Kind)
	assert.Contains(t, nodes[1].Text, "surveys consensus protocols")
	assert.Contains(t, nodes[1].Text, "quorum behavior")

	assert.Equal(t, models.NodeHeading, nodes[2].Kind)
	assert.Equal(t, 2, nodes[2].Level, "smaller heading size gets the next level down")
	assert.Equal(t, "1 Introduction", nodes[2].Text)

	assert.Equal(t, models.NodeParagraph, nodes[3].Kind)
}

func TestAnalyzeHeadingLevelsAreOrderedBySize(t *testing.T) {
	pages := singlePage(
		textRun("2.1 Quorum Intersection", 1, 72, 72, 13, true),
		textRun("body text body text body text body text body text", 1, 72, 100, 10, false),
		textRun("2 Safety Arguments", 1, 72, 130, 16, true),
		textRun("more body text more body text more body text", 1, 72, 160, 10, false),
	)

	nodes := Analyze(pages, DefaultOptions())

	var levels []int
	var texts []string
	for _, n := range nodes {
		if n.Kind == models.NodeHeading {
			levels = append(levels, n.Level)
			texts = append(texts, n.Text)
		}
	}
	require.Equal(t, []string{"2.1 Quorum Intersection", "2 Safety Arguments"}, texts)
	// Rank follows font size, not document order.
	assert.Equal(t, []int{2, 1}, levels)
}

func TestAnalyzeParagraphSplitOnVerticalGap(t *testing.T) {
	pages := singlePage(
		textRun("First paragraph line one with enough text to weight the body size.", 1, 72, 100, 10, false),
		textRun("First paragraph line two continues immediately below.", 1, 72, 112, 10, false),
		// 30pt gap, well past one line height
		textRun("Second paragraph starts after a deliberate gap.", 1, 72, 152, 10, false),
	)

	nodes := Analyze(pages, DefaultOptions())
	require.Len(t, nodes, 2)
	assert.Contains(t, nodes[0].Text, "line one")
	assert.Contains(t, nodes[0].Text, "line two")
	assert.Contains(t, nodes[1].Text, "Second paragraph")
}

func TestAnalyzeParagraphContinuesAcrossPageBreak(t *testing.T) {
	pages := []models.RawPage{
		{Number: 1, Width: 612, Height: 792, Runs: []models.TextRun{
			textRun("The proof proceeds by induction on the length of the", 1, 72, 760, 10, false),
		}},
		{Number: 2, Width: 612, Height: 792, Runs: []models.TextRun{
			textRun("execution, starting from the empty prefix.", 2, 72, 60, 10, false),
		}},
	}

	nodes := Analyze(pages, DefaultOptions())
	require.Len(t, nodes, 1)
	assert.Equal(t, models.NodeParagraph, nodes[0].Kind)
	assert.Equal(t, 1, nodes[0].Page)
	assert.Equal(t, "The proof proceeds by induction on the length of the execution, starting from the empty prefix.", nodes[0].Text)
}

func TestAnalyzeParagraphClosedByHeadingOnNextPage(t *testing.T) {
	pages := []models.RawPage{
		{Number: 1, Width: 612, Height: 792, Runs: []models.TextRun{
			textRun("A closing discussion of the previous section with body weight text.", 1, 72, 760, 10, false),
		}},
		{Number: 2, Width: 612, Height: 792, Runs: []models.TextRun{
			textRun("3 Evaluation", 2, 72, 60, 14, true),
			textRun("We ran all benchmarks on a five node cluster.", 2, 72, 90, 10, false),
		}},
	}

	nodes := Analyze(pages, DefaultOptions())
	require.Len(t, nodes, 3)
	assert.Equal(t, models.NodeParagraph, nodes[0].Kind)
	assert.Equal(t, models.NodeHeading, nodes[1].Kind)
	assert.Equal(t, models.NodeParagraph, nodes[2].Kind)
}

func TestAnalyzeReferenceMarker(t *testing.T) {
	pages := singlePage(
		textRun("Plenty of body text to establish the modal font size here.", 1, 72, 100, 10, false),
		textRun("References", 1, 72, 140, 14, true),
		textRun("[1] L. Lamport. The part-time parliament. 1998.", 1, 72, 170, 10, false),
	)

	nodes := Analyze(pages, DefaultOptions())
	require.Len(t, nodes, 4)
	assert.Equal(t, models.NodeHeading, nodes[1].Kind)
	assert.Equal(t, "References", nodes[1].Text)
	assert.Equal(t, models.NodeReferenceMarker, nodes[2].Kind)
	assert.Equal(t, models.NodeParagraph, nodes[3].Kind)
}

func TestAnalyzeDetectsAlignedGrid(t *testing.T) {
	pages := singlePage(
		textRun("Table 1: Throughput by protocol", 1, 72, 280, 10, false),
		textRun("Protocol", 1, 72, 300, 10, false),
		textRun("Ops/s", 1, 220, 300, 10, false),
		textRun("Raft", 1, 72, 315, 10, false),
		textRun("41000", 1, 220, 315, 10, false),
		textRun("Paxos", 1, 72, 330, 10, false),
		textRun("38500", 1, 220, 330, 10, false),
		textRun("Throughput numbers are medians over ten runs of the closed loop workload.", 1, 72, 400, 10, false),
	)

	nodes := Analyze(pages, DefaultOptions())
	require.Len(t, nodes, 2)

	table := nodes[0]
	require.Equal(t, models.NodeTable, table.Kind)
	assert.Equal(t, "Table 1: Throughput by protocol", table.Caption)
	assert.Equal(t, [][]string{
		{"Protocol", "Ops/s"},
		{"Raft", "41000"},
		{"Paxos", "38500"},
	}, table.Rows)

	assert.Equal(t, models.NodeParagraph, nodes[1].Kind)
	assert.NotContains(t, nodes[1].Text, "Raft", "grid cells must leave the paragraph stream")
}

func TestAnalyzeFigurePlacementAndCaptionPairing(t *testing.T) {
	pages := []models.RawPage{{
		Number: 1, Width: 612, Height: 792,
		Runs: []models.TextRun{
			textRun("The architecture splits ingest from query processing entirely.", 1, 72, 100, 10, false),
			textRun("Figure 1: System architecture", 1, 72, 300, 9, false),
		},
		Images: []models.ImageBlock{{Page: 1, Index: 0, Data: []byte{0x89, 'P', 'N', 'G'}}},
	}}

	nodes := Analyze(pages, DefaultOptions())
	require.Len(t, nodes, 2)

	assert.Equal(t, models.NodeParagraph, nodes[0].Kind)
	assert.NotContains(t, nodes[0].Text, "Figure 1", "caption must not leak into a paragraph")

	fig := nodes[1]
	require.Equal(t, models.NodeFigure, fig.Kind)
	assert.Equal(t, "Figure 1: System architecture", fig.Caption)
	assert.Equal(t, models.ImageRef{Page: 1, Index: 0}, fig.Image)
}

func TestAnalyzeImageOnlyPage(t *testing.T) {
	pages := []models.RawPage{{
		Number: 1, Width: 612, Height: 792,
		Images: []models.ImageBlock{
			{Page: 1, Index: 0, Data: []byte("a")},
			{Page: 1, Index: 1, Data: []byte("b")},
		},
	}}

	nodes := Analyze(pages, DefaultOptions())
	require.Len(t, nodes, 2)
	for i, node := range nodes {
		assert.Equal(t, models.NodeFigure, node.Kind)
		assert.Equal(t, i, node.Image.Index)
		assert.Empty(t, node.Caption)
	}
}

func TestAnalyzeEmptyInput(t *testing.T) {
	assert.Nil(t, Analyze(nil, DefaultOptions()))
	assert.Empty(t, Analyze([]models.RawPage{{Number: 1, Width: 612, Height: 792}}, DefaultOptions()))
}
