// Package markdown renders an analyzed document into a single Markdown
// string with YAML front matter.
package markdown

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hagyro/paper-md/models"
)

var abstractHeading = regexp.MustCompile(`(?i)^abstract\s*$`)

// frontMatter is the YAML header emitted ahead of the document body.
// Empty fields are omitted so a paper without keywords does not carry
// an empty list.
type frontMatter struct {
	Title    string   `yaml:"title,omitempty"`
	Authors  []string `yaml:"authors,omitempty"`
	Keywords []string `yaml:"keywords,omitempty"`
}

// Assemble renders metadata and structure nodes into Markdown. Nodes are
// emitted in slice order; references are inserted where the analyzer
// marked the reference section, or appended at the end when no marker
// survived structure analysis.
func Assemble(meta models.DocumentMetadata, nodes []models.StructureNode) (string, error) {
	var b strings.Builder

	if err := writeFrontMatter(&b, meta); err != nil {
		return "", fmt.Errorf("rendering front matter: %w", err)
	}

	if meta.Title != "" {
		b.WriteString("# ")
		b.WriteString(EscapeText(meta.Title))
		b.WriteString("\n\n")
	}
	titleSkipped := meta.Title == ""

	if meta.Abstract != "" {
		b.WriteString("## Abstract\n\n")
		b.WriteString(EscapeText(meta.Abstract))
		b.WriteString("\n\n")
	}

	// Paragraphs inside the abstract and reference sections were already
	// consumed into meta.Abstract and meta.References; rendering them
	// again from the node stream would duplicate them.
	referencesWritten := false
	inAbstract := false
	inReferences := false
	for i := range nodes {
		node := &nodes[i]
		switch node.Kind {
		case models.NodeHeading:
			inAbstract = false
			inReferences = false
			// The title heading already opened the document.
			if !titleSkipped && node.Text == meta.Title {
				titleSkipped = true
				continue
			}
			if meta.Abstract != "" && abstractHeading.MatchString(node.Text) {
				inAbstract = true
				continue
			}
			writeHeading(&b, node)
		case models.NodeParagraph:
			if inAbstract || inReferences {
				continue
			}
			b.WriteString(EscapeText(node.Text))
			b.WriteString("\n\n")
		case models.NodeFigure:
			writeFigure(&b, node)
		case models.NodeTable:
			writeTable(&b, node)
		case models.NodeReferenceMarker:
			// The marker only positions the numbered list; the heading
			// preceding it was rendered from the node stream.
			writeReferences(&b, meta.References)
			referencesWritten = true
			inReferences = true
		}
	}

	if !referencesWritten && len(meta.References) > 0 {
		b.WriteString("## References\n\n")
		writeReferences(&b, meta.References)
	}

	return strings.TrimRight(b.String(), "\n") + "\n", nil
}

func writeFrontMatter(b *strings.Builder, meta models.DocumentMetadata) error {
	fm := frontMatter{Title: meta.Title, Authors: meta.Authors, Keywords: meta.Keywords}
	if fm.Title == "" && len(fm.Authors) == 0 && len(fm.Keywords) == 0 {
		return nil
	}
	encoded, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	b.WriteString("---\n")
	b.Write(encoded)
	b.WriteString("---\n\n")
	return nil
}

func writeHeading(b *strings.Builder, node *models.StructureNode) {
	level := node.Level
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	b.WriteString(strings.Repeat("#", level))
	b.WriteByte(' ')
	b.WriteString(EscapeText(node.Text))
	b.WriteString("\n\n")
}

func writeFigure(b *strings.Builder, node *models.StructureNode) {
	caption := node.Caption
	if caption == "" {
		caption = fmt.Sprintf("Figure (page %d)", node.Image.Page)
	}
	fmt.Fprintf(b, "![%s](images/page-%d-%d.png)\n\n", EscapeText(caption), node.Image.Page, node.Image.Index)
	b.WriteString("**")
	b.WriteString(EscapeText(caption))
	b.WriteString("**\n\n")
	if node.Description != "" {
		writeBlockquote(b, node.Description)
	}
}

func writeTable(b *strings.Builder, node *models.StructureNode) {
	if node.Caption != "" {
		b.WriteString("**")
		b.WriteString(EscapeText(node.Caption))
		b.WriteString("**\n\n")
	}
	// A vision-reconstructed table supersedes the positional grid.
	if node.Description != "" {
		b.WriteString(strings.TrimRight(node.Description, "\n"))
		b.WriteString("\n\n")
		return
	}
	if len(node.Rows) == 0 {
		return
	}
	writePipeTable(b, node.Rows)
}

func writePipeTable(b *strings.Builder, rows [][]string) {
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	widths := make([]int, cols)
	cells := make([][]string, len(rows))
	for ri, row := range rows {
		cells[ri] = make([]string, cols)
		for ci := 0; ci < cols; ci++ {
			var cell string
			if ci < len(row) {
				cell = EscapeCell(row[ci])
			}
			cells[ri][ci] = cell
			if len(cell) > widths[ci] {
				widths[ci] = len(cell)
			}
		}
	}
	for ci := range widths {
		if widths[ci] < 3 {
			widths[ci] = 3
		}
	}

	writeRow := func(row []string) {
		b.WriteByte('|')
		for ci, cell := range row {
			fmt.Fprintf(b, " %-*s |", widths[ci], cell)
		}
		b.WriteByte('\n')
	}

	writeRow(cells[0])
	b.WriteByte('|')
	for _, w := range widths {
		b.WriteByte(' ')
		b.WriteString(strings.Repeat("-", w))
		b.WriteString(" |")
	}
	b.WriteByte('\n')
	for _, row := range cells[1:] {
		writeRow(row)
	}
	b.WriteByte('\n')
}

func writeBlockquote(b *strings.Builder, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

func writeReferences(b *strings.Builder, refs []string) {
	for i, ref := range refs {
		fmt.Fprintf(b, "%d. %s\n", i+1, EscapeText(ref))
	}
	if len(refs) > 0 {
		b.WriteByte('\n')
	}
}

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	`[`, `\[`,
	`]`, `\]`,
	"`", "\\`",
)

// EscapeText escapes Markdown control characters in extracted prose so
// source text like "a_b" cannot toggle emphasis in the output.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

// EscapeCell escapes a table cell. Pipes get escaped on top of the prose
// set because they delimit columns.
func EscapeCell(s string) string {
	return strings.ReplaceAll(EscapeText(s), "|", `\|`)
}
