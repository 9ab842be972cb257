// Package vision describes extracted figures through a pluggable
// multimodal backend. Every backend failure is scoped to the figure that
// triggered it; the conversion job itself never fails here.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend failure modes. All of them are non-fatal and scoped to a
// single figure.
var (
	ErrUnavailable     = errors.New("vision backend unavailable")
	ErrInvalidResponse = errors.New("invalid vision response")
)

// Describer is the narrow capability interface over a multimodal model
type Describer interface {
	// DescribeImage returns a natural-language description of the image
	DescribeImage(ctx context.Context, image []byte, instruction string) (string, error)
	// DescribeText runs a text-only instruction, used for table cleanup
	// when table vision is enabled
	DescribeText(ctx context.Context, instruction string) (string, error)
}

// DocumentContext carries paper-level context into the prompts
type DocumentContext struct {
	Title    string
	Abstract string
}

const figurePromptTemplate = `You are analyzing a figure from an academic paper.

Paper context: %s
%s
Describe this figure in detail including:
1. What type of visualization it is (graph, diagram, photo, flowchart, table, etc.)
2. All visible data, labels, axes, legends
3. Key findings or patterns shown
4. How it relates to the paper's argument
5. Any notable features or annotations

Provide a comprehensive description that would allow someone to understand the figure without seeing it.

Format your response as:
TYPE: [type of visualization]
DESCRIPTION: [detailed description]`

const tablePromptTemplate = `You are cleaning up a table extracted from an academic paper.

Paper context: %s
Table caption: %s

The raw cell grid below was recovered by position heuristics and may have
misaligned columns. Reconstruct the most plausible table and respond with
a GitHub-flavoured Markdown table only, no commentary.

%s`

// FigurePrompt builds the instruction sent alongside figure image bytes
func FigurePrompt(doc DocumentContext) string {
	title := doc.Title
	if title == "" {
		title = "Unknown"
	}
	abstract := ""
	if doc.Abstract != "" {
		snippet := doc.Abstract
		if len(snippet) > 500 {
			snippet = snippet[:500] + "..."
		}
		abstract = "Abstract: " + snippet + "\n"
	}
	return fmt.Sprintf(figurePromptTemplate, title, abstract)
}

// TablePrompt builds the text-only instruction for table reconstruction
func TablePrompt(doc DocumentContext, caption string, rows [][]string) string {
	title := doc.Title
	if title == "" {
		title = "Unknown"
	}
	var grid strings.Builder
	for _, row := range rows {
		grid.WriteString(strings.Join(row, " | "))
		grid.WriteString("\n")
	}
	return fmt.Sprintf(tablePromptTemplate, title, caption, grid.String())
}

// ParseResponse splits a model reply into the TYPE/DESCRIPTION envelope
// the prompt asks for, tolerating free-form replies
func ParseResponse(content string) (figureType, description string) {
	figureType = "unknown"
	description = strings.TrimSpace(content)

	offset := 0
	for _, line := range strings.Split(content, "\n") {
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "TYPE:") {
			figureType = strings.ToLower(strings.TrimSpace(line[len("TYPE:"):]))
		} else if strings.HasPrefix(upper, "DESCRIPTION:") {
			description = strings.TrimSpace(content[offset+len("DESCRIPTION:"):])
			break
		}
		offset += len(line) + 1
	}
	return figureType, description
}

// DetectImageMIME sniffs the MIME type of raw image bytes, defaulting to
// PNG for anything unrecognised
func DetectImageMIME(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF")):
		return "image/gif"
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	default:
		return "image/png"
	}
}
