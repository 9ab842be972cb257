// Package metadata derives bibliographic metadata from the structure
// tree and the raw first pages of an academic paper.
package metadata

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hagyro/paper-md/models"
)

var (
	abstractPattern  = regexp.MustCompile(`(?i)^abstract\s*$`)
	keywordsPattern  = regexp.MustCompile(`(?i)^(keywords?|index terms)\s*[:\-—]?\s*(.*)$`)
	referencePattern = regexp.MustCompile(`(?i)^(?:\d+\.?\s*)?(references?|bibliography|citations?)\s*$`)
	refMarkerPattern = regexp.MustCompile(`(?:^|\s)(\[\d+\]|\(\d+\))\s+`)
	emailPattern     = regexp.MustCompile(`\S+@\S+`)
	pageNumPattern   = regexp.MustCompile(`^\d+$`)
	footnoteMarks    = regexp.MustCompile(`[\d*†‡§]`)
)

var affiliationKeywords = []string{
	"university", "institute", "department", "faculty",
	"school of", "college of", "laboratory", "research center", "centre",
}

var headerFooterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^page\s+\d+`),
	regexp.MustCompile(`(?i)^\d+\s+of\s+\d+`),
	regexp.MustCompile(`(?i)^preprint`),
	regexp.MustCompile(`(?i)^draft`),
	regexp.MustCompile(`(?i)^confidential`),
}

// Extract derives title, authors, abstract, keywords and references from
// the analyzed document. It is total: missing signals leave fields empty.
func Extract(pages []models.RawPage, nodes []models.StructureNode) models.DocumentMetadata {
	if len(pages) == 0 {
		return models.DocumentMetadata{}
	}

	meta := models.DocumentMetadata{}
	meta.Title = extractTitle(&pages[0], nodes)
	meta.Authors = extractAuthors(&pages[0], meta.Title)
	meta.Abstract = extractAbstract(nodes)
	meta.Keywords = extractKeywords(pages)
	meta.References = extractReferences(nodes)
	return meta
}

// extractTitle prefers the first level-1 heading on page one, falling
// back to the largest-font run in the top part of the page
func extractTitle(first *models.RawPage, nodes []models.StructureNode) string {
	for _, node := range nodes {
		if node.Page > 1 {
			break
		}
		if node.Kind == models.NodeHeading && node.Level == 1 {
			return node.Text
		}
	}

	candidates := make([]*models.TextRun, 0, len(first.Runs))
	for i := range first.Runs {
		run := &first.Runs[i]
		text := strings.TrimSpace(run.Text)
		if len(text) < 5 || len(text) > 300 {
			continue
		}
		if run.BBox.Y0 > first.Height*0.4 {
			continue
		}
		if isHeaderFooter(text) {
			continue
		}
		candidates = append(candidates, run)
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FontSize != candidates[j].FontSize {
			return candidates[i].FontSize > candidates[j].FontSize
		}
		return candidates[i].BBox.Y0 < candidates[j].BBox.Y0
	})
	return collapseSpaces(candidates[0].Text)
}

// extractAuthors reads the runs between the title and the first body
// paragraph, dropping emails and affiliation lines
func extractAuthors(first *models.RawPage, title string) []string {
	if title == "" {
		return nil
	}

	titleBottom := -1.0
	for i := range first.Runs {
		if collapseSpaces(first.Runs[i].Text) == title {
			titleBottom = first.Runs[i].BBox.Y1
			break
		}
	}
	if titleBottom < 0 {
		return nil
	}

	var authors []string
	for i := range first.Runs {
		run := &first.Runs[i]
		if run.BBox.Y0 <= titleBottom {
			continue
		}
		if run.BBox.Y0 > first.Height*0.4 {
			break
		}
		text := strings.TrimSpace(run.Text)
		if abstractPattern.MatchString(text) || strings.HasPrefix(strings.ToLower(text), "abstract") {
			break
		}
		if emailPattern.MatchString(text) || isAffiliation(text) {
			continue
		}
		authors = append(authors, parseAuthorNames(text)...)
	}
	return authors
}

// parseAuthorNames splits one author line on the common separators and
// strips footnote markers
func parseAuthorNames(text string) []string {
	text = footnoteMarks.ReplaceAllString(text, "")
	parts := []string{text}
	for _, sep := range []string{";", ",", "&", " and "} {
		if containsSep(text, sep) {
			parts = splitAll(text, sep)
			break
		}
	}

	var names []string
	for _, part := range parts {
		name := collapseSpaces(part)
		if len(name) > 2 && len(name) < 50 {
			names = append(names, name)
		}
	}
	return names
}

func containsSep(text, sep string) bool {
	if sep == " and " {
		return strings.Contains(strings.ToLower(text), sep)
	}
	return strings.Contains(text, sep)
}

func splitAll(text, sep string) []string {
	if sep == " and " {
		// Case-insensitive split on the word
		re := regexp.MustCompile(`(?i)\s+and\s+`)
		return re.Split(text, -1)
	}
	return strings.Split(text, sep)
}

// extractAbstract gathers the paragraphs between an "abstract" heading
// and the next heading
func extractAbstract(nodes []models.StructureNode) string {
	var sb strings.Builder
	inAbstract := false
	for _, node := range nodes {
		switch node.Kind {
		case models.NodeHeading:
			if inAbstract {
				return strings.TrimSpace(sb.String())
			}
			if abstractPattern.MatchString(node.Text) {
				inAbstract = true
			}
		case models.NodeParagraph:
			if inAbstract {
				if sb.Len() > 0 {
					sb.WriteString("\n\n")
				}
				sb.WriteString(node.Text)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// extractKeywords finds a keywords/index-terms label in the first pages
// and splits its payload, deduplicating case-insensitively while keeping
// first-occurrence order
func extractKeywords(pages []models.RawPage) []string {
	limit := len(pages)
	if limit > 3 {
		limit = 3
	}

	for pi := 0; pi < limit; pi++ {
		for ri := range pages[pi].Runs {
			text := strings.TrimSpace(pages[pi].Runs[ri].Text)
			m := keywordsPattern.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			payload := m[2]
			// Label on its own line: the payload is the next run
			if payload == "" && ri+1 < len(pages[pi].Runs) {
				payload = pages[pi].Runs[ri+1].Text
			}
			if kws := splitKeywords(payload); len(kws) > 0 {
				return kws
			}
		}
	}
	return nil
}

func splitKeywords(payload string) []string {
	parts := []string{payload}
	for _, sep := range []string{";", ",", "•", "|"} {
		if strings.Contains(payload, sep) {
			parts = strings.Split(payload, sep)
			break
		}
	}

	var keywords []string
	seen := make(map[string]bool)
	for _, part := range parts {
		kw := collapseSpaces(strings.Trim(part, ". "))
		if kw == "" || len(kw) >= 50 {
			continue
		}
		key := strings.ToLower(kw)
		if seen[key] {
			continue
		}
		seen[key] = true
		keywords = append(keywords, kw)
	}
	return keywords
}

// extractReferences collects everything after a references heading and
// segments it into one entry per citation start
func extractReferences(nodes []models.StructureNode) []string {
	var paras []string
	inRefs := false
	for _, node := range nodes {
		switch node.Kind {
		case models.NodeHeading:
			if inRefs {
				inRefs = false
			}
			if referencePattern.MatchString(node.Text) {
				inRefs = true
			}
		case models.NodeParagraph:
			if inRefs {
				paras = append(paras, node.Text)
			}
		}
	}
	if len(paras) == 0 {
		return nil
	}

	joined := strings.Join(paras, "\n")
	if locs := refMarkerPattern.FindAllStringIndex(joined, -1); len(locs) > 1 {
		return segmentByMarkers(joined, locs)
	}

	// No bracketed markers: one entry per paragraph break
	var refs []string
	for _, p := range paras {
		if entry := collapseSpaces(p); len(entry) >= 10 {
			refs = append(refs, entry)
		}
	}
	return refs
}

func segmentByMarkers(text string, locs [][]int) []string {
	var refs []string
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		entry := collapseSpaces(text[loc[0]:end])
		if len(entry) >= 10 {
			refs = append(refs, entry)
		}
	}
	return refs
}

func isHeaderFooter(text string) bool {
	if pageNumPattern.MatchString(strings.TrimSpace(text)) {
		return true
	}
	for _, p := range headerFooterPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func isAffiliation(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range affiliationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
