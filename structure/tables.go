package structure

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hagyro/paper-md/models"
)

var tableCaptionPattern = regexp.MustCompile(`(?i)^table\s*\d+`)

// detectedTable is a table region with its vertical anchor, used to
// splice the node back into reading order
type detectedTable struct {
	top  float64
	node models.StructureNode
}

// candidateRow is one baseline of short runs that may form a table row
type candidateRow struct {
	y    float64
	runs []int // indexes into page.Runs, ordered by x
}

// detectTables finds tight grids of short aligned runs on a page: at
// least 2 columns by 2 rows with shared column positions. Cell text is
// captured as unparsed strings; runs inside a detected grid are consumed
// from the paragraph stream. Best-effort only.
func detectTables(page *models.RawPage, bodySize float64) ([]detectedTable, map[int]bool) {
	consumed := make(map[int]bool)
	rows := candidateRows(page, bodySize)
	if len(rows) < 2 {
		return nil, consumed
	}

	var tables []detectedTable
	i := 0
	for i < len(rows) {
		j := i
		for j+1 < len(rows) &&
			rows[j+1].y-rows[j].y <= bodySize*2.5 &&
			alignedColumns(page, rows[j], rows[j+1], bodySize) >= 2 {
			j++
		}

		if j > i { // at least two stacked aligned rows
			region := rows[i : j+1]
			var cells [][]string
			for _, row := range region {
				var rowCells []string
				for _, ri := range row.runs {
					rowCells = append(rowCells, collapseSpaces(page.Runs[ri].Text))
					consumed[ri] = true
				}
				cells = append(cells, rowCells)
			}
			tables = append(tables, detectedTable{
				top: region[0].y,
				node: models.StructureNode{
					Kind:    models.NodeTable,
					Page:    page.Number,
					Rows:    cells,
					Caption: consumeTableCaption(page, region[0].y, consumed),
				},
			})
		}
		i = j + 1
	}

	return tables, consumed
}

// candidateRows buckets the page's short runs into baselines holding at
// least two cells each
func candidateRows(page *models.RawPage, bodySize float64) []candidateRow {
	tolerance := bodySize * 0.5
	if tolerance <= 0 {
		tolerance = 5.0
	}

	indexes := make([]int, 0, len(page.Runs))
	for ri := range page.Runs {
		text := strings.TrimSpace(page.Runs[ri].Text)
		if text == "" || len(text) > maxCellLen {
			continue
		}
		if captionPattern.MatchString(text) {
			continue
		}
		indexes = append(indexes, ri)
	}
	sort.Slice(indexes, func(a, b int) bool {
		ra, rb := page.Runs[indexes[a]].BBox, page.Runs[indexes[b]].BBox
		if ra.Y0 != rb.Y0 {
			return ra.Y0 < rb.Y0
		}
		return ra.X0 < rb.X0
	})

	var rows []candidateRow
	for _, ri := range indexes {
		y := page.Runs[ri].BBox.Y0
		if len(rows) > 0 && y-rows[len(rows)-1].y < tolerance {
			rows[len(rows)-1].runs = append(rows[len(rows)-1].runs, ri)
			continue
		}
		rows = append(rows, candidateRow{y: y, runs: []int{ri}})
	}

	out := rows[:0]
	for _, row := range rows {
		if len(row.runs) >= 2 {
			sort.Slice(row.runs, func(a, b int) bool {
				return page.Runs[row.runs[a]].BBox.X0 < page.Runs[row.runs[b]].BBox.X0
			})
			out = append(out, row)
		}
	}
	return out
}

// alignedColumns counts cell start positions shared between two rows
func alignedColumns(page *models.RawPage, a, b candidateRow, bodySize float64) int {
	tolerance := bodySize
	if tolerance <= 0 {
		tolerance = 10.0
	}
	count := 0
	for _, ra := range a.runs {
		xa := page.Runs[ra].BBox.X0
		for _, rb := range b.runs {
			if abs(xa-page.Runs[rb].BBox.X0) <= tolerance {
				count++
				break
			}
		}
	}
	return count
}

// consumeTableCaption looks for a "Table N" label run just above the
// table region and removes it from the paragraph stream
func consumeTableCaption(page *models.RawPage, top float64, consumed map[int]bool) string {
	bestIdx := -1
	bestDist := 0.0
	for ri := range page.Runs {
		if consumed[ri] {
			continue
		}
		text := strings.TrimSpace(page.Runs[ri].Text)
		if len(text) > maxCaptionLen || !tableCaptionPattern.MatchString(text) {
			continue
		}
		dist := abs(top - page.Runs[ri].BBox.Y0)
		if bestIdx == -1 || dist < bestDist {
			bestIdx = ri
			bestDist = dist
		}
	}
	if bestIdx == -1 {
		return ""
	}
	consumed[bestIdx] = true
	return collapseSpaces(page.Runs[bestIdx].Text)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
