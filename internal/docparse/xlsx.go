package docparse

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/loan-extractor/internal/entity"
)

// readXLSX returns one page per non-empty sheet, in workbook order.
func readXLSX(data []byte) ([]entity.PageContent, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	var pages []entity.PageContent
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		rows = trimEmptyRows(rows)
		if len(rows) == 0 {
			continue
		}

		lines := make([]string, 0, len(rows)+1)
		lines = append(lines, sheet)
		for _, r := range rows {
			lines = append(lines, strings.Join(r, "\t"))
		}
		pages = append(pages, entity.PageContent{
			PageNumber: len(pages) + 1,
			Text:       strings.Join(lines, "\n"),
			Markdown:   "## " + sheet + "\n\n" + strings.TrimRight(MarkdownTable(rows), "\n"),
			Tables:     []entity.Table{{Rows: rows}},
		})
	}
	return pages, nil
}

func trimEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, r := range rows {
		for _, c := range r {
			if strings.TrimSpace(c) != "" {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
