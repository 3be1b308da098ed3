package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParseXLSX renders each worksheet as a heading plus pipe-separated
// rows and keeps the raw grid for structured capture.
func ParseXLSX(body []byte) (*Document, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer workbook.Close()

	var markdownLines []string
	var textParts []string
	var sheets []Sheet

	for _, name := range workbook.GetSheetList() {
		rows, err := workbook.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", name, err)
		}
		markdownLines = append(markdownLines, "# "+name)
		sheet := Sheet{Name: name}
		for _, row := range rows {
			empty := true
			for _, cell := range row {
				if strings.TrimSpace(cell) != "" {
					empty = false
					break
				}
			}
			if empty {
				continue
			}
			sheet.Rows = append(sheet.Rows, row)
			markdownLines = append(markdownLines, strings.Join(row, " | "))
			for _, cell := range row {
				if strings.TrimSpace(cell) != "" {
					textParts = append(textParts, cell)
				}
			}
		}
		sheets = append(sheets, sheet)
	}

	return &Document{
		Markdown: strings.TrimSpace(strings.Join(markdownLines, "\n")),
		Text:     collapseWhitespace(strings.Join(textParts, " ")),
		Meta:     map[string]any{"sheet_count": len(sheets)},
		Sheets:   sheets,
	}, nil
}
