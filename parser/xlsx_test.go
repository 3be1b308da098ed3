package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Servers"))
	require.NoError(t, f.SetCellValue("Servers", "A1", "hostname"))
	require.NoError(t, f.SetCellValue("Servers", "B1", "role"))
	require.NoError(t, f.SetCellValue("Servers", "A2", "db01"))
	require.NoError(t, f.SetCellValue("Servers", "B2", "postgres"))
	// row 3 left empty on purpose
	require.NoError(t, f.SetCellValue("Servers", "A4", "web01"))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParseXLSX(t *testing.T) {
	doc, err := ParseXLSX(buildWorkbook(t))
	require.NoError(t, err)

	assert.Contains(t, doc.Markdown, "# Servers")
	assert.Contains(t, doc.Markdown, "hostname | role")
	assert.Contains(t, doc.Text, "db01")
	assert.Equal(t, 1, doc.Meta["sheet_count"])

	require.Len(t, doc.Sheets, 1)
	assert.Equal(t, "Servers", doc.Sheets[0].Name)
	assert.Len(t, doc.Sheets[0].Rows, 3, "empty rows are dropped")
}

func TestParseXLSXRejectsGarbage(t *testing.T) {
	_, err := ParseXLSX([]byte("not a workbook"))
	assert.Error(t, err)
}
