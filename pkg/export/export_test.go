package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func broadsheetTable() Table {
	return Table{
		Title:   "JSS1 Term 1 Broadsheet",
		Headers: []string{"Student", "ENG", "MATH", "Average", "Position"},
		Rows: [][]string{
			{"s1", "70", "90", "80.00", "1"},
			{"s2", "50"},
		},
	}
}

func TestCSVRendererPadsShortRows(t *testing.T) {
	out, err := CSVRenderer{}.Render(broadsheetTable())
	require.NoError(t, err)
	assert.Equal(t, "Student,ENG,MATH,Average,Position\ns1,70,90,80.00,1\ns2,50,,,\n", string(out))
}

func TestPDFRendererProducesDocument(t *testing.T) {
	out, err := PDFRenderer{}.Render(broadsheetTable())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))

	wide := broadsheetTable()
	for i := 0; i < 10; i++ {
		wide.Headers = append(wide.Headers, "X")
	}
	_, err = PDFRenderer{}.Render(wide)
	require.NoError(t, err)
}

func TestRenderersRequireHeaders(t *testing.T) {
	_, err := CSVRenderer{}.Render(Table{})
	assert.Error(t, err)
	_, err = PDFRenderer{}.Render(Table{})
	assert.Error(t, err)
}

func TestForFormat(t *testing.T) {
	r, err := ForFormat("PDF")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", r.ContentType())

	r, err = ForFormat("csv")
	require.NoError(t, err)
	assert.Equal(t, "csv", r.Extension())

	_, err = ForFormat("xlsx")
	assert.Error(t, err)
}
