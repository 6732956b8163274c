package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = &CommandResult{
	Columns: []string{"offset", "value"},
	Rows: [][]string{
		{"0", "0x01"},
		{"1", "a,b"},
	},
}

func render(t *testing.T, format string, res *CommandResult) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := New(format, &buf)
	require.NoError(t, err)
	require.NoError(t, w.Write(res))
	return buf.String()
}

func TestWriters(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"", "offset\tvalue\n0\t0x01\n1\ta,b\n"},
		{FormatTSV, "offset\tvalue\n0\t0x01\n1\ta,b\n"},
		{FormatCSV, "offset,value\n0,0x01\n1,\"a,b\"\n"},
		{FormatJSON, "{\"offset\":\"0\",\"value\":\"0x01\"}\n{\"offset\":\"1\",\"value\":\"a,b\"}\n"},
		{FormatTable, "OFFSET  VALUE\n0       0x01\n1       a,b\n"},
		{"TSV", "offset\tvalue\n0\t0x01\n1\ta,b\n"},
	}
	for _, tc := range tests {
		t.Run(tc.format, func(t *testing.T) {
			assert.Equal(t, tc.want, render(t, tc.format, sample))
		})
	}
}

func TestJSONWriterRowWiderThanColumns(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(FormatJSON, &buf)
	require.NoError(t, err)
	assert.Error(t, w.Write(&CommandResult{Columns: []string{"a"}, Rows: [][]string{{"1", "2"}}}))
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := New("xml", &bytes.Buffer{})
	assert.ErrorContains(t, err, "unsupported format")
}
