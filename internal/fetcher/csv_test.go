package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan Row, errCh <-chan error) ([][]string, error) {
	t.Helper()
	rows, err := collectLines(t, rowCh, errCh)
	var cells [][]string
	for _, r := range rows {
		cells = append(cells, r.Cells)
	}
	return cells, err
}

func collectLines(t *testing.T, rowCh <-chan Row, errCh <-chan error) ([]Row, error) {
	t.Helper()
	var rows []Row
	for row := range rowCh {
		rows = append(rows, row)
	}
	var firstErr error
	for err := range errCh {
		if firstErr == nil {
			firstErr = err
		}
	}
	return rows, firstErr
}

func TestStreamCSV_Basic(t *testing.T) {
	input := "kind,company,judgment\nrating,Acme,-1\nrating,Globex,2\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"kind", "company", "judgment"}, rows[0])
	assert.Equal(t, []string{"rating", "Globex", "2"}, rows[2])
}

func TestStreamCSV_Options(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  CSVOptions
		want  [][]string
	}{
		{
			name:  "pipe delimited",
			input: "a|b\n1|2\n",
			opts:  CSVOptions{Delimiter: '|'},
			want:  [][]string{{"a", "b"}, {"1", "2"}},
		},
		{
			name:  "trim space",
			input: " a , b \n",
			opts:  CSVOptions{TrimSpace: true},
			want:  [][]string{{"a", "b"}},
		},
		{
			name:  "comment lines",
			input: "# generated\na,b\n",
			opts:  CSVOptions{Comment: '#'},
			want:  [][]string{{"a", "b"}},
		},
		{
			name:  "lazy quotes",
			input: "a \"quoted\" value,b\n",
			opts:  CSVOptions{LazyQuotes: true},
			want:  [][]string{{"a \"quoted\" value", "b"}},
		},
		{
			name:  "ragged rows",
			input: "a,b,c\n1\n",
			want:  [][]string{{"a", "b", "c"}, {"1"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(tt.input), tt.opts)
			rows, err := collectRows(t, rowCh, errCh)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestStreamCSV_LineNumbers(t *testing.T) {
	input := "kind,company\n# skipped\n\nrating,\"Acme\nInc\"\nbrand,Globex\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{Comment: '#'})
	rows, err := collectLines(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 1, rows[0].Line)
	assert.Equal(t, 4, rows[1].Line)
	assert.Equal(t, []string{"rating", "Acme\nInc"}, rows[1].Cells)
	assert.Equal(t, 6, rows[2].Line)
}

func TestStreamCSV_ByteOrderMark(t *testing.T) {
	input := "\xEF\xBB\xBFkind,company\nrating,Acme\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"kind", "company"}, {"rating", "Acme"}}, rows)
}

func TestStreamCSV_Empty(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_ReadError(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,\"b\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

func TestStreamCSV_ContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a,b\n"), CSVOptions{})

	rows, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Empty(t, rows)
	assert.Contains(t, err.Error(), "context cancelled")
}
