package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Row is one line of a tabular feed.
type Row struct {
	// Line is the 1-based line (CSV) or row (XLSX) the cells came from.
	Line  int
	Cells []string
}

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // 0 = none
	LazyQuotes bool
	TrimSpace  bool
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// StreamCSV reads CSV and sends every row, the header included, to a
// channel. Rows may have differing field counts, and a leading UTF-8 byte
// order mark (as written by spreadsheet exports) is dropped.
// Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		br := bufio.NewReader(r)
		if head, _ := br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
			_, _ = br.Discard(len(utf8BOM))
		}

		reader := csv.NewReader(br)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		for ctx.Err() == nil {
			cells, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			if opts.TrimSpace {
				for i := range cells {
					cells[i] = strings.TrimSpace(cells[i])
				}
			}

			line, _ := reader.FieldPos(0)
			select {
			case rowCh <- Row{Line: line, Cells: cells}:
			case <-ctx.Done():
			}
		}
		errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
	}()

	return rowCh, errCh
}
