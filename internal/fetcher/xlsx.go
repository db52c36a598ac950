package fetcher

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects the worksheet to read. SheetName wins over SheetIndex.
type XLSXOptions struct {
	SheetIndex int
	SheetName  string
}

// StreamXLSX parses a workbook held in memory and sends one sheet's rows,
// the header included, to a channel. Trailing empty cells are dropped.
// Both channels are closed when processing completes.
func StreamXLSX(ctx context.Context, data []byte, opts XLSXOptions) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		wb, err := xlsx.OpenBinary(data)
		if err != nil {
			errCh <- eris.Wrap(err, "xlsx: open workbook")
			return
		}
		sheet, err := pickSheet(wb, opts)
		if err != nil {
			errCh <- err
			return
		}

		for i, row := range sheet.Rows {
			if ctx.Err() != nil {
				break
			}
			if row == nil {
				continue
			}
			select {
			case rowCh <- Row{Line: i + 1, Cells: cellText(row.Cells)}:
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
	}()

	return rowCh, errCh
}

func pickSheet(wb *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		if sheet, ok := wb.Sheet[opts.SheetName]; ok {
			return sheet, nil
		}
		names := make([]string, len(wb.Sheets))
		for i, s := range wb.Sheets {
			names[i] = s.Name
		}
		return nil, eris.Errorf("xlsx: sheet %q not found (have %s)", opts.SheetName, strings.Join(names, ", "))
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(wb.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (workbook has %d sheets)", opts.SheetIndex, len(wb.Sheets))
	}
	return wb.Sheets[opts.SheetIndex], nil
}

func cellText(cells []*xlsx.Cell) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		if c != nil {
			out[i] = c.String()
		}
	}
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	return out
}
