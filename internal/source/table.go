package source

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-ratings/internal/fetcher"
	"github.com/sells-group/brand-ratings/internal/model"
)

// KindColumn is the header naming each row's fact kind.
const KindColumn = "kind"

// listColumns hold several values separated by the feed's list separator.
var listColumns = map[string]bool{
	"brands":     true,
	"categories": true,
}

type rowStream func(ctx context.Context) (<-chan fetcher.Row, <-chan error)

// tableRecords converts a header row plus data rows into records. Blank rows
// are skipped, including any above the header. Dotted headers such as
// "company.url" build nested facts; blank cells are left out of the fact
// entirely.
func tableRecords(ctx context.Context, sep string, stream rowStream) (<-chan model.Record, <-chan error) {
	out := make(chan model.Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		// Stops the row producer if we bail out early.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		rows, rowErr := stream(ctx)

		var header []string
		kindCol := -1
		for row := range rows {
			if blankRow(row.Cells) {
				continue
			}
			if header == nil {
				var err error
				header, kindCol, err = parseHeader(row.Cells)
				if err != nil {
					errCh <- eris.Wrapf(err, "table: line %d", row.Line)
					return
				}
				continue
			}

			rec, err := rowRecord(header, kindCol, row.Cells, sep)
			if err != nil {
				errCh <- eris.Wrapf(err, "table: line %d", row.Line)
				return
			}

			select {
			case out <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "table: context cancelled")
				return
			}
		}

		if err := <-rowErr; err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func parseHeader(row []string) ([]string, int, error) {
	header := make([]string, len(row))
	kindCol := -1
	seen := make(map[string]bool, len(row))
	for i, cell := range row {
		name := strings.TrimSpace(cell)
		header[i] = name
		if name == "" {
			continue
		}
		if seen[name] {
			return nil, -1, eris.Errorf("duplicate column %q", name)
		}
		seen[name] = true
		if name == KindColumn {
			kindCol = i
		}
	}
	if kindCol < 0 {
		return nil, -1, eris.Errorf("header has no %q column", KindColumn)
	}
	return header, kindCol, nil
}

func rowRecord(header []string, kindCol int, row []string, sep string) (model.Record, error) {
	kind := ""
	if kindCol < len(row) {
		kind = strings.TrimSpace(row[kindCol])
	}
	if kind == "" {
		return model.Record{}, eris.New("row has no kind")
	}

	fact := model.Map{}
	for i, name := range header {
		if i >= len(row) {
			break
		}
		if i == kindCol || name == "" {
			continue
		}
		cell := strings.TrimSpace(row[i])
		if cell == "" {
			continue
		}

		var v model.Value = model.String(cell)
		parts := strings.Split(name, ".")
		if listColumns[parts[len(parts)-1]] {
			v = splitList(cell, sep)
		}
		if err := setPath(fact, parts, v); err != nil {
			return model.Record{}, eris.Wrapf(err, "column %q", name)
		}
	}
	return model.NewRecord(kind, fact), nil
}

// setPath stores v under the dotted path. A scalar already sitting where a
// mapping is needed becomes that mapping's name field, so "company" and
// "company.url" columns combine into {"company": ..., "url": ...}.
func setPath(m model.Map, parts []string, v model.Value) error {
	for _, p := range parts[:len(parts)-1] {
		if p == "" {
			return eris.New("empty path segment")
		}
		switch cur := m[p].(type) {
		case nil:
			next := model.Map{}
			m[p] = next
			m = next
		case model.Map:
			m = cur
		default:
			next := model.Map{p: cur}
			m[p] = next
			m = next
		}
	}

	last := parts[len(parts)-1]
	if last == "" {
		return eris.New("empty path segment")
	}
	if existing, ok := m[last].(model.Map); ok && model.IsScalar(v) {
		existing[last] = v
		return nil
	}
	m[last] = v
	return nil
}

func splitList(cell, sep string) model.List {
	var out model.List
	for _, part := range strings.Split(cell, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, model.String(part))
		}
	}
	return out
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
