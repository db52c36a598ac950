// Package source turns campaign fact feeds into streams of (kind, fact)
// records for the expander.
package source

import (
	"bytes"
	"context"
	"os"
	"path"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-ratings/internal/fetcher"
	"github.com/sells-group/brand-ratings/internal/model"
)

// Source streams the records of one campaign.
type Source interface {
	// Name returns the campaign ID the records belong to.
	Name() string

	// Records streams every record of the feed. Both channels are closed when
	// the feed is exhausted or an error was sent.
	Records(ctx context.Context) (<-chan model.Record, <-chan error)
}

// Format is a fact feed encoding.
type Format string

const (
	JSON  Format = "json"  // array of records
	JSONL Format = "jsonl" // one record per line
	YAML  Format = "yaml"  // sequence of records, or one record per document
	CSV   Format = "csv"   // header row plus one fact per row
	XLSX  Format = "xlsx"  // like CSV, one sheet
)

// DefaultListSeparator splits brands and categories cells in tabular feeds.
const DefaultListSeparator = ";"

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case JSON, JSONL, YAML, CSV, XLSX:
		return f, nil
	case "yml":
		return YAML, nil
	case "ndjson":
		return JSONL, nil
	default:
		return "", eris.Errorf("source: unknown format %q (valid: json, jsonl, yaml, csv, xlsx)", s)
	}
}

// Options describes one campaign feed.
type Options struct {
	ID     string
	Format string // inferred from the path or URL extension when empty
	Path   string
	URL    string
	// Sheet selects an XLSX sheet by name. The first sheet is used when empty.
	Sheet         string
	ListSeparator string
}

// Feed is a Source backed by a local file or a URL.
type Feed struct {
	id      string
	format  Format
	path    string
	url     string
	sheet   string
	listSep string
	fetcher fetcher.Fetcher
}

// New validates opts and builds a feed. f is only used for URL feeds and may
// be nil for local files.
func New(opts Options, f fetcher.Fetcher) (*Feed, error) {
	if opts.ID == "" {
		return nil, eris.New("source: campaign id is required")
	}
	if (opts.Path == "") == (opts.URL == "") {
		return nil, eris.Errorf("source: %s: exactly one of path or url is required", opts.ID)
	}
	if opts.URL != "" && f == nil {
		return nil, eris.Errorf("source: %s: url feed needs a fetcher", opts.ID)
	}

	name := opts.Format
	if name == "" {
		name = extension(opts.Path, opts.URL)
	}
	format, err := ParseFormat(name)
	if err != nil {
		return nil, eris.Wrapf(err, "source: %s", opts.ID)
	}

	sep := opts.ListSeparator
	if sep == "" {
		sep = DefaultListSeparator
	}

	return &Feed{
		id:      opts.ID,
		format:  format,
		path:    opts.Path,
		url:     opts.URL,
		sheet:   opts.Sheet,
		listSep: sep,
		fetcher: f,
	}, nil
}

// Name returns the campaign ID.
func (s *Feed) Name() string { return s.id }

// Format returns the feed encoding.
func (s *Feed) Format() Format { return s.format }

// Location returns the feed's path or URL.
func (s *Feed) Location() string {
	if s.url != "" {
		return s.url
	}
	return s.path
}

// Records loads the feed and streams its records.
func (s *Feed) Records(ctx context.Context) (<-chan model.Record, <-chan error) {
	data, err := s.load(ctx)
	if err != nil {
		return failed(err)
	}

	switch s.format {
	case JSON:
		return fetcher.DecodeJSONArray[model.Record](ctx, bytes.NewReader(data))
	case JSONL:
		return fetcher.DecodeJSONLines[model.Record](ctx, bytes.NewReader(data))
	case YAML:
		return decodeYAML(ctx, bytes.NewReader(data))
	case CSV:
		return tableRecords(ctx, s.listSep, func(ctx context.Context) (<-chan fetcher.Row, <-chan error) {
			return fetcher.StreamCSV(ctx, bytes.NewReader(data), fetcher.CSVOptions{
				LazyQuotes: true,
				TrimSpace:  true,
			})
		})
	case XLSX:
		return tableRecords(ctx, s.listSep, func(ctx context.Context) (<-chan fetcher.Row, <-chan error) {
			return fetcher.StreamXLSX(ctx, data, fetcher.XLSXOptions{SheetName: s.sheet})
		})
	default:
		return failed(eris.Errorf("source: %s: unsupported format %q", s.id, s.format))
	}
}

func (s *Feed) load(ctx context.Context) ([]byte, error) {
	if s.url != "" {
		data, err := fetcher.ReadAll(ctx, s.fetcher, s.url)
		if err != nil {
			return nil, eris.Wrapf(err, "source: %s: fetch %s", s.id, s.url)
		}
		return data, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: %s: read %s", s.id, s.path)
	}
	return data, nil
}

func extension(filePath, rawURL string) string {
	p := filePath
	if rawURL != "" {
		p = rawURL
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
	}
	return strings.TrimPrefix(path.Ext(p), ".")
}

func failed(err error) (<-chan model.Record, <-chan error) {
	out := make(chan model.Record)
	errCh := make(chan error, 1)
	close(out)
	errCh <- err
	close(errCh)
	return out, errCh
}
