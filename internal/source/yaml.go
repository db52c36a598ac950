package source

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/brand-ratings/internal/model"
)

// decodeYAML streams records from a YAML feed. Each document is either one
// record or a sequence of records; a record is a {kind, fact} mapping or a
// [kind, fact] pair.
func decodeYAML(ctx context.Context, r io.Reader) (<-chan model.Record, <-chan error) {
	out := make(chan model.Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		dec := yaml.NewDecoder(r)
		for doc := 1; ; doc++ {
			var raw any
			if err := dec.Decode(&raw); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				errCh <- eris.Wrapf(err, "yaml: decode document %d", doc)
				return
			}

			recs, err := yamlRecords(raw)
			if err != nil {
				errCh <- eris.Wrapf(err, "yaml: document %d", doc)
				return
			}

			for _, rec := range recs {
				select {
				case out <- rec:
				case <-ctx.Done():
					errCh <- eris.Wrap(ctx.Err(), "yaml: context cancelled")
					return
				}
			}
		}
	}()

	return out, errCh
}

func yamlRecords(raw any) ([]model.Record, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]model.Record, 0, len(v))
		for i, e := range v {
			rec, err := yamlRecord(e)
			if err != nil {
				return nil, eris.Wrapf(err, "record %d", i+1)
			}
			out = append(out, rec)
		}
		return out, nil
	default:
		rec, err := yamlRecord(v)
		if err != nil {
			return nil, err
		}
		return []model.Record{rec}, nil
	}
}

func yamlRecord(x any) (model.Record, error) {
	if pair, ok := x.([]any); ok {
		if len(pair) != 2 {
			return model.Record{}, eris.Errorf("record pair has %d elements, want 2", len(pair))
		}
		return model.RecordFromNative(map[string]any{"kind": pair[0], "fact": pair[1]})
	}
	return model.RecordFromNative(x)
}
