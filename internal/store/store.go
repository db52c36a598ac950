// Package store persists campaign snapshots. Every backend keys rows by
// campaign_id plus the table's natural key, so campaigns never overwrite each
// other's rows.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-ratings/internal/model"
)

// Writer is the storage contract a snapshot commit needs.
type Writer interface {
	// DeleteCampaignRows removes every row of table owned by campaignID and
	// reports how many were removed.
	DeleteCampaignRows(ctx context.Context, table model.Table, campaignID string) (int64, error)
	// Upsert inserts row, or replaces the row with the same keyFields values.
	// Calling it twice with the same row leaves the same state.
	Upsert(ctx context.Context, table model.Table, keyFields []string, row model.Map) error
}

// Tx is a Writer whose writes become visible together on Commit.
type Tx interface {
	Writer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transactional is implemented by backends that can group writes.
type Transactional interface {
	Begin(ctx context.Context) (Tx, error)
}

// SchemaEnsurer is implemented by backends with a fixed column set that must
// grow to hold attributes first seen in a snapshot.
//
// EnsureColumns matches cols to the table's columns case-insensitively, adds
// the missing ones and widens any whose type cannot hold the wanted one. It
// returns one column per entry of cols, in order, carrying the stored name
// and the type rows must be conformed to.
type SchemaEnsurer interface {
	EnsureColumns(ctx context.Context, table model.Table, cols []model.Column) ([]model.Column, error)
}

// BulkWriter is implemented by writers with a faster path for many rows.
type BulkWriter interface {
	UpsertRows(ctx context.Context, table model.Table, keyFields []string, rows []model.Map) (int64, error)
}

// Store is a complete snapshot backend.
type Store interface {
	Writer
	Transactional

	// Rows returns a campaign's rows of one table ordered by natural key.
	Rows(ctx context.Context, table model.Table, campaignID string) ([]model.Map, error)
	// LastScraped returns each stored campaign's last commit time.
	LastScraped(ctx context.Context) (map[string]time.Time, error)

	Migrate(ctx context.Context) error
	Close() error
}

// columnOrder returns the row's column names: key fields first in key order,
// then the remaining attributes sorted.
func columnOrder(keyFields []string, row model.Map) []string {
	cols := make([]string, 0, len(row))
	isKey := make(map[string]bool, len(keyFields))
	for _, k := range keyFields {
		cols = append(cols, k)
		isKey[k] = true
	}
	for _, k := range row.Keys() {
		if !isKey[k] {
			cols = append(cols, k)
		}
	}
	return cols
}

// unionColumns returns columnOrder over every row.
func unionColumns(keyFields []string, rows []model.Map) []string {
	seen := make(map[string]bool)
	for _, k := range keyFields {
		seen[k] = true
	}
	var extra []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(append([]string{}, keyFields...), extra...)
}

// sqlValue converts a fact value into a database driver argument. Key fields
// are never NULL; nested values are stored as JSON text.
func sqlValue(v model.Value, key bool) (any, error) {
	switch x := v.(type) {
	case nil, model.Null:
		if key {
			return "", nil
		}
		return nil, nil
	case model.String:
		return string(x), nil
	case model.Int:
		return int64(x), nil
	case model.Float:
		return float64(x), nil
	case model.Bool:
		return bool(x), nil
	default:
		b, err := json.Marshal(model.ToNative(v))
		if err != nil {
			return nil, eris.Wrap(err, "store: encode nested value")
		}
		return string(b), nil
	}
}

// rowArgs returns the driver arguments for row in column order.
func rowArgs(cols []string, nKeys int, row model.Map) ([]any, error) {
	args := make([]any, len(cols))
	for i, c := range cols {
		a, err := sqlValue(row[c], i < nKeys)
		if err != nil {
			return nil, eris.Wrapf(err, "store: column %s", c)
		}
		args[i] = a
	}
	return args, nil
}

// parseLastScraped reads a stored last_scraped value.
func parseLastScraped(s string) (time.Time, error) {
	t, err := time.Parse(model.LastScrapedFormat, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "store: parse last_scraped %q", s)
	}
	return t.UTC(), nil
}
