// Package snapshot accumulates a campaign's entities in memory, merging
// entities that share a natural key, until the campaign is ready to commit.
package snapshot

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-ratings/internal/model"
)

// keySep joins natural key parts into a map key. It cannot occur in cleaned
// text labels.
const keySep = "\x1f"

// Builder holds one campaign's snapshot. It is not safe for concurrent use;
// each campaign run owns its own Builder.
type Builder struct {
	tables map[model.Table]map[string]model.Map
	count  int
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{tables: make(map[model.Table]map[string]model.Map)}
}

// EncodeKey joins natural key values into the string used by Tables and Keys.
func EncodeKey(key []string) string {
	return strings.Join(key, keySep)
}

// Put adds an entity, merging it into any entity already stored under the
// same table and natural key. Put keeps its own copy of the fields.
func (b *Builder) Put(e model.Entity) error {
	if _, ok := model.LookupTable(string(e.Table)); !ok {
		return eris.Errorf("snapshot: unknown table %q", e.Table)
	}

	rows, ok := b.tables[e.Table]
	if !ok {
		rows = make(map[string]model.Map)
		b.tables[e.Table] = rows
	}

	k := EncodeKey(e.Key())
	stored, ok := rows[k]
	if !ok {
		stored = model.Map{}
		rows[k] = stored
		b.count++
	}
	Merge(stored, e.Fields)
	return nil
}

// Merge folds src into dst field by field. A null incoming value is ignored.
// Otherwise the incoming value replaces the stored one when the stored value
// is absent or blank, or when the incoming value is itself non-blank, so a
// blank never erases data and the last non-blank value wins.
func Merge(dst, src model.Map) {
	for k, v := range src {
		if model.IsNull(v) {
			continue
		}
		if model.IsBlank(dst[k]) || !model.IsBlank(v) {
			dst[k] = model.Clone(v)
		}
	}
}

// Tables exposes the snapshot as table -> encoded key -> fields. The maps are
// the Builder's own; callers must not modify them.
func (b *Builder) Tables() map[model.Table]map[string]model.Map {
	return b.tables
}

// Get returns the merged fields stored under a natural key.
func (b *Builder) Get(table model.Table, key ...string) (model.Map, bool) {
	m, ok := b.tables[table][EncodeKey(key)]
	return m, ok
}

// Keys returns a table's encoded keys in sorted order.
func (b *Builder) Keys(table model.Table) []string {
	rows := b.tables[table]
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entities returns a table's entities in key order.
func (b *Builder) Entities(table model.Table) []model.Entity {
	keys := b.Keys(table)
	out := make([]model.Entity, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.Entity{Table: table, Fields: b.tables[table][k]})
	}
	return out
}

// Len returns the number of distinct entities across all tables.
func (b *Builder) Len() int {
	return b.count
}

// Counts returns the number of entities per table.
func (b *Builder) Counts() map[model.Table]int {
	out := make(map[model.Table]int, len(b.tables))
	for t, rows := range b.tables {
		out[t] = len(rows)
	}
	return out
}

// Snapshot is the JSON shape of a built snapshot: table -> rows in key order.
type Snapshot map[model.Table][]model.Map

// Snapshot returns every non-empty table's rows in key order.
func (b *Builder) Snapshot() Snapshot {
	out := make(Snapshot, len(b.tables))
	for t := range b.tables {
		ents := b.Entities(t)
		if len(ents) == 0 {
			continue
		}
		rows := make([]model.Map, len(ents))
		for i, e := range ents {
			rows[i] = e.Fields
		}
		out[t] = rows
	}
	return out
}
