package store

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-ratings/internal/model"
)

// dialect captures the SQL differences between the SQLite and Postgres
// backends.
type dialect struct {
	quote    func(string) string
	typeName func(model.ColumnType) string
	// placeholder returns the i'th (1-based) bind parameter.
	placeholder func(i int) string
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// createTableSQL returns the CREATE TABLE statement for a table spec. Key
// columns are NOT NULL text so "" can stand for "no brand" inside a key.
func createTableSQL(d dialect, spec model.TableSpec) string {
	var defs []string
	keys := spec.StorageKey()
	for _, k := range keys {
		defs = append(defs, fmt.Sprintf("%s %s NOT NULL DEFAULT ''", d.quote(k), d.typeName(model.ColumnText)))
	}
	for _, c := range spec.Known {
		defs = append(defs, fmt.Sprintf("%s %s", d.quote(c.Name), d.typeName(c.Type)))
	}

	quotedKeys := make([]string, len(keys))
	for i, k := range keys {
		quotedKeys[i] = d.quote(k)
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quotedKeys, ", ")))

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.quote(string(spec.Name)), strings.Join(defs, ",\n\t"))
}

// migrationSQL returns the statements that create every table.
func migrationSQL(d dialect) []string {
	specs := model.Tables()
	out := make([]string, len(specs))
	for i, spec := range specs {
		out[i] = createTableSQL(d, spec)
	}
	return out
}

// upsertSQL returns an INSERT that replaces the non-key columns of an
// existing row with the same key.
func upsertSQL(d dialect, table model.Table, cols []string, nKeys int) string {
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.quote(c)
		params[i] = d.placeholder(i + 1)
	}

	action := "DO NOTHING"
	if len(cols) > nKeys {
		sets := make([]string, 0, len(cols)-nKeys)
		for _, c := range quoted[nKeys:] {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		d.quote(string(table)),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "),
		strings.Join(quoted[:nKeys], ", "),
		action,
	)
}

func deleteSQL(d dialect, table model.Table) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", d.quote(string(table)), d.quote(model.CampaignIDField), d.placeholder(1))
}

// selectSQL returns a query for one campaign's rows in natural key order.
func selectSQL(d dialect, spec model.TableSpec) string {
	order := make([]string, 0, len(spec.KeyFields))
	for _, k := range spec.KeyFields {
		order = append(order, d.quote(k))
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", d.quote(string(spec.Name)), d.quote(model.CampaignIDField), d.placeholder(1))
	if len(order) > 0 {
		q += " ORDER BY " + strings.Join(order, ", ")
	}
	return q
}

func lastScrapedSQL(d dialect) string {
	return fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL",
		d.quote(model.CampaignIDField),
		d.quote(model.LastScrapedField),
		d.quote(string(model.TableCampaign)),
		d.quote(model.LastScrapedField),
	)
}

// checkTable rejects tables outside the fixed layout, since table names are
// interpolated into SQL.
func checkTable(table model.Table) (model.TableSpec, error) {
	spec, ok := model.LookupTable(string(table))
	if !ok {
		return model.TableSpec{}, &model.StorageError{Op: "lookup", Table: string(table), Err: eris.New("unknown table")}
	}
	return spec, nil
}

// tableColumns indexes a table's stored columns by exact and folded name.
type tableColumns struct {
	exact  map[string]model.Column
	folded map[string]model.Column
}

func newTableColumns() *tableColumns {
	return &tableColumns{exact: make(map[string]model.Column), folded: make(map[string]model.Column)}
}

func (t *tableColumns) add(c model.Column) {
	t.exact[c.Name] = c
	f := strings.ToLower(c.Name)
	if prev, ok := t.folded[f]; !ok || prev.Name == c.Name || f == c.Name {
		t.folded[f] = c
	}
}

// lookup finds the stored column for name, preferring the exact spelling.
func (t *tableColumns) lookup(name string) (model.Column, bool) {
	if c, ok := t.exact[name]; ok {
		return c, true
	}
	c, ok := t.folded[strings.ToLower(name)]
	return c, ok
}

// planColumns matches want against the stored columns. It returns the
// resulting column for each entry of want, the columns to add, and the stored
// columns whose type must widen.
func planColumns(stored *tableColumns, want []model.Column) (out, add, widen []model.Column) {
	out = make([]model.Column, len(want))
	for i, w := range want {
		s, ok := stored.lookup(w.Name)
		if !ok {
			add = append(add, w)
			stored.add(w)
			out[i] = w
			continue
		}
		c := model.Column{Name: s.Name, Type: model.WidenColumn(s.Type, w.Type)}
		if c.Type != s.Type {
			widen = append(widen, c)
			stored.add(c)
		}
		out[i] = c
	}
	return out, add, widen
}
