package snapshot

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/brand-ratings/internal/model"
)

// TableSchema is the column layout a table needs to hold a snapshot.
type TableSchema struct {
	Table   model.Table
	Columns []model.Column
}

// Schema infers every table's columns, in commit order. Storage key fields
// come first as text, then the table's known attributes with their declared
// types, then any other attribute seen in the snapshot, alphabetically.
//
// An inferred column is integer when every observed value is an Int, real
// when the values mix Int and Float, boolean when every value is a Bool, and
// text otherwise. Attributes seen only as null are text.
//
// Column names are case-insensitive, as they are in SQL. Attributes that
// differ only in case share one column: a key or known column when one
// matches, otherwise the spelling that sorts first.
func (b *Builder) Schema() []TableSchema {
	specs := model.Tables()
	out := make([]TableSchema, 0, len(specs))

	for _, spec := range specs {
		var cols []model.Column
		seen := make(map[string]bool)
		for _, k := range spec.StorageKey() {
			cols = append(cols, model.Column{Name: k, Type: model.ColumnText})
			seen[strings.ToLower(k)] = true
		}
		for _, c := range spec.Known {
			cols = append(cols, c)
			seen[strings.ToLower(c.Name)] = true
		}

		inferred := make(map[string]model.ColumnType)
		spelling := make(map[string]string)
		for _, row := range b.tables[spec.Name] {
			for name, v := range row {
				folded := strings.ToLower(name)
				if seen[folded] {
					continue
				}
				inferred[folded] = widen(inferred[folded], v)
				if s, ok := spelling[folded]; !ok || name < s {
					spelling[folded] = name
				}
			}
		}

		names := make([]string, 0, len(spelling))
		for _, n := range spelling {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			typ := inferred[strings.ToLower(n)]
			if typ == "" {
				typ = model.ColumnText
			}
			cols = append(cols, model.Column{Name: n, Type: typ})
		}

		out = append(out, TableSchema{Table: spec.Name, Columns: cols})
	}
	return out
}

// widen combines the type inferred so far with one more observed value. An
// empty type means no non-null value has been seen yet.
func widen(cur model.ColumnType, v model.Value) model.ColumnType {
	switch v.(type) {
	case nil, model.Null:
		return cur
	case model.Int:
		return model.WidenColumn(cur, model.ColumnInteger)
	case model.Float:
		return model.WidenColumn(cur, model.ColumnReal)
	case model.Bool:
		return model.WidenColumn(cur, model.ColumnBoolean)
	default:
		return model.ColumnText
	}
}

// Conform returns a copy of row ready to store under s: each attribute is
// renamed to its column's spelling and its value converted to the column's
// type. Numbers and booleans in a text column become text, integers in a
// real column become floats, and text that parses as the column's type is
// parsed. Attributes without a column are left alone.
//
// When several attributes fold to one column, the one spelled like the
// column wins unless it is blank; otherwise the first non-blank one in
// sorted order does. A value the column cannot hold is reported as a
// *model.MalformedFactError.
func (s TableSchema) Conform(row model.Map) (model.Map, error) {
	cols := make(map[string]model.Column, len(s.Columns))
	for _, c := range s.Columns {
		cols[strings.ToLower(c.Name)] = c
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(model.Map, len(row))
	for _, k := range keys {
		v := row[k]
		c, ok := cols[strings.ToLower(k)]
		if !ok {
			out[k] = v
			continue
		}
		cv, reason := conformValue(v, c.Type)
		if reason != "" {
			return nil, &model.MalformedFactError{Kind: string(s.Table), Field: k, Reason: reason, Fact: row}
		}
		if prev, taken := out[c.Name]; taken && !model.IsBlank(prev) && (k != c.Name || model.IsBlank(cv)) {
			continue
		}
		out[c.Name] = cv
	}
	return out, nil
}

// conformValue converts v to typ. A non-empty reason means typ cannot hold v.
func conformValue(v model.Value, typ model.ColumnType) (model.Value, string) {
	switch v.(type) {
	case nil, model.Null:
		return v, ""
	}

	switch typ {
	case model.ColumnText:
		switch x := v.(type) {
		case model.Int:
			return model.String(strconv.FormatInt(int64(x), 10)), ""
		case model.Float:
			return model.String(strconv.FormatFloat(float64(x), 'f', -1, 64)), ""
		case model.Bool:
			return model.String(strconv.FormatBool(bool(x))), ""
		}
	case model.ColumnReal, model.ColumnNumeric:
		n := v
		if x, isStr := v.(model.String); isStr {
			n, _ = model.ParseNumber(string(x))
		}
		switch x := n.(type) {
		case model.Int:
			if typ == model.ColumnReal {
				return model.Float(x), ""
			}
			return x, ""
		case model.Float:
			return x, ""
		}
		return nil, "is not a number"
	case model.ColumnInteger, model.ColumnSmallInt:
		n := v
		if x, isStr := v.(model.String); isStr {
			n, _ = model.ParseNumber(string(x))
		}
		if x, isInt := n.(model.Int); isInt {
			return x, ""
		}
		return nil, "is not an integer"
	case model.ColumnBoolean:
		switch x := v.(type) {
		case model.Bool:
			return x, ""
		case model.String:
			if b, err := strconv.ParseBool(strings.TrimSpace(string(x))); err == nil {
				return model.Bool(b), ""
			}
		}
		return nil, "is not a boolean"
	}
	return v, ""
}
