package expand

import (
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/brand-ratings/internal/model"
)

// defaultMinScore is assumed when a fact has a score but no explicit floor.
const defaultMinScore = 0

// cleanText trims surrounding whitespace and applies NFC so that visually
// identical labels produce identical keys.
func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// isURLField reports whether a field must hold an absolute URL.
func isURLField(name string) bool {
	return name == "url" || strings.HasSuffix(name, "_url")
}

// scrub applies field hygiene to a fact that has already had its nested
// structures expanded: strings are cleaned, URLs checked, numeric rating
// attributes coerced, and any leftover nested value rejected.
func scrub(table model.Table, f model.Map) error {
	spec := model.SpecFor(table)

	if hasScore(f["score"]) && !f.Has("min_score") {
		f["min_score"] = model.Int(defaultMinScore)
	}

	for _, name := range f.Keys() {
		if name == "" {
			delete(f, name)
			continue
		}

		v := f[name]
		switch x := v.(type) {
		case model.List, model.Map:
			return malformed(table, name, "holds a nested value that no expansion rule consumes", f)
		case model.String:
			v = model.String(cleanText(string(x)))
			f[name] = v
		}

		if isURLField(name) {
			if err := checkURL(table, name, v, f); err != nil {
				return err
			}
		}

		typ, known := spec.KnownType(name)
		if !known || spec.IsKeyField(name) {
			continue
		}
		coerced, err := coerce(table, name, typ, v, f)
		if err != nil {
			return err
		}
		f[name] = coerced
	}
	return nil
}

func checkURL(table model.Table, name string, v model.Value, f model.Map) error {
	if model.IsNull(v) {
		return nil
	}
	s, ok := model.Text(v)
	if !ok {
		return malformed(table, name, "must be a URL string", f)
	}
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return malformed(table, name, "is not a valid URL", f)
	}
	if u.Scheme == "" {
		return malformed(table, name, "has no scheme", f)
	}
	return nil
}

// coerce converts a known typed attribute to its canonical value.
func coerce(table model.Table, name string, typ model.ColumnType, v model.Value, f model.Map) (model.Value, error) {
	switch typ {
	case model.ColumnSmallInt, model.ColumnInteger, model.ColumnNumeric, model.ColumnReal:
	default:
		return v, nil
	}

	switch x := v.(type) {
	case nil, model.Null:
		return model.Null{}, nil
	case model.String:
		if x == "" {
			return model.Null{}, nil
		}
		n, ok := model.ParseNumber(string(x))
		if !ok {
			return nil, malformed(table, name, "is not a number", f)
		}
		v = n
	case model.Int, model.Float:
	default:
		return nil, malformed(table, name, "is not a number", f)
	}

	if typ == model.ColumnSmallInt || typ == model.ColumnInteger {
		n, ok := v.(model.Int)
		if !ok {
			return nil, malformed(table, name, "is not an integer", f)
		}
		if name == "judgment" && (n < -1 || n > 1) {
			return nil, malformed(table, name, "must be -1, 0 or 1", f)
		}
	}
	return v, nil
}

// keyText renders a key field as text. Numbers are allowed (a category label
// can be a year); booleans and nested values are not.
func keyText(table model.Table, name string, v model.Value, f model.Map) (string, error) {
	switch x := v.(type) {
	case nil, model.Null:
		return "", nil
	case model.String:
		return cleanText(string(x)), nil
	case model.Int:
		return strconv.FormatInt(int64(x), 10), nil
	case model.Float:
		return strconv.FormatFloat(float64(x), 'f', -1, 64), nil
	default:
		return "", malformed(table, name, "must be text", f)
	}
}

func malformed(table model.Table, field, reason string, f model.Map) error {
	return &model.MalformedFactError{Kind: string(table), Field: field, Reason: reason, Fact: f.Clone()}
}

// hasScore reports whether v carries a score once whitespace is ignored.
func hasScore(v model.Value) bool {
	if s, ok := v.(model.String); ok {
		return strings.TrimSpace(string(s)) != ""
	}
	return !model.IsBlank(v)
}
