// Package expand rewrites loosely-typed facts into canonical table entities.
package expand

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/brand-ratings/internal/model"
)

// requiredKeys lists the key fields that must be non-blank after completion.
// Other key fields may legitimately be "" (a company-level rating has no brand).
var requiredKeys = map[model.Table][]string{
	model.TableCompany:     {"company"},
	model.TableBrand:       {"company", "brand"},
	model.TableCategory:    {"company", "category"},
	model.TableSubcategory: {"category", "subcategory"},
	model.TableRating:      {"company"},
	model.TableClaim:       {"company"},
}

// item is one pending (table, fact) pair on the work queue.
type item struct {
	table model.Table
	fact  model.Map
}

// Expander turns facts into entities. It holds no per-campaign state and is
// safe for concurrent use.
type Expander struct {
	log *zap.Logger
}

// New creates an Expander that logs through the global zap logger.
func New() *Expander {
	return &Expander{log: zap.L().With(zap.String("component", "expand"))}
}

// Expand rewrites one record into entities, calling emit for each as soon as
// it is produced. Derived facts go on a FIFO queue rather than the call stack,
// so emission order is breadth-first: the record's own entity first, then the
// entities its nested structures imply. The caller's fact is not modified.
//
// Expansion stops at the first error, which is either an
// *model.UnknownFactKindError, an *model.MalformedFactError, or an error
// returned by emit.
func (x *Expander) Expand(rec model.Record, emit func(model.Entity) error) error {
	table, err := model.ParseKind(rec.Kind)
	if err != nil {
		return err
	}

	fact := rec.Fact.Clone()
	if fact == nil {
		fact = model.Map{}
	}

	queue := []item{{table: table, fact: fact}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		entity, derived, err := x.step(it)
		if err != nil {
			return err
		}
		queue = append(queue, derived...)

		if entity == nil {
			continue
		}
		if ce := x.log.Check(zapcore.DebugLevel, "entity"); ce != nil {
			ce.Write(
				zap.String("table", string(entity.Table)),
				zap.Strings("key", entity.Key()),
				zap.Stringer("fields", entity.Fields),
			)
		}
		if err := emit(*entity); err != nil {
			return err
		}
	}
	return nil
}

// Entities is a convenience wrapper that collects Expand's output.
func (x *Expander) Entities(rec model.Record) ([]model.Entity, error) {
	var out []model.Entity
	err := x.Expand(rec, func(e model.Entity) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// step applies the expansion rules to a single item. It returns the item's
// own entity (nil when the item only implies other facts) and the facts it
// derived.
func (x *Expander) step(it item) (*model.Entity, []item, error) {
	f := it.fact
	var derived []item

	// A category with a parent label is also a hierarchy edge.
	onlyEdge := false
	if it.table == model.TableCategory {
		if parent, ok := f["parent_category"]; ok {
			delete(f, "parent_category")
			if !model.IsBlank(parent) {
				if _, isText := parent.(model.String); !isText {
					return nil, nil, malformed(it.table, "parent_category", "must be text", f)
				}
				derived = append(derived, item{table: model.TableSubcategory, fact: model.Map{
					"category":    parent,
					"subcategory": f["category"],
				}})
				onlyEdge = model.IsBlank(f["company"]) && model.IsBlank(f["brand"])
			}
		}
	}

	// Nested company: expand it, keep its name.
	if cm, ok := f["company"].(model.Map); ok {
		derived = append(derived, item{table: model.TableCompany, fact: cm})
		f["company"] = model.String(nameOf(cm["company"]))
	}

	// Nested brand: expand it under our company, keep its name, adopt its
	// company if we had none.
	if bm, ok := f["brand"].(model.Map); ok {
		if model.IsBlank(bm["company"]) && !model.IsBlank(f["company"]) {
			bm["company"] = f["company"]
		}
		derived = append(derived, item{table: model.TableBrand, fact: bm})
		f["brand"] = model.String(nameOf(bm["brand"]))
		if model.IsBlank(f["company"]) && !model.IsBlank(bm["company"]) {
			f["company"] = model.String(nameOf(bm["company"]))
		}
	}

	// A brand with no owner is company-level data: it owns itself.
	if it.table != model.TableCompany && model.IsBlank(f["company"]) {
		if name := nameOf(f["brand"]); name != "" {
			f["company"] = model.String(name)
		}
	}

	if raw, ok := f["brands"]; ok {
		delete(f, "brands")
		brands, err := expandBrands(it.table, raw, f)
		if err != nil {
			return nil, nil, err
		}
		derived = append(derived, brands...)
	}

	if raw, ok := f["categories"]; ok {
		delete(f, "categories")
		cats, err := expandCategories(it.table, raw, f)
		if err != nil {
			return nil, nil, err
		}
		derived = append(derived, cats...)
	}

	// Backfill minimal brand and company entities.
	brand := nameOf(f["brand"])
	if it.table != model.TableBrand && brand != "" {
		derived = append(derived, item{table: model.TableBrand, fact: model.Map{
			"company": f["company"],
			"brand":   model.String(brand),
		}})
	}
	if it.table != model.TableCompany && !model.IsBlank(f["company"]) {
		derived = append(derived, item{table: model.TableCompany, fact: model.Map{
			"company": f["company"],
		}})
	}

	if onlyEdge {
		return nil, derived, nil
	}

	if err := scrub(it.table, f); err != nil {
		return nil, nil, err
	}
	if err := completeKeys(it.table, f); err != nil {
		return nil, nil, err
	}
	return &model.Entity{Table: it.table, Fields: f}, derived, nil
}

// expandBrands turns a brands list into brand facts owned by f's company.
func expandBrands(table model.Table, raw model.Value, f model.Map) ([]item, error) {
	if model.IsNull(raw) {
		return nil, nil
	}
	list, ok := raw.(model.List)
	if !ok {
		return nil, malformed(table, "brands", "must be a list", f)
	}

	out := make([]item, 0, len(list))
	for _, entry := range list {
		switch e := entry.(type) {
		case model.String:
			out = append(out, item{table: model.TableBrand, fact: model.Map{
				"company": f["company"],
				"brand":   e,
			}})
		case model.Map:
			if model.IsBlank(e["company"]) {
				e["company"] = f["company"]
			}
			out = append(out, item{table: model.TableBrand, fact: e})
		case model.Null:
		default:
			return nil, malformed(table, "brands", "entries must be names or mappings", f)
		}
	}
	return out, nil
}

// expandCategories turns a categories list into category facts scoped to f's
// brand when it has one, otherwise to its company.
func expandCategories(table model.Table, raw model.Value, f model.Map) ([]item, error) {
	if model.IsNull(raw) {
		return nil, nil
	}
	list, ok := raw.(model.List)
	if !ok {
		return nil, malformed(table, "categories", "must be a list", f)
	}

	scope := model.Map{"company": f["company"]}
	if brand := nameOf(f["brand"]); brand != "" {
		scope["brand"] = model.String(brand)
	}

	out := make([]item, 0, len(list))
	for _, entry := range list {
		var c model.Map
		switch e := entry.(type) {
		case model.String:
			c = model.Map{"category": e}
		case model.Map:
			c = e
		case model.Null:
			continue
		default:
			return nil, malformed(table, "categories", "entries must be labels or mappings", f)
		}
		for k, v := range scope {
			if model.IsBlank(c[k]) {
				c[k] = v
			}
		}
		out = append(out, item{table: model.TableCategory, fact: c})
	}
	return out, nil
}

// completeKeys sets absent key fields to "" and validates required ones.
func completeKeys(table model.Table, f model.Map) error {
	spec := model.SpecFor(table)
	for _, k := range spec.KeyFields {
		s, err := keyText(table, k, f[k], f)
		if err != nil {
			return err
		}
		f[k] = model.String(s)
	}

	for _, k := range requiredKeys[table] {
		if f.Str(k) == "" {
			return malformed(table, k, "is required", f)
		}
	}

	switch table {
	case model.TableClaim:
		if f.Str("claim") == "" && f.Str("question") == "" {
			return malformed(table, "claim", "or question is required", f)
		}
	case model.TableSubcategory:
		if f.Str("category") == f.Str("subcategory") {
			return malformed(table, "subcategory", "is its own parent category", f)
		}
	}
	return nil
}

// nameOf returns the identifying text of a company or brand value. A company
// value may still be a nested company mapping.
func nameOf(v model.Value) string {
	switch x := v.(type) {
	case model.String:
		return cleanText(string(x))
	case model.Map:
		if s, ok := x["company"].(model.String); ok {
			return cleanText(string(s))
		}
	}
	return ""
}
