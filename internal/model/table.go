package model

// Table names a canonical entity table. Fact kinds use the same names.
type Table string

const (
	TableCampaign    Table = "campaign"
	TableCompany     Table = "company"
	TableBrand       Table = "brand"
	TableCategory    Table = "category"
	TableSubcategory Table = "subcategory"
	TableRating      Table = "rating"
	TableClaim       Table = "claim"
)

// CampaignIDField is prepended to every table's natural key in storage.
const CampaignIDField = "campaign_id"

// LastScrapedField records when a campaign snapshot was committed.
const LastScrapedField = "last_scraped"

// LastScrapedFormat is the fixed text layout of last_scraped: UTC with
// microseconds and a trailing Z.
const LastScrapedFormat = "2006-01-02T15:04:05.000000Z"

// ColumnType is the storage type of a column.
type ColumnType string

const (
	ColumnText     ColumnType = "text"
	ColumnInteger  ColumnType = "integer"
	ColumnSmallInt ColumnType = "smallint"
	ColumnNumeric  ColumnType = "numeric"
	ColumnReal     ColumnType = "real"
	ColumnBoolean  ColumnType = "boolean"
)

// Column is one storage column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// TableSpec describes a table's natural key (excluding campaign_id) and the
// attributes whose storage type is fixed regardless of observed values.
type TableSpec struct {
	Name      Table
	KeyFields []string
	Known     []Column
}

// StorageKey returns campaign_id followed by the natural key fields.
func (s TableSpec) StorageKey() []string {
	return append([]string{CampaignIDField}, s.KeyFields...)
}

// KnownType returns the fixed type of an attribute, if it has one.
func (s TableSpec) KnownType(field string) (ColumnType, bool) {
	for _, c := range s.KeyFields {
		if c == field {
			return ColumnText, true
		}
	}
	for _, c := range s.Known {
		if c.Name == field {
			return c.Type, true
		}
	}
	return "", false
}

// IsKeyField reports whether field is part of the natural key.
func (s TableSpec) IsKeyField(field string) bool {
	for _, c := range s.KeyFields {
		if c == field {
			return true
		}
	}
	return false
}

// ratingColumns are shared by ratings and claims: both carry a judgment.
var ratingColumns = []Column{
	// -1 (bad), 0 (mixed) or 1 (good)
	{Name: "judgment", Type: ColumnSmallInt},
	{Name: "grade", Type: ColumnText},
	{Name: "description", Type: ColumnText},
	// higher is better
	{Name: "score", Type: ColumnNumeric},
	{Name: "min_score", Type: ColumnNumeric},
	{Name: "max_score", Type: ColumnNumeric},
	// lower is better
	{Name: "rank", Type: ColumnInteger},
	{Name: "num_ranked", Type: ColumnInteger},
	{Name: "url", Type: ColumnText},
	{Name: "date", Type: ColumnText},
}

// tableSpecs is in commit order; campaign comes last so its row is written
// after every entity row.
var tableSpecs = []TableSpec{
	{Name: TableCompany, KeyFields: []string{"company"}},
	{Name: TableBrand, KeyFields: []string{"company", "brand"}},
	{Name: TableCategory, KeyFields: []string{"company", "brand", "category"}},
	{Name: TableSubcategory, KeyFields: []string{"category", "subcategory"}},
	{Name: TableRating, KeyFields: []string{"company", "brand", "scope"}, Known: ratingColumns},
	{Name: TableClaim, KeyFields: []string{"company", "brand", "question", "claim"}, Known: ratingColumns},
	{Name: TableCampaign, Known: []Column{{Name: LastScrapedField, Type: ColumnText}}},
}

// Tables returns every table spec in commit order.
func Tables() []TableSpec {
	out := make([]TableSpec, len(tableSpecs))
	copy(out, tableSpecs)
	return out
}

// LookupTable returns the spec for a table name.
func LookupTable(name string) (TableSpec, bool) {
	for _, s := range tableSpecs {
		if string(s.Name) == name {
			return s, true
		}
	}
	return TableSpec{}, false
}

// SpecFor returns the spec for a known table. Unknown tables get an empty spec.
func SpecFor(t Table) TableSpec {
	s, _ := LookupTable(string(t))
	return s
}

// ParseKind maps a fact kind onto its table.
func ParseKind(kind string) (Table, error) {
	if s, ok := LookupTable(kind); ok {
		return s.Name, nil
	}
	return "", &UnknownFactKindError{Kind: kind}
}

// numericRank orders the numeric column types by the values they can hold.
// Zero means not numeric.
func numericRank(t ColumnType) int {
	switch t {
	case ColumnSmallInt:
		return 1
	case ColumnInteger:
		return 2
	case ColumnReal, ColumnNumeric:
		return 3
	default:
		return 0
	}
}

// WidenColumn returns the narrowest type that holds values of both have and
// want. A wider numeric type absorbs a narrower one; any other mix is text.
// An empty type stands for no values at all.
func WidenColumn(have, want ColumnType) ColumnType {
	switch {
	case have == "":
		return want
	case want == "" || have == want:
		return have
	}
	hr, wr := numericRank(have), numericRank(want)
	switch {
	case hr == 0 || wr == 0:
		return ColumnText
	case hr >= wr:
		return have
	default:
		return want
	}
}
