package model

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Record is one (kind, fact) pair emitted by a source.
type Record struct {
	Kind string `json:"kind"`
	Fact Map    `json:"fact"`
}

// NewRecord builds a record from a kind and a fact.
func NewRecord(kind string, fact Map) Record {
	return Record{Kind: kind, Fact: fact}
}

// UnmarshalJSON accepts either {"kind": ..., "fact": {...}} or the pair form
// ["kind", {...}].
func (r *Record) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(data, &pair); err != nil {
			return eris.Wrap(err, "model: decode record pair")
		}
		if len(pair) != 2 {
			return eris.Errorf("model: record pair has %d elements, want 2", len(pair))
		}
		if err := json.Unmarshal(pair[0], &r.Kind); err != nil {
			return eris.Wrap(err, "model: decode record kind")
		}
		if err := json.Unmarshal(pair[1], &r.Fact); err != nil {
			return eris.Wrap(err, "model: decode record fact")
		}
		if r.Fact == nil {
			r.Fact = Map{}
		}
		return nil
	}

	var obj struct {
		Kind string `json:"kind"`
		Fact Map    `json:"fact"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return eris.Wrap(err, "model: decode record")
	}
	r.Kind = obj.Kind
	r.Fact = obj.Fact
	if r.Fact == nil {
		r.Fact = Map{}
	}
	return nil
}

// RecordFromNative converts a decoded YAML/JSON object with "kind" and "fact"
// keys into a Record.
func RecordFromNative(x any) (Record, error) {
	m, err := MapFromNative(x)
	if err != nil {
		return Record{}, err
	}
	kind, ok := Text(m["kind"])
	if !ok {
		return Record{}, eris.New("model: record has no string kind")
	}
	fact := Map{}
	if raw, present := m["fact"]; present {
		switch f := raw.(type) {
		case Map:
			fact = f
		case Null:
		default:
			return Record{}, eris.Errorf("model: %s record fact is not a mapping", kind)
		}
	}
	return Record{Kind: kind, Fact: fact}, nil
}

// Entity is a canonical, table-typed record produced by expansion.
type Entity struct {
	Table  Table `json:"table"`
	Fields Map   `json:"fields"`
}

// Key returns the entity's natural key values in key-field order.
func (e Entity) Key() []string {
	spec := SpecFor(e.Table)
	key := make([]string, len(spec.KeyFields))
	for i, f := range spec.KeyFields {
		key[i] = e.Fields.Str(f)
	}
	return key
}
