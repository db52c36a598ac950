package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// FromNative converts decoded JSON/YAML data into a Value. Accepted inputs are
// the shapes produced by encoding/json (with or without UseNumber) and
// gopkg.in/yaml.v3 when decoding into interface values.
func FromNative(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return v, nil
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return uintValue(uint64(v))
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint64:
		return uintValue(v)
	case float32:
		return floatValue(float64(v))
	case float64:
		return floatValue(v)
	case json.Number:
		n, ok := ParseNumber(v.String())
		if !ok {
			return nil, eris.Errorf("model: invalid number %q", v.String())
		}
		return n, nil
	case time.Time:
		return String(v.UTC().Format(time.RFC3339)), nil
	case []any:
		out := make(List, len(v))
		for i, e := range v {
			ev, err := FromNative(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case []string:
		out := make(List, len(v))
		for i, e := range v {
			out[i] = String(e)
		}
		return out, nil
	case map[string]any:
		out := make(Map, len(v))
		for k, e := range v {
			ev, err := FromNative(e)
			if err != nil {
				return nil, eris.Wrapf(err, "model: field %q", k)
			}
			out[k] = ev
		}
		return out, nil
	case map[any]any:
		out := make(Map, len(v))
		for k, e := range v {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			ev, err := FromNative(e)
			if err != nil {
				return nil, eris.Wrapf(err, "model: field %q", key)
			}
			out[key] = ev
		}
		return out, nil
	default:
		return nil, eris.Errorf("model: unsupported value type %T", x)
	}
}

// MapFromNative is FromNative for values that must decode to a mapping.
func MapFromNative(x any) (Map, error) {
	v, err := FromNative(x)
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case Map:
		return m, nil
	case Null:
		return Map{}, nil
	default:
		return nil, eris.Errorf("model: expected a mapping, got %T", x)
	}
}

func uintValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, eris.Errorf("model: integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

func floatValue(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, eris.Errorf("model: non-finite number %v", f)
	}
	return numberFromFloat(f), nil
}
