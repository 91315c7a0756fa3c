package audit

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Values maps attribute names to values. A nil Values means the image is absent.
type Values map[string]any

// Clone returns a shallow copy. Composite values are shared, not copied.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for key, value := range v {
		out[key] = value
	}
	return out
}

// Has reports whether key is present, even with a nil value.
func (v Values) Has(key string) bool {
	_, ok := v[key]
	return ok
}

// Keys returns the attribute names in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// UnmarshalJSON decodes integral numbers as int64 and the rest as float64,
// at any depth, so values read back from storage can be written onto an
// entity unchanged. JSON null decodes to a nil Values.
func (v *Values) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*v = nil
		return nil
	}
	for key, value := range raw {
		raw[key] = fromJSONNumber(value)
	}
	*v = raw
	return nil
}

func fromJSONNumber(value any) any {
	switch x := value.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case map[string]any:
		for key, inner := range x {
			x[key] = fromJSONNumber(inner)
		}
		return x
	case []any:
		for i, inner := range x {
			x[i] = fromJSONNumber(inner)
		}
		return x
	}
	return value
}
