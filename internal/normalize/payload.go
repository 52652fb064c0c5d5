// Package normalize turns loosely typed provider payloads into typed values.
// Every lookup tries a list of aliases in priority order and returns nil when
// none of them holds a usable value.
package normalize

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

var ErrMissingID = errors.New("normalize: payload has no id")

type Payload map[string]any

// Decode parses a JSON object. Numbers are kept as json.Number so monetary
// values do not lose precision.
func Decode(raw []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out Payload
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeList extracts the array stored under key.
func DecodeList(raw []byte, key string) ([]Payload, error) {
	body, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return body.Objects(key), nil
}

// Lookup resolves a dotted path such as "estimated_value.amount".
func (p Payload) Lookup(path string) (any, bool) {
	if p == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(p)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// String returns the first alias holding a non-empty scalar.
func (p Payload) String(aliases ...string) *string {
	for _, a := range aliases {
		v, ok := p.Lookup(a)
		if !ok {
			continue
		}
		if s, ok := scalarString(v); ok {
			return &s
		}
	}
	return nil
}

func (p Payload) StringValue(aliases ...string) string {
	if s := p.String(aliases...); s != nil {
		return *s
	}
	return ""
}

// ID returns the payload identifier or ErrMissingID.
func (p Payload) ID(aliases ...string) (string, error) {
	if len(aliases) == 0 {
		aliases = []string{"id", "_id"}
	}
	if s := p.String(aliases...); s != nil {
		return *s, nil
	}
	return "", ErrMissingID
}

func (p Payload) Decimal(aliases ...string) *decimal.Decimal {
	for _, a := range aliases {
		v, ok := p.Lookup(a)
		if !ok {
			continue
		}
		if d, ok := toDecimal(v); ok {
			return &d
		}
	}
	return nil
}

func (p Payload) Int(aliases ...string) *int {
	for _, a := range aliases {
		v, ok := p.Lookup(a)
		if !ok {
			continue
		}
		if d, ok := toDecimal(v); ok {
			n := int(d.IntPart())
			return &n
		}
	}
	return nil
}

func (p Payload) Int64(aliases ...string) (int64, bool) {
	for _, a := range aliases {
		v, ok := p.Lookup(a)
		if !ok {
			continue
		}
		if d, ok := toDecimal(v); ok {
			return d.IntPart(), true
		}
	}
	return 0, false
}

func (p Payload) Bool(aliases ...string) *bool {
	for _, a := range aliases {
		v, ok := p.Lookup(a)
		if !ok {
			continue
		}
		switch b := v.(type) {
		case bool:
			return &b
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

// Object returns the nested object at path, or nil.
func (p Payload) Object(path string) Payload {
	v, ok := p.Lookup(path)
	if !ok {
		return nil
	}
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	return Payload(m)
}

// List returns the array at path, or nil.
func (p Payload) List(path string) []any {
	v, ok := p.Lookup(path)
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	return list
}

// Objects returns the object elements of the array at path.
func (p Payload) Objects(path string) []Payload {
	list := p.List(path)
	out := make([]Payload, 0, len(list))
	for _, item := range list {
		if m, ok := asMap(item); ok {
			out = append(out, Payload(m))
		}
	}
	return out
}

// JSON re-encodes the payload for raw_data columns.
func (p Payload) JSON() datatypes.JSON {
	if p == nil {
		return datatypes.JSON([]byte("{}"))
	}
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}

// JSONAt encodes the value at path, or nil when absent.
func (p Payload) JSONAt(path string) datatypes.JSON {
	v, ok := p.Lookup(path)
	if !ok {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Payload:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		s = strings.TrimSpace(s)
		return s, s != ""
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}
