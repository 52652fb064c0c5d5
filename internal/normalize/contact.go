package normalize

import "strings"

// PickPrimary chooses a value from a list such as
// [{"type":"work","email":"a@b","primary":true}, ...] or ["a@b", "c@d"].
// The entry flagged primary wins; otherwise the first usable one.
func PickPrimary(list []any, valueKeys ...string) *string {
	if len(valueKeys) == 0 {
		valueKeys = []string{"value", "email", "number", "phone"}
	}
	var first *string
	for _, item := range list {
		switch v := item.(type) {
		case string:
			s := strings.TrimSpace(v)
			if s != "" && first == nil {
				first = &s
			}
		case map[string]any:
			p := Payload(v)
			s := p.String(valueKeys...)
			if s == nil {
				continue
			}
			if isPrimary(p) {
				return s
			}
			if first == nil {
				first = s
			}
		}
	}
	return first
}

func isPrimary(p Payload) bool {
	if b := p.Bool("primary", "isPrimary", "is_primary"); b != nil && *b {
		return true
	}
	t := strings.ToLower(p.StringValue("type"))
	return t == "primary"
}

// Primary resolves a single-valued alias first, then falls back to picking
// from list-valued aliases.
func (p Payload) Primary(scalar []string, lists []string, valueKeys ...string) *string {
	if s := p.String(scalar...); s != nil {
		return s
	}
	for _, path := range lists {
		if s := PickPrimary(p.List(path), valueKeys...); s != nil {
			return s
		}
	}
	return nil
}

// JoinName builds a display name from parts, skipping empty ones.
func JoinName(parts ...*string) *string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != nil && strings.TrimSpace(*part) != "" {
			out = append(out, strings.TrimSpace(*part))
		}
	}
	if len(out) == 0 {
		return nil
	}
	s := strings.Join(out, " ")
	return &s
}
