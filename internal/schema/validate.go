package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// ValidateInsert checks raw against the entity's insertable fields and
// returns a normalized payload with defaults applied. Unknown and
// server-managed keys are dropped. Every failing field is reported in one
// *ValidationError.
func (e *Entity) ValidateInsert(raw map[string]any) (Payload, error) {
	return e.validate(raw, true)
}

// ValidatePatch checks a partial update. Only the supplied fields are
// validated and returned; no field is required and no default is applied.
func (e *Entity) ValidatePatch(raw map[string]any) (Payload, error) {
	return e.validate(raw, false)
}

func (e *Entity) validate(raw map[string]any, insert bool) (Payload, error) {
	out := make(Payload, len(e.Fields))
	var issues []Issue

	for i := range e.Fields {
		f := &e.Fields[i]
		if f.Managed != Unmanaged {
			continue
		}
		v, present := raw[f.Name]
		if !present {
			if !insert {
				continue
			}
			if f.Required {
				issues = append(issues, Issue{Field: f.Name, Message: "is required"})
				continue
			}
			out[f.Name] = defaultValue(f)
			continue
		}
		nv, msg := f.Normalize(v)
		if msg != "" {
			issues = append(issues, Issue{Field: f.Name, Message: msg})
			continue
		}
		if f.Required && nv == nil {
			issues = append(issues, Issue{Field: f.Name, Message: "is required"})
			continue
		}
		out[f.Name] = nv
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Entity: e.Type, Issues: issues}
	}
	return out, nil
}

// Normalize converts v to the canonical representation for f's kind. It
// returns a non-empty message when v is not acceptable.
func (f *Field) Normalize(v any) (any, string) {
	if v == nil {
		if f.Nullable {
			return nil, ""
		}
		if f.Required {
			return nil, "is required"
		}
		return nil, "must not be null"
	}

	switch f.Kind {
	case KindString, KindText:
		s, ok := v.(string)
		if !ok {
			return nil, "must be a string"
		}
		if f.Required && strings.TrimSpace(s) == "" {
			return nil, "is required"
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
			return nil, fmt.Sprintf("must be one of: %s", strings.Join(f.Enum, ", "))
		}
		return s, ""

	case KindInt:
		n, ok := toInt(v)
		if !ok {
			return nil, "must be an integer"
		}
		if f.NonNegative && n < 0 {
			return nil, "must not be negative"
		}
		return n, ""

	case KindFloat:
		n, ok := toFloat(v)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, "must be a number"
		}
		if f.NonNegative && n < 0 {
			return nil, "must not be negative"
		}
		return n, ""

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, "must be a boolean"
		}
		return b, ""

	case KindTime:
		t, ok := toTime(v)
		if !ok {
			return nil, "must be an RFC 3339 timestamp"
		}
		return t, ""

	case KindJSON:
		nv, err := NormalizeJSON(v)
		if err != nil {
			return nil, "must be valid JSON"
		}
		if msg := f.Shape.check(nv); msg != "" {
			return nil, msg
		}
		return nv, ""
	}
	return nil, fmt.Sprintf("unsupported kind %s", f.Kind)
}

// NormalizeJSON converts v into the generic shapes produced by
// encoding/json, so in-memory values compare equal to values read back from
// a serialized column.
func NormalizeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CloneJSON deep-copies a normalized JSON value.
func CloneJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = CloneJSON(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = CloneJSON(e)
		}
		return s
	default:
		return v
	}
}

// Timestamp returns t in the canonical stored precision.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// check reports a message when the normalized JSON value v does not have
// shape s.
func (s JSONShape) check(v any) string {
	switch s {
	case ShapeObject:
		if _, ok := v.(map[string]any); !ok {
			return "must be a JSON object"
		}
	case ShapeStringList:
		list, ok := v.([]any)
		if !ok {
			return "must be a list of strings"
		}
		for _, e := range list {
			if _, ok := e.(string); !ok {
				return "must be a list of strings"
			}
		}
	}
	return ""
}

func defaultValue(f *Field) any {
	if f.Kind == KindJSON {
		return CloneJSON(f.Default)
	}
	return f.Default
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toInt accepts integral values that fit in an int64. Decimal strings from
// json.Number are parsed exactly so large integers keep their precision.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := toFloat(v)
	// -2^63 is exact as a float64; 2^63 is the first value past MaxInt64.
	if !ok || f != math.Trunc(f) || f < math.MinInt64 || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return Timestamp(t), true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return Timestamp(parsed), true
			}
		}
		return time.Time{}, false
	}
	// Numbers are epoch milliseconds, the desktop store's native encoding.
	if ms, ok := toFloat(v); ok && ms == math.Trunc(ms) {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}
