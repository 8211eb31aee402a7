package record

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/qminer/qminer-sub006/codec"
)

// Value is a record or a partial record keyed by field name. A nil entry
// sets a field to null. Keys starting with '$' are references, not fields:
// "$id" names an existing record by id and "$name" by its string primary key.
type Value map[string]any

const (
	keyID   = "$id"
	keyName = "$name"
)

// SparseEntry is one element of a numeric sparse vector.
type SparseEntry struct {
	Index int32
	Value float64
}

// BowEntry is one element of a bag-of-words sparse vector.
type BowEntry struct {
	Word   int32
	Weight float32
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses the datetime forms accepted in record values. Values
// without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse datetime %q", ErrFieldKind, s)
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		return int64(x), x <= math.MaxInt64
	case uint64:
		return int64(x), x <= math.MaxInt64
	case float64:
		return int64(x), x == math.Trunc(x) && math.Abs(x) < 1<<63
	case float32:
		return toInt64(float64(x))
	case codec.Number:
		n, err := x.Int64()
		return n, err == nil
	}
	return 0, false
}

func toUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case uint:
		return uint64(x), true
	case codec.Number:
		n, err := strconv.ParseUint(x.String(), 10, 64)
		return n, err == nil
	case float64:
		return uint64(x), x >= 0 && x == math.Trunc(x) && x < 1<<64
	}
	n, ok := toInt64(v)
	return uint64(n), ok && n >= 0
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case codec.Number:
		f, err := x.Float64()
		return f, err == nil
	case uint64:
		return float64(x), true
	}
	n, ok := toInt64(v)
	return float64(n), ok
}

// toMillis converts a datetime to milliseconds since the Unix epoch.
func toMillis(v any) (int64, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UnixMilli(), true
	case string:
		t, err := ParseTime(x)
		if err != nil {
			return 0, false
		}
		return t.UnixMilli(), true
	}
	return toInt64(v)
}

func toSlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []int64:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []int:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []float64:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	}
	return nil, false
}

// normalize converts v to the stored form of kind: int64, uint64, float64,
// [2]float64, bool, int64 milliseconds for datetimes, string, []int64,
// []float64, []string, []SparseEntry or []BowEntry.
func normalize(kind FieldKind, v any) (any, error) {
	bad := func() (any, error) {
		return nil, fmt.Errorf("%w: %T for %s", ErrFieldKind, v, kind)
	}
	switch kind {
	case FieldInt:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case FieldUInt64:
		if n, ok := toUint64(v); ok {
			return n, nil
		}
	case FieldFlt:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case FieldFltPr:
		if p, ok := v.([2]float64); ok {
			return p, nil
		}
		xs, ok := toSlice(v)
		if !ok || len(xs) != 2 {
			return bad()
		}
		a, ok1 := toFloat64(xs[0])
		b, ok2 := toFloat64(xs[1])
		if ok1 && ok2 {
			return [2]float64{a, b}, nil
		}
	case FieldBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case FieldTm:
		if ms, ok := toMillis(v); ok {
			return ms, nil
		}
	case FieldStr:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case FieldIntV:
		if xs, ok := v.([]int64); ok {
			return xs, nil
		}
		xs, ok := toSlice(v)
		if !ok {
			return bad()
		}
		out := make([]int64, len(xs))
		for i, x := range xs {
			if out[i], ok = toInt64(x); !ok {
				return bad()
			}
		}
		return out, nil
	case FieldFltV:
		if xs, ok := v.([]float64); ok {
			return xs, nil
		}
		xs, ok := toSlice(v)
		if !ok {
			return bad()
		}
		out := make([]float64, len(xs))
		for i, x := range xs {
			if out[i], ok = toFloat64(x); !ok {
				return bad()
			}
		}
		return out, nil
	case FieldStrV:
		if xs, ok := v.([]string); ok {
			return xs, nil
		}
		xs, ok := toSlice(v)
		if !ok {
			return bad()
		}
		out := make([]string, len(xs))
		for i, x := range xs {
			if out[i], ok = x.(string); !ok {
				return bad()
			}
		}
		return out, nil
	case FieldNumSpV:
		if xs, ok := v.([]SparseEntry); ok {
			return xs, nil
		}
		pairs, ok := toPairs(v)
		if !ok {
			return bad()
		}
		out := make([]SparseEntry, len(pairs))
		for i, p := range pairs {
			idx, ok1 := toInt64(p[0])
			val, ok2 := toFloat64(p[1])
			if !ok1 || !ok2 || idx < math.MinInt32 || idx > math.MaxInt32 {
				return bad()
			}
			out[i] = SparseEntry{Index: int32(idx), Value: val}
		}
		return out, nil
	case FieldBowSpV:
		if xs, ok := v.([]BowEntry); ok {
			return xs, nil
		}
		pairs, ok := toPairs(v)
		if !ok {
			return bad()
		}
		out := make([]BowEntry, len(pairs))
		for i, p := range pairs {
			word, ok1 := toInt64(p[0])
			weight, ok2 := toFloat64(p[1])
			if !ok1 || !ok2 || word < math.MinInt32 || word > math.MaxInt32 {
				return bad()
			}
			out[i] = BowEntry{Word: int32(word), Weight: float32(weight)}
		}
		return out, nil
	}
	return bad()
}

// toPairs accepts [[a, b], ...] as decoded from JSON.
func toPairs(v any) ([][2]any, bool) {
	xs, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([][2]any, len(xs))
	for i, x := range xs {
		p, ok := x.([]any)
		if !ok || len(p) != 2 {
			return nil, false
		}
		out[i] = [2]any{p[0], p[1]}
	}
	return out, true
}

// public converts a stored value to the form returned to callers.
func public(kind FieldKind, v any) any {
	if kind == FieldTm {
		return time.UnixMilli(v.(int64)).UTC()
	}
	return v
}
