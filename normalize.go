package abac

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/date"
)

// stringify coerces a value to its string form. nil has no string form.
// Numbers print without a trailing ".0" and lists join their elements with
// commas, so ["a", 1] becomes "a,1".
func stringify(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x), true
	case float32:
		return formatFloat(float64(x)), true
	case float64:
		return formatFloat(x), true
	case json.Number:
		return x.String(), true
	case time.Time:
		return x.Format(time.RFC3339Nano), true
	case *time.Time:
		if x == nil {
			return "", false
		}
		return x.Format(time.RFC3339Nano), true
	case map[string]any, Attributes:
		return "[object Object]", true
	case fmt.Stringer:
		return x.String(), true
	}
	if list, ok := asList(v); ok {
		parts := make([]string, len(list))
		for i, e := range list {
			parts[i], _ = stringify(e)
		}
		return strings.Join(parts, ","), true
	}
	return fmt.Sprint(v), true
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// normalizeString is the tolerant form used by equals: trimmed and upper-cased.
func normalizeString(v any) string {
	s, _ := stringify(v)
	return strings.ToUpper(strings.TrimSpace(s))
}

// looseIdentical is raw identity. Numbers of different Go kinds compare by
// value; lists and maps are never identical.
func looseIdentical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := numeric(a); ok {
		fb, ok := numeric(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	return false
}

// stringIdentical reports whether a is a string equal to the string form of b.
func stringIdentical(a, b any) bool {
	as, ok := a.(string)
	if !ok {
		return false
	}
	bs, ok := stringify(b)
	return ok && as == bs
}

// numeric extracts a float from Go number kinds only. Strings are not numbers here.
func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// toNumber coerces to a float. Anything that does not convert is NaN, and
// every comparison against NaN is false. A missing value is NaN.
func toNumber(v any) float64 {
	if f, ok := numeric(v); ok {
		return f
	}
	switch x := v.(type) {
	case nil:
		return math.NaN()
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case time.Time:
		return float64(x.UnixMilli())
	}
	if list, ok := asList(v); ok {
		switch len(list) {
		case 0:
			return 0
		case 1:
			return toNumber(list[0])
		}
	}
	return math.NaN()
}

const (
	minDateYear = 1000
	maxDateYear = 9999
)

// toTimestamp returns milliseconds since the epoch when v is a date: a
// time.Time, or a string that is not a plain number and parses as a date
// with a four digit year.
func toTimestamp(v any) (float64, bool) {
	switch x := v.(type) {
	case time.Time:
		return float64(x.UnixMilli()), true
	case *time.Time:
		if x == nil {
			return 0, false
		}
		return float64(x.UnixMilli()), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return 0, false
		}
		t, err := date.Parse(s)
		if err != nil || t.IsZero() {
			return 0, false
		}
		// bare times and day/month fragments parse without a year
		if t.Year() < minDateYear || t.Year() > maxDateYear {
			return 0, false
		}
		return float64(t.UnixMilli()), true
	}
	return 0, false
}

// orderedOperands picks the comparison domain for the relational operators.
// If either side is a date both are compared as timestamps (plain numbers are
// taken as milliseconds); otherwise both are coerced to numbers.
func orderedOperands(a, b any) (float64, float64) {
	ta, okA := toTimestamp(a)
	tb, okB := toTimestamp(b)
	if !okA && !okB {
		return toNumber(a), toNumber(b)
	}
	if !okA {
		ta = numberOrNaN(a)
	}
	if !okB {
		tb = numberOrNaN(b)
	}
	return ta, tb
}

func numberOrNaN(v any) float64 {
	if f, ok := numeric(v); ok {
		return f
	}
	return math.NaN()
}

// asList recognizes list values. Common slice types are matched directly;
// other slice and array kinds fall back to reflection.
func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, true
	case string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// member reports whether target is in list by raw identity or by string form.
// A nil target is never a member.
func member(list []any, target any) bool {
	if target == nil {
		return false
	}
	ts, tok := stringify(target)
	for _, e := range list {
		if looseIdentical(e, target) {
			return true
		}
		if es, ok := stringify(e); ok && tok && es == ts {
			return true
		}
	}
	return false
}
