package macros

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ResolvePath walks a dotted path such as "a.b.0.c" through nested maps
// and slices. Numeric segments index into slices.
func ResolvePath(data any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}

	cur := data
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}

		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			// typed maps and slices coming straight from Go callers
			rv := reflect.ValueOf(cur)
			switch rv.Kind() {
			case reflect.Map:
				if rv.Type().Key().Kind() != reflect.String {
					return nil, false
				}
				next := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
				if !next.IsValid() {
					return nil, false
				}
				cur = next.Interface()
			case reflect.Slice, reflect.Array:
				idx, err := strconv.Atoi(seg)
				if err != nil || idx < 0 || idx >= rv.Len() {
					return nil, false
				}
				cur = rv.Index(idx).Interface()
			default:
				return nil, false
			}
		}
	}

	return cur, true
}

// Stringify renders a resolved value the way it is embedded in text
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *big.Int:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// ApplyStringTemplate replaces every {{path}} in text. Paths that do not
// resolve render as an empty string.
func ApplyStringTemplate(text string, data map[string]any) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		path := placeholder.FindStringSubmatch(m)[1]
		v, ok := ResolvePath(data, path)
		if !ok {
			return ""
		}
		return Stringify(v)
	})
}

type undefined struct{}

// Undefined marks a structural template leaf whose path did not resolve
var Undefined = undefined{}

// ApplyJSONTemplate transforms a template tree. A string leaf that is a
// single {{path}} is replaced by the resolved value with its type intact;
// strings mixing text and placeholders are rendered as string templates.
// Unresolved leaves are dropped from objects and become nil in arrays.
func ApplyJSONTemplate(tpl any, data map[string]any) any {
	v := applyJSON(tpl, data)
	if v == Undefined {
		return nil
	}
	return v
}

func applyJSON(tpl any, data map[string]any) any {
	switch t := tpl.(type) {
	case string:
		if m := placeholder.FindStringSubmatchIndex(t); m != nil && m[0] == 0 && m[1] == len(t) {
			v, ok := ResolvePath(data, t[m[2]:m[3]])
			if !ok {
				return Undefined
			}
			return v
		}
		if placeholder.MatchString(t) {
			return ApplyStringTemplate(t, data)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			v := applyJSON(child, data)
			if v == Undefined {
				continue
			}
			out[k] = v
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			v := applyJSON(child, data)
			if v == Undefined {
				v = nil
			}
			out[i] = v
		}
		return out
	}
	return tpl
}
