package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValueKind tags the variant held by a Value
type ValueKind string

const (
	KindNull     ValueKind = "null"
	KindBool     ValueKind = "bool"
	KindInt      ValueKind = "int"
	KindFloat    ValueKind = "float"
	KindString   ValueKind = "string"
	KindTime     ValueKind = "time"
	KindDuration ValueKind = "duration"
	KindList     ValueKind = "list"
	KindMap      ValueKind = "map"
)

// Value is a closed tagged variant for anything stored in info maps and
// persisted to report files. Anything that cannot be represented is rejected
// by ValueOf rather than stringified.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	d    time.Duration
	list []Value
	m    map[string]Value
}

func Null() Value { return Value{kind: KindNull} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.Round(0)} }
func Duration(d time.Duration) Value { return Value{kind: KindDuration, d: d} }

// List builds a list value. The slice is copied.
func List(vs ...Value) Value {
	list := make([]Value, len(vs))
	copy(list, vs)
	return Value{kind: KindList, list: list}
}

// Map builds a map value. The map is copied.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// Kind returns the variant tag. The zero Value is null.
func (v Value) Kind() ValueKind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

func (v Value) IsNull() bool { return v.Kind() == KindNull }

// Items returns the elements of a list value, nil otherwise
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Fields returns the entries of a map value, nil otherwise
func (v Value) Fields() map[string]Value {
	if v.kind != KindMap {
		return nil
	}
	return v.m
}

// Append returns a list value with vs appended. Non-list values are wrapped
// into a one-element list first.
func (v Value) Append(vs ...Value) Value {
	var base []Value
	if v.kind == KindList {
		base = v.list
	} else {
		base = []Value{v}
	}
	list := make([]Value, 0, len(base)+len(vs))
	list = append(list, base...)
	list = append(list, vs...)
	return Value{kind: KindList, list: list}
}

// Interface converts the value back into plain Go values
func (v Value) Interface() any {
	switch v.Kind() {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTime:
		return v.t
	case KindDuration:
		return v.d
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	}
	return nil
}

// String renders the value for humans
func (v Value) String() string {
	switch v.Kind() {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindDuration:
		return v.d.String()
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + v.m[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return ""
}

// ValueOf converts a Go value into a Value. Supported inputs are nil, bools,
// integers, floats, strings, time.Time, time.Duration, uuid.UUID, errors,
// fmt.Stringer implementations, Values, and slices or string-keyed maps of
// any of these.
func ValueOf(in any) (Value, error) {
	switch x := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case float32:
		return floatValue(float64(x))
	case float64:
		return floatValue(x)
	case time.Time:
		return Time(x), nil
	case time.Duration:
		return Duration(x), nil
	case uuid.UUID:
		return String(x.String()), nil
	case error:
		return String(x.Error()), nil
	case fmt.Stringer:
		return String(x.String()), nil
	}

	rv := reflect.ValueOf(in)
	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Float32, reflect.Float64:
		return floatValue(rv.Float())
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, fmt.Errorf("unsigned value %d overflows int64", u)
		}
		return Int(int64(u)), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		return ValueOf(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return Value{}, fmt.Errorf("unsupported value type %T, attach binary data instead", in)
		}
		list := make([]Value, rv.Len())
		for i := range rv.Len() {
			item, err := ValueOf(rv.Index(i).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			list[i] = item
		}
		return Value{kind: KindList, list: list}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			item, err := ValueOf(iter.Value().Interface())
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", key, err)
			}
			m[key] = item
		}
		return Value{kind: KindMap, m: m}, nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", in)
}

// MustValueOf is ValueOf for inputs known to be supported
func MustValueOf(in any) Value {
	v, err := ValueOf(in)
	if err != nil {
		panic(err)
	}
	return v
}

func floatValue(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("unsupported float value %v", f)
	}
	return Float(f), nil
}

type wireValue struct {
	Kind  ValueKind       `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}
func (v Value) MarshalJSON() ([]byte, error) {
	var (
		payload any
		kind    = v.Kind()
	)
	switch kind {
	case KindNull:
		return json.Marshal(wireValue{Kind: KindNull})
	case KindBool:
		payload = v.b
	case KindInt:
		payload = v.i
	case KindFloat:
		payload = v.f
	case KindString:
		payload = v.s
	case KindTime:
		payload = v.t.Format(time.RFC3339Nano)
	case KindDuration:
		payload = int64(v.d)
	case KindList:
		list := v.list
		if list == nil {
			list = []Value{}
		}
		payload = list
	case KindMap:
		m := v.m
		if m == nil {
			m = map[string]Value{}
		}
		payload = m
	default:
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Kind: kind, Value: raw})
}

// UnmarshalJSON decodes the canonical encoding produced by MarshalJSON
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Null()
		return nil
	}
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	out := Value{kind: w.Kind}
	var err error
	switch w.Kind {
	case KindNull, "":
		*v = Null()
		return nil
	case KindBool:
		err = json.Unmarshal(w.Value, &out.b)
	case KindInt:
		err = json.Unmarshal(w.Value, &out.i)
	case KindFloat:
		err = json.Unmarshal(w.Value, &out.f)
	case KindString:
		err = json.Unmarshal(w.Value, &out.s)
	case KindTime:
		var s string
		if err = json.Unmarshal(w.Value, &s); err == nil {
			out.t, err = time.Parse(time.RFC3339Nano, s)
		}
	case KindDuration:
		var ns int64
		err = json.Unmarshal(w.Value, &ns)
		out.d = time.Duration(ns)
	case KindList:
		err = json.Unmarshal(w.Value, &out.list)
		if out.list == nil {
			out.list = []Value{}
		}
	case KindMap:
		err = json.Unmarshal(w.Value, &out.m)
		if out.m == nil {
			out.m = map[string]Value{}
		}
	default:
		return fmt.Errorf("unknown value kind %q", w.Kind)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s value: %w", w.Kind, err)
	}
	*v = out
	return nil
}

// Info is a free-form key/value map. Adding an existing key turns the stored
// value into a list.
type Info map[string]Value

// Add merges a single entry. The first repeat of a key wraps the existing
// value into a list, later repeats append to it.
func (i Info) Add(key string, v Value) {
	existing, ok := i[key]
	if !ok {
		i[key] = v
		return
	}
	i[key] = existing.Append(v)
}

// Merge adds every entry of other in sorted key order
func (i Info) Merge(other Info) {
	keys := make([]string, 0, len(other))
	for k := range other {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		i.Add(k, other[k])
	}
}
