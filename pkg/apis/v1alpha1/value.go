/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// ValueKind discriminates the variants of a payload Value.
type ValueKind string

const (
	ValueKindString     ValueKind = "string"
	ValueKindInt        ValueKind = "int"
	ValueKindFloat      ValueKind = "float"
	ValueKindBool       ValueKind = "bool"
	ValueKindStringList ValueKind = "string_list"
	ValueKindTime       ValueKind = "time"
)

// Value is a single payload value. Label payloads are heterogeneous maps of
// field name to Value; exactly one variant is populated according to Kind.
type Value struct {
	Kind  ValueKind `json:"kind"`
	Str   string    `json:"str,omitempty"`
	Int   int64     `json:"int,omitempty"`
	Float float64   `json:"float,omitempty"`
	Bool  bool      `json:"bool,omitempty"`
	List  []string  `json:"list,omitempty"`
	Time  time.Time `json:"time,omitempty"`
}

func StringValue(s string) Value      { return Value{Kind: ValueKindString, Str: s} }
func IntValue(i int64) Value          { return Value{Kind: ValueKindInt, Int: i} }
func FloatValue(f float64) Value      { return Value{Kind: ValueKindFloat, Float: f} }
func BoolValue(b bool) Value          { return Value{Kind: ValueKindBool, Bool: b} }
func StringListValue(l []string) Value { return Value{Kind: ValueKindStringList, List: l} }
func TimeValue(t time.Time) Value     { return Value{Kind: ValueKindTime, Time: t} }

// Interface returns the bare Go value of the populated variant, suitable for
// JSON emission in export rows.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case ValueKindString:
		return v.Str
	case ValueKindInt:
		return v.Int
	case ValueKindFloat:
		return v.Float
	case ValueKindBool:
		return v.Bool
	case ValueKindStringList:
		return v.List
	case ValueKindTime:
		return v.Time.UTC().Format(time.RFC3339)
	}
	return nil
}

// CSVString renders the value for a CSV cell. Booleans are true/false,
// timestamps ISO-8601 UTC, lists joined with semicolons.
func (v Value) CSVString() string {
	switch v.Kind {
	case ValueKindString:
		return v.Str
	case ValueKindInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueKindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValueKindBool:
		return strconv.FormatBool(v.Bool)
	case ValueKindStringList:
		out := ""
		for i, s := range v.List {
			if i > 0 {
				out += ";"
			}
			out += s
		}
		return out
	case ValueKindTime:
		return v.Time.UTC().Format(time.RFC3339)
	}
	return ""
}

// Equal reports semantic equality between two values.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueKindString:
		return v.Str == o.Str
	case ValueKindInt:
		return v.Int == o.Int
	case ValueKindFloat:
		return v.Float == o.Float
	case ValueKindBool:
		return v.Bool == o.Bool
	case ValueKindStringList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != o.List[i] {
				return false
			}
		}
		return true
	case ValueKindTime:
		return v.Time.Equal(o.Time)
	}
	return true
}

// MarshalJSON emits the bare variant rather than the tagged struct so payload
// maps round-trip as ordinary JSON objects.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON infers the variant from the JSON token. Integral numbers
// become ints, other numbers floats; arrays must be arrays of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	inferred, err := InferValue(raw)
	if err != nil {
		return err
	}
	*v = inferred
	return nil
}

// InferValue converts a decoded JSON value into a tagged Value.
func InferValue(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return IntValue(int64(t)), nil
		}
		return FloatValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case []interface{}:
		list := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return Value{}, fmt.Errorf("list values must be strings, got %T", e)
			}
			list = append(list, s)
		}
		return StringListValue(list), nil
	case []string:
		return StringListValue(t), nil
	case time.Time:
		return TimeValue(t), nil
	case nil:
		return Value{}, fmt.Errorf("null is not a payload value")
	}
	return Value{}, fmt.Errorf("unsupported payload value type %T", raw)
}

// Payload maps field names to values.
type Payload map[string]Value

// FieldNames returns the payload's field names in lexicographic order.
func (p Payload) FieldNames() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		if v.Kind == ValueKindStringList {
			list := make([]string, len(v.List))
			copy(list, v.List)
			v.List = list
		}
		out[k] = v
	}
	return out
}

// Equal reports field-wise equality between two payloads.
func (p Payload) Equal(o Payload) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
