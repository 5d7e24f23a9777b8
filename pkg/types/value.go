package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
)

// Value is a tagged variant for one decoded JSON value. Holding the
// decoded payload as Values (rather than interface{}) lets downstream
// stages switch exhaustively over the possible shapes instead of relying
// on runtime type assertions.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	Obj  map[string]Value
	Arr  []Value
}

// RawMessage is a single decoded queue payload: a mapping from top-level
// field name to its value. It is transient state, owned by the pipeline
// for the duration of one processing cycle.
type RawMessage map[string]Value

// DecodeRawMessage decodes one payload into a RawMessage. Anything that is
// not a JSON object (including a bare null) is a decode error.
func DecodeRawMessage(payload []byte) (RawMessage, error) {
	var msg RawMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decoding message payload: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message payload is not a JSON object")
	}
	return msg, nil
}

// IsScalar reports whether the value is a flat column candidate.
func (v Value) IsScalar() bool {
	switch v.Kind {
	case KindNull, KindBool, KindNumber, KindString:
		return true
	default:
		return false
	}
}

// Scalar returns the Go representation of a scalar value: nil, bool,
// float64 or string. It must not be called on objects or arrays.
func (v Value) Scalar() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	}
	panic(fmt.Sprintf("types: Scalar called on non-scalar value (kind %d)", v.Kind))
}

// UnmarshalJSON decodes any JSON value into the matching variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty JSON value")
	}
	switch data[0] {
	case 'n':
		*v = Value{Kind: KindNull}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Value{Kind: KindBool, Bool: b}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Value{Kind: KindString, Str: s}
		return nil
	case '{':
		obj := make(map[string]Value)
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*v = Value{Kind: KindObject, Obj: obj}
		return nil
	case '[':
		arr := make([]Value, 0)
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		*v = Value{Kind: KindArray, Arr: arr}
		return nil
	default:
		n, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid JSON number %q: %w", data, err)
		}
		*v = Value{Kind: KindNumber, Num: n}
		return nil
	}
}

// MarshalJSON renders the variant back to canonical JSON text. This is the
// serialization used when a nested structure is stored as an opaque string
// column and when rows are encoded for a bulk load.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	case KindObject:
		if v.Obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Obj)
	case KindArray:
		if v.Arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Arr)
	}
	return nil, fmt.Errorf("types: cannot marshal value of unknown kind %d", v.Kind)
}

// Convenience constructors, used mainly by tests.

func Null() Value { return Value{Kind: KindNull} }

func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

func ObjectValue(m map[string]Value) Value { return Value{Kind: KindObject, Obj: m} }

func ArrayValue(vs ...Value) Value { return Value{Kind: KindArray, Arr: vs} }
