package filter

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueKind discriminates the small set of value shapes a leaf may carry.
type ValueKind string

const (
	KindString   ValueKind = "string"
	KindNumber   ValueKind = "number"
	KindBool     ValueKind = "bool"
	KindTime     ValueKind = "time"
	KindDuration ValueKind = "duration"
	KindArray    ValueKind = "array"
	KindNull     ValueKind = "null"
)

// Value is the sum type over filter leaf values.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
	Dur  time.Duration
	Arr  []Value
}

// String wraps a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number wraps a numeric value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Time wraps a timestamp value.
func Time(t time.Time) Value { return Value{Kind: KindTime, Time: t} }

// Duration wraps a duration value (used by the time_window sugar).
func Duration(d time.Duration) Value { return Value{Kind: KindDuration, Dur: d} }

// Null is the explicit null value.
func Null() Value { return Value{Kind: KindNull} }

// Array wraps a list of values.
func Array(vs ...Value) Value { return Value{Kind: KindArray, Arr: vs} }

// Strings wraps a list of string values.
func Strings(ss ...string) Value {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = String(s)
	}
	return Array(vs...)
}

// Arg returns the value as a driver-friendly bind argument.
func (v Value) Arg() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindTime:
		return v.Time
	case KindDuration:
		return v.Dur.String()
	case KindArray:
		args := make([]any, len(v.Arr))
		for i, e := range v.Arr {
			args[i] = e.Arg()
		}
		return args
	default:
		return nil
	}
}

type valueJSON struct {
	Kind ValueKind       `json:"kind"`
	Str  *string         `json:"str,omitempty"`
	Num  *float64        `json:"num,omitempty"`
	Bool *bool           `json:"bool,omitempty"`
	Time *time.Time      `json:"time,omitempty"`
	Dur  *string         `json:"dur,omitempty"`
	Arr  json.RawMessage `json:"arr,omitempty"`
}

// MarshalJSON encodes the value with its kind tag so parsing is lossless.
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.Kind}
	switch v.Kind {
	case KindString:
		out.Str = &v.Str
	case KindNumber:
		out.Num = &v.Num
	case KindBool:
		out.Bool = &v.Bool
	case KindTime:
		out.Time = &v.Time
	case KindDuration:
		s := v.Dur.String()
		out.Dur = &s
	case KindArray:
		raw, err := json.Marshal(v.Arr)
		if err != nil {
			return nil, err
		}
		out.Arr = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a value produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	v.Kind = in.Kind
	switch in.Kind {
	case KindString:
		if in.Str != nil {
			v.Str = *in.Str
		}
	case KindNumber:
		if in.Num != nil {
			v.Num = *in.Num
		}
	case KindBool:
		if in.Bool != nil {
			v.Bool = *in.Bool
		}
	case KindTime:
		if in.Time != nil {
			v.Time = *in.Time
		}
	case KindDuration:
		if in.Dur != nil {
			d, err := time.ParseDuration(*in.Dur)
			if err != nil {
				return fmt.Errorf("filter: bad duration %q: %w", *in.Dur, err)
			}
			v.Dur = d
		}
	case KindArray:
		if in.Arr != nil {
			if err := json.Unmarshal(in.Arr, &v.Arr); err != nil {
				return err
			}
		}
	case KindNull, "":
		// A group node carries no value; its zero kind round-trips as-is.
	default:
		return fmt.Errorf("filter: unknown value kind %q", in.Kind)
	}
	return nil
}
