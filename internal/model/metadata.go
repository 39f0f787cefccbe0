package model

import (
	"encoding/json"
	"fmt"
)

// Metadata is an order-irrelevant set of caller-supplied attributes.
// Values are restricted to strings, numbers and booleans.
type Metadata map[string]MetaValue

// MetaValue holds exactly one of a string, a number or a bool.
type MetaValue struct {
	kind metaKind
	str  string
	num  float64
	b    bool
}

type metaKind uint8

const (
	metaString metaKind = iota + 1
	metaNumber
	metaBool
)

func String(v string) MetaValue { return MetaValue{kind: metaString, str: v} }
func Number(v float64) MetaValue { return MetaValue{kind: metaNumber, num: v} }
func Bool(v bool) MetaValue      { return MetaValue{kind: metaBool, b: v} }

// Interface returns the underlying Go value (string, float64 or bool).
func (v MetaValue) Interface() any {
	switch v.kind {
	case metaString:
		return v.str
	case metaNumber:
		return v.num
	case metaBool:
		return v.b
	}
	return nil
}

func (v MetaValue) MarshalJSON() ([]byte, error) {
	if v.kind == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(v.Interface())
}

func (v *MetaValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	case bool:
		*v = Bool(t)
	default:
		return fmt.Errorf("metadata value must be string, number or bool, got %T", raw)
	}
	return nil
}
