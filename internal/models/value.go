package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind tags the raw value held by a cell.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "null"
	}
}

// CellValue is a raw cell value: a string, a number, a boolean or nothing.
// It encodes to the matching JSON scalar.
type CellValue struct {
	Kind   ValueKind
	Text   string
	Number float64
	Bool   bool
}

func StringValue(s string) CellValue { return CellValue{Kind: KindString, Text: s} }
func NumberValue(n float64) CellValue { return CellValue{Kind: KindNumber, Number: n} }
func BoolValue(b bool) CellValue { return CellValue{Kind: KindBool, Bool: b} }
func NullValue() CellValue { return CellValue{} }

// IsNull reports whether the cell holds no value.
func (v CellValue) IsNull() bool {
	return v.Kind == KindNull
}

// String renders the value the way it would be typed into a cell.
func (v CellValue) String() string {
	switch v.Kind {
	case KindString:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	default:
		return ""
	}
}

func (v CellValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Text)
	case KindNumber:
		return json.Marshal(v.Number)
	case KindBool:
		return json.Marshal(v.Bool)
	default:
		return []byte("null"), nil
	}
}

func (v *CellValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = NullValue()
		return nil
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case string:
		*v = StringValue(x)
	case float64:
		*v = NumberValue(x)
	case bool:
		*v = BoolValue(x)
	default:
		return fmt.Errorf("unsupported cell value %s", string(data))
	}
	return nil
}
