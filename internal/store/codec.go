package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/goran-ethernal/subgraphd/pkg/schema"
	"github.com/goran-ethernal/subgraphd/pkg/value"
)

// jsonCell is the wire shape used to serialize one List<T> element into the
// TEXT column backing Array<T> (spec.md §4.4's "Array<T>→list<T-mapped>"
// mapping, kept in text per spec.md §9's "keep numeric precision in text
// columns" note).
type jsonCell struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// encodeValue converts a Value to a database/sql driver-compatible value
// for the column described by fk.
func encodeValue(v value.Value, fk schema.FieldKind) (interface{}, error) {
	if v.IsNull() {
		return nil, nil
	}
	switch fk.Kind {
	case value.KindInt:
		i, ok := v.AsInt()
		if !ok {
			return nil, fmt.Errorf("store: expected Int, got %s", v.Kind())
		}
		return int64(i), nil
	case value.KindInt8:
		i, ok := v.AsInt8()
		if !ok {
			return nil, fmt.Errorf("store: expected Int8, got %s", v.Kind())
		}
		return i, nil
	case value.KindString:
		s, ok := v.AsString()
		if !ok {
			return nil, fmt.Errorf("store: expected String, got %s", v.Kind())
		}
		return s, nil
	case value.KindBigInt:
		b, ok := v.AsBigInt()
		if !ok {
			return nil, fmt.Errorf("store: expected BigInt, got %s", v.Kind())
		}
		return b.String(), nil
	case value.KindBigDecimal:
		d, ok := v.AsBigDecimal()
		if !ok {
			return nil, fmt.Errorf("store: expected BigDecimal, got %s", v.Kind())
		}
		return d.String(), nil
	case value.KindBool:
		b, ok := v.AsBool()
		if !ok {
			return nil, fmt.Errorf("store: expected Bool, got %s", v.Kind())
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case value.KindBytes:
		b, ok := v.AsBytes()
		if !ok {
			return nil, fmt.Errorf("store: expected Bytes, got %s", v.Kind())
		}
		return b, nil
	case value.KindList:
		list, ok := v.AsList()
		if !ok {
			return nil, fmt.Errorf("store: expected List, got %s", v.Kind())
		}
		cells := make([]jsonCell, len(list))
		for i, elem := range list {
			c, err := encodeCell(elem)
			if err != nil {
				return nil, fmt.Errorf("store: list element %d: %w", i, err)
			}
			cells[i] = c
		}
		out, err := json.Marshal(cells)
		if err != nil {
			return nil, fmt.Errorf("store: marshaling list: %w", err)
		}
		return string(out), nil
	default:
		return nil, fmt.Errorf("store: unsupported field kind %s", fk.Kind)
	}
}

func encodeCell(v value.Value) (jsonCell, error) {
	if v.IsNull() {
		return jsonCell{Kind: "null"}, nil
	}
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		data, _ := json.Marshal(s)
		return jsonCell{Kind: "string", Data: data}, nil
	case value.KindInt:
		i, _ := v.AsInt()
		data, _ := json.Marshal(i)
		return jsonCell{Kind: "int", Data: data}, nil
	case value.KindInt8:
		i, _ := v.AsInt8()
		data, _ := json.Marshal(i)
		return jsonCell{Kind: "int8", Data: data}, nil
	case value.KindBigInt:
		b, _ := v.AsBigInt()
		data, _ := json.Marshal(b.String())
		return jsonCell{Kind: "bigint", Data: data}, nil
	case value.KindBigDecimal:
		d, _ := v.AsBigDecimal()
		data, _ := json.Marshal(d.String())
		return jsonCell{Kind: "bigdecimal", Data: data}, nil
	case value.KindBool:
		b, _ := v.AsBool()
		data, _ := json.Marshal(b)
		return jsonCell{Kind: "bool", Data: data}, nil
	case value.KindBytes:
		b, _ := v.AsBytes()
		data, _ := json.Marshal(hex.EncodeToString(b))
		return jsonCell{Kind: "bytes", Data: data}, nil
	default:
		return jsonCell{}, fmt.Errorf("store: list element kind %s not supported", v.Kind())
	}
}

func decodeCell(c jsonCell) (value.Value, error) {
	switch c.Kind {
	case "null":
		return value.Null(), nil
	case "string":
		var s string
		if err := json.Unmarshal(c.Data, &s); err != nil {
			return value.Value{}, err
		}
		return value.NewString(s), nil
	case "int":
		var i int32
		if err := json.Unmarshal(c.Data, &i); err != nil {
			return value.Value{}, err
		}
		return value.NewInt(i), nil
	case "int8":
		var i int64
		if err := json.Unmarshal(c.Data, &i); err != nil {
			return value.Value{}, err
		}
		return value.NewInt8(i), nil
	case "bigint":
		var s string
		if err := json.Unmarshal(c.Data, &s); err != nil {
			return value.Value{}, err
		}
		return value.BigIntFromString(s)
	case "bigdecimal":
		var s string
		if err := json.Unmarshal(c.Data, &s); err != nil {
			return value.Value{}, err
		}
		return value.BigDecimalFromString(s)
	case "bool":
		var b bool
		if err := json.Unmarshal(c.Data, &b); err != nil {
			return value.Value{}, err
		}
		return value.NewBool(b), nil
	case "bytes":
		var hexStr string
		if err := json.Unmarshal(c.Data, &hexStr); err != nil {
			return value.Value{}, err
		}
		b, err := hex.DecodeString(hexStr)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewBytes(b), nil
	default:
		return value.Value{}, fmt.Errorf("store: unknown list element kind %q", c.Kind)
	}
}

// decodeValue converts a database/sql scanned value back into a Value for
// the column described by fk.
func decodeValue(raw interface{}, fk schema.FieldKind) (value.Value, error) {
	if raw == nil {
		return value.Null(), nil
	}
	switch fk.Kind {
	case value.KindInt:
		i, err := asInt64(raw)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewInt(int32(i)), nil
	case value.KindInt8:
		i, err := asInt64(raw)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewInt8(i), nil
	case value.KindString:
		s, err := asString(raw)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewString(s), nil
	case value.KindBigInt:
		s, err := asString(raw)
		if err != nil {
			return value.Value{}, err
		}
		i, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return value.Value{}, fmt.Errorf("store: invalid stored BigInt %q", s)
		}
		return value.NewBigInt(i), nil
	case value.KindBigDecimal:
		s, err := asString(raw)
		if err != nil {
			return value.Value{}, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return value.Value{}, fmt.Errorf("store: invalid stored BigDecimal %q: %w", s, err)
		}
		return value.NewBigDecimal(d), nil
	case value.KindBool:
		i, err := asInt64(raw)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewBool(i != 0), nil
	case value.KindBytes:
		b, ok := raw.([]byte)
		if !ok {
			return value.Value{}, fmt.Errorf("store: expected blob, got %T", raw)
		}
		return value.NewBytes(b), nil
	case value.KindList:
		s, err := asString(raw)
		if err != nil {
			return value.Value{}, err
		}
		var cells []jsonCell
		if err := json.Unmarshal([]byte(s), &cells); err != nil {
			return value.Value{}, fmt.Errorf("store: decoding list column: %w", err)
		}
		elems := make([]value.Value, len(cells))
		for i, c := range cells {
			ev, err := decodeCell(c)
			if err != nil {
				return value.Value{}, fmt.Errorf("store: list element %d: %w", i, err)
			}
			elems[i] = ev
		}
		return value.NewList(elems), nil
	default:
		return value.Value{}, fmt.Errorf("store: unsupported field kind %s", fk.Kind)
	}
}

func asInt64(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("store: expected integer, got %T", raw)
	}
}

func asString(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("store: expected text, got %T", raw)
	}
}
