package busvalue

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Value is the closed sum Primitive | Container. Concrete types below
// are the only implementations; an unrecognized wire discriminant is
// a decode error, never a silent zero value.
type Value interface {
	isValue()
	Type() ValueType
	MarshalJSON() ([]byte, error)
}

// --- primitives -------------------------------------------------------

type (
	U8         uint8
	Bool       bool
	I16        int16
	U16        uint16
	I32        int32
	U32        uint32
	I64        int64
	U64        uint64
	F64        decimal.Decimal
	String     string
	Signature  string
	ObjectPath string
	Fd         int32
)

func (U8) isValue()         {}
func (Bool) isValue()       {}
func (I16) isValue()        {}
func (U16) isValue()        {}
func (I32) isValue()        {}
func (U32) isValue()        {}
func (I64) isValue()        {}
func (U64) isValue()        {}
func (F64) isValue()        {}
func (String) isValue()     {}
func (Signature) isValue()  {}
func (ObjectPath) isValue() {}
func (Fd) isValue()         {}

func (U8) Type() ValueType         { return TU8 }
func (Bool) Type() ValueType       { return TBool }
func (I16) Type() ValueType        { return TI16 }
func (U16) Type() ValueType        { return TU16 }
func (I32) Type() ValueType        { return TI32 }
func (U32) Type() ValueType        { return TU32 }
func (I64) Type() ValueType        { return TI64 }
func (U64) Type() ValueType        { return TU64 }
func (F64) Type() ValueType        { return TF64 }
func (String) Type() ValueType     { return TString }
func (Signature) Type() ValueType  { return TSignature }
func (ObjectPath) Type() ValueType { return TObjectPath }
func (Fd) Type() ValueType         { return TFd }

type primitiveEnvelope struct {
	Type  PrimitiveType   `json:"type"`
	Value json.RawMessage `json:"value"`
}

func marshalPrimitive(t PrimitiveType, v any) ([]byte, error) {
	val, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(primitiveEnvelope{Type: t, Value: val})
}

func (v U8) MarshalJSON() ([]byte, error)         { return marshalPrimitive(TU8, uint8(v)) }
func (v Bool) MarshalJSON() ([]byte, error)       { return marshalPrimitive(TBool, bool(v)) }
func (v I16) MarshalJSON() ([]byte, error)        { return marshalPrimitive(TI16, int16(v)) }
func (v U16) MarshalJSON() ([]byte, error)        { return marshalPrimitive(TU16, uint16(v)) }
func (v I32) MarshalJSON() ([]byte, error)        { return marshalPrimitive(TI32, int32(v)) }
func (v U32) MarshalJSON() ([]byte, error)        { return marshalPrimitive(TU32, uint32(v)) }
func (v I64) MarshalJSON() ([]byte, error)        { return marshalPrimitive(TI64, int64(v)) }
func (v U64) MarshalJSON() ([]byte, error)        { return marshalPrimitive(TU64, uint64(v)) }
func (v String) MarshalJSON() ([]byte, error)     { return marshalPrimitive(TString, string(v)) }
func (v Signature) MarshalJSON() ([]byte, error)  { return marshalPrimitive(TSignature, string(v)) }
func (v ObjectPath) MarshalJSON() ([]byte, error) { return marshalPrimitive(TObjectPath, string(v)) }
func (v Fd) MarshalJSON() ([]byte, error)         { return marshalPrimitive(TFd, int32(v)) }

// MarshalJSON for F64 emits the decimal.Decimal as a bare JSON number,
// preserving literal round-trips per the floating-point fidelity note.
func (v F64) MarshalJSON() ([]byte, error) {
	d := decimal.Decimal(v)
	return marshalPrimitive(TF64, json.RawMessage(d.String()))
}

// Float64 performs the saturating conversion to a native binary
// float required when crossing into the bus; on failure it returns
// 0.0 rather than propagating an error.
func (v F64) Float64() float64 {
	f, _ := decimal.Decimal(v).Float64()
	return f
}

// NewF64 builds an F64 from a native float64.
func NewF64(f float64) F64 {
	return F64(decimal.NewFromFloat(f))
}

// --- containers ---------------------------------------------------------

// Variant boxes another Value.
type Variant struct{ Inner Value }

func (Variant) isValue()         {}
func (Variant) Type() ValueType  { return VariantType{} }
func (v Variant) MarshalJSON() ([]byte, error) {
	inner, err := json.Marshal(v.Inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{
		"type":  mustRaw("variant"),
		"value": inner,
	})
}

// Struct is an ordered, non-empty sequence of values.
type Struct struct{ Fields []Value }

func (Struct) isValue() {}
func (s Struct) Type() ValueType {
	fields := make([]ValueType, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = f.Type()
	}
	return StructType{Fields: fields}
}
func (s Struct) MarshalJSON() ([]byte, error) {
	fields, err := json.Marshal(s.Fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{
		"type":  mustRaw("struct"),
		"value": fields,
	})
}

// Array is either typed-empty (Elem set, Items nil) or populated
// (Items non-nil; Elem is inferred from Items[0] and not stored).
type Array struct {
	Elem  ValueType // used only when Items is empty
	Items []Value
}

func (Array) isValue() {}
func (a Array) Type() ValueType {
	if len(a.Items) == 0 {
		return ArrayType{Elem: a.Elem}
	}
	return ArrayType{Elem: a.Items[0].Type()}
}
func (a Array) MarshalJSON() ([]byte, error) {
	if len(a.Items) == 0 {
		elem, err := json.Marshal(a.Elem)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{
			"type":      mustRaw("array"),
			"valueType": elem,
		})
	}
	items, err := json.Marshal(a.Items)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{
		"type":  mustRaw("array"),
		"value": items,
	})
}

// Dict is either typed-empty (KeyType/ValType set, Entries nil) or
// populated (Entries non-nil; string keys only, per the deliberate
// lossy wire boundary).
type Dict struct {
	KeyType PrimitiveType
	ValType ValueType
	Entries map[string]Value
}

func (Dict) isValue() {}
func (d Dict) Type() ValueType {
	if len(d.Entries) == 0 {
		return DictType{Key: d.KeyType, Val: d.ValType}
	}
	for _, v := range d.Entries {
		return DictType{Key: TString, Val: v.Type()}
	}
	return DictType{Key: d.KeyType, Val: d.ValType}
}
func (d Dict) MarshalJSON() ([]byte, error) {
	if len(d.Entries) == 0 {
		key, err := json.Marshal(d.KeyType)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(d.ValType)
		if err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			Type      string          `json:"type"`
			KeyType   json.RawMessage `json:"keyType"`
			ValueType json.RawMessage `json:"valueType"`
		}{"dict", key, val})
	}
	entries, err := json.Marshal(d.Entries)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{
		"type":  mustRaw("dict"),
		"value": entries,
	})
}

func mustRaw(s string) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return b
}

// --- decode -------------------------------------------------------------

type discriminant struct {
	Type string `json:"type"`
}

// UnmarshalValue parses a Value from its tagged wire form.
func UnmarshalValue(data []byte) (Value, error) {
	var disc discriminant
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, fmt.Errorf("decode value discriminant: %w", err)
	}

	switch PrimitiveType(disc.Type) {
	case TU8, TBool, TI16, TU16, TI32, TU32, TI64, TU64, TF64, TString, TSignature, TObjectPath, TFd:
		return unmarshalPrimitive(PrimitiveType(disc.Type), data)
	}

	switch disc.Type {
	case "variant":
		var env struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode variant: %w", err)
		}
		inner, err := UnmarshalValue(env.Value)
		if err != nil {
			return nil, err
		}
		return Variant{Inner: inner}, nil

	case "struct":
		var env struct {
			Value []json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode struct: %w", err)
		}
		if len(env.Value) == 0 {
			return nil, errEmptyStructure
		}
		fields := make([]Value, len(env.Value))
		for i, raw := range env.Value {
			v, err := UnmarshalValue(raw)
			if err != nil {
				return nil, err
			}
			fields[i] = v
		}
		return Struct{Fields: fields}, nil

	case "array":
		var env struct {
			ValueType json.RawMessage   `json:"valueType"`
			Value     []json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		if env.Value == nil {
			elem, err := UnmarshalValueType(env.ValueType)
			if err != nil {
				return nil, err
			}
			return Array{Elem: elem}, nil
		}
		items := make([]Value, len(env.Value))
		var first ValueType
		for i, raw := range env.Value {
			v, err := UnmarshalValue(raw)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				first = v.Type()
			} else if v.Type().Signature() != first.Signature() {
				return nil, errElementsTypeDiffer
			}
			items[i] = v
		}
		return Array{Items: items}, nil

	case "dict":
		var env struct {
			KeyType   json.RawMessage            `json:"keyType"`
			ValueType json.RawMessage            `json:"valueType"`
			Value     map[string]json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode dict: %w", err)
		}
		if env.Value == nil {
			var keyBare string
			if err := json.Unmarshal(env.KeyType, &keyBare); err != nil {
				return nil, fmt.Errorf("decode dict key type: %w", err)
			}
			key := PrimitiveType(keyBare)
			if !key.valid() {
				return nil, fmt.Errorf("unknown dict key type %q", keyBare)
			}
			val, err := UnmarshalValueType(env.ValueType)
			if err != nil {
				return nil, err
			}
			return Dict{KeyType: key, ValType: val}, nil
		}
		entries := make(map[string]Value, len(env.Value))
		var first ValueType
		first_set := false
		for k, raw := range env.Value {
			v, err := UnmarshalValue(raw)
			if err != nil {
				return nil, err
			}
			if !first_set {
				first = v.Type()
				first_set = true
			} else if v.Type().Signature() != first.Signature() {
				return nil, errElementsTypeDiffer
			}
			entries[k] = v
		}
		return Dict{KeyType: TString, Entries: entries}, nil
	}

	return nil, fmt.Errorf("unknown value type %q", disc.Type)
}

func unmarshalPrimitive(t PrimitiveType, data []byte) (Value, error) {
	var env struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	switch t {
	case TU8:
		var v uint8
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return U8(v), nil
	case TBool:
		var v bool
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return Bool(v), nil
	case TI16:
		var v int16
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return I16(v), nil
	case TU16:
		var v uint16
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return U16(v), nil
	case TI32:
		var v int32
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return I32(v), nil
	case TU32:
		var v uint32
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return U32(v), nil
	case TI64:
		var v int64
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return I64(v), nil
	case TU64:
		var v uint64
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return U64(v), nil
	case TF64:
		var v decimal.Decimal
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return F64(v), nil
	case TString:
		var v string
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return String(v), nil
	case TSignature:
		var v string
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return Signature(v), nil
	case TObjectPath:
		var v string
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return ObjectPath(v), nil
	case TFd:
		var v int32
		if err := json.Unmarshal(env.Value, &v); err != nil {
			return nil, err
		}
		return Fd(v), nil
	}
	return nil, fmt.Errorf("unhandled primitive type %s", t)
}
