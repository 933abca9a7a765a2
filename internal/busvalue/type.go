// Package busvalue implements the wire value/type tree and its
// bidirectional mapping to D-Bus values, per the value codec design:
// a closed sum of primitives and containers, tagged on the wire, with
// type inference for populated containers and explicit type
// descriptors for empty ones.
package busvalue

import (
	"encoding/json"
	"fmt"
)

// PrimitiveType names one of the thirteen wire primitives.
type PrimitiveType string

const (
	TU8         PrimitiveType = "u8"
	TBool       PrimitiveType = "bool"
	TI16        PrimitiveType = "i16"
	TU16        PrimitiveType = "u16"
	TI32        PrimitiveType = "i32"
	TU32        PrimitiveType = "u32"
	TI64        PrimitiveType = "i64"
	TU64        PrimitiveType = "u64"
	TF64        PrimitiveType = "f64"
	TString     PrimitiveType = "string"
	TSignature  PrimitiveType = "signature"
	TObjectPath PrimitiveType = "objectPath"
	TFd         PrimitiveType = "fd"
)

func (p PrimitiveType) valid() bool {
	switch p {
	case TU8, TBool, TI16, TU16, TI32, TU32, TI64, TU64, TF64, TString, TSignature, TObjectPath, TFd:
		return true
	}
	return false
}

// signature returns the D-Bus single-character (or fixed-string)
// signature for a primitive type.
func (p PrimitiveType) signature() string {
	switch p {
	case TU8:
		return "y"
	case TBool:
		return "b"
	case TI16:
		return "n"
	case TU16:
		return "q"
	case TI32:
		return "i"
	case TU32:
		return "u"
	case TI64:
		return "x"
	case TU64:
		return "t"
	case TF64:
		return "d"
	case TString:
		return "s"
	case TSignature:
		return "g"
	case TObjectPath:
		return "o"
	case TFd:
		return "h"
	}
	return ""
}

// ValueType is the closed sum PrimitiveType | ContainerType. On the
// wire, a bare PrimitiveType (or the data-less "variant" container
// type) is a plain JSON string; a data-carrying container type is a
// single-key object keyed by its variant name.
type ValueType interface {
	isValueType()
	Signature() string
	MarshalJSON() ([]byte, error)
}

func (PrimitiveType) isValueType() {}

// MarshalJSON renders a PrimitiveType as a bare JSON string.
func (p PrimitiveType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p))
}

func (p PrimitiveType) Signature() string { return p.signature() }

// VariantType is the data-less container type "variant".
type VariantType struct{}

func (VariantType) isValueType() {}
func (VariantType) Signature() string {
	return "v"
}
func (VariantType) MarshalJSON() ([]byte, error) {
	return json.Marshal("variant")
}

// ArrayType is the container type array{valueType}.
type ArrayType struct{ Elem ValueType }

func (ArrayType) isValueType() {}
func (a ArrayType) Signature() string {
	return "a" + a.Elem.Signature()
}
func (a ArrayType) MarshalJSON() ([]byte, error) {
	elem, err := json.Marshal(a.Elem)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{
		"array": mustObj(map[string]json.RawMessage{"valueType": elem}),
	})
}

// DictType is the container type dict{keyType,valueType}.
type DictType struct {
	Key PrimitiveType
	Val ValueType
}

func (DictType) isValueType() {}
func (d DictType) Signature() string {
	return "a{" + d.Key.signature() + d.Val.Signature() + "}"
}
func (d DictType) MarshalJSON() ([]byte, error) {
	key, err := json.Marshal(d.Key)
	if err != nil {
		return nil, err
	}
	val, err := json.Marshal(d.Val)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{
		"dict": mustObj(map[string]json.RawMessage{"keyType": key, "valueType": val}),
	})
}

// StructType is the container type struct{fields[]}.
type StructType struct{ Fields []ValueType }

func (StructType) isValueType() {}
func (s StructType) Signature() string {
	sig := "("
	for _, f := range s.Fields {
		sig += f.Signature()
	}
	return sig + ")"
}
func (s StructType) MarshalJSON() ([]byte, error) {
	fields, err := json.Marshal(s.Fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{
		"struct": mustObj(map[string]json.RawMessage{"fields": fields}),
	})
}

func mustObj(m map[string]json.RawMessage) json.RawMessage {
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return b
}

// UnmarshalValueType parses a ValueType from either a bare string or a
// single-key container object.
func UnmarshalValueType(data []byte) (ValueType, error) {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		if bare == "variant" {
			return VariantType{}, nil
		}
		pt := PrimitiveType(bare)
		if !pt.valid() {
			return nil, fmt.Errorf("unknown value type %q", bare)
		}
		return pt, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode value type: %w", err)
	}
	if raw, ok := obj["array"]; ok {
		var fields struct {
			ValueType json.RawMessage `json:"valueType"`
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode array type: %w", err)
		}
		elem, err := UnmarshalValueType(fields.ValueType)
		if err != nil {
			return nil, err
		}
		return ArrayType{Elem: elem}, nil
	}
	if raw, ok := obj["dict"]; ok {
		var fields struct {
			KeyType   json.RawMessage `json:"keyType"`
			ValueType json.RawMessage `json:"valueType"`
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode dict type: %w", err)
		}
		var keyBare string
		if err := json.Unmarshal(fields.KeyType, &keyBare); err != nil {
			return nil, fmt.Errorf("decode dict key type: %w", err)
		}
		key := PrimitiveType(keyBare)
		if !key.valid() {
			return nil, fmt.Errorf("unknown dict key type %q", keyBare)
		}
		val, err := UnmarshalValueType(fields.ValueType)
		if err != nil {
			return nil, err
		}
		return DictType{Key: key, Val: val}, nil
	}
	if raw, ok := obj["struct"]; ok {
		var fields struct {
			Fields []json.RawMessage `json:"fields"`
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode struct type: %w", err)
		}
		out := make([]ValueType, len(fields.Fields))
		for i, f := range fields.Fields {
			vt, err := UnmarshalValueType(f)
			if err != nil {
				return nil, err
			}
			out[i] = vt
		}
		return StructType{Fields: out}, nil
	}
	return nil, fmt.Errorf("unrecognized container type object")
}
