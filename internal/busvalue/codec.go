package busvalue

import (
	"fmt"
	"reflect"

	"github.com/godbus/dbus/v5"
)

// EncodeFromBus maps one value produced by the bus library into the
// wire value tree.
func EncodeFromBus(v any) (Value, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot encode nil bus value")
	}

	switch tv := v.(type) {
	case byte:
		return U8(tv), nil
	case bool:
		return Bool(tv), nil
	case int16:
		return I16(tv), nil
	case uint16:
		return U16(tv), nil
	case int32:
		return I32(tv), nil
	case uint32:
		return U32(tv), nil
	case int64:
		return I64(tv), nil
	case uint64:
		return U64(tv), nil
	case float64:
		return NewF64(tv), nil
	case string:
		return String(tv), nil
	case dbus.Signature:
		return Signature(tv.String()), nil
	case dbus.ObjectPath:
		return ObjectPath(tv), nil
	case dbus.UnixFDIndex:
		return Fd(tv), nil
	case dbus.UnixFD:
		return Fd(tv), nil
	case dbus.Variant:
		inner, err := EncodeFromBus(tv.Value())
		if err != nil {
			return nil, fmt.Errorf("encode variant contents: %w", err)
		}
		return Variant{Inner: inner}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		if n == 0 {
			elem, err := elemTypeOf(rv.Type().Elem())
			if err != nil {
				return nil, err
			}
			return Array{Elem: elem}, nil
		}
		items := make([]Value, n)
		for i := 0; i < n; i++ {
			item, err := EncodeFromBus(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return Array{Items: items}, nil

	case reflect.Map:
		keys := rv.MapKeys()
		if len(keys) == 0 {
			keyType, err := primitiveTypeOf(rv.Type().Key())
			if err != nil {
				return nil, err
			}
			valType, err := elemTypeOf(rv.Type().Elem())
			if err != nil {
				return nil, err
			}
			return Dict{KeyType: keyType, ValType: valType}, nil
		}
		entries := make(map[string]Value, len(keys))
		for _, k := range keys {
			keyStr, err := canonicalKeyString(k.Interface())
			if err != nil {
				return nil, err
			}
			val, err := EncodeFromBus(rv.MapIndex(k).Interface())
			if err != nil {
				return nil, err
			}
			entries[keyStr] = val
		}
		return Dict{KeyType: TString, Entries: entries}, nil

	case reflect.Struct:
		// dbus.Struct-shaped values (a struct with an exported Value
		// []interface{} field) are how the library surfaces a dynamic
		// DBus structure with no registered concrete Go type.
		if f := rv.FieldByName("Value"); f.IsValid() && f.Kind() == reflect.Slice {
			n := f.Len()
			if n == 0 {
				return nil, errEmptyStructure
			}
			fields := make([]Value, n)
			for i := 0; i < n; i++ {
				fv, err := EncodeFromBus(f.Index(i).Interface())
				if err != nil {
					return nil, err
				}
				fields[i] = fv
			}
			return Struct{Fields: fields}, nil
		}
	}

	return nil, fmt.Errorf("unsupported bus value of Go type %T", v)
}

// EncodeListFromBusBody maps an entire method-reply body (an ordered
// list of top-level bus values) into a wire value list.
func EncodeListFromBusBody(body []any) ([]Value, error) {
	out := make([]Value, len(body))
	for i, v := range body {
		enc, err := EncodeFromBus(v)
		if err != nil {
			return nil, fmt.Errorf("encode body field %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

func canonicalKeyString(k any) (string, error) {
	v, err := EncodeFromBus(k)
	if err != nil {
		return "", err
	}
	switch tv := v.(type) {
	case String:
		return string(tv), nil
	case ObjectPath:
		return string(tv), nil
	case Signature:
		return string(tv), nil
	default:
		return fmt.Sprintf("%v", k), nil
	}
}

func elemTypeOf(t reflect.Type) (ValueType, error) {
	switch t.Kind() {
	case reflect.Interface:
		return VariantType{}, nil
	default:
		return primitiveTypeOf(t)
	}
}

func primitiveTypeOf(t reflect.Type) (PrimitiveType, error) {
	switch t.Kind() {
	case reflect.Uint8:
		return TU8, nil
	case reflect.Bool:
		return TBool, nil
	case reflect.Int16:
		return TI16, nil
	case reflect.Uint16:
		return TU16, nil
	case reflect.Int32:
		return TI32, nil
	case reflect.Uint32:
		return TU32, nil
	case reflect.Int64:
		return TI64, nil
	case reflect.Uint64:
		return TU64, nil
	case reflect.Float64:
		return TF64, nil
	case reflect.String:
		return TString, nil
	}
	return "", fmt.Errorf("cannot infer primitive type for %s", t)
}

// DecodeToBus maps one wire value into the Go representation the bus
// library expects to send on the wire.
func DecodeToBus(v Value) (any, error) {
	switch tv := v.(type) {
	case U8:
		return byte(tv), nil
	case Bool:
		return bool(tv), nil
	case I16:
		return int16(tv), nil
	case U16:
		return uint16(tv), nil
	case I32:
		return int32(tv), nil
	case U32:
		return uint32(tv), nil
	case I64:
		return int64(tv), nil
	case U64:
		return uint64(tv), nil
	case F64:
		return tv.Float64(), nil
	case String:
		return string(tv), nil
	case Signature:
		sig, err := dbus.ParseSignature(string(tv))
		if err != nil {
			return nil, newFormatError("parse signature %q: %w", string(tv), err)
		}
		return sig, nil
	case ObjectPath:
		return dbus.ObjectPath(tv), nil
	case Fd:
		return dbus.UnixFDIndex(tv), nil
	case Variant:
		inner, err := DecodeToBus(tv.Inner)
		if err != nil {
			return nil, fmt.Errorf("decode variant contents: %w", err)
		}
		return dbus.MakeVariant(inner), nil
	case Struct:
		if len(tv.Fields) == 0 {
			return nil, errEmptyStructure
		}
		return decodeStructToBus(tv)
	case Array:
		return decodeArrayToBus(tv)
	case Dict:
		return decodeDictToBus(tv)
	}
	return nil, fmt.Errorf("unhandled wire value %T", v)
}

func decodeArrayToBus(a Array) (any, error) {
	if len(a.Items) == 0 {
		return typedEmptySlice(a.Elem)
	}
	first := a.Items[0].Type()
	decoded := make([]any, len(a.Items))
	for i, item := range a.Items {
		if item.Type().Signature() != first.Signature() {
			return nil, errElementsTypeDiffer
		}
		dv, err := DecodeToBus(item)
		if err != nil {
			return nil, err
		}
		decoded[i] = dv
	}
	return typedSliceOf(first, decoded)
}

func decodeDictToBus(d Dict) (any, error) {
	if len(d.Entries) == 0 {
		return typedEmptyMap(d.KeyType, d.ValType)
	}
	var first ValueType
	out := make(map[string]any, len(d.Entries))
	for k, v := range d.Entries {
		if first == nil {
			first = v.Type()
		} else if v.Type().Signature() != first.Signature() {
			return nil, errElementsTypeDiffer
		}
		dv, err := DecodeToBus(v)
		if err != nil {
			return nil, err
		}
		out[k] = dv
	}
	pt, ok := first.(PrimitiveType)
	if !ok {
		return out, nil
	}
	goType, err := goTypeForPrimitive(pt)
	if err != nil {
		return out, nil
	}
	typed := reflect.MakeMap(reflect.MapOf(reflect.TypeOf(""), goType))
	for k, dv := range out {
		typed.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(dv).Convert(goType))
	}
	return typed.Interface(), nil
}

// decodeStructToBus builds a dynamically-typed anonymous Go struct
// value via reflection so the bus library's encoder can infer the
// correct per-field DBus signature from concrete field types, the
// way it would for a hand-written Go struct with dbus-aware fields.
func decodeStructToBus(s Struct) (any, error) {
	fieldVals := make([]any, len(s.Fields))
	structFields := make([]reflect.StructField, len(s.Fields))
	for i, f := range s.Fields {
		dv, err := DecodeToBus(f)
		if err != nil {
			return nil, fmt.Errorf("decode struct field %d: %w", i, err)
		}
		fieldVals[i] = dv
		structFields[i] = reflect.StructField{
			Name: fmt.Sprintf("F%d", i),
			Type: reflect.TypeOf(dv),
		}
	}
	st := reflect.StructOf(structFields)
	out := reflect.New(st).Elem()
	for i, fv := range fieldVals {
		out.Field(i).Set(reflect.ValueOf(fv))
	}
	return out.Interface(), nil
}

// typedSliceOf builds a concretely typed Go slice (e.g. []int32) via
// reflection so the bus library's signature inference produces the
// expected array-of-primitive signature rather than falling back to
// an array of variants. Composite element types (arrays of arrays,
// structs, dicts, or variants) are passed through as []any; godbus
// encodes those correctly only when every element shares an identical
// runtime representation, a known limitation of the dynamic-typing
// boundary documented in the design notes.
func typedSliceOf(elemType ValueType, items []any) (any, error) {
	pt, ok := elemType.(PrimitiveType)
	if !ok {
		return items, nil
	}
	goType, err := goTypeForPrimitive(pt)
	if err != nil {
		return items, nil
	}
	slice := reflect.MakeSlice(reflect.SliceOf(goType), len(items), len(items))
	for i, it := range items {
		slice.Index(i).Set(reflect.ValueOf(it).Convert(goType))
	}
	return slice.Interface(), nil
}

func typedEmptySlice(elemType ValueType) (any, error) {
	pt, ok := elemType.(PrimitiveType)
	if !ok {
		return []any{}, nil
	}
	goType, err := goTypeForPrimitive(pt)
	if err != nil {
		return []any{}, nil
	}
	return reflect.MakeSlice(reflect.SliceOf(goType), 0, 0).Interface(), nil
}

func typedEmptyMap(keyType PrimitiveType, valType ValueType) (any, error) {
	keyGo, err := goTypeForPrimitive(keyType)
	if err != nil {
		return map[string]any{}, nil
	}
	var valGo reflect.Type
	if pt, ok := valType.(PrimitiveType); ok {
		valGo, err = goTypeForPrimitive(pt)
		if err != nil {
			valGo = reflect.TypeOf((*any)(nil)).Elem()
		}
	} else {
		valGo = reflect.TypeOf((*any)(nil)).Elem()
	}
	return reflect.MakeMap(reflect.MapOf(keyGo, valGo)).Interface(), nil
}

func goTypeForPrimitive(pt PrimitiveType) (reflect.Type, error) {
	switch pt {
	case TU8:
		return reflect.TypeOf(byte(0)), nil
	case TBool:
		return reflect.TypeOf(false), nil
	case TI16:
		return reflect.TypeOf(int16(0)), nil
	case TU16:
		return reflect.TypeOf(uint16(0)), nil
	case TI32:
		return reflect.TypeOf(int32(0)), nil
	case TU32:
		return reflect.TypeOf(uint32(0)), nil
	case TI64:
		return reflect.TypeOf(int64(0)), nil
	case TU64:
		return reflect.TypeOf(uint64(0)), nil
	case TF64:
		return reflect.TypeOf(float64(0)), nil
	case TString:
		return reflect.TypeOf(""), nil
	case TSignature:
		return reflect.TypeOf(dbus.Signature{}), nil
	case TObjectPath:
		return reflect.TypeOf(dbus.ObjectPath("")), nil
	case TFd:
		return reflect.TypeOf(dbus.UnixFDIndex(0)), nil
	}
	return nil, fmt.Errorf("no Go type for primitive %s", pt)
}

// StructFromWireList assembles a method-call argument struct from a
// flat wire value list, as used for callMethod's args.
func StructFromWireList(values []Value) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		dv, err := DecodeToBus(v)
		if err != nil {
			return nil, fmt.Errorf("decode arg %d: %w", i, err)
		}
		out[i] = dv
	}
	return out, nil
}
