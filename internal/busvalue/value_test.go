package busvalue

import (
	"encoding/json"
	"testing"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want string
	}{
		{"u8", U8(12), `{"type":"u8","value":12}`},
		{"bool", Bool(true), `{"type":"bool","value":true}`},
		{"i32", I32(-7), `{"type":"i32","value":-7}`},
		{"string", String("hi"), `{"type":"string","value":"hi"}`},
		{"objectPath", ObjectPath("/a/b"), `{"type":"objectPath","value":"/a/b"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := json.Marshal(tc.v)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("marshal = %s, want %s", got, tc.want)
			}
			back, err := UnmarshalValue(got)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back.Type().Signature() != tc.v.Type().Signature() {
				t.Fatalf("round-trip signature mismatch: %s vs %s", back.Type().Signature(), tc.v.Type().Signature())
			}
		})
	}
}

func TestF64WireIsBareNumber(t *testing.T) {
	v := NewF64(123456.789)
	got, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"f64","value":123456.789}`
	if string(got) != want {
		t.Fatalf("marshal = %s, want %s", got, want)
	}
}

func TestArrayTypedEmpty(t *testing.T) {
	a := Array{Elem: TString}
	got, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"array","valueType":"string"}`
	if string(got) != want {
		t.Fatalf("marshal = %s, want %s", got, want)
	}
	back, err := UnmarshalValue(got)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Type().Signature() != "as" {
		t.Fatalf("signature = %s, want as", back.Type().Signature())
	}
}

func TestArrayPopulated(t *testing.T) {
	a := Array{Items: []Value{I32(1), I32(2)}}
	got, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"array","value":[{"type":"i32","value":1},{"type":"i32","value":2}]}`
	if string(got) != want {
		t.Fatalf("marshal = %s, want %s", got, want)
	}
}

func TestArrayHeterogeneousRejected(t *testing.T) {
	data := []byte(`{"type":"array","value":[{"type":"i32","value":1},{"type":"string","value":"x"}]}`)
	_, err := UnmarshalValue(data)
	if err == nil {
		t.Fatal("expected heterogeneous array to be rejected")
	}
	if !ErrElementsTypeDiffer(err) {
		t.Fatalf("expected ErrElementsTypeDiffer, got %v", err)
	}
}

func TestArrayTypeOfContainerType(t *testing.T) {
	data := []byte(`{"type":"array","valueType":{"array":{"valueType":"string"}}}`)
	v, err := UnmarshalValue(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Type().Signature() != "aas" {
		t.Fatalf("signature = %s, want aas", v.Type().Signature())
	}
}

func TestDictTypedEmpty(t *testing.T) {
	d := Dict{KeyType: TString, ValType: TI32}
	got, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"dict","keyType":"string","valueType":"i32"}`
	if string(got) != want {
		t.Fatalf("marshal = %s, want %s", got, want)
	}
}

func TestStructEmptyRejected(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"type":"struct","value":[]}`))
	if err == nil {
		t.Fatal("expected empty struct to be rejected")
	}
	if !ErrEmptyStructure(err) {
		t.Fatalf("expected ErrEmptyStructure, got %v", err)
	}
}

func TestVariantRoundTrip(t *testing.T) {
	v := Variant{Inner: String("hello")}
	got, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"variant","value":{"type":"string","value":"hello"}}`
	if string(got) != want {
		t.Fatalf("marshal = %s, want %s", got, want)
	}
}

func TestUnknownDiscriminantRejected(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"type":"bogus","value":1}`))
	if err == nil {
		t.Fatal("expected unknown discriminant to error")
	}
}
