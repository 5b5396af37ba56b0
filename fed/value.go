package fed

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// ValueType is the declared type of a publication or subscription.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeDouble  ValueType = "double"
	TypeInt     ValueType = "int"
	TypeVector  ValueType = "vector"
	TypeComplex ValueType = "complex"
)

// validValueTypes maps accepted type names, including the aliases config files use.
var validValueTypes = map[string]ValueType{
	"string":  TypeString,
	"double":  TypeDouble,
	"float":   TypeDouble,
	"int":     TypeInt,
	"integer": TypeInt,
	"vector":  TypeVector,
	"complex": TypeComplex,
	"":        TypeString, // empty defaults to string
}

// ParseValueType resolves a type name from a config file or API call.
func ParseValueType(s string) (ValueType, error) {
	t, ok := validValueTypes[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown value type %q", ErrConfig, s)
	}
	return t, nil
}

// Value is a typed value carried between federates.
// Complex values store the real part in Double and the imaginary part in Imag.
type Value struct {
	Type   ValueType `cbor:"1,keyasint"`
	Text   string    `cbor:"2,keyasint,omitempty"`
	Double float64   `cbor:"3,keyasint,omitempty"`
	Int    int64     `cbor:"4,keyasint,omitempty"`
	Vector []float64 `cbor:"5,keyasint,omitempty"`
	Imag   float64   `cbor:"6,keyasint,omitempty"`
}

func StringValue(s string) Value { return Value{Type: TypeString, Text: s} }
func DoubleValue(f float64) Value { return Value{Type: TypeDouble, Double: f} }
func IntValue(i int64) Value { return Value{Type: TypeInt, Int: i} }
func VectorValue(v []float64) Value { return Value{Type: TypeVector, Vector: append([]float64(nil), v...)} }
func ComplexValue(c complex128) Value { return Value{Type: TypeComplex, Double: real(c), Imag: imag(c)} }

// String renders the value in the plain text form FNCS-style consumers expect.
func (v Value) String() string {
	switch v.Type {
	case TypeString:
		return v.Text
	case TypeDouble:
		return strconv.FormatFloat(v.Double, 'g', -1, 64)
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeVector:
		parts := make([]string, len(v.Vector))
		for i, f := range v.Vector {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case TypeComplex:
		return strconv.FormatComplex(complex(v.Double, v.Imag), 'g', -1, 128)
	default:
		return ""
	}
}

// AsDouble converts numeric values, and strings holding a number, to float64.
func (v Value) AsDouble() (float64, error) {
	switch v.Type {
	case TypeDouble:
		return v.Double, nil
	case TypeInt:
		return float64(v.Int), nil
	case TypeComplex:
		return v.Double, nil
	case TypeString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, v.Text)
		}
		return f, nil
	case TypeVector:
		if len(v.Vector) > 0 {
			return v.Vector[0], nil
		}
	}
	return 0, fmt.Errorf("%w: cannot convert %s value to double", ErrTypeMismatch, v.Type)
}

// AsInt converts the value to int64, truncating doubles.
func (v Value) AsInt() (int64, error) {
	if v.Type == TypeInt {
		return v.Int, nil
	}
	if v.Type == TypeString {
		if i, err := strconv.ParseInt(strings.TrimSpace(v.Text), 10, 64); err == nil {
			return i, nil
		}
	}
	f, err := v.AsDouble()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// ParseValue builds a value of type t from its text form, as used for
// subscription defaults in config files.
func ParseValue(t ValueType, s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch t {
	case TypeString:
		return StringValue(s), nil
	case TypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a double", ErrConfig, s)
		}
		return DoubleValue(f), nil
	case TypeInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an int", ErrConfig, s)
		}
		return IntValue(i), nil
	case TypeComplex:
		c, err := strconv.ParseComplex(strings.ReplaceAll(s, " ", ""), 128)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a complex number", ErrConfig, s)
		}
		return ComplexValue(c), nil
	case TypeVector:
		s = strings.Trim(s, "[]")
		var vec []float64
		if s != "" {
			for _, part := range strings.Split(s, ",") {
				f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
				if err != nil {
					return Value{}, fmt.Errorf("%w: %q is not a vector", ErrConfig, s)
				}
				vec = append(vec, f)
			}
		}
		return VectorValue(vec), nil
	}
	return Value{}, fmt.Errorf("%w: unknown value type %q", ErrConfig, t)
}

// encMode and decMode are the CBOR modes for value payloads routed through a Core.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// EncodeValue serializes v for transport through a Core.
func EncodeValue(v Value) ([]byte, error) {
	return encMode.Marshal(v)
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(data []byte) (Value, error) {
	var v Value
	if err := decMode.Unmarshal(data, &v); err != nil {
		return Value{}, fmt.Errorf("failed to decode value: %w", err)
	}
	return v, nil
}
