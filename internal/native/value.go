package native

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unsafe"
)

// Value is a typed foreign value. Buffer values own their backing storage and
// hold whatever the native side wrote into them after a call.
type Value struct {
	Type Type
	v    any
}

func VoidValue() Value { return Value{Type: Type{Kind: Void}} }
func BoolValue(b bool) Value { return Value{Type: Type{Kind: Bool}, v: b} }
func Int32Value(i int32) Value { return Value{Type: Type{Kind: Int32}, v: i} }
func Uint32Value(i uint32) Value { return Value{Type: Type{Kind: Uint32}, v: i} }
func Int64Value(i int64) Value { return Value{Type: Type{Kind: Int64}, v: i} }
func Uint64Value(i uint64) Value { return Value{Type: Type{Kind: Uint64}, v: i} }
func Float32Value(f float32) Value { return Value{Type: Type{Kind: Float32}, v: f} }
func Float64Value(f float64) Value { return Value{Type: Type{Kind: Float64}, v: f} }
func StringValue(s string) Value { return Value{Type: Type{Kind: String}, v: s} }
func PointerValue(p unsafe.Pointer) Value { return Value{Type: Type{Kind: Pointer}, v: p} }

// NewBuffer allocates an n byte output buffer.
func NewBuffer(n int) Value {
	return Value{Type: Type{Kind: Buffer, Size: n}, v: make([]byte, n)}
}

// NewWideBuffer allocates an output buffer of n wide characters.
func NewWideBuffer(n int) Value {
	return Value{Type: Type{Kind: WideBuffer, Size: n}, v: make([]wchar, n)}
}

// Bool returns the value as a boolean. Integers are true when non-zero.
func (v Value) Bool() bool {
	switch x := v.v.(type) {
	case bool:
		return x
	case nil:
		return false
	}
	return v.Int() != 0
}

// Int returns integer values widened to int64.
func (v Value) Int() int64 {
	switch x := v.v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case int64:
		return x
	case uint64:
		return int64(x)
	case float32:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}

// Float returns numeric values as float64.
func (v Value) Float() float64 {
	switch x := v.v.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	}
	return float64(v.Int())
}

// Address returns the numeric address held by a pointer value.
func (v Value) Address() uintptr {
	switch x := v.v.(type) {
	case uintptr:
		return x
	case unsafe.Pointer:
		return uintptr(x)
	}
	return 0
}

// UnsafePointer returns the pointer held by a pointer argument value.
func (v Value) UnsafePointer() unsafe.Pointer {
	p, _ := v.v.(unsafe.Pointer)
	return p
}

// SetText copies s into a buffer value, truncated so a terminating NUL always
// fits. It reports the number of elements written, excluding the NUL.
func (v Value) SetText(s string) int {
	switch buf := v.v.(type) {
	case []byte:
		n := copy(buf[:len(buf)-1], s)
		clear(buf[n:])
		return n
	case []wchar:
		enc := encodeWide(s)
		n := copy(buf[:len(buf)-1], enc)
		clear(buf[n:])
		return n
	}
	return 0
}

// Text returns string values as is and buffer contents up to the first NUL.
func (v Value) Text() string {
	switch x := v.v.(type) {
	case string:
		return x
	case []byte:
		if i := bytes.IndexByte(x, 0); i >= 0 {
			x = x[:i]
		}
		return string(x)
	case []wchar:
		return decodeWide(x)
	}
	return ""
}

func (v Value) String() string {
	switch v.Type.Kind {
	case Void:
		return ""
	case Bool:
		return strconv.FormatBool(v.Bool())
	case Int32, Int64:
		return strconv.FormatInt(v.Int(), 10)
	case Uint32:
		return strconv.FormatUint(uint64(v.v.(uint32)), 10)
	case Uint64:
		return strconv.FormatUint(v.v.(uint64), 10)
	case Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case Pointer:
		return fmt.Sprintf("0x%x", v.Address())
	case String, Buffer, WideBuffer:
		return v.Text()
	}
	return fmt.Sprintf("%v", v.v)
}

func (v Value) reflectArg() reflect.Value {
	switch v.Type.Kind {
	case Bool:
		if v.Bool() {
			return reflect.ValueOf(int32(1))
		}
		return reflect.ValueOf(int32(0))
	case Pointer:
		p, _ := v.v.(unsafe.Pointer)
		return reflect.ValueOf(p)
	case Buffer:
		return reflect.ValueOf(&v.v.([]byte)[0])
	case WideBuffer:
		return reflect.ValueOf(&v.v.([]wchar)[0])
	}
	return reflect.ValueOf(v.v).Convert(v.Type.argType())
}

func valueFromReturn(t Type, rv reflect.Value) Value {
	switch t.Kind {
	case Bool:
		return BoolValue(rv.Int() != 0)
	case Int32:
		return Int32Value(int32(rv.Int()))
	case Uint32:
		return Uint32Value(uint32(rv.Uint()))
	case Int64:
		return Int64Value(rv.Int())
	case Uint64:
		return Uint64Value(rv.Uint())
	case Float32:
		return Float32Value(float32(rv.Float()))
	case Float64:
		return Float64Value(rv.Float())
	case String:
		return StringValue(rv.String())
	case Pointer:
		return Value{Type: t, v: uintptr(rv.Uint())}
	}
	return VoidValue()
}

// ParseValue parses "type:value" text, e.g. "int:42", "string:hello" or
// "wbuf:512". Buffers may be prefilled with "buf:64=text".
func ParseValue(text string) (Value, error) {
	name, rest, ok := strings.Cut(text, ":")
	if !ok {
		return Value{}, fmt.Errorf("argument %q is not of the form type:value", text)
	}
	kind, known := kindAliases[strings.ToLower(name)]
	if !known {
		return Value{}, fmt.Errorf("unknown type %q in argument %q", name, text)
	}
	t := Type{Kind: kind}
	if t.IsBuffer() {
		head, fill, hasFill := strings.Cut(text, "=")
		bt, err := ParseType(head)
		if err != nil {
			return Value{}, err
		}
		v := Zero(bt)
		if hasFill {
			v.SetText(fill)
		}
		return v, nil
	}
	return ParseValueAs(t, rest)
}

// ParseValueAs parses text as a value of type t. Buffer types ignore the text
// and allocate a fresh buffer.
func ParseValueAs(t Type, text string) (Value, error) {
	switch t.Kind {
	case Void:
		return Value{}, fmt.Errorf("void is not a value type")
	case Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid bool %q", text)
		}
		return BoolValue(b), nil
	case Int32:
		i, err := strconv.ParseInt(text, 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid int %q", text)
		}
		return Int32Value(int32(i)), nil
	case Uint32:
		i, err := strconv.ParseUint(text, 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid uint %q", text)
		}
		return Uint32Value(uint32(i)), nil
	case Int64:
		i, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid long %q", text)
		}
		return Int64Value(i), nil
	case Uint64:
		i, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid ulong %q", text)
		}
		return Uint64Value(i), nil
	case Float32:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid float %q", text)
		}
		return Float32Value(float32(f)), nil
	case Float64:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid double %q", text)
		}
		return Float64Value(f), nil
	case String:
		return StringValue(text), nil
	case Pointer:
		switch strings.ToLower(text) {
		case "0", "0x0", "null", "nil":
			return PointerValue(nil), nil
		}
		return Value{}, fmt.Errorf("only null pointers can be given as text, got %q", text)
	case Buffer, WideBuffer:
		return Zero(t), nil
	}
	return Value{}, fmt.Errorf("unsupported type %s", t)
}

// Zero returns the zero value of t, allocating buffers.
func Zero(t Type) Value {
	switch t.Kind {
	case Bool:
		return BoolValue(false)
	case Int32:
		return Int32Value(0)
	case Uint32:
		return Uint32Value(0)
	case Int64:
		return Int64Value(0)
	case Uint64:
		return Uint64Value(0)
	case Float32:
		return Float32Value(0)
	case Float64:
		return Float64Value(0)
	case String:
		return StringValue("")
	case Pointer:
		return PointerValue(nil)
	case Buffer:
		return NewBuffer(t.Size)
	case WideBuffer:
		return NewWideBuffer(t.Size)
	}
	return VoidValue()
}
