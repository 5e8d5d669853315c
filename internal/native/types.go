// Package native loads shared libraries and calls their exports through
// typed foreign signatures.
//
// Calls are described by a Call (symbol, argument values, return type). The
// Library binds each symbol once per signature using purego and executes the
// call synchronously on the calling goroutine.
package native

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unsafe"
)

// Kind is the class of a foreign value.
type Kind uint8

const (
	Void Kind = iota
	Bool
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
	String
	Pointer
	Buffer
	WideBuffer
)

// MaxBufferSize bounds output buffers created from text.
const MaxBufferSize = 1 << 20

var kindNames = map[Kind]string{
	Void:       "void",
	Bool:       "bool",
	Int32:      "int",
	Uint32:     "uint",
	Int64:      "long",
	Uint64:     "ulong",
	Float32:    "float",
	Float64:    "double",
	String:     "string",
	Pointer:    "ptr",
	Buffer:     "buf",
	WideBuffer: "wbuf",
}

var kindAliases = map[string]Kind{
	"void":    Void,
	"bool":    Bool,
	"int":     Int32,
	"int32":   Int32,
	"uint":    Uint32,
	"uint32":  Uint32,
	"long":    Int64,
	"int64":   Int64,
	"ulong":   Uint64,
	"uint64":  Uint64,
	"float":   Float32,
	"float32": Float32,
	"double":  Float64,
	"float64": Float64,
	"string":  String,
	"str":     String,
	"ptr":     Pointer,
	"pointer": Pointer,
	"buf":     Buffer,
	"wbuf":    WideBuffer,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Type is a foreign value type. Size is the element count of buffer types and
// zero for everything else.
type Type struct {
	Kind Kind
	Size int
}

func (t Type) String() string {
	if t.IsBuffer() {
		return fmt.Sprintf("%s:%d", t.Kind, t.Size)
	}
	return t.Kind.String()
}

// IsBuffer reports whether t is a caller-allocated output buffer.
func (t Type) IsBuffer() bool {
	return t.Kind == Buffer || t.Kind == WideBuffer
}

// shape identifies the Go function type used to bind t. Buffers of any size
// share a shape.
func (t Type) shape() string {
	return t.Kind.String()
}

// ParseType parses a type name such as "int", "double" or "wbuf:512".
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	name, size, hasSize := strings.Cut(s, ":")
	kind, ok := kindAliases[name]
	if !ok {
		return Type{}, fmt.Errorf("unknown type %q", s)
	}
	t := Type{Kind: kind}
	if !t.IsBuffer() {
		if hasSize {
			return Type{}, fmt.Errorf("type %q does not take a size", name)
		}
		return t, nil
	}
	if !hasSize {
		return Type{}, fmt.Errorf("buffer type %q needs a size, e.g. %s:256", name, name)
	}
	n, err := strconv.Atoi(size)
	if err != nil || n <= 0 || n > MaxBufferSize {
		return Type{}, fmt.Errorf("invalid buffer size %q (1..%d)", size, MaxBufferSize)
	}
	t.Size = n
	return t, nil
}

// MustParseType is ParseType for constant type names.
func MustParseType(s string) Type {
	t, err := ParseType(s)
	if err != nil {
		panic(err)
	}
	return t
}

var (
	int32Type   = reflect.TypeOf(int32(0))
	uint32Type  = reflect.TypeOf(uint32(0))
	int64Type   = reflect.TypeOf(int64(0))
	uint64Type  = reflect.TypeOf(uint64(0))
	float32Type = reflect.TypeOf(float32(0))
	float64Type = reflect.TypeOf(float64(0))
	stringType  = reflect.TypeOf("")
	uintptrType = reflect.TypeOf(uintptr(0))
	pointerType = reflect.TypeOf(unsafe.Pointer(nil))
	bytePtrType = reflect.TypeOf((*byte)(nil))
	widePtrType = reflect.TypeOf((*wchar)(nil))
)

// argType is the Go type passed to purego for an argument of type t.
// Native BOOL is a 32-bit integer.
func (t Type) argType() reflect.Type {
	switch t.Kind {
	case Bool, Int32:
		return int32Type
	case Uint32:
		return uint32Type
	case Int64:
		return int64Type
	case Uint64:
		return uint64Type
	case Float32:
		return float32Type
	case Float64:
		return float64Type
	case String:
		return stringType
	case Pointer:
		return pointerType
	case Buffer:
		return bytePtrType
	case WideBuffer:
		return widePtrType
	}
	return nil
}

// returnType is the Go type purego produces for a return of type t.
func (t Type) returnType() reflect.Type {
	switch t.Kind {
	case Pointer:
		return uintptrType
	case Void, Buffer, WideBuffer:
		return nil
	}
	return t.argType()
}

// Signature is the declared foreign signature of a symbol.
type Signature struct {
	Args    []Type
	Returns Type
}

// ParseSignature builds a Signature from type names.
func ParseSignature(returns string, args ...string) (Signature, error) {
	ret, err := ParseType(returns)
	if err != nil {
		return Signature{}, fmt.Errorf("return type: %w", err)
	}
	sig := Signature{Returns: ret}
	for i, a := range args {
		t, err := ParseType(a)
		if err != nil {
			return Signature{}, fmt.Errorf("argument %d: %w", i, err)
		}
		sig.Args = append(sig.Args, t)
	}
	if err := sig.validate(); err != nil {
		return Signature{}, err
	}
	return sig, nil
}

func (s Signature) String() string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", s.Returns, strings.Join(args, ", "))
}

// Equal reports whether s and o describe the same foreign signature.
func (s Signature) Equal(o Signature) bool {
	if s.Returns != o.Returns || len(s.Args) != len(o.Args) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}

func (s Signature) shape() string {
	var b strings.Builder
	b.WriteString(s.Returns.shape())
	for _, a := range s.Args {
		b.WriteByte(',')
		b.WriteString(a.shape())
	}
	return b.String()
}

func (s Signature) validate() error {
	if s.Returns.IsBuffer() {
		return fmt.Errorf("%s cannot be returned", s.Returns)
	}
	for i, a := range s.Args {
		if a.Kind == Void {
			return fmt.Errorf("argument %d cannot be void", i)
		}
	}
	return nil
}

func (s Signature) funcType() reflect.Type {
	in := make([]reflect.Type, len(s.Args))
	for i, a := range s.Args {
		in[i] = a.argType()
	}
	var out []reflect.Type
	if rt := s.Returns.returnType(); rt != nil {
		out = append(out, rt)
	}
	return reflect.FuncOf(in, out, false)
}
