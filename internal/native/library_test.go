package native

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"unsafe"
)

type fakeLoader struct {
	opens   int
	closes  int
	openErr error
	symbols map[string]uintptr
}

func (f *fakeLoader) open(path string) (uintptr, error) {
	f.opens++
	if f.openErr != nil {
		return 0, f.openErr
	}
	return 0x1000, nil
}

func (f *fakeLoader) sym(handle uintptr, name string) (uintptr, error) {
	if addr, ok := f.symbols[name]; ok {
		return addr, nil
	}
	return 0, errors.New("undefined symbol")
}

func (f *fakeLoader) close(handle uintptr) error {
	f.closes++
	return nil
}

// fakeBinder binds addresses to Go implementations through reflect.MakeFunc.
type fakeBinder struct {
	impls map[uintptr]func(args []reflect.Value) []reflect.Value
	binds int
}

func (b *fakeBinder) bind(fptr any, addr uintptr) error {
	impl, ok := b.impls[addr]
	if !ok {
		return errors.New("no implementation")
	}
	b.binds++
	fn := reflect.ValueOf(fptr).Elem()
	fn.Set(reflect.MakeFunc(fn.Type(), impl))
	return nil
}

func testLibrary(t *testing.T) (*Library, *fakeLoader, *fakeBinder, *int) {
	t.Helper()
	calls := 0
	ld := &fakeLoader{symbols: map[string]uintptr{
		"add":     0x10,
		"getName": 0x20,
		"isReady": 0x30,
		"half":    0x40,
		"fill":    0x50,
	}}
	b := &fakeBinder{impls: map[uintptr]func([]reflect.Value) []reflect.Value{
		0x10: func(args []reflect.Value) []reflect.Value {
			calls++
			return []reflect.Value{reflect.ValueOf(int32(args[0].Int() + args[1].Int()))}
		},
		0x20: func(args []reflect.Value) []reflect.Value {
			calls++
			p := args[0].Interface().(*wchar)
			buf := unsafe.Slice(p, 4)
			copy(buf, []wchar{'p', 'l', 0})
			return []reflect.Value{reflect.ValueOf(int32(1))}
		},
		0x30: func(args []reflect.Value) []reflect.Value {
			calls++
			return []reflect.Value{reflect.ValueOf(int32(0))}
		},
		0x40: func(args []reflect.Value) []reflect.Value {
			calls++
			return []reflect.Value{reflect.ValueOf(float64(args[0].Int()) / 2)}
		},
		0x50: func(args []reflect.Value) []reflect.Value {
			calls++
			p := args[0].Interface().(*byte)
			copy(unsafe.Slice(p, 8), args[1].String())
			return nil
		},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newLibrary("libtest.so", ld, b.bind, logger), ld, b, &calls
}

func TestLibraryLoadsLazilyAndOnce(t *testing.T) {
	lib, ld, _, _ := testLibrary(t)

	if lib.Acquired() {
		t.Fatal("library acquired before first use")
	}
	if ld.opens != 0 {
		t.Fatalf("opens = %d before first use, want 0", ld.opens)
	}

	for i := 0; i < 3; i++ {
		if _, err := lib.Lookup("add"); err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
	}
	if ld.opens != 1 {
		t.Errorf("opens = %d, want 1", ld.opens)
	}
	if !lib.Acquired() {
		t.Error("library not acquired after lookup")
	}

	if err := lib.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := lib.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if ld.closes != 1 {
		t.Errorf("closes = %d, want 1", ld.closes)
	}
	if _, err := lib.Lookup("add"); !errors.Is(err, ErrClosed) {
		t.Errorf("Lookup after Close = %v, want ErrClosed", err)
	}
}

func TestLibraryCloseWithoutLoad(t *testing.T) {
	lib, ld, _, _ := testLibrary(t)
	if err := lib.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if ld.opens != 0 || ld.closes != 0 {
		t.Errorf("opens = %d, closes = %d, want 0, 0", ld.opens, ld.closes)
	}
}

func TestLibraryLoadErrorIsSticky(t *testing.T) {
	lib, ld, _, _ := testLibrary(t)
	ld.openErr = errors.New("no such file")

	for i := 0; i < 2; i++ {
		_, err := lib.Lookup("add")
		var le *LoadError
		if !errors.As(err, &le) {
			t.Fatalf("Lookup error = %v, want LoadError", err)
		}
		if le.Path != "libtest.so" {
			t.Errorf("LoadError.Path = %q, want %q", le.Path, "libtest.so")
		}
	}
	if ld.opens != 1 {
		t.Errorf("opens = %d, want 1", ld.opens)
	}
	if err := lib.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if ld.closes != 0 {
		t.Errorf("closes = %d after failed load, want 0", ld.closes)
	}
}

func TestLookupMissingSymbol(t *testing.T) {
	lib, _, _, _ := testLibrary(t)
	defer lib.Close()

	_, err := lib.Lookup("missing")
	var snf *SymbolNotFoundError
	if !errors.As(err, &snf) {
		t.Fatalf("Lookup error = %v, want SymbolNotFoundError", err)
	}
	if snf.Symbol != "missing" {
		t.Errorf("Symbol = %q, want %q", snf.Symbol, "missing")
	}

	_, err = lib.Invoke(NewCall("missing", Type{Kind: Void}))
	if !errors.As(err, &snf) {
		t.Errorf("Invoke error = %v, want SymbolNotFoundError", err)
	}
}

func TestInvoke(t *testing.T) {
	lib, _, b, calls := testLibrary(t)
	defer lib.Close()

	v, err := lib.Invoke(NewCall("add", Type{Kind: Int32}, Int32Value(40), Int32Value(2)))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if v.Int() != 42 {
		t.Errorf("add = %d, want 42", v.Int())
	}

	v, err = lib.Invoke(NewCall("half", Type{Kind: Float64}, Int32Value(5)))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if v.Float() != 2.5 {
		t.Errorf("half = %v, want 2.5", v.Float())
	}

	v, err = lib.Invoke(NewCall("isReady", Type{Kind: Bool}))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if v.Bool() || v.String() != "false" {
		t.Errorf("isReady = %q, want false", v.String())
	}

	if *calls != 3 {
		t.Errorf("native calls = %d, want 3", *calls)
	}

	// Same symbol and shape is bound once.
	if _, err := lib.Invoke(NewCall("add", Type{Kind: Int32}, Int32Value(1), Int32Value(1))); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if b.binds != 3 {
		t.Errorf("binds = %d, want 3", b.binds)
	}
}

func TestInvokeBuffers(t *testing.T) {
	lib, _, _, _ := testLibrary(t)
	defer lib.Close()

	name := NewWideBuffer(4)
	v, err := lib.Invoke(NewCall("getName", Type{Kind: Bool}, name))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !v.Bool() {
		t.Error("getName returned false")
	}
	if got := name.Text(); got != "pl" {
		t.Errorf("wide buffer = %q, want %q", got, "pl")
	}

	buf := NewBuffer(8)
	if _, err := lib.Invoke(NewCall("fill", Type{Kind: Void}, buf, StringValue("abc"))); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got := buf.Text(); got != "abc" {
		t.Errorf("buffer = %q, want %q", got, "abc")
	}
}

func TestInvokeChecksDeclaredSignature(t *testing.T) {
	lib, ld, _, calls := testLibrary(t)
	defer lib.Close()

	sig, err := ParseSignature("int", "int", "int")
	if err != nil {
		t.Fatalf("ParseSignature failed: %v", err)
	}
	if err := lib.Declare("add", sig); err != nil {
		t.Fatalf("Declare failed: %v", err)
	}

	tests := []struct {
		name  string
		call  *Call
		index int
	}{
		{"wrong argument", NewCall("add", Type{Kind: Int32}, Int32Value(1), StringValue("x")), 1},
		{"too few", NewCall("add", Type{Kind: Int32}, Int32Value(1)), -1},
		{"wrong return", NewCall("add", Type{Kind: Float64}, Int32Value(1), Int32Value(2)), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lib.Invoke(tt.call)
			var tm *TypeMismatchError
			if !errors.As(err, &tm) {
				t.Fatalf("Invoke error = %v, want TypeMismatchError", err)
			}
			if tm.Index != tt.index {
				t.Errorf("Index = %d, want %d", tm.Index, tt.index)
			}
		})
	}
	if *calls != 0 {
		t.Errorf("native calls = %d, want 0", *calls)
	}
	if ld.opens != 0 {
		t.Errorf("library loaded for a mismatched call")
	}
}

func TestDeclareConflict(t *testing.T) {
	lib, _, _, _ := testLibrary(t)
	defer lib.Close()

	a, _ := ParseSignature("int", "int")
	b, _ := ParseSignature("double", "int")
	if err := lib.Declare("f", a); err != nil {
		t.Fatalf("Declare failed: %v", err)
	}
	if err := lib.Declare("f", a); err != nil {
		t.Fatalf("identical redeclare failed: %v", err)
	}
	var tm *TypeMismatchError
	if err := lib.Declare("f", b); !errors.As(err, &tm) {
		t.Errorf("conflicting Declare = %v, want TypeMismatchError", err)
	}
}

func TestBindFailureIsTypeMismatch(t *testing.T) {
	ld := &fakeLoader{symbols: map[string]uintptr{"f": 0x99}}
	b := &fakeBinder{}
	lib := newLibrary("libtest.so", ld, b.bind, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer lib.Close()

	_, err := lib.Invoke(NewCall("f", Type{Kind: Void}))
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("Invoke error = %v, want TypeMismatchError", err)
	}
}
