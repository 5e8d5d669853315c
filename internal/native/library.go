package native

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
)

// loader is the platform dynamic loader.
type loader interface {
	open(path string) (uintptr, error)
	sym(handle uintptr, name string) (uintptr, error)
	close(handle uintptr) error
}

// binder points the function variable fptr at the native code at addr.
type binder func(fptr any, addr uintptr) error

// Options configures Open.
type Options struct {
	// SearchPaths are probed, in order, for library names without a directory.
	SearchPaths []string
	Logger      *slog.Logger
}

// Library is a lazily loaded shared library. The OS handle is acquired on the
// first lookup and released by Close. A Library must not be copied.
type Library struct {
	path   string
	loader loader
	bind   binder
	logger *slog.Logger

	mu       sync.Mutex
	handle   uintptr
	acquired bool
	loadErr  error
	closed   bool
	symbols  map[string]uintptr
	declared map[string]Signature
	bound    map[string]reflect.Value
}

// Open prepares the library name for loading. The name is resolved against
// the search rules now; the library itself is loaded on first use.
func Open(name string, opts Options) (*Library, error) {
	if name == "" {
		return nil, errors.New("native: empty library name")
	}
	return newLibrary(Resolve(name, opts.SearchPaths), defaultLoader, registerFunc, opts.Logger), nil
}

func newLibrary(path string, ld loader, bind binder, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		path:     path,
		loader:   ld,
		bind:     bind,
		logger:   logger,
		symbols:  make(map[string]uintptr),
		declared: make(map[string]Signature),
		bound:    make(map[string]reflect.Value),
	}
}

// Path returns the resolved library path.
func (l *Library) Path() string { return l.path }

// Acquired reports whether the OS handle has been acquired.
func (l *Library) Acquired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired && l.loadErr == nil && !l.closed
}

// Load acquires the OS handle if it is not held yet.
func (l *Library) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked()
}

func (l *Library) loadLocked() error {
	if l.closed {
		return ErrClosed
	}
	if l.acquired {
		return l.loadErr
	}
	l.acquired = true
	h, err := l.loader.open(l.path)
	if err != nil {
		l.loadErr = &LoadError{Path: l.path, Err: err}
		return l.loadErr
	}
	l.handle = h
	l.logger.Debug("library loaded", "path", l.path)
	return nil
}

// Lookup returns the address of an exported symbol.
func (l *Library) Lookup(symbol string) (uintptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookupLocked(symbol)
}

func (l *Library) lookupLocked(symbol string) (uintptr, error) {
	if err := l.loadLocked(); err != nil {
		return 0, err
	}
	if addr, ok := l.symbols[symbol]; ok {
		return addr, nil
	}
	addr, err := l.loader.sym(l.handle, symbol)
	if err == nil && addr == 0 {
		err = errors.New("nil address")
	}
	if err != nil {
		return 0, &SymbolNotFoundError{Library: l.path, Symbol: symbol, Err: err}
	}
	l.symbols[symbol] = addr
	return addr, nil
}

// Declare records the foreign signature of symbol. Later calls are checked
// against it. Redeclaring with a different signature is an error.
func (l *Library) Declare(symbol string, sig Signature) error {
	if err := sig.validate(); err != nil {
		return &TypeMismatchError{Symbol: symbol, Index: -1, Reason: err.Error()}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.declared[symbol]; ok && !prev.Equal(sig) {
		return &TypeMismatchError{Symbol: symbol, Index: -1, Want: prev.String(), Got: sig.String()}
	}
	l.declared[symbol] = sig
	return nil
}

// Declared returns the declared signature of symbol.
func (l *Library) Declared(symbol string) (Signature, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sig, ok := l.declared[symbol]
	return sig, ok
}

// Invoke executes c exactly once. Argument and return types are checked
// against the declared signature before the symbol is resolved.
func (l *Library) Invoke(c *Call) (Value, error) {
	sig := c.Signature()
	if err := sig.validate(); err != nil {
		return Value{}, &TypeMismatchError{Symbol: c.Symbol, Index: -1, Reason: err.Error()}
	}
	if want, ok := l.Declared(c.Symbol); ok {
		if err := checkSignature(c.Symbol, want, sig); err != nil {
			return Value{}, err
		}
	}

	fn, err := l.function(c.Symbol, sig)
	if err != nil {
		return Value{}, err
	}

	in := make([]reflect.Value, len(c.Args))
	for i, a := range c.Args {
		in[i] = a.reflectArg()
	}
	l.logger.Debug("native call", "call", c.String())
	out := fn.Call(in)
	if len(out) == 0 {
		return VoidValue(), nil
	}
	ret := valueFromReturn(sig.Returns, out[0])
	l.logger.Debug("native return", "symbol", c.Symbol, "value", ret.String())
	return ret, nil
}

// function returns symbol bound to a Go function of sig's shape.
func (l *Library) function(symbol string, sig Signature) (reflect.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := symbol + "|" + sig.shape()
	if fn, ok := l.bound[key]; ok {
		return fn, nil
	}
	addr, err := l.lookupLocked(symbol)
	if err != nil {
		return reflect.Value{}, err
	}
	fptr := reflect.New(sig.funcType())
	if err := l.bind(fptr.Interface(), addr); err != nil {
		return reflect.Value{}, &TypeMismatchError{
			Symbol: symbol,
			Index:  -1,
			Reason: fmt.Sprintf("cannot bind %s: %v", sig, err),
		}
	}
	fn := fptr.Elem()
	l.bound[key] = fn
	l.logger.Debug("symbol bound", "symbol", symbol, "signature", sig.String())
	return fn, nil
}

// Close releases the OS handle. It is safe to call more than once; only the
// first call releases.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.symbols = nil
	l.bound = nil
	if !l.acquired || l.loadErr != nil {
		return nil
	}
	l.logger.Debug("library released", "path", l.path)
	if err := l.loader.close(l.handle); err != nil {
		return fmt.Errorf("release library %s: %w", l.path, err)
	}
	return nil
}

func checkSignature(symbol string, want, got Signature) error {
	if len(want.Args) != len(got.Args) {
		return &TypeMismatchError{
			Symbol: symbol,
			Index:  -1,
			Reason: fmt.Sprintf("takes %d arguments, called with %d (declared %s)", len(want.Args), len(got.Args), want),
		}
	}
	for i := range want.Args {
		w, g := want.Args[i], got.Args[i]
		if w.Kind != g.Kind || (w.IsBuffer() && g.Size < w.Size) {
			return &TypeMismatchError{Symbol: symbol, Index: i, Want: w.String(), Got: g.String()}
		}
	}
	if want.Returns != got.Returns {
		return &TypeMismatchError{
			Symbol: symbol,
			Index:  -1,
			Reason: fmt.Sprintf("returns %s, called expecting %s", want.Returns, got.Returns),
		}
	}
	return nil
}
