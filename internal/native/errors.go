package native

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when a library is used after Close.
	ErrClosed = errors.New("native: library closed")

	// ErrUnsupportedPlatform is returned where no foreign call backend exists.
	ErrUnsupportedPlatform = errors.New("native: foreign calls are not supported on this platform")
)

// LoadError reports a shared library that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load library %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SymbolNotFoundError reports a symbol missing from a loaded library.
type SymbolNotFoundError struct {
	Library string
	Symbol  string
	Err     error
}

func (e *SymbolNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("symbol %s not found in %s: %v", e.Symbol, e.Library, e.Err)
	}
	return fmt.Sprintf("symbol %s not found in %s", e.Symbol, e.Library)
}

func (e *SymbolNotFoundError) Unwrap() error { return e.Err }

// TypeMismatchError reports a call whose types do not match the declared
// foreign signature, or a signature the bridge cannot bind.
type TypeMismatchError struct {
	Symbol string
	// Index is the offending argument, or -1 for the signature as a whole.
	Index  int
	Want   string
	Got    string
	Reason string
}

func (e *TypeMismatchError) Error() string {
	switch {
	case e.Index >= 0:
		return fmt.Sprintf("%s: argument %d is %s, declared %s", e.Symbol, e.Index, e.Got, e.Want)
	case e.Want != "" && e.Got != "":
		return fmt.Sprintf("%s: called as %s, declared %s", e.Symbol, e.Got, e.Want)
	}
	return fmt.Sprintf("%s: %s", e.Symbol, e.Reason)
}

// NativeCallError reports a foreign call that signalled failure.
type NativeCallError struct {
	Symbol string
	Detail string
	Err    error
}

func (e *NativeCallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Symbol, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Symbol, e.Detail)
}

func (e *NativeCallError) Unwrap() error { return e.Err }
