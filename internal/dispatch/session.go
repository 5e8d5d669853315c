package dispatch

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tinyrange/apitester/internal/amapi"
	"github.com/tinyrange/apitester/internal/native"
	"github.com/tinyrange/apitester/internal/profile"
)

// Library is the binding layer as seen by operations.
type Library interface {
	native.Caller
	Load() error
	Lookup(symbol string) (uintptr, error)
	Declare(symbol string, sig native.Signature) error
	Path() string
	Acquired() bool
}

// Session is the state shared by the operations of one process: the library,
// the typed API client over it and the profile.
type Session struct {
	Lib     Library
	API     *amapi.Client
	Profile *profile.Profile
	Out     io.Writer
	Logger  *slog.Logger

	// Busy runs fn, typically showing progress while a slow native call
	// blocks. Nil runs fn directly.
	Busy func(desc string, fn func() error) error
}

// NewSession declares the AutoMapa and profile signatures with lib and
// returns a session over it. Nothing is loaded yet.
func NewSession(lib Library, p *profile.Profile, out io.Writer, logger *slog.Logger) (*Session, error) {
	if p == nil {
		p = profile.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := amapi.Declare(lib); err != nil {
		return nil, err
	}
	for _, op := range p.Operations {
		sig, err := op.Signature()
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.Name, err)
		}
		if err := lib.Declare(op.Symbol, sig); err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.Name, err)
		}
	}
	return &Session{
		Lib:     lib,
		API:     amapi.NewClient(lib),
		Profile: p,
		Out:     out,
		Logger:  logger,
	}, nil
}

func (s *Session) busy(desc string, fn func() error) error {
	if s.Busy == nil {
		return fn()
	}
	return s.Busy(desc, fn)
}

// Field is one labelled line of output.
type Field struct {
	Label string
	Value string
}

// Result is what an operation prints on success.
type Result struct {
	Fields []Field
}

func resultOf(label, value string) Result {
	return Result{Fields: []Field{{Label: label, Value: value}}}
}

func message(msg string) Result {
	return Result{Fields: []Field{{Value: msg}}}
}

func (r *Result) add(label, value string) {
	r.Fields = append(r.Fields, Field{Label: label, Value: value})
}

// WriteTo prints one line per field, "label: value" or the bare value.
func (r Result) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for _, f := range r.Fields {
		if f.Label != "" {
			b.WriteString(f.Label)
			b.WriteString(": ")
		}
		b.WriteString(f.Value)
		b.WriteByte('\n')
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Dispatcher resolves and executes command lines within a session.
type Dispatcher struct {
	Registry *Registry
	Session  *Session
}

// Dispatch resolves argv and executes it.
func (d *Dispatcher) Dispatch(argv []string) error {
	inv, err := d.Registry.Resolve(argv)
	if err != nil {
		return err
	}
	return d.Execute(inv)
}

// Execute runs inv once and prints its result.
func (d *Dispatcher) Execute(inv *Invocation) error {
	s := d.Session
	s.Logger.Debug("executing operation", "op", inv.Op.Name)
	res, err := inv.Op.Run(s, inv.Args)
	if err != nil {
		return err
	}
	if _, err := res.WriteTo(s.Out); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
