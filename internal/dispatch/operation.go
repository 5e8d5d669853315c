// Package dispatch turns command lines into native calls.
//
// Operations are registered by name in a Registry at startup. Resolving a
// command line parses every argument against the operation's parameters, so
// unknown operations and malformed arguments are rejected before the library
// is touched.
package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tinyrange/apitester/internal/native"
)

// UsageError reports a malformed command line.
type UsageError struct {
	// Op is the operation being invoked, empty when none was selected.
	Op  string
	Msg string
}

func (e *UsageError) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return e.Op + ": " + e.Msg
}

func usagef(op, format string, args ...any) *UsageError {
	return &UsageError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IsUsage reports whether err is a UsageError.
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// Param is one positional parameter of an operation.
type Param struct {
	Name string
	Type native.Type
	// Default is used when an optional parameter is omitted.
	Default  string
	Optional bool
}

func (p Param) usage() string {
	if p.Optional {
		return "[" + p.Name + "]"
	}
	return "<" + p.Name + ">"
}

// Args holds the parsed arguments of an invocation.
type Args struct {
	Values []native.Value
	Rest   []native.Value
}

// Operation is one entry in the registration table.
type Operation struct {
	Name    string
	Summary string
	Params  []Param
	// Rest accepts any number of trailing arguments of one type.
	Rest *Param
	Run  func(s *Session, args Args) (Result, error)
}

// Usage returns the one-line synopsis of op.
func (op *Operation) Usage() string {
	parts := []string{op.Name}
	for _, p := range op.Params {
		parts = append(parts, p.usage())
	}
	if op.Rest != nil {
		parts = append(parts, "["+op.Rest.Name+"...]")
	}
	return strings.Join(parts, " ")
}

func (op *Operation) parse(raw []string) (Args, error) {
	required := 0
	for _, p := range op.Params {
		if !p.Optional {
			required++
		}
	}
	if len(raw) < required {
		return Args{}, usagef(op.Name, "missing %s (usage: %s)", op.Params[len(raw)].Name, op.Usage())
	}
	if op.Rest == nil && len(raw) > len(op.Params) {
		return Args{}, usagef(op.Name, "unexpected argument %q (usage: %s)", raw[len(op.Params)], op.Usage())
	}

	var args Args
	for i, p := range op.Params {
		text := p.Default
		if i < len(raw) {
			text = raw[i]
		}
		v, err := native.ParseValueAs(p.Type, text)
		if err != nil {
			return Args{}, usagef(op.Name, "%s: %v", p.Name, err)
		}
		args.Values = append(args.Values, v)
	}
	if op.Rest != nil && len(raw) > len(op.Params) {
		for _, text := range raw[len(op.Params):] {
			v, err := native.ParseValueAs(op.Rest.Type, text)
			if err != nil {
				return Args{}, usagef(op.Name, "%s: %v", op.Rest.Name, err)
			}
			args.Rest = append(args.Rest, v)
		}
	}
	return args, nil
}

// Registry maps operation names to operations.
type Registry struct {
	ops   map[string]*Operation
	order []string
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Operation)}
}

// Register adds op. Names must be unique.
func (r *Registry) Register(op *Operation) error {
	if op.Name == "" || op.Run == nil {
		return fmt.Errorf("operation %q is incomplete", op.Name)
	}
	if _, ok := r.ops[op.Name]; ok {
		return fmt.Errorf("operation %q already registered", op.Name)
	}
	for i, p := range op.Params {
		if p.Optional {
			continue
		}
		for _, prev := range op.Params[:i] {
			if prev.Optional {
				return fmt.Errorf("operation %q: required %s follows an optional parameter", op.Name, p.Name)
			}
		}
	}
	r.ops[op.Name] = op
	r.order = append(r.order, op.Name)
	return nil
}

// MustRegister is Register for built-in operations.
func (r *Registry) MustRegister(op *Operation) {
	if err := r.Register(op); err != nil {
		panic(err)
	}
}

// Lookup returns the operation called name.
func (r *Registry) Lookup(name string) (*Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// Operations returns all operations in registration order.
func (r *Registry) Operations() []*Operation {
	out := make([]*Operation, len(r.order))
	for i, name := range r.order {
		out[i] = r.ops[name]
	}
	return out
}

// Invocation is a resolved command line.
type Invocation struct {
	Op   *Operation
	Args Args
}

// Resolve selects the operation named by argv[0] and parses the rest of argv
// against its parameters.
func (r *Registry) Resolve(argv []string) (*Invocation, error) {
	if len(argv) == 0 {
		return nil, &UsageError{Msg: "no operation given"}
	}
	op, ok := r.ops[argv[0]]
	if !ok {
		msg := fmt.Sprintf("unknown operation %q", argv[0])
		if s := r.suggest(argv[0]); s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}
		return nil, &UsageError{Msg: msg}
	}
	args, err := op.parse(argv[1:])
	if err != nil {
		return nil, err
	}
	return &Invocation{Op: op, Args: args}, nil
}

// suggest returns a registered name sharing a prefix with name.
func (r *Registry) suggest(name string) string {
	var candidates []string
	for n := range r.ops {
		if len(name) >= 3 && (strings.HasPrefix(n, name[:3]) || strings.Contains(n, name)) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Strings(candidates)
	return candidates[0]
}
