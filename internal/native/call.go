package native

import "strings"

// Call describes one invocation of a foreign function. It is built by the
// caller for a single call and discarded afterwards.
type Call struct {
	Symbol  string
	Args    []Value
	Returns Type
}

// NewCall returns a Call of symbol returning ret with the given arguments.
func NewCall(symbol string, ret Type, args ...Value) *Call {
	return &Call{Symbol: symbol, Args: args, Returns: ret}
}

// Signature returns the signature implied by the call's argument values.
func (c *Call) Signature() Signature {
	sig := Signature{Returns: c.Returns, Args: make([]Type, len(c.Args))}
	for i, a := range c.Args {
		sig.Args[i] = a.Type
	}
	return sig
}

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		switch {
		case a.Type.IsBuffer():
			args[i] = a.Type.String()
		case a.Type.Kind == String:
			args[i] = "string:" + quote(a.Text())
		default:
			args[i] = a.Type.String() + ":" + a.String()
		}
	}
	return c.Symbol + "(" + strings.Join(args, ", ") + ") " + c.Returns.String()
}

// Caller executes call descriptors.
type Caller interface {
	Invoke(c *Call) (Value, error)
}

func quote(s string) string {
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return `"` + s + `"`
}
