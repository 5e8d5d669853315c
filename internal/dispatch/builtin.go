package dispatch

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"unsafe"

	"github.com/tinyrange/apitester/internal/amapi"
	"github.com/tinyrange/apitester/internal/native"
	"github.com/tinyrange/apitester/internal/profile"
)

// DefaultPostCommand is sent by "post" when no command is given.
const DefaultPostCommand = "showmap %lat %lon 1000"

var (
	typeString = native.MustParseType("string")
	typeBool   = native.MustParseType("bool")
	typeInt    = native.MustParseType("int")
)

// NewDefaultRegistry returns a registry holding the built-in operations followed by
// the operations declared in p. Profile operations may not shadow built-ins.
func NewDefaultRegistry(p *profile.Profile) (*Registry, error) {
	r := NewRegistry()
	registerBuiltins(r)
	if p == nil {
		return r, nil
	}
	for _, op := range p.Operations {
		if err := r.Register(profileOperation(op)); err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.Source, err)
		}
	}
	return r, nil
}

func registerBuiltins(r *Registry) {
	r.MustRegister(&Operation{
		Name:    "api-version",
		Summary: "Show the API library version (GetAmApiVersion)",
		Run: func(s *Session, _ Args) (Result, error) {
			vi, err := s.API.APIVersion()
			if err != nil {
				return Result{}, err
			}
			if err := amapi.RequireVersion(vi, s.Profile.MinAPIVersion); err != nil {
				return Result{}, &native.NativeCallError{Symbol: amapi.SymGetAmApiVersion, Detail: err.Error()}
			}
			return resultOf("API version", fmt.Sprintf("%s (platform=%d)", vi, vi.Platform)), nil
		},
	})
	r.MustRegister(&Operation{
		Name:    "am-version",
		Summary: "Show the installed AutoMapa version (GetAmVersion)",
		Run: func(s *Session, _ Args) (Result, error) {
			vi, err := s.API.AmVersion()
			if err != nil {
				return Result{}, err
			}
			return resultOf("AutoMapa version", vi.String()), nil
		},
	})
	r.MustRegister(&Operation{
		Name:    "am-path",
		Summary: "Show the AutoMapa installation path (GetAmPath)",
		Run: func(s *Session, _ Args) (Result, error) {
			path, err := s.API.AmPath()
			if err != nil {
				return Result{}, err
			}
			return resultOf("AutoMapa path", path), nil
		},
	})
	r.MustRegister(&Operation{
		Name:    "set-timeout",
		Summary: "Set the API receive timeout in milliseconds (SetAmApiRecieveTimeout)",
		Params:  []Param{{Name: "ms", Type: typeInt}},
		Run: func(s *Session, args Args) (Result, error) {
			ms := int32(args.Values[0].Int())
			if ms < 0 {
				return Result{}, usagef("set-timeout", "ms must not be negative")
			}
			if err := s.API.SetReceiveTimeout(ms); err != nil {
				return Result{}, err
			}
			return message(fmt.Sprintf("Receive timeout set to %d ms.", ms)), nil
		},
	})
	r.MustRegister(&Operation{
		Name:    "init",
		Summary: "Initialise the API, starting AutoMapa if configured (AmApiInit)",
		Run: func(s *Session, _ Args) (Result, error) {
			if ms := s.Profile.ReceiveTimeoutMs; ms > 0 {
				if err := s.API.SetReceiveTimeout(ms); err != nil {
					return Result{}, err
				}
			}
			opts := s.Profile.InitOptions()
			err := s.busy("Initialising AutoMapa API", func() error {
				return s.API.Init(opts)
			})
			if err != nil {
				return Result{}, err
			}
			return message("API initialized."), nil
		},
	})
	r.MustRegister(&Operation{
		Name:    "done",
		Summary: "Shut the API down (AmApiDone)",
		Run: func(s *Session, _ Args) (Result, error) {
			if err := s.API.Done(); err != nil {
				return Result{}, err
			}
			return message("API done."), nil
		},
	})
	r.MustRegister(&Operation{
		Name:    "ready",
		Summary: "Report whether AutoMapa and the API are ready (IsAmAndApiReady)",
		Run: func(s *Session, _ Args) (Result, error) {
			ready, err := s.API.Ready()
			if err != nil {
				return Result{}, err
			}
			return resultOf("API ready", strconv.FormatBool(ready)), nil
		},
	})
	r.MustRegister(&Operation{
		Name:    "language",
		Summary: "Show AutoMapa's current language (GetAmCurrentLanguage)",
		Run: func(s *Session, _ Args) (Result, error) {
			lang, err := s.API.Language()
			if err != nil {
				return Result{}, err
			}
			return resultOf("Language", lang), nil
		},
	})
	r.MustRegister(&Operation{
		Name:    "post",
		Summary: "Send a command or profile command alias to AutoMapa (PostCommandToAm)",
		Params: []Param{
			{Name: "command", Type: typeString, Optional: true, Default: DefaultPostCommand},
			{Name: "beep", Type: typeBool, Optional: true, Default: "false"},
		},
		Run: func(s *Session, args Args) (Result, error) {
			command := args.Values[0].Text()
			if alias, ok := s.Profile.Commands[command]; ok {
				s.Logger.Debug("expanding command alias", "alias", command, "command", alias)
				command = alias
			}
			posted, err := s.API.PostCommand(command, args.Values[1].Bool())
			if err != nil {
				return Result{}, err
			}
			return resultOf("PostCommand", strconv.FormatBool(posted)), nil
		},
	})
	r.MustRegister(&Operation{
		Name:    "close",
		Summary: "Ask AutoMapa to exit, killing it if unresponsive when kill is true (CloseAm)",
		Params:  []Param{{Name: "kill", Type: typeBool, Optional: true, Default: "true"}},
		Run: func(s *Session, args Args) (Result, error) {
			closed, err := s.API.CloseAm(args.Values[0].Bool())
			if err != nil {
				return Result{}, err
			}
			return resultOf("CloseAm", strconv.FormatBool(closed)), nil
		},
	})
	r.MustRegister(&Operation{
		Name:    "scale",
		Summary: "Convert meters to a map scale (AmMetersToScale)",
		Params:  []Param{{Name: "meters", Type: typeInt, Optional: true, Default: "2000"}},
		Run: func(s *Session, args Args) (Result, error) {
			meters := int32(args.Values[0].Int())
			scale, err := s.API.MetersToScale(meters)
			if err != nil {
				return Result{}, err
			}
			return resultOf(fmt.Sprintf("Scale for %d m", meters), strconv.FormatFloat(scale, 'g', -1, 64)), nil
		},
	})
	r.MustRegister(&Operation{
		Name:    "call",
		Summary: "Call any export: call <symbol> <returns> [type:value...]",
		Params: []Param{
			{Name: "symbol", Type: typeString},
			{Name: "returns", Type: typeString},
		},
		Rest: &Param{Name: "type:value", Type: typeString},
		Run:  runCall,
	})
	r.MustRegister(&Operation{
		Name:    "check",
		Summary: "Resolve every known export without calling it",
		Run:     runCheck,
	})
	r.MustRegister(&Operation{
		Name:    "info",
		Summary: "Show the runtime, library and profile in use",
		Run:     runInfo,
	})
	r.MustRegister(&Operation{
		Name:    "help",
		Summary: "List operations or describe one",
		Params:  []Param{{Name: "operation", Type: typeString, Optional: true}},
		Run: func(s *Session, args Args) (Result, error) {
			return help(r, args.Values[0].Text())
		},
	})
}

func runCall(s *Session, args Args) (Result, error) {
	symbol := args.Values[0].Text()
	ret, err := native.ParseType(args.Values[1].Text())
	if err != nil {
		return Result{}, usagef("call", "returns: %v", err)
	}
	call := native.NewCall(symbol, ret)
	for i, a := range args.Rest {
		v, err := native.ParseValue(a.Text())
		if err != nil {
			return Result{}, usagef("call", "argument %d: %v", i, err)
		}
		call.Args = append(call.Args, v)
	}
	return invoke(s, call)
}

// invoke executes call and reports its return value and output buffers.
func invoke(s *Session, call *native.Call) (Result, error) {
	v, err := s.Lib.Invoke(call)
	if err != nil {
		return Result{}, err
	}
	var res Result
	if call.Returns.Kind == native.Void {
		res.add(call.Symbol, "ok")
	} else {
		res.add(call.Symbol, v.String())
	}
	for i, a := range call.Args {
		if a.Type.IsBuffer() {
			res.add(fmt.Sprintf("arg %d", i), a.Text())
		}
	}
	return res, nil
}

func profileOperation(op profile.Operation) *Operation {
	summary := op.Summary
	if summary == "" {
		summary = "Call " + op.Symbol
	}
	sig, _ := op.Signature()
	params := make([]Param, len(op.Params))
	for i, p := range op.Params {
		params[i] = Param{Name: p.Name, Type: sig.Args[i]}
		if p.Default != nil {
			params[i].Optional = true
			params[i].Default = *p.Default
		}
	}
	// Buffers are allocated, never read from the command line.
	var visible []Param
	for _, p := range params {
		if !p.Type.IsBuffer() {
			visible = append(visible, p)
		}
	}
	return &Operation{
		Name:    op.Name,
		Summary: summary,
		Params:  visible,
		Run: func(s *Session, args Args) (Result, error) {
			call := native.NewCall(op.Symbol, sig.Returns)
			next := 0
			for _, p := range params {
				if p.Type.IsBuffer() {
					call.Args = append(call.Args, native.Zero(p.Type))
					continue
				}
				call.Args = append(call.Args, args.Values[next])
				next++
			}
			return invoke(s, call)
		},
	}
}

func runCheck(s *Session, _ Args) (Result, error) {
	if err := s.Lib.Load(); err != nil {
		return Result{}, err
	}

	var res Result
	var first error
	missing := 0
	report := func(symbol string, err error) {
		if err == nil {
			res.add(symbol, "ok")
			return
		}
		res.add(symbol, "missing")
		missing++
		if first == nil {
			first = err
		}
	}
	for _, st := range amapi.Check(s.Lib) {
		report(st.Symbol, st.Err)
	}
	for _, op := range s.Profile.Operations {
		_, err := s.Lib.Lookup(op.Symbol)
		report(op.Symbol, err)
	}

	if missing > 0 {
		if _, err := res.WriteTo(s.Out); err != nil {
			return Result{}, fmt.Errorf("write result: %w", err)
		}
		return Result{}, fmt.Errorf("%d of %d exports missing: %w", missing, len(res.Fields), first)
	}
	res.add("", fmt.Sprintf("All exports found in %s.", s.Lib.Path()))
	return res, nil
}

func runInfo(s *Session, _ Args) (Result, error) {
	var res Result
	bits := unsafe.Sizeof(uintptr(0)) * 8
	res.add("Runtime", fmt.Sprintf("Running under %d-bit %s on %s/%s", bits, runtime.Version(), runtime.GOOS, runtime.GOARCH))
	if exe, err := os.Executable(); err == nil {
		res.add("Executable", exe)
	}
	res.add("Library", s.Lib.Path())
	res.add("Loaded", strconv.FormatBool(s.Lib.Acquired()))
	source := s.Profile.Source
	if source == "" {
		source = "(defaults)"
	}
	res.add("Profile", source)
	if s.Profile.MinAPIVersion != "" {
		res.add("Minimum API version", s.Profile.MinAPIVersion)
	}
	return res, nil
}

func help(r *Registry, name string) (Result, error) {
	if name != "" {
		op, ok := r.Lookup(name)
		if !ok {
			return Result{}, usagef("help", "unknown operation %q", name)
		}
		res := resultOf("usage", op.Usage())
		res.add("", op.Summary)
		return res, nil
	}
	var res Result
	width := 0
	for _, op := range r.Operations() {
		width = max(width, len(op.Name))
	}
	for _, op := range r.Operations() {
		res.add("", fmt.Sprintf("  %-*s  %s", width, op.Name, op.Summary))
	}
	res.add("", strings.TrimSpace(`
Run "help <operation>" for its arguments. "shell" starts an interactive session.`))
	return res, nil
}
