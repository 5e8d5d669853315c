// Command apitester exercises the AutoMapa API library, or any other shared
// library, one export at a time from the command line.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/tinyrange/apitester/internal/dispatch"
	"github.com/tinyrange/apitester/internal/native"
	"github.com/tinyrange/apitester/internal/profile"
	"github.com/tinyrange/apitester/internal/progress"
	"github.com/tinyrange/apitester/internal/shell"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// switchWriter is the log destination. The interactive shell moves it to the
// terminal while stdin is raw.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) redirect(w io.Writer) (restore func()) {
	s.mu.Lock()
	prev := s.w
	s.w = w
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.w = prev
		s.mu.Unlock()
	}
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("apitester", flag.ContinueOnError)
	fs.SetOutput(stderr)
	libFlag := fs.String("lib", "", "Shared library to load (default: $APITESTER_LIB, profile, platform default)")
	profileFlag := fs.String("profile", "", "Profile file (default: $APITESTER_PROFILE, ./apitester.yaml, user config dir)")
	var search stringList
	fs.Var(&search, "search", "Directory to search for the library (repeatable)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	quiet := fs.Bool("quiet", false, "Do not show progress for slow calls")
	script := fs.String("script", "", "Run operations from a file, one per line")
	writeProfile := fs.String("write-profile", "", "Write a template profile to this path, then exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: apitester [flags] <operation> [args...]\n")
		fmt.Fprintf(stderr, "       apitester [flags] shell\n")
		fmt.Fprintf(stderr, "       apitester [flags] -script <file>\n\n")
		fmt.Fprintf(stderr, "Call exports of the AutoMapa API library and print their results.\n\n")
		fmt.Fprintf(stderr, "Examples:\n")
		fmt.Fprintf(stderr, "  apitester api-version\n")
		fmt.Fprintf(stderr, "  apitester post \"showmap 52.23 21.01 1000\" false\n")
		fmt.Fprintf(stderr, "  apitester -lib libm.so.6 call sqrt double double:2\n\n")
		fmt.Fprintf(stderr, "Run \"apitester help\" for the list of operations.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	diag := &switchWriter{w: stderr}
	logger := slog.New(slog.NewTextHandler(diag, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *writeProfile != "" {
		if fs.NArg() > 0 {
			return report(stderr, &dispatch.UsageError{Msg: "-write-profile takes no operation"})
		}
		if err := profile.WriteTemplate(*writeProfile, profile.Template()); err != nil {
			return report(stderr, err)
		}
		logger.Info("profile written", "path", *writeProfile)
		return exitOK
	}

	p, err := profile.Load(*profileFlag)
	if err != nil {
		return report(stderr, err)
	}
	logger.Debug("profile loaded", "source", p.Source)

	reg, err := dispatch.NewDefaultRegistry(p)
	if err != nil {
		return report(stderr, err)
	}

	// Everything that can be rejected is rejected before the library is
	// touched.
	rest := fs.Args()
	var (
		inv      *dispatch.Invocation
		scriptIn io.ReadCloser
		shellIn  bool
	)
	switch {
	case *script != "":
		if len(rest) > 0 {
			return report(stderr, &dispatch.UsageError{Msg: "-script takes no operation"})
		}
		f, err := os.Open(*script)
		if err != nil {
			return report(stderr, fmt.Errorf("open script: %w", err))
		}
		defer f.Close()
		scriptIn = f
	case len(rest) > 0 && rest[0] == "shell":
		if len(rest) > 1 {
			return report(stderr, &dispatch.UsageError{Op: "shell", Msg: "takes no arguments"})
		}
		shellIn = true
	default:
		inv, err = reg.Resolve(rest)
		if err != nil {
			return report(stderr, err)
		}
	}

	name := *libFlag
	if name == "" {
		name = p.LibraryName()
	}
	lib, err := native.Open(name, native.Options{
		SearchPaths: append([]string(search), p.AllSearchPaths()...),
		Logger:      logger,
	})
	if err != nil {
		return report(stderr, err)
	}
	defer func() {
		if err := lib.Close(); err != nil {
			logger.Warn("close library", "error", err)
		}
	}()

	sess, err := dispatch.NewSession(lib, p, stdout, logger)
	if err != nil {
		return report(stderr, err)
	}
	if f, ok := stderr.(*os.File); ok && !*quiet {
		sess.Busy = progress.Busy(f)
	}
	d := &dispatch.Dispatcher{Registry: reg, Session: sess}

	switch {
	case scriptIn != nil:
		err = shell.New(d).RunScript(scriptIn)
	case shellIn:
		sh := shell.New(d)
		sh.Redirect = diag.redirect
		err = runShell(sh, stdout)
	default:
		if err := d.Execute(inv); err != nil {
			return report(stderr, err)
		}
		return exitOK
	}
	// Earlier lines of a session may already have called into the library,
	// so a bad line is a failure of the run, not of the command line.
	if err != nil {
		fmt.Fprintf(stderr, "apitester: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// runShell starts an interactive session when stdin is a terminal and reads
// stdin as a script otherwise.
func runShell(sh *shell.Shell, stdout io.Writer) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return sh.RunScript(os.Stdin)
	}

	restoreVT, err := enableVTProcessing()
	if err != nil {
		return fmt.Errorf("enable VT processing: %w", err)
	}
	defer restoreVT()

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("enable raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, oldState)
	}()

	rw := struct {
		io.Reader
		io.Writer
	}{os.Stdin, stdout}
	return sh.Interactive(rw)
}

func report(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "apitester: %v\n", err)
	if dispatch.IsUsage(err) {
		fmt.Fprintf(stderr, "Run \"apitester help\" for the list of operations.\n")
		return exitUsage
	}
	return exitFailure
}
