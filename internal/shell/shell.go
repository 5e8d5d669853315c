// Package shell runs several operations against one loaded library, either
// interactively on a terminal or from a script.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/tinyrange/apitester/internal/dispatch"
)

// DefaultPrompt is shown before each interactive line.
const DefaultPrompt = "apitester> "

// Shell feeds command lines to a dispatcher.
type Shell struct {
	Dispatcher *dispatch.Dispatcher
	Prompt     string

	// Redirect, when set, sends diagnostics to w for the length of an
	// interactive session. The returned function undoes it.
	Redirect func(w io.Writer) (restore func())
}

func New(d *dispatch.Dispatcher) *Shell {
	return &Shell{Dispatcher: d, Prompt: DefaultPrompt}
}

// RunScript executes r line by line. The first failing line stops the script
// and its error is returned.
func (sh *Shell) RunScript(r io.Reader) error {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		argv, err := Split(sc.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", line, &dispatch.UsageError{Msg: err.Error()})
		}
		if len(argv) == 0 {
			continue
		}
		if isExit(argv[0]) {
			return nil
		}
		if err := sh.Dispatcher.Dispatch(argv); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	return nil
}

// Interactive reads lines from rw, which is normally a terminal in raw mode,
// until end of input or exit. Failures are printed and the session goes on.
func (sh *Shell) Interactive(rw io.ReadWriter) error {
	t := term.NewTerminal(rw, sh.Prompt)
	t.AutoCompleteCallback = sh.complete

	// Everything written while the terminal is raw goes through it so line
	// endings are translated. The spinner would draw over the prompt.
	s := sh.Dispatcher.Session
	prevOut, prevBusy := s.Out, s.Busy
	s.Out, s.Busy = t, nil
	defer func() { s.Out, s.Busy = prevOut, prevBusy }()
	if sh.Redirect != nil {
		defer sh.Redirect(t)()
	}

	fmt.Fprintln(t, `Type "help" for a list of operations, "exit" to leave.`)
	for {
		line, err := t.ReadLine()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(t)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read line: %w", err)
		}
		argv, err := Split(line)
		if err != nil {
			fmt.Fprintf(t, "error: %v\n", err)
			continue
		}
		if len(argv) == 0 {
			continue
		}
		if isExit(argv[0]) {
			return nil
		}
		if err := sh.Dispatcher.Dispatch(argv); err != nil {
			fmt.Fprintf(t, "error: %v\n", err)
		}
	}
}

// complete expands an operation name prefix on tab.
func (sh *Shell) complete(line string, pos int, key rune) (string, int, bool) {
	if key != '\t' {
		return "", 0, false
	}
	// pos counts runes.
	runes := []rune(line)
	if pos > len(runes) {
		return "", 0, false
	}
	prefix := string(runes[:pos])
	if strings.ContainsAny(prefix, " \t") {
		return "", 0, false
	}
	var matches []string
	for _, op := range sh.Dispatcher.Registry.Operations() {
		if strings.HasPrefix(op.Name, prefix) {
			matches = append(matches, op.Name)
		}
	}
	if len(matches) == 0 {
		return "", 0, false
	}
	sort.Strings(matches)
	common := matches[0]
	for _, m := range matches[1:] {
		for !strings.HasPrefix(m, common) {
			common = common[:len(common)-1]
		}
	}
	if len(matches) == 1 {
		common += " "
	}
	if len(common) <= len(prefix) {
		return "", 0, false
	}
	return common + string(runes[pos:]), utf8.RuneCountInString(common), true
}

func isExit(name string) bool {
	return name == "exit" || name == "quit"
}

// Split breaks line into words. Single quotes preserve everything up to the
// closing quote. A backslash escapes a double quote anywhere, and a single
// quote, whitespace or # outside quotes. Before anything else, including
// another backslash, it is kept literally, so Windows and UNC paths need no
// doubling. An unquoted # starts a comment.
func Split(line string) ([]string, error) {
	var (
		words  []string
		cur    strings.Builder
		inWord bool
		quote  rune
	)
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote == '\'':
			if c == '\'' {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case c == '\\' && i+1 < len(runes) && escapable(runes[i+1], quote):
			i++
			cur.WriteRune(runes[i])
			inWord = true
		case quote == '"':
			if c == '"' {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == ' ' || c == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		case c == '#' && !inWord:
			return words, nil
		default:
			cur.WriteRune(c)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}

func escapable(c, quote rune) bool {
	switch c {
	case '"':
		return true
	case '\'', ' ', '\t', '#':
		return quote == 0
	}
	return false
}
