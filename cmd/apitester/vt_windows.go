//go:build windows

package main

import (
	"os"

	"golang.org/x/sys/windows"
)

// enableVTProcessing turns on Virtual Terminal processing for stdout so the
// line editor's escape sequences are interpreted by the console. It must run
// before raw mode is entered. The returned function restores the old mode.
func enableVTProcessing() (restore func(), err error) {
	h := windows.Handle(os.Stdout.Fd())

	var originalMode uint32
	if err := windows.GetConsoleMode(h, &originalMode); err != nil {
		// Not a console.
		return func() {}, nil
	}

	if err := windows.SetConsoleMode(h, originalMode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING); err != nil {
		return nil, err
	}
	return func() {
		_ = windows.SetConsoleMode(h, originalMode)
	}, nil
}
