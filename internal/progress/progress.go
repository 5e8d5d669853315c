// Package progress shows a spinner while a blocking call runs.
package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

const tick = 100 * time.Millisecond

// Run calls fn on the calling goroutine while a spinner labelled desc is
// drawn on w. The spinner is stopped and cleared before Run returns.
func Run(w io.Writer, desc string, fn func() error) error {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionClearOnFinish(),
	)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				_ = bar.Add(1)
			}
		}
	}()

	err := fn()
	close(done)
	wg.Wait()
	_ = bar.Finish()
	return err
}

// Busy returns a hook that wraps calls in Run on f, or nil when f is not a
// terminal.
func Busy(f *os.File) func(desc string, fn func() error) error {
	if !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return func(desc string, fn func() error) error {
		return Run(f, desc, fn)
	}
}
