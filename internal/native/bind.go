//go:build darwin || freebsd || linux || netbsd || windows

package native

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// registerFunc wraps purego.RegisterFunc, which panics on signatures it
// cannot marshal.
func registerFunc(fptr any, addr uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	purego.RegisterFunc(fptr, addr)
	return nil
}
