//go:build windows

package native

import (
	"golang.org/x/sys/windows"
)

type dllLoader struct{}

var defaultLoader loader = dllLoader{}

func (dllLoader) open(path string) (uintptr, error) {
	h, err := windows.LoadLibrary(path)
	return uintptr(h), err
}

func (dllLoader) sym(handle uintptr, name string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(handle), name)
}

func (dllLoader) close(handle uintptr) error {
	return windows.FreeLibrary(windows.Handle(handle))
}
