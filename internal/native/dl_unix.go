//go:build darwin || freebsd || linux || netbsd

package native

import (
	"github.com/ebitengine/purego"
)

type dlLoader struct{}

var defaultLoader loader = dlLoader{}

func (dlLoader) open(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
}

func (dlLoader) sym(handle uintptr, name string) (uintptr, error) {
	return purego.Dlsym(handle, name)
}

func (dlLoader) close(handle uintptr) error {
	return purego.Dlclose(handle)
}
