//go:build !(darwin || freebsd || linux || netbsd || windows)

package native

type noLoader struct{}

var defaultLoader loader = noLoader{}

func (noLoader) open(string) (uintptr, error) { return 0, ErrUnsupportedPlatform }
func (noLoader) sym(uintptr, string) (uintptr, error) { return 0, ErrUnsupportedPlatform }
func (noLoader) close(uintptr) error { return nil }
