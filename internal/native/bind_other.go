//go:build !(darwin || freebsd || linux || netbsd || windows)

package native

func registerFunc(any, uintptr) error {
	return ErrUnsupportedPlatform
}
