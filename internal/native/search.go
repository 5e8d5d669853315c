package native

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// SharedLibraryExt is the file extension of shared libraries on this platform.
func SharedLibraryExt() string {
	switch runtime.GOOS {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	}
	return ".so"
}

// Resolve applies the library search rules to name. Names with a directory
// component are returned unchanged. Otherwise searchPaths, the executable's
// directory and the working directory are probed in that order; a name without
// an extension is also tried with the platform extension. When nothing is
// found the bare name is returned for the OS loader to search.
func Resolve(name string, searchPaths []string) string {
	if filepath.IsAbs(name) || strings.ContainsAny(name, `/\`) {
		return name
	}

	candidates := []string{name}
	if filepath.Ext(name) == "" {
		candidates = append(candidates, name+SharedLibraryExt())
	}

	dirs := append([]string(nil), searchPaths...)
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, c := range candidates {
			p := filepath.Join(dir, c)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p
			}
		}
	}
	return name
}
