//go:build windows

package native

import (
	"unicode/utf16"

	"golang.org/x/sys/windows"
)

// wchar is wchar_t, UTF-16 on Windows.
type wchar = uint16

func decodeWide(buf []wchar) string {
	return windows.UTF16ToString(buf)
}

func encodeWide(s string) []wchar {
	return utf16.Encode([]rune(s))
}
