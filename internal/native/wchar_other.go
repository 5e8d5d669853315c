//go:build !windows

package native

import "strings"

// wchar is wchar_t, UTF-32 outside Windows.
type wchar = int32

func decodeWide(buf []wchar) string {
	var b strings.Builder
	for _, c := range buf {
		if c == 0 {
			break
		}
		b.WriteRune(rune(c))
	}
	return b.String()
}

func encodeWide(s string) []wchar {
	out := make([]wchar, 0, len(s))
	for _, r := range s {
		out = append(out, wchar(r))
	}
	return out
}
