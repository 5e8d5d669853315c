// Package amapi binds the AutoMapa navigation API (tpcAmApi).
package amapi

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/mod/semver"
)

// DefaultLibrary is the library name tried when none is configured.
func DefaultLibrary() string {
	switch runtime.GOOS {
	case "windows":
		return "tpcAmApi_D.dll"
	case "darwin":
		return "libtpcAmApi.dylib"
	}
	return "libtpcAmApi.so"
}

// DefaultSearchPaths are probed after the configured search paths.
func DefaultSearchPaths() []string {
	if runtime.GOOS == "windows" {
		return []string{`P:\AmEU`}
	}
	return nil
}

// Buffer sizes of the string outputs and init option fields.
const (
	PathLength     = 512
	LanguageLength = 16
	InitLangSize   = 16
	MapPathSize    = 512
	ProfileSize    = 256
)

// DefaultInitTimeoutMs is the AmApiInit timeout used when none is configured.
const DefaultInitTimeoutMs = 60000

// VersionInfo mirrors CVersionInfo.
type VersionInfo struct {
	Major      uint16
	Minor      uint16
	MajorBuild uint16
	MinorBuild uint16
	Platform   uint8
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.MajorBuild, v.MinorBuild)
}

// Semver renders the version as vMAJOR.MINOR.MAJORBUILD.
func (v VersionInfo) Semver() string {
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.MajorBuild)
}

// RequireVersion fails when v is older than min. An empty min accepts any
// version.
func RequireVersion(v VersionInfo, min string) error {
	if min == "" {
		return nil
	}
	min = NormalizeVersion(min)
	if !semver.IsValid(min) {
		return fmt.Errorf("invalid minimum API version %q", min)
	}
	if semver.Compare(v.Semver(), min) < 0 {
		return fmt.Errorf("API version %s is older than required %s", v.Semver(), min)
	}
	return nil
}

// NormalizeVersion adds the "v" prefix semver expects.
func NormalizeVersion(s string) string {
	if s != "" && !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}

// InitOptions configures AmApiInit.
type InitOptions struct {
	StartIfNotRunning bool
	TimeoutMs         int32
	FastStart         bool
	KeepInBack        bool
	Language          string
	MapPath           string
	Profile           string
}

// DefaultInitOptions returns the options AmApiInit is called with when
// nothing is configured.
func DefaultInitOptions() InitOptions {
	return InitOptions{
		StartIfNotRunning: true,
		TimeoutMs:         DefaultInitTimeoutMs,
	}
}

// apiInitOptions mirrors ApiInitOptions. BOOL fields are 32-bit.
type apiInitOptions struct {
	StartIfNotRunning int32
	Timeout           int32
	ProcessCreated    uintptr
	FastStart         int32
	KeepInBack        int32
	InitLang          [InitLangSize]byte
	MapPath           [MapPathSize]byte
	Profile           [ProfileSize]byte
}

func (o InitOptions) native() (*apiInitOptions, error) {
	n := &apiInitOptions{
		StartIfNotRunning: boolToInt(o.StartIfNotRunning),
		Timeout:           o.TimeoutMs,
		FastStart:         boolToInt(o.FastStart),
		KeepInBack:        boolToInt(o.KeepInBack),
	}
	if err := putString(n.InitLang[:], o.Language, "language"); err != nil {
		return nil, err
	}
	if err := putString(n.MapPath[:], o.MapPath, "map path"); err != nil {
		return nil, err
	}
	if err := putString(n.Profile[:], o.Profile, "profile"); err != nil {
		return nil, err
	}
	return n, nil
}

// putString stores s NUL terminated in dst.
func putString(dst []byte, s, field string) error {
	if len(s) >= len(dst) {
		return fmt.Errorf("%s is %d bytes, at most %d fit", field, len(s), len(dst)-1)
	}
	copy(dst, s)
	return nil
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
