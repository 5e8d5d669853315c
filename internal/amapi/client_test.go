package amapi

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"github.com/tinyrange/apitester/internal/native"
)

// fakeAPI emulates the AutoMapa exports in Go.
type fakeAPI struct {
	installed bool
	ready     bool
	lastInit  *apiInitOptions
	commands  []string
	timeout   int32
	declared  map[string]native.Signature
	calls     []string
}

func (f *fakeAPI) Invoke(c *native.Call) (native.Value, error) {
	f.calls = append(f.calls, c.Symbol)
	if want, ok := f.declared[c.Symbol]; ok && !want.Equal(c.Signature()) {
		return native.Value{}, &native.TypeMismatchError{Symbol: c.Symbol, Index: -1, Want: want.String(), Got: c.Signature().String()}
	}
	switch c.Symbol {
	case SymGetAmApiVersion:
		*(*VersionInfo)(c.Args[0].UnsafePointer()) = VersionInfo{Major: 2, Minor: 7, MajorBuild: 14, MinorBuild: 3, Platform: 1}
		return native.VoidValue(), nil
	case SymGetAmVersion:
		if !f.installed {
			return native.BoolValue(false), nil
		}
		*(*VersionInfo)(c.Args[0].UnsafePointer()) = VersionInfo{Major: 6, Minor: 14}
		return native.BoolValue(true), nil
	case SymGetAmPath:
		if !f.installed {
			return native.BoolValue(false), nil
		}
		c.Args[0].SetText(`C:\AutoMapa`)
		return native.BoolValue(true), nil
	case SymGetAmCurrentLanguage:
		c.Args[0].SetText("pl")
		return native.BoolValue(true), nil
	case SymSetAmApiRecieveTimeout:
		f.timeout = int32(c.Args[0].Int())
		return native.VoidValue(), nil
	case SymAmApiInit:
		opts := *(*apiInitOptions)(c.Args[0].UnsafePointer())
		f.lastInit = &opts
		f.ready = f.installed
		return native.BoolValue(f.installed), nil
	case SymAmApiDone:
		f.ready = false
		return native.VoidValue(), nil
	case SymIsAmAndApiReady:
		return native.BoolValue(f.ready), nil
	case SymPostCommandToAm:
		f.commands = append(f.commands, c.Args[0].Text())
		return native.BoolValue(f.ready), nil
	case SymCloseAm:
		return native.BoolValue(c.Args[0].Bool()), nil
	case SymAmMetersToScale:
		return native.Float64Value(float64(c.Args[0].Int()) / 1000), nil
	}
	return native.Value{}, &native.SymbolNotFoundError{Library: "fake", Symbol: c.Symbol}
}

func (f *fakeAPI) Declare(symbol string, sig native.Signature) error {
	if f.declared == nil {
		f.declared = make(map[string]native.Signature)
	}
	f.declared[symbol] = sig
	return nil
}

func newFake(t *testing.T, installed bool) (*fakeAPI, *Client) {
	t.Helper()
	f := &fakeAPI{installed: installed}
	if err := Declare(f); err != nil {
		t.Fatalf("Declare failed: %v", err)
	}
	return f, NewClient(f)
}

func TestAPIVersion(t *testing.T) {
	_, c := newFake(t, false)
	vi, err := c.APIVersion()
	if err != nil {
		t.Fatalf("APIVersion failed: %v", err)
	}
	want := VersionInfo{Major: 2, Minor: 7, MajorBuild: 14, MinorBuild: 3, Platform: 1}
	if diff := cmp.Diff(want, vi); diff != "" {
		t.Errorf("APIVersion mismatch (-want +got):\n%s", diff)
	}
	if got := vi.String(); got != "2.7.14.3" {
		t.Errorf("String() = %q, want %q", got, "2.7.14.3")
	}
	if got := vi.Semver(); got != "v2.7.14" {
		t.Errorf("Semver() = %q, want %q", got, "v2.7.14")
	}
}

func TestNotInstalledIsNativeCallError(t *testing.T) {
	_, c := newFake(t, false)

	var nce *native.NativeCallError
	if _, err := c.AmVersion(); !errors.As(err, &nce) {
		t.Errorf("AmVersion error = %v, want NativeCallError", err)
	}
	if _, err := c.AmPath(); !errors.As(err, &nce) {
		t.Errorf("AmPath error = %v, want NativeCallError", err)
	}
	if err := c.Init(DefaultInitOptions()); !errors.As(err, &nce) {
		t.Errorf("Init error = %v, want NativeCallError", err)
	}
}

func TestSession(t *testing.T) {
	f, c := newFake(t, true)

	opts := DefaultInitOptions()
	opts.Language = "pl"
	opts.MapPath = `D:\maps`
	if err := c.Init(opts); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if f.lastInit.StartIfNotRunning != 1 || f.lastInit.Timeout != DefaultInitTimeoutMs {
		t.Errorf("init options = %+v, want start=1 timeout=%d", f.lastInit, DefaultInitTimeoutMs)
	}
	if got := string(f.lastInit.InitLang[:3]); got != "pl\x00" {
		t.Errorf("InitLang = %q, want %q", got, "pl\x00")
	}

	ready, err := c.Ready()
	if err != nil || !ready {
		t.Fatalf("Ready = %v, %v; want true", ready, err)
	}

	path, err := c.AmPath()
	if err != nil {
		t.Fatalf("AmPath failed: %v", err)
	}
	if path != `C:\AutoMapa` {
		t.Errorf("AmPath = %q, want %q", path, `C:\AutoMapa`)
	}

	lang, err := c.Language()
	if err != nil {
		t.Fatalf("Language failed: %v", err)
	}
	if lang != "pl" {
		t.Errorf("Language = %q, want %q", lang, "pl")
	}

	posted, err := c.PostCommand("showmap %lat %lon 1000", false)
	if err != nil || !posted {
		t.Errorf("PostCommand = %v, %v; want true", posted, err)
	}

	scale, err := c.MetersToScale(2000)
	if err != nil {
		t.Fatalf("MetersToScale failed: %v", err)
	}
	if scale != 2 {
		t.Errorf("MetersToScale(2000) = %v, want 2", scale)
	}

	if err := c.SetReceiveTimeout(5000); err != nil {
		t.Fatalf("SetReceiveTimeout failed: %v", err)
	}
	if f.timeout != 5000 {
		t.Errorf("timeout = %d, want 5000", f.timeout)
	}
	if err := c.SetReceiveTimeout(-1); err == nil {
		t.Error("negative timeout accepted")
	}

	if err := c.Done(); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	if ready, _ := c.Ready(); ready {
		t.Error("Ready after Done")
	}

	want := []string{
		SymAmApiInit, SymIsAmAndApiReady, SymGetAmPath, SymGetAmCurrentLanguage,
		SymPostCommandToAm, SymAmMetersToScale, SymSetAmApiRecieveTimeout,
		SymAmApiDone, SymIsAmAndApiReady,
	}
	if diff := cmp.Diff(want, f.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestInitOptionsTooLong(t *testing.T) {
	f, c := newFake(t, true)
	opts := DefaultInitOptions()
	opts.Language = "this-language-tag-is-too-long"
	if err := c.Init(opts); err == nil {
		t.Fatal("oversize language accepted")
	}
	if len(f.calls) != 0 {
		t.Errorf("native calls = %v, want none", f.calls)
	}
}

func TestLayouts(t *testing.T) {
	if got := unsafe.Sizeof(VersionInfo{}); got != 10 {
		t.Errorf("sizeof(VersionInfo) = %d, want 10", got)
	}
	var o apiInitOptions
	if got := unsafe.Offsetof(o.InitLang); got != 8+unsafe.Sizeof(uintptr(0))+8 {
		t.Errorf("offsetof(InitLang) = %d", got)
	}
}

func TestRequireVersion(t *testing.T) {
	vi := VersionInfo{Major: 2, Minor: 7, MajorBuild: 14}
	tests := []struct {
		min     string
		wantErr bool
	}{
		{"", false},
		{"2.7.0", false},
		{"v2.7.14", false},
		{"v2", false},
		{"2.8", true},
		{"v3.0.0", true},
		{"not-a-version", true},
	}
	for _, tt := range tests {
		err := RequireVersion(vi, tt.min)
		if (err != nil) != tt.wantErr {
			t.Errorf("RequireVersion(%q) = %v, wantErr %v", tt.min, err, tt.wantErr)
		}
	}
}

type lookupFunc func(string) (uintptr, error)

func (f lookupFunc) Lookup(s string) (uintptr, error) { return f(s) }

func TestCheck(t *testing.T) {
	missing := map[string]bool{SymCloseAm: true, SymAmMetersToScale: true}
	statuses := Check(lookupFunc(func(s string) (uintptr, error) {
		if missing[s] {
			return 0, &native.SymbolNotFoundError{Library: "fake", Symbol: s}
		}
		return 1, nil
	}))
	if len(statuses) != len(Exports) {
		t.Fatalf("len = %d, want %d", len(statuses), len(Exports))
	}
	var gotMissing []string
	for _, s := range statuses {
		if s.Err != nil {
			gotMissing = append(gotMissing, s.Symbol)
		}
	}
	if diff := cmp.Diff([]string{SymCloseAm, SymAmMetersToScale}, gotMissing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
}
