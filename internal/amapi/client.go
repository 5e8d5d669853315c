package amapi

import (
	"fmt"
	"unsafe"

	"github.com/tinyrange/apitester/internal/native"
)

// Exported symbol names.
const (
	SymGetAmApiVersion        = "GetAmApiVersion"
	SymGetAmVersion           = "GetAmVersion"
	SymGetAmPath              = "GetAmPath"
	SymSetAmApiRecieveTimeout = "SetAmApiRecieveTimeout"
	SymAmApiInit              = "AmApiInit"
	SymAmApiDone              = "AmApiDone"
	SymIsAmAndApiReady        = "IsAmAndApiReady"
	SymGetAmCurrentLanguage   = "GetAmCurrentLanguage"
	SymPostCommandToAm        = "PostCommandToAm"
	SymCloseAm                = "CloseAm"
	SymAmMetersToScale        = "AmMetersToScale"
)

// Export is one function of the API with its foreign signature.
type Export struct {
	Symbol    string
	Signature native.Signature
}

func export(symbol, returns string, args ...string) Export {
	sig, err := native.ParseSignature(returns, args...)
	if err != nil {
		panic(fmt.Sprintf("amapi: %s: %v", symbol, err))
	}
	return Export{Symbol: symbol, Signature: sig}
}

// Exports lists every function of the API.
var Exports = []Export{
	export(SymGetAmApiVersion, "void", "ptr"),
	export(SymGetAmVersion, "bool", "ptr"),
	export(SymGetAmPath, "bool", fmt.Sprintf("wbuf:%d", PathLength)),
	export(SymSetAmApiRecieveTimeout, "void", "int"),
	export(SymAmApiInit, "bool", "ptr"),
	export(SymAmApiDone, "void"),
	export(SymIsAmAndApiReady, "bool"),
	export(SymGetAmCurrentLanguage, "bool", fmt.Sprintf("wbuf:%d", LanguageLength)),
	export(SymPostCommandToAm, "bool", "string", "bool"),
	export(SymCloseAm, "bool", "bool"),
	export(SymAmMetersToScale, "double", "int"),
}

// Declarer records foreign signatures.
type Declarer interface {
	Declare(symbol string, sig native.Signature) error
}

// Declare records the signature of every export with d.
func Declare(d Declarer) error {
	for _, e := range Exports {
		if err := d.Declare(e.Symbol, e.Signature); err != nil {
			return fmt.Errorf("declare %s: %w", e.Symbol, err)
		}
	}
	return nil
}

// Resolver looks up exported symbols.
type Resolver interface {
	Lookup(symbol string) (uintptr, error)
}

// ExportStatus is the result of resolving one export.
type ExportStatus struct {
	Export
	Err error
}

// Check resolves every export without calling any of them.
func Check(r Resolver) []ExportStatus {
	out := make([]ExportStatus, len(Exports))
	for i, e := range Exports {
		_, err := r.Lookup(e.Symbol)
		out[i] = ExportStatus{Export: e, Err: err}
	}
	return out
}

// Client calls the API through a native.Caller.
type Client struct {
	caller native.Caller
}

// NewClient returns a client issuing calls through c.
func NewClient(c native.Caller) *Client {
	return &Client{caller: c}
}

func (c *Client) call(symbol string, ret native.Kind, args ...native.Value) (native.Value, error) {
	return c.caller.Invoke(native.NewCall(symbol, native.Type{Kind: ret}, args...))
}

func failed(symbol, detail string) error {
	return &native.NativeCallError{Symbol: symbol, Detail: detail}
}

// APIVersion returns the version of the API library itself.
func (c *Client) APIVersion() (VersionInfo, error) {
	var vi VersionInfo
	if _, err := c.call(SymGetAmApiVersion, native.Void, native.PointerValue(unsafe.Pointer(&vi))); err != nil {
		return VersionInfo{}, err
	}
	return vi, nil
}

// AmVersion returns the version of the installed AutoMapa.
func (c *Client) AmVersion() (VersionInfo, error) {
	var vi VersionInfo
	ok, err := c.call(SymGetAmVersion, native.Bool, native.PointerValue(unsafe.Pointer(&vi)))
	if err != nil {
		return VersionInfo{}, err
	}
	if !ok.Bool() {
		return VersionInfo{}, failed(SymGetAmVersion, "AutoMapa not installed or call failed")
	}
	return vi, nil
}

// AmPath returns the AutoMapa installation path.
func (c *Client) AmPath() (string, error) {
	buf := native.NewWideBuffer(PathLength)
	ok, err := c.call(SymGetAmPath, native.Bool, buf)
	if err != nil {
		return "", err
	}
	if !ok.Bool() {
		return "", failed(SymGetAmPath, "failed to get path")
	}
	return buf.Text(), nil
}

// SetReceiveTimeout sets how long the API waits for AutoMapa replies.
func (c *Client) SetReceiveTimeout(ms int32) error {
	if ms < 0 {
		return fmt.Errorf("receive timeout must not be negative, got %d", ms)
	}
	_, err := c.call(SymSetAmApiRecieveTimeout, native.Void, native.Int32Value(ms))
	return err
}

// Init initialises the API, starting AutoMapa when configured to.
func (c *Client) Init(opts InitOptions) error {
	n, err := opts.native()
	if err != nil {
		return fmt.Errorf("init options: %w", err)
	}
	ok, err := c.call(SymAmApiInit, native.Bool, native.PointerValue(unsafe.Pointer(n)))
	if err != nil {
		return err
	}
	if !ok.Bool() {
		return failed(SymAmApiInit, "API init failed")
	}
	return nil
}

// Done shuts the API down.
func (c *Client) Done() error {
	_, err := c.call(SymAmApiDone, native.Void)
	return err
}

// Ready reports whether AutoMapa and the API are ready.
func (c *Client) Ready() (bool, error) {
	v, err := c.call(SymIsAmAndApiReady, native.Bool)
	return v.Bool(), err
}

// Language returns AutoMapa's current UI language.
func (c *Client) Language() (string, error) {
	buf := native.NewWideBuffer(LanguageLength)
	ok, err := c.call(SymGetAmCurrentLanguage, native.Bool, buf)
	if err != nil {
		return "", err
	}
	if !ok.Bool() {
		return "", failed(SymGetAmCurrentLanguage, "failed to get language")
	}
	return buf.Text(), nil
}

// PostCommand sends a command line to AutoMapa.
func (c *Client) PostCommand(command string, beep bool) (bool, error) {
	v, err := c.call(SymPostCommandToAm, native.Bool, native.StringValue(command), native.BoolValue(beep))
	return v.Bool(), err
}

// CloseAm asks AutoMapa to exit, killing it if it does not respond and kill is
// set.
func (c *Client) CloseAm(kill bool) (bool, error) {
	v, err := c.call(SymCloseAm, native.Bool, native.BoolValue(kill))
	return v.Bool(), err
}

// MetersToScale converts a distance to AutoMapa's map scale.
func (c *Client) MetersToScale(meters int32) (float64, error) {
	v, err := c.call(SymAmMetersToScale, native.Float64, native.Int32Value(meters))
	return v.Float(), err
}
