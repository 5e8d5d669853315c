// Package profile loads the apitester YAML profile.
package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/apitester/internal/amapi"
	"github.com/tinyrange/apitester/internal/native"
)

const (
	Filename = "apitester.yaml"

	// EnvProfile names a profile file.
	EnvProfile = "APITESTER_PROFILE"
	// EnvLibrary overrides the profile's library.
	EnvLibrary = "APITESTER_LIB"
)

// Profile configures which library is loaded and how it is exercised.
type Profile struct {
	Library          string            `yaml:"library,omitempty"`
	SearchPaths      []string          `yaml:"searchPaths,omitempty"`
	MinAPIVersion    string            `yaml:"minApiVersion,omitempty" validate:"omitempty,semver_min"`
	ReceiveTimeoutMs int32             `yaml:"receiveTimeoutMs,omitempty" validate:"min=0"`
	Init             Init              `yaml:"init"`
	Commands         map[string]string `yaml:"commands,omitempty" validate:"dive,keys,opname,endkeys,required"`
	Operations       []Operation       `yaml:"operations,omitempty" validate:"unique=Name,dive"`

	// Source is the file the profile was read from, empty for defaults.
	Source string `yaml:"-"`
}

// Init holds the AmApiInit options.
type Init struct {
	StartIfNotRunning *bool  `yaml:"startIfNotRunning,omitempty"`
	TimeoutMs         int32  `yaml:"timeoutMs,omitempty" validate:"min=0"`
	FastStart         bool   `yaml:"fastStart,omitempty"`
	KeepInBack        bool   `yaml:"keepInBack,omitempty"`
	Language          string `yaml:"language,omitempty" validate:"maxbytes=15"`
	MapPath           string `yaml:"mapPath,omitempty" validate:"maxbytes=511"`
	Profile           string `yaml:"profile,omitempty" validate:"maxbytes=255"`
}

// Operation describes an extra export to expose as a command.
type Operation struct {
	Name    string  `yaml:"name" validate:"required,opname"`
	Symbol  string  `yaml:"symbol" validate:"required,symbol"`
	Summary string  `yaml:"summary,omitempty"`
	Returns string  `yaml:"returns" validate:"required,nativetype"`
	Params  []Param `yaml:"params,omitempty" validate:"dive"`
}

// Param is one argument of an Operation.
type Param struct {
	Name    string  `yaml:"name" validate:"required"`
	Type    string  `yaml:"type" validate:"required,nativetype"`
	Default *string `yaml:"default,omitempty"`
}

// Signature returns the foreign signature described by o.
func (o Operation) Signature() (native.Signature, error) {
	args := make([]string, len(o.Params))
	for i, p := range o.Params {
		args[i] = p.Type
	}
	return native.ParseSignature(o.Returns, args...)
}

// InitOptions converts the init section to AmApiInit options.
func (p *Profile) InitOptions() amapi.InitOptions {
	opts := amapi.DefaultInitOptions()
	if p.Init.StartIfNotRunning != nil {
		opts.StartIfNotRunning = *p.Init.StartIfNotRunning
	}
	if p.Init.TimeoutMs != 0 {
		opts.TimeoutMs = p.Init.TimeoutMs
	}
	opts.FastStart = p.Init.FastStart
	opts.KeepInBack = p.Init.KeepInBack
	opts.Language = p.Init.Language
	opts.MapPath = p.Init.MapPath
	opts.Profile = p.Init.Profile
	return opts
}

// LibraryName returns the library to load: the APITESTER_LIB environment
// variable, then the profile, then the platform default.
func (p *Profile) LibraryName() string {
	if env := os.Getenv(EnvLibrary); env != "" {
		return env
	}
	if p.Library != "" {
		return p.Library
	}
	return amapi.DefaultLibrary()
}

// AllSearchPaths returns the profile search paths followed by the defaults.
func (p *Profile) AllSearchPaths() []string {
	return append(append([]string(nil), p.SearchPaths...), amapi.DefaultSearchPaths()...)
}

func (p *Profile) normalize() {
	if p.MinAPIVersion != "" {
		p.MinAPIVersion = amapi.NormalizeVersion(p.MinAPIVersion)
	}
	base := ""
	if p.Source != "" {
		base = filepath.Dir(p.Source)
	}
	for i, sp := range p.SearchPaths {
		if base != "" && !filepath.IsAbs(sp) {
			p.SearchPaths[i] = filepath.Join(base, sp)
		}
	}
}

var (
	opNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	symbolPattern = regexp.MustCompile(`^[A-Za-z_@?$][A-Za-z0-9_@?$]*$`)
	validate      = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	checks := map[string]validator.Func{
		"opname": func(fl validator.FieldLevel) bool {
			return opNamePattern.MatchString(fl.Field().String())
		},
		"symbol": func(fl validator.FieldLevel) bool {
			return symbolPattern.MatchString(fl.Field().String())
		},
		"nativetype": func(fl validator.FieldLevel) bool {
			_, err := native.ParseType(fl.Field().String())
			return err == nil
		},
		// Init strings are copied into fixed byte arrays, so limits count
		// UTF-8 bytes, not runes.
		"maxbytes": func(fl validator.FieldLevel) bool {
			n, err := strconv.Atoi(fl.Param())
			return err == nil && len(fl.Field().String()) <= n
		},
		"semver_min": func(fl validator.FieldLevel) bool {
			return semver.IsValid(amapi.NormalizeVersion(fl.Field().String()))
		},
	}
	for tag, fn := range checks {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("profile: register %s: %v", tag, err))
		}
	}
	return v
}

// Validate checks field constraints and that every operation has a
// bindable signature.
func (p *Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid profile: %s", describe(verrs))
		}
		return fmt.Errorf("invalid profile: %w", err)
	}
	for _, op := range p.Operations {
		if _, err := op.Signature(); err != nil {
			return fmt.Errorf("invalid profile: operation %s: %w", op.Name, err)
		}
		for _, param := range op.Params {
			if param.Default == nil {
				continue
			}
			t, _ := native.ParseType(param.Type)
			if _, err := native.ParseValueAs(t, *param.Default); err != nil {
				return fmt.Errorf("invalid profile: operation %s: default of %s: %w", op.Name, param.Name, err)
			}
		}
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	fe := verrs[0]
	field := fe.Namespace()
	switch fe.Tag() {
	case "maxbytes":
		return fmt.Sprintf("%s must be at most %s bytes", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "unique":
		return fmt.Sprintf("%s has duplicate names", field)
	case "opname":
		return fmt.Sprintf("%s %q is not a valid operation name", field, fe.Value())
	case "symbol":
		return fmt.Sprintf("%s %q is not a valid symbol name", field, fe.Value())
	case "nativetype":
		return fmt.Sprintf("%s %q is not a known type", field, fe.Value())
	case "semver_min":
		return fmt.Sprintf("%s %q is not a valid version", field, fe.Value())
	}
	return fe.Error()
}

// Default returns the profile used when no file is found.
func Default() *Profile {
	return &Profile{}
}

// Parse decodes and validates profile YAML.
func Parse(data []byte, source string) (*Profile, error) {
	p := &Profile{Source: source}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", displayName(source), err)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFile reads the profile at path.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return Parse(data, path)
}

// Load finds and reads the profile. An explicit path (or APITESTER_PROFILE)
// must exist; otherwise ./apitester.yaml and the user config directory are
// tried and a missing file yields Default().
func Load(explicit string) (*Profile, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvProfile)
	}
	if explicit != "" {
		return LoadFile(explicit)
	}
	for _, candidate := range defaultLocations() {
		p, err := LoadFile(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return p, err
	}
	return Default(), nil
}

func defaultLocations() []string {
	locs := []string{Filename}
	if dir, err := os.UserConfigDir(); err == nil {
		locs = append(locs, filepath.Join(dir, "apitester", Filename))
	}
	return locs
}

// WriteTemplate writes p as YAML to path.
func WriteTemplate(path string, p *Profile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Template returns a starting point for a new profile.
func Template() *Profile {
	start := true
	return &Profile{
		Library: amapi.DefaultLibrary(),
		Init: Init{
			StartIfNotRunning: &start,
			TimeoutMs:         amapi.DefaultInitTimeoutMs,
		},
		Commands: map[string]string{
			"zoom1km": "showmap %lat %lon 1000",
		},
	}
}

func displayName(source string) string {
	if source == "" {
		return "profile"
	}
	return source
}
