package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xplshn/tyro/pkg/cli"
)

type Feature int

const (
	FeatCComments Feature = iota
	FeatBlockComments
	FeatDoWhile
	FeatBoolLiterals
	FeatUnaryOps
	FeatGuards
	FeatCount
)

type Warning int

const (
	WarnUninitialized Warning = iota
	WarnUnused
	WarnConstCond
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

const (
	DefaultStackSize     = 256
	DefaultMaxNativeArgs = 256
	FileName             = "tyro.toml"
)

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning

	// StackSize is the operand stack capacity of a machine, in words.
	StackSize int
	// MaxNativeArgs bounds the native argument stack used by the call bridge.
	MaxNativeArgs int
	HexListing    bool

	// Path of the project file the settings came from, if any.
	Path string
}

func NewConfig() *Config {
	cfg := &Config{
		Features:      make(map[Feature]Info),
		Warnings:      make(map[Warning]Info),
		FeatureMap:    make(map[string]Feature),
		WarningMap:    make(map[string]Warning),
		StackSize:     DefaultStackSize,
		MaxNativeArgs: DefaultMaxNativeArgs,
	}

	features := map[Feature]Info{
		FeatCComments:     {"c-comments", true, "Recognize C-style '//' line comments."},
		FeatBlockComments: {"block-comments", true, "Recognize '/* ... */' block comments."},
		FeatDoWhile:       {"do-while", true, "Allow `do stmt while (cond);` loops."},
		FeatBoolLiterals:  {"bool-literals", true, "Accept `true` and `false` as the integers 1 and 0."},
		FeatUnaryOps:      {"unary-ops", true, "Accept unary '-' and '!' (lowered to `0 - x` and `x == 0`)."},
		FeatGuards:        {"guards", true, "Fault on stack overflow/underflow, bad locals and division by zero."},
	}

	warnings := map[Warning]Info{
		WarnUninitialized: {"uninitialized", true, "Warn when a variable is read but never assigned."},
		WarnUnused:        {"unused", true, "Warn when a variable is assigned but never read."},
		WarnConstCond:     {"const-cond", false, "Warn when a loop or if condition is a constant."},
		WarnExtra:         {"extra", true, "Enable extra miscellaneous warnings."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// SetupFlagGroups registers -W<name>/-Wno-<name> and -F<name>/-Fno-<name>
// for every warning and feature. The returned entries are indexed by
// Warning and Feature respectively.
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) ([]cli.FlagGroupEntry, []cli.FlagGroupEntry) {
	warningFlags := make([]cli.FlagGroupEntry, WarnCount)
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		enabled, disabled := false, false
		warningFlags[i] = cli.FlagGroupEntry{
			Name:     info.Name,
			Prefix:   "W",
			Usage:    info.Description,
			Enabled:  &enabled,
			Disabled: &disabled,
		}
	}
	featureFlags := make([]cli.FlagGroupEntry, FeatCount)
	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		enabled, disabled := false, false
		featureFlags[i] = cli.FlagGroupEntry{
			Name:     info.Name,
			Prefix:   "F",
			Usage:    info.Description,
			Enabled:  &enabled,
			Disabled: &disabled,
		}
	}
	fs.AddFlagGroup("Warning Flags", "Enable or disable specific warnings", "warning flag", "Available Warnings:", warningFlags)
	fs.AddFlagGroup("Feature Flags", "Enable or disable specific language and VM features", "feature flag", "Available Features:", featureFlags)
	return warningFlags, featureFlags
}

// ApplyFlagGroups copies explicitly passed group flags into the config.
// Flags override settings loaded from a project file.
func (c *Config) ApplyFlagGroups(warningFlags, featureFlags []cli.FlagGroupEntry) {
	for i, entry := range warningFlags {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetWarning(Warning(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetWarning(Warning(i), false)
		}
	}
	for i, entry := range featureFlags {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetFeature(Feature(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetFeature(Feature(i), false)
		}
	}
}

func (c *Config) applyFlag(flag string) error {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
	default:
		name = trimmed
		isWarning = true
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return nil
	}

	if isWarning {
		w, ok := c.WarningMap[name]
		if !ok {
			return fmt.Errorf("unknown warning '%s'", name)
		}
		c.SetWarning(w, enable)
		return nil
	}
	f, ok := c.FeatureMap[name]
	if !ok {
		return fmt.Errorf("unknown feature '%s'", name)
	}
	c.SetFeature(f, enable)
	return nil
}

// ProcessFlags applies a whitespace separated list of -W/-F flags.
func (c *Config) ProcessFlags(flagStr string) error {
	for _, flag := range strings.Fields(flagStr) {
		if err := c.applyFlag(flag); err != nil {
			return err
		}
	}
	return nil
}

// File is the on-disk shape of tyro.toml.
type File struct {
	// Flags is a -W/-F flag string applied before the tables below.
	Flags    string          `toml:"flags"`
	Features map[string]bool `toml:"features"`
	Warnings map[string]bool `toml:"warnings"`
	VM       VMSection       `toml:"vm"`
	Listing  ListingSection  `toml:"listing"`
}

type VMSection struct {
	StackSize     int `toml:"stack-size"`
	MaxNativeArgs int `toml:"max-native-args"`
}

type ListingSection struct {
	Hex bool `toml:"hex"`
}

// LoadFile reads a tyro.toml file and applies it on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	cfg := NewConfig()
	if err := cfg.apply(&f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func (c *Config) apply(f *File) error {
	if err := c.ProcessFlags(f.Flags); err != nil {
		return err
	}
	for name, on := range f.Features {
		ft, ok := c.FeatureMap[name]
		if !ok {
			return fmt.Errorf("unknown feature '%s'", name)
		}
		c.SetFeature(ft, on)
	}
	for name, on := range f.Warnings {
		wt, ok := c.WarningMap[name]
		if !ok {
			return fmt.Errorf("unknown warning '%s'", name)
		}
		c.SetWarning(wt, on)
	}
	if f.VM.StackSize < 0 || f.VM.MaxNativeArgs < 0 {
		return fmt.Errorf("vm limits must not be negative")
	}
	if f.VM.StackSize > 0 {
		c.StackSize = f.VM.StackSize
	}
	if f.VM.MaxNativeArgs > 0 {
		c.MaxNativeArgs = f.VM.MaxNativeArgs
	}
	c.HexListing = f.Listing.Hex
	return nil
}

// FindAndLoad walks up from startDir looking for tyro.toml. When none is
// found it returns the default configuration.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return NewConfig(), nil
		}
		dir = parent
	}
}
