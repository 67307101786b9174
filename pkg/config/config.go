package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/xplshn/cgen/pkg/cli"
	"modernc.org/libqbe"
)

type Feature int

const (
	FeatFileDirective Feature = iota
	FeatGnuStack
	FeatSkipXmmSave
	FeatNanCompare
	FeatCount
)

type Warning int

const (
	WarnUnreachableCode Warning = iota
	WarnExtra
	WarnPedantic
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning
	TargetArch string
	Target     string
	WordSize   int
	StackAlign int
	Quiet      bool

	// MaxWarnings stops reporting warnings after this many; zero is no limit.
	MaxWarnings int
}

func NewConfig() *Config {
	cfg := &Config{
		Features:   make(map[Feature]Info),
		Warnings:   make(map[Warning]Info),
		FeatureMap: make(map[string]Feature),
		WarningMap: make(map[string]Warning),
		WordSize:   8,
		StackAlign: 16,
	}

	features := map[Feature]Info{
		FeatFileDirective: {"file-directive", true, "Emit a `.file` directive naming the translation unit."},
		FeatGnuStack:      {"gnu-stack", true, "Mark the stack non-executable with a `.note.GNU-stack` section."},
		FeatSkipXmmSave:   {"skip-xmm-save", true, "Skip saving vector registers in variadic prologues when %al is zero."},
		FeatNanCompare:    {"nan-compare", true, "Treat unordered floating operands as unequal in comparisons."},
	}

	warnings := map[Warning]Info{
		WarnUnreachableCode: {"unreachable-code", true, "Warn about statements that follow a return or jump."},
		WarnExtra:           {"extra", true, "Warn when a small struct is returned through a hidden pointer instead of registers."},
		WarnPedantic:        {"pedantic", false, "Warn when main ends without a return statement."},
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

// SetTarget selects the target ABI, defaulting to the host's. Only amd64_sysv
// has a backend.
func (c *Config) SetTarget(goos, goarch, target string) error {
	if target == "" {
		c.Target = libqbe.DefaultTarget(goos, goarch)
		c.info("no target specified, defaulting to host target '%s'", c.Target)
	} else {
		c.Target = target
		c.info("using specified target '%s'", c.Target)
	}

	c.TargetArch = goarch

	switch c.Target {
	case "amd64_sysv":
		c.WordSize, c.StackAlign = 8, 16
	default:
		return fmt.Errorf("unsupported target '%s'. Supported: 'amd64_sysv'", c.Target)
	}
	return nil
}

func (c *Config) info(format string, args ...interface{}) {
	if c.Quiet {
		return
	}
	fmt.Fprintf(os.Stderr, "cgen: info: "+format+"\n", args...)
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

// ApplyFlag applies one -W/-F style flag. Unknown names are reported.
func (c *Config) ApplyFlag(flag string) error {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
	default:
		name = trimmed
		isWarning = true
	}
	if isNo {
		name = strings.TrimPrefix(name, "no-")
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			if i != WarnPedantic {
				c.SetWarning(i, enable)
			}
		}
		return nil
	}

	if isWarning {
		if w, ok := c.WarningMap[name]; ok {
			c.SetWarning(w, enable)
			return nil
		}
		return fmt.Errorf("unknown warning '%s'", name)
	}
	if f, ok := c.FeatureMap[name]; ok {
		c.SetFeature(f, enable)
		return nil
	}
	return fmt.Errorf("unknown feature '%s'", name)
}

// ProcessFlags applies -Wall/-Wno-all first so specific flags can override it.
func (c *Config) ProcessFlags(visitFlag func(fn func(name string))) []error {
	var errs []error
	apply := func(name string) {
		if err := c.ApplyFlag("-" + name); err != nil {
			errs = append(errs, err)
		}
	}
	visitFlag(func(name string) {
		if name == "Wall" || name == "Wno-all" || name == "pedantic" {
			apply(name)
		}
	})
	visitFlag(func(name string) {
		if name != "Wall" && name != "Wno-all" && name != "pedantic" {
			apply(name)
		}
	})
	return errs
}

// SetupFlagGroups registers -W<warning> and -F<feature> on fs. The switches
// are applied afterwards, in command line order, by ProcessFlags(fs.Visit).
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) {
	var wFlags, fFlags []string
	fs.Special(&wFlags, "W", "Enable or disable a warning (-Wall, -Wno-all)", "warning")
	fs.Special(&fFlags, "F", "Enable or disable a feature", "feature")

	var warnings, features []cli.FlagGroupEntry
	for w := Warning(0); w < WarnCount; w++ {
		info := c.Warnings[w]
		on, off := info.Enabled, false
		warnings = append(warnings, cli.FlagGroupEntry{Name: info.Name, Prefix: "W", Usage: info.Description, Enabled: &on, Disabled: &off})
	}
	for f := Feature(0); f < FeatCount; f++ {
		info := c.Features[f]
		on, off := info.Enabled, false
		features = append(features, cli.FlagGroupEntry{Name: info.Name, Prefix: "F", Usage: info.Description, Enabled: &on, Disabled: &off})
	}
	fs.AddFlagGroup("Warning Flags", "", "warning", "Available Warnings:", warnings)
	fs.AddFlagGroup("Feature Flags", "", "feature", "Available Features:", features)
}
