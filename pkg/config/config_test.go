package config

import (
	"runtime"
	"testing"

	"github.com/xplshn/cgen/pkg/cli"
)

func TestApplyFlag(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.ApplyFlag("-Fno-gnu-stack"); err != nil {
		t.Fatal(err)
	}
	if cfg.IsFeatureEnabled(FeatGnuStack) {
		t.Errorf("gnu-stack still enabled after -Fno-gnu-stack")
	}
	if err := cfg.ApplyFlag("-Wno-all"); err != nil {
		t.Fatal(err)
	}
	if cfg.IsWarningEnabled(WarnUnreachableCode) || cfg.IsWarningEnabled(WarnExtra) {
		t.Errorf("-Wno-all left warnings enabled")
	}
	if err := cfg.ApplyFlag("-Fbogus"); err == nil {
		t.Errorf("expected an error for an unknown feature")
	}
}

func TestProcessFlagsOrder(t *testing.T) {
	cfg := NewConfig()
	flags := []string{"Wunreachable-code", "Wno-all"}
	errs := cfg.ProcessFlags(func(fn func(string)) {
		for _, f := range flags {
			fn(f)
		}
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !cfg.IsWarningEnabled(WarnUnreachableCode) {
		t.Errorf("specific warning should override -Wno-all")
	}
	if cfg.IsWarningEnabled(WarnExtra) {
		t.Errorf("-Wno-all should disable extra")
	}
}

func TestSetTarget(t *testing.T) {
	cfg := NewConfig()
	cfg.Quiet = true
	if err := cfg.SetTarget(runtime.GOOS, runtime.GOARCH, "amd64_sysv"); err != nil {
		t.Fatal(err)
	}
	if cfg.WordSize != 8 || cfg.StackAlign != 16 {
		t.Errorf("got word size %d, stack align %d", cfg.WordSize, cfg.StackAlign)
	}
	if err := cfg.SetTarget("linux", "arm64", "arm64"); err == nil {
		t.Errorf("expected arm64 to be rejected")
	}
}

func TestFlagGroupsFromCommandLine(t *testing.T) {
	cfg := NewConfig()
	fs := cli.NewFlagSet("cgen")
	cfg.SetupFlagGroups(fs)
	args := []string{"-Fno-nan-compare", "-Wunreachable-code", "-Wno-all", "-Wbogus", "unit.json"}
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	errs := cfg.ProcessFlags(fs.Visit)
	if len(errs) != 1 {
		t.Fatalf("want one error for -Wbogus, got %v", errs)
	}
	if cfg.IsFeatureEnabled(FeatNanCompare) || !cfg.IsFeatureEnabled(FeatGnuStack) {
		t.Error("feature switches not applied")
	}
	if !cfg.IsWarningEnabled(WarnUnreachableCode) || cfg.IsWarningEnabled(WarnExtra) {
		t.Error("warning switches not applied in order")
	}
	if got := fs.Args(); len(got) != 1 || got[0] != "unit.json" {
		t.Errorf("positional arguments %v", got)
	}
}
