package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goforj/godump"
	"github.com/xplshn/cgen/pkg/cli"
	"github.com/xplshn/cgen/pkg/codegen"
	"github.com/xplshn/cgen/pkg/config"
	"github.com/xplshn/cgen/pkg/token"
	"github.com/xplshn/cgen/pkg/tujson"
	"github.com/xplshn/cgen/pkg/util"
	"github.com/xyproto/env/v2"
)

func main() {
	app := cli.NewApp("cgen")
	app.Synopsis = "[options] <unit.json>"
	app.Description = "Generates x86-64 System V assembly from a typed C translation unit and links it with the host C compiler."
	app.Repository = "<https://github.com/xplshn/cgen>"

	var (
		outFile     string
		target      string
		ccPath      string
		linkerArgs  []string
		libs        []string
		asmOnly     bool
		keepAsm     bool
		dumpTU      bool
		quiet       bool
		maxWarnings int
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "a.out", "Place the output into <file>.", "file")
	fs.String(&target, "target", "t", env.Str("CGEN_TARGET"), "Set the target ABI (defaults to the host's).", "target")
	fs.String(&ccPath, "cc", "", env.Str("CC", "cc"), "C compiler used to assemble and link.", "path")
	fs.List(&linkerArgs, "linker-arg", "L", []string{}, "Pass an argument to the linker.", "arg")
	fs.Special(&libs, "l", "Link with a library (e.g., -lm)", "lib")
	fs.Bool(&asmOnly, "asm", "S", false, "Stop after generating assembly.")
	fs.Bool(&keepAsm, "keep-asm", "", env.Bool("CGEN_KEEP_ASM"), "Keep the generated assembly next to the output.")
	fs.Bool(&dumpTU, "dump-tu", "d", false, "Dump the decoded translation unit and exit.")
	fs.Bool(&quiet, "quiet", "q", false, "Suppress progress messages.")
	fs.Int(&maxWarnings, "max-warnings", "", 0, "Stop reporting warnings after <n> of them (0 means no limit).", "n")

	cfg := config.NewConfig()
	cfg.SetupFlagGroups(fs)

	app.Action = func(inputs []string) error {
		cfg.Quiet = quiet
		cfg.MaxWarnings = maxWarnings
		for _, err := range cfg.ProcessFlags(fs.Visit) {
			util.Fatal("%v", err)
		}
		if len(inputs) != 1 {
			util.Fatal("expected exactly one translation unit, got %d", len(inputs))
		}
		if err := cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target); err != nil {
			util.Fatal("%v", err)
		}

		input := inputs[0]
		f, err := os.Open(input)
		if err != nil {
			util.Fatal("could not read '%s': %v", input, err)
		}
		unit, err := tujson.Read(f)
		f.Close()
		if err != nil {
			util.Fatal("%s: %v", input, err)
		}
		util.SetSourceFiles(readSources(unit.Sources))

		tu, err := unit.Resolve()
		if err != nil {
			util.Fatal("%s: %v", input, err)
		}
		if dumpTU {
			godump.Dump(tu)
			return nil
		}

		backend, err := codegen.NewBackend(cfg.Target, nil)
		if err != nil {
			util.Fatal("%v", err)
		}
		util.Info(cfg, "generating code for '%s' (%d declarations)", tu.File, len(tu.Decls))
		asm, err := backend.Generate(tu, cfg)
		if err != nil {
			var cgErr *codegen.Error
			if errors.As(err, &cgErr) {
				util.Error(cgErr.Tok, "%s: %v", cgErr.Msg, cgErr.Kind)
			}
			util.Fatal("%v", err)
		}
		util.Info(cfg, "generated %s of assembly", humanize.Bytes(uint64(asm.Len())))

		if asmOnly {
			dst := outFile
			if dst == "a.out" {
				dst = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + ".s"
			}
			if err := os.WriteFile(dst, asm.Bytes(), 0o644); err != nil {
				util.Fatal("%v", err)
			}
			return nil
		}

		var extra []string
		for _, lib := range libs {
			extra = append(extra, "-l"+lib)
		}
		extra = append(extra, linkerArgs...)
		if err := assembleAndLink(ccPath, outFile, asm.String(), keepAsm, extra); err != nil {
			util.Error(token.Token{FileIndex: -1}, "assembler/linker failed: %v", err)
		}
		if st, err := os.Stat(outFile); err == nil {
			util.Info(cfg, "wrote '%s' (%s)", outFile, humanize.Bytes(uint64(st.Size())))
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// readSources loads the C sources named by the unit for diagnostics. Missing
// files only cost the source line under an error.
func readSources(paths []string) []util.SourceFileRecord {
	records := make([]util.SourceFileRecord, 0, len(paths))
	for _, path := range paths {
		content, _ := os.ReadFile(path)
		records = append(records, util.SourceFileRecord{Name: path, Content: []rune(string(content))})
	}
	return records
}

func assembleAndLink(cc, outFile, asm string, keep bool, linkerArgs []string) error {
	var asmPath string
	if keep {
		asmPath = outFile + ".s"
		if err := os.WriteFile(asmPath, []byte(asm), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", asmPath, err)
		}
	} else {
		tmp, err := os.CreateTemp("", "cgen-*.s")
		if err != nil {
			return fmt.Errorf("failed to create temp file for assembly: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.WriteString(asm); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write assembly: %w", err)
		}
		tmp.Close()
		asmPath = tmp.Name()
	}

	args := append([]string{"-no-pie", "-o", outFile, asmPath}, linkerArgs...)
	if output, err := exec.Command(cc, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w\nOutput:\n%s", cc, err, string(output))
	}
	return nil
}
