// cgtest compiles fixture translation units with cgen, runs the binaries and
// compares their behavior against a golden result file or, when the C source
// the unit came from sits next to it, against the host C compiler.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/go-cmp/cmp"
)

type Execution struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

type TestRun struct {
	Name   string    `json:"name"`
	Args   []string  `json:"args,omitempty"`
	Result Execution `json:"result"`
}

type TargetResult struct {
	BinaryPath string    `json:"binary_path,omitempty"`
	BinarySize uint64    `json:"binary_size,omitempty"`
	Compile    Execution `json:"compile"`
	Runs       []TestRun `json:"runs"`
}

type Status string

const (
	Pass  Status = "PASS"
	Fail  Status = "FAIL"
	Skip  Status = "SKIP"
	Error Status = "ERROR"
)

type FileTestResult struct {
	File      string        `json:"file"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Diff      string        `json:"diff,omitempty"`
	Reference *TargetResult `json:"reference,omitempty"`
	Target    *TargetResult `json:"target,omitempty"`
}

var (
	refCompiler    = flag.String("ref-compiler", "cc", "C compiler used for the reference build of <fixture>.c.")
	targetCompiler = flag.String("target-compiler", "./cgen", "Path to the cgen binary under test.")
	targetArgs     = flag.String("target-args", "-q", "Arguments for the compiler under test (space-separated).")
	generateGolden = flag.String("generate-golden", "", "Write the golden file for a given fixture and exit.")
	testFiles      = flag.String("test-files", "testdata/*.json", "Glob pattern(s) of fixtures (space-separated).")
	outputJSON     = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	timeout        = flag.Duration("timeout", 5*time.Second, "Timeout for each command execution.")
	jobs           = flag.Int("j", 4, "Number of parallel test jobs.")
	useCache       = flag.Bool("cached", false, "Prefer golden files over the reference compiler.")
	verbose        = flag.Bool("v", false, "Print per-run timings.")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

// testCases are the command lines every fixture binary is run with.
var testCases = map[string][]string{
	"no_args":     {},
	"string_arg":  {"test"},
	"numeric_arg": {"5"},
	"two_args":    {"7", "-3"},
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	tempDir, err := os.MkdirTemp("", "cgtest-*")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to create temp directory: %v\n", cRed, cNone, err)
	}
	defer os.RemoveAll(tempDir)
	onInterrupt(tempDir)

	if *generateGolden != "" {
		writeGolden(*generateGolden, tempDir)
		return
	}
	if !runSuite(tempDir) {
		os.Exit(1)
	}
}

func onInterrupt(tempDir string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		os.RemoveAll(tempDir)
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled. Cleaning up...\n", cYellow, cNone)
		os.Exit(1)
	}()
}

func goldenPath(fixture string) string {
	return filepath.Join(filepath.Dir(fixture), "."+filepath.Base(fixture)+".golden")
}

// sourcePath is the C file a fixture was produced from, if present.
func sourcePath(fixture string) string {
	return strings.TrimSuffix(fixture, filepath.Ext(fixture)) + ".c"
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func writeGolden(fixture, tempDir string) {
	hash, err := hashFile(fixture)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Could not hash %s: %v\n", cRed, cNone, fixture, err)
	}
	res, err := compileAndRun(cgenCommand(fixture), tempDir, hash)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Could not build %s: %v\n%s", cRed, cNone, fixture, err, res.Compile.Stderr)
	}
	res.BinaryPath = ""
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Fatalf("%s[ERROR]%s %v\n", cRed, cNone, err)
	}
	if err := os.WriteFile(goldenPath(fixture), data, 0o644); err != nil {
		log.Fatalf("%s[ERROR]%s %v\n", cRed, cNone, err)
	}
	log.Printf("%s[SUCCESS]%s Golden file created at %s\n", cGreen, cNone, goldenPath(fixture))
}

func cgenCommand(fixture string) func(out string) []string {
	return func(out string) []string {
		args := append([]string{*targetCompiler, "-o", out}, strings.Fields(*targetArgs)...)
		return append(args, fixture)
	}
}

func ccCommand(source string) func(out string) []string {
	return func(out string) []string {
		return []string{*refCompiler, "-w", "-o", out, source}
	}
}

func runSuite(tempDir string) bool {
	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No fixtures found matching the pattern(s).")
		return true
	}
	_, err = exec.LookPath(*refCompiler)
	haveRef := err == nil

	tasks := make(chan [2]string, len(files))
	results := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup
	for i := 0; i < max(*jobs, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				results <- testFixture(t[0], t[1], tempDir, haveRef)
			}
		}()
	}

	// identical fixtures are built once
	seen := make(map[string]string)
	for _, file := range files {
		hash, err := hashFile(file)
		if err != nil {
			results <- &FileTestResult{File: file, Status: Error, Message: fmt.Sprintf("Failed to read fixture: %v", err)}
			continue
		}
		if orig, ok := seen[hash]; ok {
			results <- &FileTestResult{File: file, Status: Skip, Message: "Content is identical to " + orig}
			continue
		}
		seen[hash] = file
		tasks <- [2]string{file, hash}
	}
	close(tasks)
	wg.Wait()
	close(results)

	var all []*FileTestResult
	for r := range results {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].File < all[j].File })

	printSummary(all)
	writeReport(all)
	for _, r := range all {
		if r.Status == Fail || r.Status == Error {
			return false
		}
	}
	return true
}

func testFixture(file, hash, tempDir string, haveRef bool) *FileTestResult {
	golden := goldenPath(file)
	_, err := os.Stat(golden)
	hasGolden := err == nil
	source := sourcePath(file)
	_, err = os.Stat(source)
	hasSource := err == nil

	switch {
	case hasGolden && (*useCache || !hasSource || !haveRef):
		return testWithGolden(file, golden, hash, tempDir)
	case hasSource && haveRef:
		return testWithReference(file, source, hash, tempDir)
	}
	return &FileTestResult{File: file, Status: Skip, Message: "No golden file and no C source to build a reference from"}
}

func testWithGolden(file, golden, hash, tempDir string) *FileTestResult {
	data, err := os.ReadFile(golden)
	if err != nil {
		return &FileTestResult{File: file, Status: Error, Message: err.Error()}
	}
	var want TargetResult
	if err := json.Unmarshal(data, &want); err != nil {
		return &FileTestResult{File: file, Status: Error, Message: fmt.Sprintf("Could not parse golden file %s: %v", golden, err)}
	}
	got, err := compileAndRun(cgenCommand(file), tempDir, hash)
	if err != nil {
		return &FileTestResult{File: file, Status: Fail, Message: "cgen failed, but the golden file expected success",
			Diff: got.Compile.Stderr, Reference: &want, Target: got}
	}
	return compareRuns(file, &want, got)
}

func testWithReference(file, source, hash, tempDir string) *FileTestResult {
	var ref, got *TargetResult
	var refErr, gotErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ref, refErr = compileAndRun(ccCommand(source), tempDir, "ref-"+hash)
	}()
	go func() {
		defer wg.Done()
		got, gotErr = compileAndRun(cgenCommand(file), tempDir, "target-"+hash)
	}()
	wg.Wait()

	switch {
	case refErr != nil && gotErr != nil:
		return &FileTestResult{File: file, Status: Pass, Message: "Both compilers rejected the program", Reference: ref, Target: got}
	case gotErr != nil:
		return &FileTestResult{File: file, Status: Fail, Message: "cgen failed, but the reference compiler succeeded",
			Diff: got.Compile.Stderr, Reference: ref, Target: got}
	case refErr != nil:
		return &FileTestResult{File: file, Status: Fail, Message: "cgen succeeded, but the reference compiler failed",
			Diff: ref.Compile.Stderr, Reference: ref, Target: got}
	}
	return compareRuns(file, ref, got)
}

// normalize hides the binary path a program may print as argv[0].
func normalize(s string, res *TargetResult) string {
	if res.BinaryPath == "" {
		return s
	}
	s = strings.ReplaceAll(s, res.BinaryPath, "__BINARY__")
	return strings.ReplaceAll(s, filepath.Base(res.BinaryPath), "__BINARY__")
}

func compareRuns(file string, ref, got *TargetResult) *FileTestResult {
	var diffs strings.Builder
	gotRuns := make(map[string]TestRun, len(got.Runs))
	for _, r := range got.Runs {
		gotRuns[r.Name] = r
	}
	for _, want := range ref.Runs {
		run, ok := gotRuns[want.Name]
		if !ok {
			fmt.Fprintf(&diffs, "Run '%s' missing in target results.\n", want.Name)
			continue
		}
		if want.Result.ExitCode != run.Result.ExitCode {
			fmt.Fprintf(&diffs, "Run '%s' exit code mismatch:\n  - Ref:    %d\n  - Target: %d\n", want.Name, want.Result.ExitCode, run.Result.ExitCode)
		}
		if d := cmp.Diff(normalize(want.Result.Stdout, ref), normalize(run.Result.Stdout, got)); d != "" {
			fmt.Fprintf(&diffs, "Run '%s' STDOUT mismatch:\n%s", want.Name, d)
		}
		if d := cmp.Diff(normalize(want.Result.Stderr, ref), normalize(run.Result.Stderr, got)); d != "" {
			fmt.Fprintf(&diffs, "Run '%s' STDERR mismatch:\n%s", want.Name, d)
		}
	}
	if diffs.Len() > 0 {
		return &FileTestResult{File: file, Status: Fail, Message: "Runtime output or exit code mismatch",
			Diff: diffs.String(), Reference: ref, Target: got}
	}
	return &FileTestResult{File: file, Status: Pass, Message: "All test cases passed", Reference: ref, Target: got}
}

func execute(ctx context.Context, argv []string) Execution {
	start := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	err := cmd.Run()

	res := Execution{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut, res.ExitCode = true, -1
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		res.ExitCode = -2
		res.Stderr += "\nExecution error: " + err.Error()
	}
	return res
}

// compileAndRun builds with command and runs the result once per test case.
func compileAndRun(command func(out string) []string, tempDir, name string) (*TargetResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	bin := filepath.Join(tempDir, name)
	compile := execute(ctx, command(bin))
	if compile.ExitCode != 0 || compile.TimedOut {
		return &TargetResult{Compile: compile}, fmt.Errorf("compilation failed with exit code %d", compile.ExitCode)
	}
	st, err := os.Stat(bin)
	if err != nil {
		return &TargetResult{Compile: compile}, fmt.Errorf("no binary was created at %s", bin)
	}

	names := make([]string, 0, len(testCases))
	for n := range testCases {
		names = append(names, n)
	}
	sort.Strings(names)

	res := &TargetResult{BinaryPath: bin, BinarySize: uint64(st.Size()), Compile: compile}
	for _, n := range names {
		args := testCases[n]
		runCtx, runCancel := context.WithTimeout(context.Background(), *timeout)
		r := execute(runCtx, append([]string{bin}, args...))
		runCancel()
		res.Runs = append(res.Runs, TestRun{Name: n, Args: args, Result: r})
		if r.TimedOut {
			break
		}
	}
	return res, nil
}

func printSummary(results []*FileTestResult) {
	counts := make(map[Status]int)
	var compileTime time.Duration
	var binaryBytes uint64
	for _, r := range results {
		counts[r.Status]++
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s%s%s...\n", cCyan, r.File, cNone)
		color := cGreen
		switch r.Status {
		case Fail, Error:
			color = cRed
		case Skip:
			color = cYellow
		}
		fmt.Printf("  [%s%s%s] %s\n", color, r.Status, cNone, r.Message)
		if r.Status == Fail {
			fmt.Println(formatDiff(r.Diff))
		}
		if r.Target == nil {
			continue
		}
		compileTime += r.Target.Compile.Duration
		binaryBytes += r.Target.BinarySize
		if *verbose {
			fmt.Printf("    compile: %s, binary: %s\n", r.Target.Compile.Duration, humanize.Bytes(r.Target.BinarySize))
			for _, run := range r.Target.Runs {
				fmt.Printf("    %-12s %s\n", run.Name, run.Result.Duration)
			}
		}
	}
	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %s Total\n",
		cBold, cNone, cGreen, counts[Pass], cNone, cRed, counts[Fail], cNone, cYellow, counts[Skip], cNone,
		cRed, counts[Error], cNone, humanize.Comma(int64(len(results))))
	if binaryBytes > 0 {
		fmt.Printf("cgen spent %s compiling and produced %s of binaries.\n", compileTime.Round(time.Millisecond), humanize.Bytes(binaryBytes))
	}
}

func formatDiff(diff string) string {
	if diff == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(diff, "\n") {
		switch t := strings.TrimSpace(line); {
		case strings.HasPrefix(t, "-"):
			sb.WriteString(cRed)
		case strings.HasPrefix(t, "+"):
			sb.WriteString(cGreen)
		}
		sb.WriteString("    " + line + cNone + "\n")
	}
	return sb.String()
}

func writeReport(results []*FileTestResult) {
	report := make(map[string]*FileTestResult, len(results))
	for _, r := range results {
		report[r.File] = r
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return
	}
	if err := os.WriteFile(*outputJSON, data, 0o644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, *outputJSON, err)
		return
	}
	fmt.Printf("Full test report saved to %s\n", *outputJSON)
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var all []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			abs, err := filepath.Abs(file)
			if err != nil || seen[abs] {
				continue
			}
			if info, err := os.Stat(abs); err == nil && info.Mode().IsRegular() {
				all = append(all, abs)
				seen[abs] = true
			}
		}
	}
	return all, nil
}
