package util

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/xplshn/cgen/pkg/config"
	"github.com/xplshn/cgen/pkg/token"
)

// SourceFileRecord tracks the name and content of a single source file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

var (
	sourceFiles []SourceFileRecord
	stderr      io.Writer = os.Stderr
	colored               = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	exit                  = os.Exit
	warnings    int
)

// SetSourceFiles stores the source code for all input files for rich error messages
func SetSourceFiles(files []SourceFileRecord) {
	sourceFiles = files
}

func color(code, s string) string {
	if !colored {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// findFileAndLine converts a token to a file-specific location
func findFileAndLine(tok token.Token) (filename string, line, col int) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(sourceFiles) {
		return "unknown", tok.Line, tok.Column
	}
	return sourceFiles[tok.FileIndex].Name, tok.Line, tok.Column
}

// printErrorLine prints the source line and a caret indicating the error position
func printErrorLine(stream io.Writer, tok token.Token) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(sourceFiles) || tok.Line == 0 || tok.Column < 1 {
		return
	}

	content := sourceFiles[tok.FileIndex].Content
	lineNum := tok.Line
	lineStart := 0
	for i, r := range content {
		if lineNum <= 1 {
			break
		}
		if r == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}

	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' {
			lineEnd = i
			break
		}
	}

	fmt.Fprintf(stream, "  %s\n", string(content[lineStart:lineEnd]))

	caret := "^"
	if tok.Len > 1 {
		caret += strings.Repeat("~", tok.Len-1)
	}
	fmt.Fprintf(stream, "  %s%s\n", strings.Repeat(" ", tok.Column-1), color("32", caret))
}

// Error prints a formatted error message and exits the program
func Error(tok token.Token, format string, args ...interface{}) {
	filename, line, col := findFileAndLine(tok)
	fmt.Fprintf(stderr, "%s:%d:%d: %s ", filename, line, col, color("31", "error:"))
	fmt.Fprintf(stderr, format, args...)
	fmt.Fprintln(stderr)
	printErrorLine(stderr, tok)
	exit(1)
}

// Fatal reports an error that has no source position and exits.
func Fatal(format string, args ...interface{}) {
	fmt.Fprintf(stderr, "cgen: %s ", color("31", "error:"))
	fmt.Fprintf(stderr, format, args...)
	fmt.Fprintln(stderr)
	exit(1)
}

// Warn prints a formatted warning message if the corresponding warning is enabled
func Warn(cfg *config.Config, wt config.Warning, tok token.Token, format string, args ...interface{}) {
	if !cfg.IsWarningEnabled(wt) {
		return
	}
	warnings++
	if cfg.MaxWarnings > 0 && warnings > cfg.MaxWarnings {
		if warnings == cfg.MaxWarnings+1 {
			fmt.Fprintf(stderr, "cgen: %s further warnings suppressed (--max-warnings=%d)\n", color("33", "note:"), cfg.MaxWarnings)
		}
		return
	}
	filename, line, col := findFileAndLine(tok)
	fmt.Fprintf(stderr, "%s:%d:%d: %s ", filename, line, col, color("33", "warning:"))
	fmt.Fprintf(stderr, format, args...)
	fmt.Fprintf(stderr, " [-W%s]\n", cfg.Warnings[wt].Name)
	printErrorLine(stderr, tok)
}

// WarningCount returns how many enabled warnings have been raised, including
// suppressed ones.
func WarningCount() int { return warnings }

// Info prints a progress line unless cfg is quiet.
func Info(cfg *config.Config, format string, args ...interface{}) {
	if cfg != nil && cfg.Quiet {
		return
	}
	fmt.Fprintf(stderr, "cgen: info: "+format+"\n", args...)
}
