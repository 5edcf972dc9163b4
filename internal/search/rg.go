package search

import (
	"strconv"
	"strings"
	"time"
)

// Type selects what a search session matches against.
type Type string

const (
	// TypeContent greps file contents for the pattern.
	TypeContent Type = "content"
	// TypeFiles matches file names against the pattern.
	TypeFiles Type = "files"
)

// Options configures one search session. Zero MaxResults/Timeout pick up the
// configured defaults.
type Options struct {
	RootPath   string
	Pattern    string
	Type       Type
	MaxResults int
	Timeout    time.Duration
	IgnoreCase bool
	Literal    bool
}

// Result is one parsed match from the search utility.
type Result struct {
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
	Text string `json:"text,omitempty"`
}

// rgArgs builds the ripgrep invocation for the session. Content searches use
// line-oriented path:line:text records; filename searches list files and
// filter by glob.
func rgArgs(opts Options) []string {
	if opts.Type == TypeFiles {
		return []string{
			"--files",
			"--color", "never",
			"--glob", fileGlob(opts.Pattern),
			opts.RootPath,
		}
	}

	args := []string{
		"--line-number",
		"--no-heading",
		"--color", "never",
	}
	if opts.IgnoreCase {
		args = append(args, "--ignore-case")
	}
	if opts.Literal {
		args = append(args, "--fixed-strings")
	}
	return append(args, "--", opts.Pattern, opts.RootPath)
}

// fileGlob wraps a plain pattern in wildcards so "session" matches
// "session_test.go". Patterns that already contain glob metacharacters pass
// through untouched.
func fileGlob(pattern string) string {
	if strings.ContainsAny(pattern, "*?[") {
		return pattern
	}
	return "*" + pattern + "*"
}

// parseLine turns one line of rg output into a Result. Content records are
// path:line:text; filename records are a bare path.
func parseLine(line string, searchType Type) (Result, bool) {
	if line == "" {
		return Result{}, false
	}
	if searchType == TypeFiles {
		return Result{Path: line}, true
	}

	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 3 {
		return Result{}, false
	}
	lineNo, err := strconv.Atoi(parts[1])
	if err != nil {
		return Result{}, false
	}
	return Result{Path: parts[0], Line: lineNo, Text: parts[2]}, true
}
