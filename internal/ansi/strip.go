// Package ansi removes terminal escape sequences from pty output so tool
// responses can carry plain text.
package ansi

import "regexp"

var escapePatterns = []*regexp.Regexp{
	regexp.MustCompile("\x1b\\[[0-9;?]*[A-Za-z@`]"),         // CSI (colors, cursor movement, DEC modes)
	regexp.MustCompile("\x1b\\][^\x07\x1b]*(?:\x07|\x1b\\\\)"), // OSC (titles, hyperlinks)
	regexp.MustCompile("\x1b[()#][A-B0-2]"),                 // character set selection
	regexp.MustCompile("\x1b[A-Za-z=>]"),                    // bare ESC+char (RI, keypad modes)
}

// Strip removes ANSI escape sequences from s. Carriage returns are left to
// the line buffer, which already normalizes them.
func Strip(s string) string {
	for _, re := range escapePatterns {
		s = re.ReplaceAllString(s, "")
	}
	return s
}
