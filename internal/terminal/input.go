package terminal

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// interpretEscapes expands backslash escapes in raw input so callers can send
// control characters to a session: \x03 (Ctrl+C), \x04 (Ctrl+D), \n, \r, \t,
// \e (ESC), \0 (NUL), \\ for a literal backslash. Unknown escapes pass the
// escaped character through.
func interpretEscapes(s string) (string, error) {
	var out strings.Builder
	out.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] != '\\' {
			out.WriteByte(s[i])
			i++
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("incomplete escape sequence at end of input")
		}

		switch s[i+1] {
		case 'x':
			if i+3 >= len(s) {
				return "", fmt.Errorf("incomplete hex escape at position %d", i)
			}
			val, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid hex escape \\x%s at position %d", s[i+2:i+4], i)
			}
			out.WriteByte(byte(val))
			i += 4
		case 'n':
			out.WriteByte('\n')
			i += 2
		case 'r':
			out.WriteByte('\r')
			i += 2
		case 't':
			out.WriteByte('\t')
			i += 2
		case 'e':
			out.WriteByte(0x1b)
			i += 2
		case '0':
			out.WriteByte(0x00)
			i += 2
		case '\\':
			out.WriteByte('\\')
			i += 2
		default:
			r, size := utf8.DecodeRuneInString(s[i+1:])
			out.WriteRune(r)
			i += 1 + size
		}
	}

	return out.String(), nil
}
