package ansi

import "testing"

func TestStrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"sgr colors", "\x1b[31mred\x1b[0m plain", "red plain"},
		{"bold and reset", "\x1b[1;32mok\x1b[m", "ok"},
		{"cursor movement", "\x1b[2Aup\x1b[10;20H", "up"},
		{"erase line", "progress\x1b[K done", "progress done"},
		{"dec private mode", "\x1b[?25lhidden\x1b[?25h", "hidden"},
		{"osc title with bel", "\x1b]0;my title\x07text", "text"},
		{"osc with st terminator", "\x1b]8;;http://x\x1b\\link", "link"},
		{"charset selection", "\x1b(Bascii", "ascii"},
		{"keypad mode", "\x1b=x\x1b>y", "xy"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Strip(tt.input); got != tt.want {
				t.Fatalf("Strip(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
