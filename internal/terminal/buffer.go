package terminal

import "strings"

// lineBuffer keeps the most recent maxLines complete lines of a session's
// output. Overflow evicts the oldest lines; line indices are absolute over
// the session's lifetime so read cursors survive eviction. Not safe for
// concurrent use; the owning session's lock guards it.
type lineBuffer struct {
	maxLines int
	lines    []string
	first    int // absolute index of lines[0]
	partial  string
}

func newLineBuffer(maxLines int) *lineBuffer {
	if maxLines <= 0 {
		maxLines = 1
	}
	return &lineBuffer{maxLines: maxLines}
}

// Write splits data into lines and appends them. A trailing fragment without
// a newline is held back until the next write or Flush.
func (b *lineBuffer) Write(data []byte) {
	text := b.partial + strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	parts := strings.Split(text, "\n")
	b.partial = parts[len(parts)-1]
	b.append(parts[:len(parts)-1])
}

// Flush promotes any held-back partial line into the buffer. Called when the
// process exits so the final unterminated line is not lost.
func (b *lineBuffer) Flush() {
	if b.partial == "" {
		return
	}
	b.append([]string{b.partial})
	b.partial = ""
}

func (b *lineBuffer) append(lines []string) {
	if len(lines) == 0 {
		return
	}
	b.lines = append(b.lines, lines...)
	if excess := len(b.lines) - b.maxLines; excess > 0 {
		b.lines = append([]string(nil), b.lines[excess:]...)
		b.first += excess
	}
}

// Total returns the absolute number of complete lines appended so far,
// including evicted ones.
func (b *lineBuffer) Total() int {
	return b.first + len(b.lines)
}

// Retained returns the number of lines currently held.
func (b *lineBuffer) Retained() int {
	return len(b.lines)
}

// Since returns the lines from the absolute cursor onward (clamped to the
// retained window) and the new cursor position.
func (b *lineBuffer) Since(cursor int) ([]string, int) {
	if cursor < b.first {
		cursor = b.first
	}
	offset := cursor - b.first
	if offset >= len(b.lines) {
		return nil, b.Total()
	}
	out := append([]string(nil), b.lines[offset:]...)
	return out, b.Total()
}

// Page returns a zero-based page of the retained window.
func (b *lineBuffer) Page(page, pageSize int) []string {
	if page < 0 || pageSize <= 0 {
		return nil
	}
	start := page * pageSize
	if start >= len(b.lines) {
		return nil
	}
	end := start + pageSize
	if end > len(b.lines) {
		end = len(b.lines)
	}
	return append([]string(nil), b.lines[start:end]...)
}
