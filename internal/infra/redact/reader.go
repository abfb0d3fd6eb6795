package redact

import (
	"bufio"
	"io"
	"strings"
)

const maxLineBytes = 1024 * 1024

// LineReader yields redacted lines from a stream as they arrive. Both '\n'
// and '\r' terminate a line so progress meters that rewrite a single terminal
// line are still observed incrementally.
type LineReader struct {
	scanner  *bufio.Scanner
	redactor Redactor
	line     string
}

func NewLineReader(r io.Reader, redactor Redactor) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanLines)
	return &LineReader{scanner: scanner, redactor: redactor}
}

// Next advances to the next non-empty line. It returns false at EOF or on a
// read error; Err reports the latter.
func (r *LineReader) Next() bool {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		r.line = String(r.redactor, line)
		return true
	}
	return false
}

func (r *LineReader) Line() string {
	return r.line
}

func (r *LineReader) Err() error {
	return r.scanner.Err()
}

// Each drains r and calls fn with every redacted line.
func Each(r io.Reader, redactor Redactor, fn func(line string)) error {
	lr := NewLineReader(r, redactor)
	for lr.Next() {
		fn(lr.Line())
	}
	return lr.Err()
}

func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
