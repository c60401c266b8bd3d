// Package sse reads Server-Sent-Events-framed HTTP bodies as a sequence of
// event payload strings.
package sse

import (
	"bufio"
	"io"
	"strings"
)

const maxLineSize = 1024 * 1024

// Scanner yields one payload per event: the concatenation of the event's
// "data:" lines, joined with newlines. Comments and non-data fields are
// skipped. The scanner terminates cleanly at end-of-stream; a reader error
// (including an aborted HTTP body) is reported by Err.
type Scanner struct {
	sc  *bufio.Scanner
	err error
}

// NewScanner wraps an event stream body.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Scanner{sc: sc}
}

// Next returns the next event payload. ok is false once the stream ends.
func (s *Scanner) Next() (payload string, ok bool) {
	var data []string
	for s.sc.Scan() {
		line := strings.TrimSuffix(s.sc.Text(), "\r")

		// Blank line terminates the current event.
		if line == "" {
			if len(data) > 0 {
				return strings.Join(data, "\n"), true
			}
			continue
		}

		// Comment line.
		if strings.HasPrefix(line, ":") {
			continue
		}

		if v, found := strings.CutPrefix(line, "data:"); found {
			data = append(data, strings.TrimPrefix(v, " "))
		}
		// event:, id: and retry: fields carry nothing the providers key on;
		// every payload here is self-describing JSON.
	}

	s.err = s.sc.Err()
	if len(data) > 0 {
		return strings.Join(data, "\n"), true
	}
	return "", false
}

// Err returns the first reader error encountered, if any.
func (s *Scanner) Err() error { return s.err }
