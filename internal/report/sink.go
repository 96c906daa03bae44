// Package report carries the line-oriented scan output. Components write
// through the Sink interface so the destination (console, file, test capture)
// is chosen by the caller.
package report

import (
	"fmt"
	"io"
	"sync"
)

// Sink accepts one line of report text at a time
type Sink interface {
	WriteLine(line string)
}

// Printf formats a line and writes it to s
func Printf(s Sink, format string, a ...interface{}) {
	s.WriteLine(fmt.Sprintf(format, a...))
}

// WriterSink writes lines to an io.Writer, one writer at a time
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a WriterSink over w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WriteLine writes line followed by a newline. Write errors are dropped:
// the report stream is best effort and must never abort a scan.
func (s *WriterSink) WriteLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
}

// Buffer collects lines in memory. It is used both for per-window report
// blocks and for capturing output in tests.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

// WriteLine appends line
func (b *Buffer) WriteLine(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

// Lines returns a copy of the collected lines
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// FlushTo writes all collected lines to s in order and empties the buffer
func (b *Buffer) FlushTo(s Sink) {
	b.mu.Lock()
	lines := b.lines
	b.lines = nil
	b.mu.Unlock()

	for _, line := range lines {
		s.WriteLine(line)
	}
}
