package build

import (
	"bytes"
	"io"
	"sync"
)

// tailWriter keeps the last n complete lines written to it and forwards
// everything to an optional downstream writer.
type tailWriter struct {
	mu      sync.Mutex
	n       int
	lines   []string
	partial []byte
	out     io.Writer
}

func newTailWriter(n int, out io.Writer) *tailWriter {
	if n <= 0 {
		n = 40
	}
	return &tailWriter{n: n, out: out}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.out != nil {
		// downstream failures must not fail the build
		_, _ = w.out.Write(p)
	}

	data := append(w.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		w.push(string(bytes.TrimRight(data[:i], "\r")))
		data = data[i+1:]
	}
	w.partial = append(w.partial[:0], data...)
	return len(p), nil
}

func (w *tailWriter) push(line string) {
	w.lines = append(w.lines, line)
	if len(w.lines) > w.n {
		w.lines = w.lines[len(w.lines)-w.n:]
	}
}

// Lines returns the retained tail, including an unterminated last line.
func (w *tailWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := append([]string(nil), w.lines...)
	if len(w.partial) > 0 {
		out = append(out, string(w.partial))
		if len(out) > w.n {
			out = out[len(out)-w.n:]
		}
	}
	return out
}

// String returns everything retained joined by newlines.
func (w *tailWriter) String() string {
	var b bytes.Buffer
	for _, l := range w.Lines() {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}
