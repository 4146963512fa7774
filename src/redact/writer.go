package redact

import (
	"bytes"
	"io"
	"sync"
)

// Writer scrubs a log stream line by line before passing it on. Partial
// lines are held until the newline arrives or Close is called.
type Writer struct {
	r   *Redactor
	w   io.Writer
	mu  sync.Mutex
	buf []byte
}

// NewWriter wraps w. A nil Redactor passes lines through unchanged.
func NewWriter(r *Redactor, w io.Writer) *Writer {
	return &Writer{r: r, w: w}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := w.r.String(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
		if _, err := io.WriteString(w.w, line+"\n"); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line. It does not close the wrapped writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return nil
	}
	line := w.r.String(string(w.buf))
	w.buf = nil
	_, err := io.WriteString(w.w, line)
	return err
}
