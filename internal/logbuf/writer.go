package logbuf

import (
	"bytes"
	"sync"
)

// MaxLineBytes bounds a single captured line. Longer output without a
// newline is split into chunks of this size.
const MaxLineBytes = 64 * 1024

// Writer is an io.Writer that splits written bytes into lines and appends
// each complete line to a Store. A trailing partial line is held until the
// next newline or Close.
type Writer struct {
	store    *Store
	workerID string
	stream   string

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewWriter returns a Writer appending to workerID's buffer on stream.
func (s *Store) NewWriter(workerID, stream string) *Writer {
	return &Writer{store: s, workerID: workerID, stream: stream}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if len(data) >= MaxLineBytes {
				w.emit(string(data[:MaxLineBytes]))
				w.buf.Next(MaxLineBytes)
				continue
			}
			break
		}
		line := data[:i]
		if len(line) > MaxLineBytes {
			line = line[:MaxLineBytes]
			w.emit(string(line))
			w.buf.Next(MaxLineBytes)
			continue
		}
		w.emit(string(bytes.TrimSuffix(line, []byte("\r"))))
		w.buf.Next(i + 1)
	}
	return len(p), nil
}

// Close flushes any buffered partial line.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

// emit must be called with w.mu held.
func (w *Writer) emit(text string) {
	w.store.Append(w.workerID, w.stream, text)
}
