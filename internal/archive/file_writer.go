package archive

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"chronos-radar/internal/store"
)

// JSONLWriter appends one JSON object per entity to an io.Writer.
type JSONLWriter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	close func() error
}

// NewJSONLWriter writes to w. Close is a no-op.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w), close: func() error { return nil }}
}

// NewFileWriter creates or truncates path.
func NewFileWriter(path string) (*JSONLWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &JSONLWriter{enc: json.NewEncoder(f), close: f.Close}, nil
}

// WriteBatch encodes each entity on its own line.
func (w *JSONLWriter) WriteBatch(es []store.TrackedEntity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range es {
		if err := w.enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying file, if any.
func (w *JSONLWriter) Close() error {
	return w.close()
}
