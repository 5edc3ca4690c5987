package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	glass "github.com/anatolykoptev/go-glass"
)

// JSONLWriter appends standardized raw records, one JSON object per line.
type JSONLWriter struct {
	mu sync.Mutex
	f  *os.File
}

// NewJSONLWriter opens path for appending.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o660)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &JSONLWriter{f: f}, nil
}

// Path returns the file being written.
func (w *JSONLWriter) Path() string { return w.f.Name() }

// Write appends rec as one line.
func (w *JSONLWriter) Write(rec glass.RawRecord) error {
	body, err := rec.Standardize()
	if err != nil {
		return err
	}
	line, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("append %s: %w", w.f.Name(), err)
	}
	return nil
}

// Close closes the file.
func (w *JSONLWriter) Close() error {
	return w.f.Close()
}
