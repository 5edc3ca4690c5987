package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/anatolykoptev/go-glass/entity"
)

// FileTarget appends rows to one CSV file per kind, named
// "<kind>_<run>". Each row goes out in a single append.
type FileTarget struct {
	dir string
	run string

	mu    sync.Mutex
	files map[entity.Kind]*csvFile
	order []string
}

type csvFile struct {
	f     *os.File
	empty bool
}

// NewFileTarget writes into dir. run is the shared file suffix, usually
// "<mode>_<target>_<unix start>.csv".
func NewFileTarget(dir, run string) (*FileTarget, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileTarget{dir: dir, run: run, files: make(map[entity.Kind]*csvFile)}, nil
}

// Path returns the file that receives kind.
func (t *FileTarget) Path(kind entity.Kind) string {
	return filepath.Join(t.dir, string(kind)+"_"+t.run)
}

// Files lists the files written so far, in creation order.
func (t *FileTarget) Files() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.order...)
}

// Write appends row, preceded by the header when the file is empty.
func (t *FileTarget) Write(_ context.Context, kind entity.Kind, row []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cf, err := t.open(kind)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if cf.empty {
		if err := w.Write(entity.Header(kind)); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if _, err := cf.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append %s: %w", cf.f.Name(), err)
	}
	cf.empty = false
	return nil
}

func (t *FileTarget) open(kind entity.Kind) (*csvFile, error) {
	if cf, ok := t.files[kind]; ok {
		return cf, nil
	}
	path := t.Path(kind)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o660)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	cf := &csvFile{f: f, empty: fi.Size() == 0}
	t.files[kind] = cf
	if !slices.Contains(t.order, path) {
		t.order = append(t.order, path)
	}
	return cf, nil
}

// Close closes all open files.
func (t *FileTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for _, cf := range t.files {
		errs = append(errs, cf.f.Close())
	}
	t.files = make(map[entity.Kind]*csvFile)
	return errors.Join(errs...)
}
