// Package sink writes normalized records to output targets exactly once
// per identity.
package sink

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/anatolykoptev/go-glass/entity"
)

// Target stores rows of one kind. Writes are whole rows: a crash never
// leaves half a row behind.
type Target interface {
	Write(ctx context.Context, kind entity.Kind, row []string) error
	Close() error
}

// Dedup forwards each identity to its targets the first time it is seen.
// Repeat sightings cost no I/O.
type Dedup struct {
	mu      sync.Mutex
	targets []Target
	seen    map[entity.Kind]map[string]struct{}
	counts  map[entity.Kind]int
}

var _ entity.Index = (*Dedup)(nil)

// NewDedup returns a sink writing to targets. With no targets it only
// tracks identities.
func NewDedup(targets ...Target) *Dedup {
	return &Dedup{
		targets: targets,
		seen:    make(map[entity.Kind]map[string]struct{}),
		counts:  make(map[entity.Kind]int),
	}
}

// Emit writes rec unless its identity was already written. It reports
// whether rec was new. A record whose write failed is not marked seen.
func (d *Dedup) Emit(ctx context.Context, rec entity.Record) (bool, error) {
	kind, key := rec.Kind(), rec.Key()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[kind][key]; ok {
		return false, nil
	}

	row := rec.Row()
	for _, t := range d.targets {
		if err := t.Write(ctx, kind, row); err != nil {
			return false, fmt.Errorf("write %s %s: %w", kind, key, err)
		}
	}
	if d.seen[kind] == nil {
		d.seen[kind] = make(map[string]struct{})
	}
	d.seen[kind][key] = struct{}{}
	d.counts[kind]++
	return true, nil
}

// Seen reports whether the identity was written in this run.
func (d *Dedup) Seen(kind entity.Kind, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[kind][key]
	return ok
}

// Counts returns the number of rows written per kind.
func (d *Dedup) Counts() map[entity.Kind]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.counts)
}

// Close closes every target.
func (d *Dedup) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for _, t := range d.targets {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}
