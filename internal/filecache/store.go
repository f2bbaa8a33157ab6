package filecache

import (
	"context"
	"fmt"
	"sort"

	"github.com/grafana/restructure/internal/accountant"
	"github.com/grafana/restructure/internal/backend"
	"github.com/grafana/restructure/internal/compress"
	"github.com/grafana/restructure/internal/format"
	"github.com/grafana/restructure/internal/offsetrange"
	"github.com/grafana/restructure/internal/pathfactory"
	"github.com/grafana/restructure/internal/record"
)

// Store is the bounded, single-worker FileCacheStore (§4.5): at most
// Capacity entries open at once, evicted least-recently-used first, ties
// on lastUse broken by path.
//
// A Store is not safe for concurrent use; each worker owns one.
type Store struct {
	Capacity int

	tmpDir  string
	driver  backend.Driver
	codec   compress.Codec
	factory format.Factory
	paths   pathfactory.Factory
	acct    *accountant.Accountant

	deduplicate    bool
	distinctFields []string
	ignoreFields   []string

	entries map[string]*Entry
}

// New returns an empty Store bounded to capacity entries.
func New(capacity int, tmpDir string, driver backend.Driver, codec compress.Codec, factory format.Factory, paths pathfactory.Factory, acct *accountant.Accountant, deduplicate bool, distinctFields, ignoreFields []string) *Store {
	return &Store{
		Capacity:       capacity,
		tmpDir:         tmpDir,
		driver:         driver,
		codec:          codec,
		factory:        factory,
		paths:          paths,
		acct:           acct,
		deduplicate:    deduplicate,
		distinctFields: distinctFields,
		ignoreFields:   ignoreFields,
		entries:        make(map[string]*Entry),
	}
}

// Write routes rec to the entry for its derived path, opening or rotating
// suffixes as needed, per §4.5's write algorithm:
//  1. suffix starts at 0.
//  2. compute the path at the current suffix.
//  3. if an entry already exists there, try it; BAD_SCHEMA bumps the
//     suffix and retries.
//  4. otherwise make room (evicting LRU entries) and open a fresh entry,
//     retrying with the next suffix on BAD_SCHEMA.
//
// txn is rec's own single-offset range in its source topic/partition; it
// is appended to whichever entry ultimately accepts rec, so that entry's
// Ledger commits exactly the offsets it actually published.
func (s *Store) Write(ctx context.Context, topic string, rec record.Record, txn offsetrange.Range) error {
	for suffix := 0; ; suffix++ {
		org, err := s.paths.Organize(topic, rec, suffix)
		if err != nil {
			return fmt.Errorf("filecache: organize record: %w", err)
		}
		binKey := accountant.BinKey{Topic: topic, Category: org.Category, TimeBucket: org.TimeBucket}

		if entry, ok := s.entries[org.Path]; ok {
			ok, err := entry.WriteRecord(rec, binKey, txn)
			if err != nil {
				return fmt.Errorf("filecache: write to %s: %w", org.Path, err)
			}
			if ok {
				return nil
			}
			continue // BAD_SCHEMA, try next suffix
		}

		if err := s.ensureCapacity(ctx); err != nil {
			return err
		}

		entry, err := Open(ctx, s.tmpDir, s.driver, s.codec, s.factory, org.Path, rec, s.deduplicate, s.distinctFields, s.ignoreFields)
		if err != nil {
			if err == format.ErrSchemaMismatch {
				continue
			}
			return fmt.Errorf("filecache: open %s: %w", org.Path, err)
		}

		ok, err := entry.WriteRecord(rec, binKey, txn)
		if err != nil {
			entry.MarkError()
			_ = entry.Close(ctx, s.acct)
			return fmt.Errorf("filecache: write to new entry %s: %w", org.Path, err)
		}
		if !ok {
			// The very first record didn't fit its own seeded schema: this
			// can only happen if the existing target's header disagreed
			// with exampleRecord in a way ConverterFor didn't already
			// catch. Discard and rotate.
			entry.MarkError()
			_ = entry.Close(ctx, s.acct)
			continue
		}

		s.entries[org.Path] = entry
		return nil
	}
}

// ensureCapacity evicts least-recently-used entries until there is room
// for one more, per the Store's bound.
func (s *Store) ensureCapacity(ctx context.Context) error {
	for len(s.entries) >= s.Capacity {
		victim := s.lru()
		if victim == "" {
			return nil
		}
		entry := s.entries[victim]
		delete(s.entries, victim)
		if err := entry.Close(ctx, s.acct); err != nil {
			return fmt.Errorf("filecache: evict %s: %w", victim, err)
		}
	}
	return nil
}

// lru returns the path of the least-recently-used entry, ties broken
// lexicographically by path.
func (s *Store) lru() string {
	var paths []string
	for p := range s.entries {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		ei, ej := s.entries[paths[i]], s.entries[paths[j]]
		if ei.LastUse.Equal(ej.LastUse) {
			return paths[i] < paths[j]
		}
		return ei.LastUse.Before(ej.LastUse)
	})
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

// Flush flushes every open entry without closing it.
func (s *Store) Flush() error {
	for path, entry := range s.entries {
		if err := entry.Flush(); err != nil {
			return fmt.Errorf("filecache: flush %s: %w", path, err)
		}
	}
	return nil
}

// Close closes and publishes every open entry, then empties the store.
func (s *Store) Close(ctx context.Context) error {
	for path, entry := range s.entries {
		if err := entry.Close(ctx, s.acct); err != nil {
			delete(s.entries, path)
			return fmt.Errorf("filecache: close %s: %w", path, err)
		}
		delete(s.entries, path)
	}
	return nil
}

// Len reports the number of currently open entries, for tests and
// metrics.
func (s *Store) Len() int {
	return len(s.entries)
}
