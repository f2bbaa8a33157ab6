// Package worker implements the §4.6 RestructureWorker: for one source
// file, decode every record and route it, with its own offset, through a
// FileCacheStore. Each record's offset is committed to the Accountant by
// the FileCache entry that ends up publishing it, not by this package —
// see filecache.Entry.Close.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-kit/log/level"

	"github.com/grafana/restructure/internal/accountant"
	"github.com/grafana/restructure/internal/avro"
	"github.com/grafana/restructure/internal/backend"
	"github.com/grafana/restructure/internal/filecache"
	"github.com/grafana/restructure/internal/logutil"
	"github.com/grafana/restructure/internal/offsetrange"
)

// SourceFile is one landing-zone file discovered by the coordinator.
type SourceFile struct {
	Path         string
	Range        offsetrange.Range
	LastModified time.Time
	Size         int64
}

// Worker processes source files for one topic against a shared
// FileCacheStore and Accountant. A Worker is not safe for concurrent use;
// the coordinator gives each pool slot its own Worker and Store (the
// Accountant's internal actor is itself concurrency-safe, so many Workers
// may share one Accountant instance).
type Worker struct {
	Source backend.Driver
	Store  *filecache.Store
	Acct   *accountant.Accountant

	// MinimumFileAge skips files modified more recently than this, to
	// avoid racing an in-progress sink writer.
	MinimumFileAge time.Duration
}

// ProcessFile decodes file's Avro records and routes each through the
// Store along with its own single-offset range, so the FileCache entry
// that accepts it commits that offset to the Accountant itself, at
// publish time, rather than this method committing the whole file's range
// up front. A file already covered by the Accountant's offsets, or
// younger than MinimumFileAge, is skipped without error. An empty file is
// skipped with a warning.
func (w *Worker) ProcessFile(ctx context.Context, topic string, file SourceFile) error {
	if w.Acct.Contains(file.Range) {
		return nil
	}
	if time.Since(file.LastModified) < w.MinimumFileAge {
		level.Debug(logutil.Logger).Log("msg", "skipping recently modified file", "path", file.Path)
		return nil
	}

	stream, err := w.Source.NewInputStream(ctx, file.Path)
	if err != nil {
		return fmt.Errorf("worker: open %s: %w", file.Path, err)
	}

	reader, err := avro.NewReader(stream)
	if err != nil {
		return fmt.Errorf("worker: open avro container %s: %w", file.Path, err)
	}
	defer reader.Close()

	offset := file.Range.From
	count := 0
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("worker: decode record in %s at offset %d: %w", file.Path, offset, err)
		}

		txn := offsetrange.Range{TopicPartition: file.Range.TopicPartition, From: offset, To: offset}
		if err := w.Store.Write(ctx, topic, rec, txn); err != nil {
			return fmt.Errorf("worker: route record in %s at offset %d: %w", file.Path, offset, err)
		}

		offset++
		count++
	}

	if count == 0 {
		level.Warn(logutil.Logger).Log("msg", "source file has no records, skipping", "path", file.Path)
		return nil
	}

	if err := w.Store.Flush(); err != nil {
		return fmt.Errorf("worker: flush store after %s: %w", file.Path, err)
	}

	return nil
}
