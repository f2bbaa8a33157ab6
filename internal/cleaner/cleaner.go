// Package cleaner implements the §4.8 Cleaner: it re-reads a source file
// that the Accountant has fully ingested and deletes it only once every
// record in it is verified present in its expected target.
package cleaner

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
	"github.com/grafana/restructure/internal/logutil"
	"github.com/grafana/restructure/internal/metrics"
	"github.com/grafana/restructure/internal/pathfactory"
	"github.com/grafana/restructure/internal/worker"
)

// maxSuffixRotations bounds how many schema-disambiguation suffixes the
// extraction check will try before giving up with BAD_SCHEMA. The
// FileCacheStore's write loop has no such bound.
const maxSuffixRotations = 100

// Cleaner deletes fully-ingested, sufficiently old source files once
// every one of their records is confirmed present in the target tree.
type Cleaner struct {
	Source    backend.Driver
	Acct      *accountant.Accountant
	Paths     pathfactory.Factory
	TSStore   *TimestampFileCacheStore
	TimeField string

	// Age is the minimum file age (by last-modified time) before a fully
	// ingested file becomes a delete candidate at all.
	Age time.Duration
}

// Clean evaluates one source file and, if safe, deletes it. It returns
// true iff the file was deleted.
func (c *Cleaner) Clean(ctx context.Context, topic string, file worker.SourceFile) (bool, error) {
	if !c.Acct.Contains(file.Range) {
		metrics.CleanerRetentionsTotal.WithLabelValues(topic, "not_accounted").Inc()
		return false, nil
	}
	if time.Since(file.LastModified) < c.Age {
		metrics.CleanerRetentionsTotal.WithLabelValues(topic, "too_young").Inc()
		return false, nil
	}

	checkStart := time.Now()
	defer func() { metrics.CleanerRecordCheckDuration.Observe(time.Since(checkStart).Seconds()) }()

	stream, err := c.Source.NewInputStream(ctx, file.Path)
	if err != nil {
		return false, fmt.Errorf("cleaner: open %s: %w", file.Path, err)
	}

	reader, err := avro.NewReader(stream)
	if err != nil {
		return false, fmt.Errorf("cleaner: open avro container %s: %w", file.Path, err)
	}
	defer reader.Close()

	count := 0
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, fmt.Errorf("cleaner: decode record in %s: %w", file.Path, err)
		}
		count++

		result, err := c.TSStore.Check(ctx, topic, rec, c.TimeField)
		if err != nil {
			return false, fmt.Errorf("cleaner: check %s: %w", file.Path, err)
		}
		if result != Found {
			level.Info(logutil.Logger).Log("msg", "source file retained, record not yet extracted", "path", file.Path, "result", result.String())
			metrics.CleanerRetentionsTotal.WithLabelValues(topic, result.String()).Inc()
			return false, nil
		}
	}

	if count == 0 {
		level.Warn(logutil.Logger).Log("msg", "empty source file retained, not deleted", "path", file.Path)
		metrics.CleanerRetentionsTotal.WithLabelValues(topic, "empty").Inc()
		return false, nil
	}

	if err := c.Source.Delete(ctx, file.Path); err != nil {
		return false, fmt.Errorf("cleaner: delete %s: %w", file.Path, err)
	}

	level.Info(logutil.Logger).Log("msg", "deleted fully-extracted source file", "path", file.Path)
	metrics.CleanerDeletionsTotal.WithLabelValues(topic).Inc()
	return true, nil
}
