package cleaner

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/grafana/restructure/internal/backend"
	"github.com/grafana/restructure/internal/compress"
	"github.com/grafana/restructure/internal/format"
	"github.com/grafana/restructure/internal/pathfactory"
	"github.com/grafana/restructure/internal/record"
)

// ExtractionResult is the outcome of checking one record against its
// expected target.
type ExtractionResult int

const (
	// Found means the target exists and the record's timestamp was
	// observed in it.
	Found ExtractionResult = iota
	// NotFound means the target exists, matches the record's schema, but
	// the record's timestamp was not observed in it.
	NotFound
	// FileNotFound means no target exists at the derived path at all.
	FileNotFound
	// BadSchema means the target at this suffix belongs to a
	// differently-shaped record group; the caller should retry at the
	// next suffix.
	BadSchema
)

func (r ExtractionResult) String() string {
	switch r {
	case Found:
		return "FOUND"
	case NotFound:
		return "NOT_FOUND"
	case FileNotFound:
		return "FILE_NOT_FOUND"
	case BadSchema:
		return "BAD_SCHEMA"
	default:
		return "UNKNOWN"
	}
}

// TimestampFileCacheStore is the read-only analogue of the FileCacheStore
// (§4.8): for a target path it caches the set of record timestamps
// observed within it, so checking many records against the same target
// only decodes that target once. The cache is cleared wholesale every
// cacheOffsetsSize records to bound memory on long cleaner passes.
type TimestampFileCacheStore struct {
	Target backend.Driver
	Codec  compress.Codec
	Format format.Factory
	Paths  pathfactory.Factory

	CacheOffsetsSize int

	cache map[string]map[int64]struct{}
	seen  int
}

// NewTimestampFileCacheStore returns an empty store.
func NewTimestampFileCacheStore(target backend.Driver, codec compress.Codec, fac format.Factory, paths pathfactory.Factory, cacheOffsetsSize int) *TimestampFileCacheStore {
	if cacheOffsetsSize <= 0 {
		cacheOffsetsSize = 100000
	}
	return &TimestampFileCacheStore{
		Target:           target,
		Codec:            codec,
		Format:           fac,
		Paths:            paths,
		CacheOffsetsSize: cacheOffsetsSize,
		cache:            make(map[string]map[int64]struct{}),
	}
}

// Check resolves rec's target path and reports whether rec's timestamp was
// observed there. It moves to the next suffix only when the target at the
// current suffix has no time column; unlike the FileCacheStore's write
// path, it does not compare the target's full field set with rec's.
func (s *TimestampFileCacheStore) Check(ctx context.Context, topic string, rec record.Record, timeField string) (ExtractionResult, error) {
	nanos, err := pathfactory.RecordTimestamp(rec, timeField)
	if err != nil {
		return FileNotFound, fmt.Errorf("extractioncheck: record timestamp: %w", err)
	}

	for suffix := 0; suffix < maxSuffixRotations; suffix++ {
		org, err := s.Paths.Organize(topic, rec, suffix)
		if err != nil {
			return FileNotFound, fmt.Errorf("extractioncheck: organize record: %w", err)
		}
		target := org.Path + s.Format.Extension() + s.Codec.Extension()

		timestamps, ok, err := s.load(ctx, target, rec)
		if err != nil {
			return FileNotFound, err
		}
		if !ok {
			if suffix == 0 {
				return FileNotFound, nil
			}
			return NotFound, nil
		}
		if timestamps == nil {
			// Existing target's schema does not match rec's field set;
			// try the next suffix bucket.
			continue
		}

		s.seen++
		if s.seen >= s.CacheOffsetsSize {
			s.cache = make(map[string]map[int64]struct{})
			s.seen = 0
		}

		if _, found := timestamps[nanos]; found {
			return Found, nil
		}
		return NotFound, nil
	}

	return BadSchema, nil
}

// load returns the cached timestamp set for target, populating it from
// the backend on first access. ok is false when target does not exist.
// A nil timestamp set with ok true means target exists but has no time
// column (BAD_SCHEMA); exampleRecord is not used for this decision.
func (s *TimestampFileCacheStore) load(ctx context.Context, target string, exampleRecord record.Record) (map[int64]struct{}, bool, error) {
	if cached, ok := s.cache[target]; ok {
		return cached, true, nil
	}

	exists, err := s.Target.Exists(ctx, target)
	if err != nil {
		return nil, false, fmt.Errorf("extractioncheck: exists %s: %w", target, err)
	}
	if !exists {
		return nil, false, nil
	}

	stream, err := s.Target.NewInputStream(ctx, target)
	if err != nil {
		return nil, false, fmt.Errorf("extractioncheck: open %s: %w", target, err)
	}
	defer stream.Close()

	decompressed, err := s.Codec.NewReader(stream)
	if err != nil {
		return nil, false, fmt.Errorf("extractioncheck: decompress %s: %w", target, err)
	}
	defer decompressed.Close()

	timestamps, matches, err := extractTimestamps(decompressed, exampleRecord)
	if err != nil {
		return nil, false, fmt.Errorf("extractioncheck: parse %s: %w", target, err)
	}
	if !matches {
		return nil, true, nil
	}

	s.cache[target] = timestamps
	return timestamps, true, nil
}

// extractTimestamps scans a target file's rows for its "value.time"
// column (CSV) or "value"."time" field (JSON line), returning the set of
// observed values. matches is false if the target's field set does not
// include a time value at all, signalling BAD_SCHEMA to the caller.
func extractTimestamps(r io.Reader, exampleRecord record.Record) (map[int64]struct{}, bool, error) {
	br := bufio.NewReader(r)
	first, err := br.Peek(1)
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	if len(first) > 0 && first[0] == '{' {
		return extractTimestampsJSON(br)
	}
	return extractTimestampsCSV(br)
}

func extractTimestampsJSON(r io.Reader) (map[int64]struct{}, bool, error) {
	out := make(map[int64]struct{})
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	type line struct {
		Value map[string]interface{} `json:"value"`
	}

	matched := false
	for scanner.Scan() {
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(b, &l); err != nil {
			return nil, false, err
		}
		v, ok := l.Value["time"]
		if !ok {
			continue
		}
		matched = true
		switch n := v.(type) {
		case float64:
			out[int64(n)] = struct{}{}
		case int64:
			out[int64(n)] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return out, matched, nil
}

func extractTimestampsCSV(r io.Reader) (map[int64]struct{}, bool, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	col := -1
	for i, h := range header {
		if h == "value.time" {
			col = i
			break
		}
	}
	if col == -1 {
		return nil, false, nil
	}

	out := make(map[int64]struct{})
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if col >= len(row) {
			continue
		}
		n, err := strconv.ParseInt(row[col], 10, 64)
		if err != nil {
			continue
		}
		out[n] = struct{}{}
	}
	return out, true, nil
}
