// Package filecache implements the §4.4/§4.5 FileCache entry and
// FileCacheStore: the bounded set of open, compressed, deduplicating
// writers a RestructureWorker routes records through.
package filecache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/grafana/restructure/internal/accountant"
	"github.com/grafana/restructure/internal/backend"
	"github.com/grafana/restructure/internal/compress"
	"github.com/grafana/restructure/internal/format"
	"github.com/grafana/restructure/internal/logutil"
	"github.com/grafana/restructure/internal/offsetrange"
	"github.com/grafana/restructure/internal/record"
)

// maxCorruptionRotations bounds the number of "<path>.corrupted-N" names
// tried before a hopelessly-corrupt existing target is simply deleted
// instead of archived.
const maxCorruptionRotations = 100

// Entry is one open output file: a staged local temp file behind a
// compressed writer and a format converter, plus the worker-local Ledger
// of offset ranges and bin increments it will hand to the Accountant on a
// successful close.
type Entry struct {
	Path       string // logical target path, without format/compression extension
	TargetPath string // Path + format extension + compression extension

	driver  backend.Driver
	codec   compress.Codec
	factory format.Factory

	stagedPath string
	stagedFile *os.File
	writer     io.WriteCloser
	converter  format.Converter

	deduplicate    bool
	distinctFields []string
	ignoreFields   []string

	LastUse  time.Time
	hasError bool
	Ledger   *accountant.Ledger
}

// Open lazily creates the staged file for path. If a target already
// exists at path+extensions, its current contents are copied through
// decompress→recompress into the staged file so the entry continues
// appending to it; a converter is then built against the union of
// existing and new content via its ConverterFor header-compatibility
// check. If the existing target cannot be read (corrupt container), it is
// archived under a ".corrupted" name (see archiveCorrupted) and a fresh
// entry is opened instead, with the failure logged rather than returned.
//
// ErrSchemaMismatch (from format.Factory.ConverterFor) propagates to the
// caller unchanged: the caller is expected to retry Open at the next path
// suffix.
func Open(ctx context.Context, tmpDir string, driver backend.Driver, codec compress.Codec, factory format.Factory, path string, exampleRecord record.Record, deduplicate bool, distinctFields, ignoreFields []string) (*Entry, error) {
	target := path + factory.Extension() + codec.Extension()

	stagedPath := filepath.Join(tmpDir, fmt.Sprintf("%s-%s.staging", filepath.Base(path), uuid.New().String()))
	stagedFile, err := os.Create(stagedPath)
	if err != nil {
		return nil, fmt.Errorf("filecache: create staged file: %w", err)
	}

	e := &Entry{
		Path:           path,
		TargetPath:     target,
		driver:         driver,
		codec:          codec,
		factory:        factory,
		stagedPath:     stagedPath,
		stagedFile:     stagedFile,
		deduplicate:    deduplicate,
		distinctFields: distinctFields,
		ignoreFields:   ignoreFields,
		LastUse:        time.Now(),
		Ledger:         accountant.NewLedger(),
	}

	isNew := true
	var existingReader io.Reader

	exists, err := driver.Exists(ctx, target)
	if err != nil {
		stagedFile.Close()
		os.Remove(stagedPath)
		return nil, fmt.Errorf("filecache: check existing target: %w", err)
	}

	if exists {
		decoded, decodeErr := e.copyExistingInto(ctx, target)
		if decodeErr != nil {
			level.Error(logutil.Logger).Log("msg", "corrupt existing target, archiving and starting fresh", "path", target, "err", decodeErr)
			if err := archiveCorrupted(ctx, driver, target); err != nil {
				level.Error(logutil.Logger).Log("msg", "failed to archive corrupt target", "path", target, "err", err)
			}
			// Restart the staged file empty.
			stagedFile.Close()
			os.Remove(stagedPath)
			stagedFile, err = os.Create(stagedPath)
			if err != nil {
				return nil, fmt.Errorf("filecache: recreate staged file: %w", err)
			}
			e.stagedFile = stagedFile
		} else {
			isNew = false
			existingReader = bytes.NewReader(decoded)
		}
	}

	writer, err := codec.NewWriter(e.stagedFile)
	if err != nil {
		e.discard()
		return nil, fmt.Errorf("filecache: new compressed writer: %w", err)
	}
	e.writer = writer

	converter, err := factory.ConverterFor(writer, exampleRecord, isNew, existingReader)
	if err != nil {
		e.discard()
		return nil, err
	}
	e.converter = converter

	return e, nil
}

// copyExistingInto decompresses the current target's bytes fully into
// memory (needed so they can be fed to ConverterFor's header check a
// second time) and streams a freshly recompressed copy into the staged
// file.
func (e *Entry) copyExistingInto(ctx context.Context, target string) ([]byte, error) {
	src, err := e.driver.NewInputStream(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("open existing target: %w", err)
	}
	defer src.Close()

	decompressed, err := e.codec.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("open decompressor: %w", err)
	}
	defer decompressed.Close()

	data, err := io.ReadAll(decompressed)
	if err != nil {
		return nil, fmt.Errorf("decode existing target: %w", err)
	}

	recompressed, err := e.codec.NewWriter(e.stagedFile)
	if err != nil {
		return nil, fmt.Errorf("open recompressor: %w", err)
	}
	if _, err := recompressed.Write(data); err != nil {
		recompressed.Close()
		return nil, fmt.Errorf("recompress existing target: %w", err)
	}
	if err := recompressed.Close(); err != nil {
		return nil, fmt.Errorf("finalize recompressed prefix: %w", err)
	}

	return data, nil
}

// archiveCorrupted renames target to target+".corrupted[-i]", i from 1 to
// maxCorruptionRotations-1; beyond that it deletes target outright rather
// than accumulating archives forever.
func archiveCorrupted(ctx context.Context, driver backend.Driver, target string) error {
	candidate := target + ".corrupted"
	for i := 0; i < maxCorruptionRotations; i++ {
		name := candidate
		if i > 0 {
			name = fmt.Sprintf("%s-%d", candidate, i)
		}
		exists, err := driver.Exists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			return driver.Move(ctx, target, name)
		}
	}
	return driver.Delete(ctx, target)
}

// WriteRecord serialises rec through the converter and, on success, bumps
// this entry's bin counter for binKey and appends txn — the record's own
// single-offset range — to this entry's Ledger. A false return means
// BAD_SCHEMA: the caller retries at the next path suffix. A freshly opened
// entry that rejects its first record is closed with an error (discarding
// it); an entry already in the Store stays open.
//
// The Ledger only reaches the Accountant in Close, alongside the publish
// of this entry's staged file: an offset is only ever recorded as done
// once the record it names has actually landed at its target path.
func (e *Entry) WriteRecord(rec record.Record, binKey accountant.BinKey, txn offsetrange.Range) (bool, error) {
	ok, err := e.converter.WriteRecord(rec)
	if err != nil {
		e.hasError = true
		return false, err
	}
	if !ok {
		return false, nil
	}

	e.LastUse = time.Now()
	e.Ledger.IncrementBin(binKey, 1)
	e.Ledger.AddRange(txn)
	return true, nil
}

// Flush flushes the converter only; it does not publish anything.
func (e *Entry) Flush() error {
	return e.converter.Flush()
}

// MarkError flags this entry as failed: its Ledger will not be committed
// and its staged file is discarded on Close.
func (e *Entry) MarkError() {
	e.hasError = true
}

// Close closes the converter and staged writer. If no error was flagged,
// it optionally deduplicates the staged file, publishes it to the target
// path, and hands the Ledger to acct for durable commit. On error, the
// staged file is discarded and the Ledger is dropped.
func (e *Entry) Close(ctx context.Context, acct *accountant.Accountant) error {
	convErr := e.converter.Close()
	writerErr := e.writer.Close()
	closeErr := e.stagedFile.Close()

	if e.hasError || convErr != nil || writerErr != nil || closeErr != nil {
		os.Remove(e.stagedPath)
		if convErr != nil {
			return fmt.Errorf("filecache: close converter: %w", convErr)
		}
		if writerErr != nil {
			return fmt.Errorf("filecache: close writer: %w", writerErr)
		}
		if closeErr != nil {
			return fmt.Errorf("filecache: close staged file: %w", closeErr)
		}
		return nil
	}

	publishPath := e.stagedPath
	if e.deduplicate {
		deduped, err := e.dedupeStaged()
		if err != nil {
			os.Remove(e.stagedPath)
			return fmt.Errorf("filecache: deduplicate: %w", err)
		}
		defer os.Remove(deduped)
		publishPath = deduped
	}

	if err := e.driver.Store(ctx, publishPath, e.TargetPath); err != nil {
		os.Remove(e.stagedPath)
		return fmt.Errorf("filecache: publish %s: %w", e.TargetPath, err)
	}
	os.Remove(e.stagedPath)

	if acct != nil {
		if err := acct.Process(ctx, e.Ledger); err != nil {
			return fmt.Errorf("filecache: commit ledger: %w", err)
		}
	}
	return nil
}

func (e *Entry) dedupeStaged() (string, error) {
	in, err := os.Open(e.stagedPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	decompressed, err := e.codec.NewReader(in)
	if err != nil {
		return "", err
	}
	defer decompressed.Close()

	outPath := e.stagedPath + ".dedup"
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	compressedOut, err := e.codec.NewWriter(out)
	if err != nil {
		return "", err
	}

	if err := e.factory.Deduplicate(decompressed, compressedOut, e.distinctFields, e.ignoreFields); err != nil {
		compressedOut.Close()
		return "", err
	}
	if err := compressedOut.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}

func (e *Entry) discard() {
	if e.stagedFile != nil {
		e.stagedFile.Close()
	}
	os.Remove(e.stagedPath)
}
