// Package format implements the §6 RecordConverter external interface:
// CSV and JSON serialisation, with schema-compatibility detection and
// file-level deduplication.
package format

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grafana/restructure/internal/record"
)

// Converter serialises records into an open output stream. A false return
// from WriteRecord means BAD_SCHEMA: the record's field set is incompatible
// with the converter's established schema (e.g. the file already has a
// header for a different field set), and the caller must retry against a
// fresh FileCache entry at the next suffix.
type Converter interface {
	// WriteRecord serialises rec. Returns false on schema mismatch without
	// having written anything.
	WriteRecord(rec record.Record) (bool, error)
	// Flush flushes any buffered output without closing the writer.
	Flush() error
	// Close flushes and releases converter-internal state. It does not
	// close the underlying writer.
	Close() error
}

// Factory constructs a Converter for one output file.
type Factory interface {
	// ConverterFor builds a Converter writing to w. exampleRecord seeds the
	// expected schema (its field set becomes the CSV header, or validates
	// against an existing header). isNew is false when w was seeded from an
	// existing target file's contents (FileCache reopening for append);
	// existingReader, if non-nil, is a decompressed reader over that prior
	// content, used to validate schema compatibility before any new bytes
	// are written.
	ConverterFor(w io.Writer, exampleRecord record.Record, isNew bool, existingReader io.Reader) (Converter, error)
	// Extension is the filename suffix this format appends, not including
	// compression ("" has no leading dot stripped: always starts with ".").
	Extension() string
	// Deduplicate rewrites src into dst by stable-sorting rows on
	// distinctFields (ignoring ignoreFields when distinctFields is
	// unspecified) and then removing adjacent duplicates, keeping the
	// first-arriving row per key. src and dst are plain (uncompressed)
	// readers/writers; compression is handled by the caller.
	Deduplicate(src io.Reader, dst io.Writer, distinctFields, ignoreFields []string) error
}

// ErrUnknownFormat is returned by Lookup for an unrecognised name.
var ErrUnknownFormat = fmt.Errorf("format: unknown format")

// ErrSchemaMismatch is returned by ConverterFor when existingReader's prior
// content was written under an incompatible field set. The caller (the
// FileCache entry) treats this as BAD_SCHEMA: close the staged file without
// publishing and retry at the next suffix.
var ErrSchemaMismatch = fmt.Errorf("format: schema mismatch")

// fieldSet returns the sorted "key."/"value."-prefixed field names of rec.
func fieldSet(rec record.Record) []string {
	fields := make([]string, 0, len(rec.Key)+len(rec.Value))
	for k := range rec.Key {
		fields = append(fields, "key."+k)
	}
	for k := range rec.Value {
		fields = append(fields, "value."+k)
	}
	sort.Strings(fields)
	return fields
}

func fieldValue(rec record.Record, field string) interface{} {
	switch {
	case strings.HasPrefix(field, "key."):
		return rec.Key[strings.TrimPrefix(field, "key.")]
	case strings.HasPrefix(field, "value."):
		return rec.Value[strings.TrimPrefix(field, "value.")]
	default:
		return nil
	}
}

// Lookup resolves a Factory by its config/CLI short name: "csv" or "json".
func Lookup(name string) (Factory, error) {
	switch name {
	case "csv":
		return csvFactory{}, nil
	case "json":
		return jsonFactory{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
	}
}
