// Package avro implements the §6 Avro reader external interface. Source
// files are Avro object container files produced upstream by the Kafka
// sink; this package only decodes them, it never writes Avro.
package avro

import (
	"fmt"
	"io"
	"strings"

	goavro "github.com/linkedin/goavro/v2"

	"github.com/grafana/restructure/internal/record"
)

// Reader iterates the records of one Avro object container file in stream
// order, exposing each decoded datum split into key/value the way the
// upstream Kafka Connect HDFS sink lays them out (a top-level "key" and
// "value" union per container entry).
type Reader interface {
	// Next returns the next record, or io.EOF once exhausted.
	Next() (record.Record, error)
	// Close releases the underlying file handle.
	Close() error
}

// ErrUnsupportedSchema is returned when a container's datum is not shaped as
// a {"key": ..., "value": ...} pair.
var ErrUnsupportedSchema = fmt.Errorf("avro: unsupported record schema")

type ocfReader struct {
	rc  io.ReadCloser
	ocf *goavro.OCFReader
}

// NewReader opens r as an Avro object container file. The caller is
// responsible for closing rc via the returned Reader's Close method.
func NewReader(rc io.ReadCloser) (Reader, error) {
	ocf, err := goavro.NewOCFReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("avro: open container: %w", err)
	}
	return &ocfReader{rc: rc, ocf: ocf}, nil
}

func (r *ocfReader) Next() (record.Record, error) {
	if !r.ocf.Scan() {
		if err := r.ocf.Err(); err != nil {
			return record.Record{}, fmt.Errorf("avro: scan: %w", err)
		}
		return record.Record{}, io.EOF
	}

	datum, err := r.ocf.Read()
	if err != nil {
		return record.Record{}, fmt.Errorf("avro: read: %w", err)
	}

	return datumToRecord(datum)
}

func (r *ocfReader) Close() error {
	return r.rc.Close()
}

func datumToRecord(datum interface{}) (record.Record, error) {
	top, ok := datum.(map[string]interface{})
	if !ok {
		return record.Record{}, ErrUnsupportedSchema
	}

	key, ok := top["key"]
	if !ok {
		return record.Record{}, fmt.Errorf("%w: missing key", ErrUnsupportedSchema)
	}
	value, ok := top["value"]
	if !ok {
		return record.Record{}, fmt.Errorf("%w: missing value", ErrUnsupportedSchema)
	}

	return record.Record{
		Key:   flatten(key, ""),
		Value: flatten(value, ""),
	}, nil
}

// flatten unwraps goavro's Avro-union representation
// (map[string]interface{}{"record.Type": {...fields...}}) and nested
// records into a single "." joined field map.
func flatten(v interface{}, prefix string) map[string]interface{} {
	out := make(map[string]interface{})

	m, ok := v.(map[string]interface{})
	if !ok {
		if prefix != "" {
			out[strings.TrimSuffix(prefix, ".")] = v
		}
		return out
	}

	// goavro wraps a union branch as {"namespace.Type": value}; unwrap a
	// single-entry map whose value is itself the nested datum.
	if len(m) == 1 {
		for _, inner := range m {
			if nested, ok := inner.(map[string]interface{}); ok {
				m = nested
				break
			}
		}
	}

	for k, fv := range m {
		switch fvv := fv.(type) {
		case map[string]interface{}:
			for nk, nv := range flatten(fvv, "") {
				out[prefix+k+"."+nk] = nv
			}
		default:
			out[prefix+k] = fvv
		}
	}

	return out
}
