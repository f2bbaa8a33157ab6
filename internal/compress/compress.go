// Package compress implements the §6 Compression external interface:
// gzip, zip, and a no-op codec, selected by short name via the registry.
package compress

import (
	"fmt"
	"io"
)

// Codec compresses and decompresses a single stream. Implementations must be
// safe to use from one goroutine at a time; FileCache entries never share a
// codec.
type Codec interface {
	// NewWriter wraps out with a compressing writer. The caller must Close
	// the returned writer to flush trailing codec state before closing out.
	NewWriter(out io.Writer) (io.WriteCloser, error)
	// NewReader wraps in with a decompressing reader.
	NewReader(in io.Reader) (io.ReadCloser, error)
	// Extension is the filename suffix this codec appends, including the
	// leading dot ("" for the none codec).
	Extension() string
}

// ErrUnknownCodec is returned by Lookup for an unrecognised name.
var ErrUnknownCodec = fmt.Errorf("compress: unknown codec")

// Lookup resolves a codec by its config/CLI short name: "gzip", "zip", or
// "none".
func Lookup(name string) (Codec, error) {
	switch name {
	case "gzip":
		return gzipCodec{}, nil
	case "zip":
		return zipCodec{}, nil
	case "none", "":
		return noneCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}
}
