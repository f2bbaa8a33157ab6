package compress

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// gzipCodec wraps klauspost/compress/gzip, the same gzip implementation the
// teacher repo depends on in place of stdlib compress/gzip.
type gzipCodec struct{}

func (gzipCodec) NewWriter(out io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(out), nil
}

func (gzipCodec) NewReader(in io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(in)
}

func (gzipCodec) Extension() string { return ".gz" }
