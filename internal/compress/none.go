package compress

import "io"

type noneCodec struct{}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (noneCodec) NewWriter(out io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{out}, nil
}

func (noneCodec) NewReader(in io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(in), nil
}

func (noneCodec) Extension() string { return "" }
