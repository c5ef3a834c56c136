package source

import (
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression is the compression layer wrapped around the object stream.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// decompress wraps r with the matching decompression reader. The returned
// ReadCloser closes both the decompressor and the underlying stream.
func decompress(r io.ReadCloser, comp Compression) (io.ReadCloser, error) {
	switch comp {
	case CompressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &layeredReadCloser{Reader: gz, closers: []io.Closer{gz, r}}, nil

	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &layeredReadCloser{
			Reader:  zr,
			closers: []io.Closer{closerFunc(func() error { zr.Close(); return nil }), r},
		}, nil

	default:
		return r, nil
	}
}

type layeredReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (l *layeredReadCloser) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
