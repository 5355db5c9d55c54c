package snapshot

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// ArchiveFormat is the container and compression of a snapshot archive.
type ArchiveFormat int

const (
	ArchiveFormatTar ArchiveFormat = iota
	ArchiveFormatTarGzip
	ArchiveFormatTarZstd
)

// DefaultArchiveFormat is used when none is configured.
const DefaultArchiveFormat = ArchiveFormatTarZstd

// Extension returns the file extension without a leading dot.
func (f ArchiveFormat) Extension() string {
	switch f {
	case ArchiveFormatTar:
		return "tar"
	case ArchiveFormatTarGzip:
		return "tar.gz"
	case ArchiveFormatTarZstd:
		return "tar.zst"
	default:
		return "unknown"
	}
}

func (f ArchiveFormat) String() string { return f.Extension() }

// ParseArchiveFormat accepts an extension ("tar.zst") or a short name
// ("zstd", "gzip", "none").
func ParseArchiveFormat(s string) (ArchiveFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "tar", "none":
		return ArchiveFormatTar, nil
	case "tar.gz", "gz", "gzip":
		return ArchiveFormatTarGzip, nil
	case "tar.zst", "zst", "zstd":
		return ArchiveFormatTarZstd, nil
	}
	return 0, domain.ErrUnsupportedFormat.WithDetailsf("%q", s)
}

// newCompressor wraps w with the format's compressor. Closing the returned
// writer flushes the compressor but leaves w open.
func (f ArchiveFormat) newCompressor(w io.Writer) (io.WriteCloser, error) {
	switch f {
	case ArchiveFormatTar:
		return nopWriteCloser{w}, nil
	case ArchiveFormatTarGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case ArchiveFormatTarZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	}
	return nil, domain.ErrUnsupportedFormat.WithDetailsf("%d", int(f))
}

// newDecompressor wraps r with the format's decompressor.
func (f ArchiveFormat) newDecompressor(r io.Reader) (io.ReadCloser, error) {
	switch f {
	case ArchiveFormatTar:
		return io.NopCloser(r), nil
	case ArchiveFormatTarGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: gzip reader: %w", err)
		}
		return zr, nil
	case ArchiveFormatTarZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	}
	return nil, domain.ErrUnsupportedFormat.WithDetailsf("%d", int(f))
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
