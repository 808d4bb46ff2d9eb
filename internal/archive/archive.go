// Package archive wraps a single file into a single-entry zip container and
// back. Entry compression is pluggable; the container framing stays zip so
// any stock unzip tool can read a decrypted blob.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrCorruptArchive = errors.New("corrupt archive")
	ErrNameTooLong    = errors.New("entry name too long")
)

// MaxNameLength is the longest name a zip header can carry.
const MaxNameLength = 1<<16 - 1

const (
	localHeaderMagic = "PK\x03\x04"
	localHeaderLen   = 30
)

// Compression selects how the single entry is compressed.
type Compression string

const (
	CompressionStore   Compression = "store"
	CompressionDeflate Compression = "deflate"
	CompressionZstd    Compression = "zstd"
)

// ParseCompression maps a config value to a Compression. Empty means deflate.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionDeflate:
		return CompressionDeflate, nil
	case CompressionStore:
		return CompressionStore, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown archive compression: %q", name)
	}
}

func (c Compression) method() uint16 {
	switch c {
	case CompressionStore:
		return zip.Store
	case CompressionZstd:
		return zstd.ZipMethodWinZip
	default:
		return zip.Deflate
	}
}

// Codec packs and unpacks single-entry archives.
type Codec struct {
	compression Compression
}

func NewCodec(c Compression) *Codec {
	if c == "" {
		c = CompressionDeflate
	}
	return &Codec{compression: c}
}

func (c *Codec) Compression() Compression {
	return c.compression
}

// Pack stores data as the only entry of a new archive, under name. Any name
// round-trips, including ones zip would read as a directory; names longer
// than MaxNameLength fail with ErrNameTooLong.
func (c *Codec) Pack(name string, data []byte) ([]byte, error) {
	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(name))
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, deflateCompressor)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())

	hdr := &zip.FileHeader{
		Name:   entryPath(name),
		Method: c.compression.method(),
	}
	// The exact name travels in the entry comment when the zip path had to
	// be altered
	if hdr.Name != name {
		hdr.Comment = name
	}

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive entry: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write archive entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}

	return buf.Bytes(), nil
}

// entryPath turns name into a zip path that is not a directory entry.
func entryPath(name string) string {
	if !strings.HasSuffix(name, "/") {
		return name
	}
	p := strings.TrimRight(name, "/")
	if p == "" {
		p = "file"
	}
	return p
}

// Unpack returns the name and content of the only entry in b. Every supported
// compression is accepted regardless of how the codec packs.
func (c *Codec) Unpack(b []byte) (string, []byte, error) {
	return Unpack(b)
}

// Unpack is the codec-independent reverse of Pack. The archive must start
// with the local header of its only entry; leading bytes are not skipped.
func Unpack(b []byte) (string, []byte, error) {
	if !bytes.HasPrefix(b, []byte(localHeaderMagic)) || len(b) < localHeaderLen {
		return "", nil, fmt.Errorf("%w: missing local header magic", ErrCorruptArchive)
	}

	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return "", nil, fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}
	zr.RegisterDecompressor(zip.Deflate, deflateDecompressor)
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	if len(zr.File) != 1 {
		return "", nil, fmt.Errorf("%w: expected 1 entry, found %d", ErrCorruptArchive, len(zr.File))
	}
	entry := zr.File[0]

	// The central directory must point at the header at offset 0
	nameLen := int64(binary.LittleEndian.Uint16(b[26:28]))
	extraLen := int64(binary.LittleEndian.Uint16(b[28:30]))
	offset, err := entry.DataOffset()
	if err != nil || offset != localHeaderLen+nameLen+extraLen {
		return "", nil, fmt.Errorf("%w: entry does not start at offset 0", ErrCorruptArchive)
	}

	rc, err := entry.Open()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}

	name := entry.Name
	if entry.Comment != "" {
		name = entry.Comment
	}
	return name, data, nil
}

func deflateCompressor(w io.Writer) (io.WriteCloser, error) {
	return flate.NewWriter(w, flate.DefaultCompression)
}

func deflateDecompressor(r io.Reader) io.ReadCloser {
	return flate.NewReader(r)
}

var defaultCodec = NewCodec(CompressionDeflate)

// Pack archives data with the default (deflate) codec.
func Pack(name string, data []byte) ([]byte, error) {
	return defaultCodec.Pack(name, data)
}
