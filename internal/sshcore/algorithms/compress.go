package algorithms

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// CompressorAlg is one entry of the compression registry. DisableHint
// reports whether the compressor should be treated as effectively disabled
// for length-masking purposes (set on the "none" entry).
type CompressorAlg struct {
	Name        string
	DisableHint bool
	NewWriter   func() Compressor
	NewReader   func() Decompressor
}

// Compressor incrementally compresses payload bytes.
type Compressor interface {
	Block(plain []byte) ([]byte, error)
}

// Decompressor incrementally decompresses payload bytes.
type Decompressor interface {
	Block(compressed []byte) ([]byte, error)
}

type zlibCompressor struct {
	buf bytes.Buffer
	w   *zlib.Writer
}

func newZlibCompressor() Compressor {
	z := &zlibCompressor{}
	z.w = zlib.NewWriter(&z.buf)
	return z
}

func (z *zlibCompressor) Block(plain []byte) ([]byte, error) {
	z.buf.Reset()
	if _, err := z.w.Write(plain); err != nil {
		return nil, fmt.Errorf("algorithms: zlib compress: %w", err)
	}
	if err := z.w.Flush(); err != nil {
		return nil, fmt.Errorf("algorithms: zlib flush: %w", err)
	}
	out := make([]byte, z.buf.Len())
	copy(out, z.buf.Bytes())
	return out, nil
}

// streamZlibDecompressor decompresses an incrementally-growing zlib stream.
// zlib's io.Reader-based API does not support feeding bytes a chunk at a
// time without an underlying blocking reader, so a small buffered reader
// stands in for the socket: bytes are appended and the decompressor pulls
// as much as is currently available, non-blocking.
type streamZlibDecompressor struct {
	in bytes.Buffer
	zr io.ReadCloser
}

func newZlibDecompressor() Decompressor {
	d := &streamZlibDecompressor{}
	return d
}

func (d *streamZlibDecompressor) Block(compressed []byte) ([]byte, error) {
	d.in.Write(compressed)
	if d.zr == nil {
		zr, err := zlib.NewReader(&d.in)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, nil // need more header bytes
			}
			return nil, fmt.Errorf("algorithms: zlib header: %w", err)
		}
		d.zr = zr
	}
	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := d.zr.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				break // ran out of buffered input for now
			}
			return out.Bytes(), fmt.Errorf("algorithms: zlib decompress: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return out.Bytes(), nil
}

var CompressorRegistry = []CompressorAlg{
	{Name: "none", DisableHint: true, NewWriter: func() Compressor { return passthroughCompressor{} }, NewReader: func() Decompressor { return passthroughCompressor{} }},
	{Name: "zlib", NewWriter: newZlibCompressor, NewReader: newZlibDecompressor},
	{Name: "zlib@openssh.com", NewWriter: newZlibCompressor, NewReader: newZlibDecompressor},
}

type passthroughCompressor struct{}

func (passthroughCompressor) Block(p []byte) ([]byte, error) { return p, nil }

// FindCompressor looks up a registered compressor by name.
func FindCompressor(name string) (CompressorAlg, bool) {
	for _, c := range CompressorRegistry {
		if c.Name == name {
			return c, true
		}
	}
	return CompressorAlg{}, false
}
