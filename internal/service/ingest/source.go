package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const readBufferSize = 64 * 1024

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

type source struct {
	io.Reader
	closers []func() error
}

func (s *source) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openSource opens path for streaming, transparently decompressing gzip and zstd
// content detected by its magic bytes.
func openSource(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	br := bufio.NewReaderSize(f, readBufferSize)
	magic, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		return &source{Reader: gz, closers: []func() error{gz.Close, f.Close}}, nil
	case bytes.HasPrefix(magic, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd %s: %w", path, err)
		}
		return &source{Reader: dec, closers: []func() error{func() error { dec.Close(); return nil }, f.Close}}, nil
	default:
		return &source{Reader: br, closers: []func() error{f.Close}}, nil
	}
}

// lineReader yields lines without their terminator. With limit <= 0 a line is held in
// memory whole, however long it is. With limit > 0 at most limit bytes of each line are
// kept and the rest is skipped.
type lineReader struct {
	r         *bufio.Reader
	limit     int
	buf       []byte
	truncated bool
}

func newLineReader(r io.Reader, limit int) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, readBufferSize), limit: limit}
}

// Next returns the next line, or io.EOF once the input is exhausted. A final line
// without a newline is still returned.
func (l *lineReader) Next() (string, error) {
	l.buf = l.buf[:0]
	l.truncated = false
	read := 0
	for {
		chunk, err := l.r.ReadSlice('\n')
		read += len(chunk)
		keep := chunk
		if l.limit > 0 && len(l.buf)+len(keep) > l.limit {
			keep = keep[:l.limit-len(l.buf)]
			dropped := bytes.TrimSuffix(chunk[len(keep):], []byte("\n"))
			if len(bytes.TrimSuffix(dropped, []byte("\r"))) > 0 {
				l.truncated = true
			}
		}
		l.buf = append(l.buf, keep...)

		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err == io.EOF {
			if read == 0 {
				return "", io.EOF
			}
			break
		}
		return "", err
	}
	line := bytes.TrimSuffix(l.buf, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return string(line), nil
}

// Truncated reports whether the line last returned by Next was cut at the size limit.
func (l *lineReader) Truncated() bool {
	return l.truncated
}
