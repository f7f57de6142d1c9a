// Package gzipcodec implements the gzip codec.Impl over
// klauspost/compress.
package gzipcodec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dkrasnov/serveez/internal/codec"
	"github.com/klauspost/compress/gzip"
)

var magic = [2]byte{0x1F, 0x8B}

// Codec wraps github.com/klauspost/compress/gzip behind codec.Impl,
// treating each Code call's input as one complete gzip member.
type Codec struct {
	encode bool
	ratio  float64
}

// New returns an unconfigured gzip codec; Init selects encode/decode mode.
func New() *Codec { return &Codec{} }

func (c *Codec) Name() string          { return "gzip" }
func (c *Codec) DetectionSize() int    { return len(magic) }
func (c *Codec) Ratio() float64        { return c.ratio }
func (c *Codec) Finalize() error       { return nil }
func (c *Codec) Init(encode bool) error {
	c.encode = encode
	return nil
}

func (c *Codec) MatchesMagic(prefix []byte) bool {
	return len(prefix) >= 2 && prefix[0] == magic[0] && prefix[1] == magic[1]
}

func (c *Codec) Code(in, out []byte) (consumed, produced int, more bool, err error) {
	var result []byte
	if c.encode {
		result, err = compress(in)
	} else {
		result, err = decompress(in)
	}
	if err != nil {
		return 0, 0, false, err
	}
	if len(result) > len(out) {
		return 0, 0, true, nil
	}
	n := copy(out, result)
	if c.encode && len(in) > 0 {
		c.ratio = float64(n) / float64(len(in))
	}
	return len(in), n, false, nil
}

func compress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, fmt.Errorf("gzipcodec: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzipcodec: compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(in []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(in))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, codec.ErrIncomplete
		}
		return nil, fmt.Errorf("gzipcodec: decompress: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, codec.ErrIncomplete
		}
		return nil, fmt.Errorf("gzipcodec: decompress: %w", err)
	}
	return data, nil
}
