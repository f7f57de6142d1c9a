// Package lz4codec implements the lz4 frame codec.Impl over pierrec/lz4.
package lz4codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dkrasnov/serveez/internal/codec"
	"github.com/pierrec/lz4/v4"
)

var magic = [4]byte{0x04, 0x22, 0x4D, 0x18}

// Codec wraps github.com/pierrec/lz4/v4's frame format behind
// codec.Impl, treating each Code call's input as one complete frame.
type Codec struct {
	encode bool
	ratio  float64
}

func New() *Codec { return &Codec{} }

func (c *Codec) Name() string       { return "lz4" }
func (c *Codec) DetectionSize() int { return len(magic) }
func (c *Codec) Ratio() float64     { return c.ratio }
func (c *Codec) Finalize() error    { return nil }
func (c *Codec) Init(encode bool) error {
	c.encode = encode
	return nil
}

func (c *Codec) MatchesMagic(prefix []byte) bool {
	return len(prefix) >= 4 &&
		prefix[0] == magic[0] && prefix[1] == magic[1] &&
		prefix[2] == magic[2] && prefix[3] == magic[3]
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
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, fmt.Errorf("lz4codec: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4codec: compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(in []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(in))
	data, err := io.ReadAll(r)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, codec.ErrIncomplete
		}
		return nil, fmt.Errorf("lz4codec: decompress: %w", err)
	}
	return data, nil
}
