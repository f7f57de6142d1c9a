// Package bzip2codec implements a decode-only bzip2 codec.Impl over
// dsnet/compress. bzip2 encoding is not offered by that library, so
// Init rejects encode mode rather than faking one.
package bzip2codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dkrasnov/serveez/internal/codec"
	"github.com/dsnet/compress/bzip2"
)

var magic = [3]byte{'B', 'Z', 'h'}

// Codec wraps github.com/dsnet/compress/bzip2's decoder behind
// codec.Impl.
type Codec struct{}

func New() *Codec { return &Codec{} }

func (c *Codec) Name() string       { return "bzip2" }
func (c *Codec) DetectionSize() int { return len(magic) }
func (c *Codec) Ratio() float64     { return 0 }
func (c *Codec) Finalize() error    { return nil }

func (c *Codec) Init(encode bool) error {
	if encode {
		return errors.New("bzip2codec: encoding is not supported")
	}
	return nil
}

func (c *Codec) MatchesMagic(prefix []byte) bool {
	return len(prefix) >= 3 && prefix[0] == magic[0] && prefix[1] == magic[1] && prefix[2] == magic[2]
}

func (c *Codec) Code(in, out []byte) (consumed, produced int, more bool, err error) {
	r, err := bzip2.NewReader(bytes.NewReader(in), nil)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return 0, 0, false, codec.ErrIncomplete
		}
		return 0, 0, false, fmt.Errorf("bzip2codec: decode: %w", err)
	}
	result, err := io.ReadAll(r)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, 0, false, codec.ErrIncomplete
		}
		return 0, 0, false, fmt.Errorf("bzip2codec: decode: %w", err)
	}
	if len(result) > len(out) {
		return 0, 0, true, nil
	}
	n := copy(out, result)
	return len(in), n, false, nil
}
