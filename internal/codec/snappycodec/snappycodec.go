// Package snappycodec implements the snappy block codec.Impl.
// Snappy's block format carries no magic prefix, so
// detection is disabled (DetectionSize returns 0) and this codec must
// be attached explicitly rather than auto-spliced.
package snappycodec

import (
	"fmt"

	"github.com/golang/snappy"
)

// Codec wraps github.com/golang/snappy behind codec.Impl. Each Code
// call's input is treated as exactly one complete block: snappy has no
// partial-frame recovery, so a truncated block is a real error, not
// ErrIncomplete.
type Codec struct {
	encode bool
	ratio  float64
}

func New() *Codec { return &Codec{} }

func (c *Codec) Name() string       { return "snappy" }
func (c *Codec) DetectionSize() int { return 0 }
func (c *Codec) Ratio() float64     { return c.ratio }
func (c *Codec) Finalize() error    { return nil }
func (c *Codec) Init(encode bool) error {
	c.encode = encode
	return nil
}

func (c *Codec) MatchesMagic([]byte) bool { return false }

func (c *Codec) Code(in, out []byte) (consumed, produced int, more bool, err error) {
	var result []byte
	if c.encode {
		result = snappy.Encode(nil, in)
	} else {
		result, err = snappy.Decode(nil, in)
		if err != nil {
			return 0, 0, false, fmt.Errorf("snappycodec: decode: %w", err)
		}
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
