package socket

import "fmt"

// MaxBufferSize caps how large Buffer.Grow will ever let a buffer become.
const MaxBufferSize = 4 * 1024 * 1024

// Buffer is a flat byte array with a fill pointer. It never
// reallocates implicitly except via Grow.
type Buffer struct {
	Data []byte
	Fill int
}

// NewBuffer allocates a buffer of the given initial size.
func NewBuffer(size int) Buffer {
	if size <= 0 {
		size = 1
	}
	return Buffer{Data: make([]byte, size)}
}

// Size returns the buffer's current capacity.
func (b *Buffer) Size() int { return len(b.Data) }

// Space returns how many bytes of free tail space remain.
func (b *Buffer) Space() int { return len(b.Data) - b.Fill }

// Tail returns the writable free tail of the buffer.
func (b *Buffer) Tail() []byte { return b.Data[b.Fill:] }

// Filled returns the occupied prefix of the buffer.
func (b *Buffer) Filled() []byte { return b.Data[:b.Fill] }

// Reduce shifts the first n filled bytes out, moving [n..Fill) down to
// [0..Fill-n).
func (b *Buffer) Reduce(n int) error {
	if n < 0 || n > b.Fill {
		return fmt.Errorf("socket: reduce %d exceeds fill %d", n, b.Fill)
	}
	if n == 0 {
		return nil
	}
	copy(b.Data, b.Data[n:b.Fill])
	b.Fill -= n
	return nil
}

// Append copies p into the buffer's free tail, growing first if needed.
// Growth is capped at max; if p still doesn't fit, Append returns an error
// and appends nothing.
func (b *Buffer) Append(p []byte, max int) error {
	if len(p) > b.Space() {
		if err := b.Grow(b.Fill+len(p), max); err != nil {
			return err
		}
	}
	n := copy(b.Tail(), p)
	b.Fill += n
	return nil
}

// Grow doubles the buffer's capacity until it is at least min, capped
// at max. It returns an error rather than silently truncating once the
// cap is hit.
func (b *Buffer) Grow(min int, max int) error {
	if max <= 0 || max > MaxBufferSize {
		max = MaxBufferSize
	}
	if min <= len(b.Data) {
		return nil
	}
	if min > max {
		return fmt.Errorf("socket: buffer grow to %d exceeds max %d", min, max)
	}
	newSize := len(b.Data)
	if newSize == 0 {
		newSize = 1
	}
	for newSize < min {
		newSize *= 2
		if newSize > max {
			newSize = max
		}
	}
	grown := make([]byte, newSize)
	copy(grown, b.Data[:b.Fill])
	b.Data = grown
	return nil
}

// Reset empties the buffer without releasing its backing array.
func (b *Buffer) Reset() { b.Fill = 0 }
