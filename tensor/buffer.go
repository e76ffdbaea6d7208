// Package tensor holds the typed, shape-described buffers exchanged with an
// inference engine.
package tensor

import (
	"errors"
	"fmt"
	"strings"
)

// ElementSize is the width in bytes of one float32 element.
const ElementSize = 4

var ErrIndexOutOfRange = errors.New("tensor index out of range")

// Shape is an ordered list of dimensions, outermost first.
type Shape []int64

// NewShape mirrors ort.NewShape so call sites read the same.
func NewShape(dims ...int64) Shape {
	return Shape(dims)
}

// Elements returns the product of all dimensions. A scalar shape has one element.
func (s Shape) Elements() int64 {
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

// Validate rejects negative dimensions.
func (s Shape) Validate() error {
	for i, d := range s {
		if d < 0 {
			return fmt.Errorf("dimension %d is negative: %d", i, d)
		}
	}
	return nil
}

func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Buffer is a contiguous float32 buffer with an associated shape. A Buffer
// owns its storage; hand it to the next stage rather than sharing it.
type Buffer struct {
	shape Shape
	data  []float32
}

// New allocates a zeroed buffer for shape.
func New(shape Shape) (*Buffer, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape %v: %w", shape, err)
	}
	return &Buffer{
		shape: shape.Clone(),
		data:  make([]float32, shape.Elements()),
	}, nil
}

// FromSlice wraps data without copying. len(data) must equal the element
// count of shape.
func FromSlice(shape Shape, data []float32) (*Buffer, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape %v: %w", shape, err)
	}
	if int64(len(data)) != shape.Elements() {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, shape.Elements(), len(data))
	}
	return &Buffer{shape: shape.Clone(), data: data}, nil
}

// Shape returns a copy of the buffer's shape.
func (b *Buffer) Shape() Shape {
	return b.shape.Clone()
}

// Data exposes the backing storage in row-major order.
func (b *Buffer) Data() []float32 {
	return b.data
}

func (b *Buffer) Len() int {
	return len(b.data)
}

// SizeBytes is Len() * ElementSize.
func (b *Buffer) SizeBytes() int {
	return len(b.data) * ElementSize
}

// Offset converts a multi-dimensional index into a flat offset.
func (b *Buffer) Offset(index ...int) (int, error) {
	if len(index) != len(b.shape) {
		return 0, fmt.Errorf("%w: got %d indices for rank %d", ErrIndexOutOfRange, len(index), len(b.shape))
	}
	offset := 0
	for i, idx := range index {
		dim := int(b.shape[i])
		if idx < 0 || idx >= dim {
			return 0, fmt.Errorf("%w: index %d is %d, dimension is %d", ErrIndexOutOfRange, i, idx, dim)
		}
		offset = offset*dim + idx
	}
	return offset, nil
}

func (b *Buffer) At(index ...int) (float32, error) {
	off, err := b.Offset(index...)
	if err != nil {
		return 0, err
	}
	return b.data[off], nil
}

func (b *Buffer) Set(v float32, index ...int) error {
	off, err := b.Offset(index...)
	if err != nil {
		return err
	}
	b.data[off] = v
	return nil
}
