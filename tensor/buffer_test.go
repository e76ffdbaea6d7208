package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAllocatesProductOfShape(t *testing.T) {
	b, err := New(NewShape(1, 3, 4, 5))
	require.NoError(t, err)

	assert.Equal(t, 60, b.Len())
	assert.Equal(t, 60*ElementSize, b.SizeBytes())
	assert.Equal(t, int64(b.Len()), b.Shape().Elements())
}

func TestNewRejectsNegativeDimension(t *testing.T) {
	_, err := New(NewShape(1, -3))
	require.Error(t, err)
}

func TestFromSliceChecksLength(t *testing.T) {
	_, err := FromSlice(NewShape(2, 2), []float32{1, 2, 3})
	require.Error(t, err)

	b, err := FromSlice(NewShape(2, 2), []float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, b.Data())
}

func TestAtAndSet(t *testing.T) {
	b, err := FromSlice(NewShape(2, 3), []float32{0, 1, 2, 3, 4, 5})
	require.NoError(t, err)

	v, err := b.At(1, 2)
	require.NoError(t, err)
	assert.Equal(t, float32(5), v)

	require.NoError(t, b.Set(9, 0, 1))
	assert.Equal(t, float32(9), b.Data()[1])

	_, err = b.At(2, 0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = b.At(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.ErrorIs(t, b.Set(1, 0, -1), ErrIndexOutOfRange)
}

func TestShapeIsCopied(t *testing.T) {
	shape := NewShape(1, 6)
	b, err := New(shape)
	require.NoError(t, err)

	shape[1] = 7
	assert.Equal(t, NewShape(1, 6), b.Shape())

	got := b.Shape()
	got[0] = 3
	assert.Equal(t, NewShape(1, 6), b.Shape())
}

func TestShapeString(t *testing.T) {
	assert.Equal(t, "[1, 300, 6]", NewShape(1, 300, 6).String())
	assert.True(t, NewShape(1, 2).Equal(Shape{1, 2}))
	assert.False(t, NewShape(1, 2).Equal(Shape{1}))
}
