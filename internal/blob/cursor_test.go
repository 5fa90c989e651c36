package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRejectsOverrun(t *testing.T) {
	w := NewWriter(8)
	require.NoError(t, w.Int32(1))
	assert.Equal(t, 4, w.Remaining())

	err := w.Int32s([]int32{2, 3})
	assert.ErrorIs(t, err, ErrOverrun)

	// a failed write does not move the cursor
	require.NoError(t, w.Float32s([]float32{1.5}))
	b, err := w.Blob()
	require.NoError(t, err)
	assert.Len(t, b, 8)
}

func TestWriterIncompleteBlob(t *testing.T) {
	w := NewWriter(8)
	require.NoError(t, w.Int32(1))
	_, err := w.Blob()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReaderSequence(t *testing.T) {
	w := NewWriter(16)
	require.NoError(t, w.Int32(-3))
	require.NoError(t, w.Int32s([]int32{10, 20}))
	require.NoError(t, w.Float32s([]float32{0.25}))
	b, err := w.Blob()
	require.NoError(t, err)

	r := NewReader(b)
	v, err := r.Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(-3), v)

	vs, err := r.Int32s(2)
	require.NoError(t, err)
	assert.Equal(t, []int32{10, 20}, vs)

	fs, err := r.Float32s(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25}, fs)
	assert.NoError(t, r.Finish())

	_, err = r.Int32()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReaderNegativeCount(t *testing.T) {
	w := NewWriter(4)
	require.NoError(t, w.Int32(-1))
	b, err := w.Blob()
	require.NoError(t, err)

	_, err = NewReader(b).Count()
	assert.ErrorIs(t, err, ErrMalformed)
}
