package smoothing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_DefaultWeights(t *testing.T) {
	w := New()
	assert.Equal(t, DefaultSize, w.Cap())

	// Running sum until full, then a sliding sum of the last five.
	want := []float64{1, 3, 6, 10, 15, 20, 25}
	for i, v := range []float64{1, 2, 3, 4, 5, 6, 7} {
		got, err := w.PushScalar(v)
		require.NoError(t, err)
		assert.Equal(t, want[i], got, "push %d", i)
	}
	assert.Equal(t, 5, w.Len())
}

func TestWindow_WeightsAlignOldestFirst(t *testing.T) {
	w := New(0.5, 0.3, 0.2)

	tests := []struct {
		push float64
		want float64
	}{
		{10, 5},  // one sample: only weights[0] applies
		{20, 11}, // 0.5*10 + 0.3*20
		{30, 17}, // full: 0.5*10 + 0.3*20 + 0.2*30
		{40, 27}, // 10 evicted: 0.5*20 + 0.3*30 + 0.2*40
	}
	for _, tt := range tests {
		got, err := w.PushScalar(tt.push)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-12, "push %v", tt.push)
	}
}

func TestWindow_Vectors(t *testing.T) {
	w := New(1, 1)

	got, err := w.Push([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got)

	in := []float64{10, 20, 30}
	got, err = w.Push(in)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 22, 33}, got)

	// The window keeps its own copy.
	in[0] = 1000
	got, err = w.Push([]float64{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30}, got)

	_, err = w.Push([]float64{1})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestWindow_Reset(t *testing.T) {
	w := New(1, 1)
	_, err := w.PushScalar(4)
	require.NoError(t, err)
	_, err = w.PushScalar(5)
	require.NoError(t, err)
	w.Reset()
	assert.Zero(t, w.Len())

	got, err := w.Push([]float64{1, 1})
	require.NoError(t, err, "dimension is forgotten on reset")
	assert.Equal(t, []float64{1, 1}, got)
	_, err = w.PushScalar(1)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestWindow_PushScalarAfterVector(t *testing.T) {
	w := New()
	_, err := w.Push([]float64{1, 2})
	require.NoError(t, err)

	_, err = w.PushScalar(1)
	assert.ErrorIs(t, err, ErrDimension)
	assert.Equal(t, 1, w.Len(), "rejected sample is not retained")
}
