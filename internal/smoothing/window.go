// Package smoothing provides a fixed-capacity weighted window over recent samples.
package smoothing

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// DefaultSize is the capacity of a window created without weights.
const DefaultSize = 5

// ErrDimension is returned when a sample's length differs from earlier samples.
var ErrDimension = errors.New("sample dimension mismatch")

// Window keeps the most recent len(weights) samples and returns their weighted
// sum on every push. The oldest retained sample is paired with weights[0].
// The sum is not normalized; pass weights that sum to one for an average.
//
// A Window is not safe for concurrent use.
type Window struct {
	weights []float64
	buf     [][]float64
	start   int
	n       int
	dim     int
}

// New creates a window with the given weights. No weights means DefaultSize
// weights of 1.
func New(weights ...float64) *Window {
	if len(weights) == 0 {
		weights = make([]float64, DefaultSize)
		for i := range weights {
			weights[i] = 1
		}
	}
	return &Window{
		weights: append([]float64(nil), weights...),
		buf:     make([][]float64, len(weights)),
		dim:     -1,
	}
}

// Push adds sample, evicting the oldest one when full, and returns the
// weighted sum of the retained samples.
func (w *Window) Push(sample []float64) ([]float64, error) {
	if w.dim >= 0 && len(sample) != w.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(sample), w.dim)
	}
	w.dim = len(sample)

	c := len(w.weights)
	s := append([]float64(nil), sample...)
	if w.n < c {
		w.buf[(w.start+w.n)%c] = s
		w.n++
	} else {
		w.buf[w.start] = s
		w.start = (w.start + 1) % c
	}

	sum := make([]float64, w.dim)
	for i := 0; i < w.n; i++ {
		floats.AddScaled(sum, w.weights[i], w.buf[(w.start+i)%c])
	}
	return sum, nil
}

// PushScalar is Push for one-dimensional samples. It fails with ErrDimension
// when earlier samples were vectors.
func (w *Window) PushScalar(v float64) (float64, error) {
	sum, err := w.Push([]float64{v})
	if err != nil {
		return 0, err
	}
	return sum[0], nil
}

// Len returns the number of retained samples.
func (w *Window) Len() int {
	return w.n
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return len(w.weights)
}

// Reset drops all samples and forgets the sample dimension.
func (w *Window) Reset() {
	for i := range w.buf {
		w.buf[i] = nil
	}
	w.start, w.n, w.dim = 0, 0, -1
}
