// Package signal implements the sample-array arithmetic used by the attack:
// elementwise averages, differences, causal smoothing and peak search.
package signal

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrEmptyInput     = errors.New("signal: empty input")
	ErrLengthMismatch = errors.New("signal: length mismatch")
	ErrInvalidWindow  = errors.New("signal: window size must be at least 1")
)

// Average returns the elementwise arithmetic mean of equal-length traces.
func Average(traces [][]float64) ([]float64, error) {
	if len(traces) == 0 {
		return nil, ErrEmptyInput
	}
	n := len(traces[0])
	sum := make([]float64, n)
	for i, t := range traces {
		if len(t) != n {
			return nil, fmt.Errorf("%w: trace %v has %v samples, want %v", ErrLengthMismatch, i, len(t), n)
		}
		floats.Add(sum, t)
	}
	if len(traces) > 1 {
		floats.Scale(1/float64(len(traces)), sum)
	}
	return sum, nil
}

// Difference returns a[i] - b[i].
func Difference(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %v vs %v samples", ErrLengthMismatch, len(a), len(b))
	}
	dst := make([]float64, len(a))
	floats.SubTo(dst, a, b)
	return dst, nil
}

// MovingAverage returns the trailing mean over up to window samples ending at each index.
// The window grows from one sample at the start until it reaches window.
func MovingAverage(trace []float64, window int) ([]float64, error) {
	if window < 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidWindow, window)
	}
	out := make([]float64, len(trace))
	if window == 1 {
		copy(out, trace)
		return out, nil
	}

	var sum float64
	for i, v := range trace {
		sum += v
		n := i + 1
		if i >= window {
			sum -= trace[i-window]
			n = window
		}
		out[i] = sum / float64(n)
	}
	return out, nil
}

// Peak returns the maximum value of trace and the first index at which it occurs.
func Peak(trace []float64) (float64, int, error) {
	if len(trace) == 0 {
		return 0, 0, ErrEmptyInput
	}
	idx := floats.MaxIdx(trace)
	return trace[idx], idx, nil
}
