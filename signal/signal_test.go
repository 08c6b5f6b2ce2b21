package signal

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestAverage(t *testing.T) {
	tests := []struct {
		name    string
		traces  [][]float64
		want    []float64
		wantErr error
	}{
		{
			name:   "single trace is returned exactly",
			traces: [][]float64{{0.1, 255, -3.7}},
			want:   []float64{0.1, 255, -3.7},
		},
		{
			name:   "two traces",
			traces: [][]float64{{0, 2, 4}, {2, 4, 8}},
			want:   []float64{1, 3, 6},
		},
		{
			name:    "empty",
			traces:  nil,
			wantErr: ErrEmptyInput,
		},
		{
			name:    "ragged",
			traces:  [][]float64{{1, 2}, {1}},
			wantErr: ErrLengthMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Average(tt.traces)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Average() error = %v, want %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Average() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAverage_DoesNotAliasInput(t *testing.T) {
	in := []float64{1, 2, 3}
	got, err := Average([][]float64{in})
	if err != nil {
		t.Fatal(err)
	}
	got[0] = 42
	if in[0] != 1 {
		t.Errorf("Average() result aliases its input")
	}
}

func TestDifference(t *testing.T) {
	a := []float64{1.5, -2, 8, 0}
	got, err := Difference(a, a)
	if err != nil {
		t.Fatalf("Difference() unexpected error : %v", err)
	}
	if want := []float64{0, 0, 0, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("Difference(a, a) = %v, want %v", got, want)
	}

	got, err = Difference([]float64{7, 8}, []float64{1, 0.5})
	if err != nil {
		t.Fatalf("Difference() unexpected error : %v", err)
	}
	if want := []float64{6, 7.5}; !reflect.DeepEqual(got, want) {
		t.Errorf("Difference() = %v, want %v", got, want)
	}

	if _, err := Difference([]float64{1}, []float64{1, 2}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Difference() error = %v, want ErrLengthMismatch", err)
	}
}

func TestMovingAverage(t *testing.T) {
	tests := []struct {
		name   string
		trace  []float64
		window int
		want   []float64
	}{
		{
			name:   "identity",
			trace:  []float64{3, 1, 4, 1, 5},
			window: 1,
			want:   []float64{3, 1, 4, 1, 5},
		},
		{
			name:   "growing then fixed window",
			trace:  []float64{2, 4, 6, 8, 10},
			window: 3,
			want:   []float64{2, 3, 4, 6, 8},
		},
		{
			name:   "window longer than trace",
			trace:  []float64{1, 3},
			window: 10,
			want:   []float64{1, 2},
		},
		{
			name:   "empty",
			trace:  []float64{},
			window: 4,
			want:   []float64{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MovingAverage(tt.trace, tt.window)
			if err != nil {
				t.Fatalf("MovingAverage() unexpected error : %v", err)
			}
			if len(got) != len(tt.trace) {
				t.Fatalf("len(MovingAverage()) = %v, want %v", len(got), len(tt.trace))
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-12 {
					t.Errorf("MovingAverage()[%v] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}

	if _, err := MovingAverage([]float64{1}, 0); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("MovingAverage() error = %v, want ErrInvalidWindow", err)
	}
}

//naive full-window reference for the running sum
func TestMovingAverage_MatchesNaive(t *testing.T) {
	trace := make([]float64, 200)
	for i := range trace {
		trace[i] = math.Sin(float64(i)) * float64(i%17)
	}
	for _, window := range []int{2, 5, 16, 199, 250} {
		got, err := MovingAverage(trace, window)
		if err != nil {
			t.Fatal(err)
		}
		for i := range trace {
			start := i - window + 1
			if start < 0 {
				start = 0
			}
			var sum float64
			for _, v := range trace[start : i+1] {
				sum += v
			}
			want := sum / float64(i+1-start)
			if math.Abs(got[i]-want) > 1e-9 {
				t.Fatalf("window %v index %v: got %v want %v", window, i, got[i], want)
			}
		}
	}
}

func TestPeak(t *testing.T) {
	v, idx, err := Peak([]float64{-1, 6, 2, 6})
	if err != nil {
		t.Fatalf("Peak() unexpected error : %v", err)
	}
	if v != 6 || idx != 1 {
		t.Errorf("Peak() = %v, %v, want 6, 1", v, idx)
	}
	if _, _, err := Peak(nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Peak() error = %v, want ErrEmptyInput", err)
	}
}
