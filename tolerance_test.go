package onn

import (
	"math"
	"strings"
	"testing"
)

func TestNearEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     float64
		tol      ToleranceConfig
		expected bool
	}{
		{
			name:     "Exact_Equal",
			a:        1.0,
			b:        1.0,
			tol:      StrictTolerance(),
			expected: true,
		},
		{
			name:     "Within_AbsTol",
			a:        1e-6,
			b:        2e-6,
			tol:      DefaultTolerance(),
			expected: true,
		},
		{
			name:     "Outside_AbsTol",
			a:        0,
			b:        1e-3,
			tol:      DefaultTolerance(),
			expected: false,
		},
		{
			name:     "Within_RelTol",
			a:        1000.0,
			b:        1000.05,
			tol:      DefaultTolerance(),
			expected: true,
		},
		{
			name:     "Outside_RelTol",
			a:        1000.0,
			b:        1001.0,
			tol:      DefaultTolerance(),
			expected: false,
		},
		{
			name:     "NaN_Never_Equal",
			a:        math.NaN(),
			b:        math.NaN(),
			tol:      RelaxedTolerance(),
			expected: false,
		},
		{
			name:     "Matching_Infinities",
			a:        math.Inf(1),
			b:        math.Inf(1),
			tol:      StrictTolerance(),
			expected: true,
		},
		{
			name:     "Signed_Zero",
			a:        math.Copysign(0, -1),
			b:        0,
			tol:      StrictTolerance(),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NearEqual(tt.a, tt.b, tt.tol); got != tt.expected {
				t.Errorf("NearEqual(%g, %g) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestVerifySlice(t *testing.T) {
	expected := []float64{1, 2, 3, 4}
	actual := []float64{1, 2.5, 3, 4}

	res := VerifySlice(expected, actual, DefaultTolerance())
	if res.Pass() {
		t.Fatal("expected a failing comparison")
	}
	if res.NumErrors != 1 || res.FirstError != 1 {
		t.Errorf("got %d errors, first at %d", res.NumErrors, res.FirstError)
	}
	if res.MaxAbsError != 0.5 {
		t.Errorf("max abs error = %g, want 0.5", res.MaxAbsError)
	}
	if !strings.HasPrefix(res.String(), "FAIL") {
		t.Errorf("unexpected summary: %s", res)
	}

	res = VerifySlice(expected, expected, StrictTolerance())
	if !res.Pass() {
		t.Errorf("identical slices must pass: %s", res)
	}
}

func TestVerifySliceLengthMismatch(t *testing.T) {
	res := VerifySlice([]float64{1, 2}, []float64{1}, DefaultTolerance())
	if res.Pass() {
		t.Error("length mismatch must fail")
	}
}

func TestMaxAbsDiff(t *testing.T) {
	if d := MaxAbsDiff([]float64{1, 2}, []float64{1.5, 2}); d != 0.5 {
		t.Errorf("got %g, want 0.5", d)
	}
	if d := MaxAbsDiff([]float64{1}, []float64{1, 2}); !math.IsInf(d, 1) {
		t.Errorf("length mismatch must return +Inf, got %g", d)
	}
}
