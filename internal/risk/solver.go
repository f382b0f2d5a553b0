// Package risk holds the advisory solvers: liquidation price and implied
// volatility. They run on float64, never touch engine state and report
// convergence instead of failing.
package risk

import (
	"context"
	"math"
)

const (
	DefaultMaxIterations = 100
	DefaultTolerance     = 1e-6
)

// Bisect finds a root of f in [lo, hi]. Without a sign change across the
// bracket it returns the endpoint where |f| is smaller, unconverged.
// Convergence is reached when the bracket shrinks below tol relative to its
// midpoint or f hits zero.
func Bisect(f func(float64) float64, lo, hi float64, maxIter int, tol float64) (float64, bool) {
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}
	flo, fhi := f(lo), f(hi)
	if math.IsNaN(flo) || math.IsNaN(fhi) {
		return 0, false
	}
	if flo == 0 {
		return lo, true
	}
	if fhi == 0 {
		return hi, true
	}
	if (flo > 0) == (fhi > 0) {
		if math.Abs(fhi) < math.Abs(flo) {
			return hi, false
		}
		return lo, false
	}

	mid := lo
	for i := 0; i < maxIter; i++ {
		mid = lo + (hi-lo)/2
		fm := f(mid)
		if fm == 0 || (hi-lo)/2 <= tol*math.Abs(mid) {
			return mid, true
		}
		if (fm > 0) == (flo > 0) {
			lo, flo = mid, fm
		} else {
			hi = mid
		}
	}
	return mid, false
}

// Result is a solver outcome.
type Result struct {
	Value     float64
	Converged bool
}

// SolveWithDeadline runs fn on its own goroutine and gives up when ctx is
// done. The abandoned goroutine finishes in the background and its result is
// dropped.
func SolveWithDeadline(ctx context.Context, fn func() (float64, bool)) (Result, error) {
	done := make(chan Result, 1)
	go func() {
		v, ok := fn()
		done <- Result{Value: v, Converged: ok}
	}()

	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
