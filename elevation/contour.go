package elevation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Strategy selects how contour break levels are spaced.
type Strategy string

const (
	// Uniform spaces breaks evenly across the elevation range.
	Uniform Strategy = "uniform"
	// Logarithmic widens bands at the bottom of the range and narrows
	// them toward the top.
	Logarithmic Strategy = "logarithmic"
	// Exponential narrows bands at the bottom of the range and widens
	// them toward the top.
	Exponential Strategy = "exponential"
	// Quantile places breaks at equal-probability points of the elevation
	// distribution.
	Quantile Strategy = "quantile"
)

// ErrUnknownStrategy is returned for a strategy this package does not know.
var ErrUnknownStrategy = errors.New("elevation: unknown contour strategy")

// ErrNoValidData is returned when the grid holds nothing but NoData.
var ErrNoValidData = errors.New("elevation: no valid samples")

// ContourLevels returns the n-1 interior break levels dividing the grid's
// elevation range into n bands. Five uniform bands over [0, 100] break at
// 20, 40, 60 and 80. Unknown strategies are an error, never a silent
// fallback.
func (g *Grid) ContourLevels(n int, strategy Strategy) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("contour bands must be positive, got %d", n)
	}

	minElev, maxElev, ok := g.Range()
	if !ok {
		return nil, ErrNoValidData
	}

	span := maxElev - minElev
	if span == 0 || n == 1 {
		return []float64{}, nil
	}

	levels := make([]float64, 0, n-1)
	switch strategy {
	case Uniform:
		for i := 1; i < n; i++ {
			levels = append(levels, minElev+span*float64(i)/float64(n))
		}
	case Logarithmic:
		// log10(1+9t) maps [0,1] onto [0,1], rising steeply at first.
		for i := 1; i < n; i++ {
			t := float64(i) / float64(n)
			levels = append(levels, minElev+span*math.Log10(1+9*t))
		}
	case Exponential:
		// Inverse of the logarithmic curve.
		for i := 1; i < n; i++ {
			t := float64(i) / float64(n)
			levels = append(levels, minElev+span*(math.Pow(10, t)-1)/9)
		}
	case Quantile:
		samples := g.validSorted()
		if len(samples) == 0 {
			return nil, ErrNoValidData
		}
		for i := 1; i < n; i++ {
			p := float64(i) / float64(n)
			levels = append(levels, stat.Quantile(p, stat.Empirical, samples, nil))
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	return levels, nil
}

// validSorted returns the grid's valid samples in ascending order.
func (g *Grid) validSorted() []float64 {
	samples := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		f := float64(v)
		if g.IsNoData(f) {
			continue
		}
		samples = append(samples, f)
	}
	sort.Float64s(samples)
	return samples
}
