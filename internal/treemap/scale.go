package treemap

import (
	"math"
	"sort"

	"github.com/Zachkp/bond-site/internal/payload"
)

// collapseWidth is the quantile range below which every value maps to the
// palette midpoint.
const collapseWidth = 1e-9

// Options tune the color mapping and the tooltip formatting.
type Options struct {
	LowPercentile  float64
	HighPercentile float64
	Gamma          float64

	ColorCol    string
	RateCol     string
	DurationCol string
	PercentCols []string
}

func DefaultOptions() Options {
	return Options{
		LowPercentile:  0.05,
		HighPercentile: 0.85,
		Gamma:          0.65,
		ColorCol:       "YTM",
		RateCol:        "YTM",
		DurationCol:    "YEARS",
		PercentCols:    []string{"YTM", "COUPONPERCENT"},
	}
}

// Quantile returns the p-quantile of an ascending slice, interpolating
// linearly between the neighbouring order statistics. An empty slice
// yields 0.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	i := float64(n-1) * p
	lo := int(math.Floor(i))
	hi := int(math.Ceil(i))
	frac := i - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// ParseYield reads a YTM cell. ok is false for anything that is not a
// finite number after decimal-comma normalization.
func ParseYield(v payload.Value) (float64, bool) {
	return v.Float()
}

// YieldScale maps yields onto [0,1] between two quantiles, then applies a
// power-law contrast curve.
type YieldScale struct {
	Lo, Hi float64
	Gamma  float64
}

// NewYieldScale computes the quantile bounds from the parseable values.
func NewYieldScale(values []float64, opts Options) YieldScale {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			sorted = append(sorted, v)
		}
	}
	sort.Float64s(sorted)
	return YieldScale{
		Lo:    Quantile(sorted, opts.LowPercentile),
		Hi:    Quantile(sorted, opts.HighPercentile),
		Gamma: opts.Gamma,
	}
}

// Normalize clamps v into [Lo, Hi] and rescales it to [0,1].
func (s YieldScale) Normalize(v float64) float64 {
	if s.Hi-s.Lo < collapseWidth {
		return 0.5
	}
	if v < s.Lo {
		v = s.Lo
	}
	if v > s.Hi {
		v = s.Hi
	}
	return (v - s.Lo) / (s.Hi - s.Lo)
}

// Color returns the palette position for a yield. Missing yields sit at the
// neutral midpoint and skip the contrast curve.
func (s YieldScale) Color(v float64, ok bool) float64 {
	if !ok {
		return 0.5
	}
	return math.Pow(s.Normalize(v), s.Gamma)
}

// colors computes one palette position per row, fresh on every call.
func colors(rows []payload.Row, opts Options) []float64 {
	parsed := make([]float64, len(rows))
	valid := make([]bool, len(rows))
	present := make([]float64, 0, len(rows))
	for i, row := range rows {
		parsed[i], valid[i] = ParseYield(row.Get(opts.ColorCol))
		if valid[i] {
			present = append(present, parsed[i])
		}
	}

	scale := NewYieldScale(present, opts)
	out := make([]float64, len(rows))
	for i := range rows {
		out[i] = scale.Color(parsed[i], valid[i])
	}
	return out
}
