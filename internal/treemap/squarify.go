package treemap

import (
	"math"
	"sort"
)

// Rect is an axis-aligned cell in pixel space.
type Rect struct {
	X, Y, W, H float64
}

type weighted struct {
	idx  int
	area float64
}

// Squarify lays values out inside bounds with the squarified treemap
// algorithm. The result is in input order. Non-positive values get an empty
// rect at the bounds origin.
func Squarify(values []float64, bounds Rect) []Rect {
	out := make([]Rect, len(values))
	for i := range out {
		out[i] = Rect{X: bounds.X, Y: bounds.Y}
	}

	total := 0.0
	for _, v := range values {
		if v > 0 && !math.IsInf(v, 0) {
			total += v
		}
	}
	if total == 0 || bounds.W <= 0 || bounds.H <= 0 {
		return out
	}

	scale := bounds.W * bounds.H / total
	items := make([]weighted, 0, len(values))
	for i, v := range values {
		if v > 0 && !math.IsInf(v, 0) {
			items = append(items, weighted{idx: i, area: v * scale})
		}
	}
	sort.SliceStable(items, func(a, b int) bool { return items[a].area > items[b].area })

	free := bounds
	for len(items) > 0 {
		side := math.Min(free.W, free.H)
		n := 1
		for n < len(items) && worst(items[:n+1], side) <= worst(items[:n], side) {
			n++
		}
		free = layoutRow(items[:n], free, out)
		items = items[n:]
	}
	return out
}

// worst is the largest aspect ratio in a row laid along a side of length w.
func worst(row []weighted, w float64) float64 {
	s, lo, hi := 0.0, math.Inf(1), 0.0
	for _, it := range row {
		s += it.area
		lo = math.Min(lo, it.area)
		hi = math.Max(hi, it.area)
	}
	if s == 0 || lo == 0 {
		return math.Inf(1)
	}
	return math.Max(w*w*hi/(s*s), s*s/(w*w*lo))
}

func layoutRow(row []weighted, free Rect, out []Rect) Rect {
	s := 0.0
	for _, it := range row {
		s += it.area
	}

	if free.W >= free.H {
		width := s / free.H
		y := free.Y
		for _, it := range row {
			h := it.area / width
			out[it.idx] = Rect{X: free.X, Y: y, W: width, H: h}
			y += h
		}
		return Rect{X: free.X + width, Y: free.Y, W: free.W - width, H: free.H}
	}

	height := s / free.W
	x := free.X
	for _, it := range row {
		w := it.area / height
		out[it.idx] = Rect{X: x, Y: free.Y, W: w, H: height}
		x += w
	}
	return Rect{X: free.X, Y: free.Y + height, W: free.W, H: free.H - height}
}
