package cam

import (
	"math"
	"slices"

	"kerf/geometry"
)

// OrderShortest reorders paths with a greedy nearest-start heuristic
// beginning at cursor. Paths are never reversed. The cursor after the last
// path is returned alongside the ordering.
func OrderShortest(paths []geometry.Path, cursor geometry.Point) ([]geometry.Path, geometry.Point) {
	remaining := slices.Clone(paths)
	ordered := make([]geometry.Path, 0, len(paths))

	for len(remaining) > 0 {
		best := 0
		bestDist := math.Inf(1)
		for i, p := range remaining {
			d := geometry.Distance(cursor, p.Start())
			if d < bestDist {
				best, bestDist = i, d
			}
		}
		next := remaining[best]
		ordered = append(ordered, next)
		cursor = next.End()
		remaining = slices.Delete(remaining, best, best+1)
	}
	return ordered, cursor
}

// SortInsideOut sorts paths by ascending absolute area so enclosed
// geometry is cut before its surroundings. Equal areas keep their order.
func SortInsideOut(paths []geometry.Path) []geometry.Path {
	ordered := slices.Clone(paths)
	slices.SortStableFunc(ordered, func(a, b geometry.Path) int {
		aa := math.Abs(geometry.PolygonArea(a.Points))
		ba := math.Abs(geometry.PolygonArea(b.Points))
		switch {
		case aa < ba:
			return -1
		case aa > ba:
			return 1
		}
		return 0
	})
	return ordered
}
