// Package geometry implements the 2D affine kernel used by the planner and codec
package geometry

import (
	"math"

	"seehuhn.de/go/geom/matrix"
)

// Epsilon is the tolerance used when deciding whether a closed path needs
// an explicit closing segment.
const Epsilon = 0.001

// Transform is a 2D affine matrix [a b c d e f] mapping
// x' = a*x + c*y + e, y' = b*x + d*y + f
type Transform = matrix.Matrix

// Identity is the neutral transform
var Identity = matrix.Identity

// Point is a position in millimeters
type Point struct {
	X float64 `json:"x" yaml:"x" msgpack:"x"`
	Y float64 `json:"y" yaml:"y" msgpack:"y"`
}

// Path is an ordered polyline. A closed path with N points has an implicit
// segment from the last point back to the first.
type Path struct {
	Points []Point `json:"points"`
	Closed bool    `json:"closed"`
}

// Bounds is an axis-aligned bounding box
type Bounds struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// Width returns the horizontal extent
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the vertical extent
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Translate creates a translation transform
func Translate(x, y float64) Transform {
	return Transform{1, 0, 0, 1, x, y}
}

// Scale creates a scaling transform
func Scale(sx, sy float64) Transform {
	return Transform{sx, 0, 0, sy, 0, 0}
}

// Rotate creates a counter-clockwise rotation about the origin (degrees)
func Rotate(deg float64) Transform {
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	return Transform{cos, sin, -sin, cos, 0, 0}
}

// ApplyTransform maps p through t
func ApplyTransform(p Point, t Transform) Point {
	return Point{
		X: t[0]*p.X + t[2]*p.Y + t[4],
		Y: t[1]*p.X + t[3]*p.Y + t[5],
	}
}

// ComposeTransforms returns the transform that applies local first and then
// parent.
func ComposeTransforms(local, parent Transform) Transform {
	return Transform{
		parent[0]*local[0] + parent[2]*local[1],
		parent[1]*local[0] + parent[3]*local[1],
		parent[0]*local[2] + parent[2]*local[3],
		parent[1]*local[2] + parent[3]*local[3],
		parent[0]*local[4] + parent[2]*local[5] + parent[4],
		parent[1]*local[4] + parent[3]*local[5] + parent[5],
	}
}

// TransformPath returns a copy of path with every point mapped through t
func TransformPath(path Path, t Transform) Path {
	out := Path{Points: make([]Point, len(path.Points)), Closed: path.Closed}
	for i, p := range path.Points {
		out.Points[i] = ApplyTransform(p, t)
	}
	return out
}

// Distance returns the Euclidean distance between a and b
func Distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// ComputeBounds returns the tight bounding box of all points in paths.
// An empty input (or paths without points) yields the zero box.
func ComputeBounds(paths []Path) Bounds {
	var b Bounds
	seen := false
	for _, path := range paths {
		for _, p := range path.Points {
			if !seen {
				b = Bounds{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
				seen = true
				continue
			}
			b.MinX = math.Min(b.MinX, p.X)
			b.MinY = math.Min(b.MinY, p.Y)
			b.MaxX = math.Max(b.MaxX, p.X)
			b.MaxY = math.Max(b.MaxY, p.Y)
		}
	}
	return b
}

// PolygonArea returns the signed shoelace area. Counter-clockwise polygons
// are positive.
func PolygonArea(points []Point) float64 {
	if len(points) < 3 {
		return 0
	}
	sum := 0.0
	for i, p := range points {
		q := points[(i+1)%len(points)]
		sum += p.X*q.Y - q.X*p.Y
	}
	return sum / 2
}

// PathLength sums the segment lengths, including the closing segment of a
// closed path.
func PathLength(path Path) float64 {
	if len(path.Points) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(path.Points); i++ {
		total += Distance(path.Points[i-1], path.Points[i])
	}
	if path.Closed {
		total += Distance(path.Points[len(path.Points)-1], path.Points[0])
	}
	return total
}

// NeedsClosing reports whether a closed path must be finished with an
// explicit segment back to its first point.
func NeedsClosing(path Path) bool {
	if !path.Closed || len(path.Points) < 2 {
		return false
	}
	first, last := path.Points[0], path.Points[len(path.Points)-1]
	return math.Abs(first.X-last.X) > Epsilon || math.Abs(first.Y-last.Y) > Epsilon
}

// Start returns the first point of the path
func (p Path) Start() Point {
	if len(p.Points) == 0 {
		return Point{}
	}
	return p.Points[0]
}

// End returns the point where traversal of the path finishes
func (p Path) End() Point {
	if len(p.Points) == 0 {
		return Point{}
	}
	if NeedsClosing(p) {
		return p.Points[0]
	}
	return p.Points[len(p.Points)-1]
}
