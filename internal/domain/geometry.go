// Package domain contains the core entities and value objects of the
// download pipeline: areas of interest, collections, tiles and tasks.
package domain

import (
	"fmt"
	"math"
)

// Common SRID constants.
const (
	SRIDWGS84  = 4326 // WGS 84 geographic coordinates
	SRIDPTTM06 = 3763 // ETRS89 / Portugal TM06, the portal's native grid
)

// Approximate length of one degree at the equator, matching the area
// arithmetic the portal applies to its request cap.
const kmPerDegree = 111.0

// BoundingBox is an axis-aligned extent. Coordinates are interpreted in the
// SRID of whatever context produced the box (WGS84 degrees or native-grid
// meters).
type BoundingBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// NewBoundingBox builds a box from min/max longitude and latitude.
func NewBoundingBox(minLon, minLat, maxLon, maxLat float64) BoundingBox {
	return BoundingBox{MinX: minLon, MinY: minLat, MaxX: maxLon, MaxY: maxLat}
}

// IsValid checks that the box has positive extent on both axes.
func (b BoundingBox) IsValid() bool {
	return b.MinX < b.MaxX && b.MinY < b.MaxY
}

// Intersects reports whether two boxes overlap. Edge-touching boxes count
// as intersecting, matching the portal's inclusive bbox search.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// Union returns the smallest box covering both.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// AreaKm2 returns the approximate area of a WGS84 box in square kilometers,
// cosine-corrected at the mid latitude. This is the same arithmetic the
// portal applies to its per-request cap, so cap checks agree with it.
func (b BoundingBox) AreaKm2() float64 {
	midLat := (b.MinY + b.MaxY) / 2
	width := (b.MaxX - b.MinX) * kmPerDegree * math.Cos(midLat*math.Pi/180)
	height := (b.MaxY - b.MinY) * kmPerDegree
	return width * height
}

// NativeAreaKm2 returns the area of a native-grid box (meters) in square
// kilometers.
func (b BoundingBox) NativeAreaKm2() float64 {
	return (b.MaxX - b.MinX) * (b.MaxY - b.MinY) / 1e6
}

// DivideByArea splits a WGS84 box into a grid of sub-boxes whose
// approximate area each stays at or below maxKm2. A box already under the
// cap is returned as-is.
func (b BoundingBox) DivideByArea(maxKm2 float64) []BoundingBox {
	if maxKm2 <= 0 || b.AreaKm2() <= maxKm2 {
		return []BoundingBox{b}
	}

	midLat := (b.MinY + b.MaxY) / 2
	widthKm := (b.MaxX - b.MinX) * kmPerDegree * math.Cos(midLat*math.Pi/180)
	heightKm := (b.MaxY - b.MinY) * kmPerDegree
	side := math.Sqrt(maxKm2)
	splitsX := int(math.Ceil(widthKm / side))
	splitsY := int(math.Ceil(heightKm / side))

	deltaLon := (b.MaxX - b.MinX) / float64(splitsX)
	deltaLat := (b.MaxY - b.MinY) / float64(splitsY)

	out := make([]BoundingBox, 0, splitsX*splitsY)
	for i := 0; i < splitsX; i++ {
		for j := 0; j < splitsY; j++ {
			minLon := b.MinX + float64(i)*deltaLon
			minLat := b.MinY + float64(j)*deltaLat
			out = append(out, BoundingBox{
				MinX: minLon,
				MinY: minLat,
				MaxX: math.Min(minLon+deltaLon, b.MaxX),
				MaxY: math.Min(minLat+deltaLat, b.MaxY),
			})
		}
	}
	return out
}

// String returns the box as "minX,minY,maxX,maxY".
func (b BoundingBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// Point is a 2D coordinate.
type Point struct {
	X float64
	Y float64
}

// Polygon is a simple (non-self-intersecting) ring of vertices. The closing
// vertex is implicit: Vertices[len-1] connects back to Vertices[0].
type Polygon struct {
	Vertices []Point
}

// BoundingBox returns the polygon's extent.
func (p Polygon) BoundingBox() BoundingBox {
	if len(p.Vertices) == 0 {
		return BoundingBox{}
	}
	b := BoundingBox{
		MinX: p.Vertices[0].X, MaxX: p.Vertices[0].X,
		MinY: p.Vertices[0].Y, MaxY: p.Vertices[0].Y,
	}
	for _, v := range p.Vertices[1:] {
		b.MinX = math.Min(b.MinX, v.X)
		b.MaxX = math.Max(b.MaxX, v.X)
		b.MinY = math.Min(b.MinY, v.Y)
		b.MaxY = math.Max(b.MaxY, v.Y)
	}
	return b
}

// SignedArea returns the shoelace area of the ring, positive for
// counter-clockwise winding. Units follow the vertex units.
func (p Polygon) SignedArea() float64 {
	n := len(p.Vertices)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		a := p.Vertices[i]
		b := p.Vertices[(i+1)%n]
		sum += a.X*b.Y - b.X*a.Y
	}
	return sum / 2
}

// Validate checks that the polygon is a usable AOI: at least three vertices,
// positive area, and no self-intersections.
func (p Polygon) Validate() error {
	if len(p.Vertices) < 3 {
		return &GeometryError{Op: "validate", Message: "polygon needs at least 3 vertices"}
	}
	if math.Abs(p.SignedArea()) == 0 {
		return &GeometryError{Op: "validate", Message: "polygon has zero area"}
	}
	if p.selfIntersects() {
		return &GeometryError{Op: "validate", Message: "polygon is self-intersecting"}
	}
	return nil
}

// selfIntersects checks every non-adjacent edge pair. AOIs are small, so
// the quadratic scan is fine.
func (p Polygon) selfIntersects() bool {
	n := len(p.Vertices)
	for i := 0; i < n; i++ {
		a1 := p.Vertices[i]
		a2 := p.Vertices[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Skip adjacent edges, which always share a vertex.
			if j == i || (j+1)%n == i || (i+1)%n == j {
				continue
			}
			b1 := p.Vertices[j]
			b2 := p.Vertices[(j+1)%n]
			if segmentsCross(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

// Contains reports whether the point lies inside the ring (ray casting).
// Points exactly on an edge may land on either side; tile intersection
// additionally tests edges, so the ambiguity does not matter there.
func (p Polygon) Contains(pt Point) bool {
	n := len(p.Vertices)
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a := p.Vertices[i]
		b := p.Vertices[j]
		if (a.Y > pt.Y) != (b.Y > pt.Y) &&
			pt.X < (b.X-a.X)*(pt.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// IntersectsBox reports whether the polygon and the box overlap.
func (p Polygon) IntersectsBox(b BoundingBox) bool {
	if !p.BoundingBox().Intersects(b) {
		return false
	}
	// Any box corner inside the polygon.
	corners := []Point{
		{b.MinX, b.MinY}, {b.MaxX, b.MinY},
		{b.MaxX, b.MaxY}, {b.MinX, b.MaxY},
	}
	for _, c := range corners {
		if p.Contains(c) {
			return true
		}
	}
	// Any polygon vertex inside the box.
	for _, v := range p.Vertices {
		if v.X >= b.MinX && v.X <= b.MaxX && v.Y >= b.MinY && v.Y <= b.MaxY {
			return true
		}
	}
	// Any polygon edge crossing a box edge.
	edges := [][2]Point{
		{corners[0], corners[1]},
		{corners[1], corners[2]},
		{corners[2], corners[3]},
		{corners[3], corners[0]},
	}
	n := len(p.Vertices)
	for i := 0; i < n; i++ {
		a1 := p.Vertices[i]
		a2 := p.Vertices[(i+1)%n]
		for _, e := range edges {
			if segmentsCross(a1, a2, e[0], e[1]) {
				return true
			}
		}
	}
	return false
}

// segmentsCross reports proper intersection of segments a1-a2 and b1-b2,
// including collinear overlap.
func segmentsCross(a1, a2, b1, b2 Point) bool {
	d1 := cross(b1, b2, a1)
	d2 := cross(b1, b2, a2)
	d3 := cross(a1, a2, b1)
	d4 := cross(a1, a2, b2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	if d1 == 0 && onSegment(b1, b2, a1) {
		return true
	}
	if d2 == 0 && onSegment(b1, b2, a2) {
		return true
	}
	if d3 == 0 && onSegment(a1, a2, b1) {
		return true
	}
	if d4 == 0 && onSegment(a1, a2, b2) {
		return true
	}
	return false
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func onSegment(a, b, p Point) bool {
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}
