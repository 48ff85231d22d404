package domain

import "math"

// GRS80 ellipsoid parameters, used by ETRS89.
const (
	grs80A = 6378137.0
	grs80F = 1.0 / 298.257222101
)

// PT-TM06 (EPSG:3763) projection parameters: the portal's native grid.
// Natural origin 39°40'05.73"N 8°07'59.19"W, unit scale, zero false offsets.
const (
	tm06Lat0 = 39.66825833333333
	tm06Lon0 = -8.133108333333334
	tm06K0   = 1.0
)

// ProjectToNative converts a WGS84 coordinate (degrees) to the portal's
// native PT-TM06 grid (meters). ETRS89 and WGS84 are treated as coincident,
// which is the accuracy the tiling intersection needs. Coordinates far
// outside the supported territory are rejected rather than extrapolated.
func ProjectToNative(lon, lat float64) (x, y float64, err error) {
	if lat < -89 || lat > 89 {
		return 0, 0, &GeometryError{Op: "project", Message: "latitude out of range"}
	}
	// The series below degrades far from the central meridian; the
	// Portuguese territory sits well within this window.
	if math.Abs(lon-tm06Lon0) > 12 {
		return 0, 0, &GeometryError{Op: "project", Message: "coordinate outside the supported territory"}
	}

	e2 := grs80F * (2 - grs80F)
	ep2 := e2 / (1 - e2)

	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180
	lam0 := tm06Lon0 * math.Pi / 180
	phi0 := tm06Lat0 * math.Pi / 180

	sinPhi := math.Sin(phi)
	cosPhi := math.Cos(phi)
	tanPhi := math.Tan(phi)

	n := grs80A / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := ep2 * cosPhi * cosPhi
	a := (lam - lam0) * cosPhi

	m := meridianArc(phi, e2)
	m0 := meridianArc(phi0, e2)

	x = tm06K0 * n * (a +
		(1-t+c)*a*a*a/6 +
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120)
	y = tm06K0 * (m - m0 + n*tanPhi*(a*a/2+
		(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))
	return x, y, nil
}

// meridianArc returns the ellipsoidal meridian distance from the equator.
func meridianArc(phi, e2 float64) float64 {
	e4 := e2 * e2
	e6 := e4 * e2
	return grs80A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// ProjectBoxToNative projects the corners of a WGS84 box and returns the
// native-grid box covering them. Edges are sampled at the corners only;
// over extents the size of a request batch the bowing of projected edges
// is negligible for intersection purposes.
func ProjectBoxToNative(b BoundingBox) (BoundingBox, error) {
	corners := [][2]float64{
		{b.MinX, b.MinY}, {b.MaxX, b.MinY},
		{b.MaxX, b.MaxY}, {b.MinX, b.MaxY},
	}
	var out BoundingBox
	for i, c := range corners {
		x, y, err := ProjectToNative(c[0], c[1])
		if err != nil {
			return BoundingBox{}, err
		}
		if i == 0 {
			out = BoundingBox{MinX: x, MinY: y, MaxX: x, MaxY: y}
			continue
		}
		out.MinX = math.Min(out.MinX, x)
		out.MinY = math.Min(out.MinY, y)
		out.MaxX = math.Max(out.MaxX, x)
		out.MaxY = math.Max(out.MaxY, y)
	}
	return out, nil
}

// ProjectPolygonToNative projects each vertex of a WGS84 polygon into the
// native grid.
func ProjectPolygonToNative(p Polygon) (Polygon, error) {
	out := Polygon{Vertices: make([]Point, len(p.Vertices))}
	for i, v := range p.Vertices {
		x, y, err := ProjectToNative(v.X, v.Y)
		if err != nil {
			return Polygon{}, err
		}
		out.Vertices[i] = Point{X: x, Y: y}
	}
	return out, nil
}
