package domain

// AreaOfInterest is the caller-supplied region to cover, given in WGS84 as
// either a bounding box or a simple polygon. Exactly one of the two is set.
type AreaOfInterest struct {
	BBox    *BoundingBox
	Polygon *Polygon
}

// AOIFromBBox builds a bounding-box AOI.
func AOIFromBBox(minLon, minLat, maxLon, maxLat float64) AreaOfInterest {
	b := NewBoundingBox(minLon, minLat, maxLon, maxLat)
	return AreaOfInterest{BBox: &b}
}

// AOIFromPolygon builds a polygon AOI.
func AOIFromPolygon(p Polygon) AreaOfInterest {
	return AreaOfInterest{Polygon: &p}
}

// Validate checks the AOI invariants: exactly one geometry, non-degenerate,
// and for polygons a valid simple ring.
func (a AreaOfInterest) Validate() error {
	switch {
	case a.BBox == nil && a.Polygon == nil:
		return &GeometryError{Op: "validate", Message: "area of interest is empty"}
	case a.BBox != nil && a.Polygon != nil:
		return &GeometryError{Op: "validate", Message: "area of interest has both a bbox and a polygon"}
	case a.BBox != nil:
		if !a.BBox.IsValid() {
			return &GeometryError{Op: "validate", Message: "bounding box has no area"}
		}
		if a.BBox.MinX < -180 || a.BBox.MaxX > 180 || a.BBox.MinY < -90 || a.BBox.MaxY > 90 {
			return &GeometryError{Op: "validate", Message: "bounding box outside WGS84 range"}
		}
		return nil
	default:
		return a.Polygon.Validate()
	}
}

// Extent returns the WGS84 bounding box of the AOI.
func (a AreaOfInterest) Extent() BoundingBox {
	if a.BBox != nil {
		return *a.BBox
	}
	if a.Polygon != nil {
		return a.Polygon.BoundingBox()
	}
	return BoundingBox{}
}

// IntersectsNative reports whether the AOI, projected into the native grid,
// overlaps the given native-grid box. The projected geometries are computed
// once by the caller and passed in to keep the per-tile test cheap.
type NativeAOI struct {
	BBox    *BoundingBox
	Polygon *Polygon
}

// ToNative projects the AOI into the portal's native grid.
func (a AreaOfInterest) ToNative() (NativeAOI, error) {
	if a.BBox != nil {
		nb, err := ProjectBoxToNative(*a.BBox)
		if err != nil {
			return NativeAOI{}, err
		}
		return NativeAOI{BBox: &nb}, nil
	}
	np, err := ProjectPolygonToNative(*a.Polygon)
	if err != nil {
		return NativeAOI{}, err
	}
	return NativeAOI{Polygon: &np}, nil
}

// Intersects reports whether the native AOI overlaps a native-grid box.
func (n NativeAOI) Intersects(b BoundingBox) bool {
	if n.BBox != nil {
		return n.BBox.Intersects(b)
	}
	if n.Polygon != nil {
		return n.Polygon.IntersectsBox(b)
	}
	return false
}
