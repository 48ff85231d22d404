package domain

import "testing"

func TestAOIValidate(t *testing.T) {
	validPoly := Polygon{Vertices: []Point{{-8.3, 39.5}, {-8.0, 39.5}, {-8.1, 39.8}}}

	tests := []struct {
		name    string
		aoi     AreaOfInterest
		wantErr bool
	}{
		{
			name:    "valid bbox",
			aoi:     AOIFromBBox(-8.3, 39.5, -8.0, 39.8),
			wantErr: false,
		},
		{
			name:    "valid polygon",
			aoi:     AOIFromPolygon(validPoly),
			wantErr: false,
		},
		{
			name:    "empty",
			aoi:     AreaOfInterest{},
			wantErr: true,
		},
		{
			name: "both geometries set",
			aoi: AreaOfInterest{
				BBox:    &BoundingBox{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1},
				Polygon: &validPoly,
			},
			wantErr: true,
		},
		{
			name:    "degenerate bbox",
			aoi:     AOIFromBBox(-8.0, 39.5, -8.0, 39.8),
			wantErr: true,
		},
		{
			name:    "bbox outside WGS84 range",
			aoi:     AOIFromBBox(-200, 39.5, -8.0, 39.8),
			wantErr: true,
		},
		{
			name:    "invalid polygon",
			aoi:     AOIFromPolygon(Polygon{Vertices: []Point{{0, 0}, {1, 1}}}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.aoi.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAOIExtent(t *testing.T) {
	box := AOIFromBBox(-8.3, 39.5, -8.0, 39.8)
	if got := box.Extent(); got != NewBoundingBox(-8.3, 39.5, -8.0, 39.8) {
		t.Errorf("bbox Extent() = %v", got)
	}

	poly := AOIFromPolygon(Polygon{Vertices: []Point{{-8.3, 39.5}, {-8.0, 39.6}, {-8.1, 39.8}}})
	want := NewBoundingBox(-8.3, 39.5, -8.0, 39.8)
	if got := poly.Extent(); got != want {
		t.Errorf("polygon Extent() = %v, want %v", got, want)
	}
}

func TestNativeAOIIntersects(t *testing.T) {
	aoi := AOIFromBBox(-8.3, 39.5, -8.0, 39.8)
	native, err := aoi.ToNative()
	if err != nil {
		t.Fatalf("ToNative() error = %v", err)
	}

	// A small native box around the grid origin lies inside the AOI.
	if !native.Intersects(NewBoundingBox(-1000, -1000, 1000, 1000)) {
		t.Error("box at the grid origin should intersect")
	}

	// A box 100 km east is well outside.
	if native.Intersects(NewBoundingBox(100000, 0, 101000, 1000)) {
		t.Error("box 100 km east should not intersect")
	}
}

func TestNativeAOIPolygonIntersects(t *testing.T) {
	aoi := AOIFromPolygon(Polygon{Vertices: []Point{
		{-8.3, 39.5}, {-8.0, 39.5}, {-8.0, 39.8}, {-8.3, 39.8},
	}})
	native, err := aoi.ToNative()
	if err != nil {
		t.Fatalf("ToNative() error = %v", err)
	}

	if !native.Intersects(NewBoundingBox(-1000, -1000, 1000, 1000)) {
		t.Error("box at the grid origin should intersect")
	}
	if native.Intersects(NewBoundingBox(200000, 200000, 201000, 201000)) {
		t.Error("distant box should not intersect")
	}
}
