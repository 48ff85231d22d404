package portal

// Wire types for the portal's STAC-flavored search endpoint. Only the
// fields the pipeline consumes are modeled.

type searchRequest struct {
	BBox        []float64     `json:"bbox,omitempty"`
	Filter      *searchFilter `json:"filter,omitempty"`
	Collections []string      `json:"collections,omitempty"`
	Limit       int           `json:"limit"`
}

// searchFilter is the CQL "intersects" filter used for polygon AOIs.
type searchFilter struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

type geoJSONGeometry struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

type searchResponse struct {
	Features []searchFeature `json:"features"`
}

type searchFeature struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	BBox       []float64              `json:"bbox"`
	Links      []searchLink           `json:"links"`
	Assets     map[string]searchAsset `json:"assets"`
}

type searchLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type searchAsset struct {
	Href string `json:"href"`
	Type string `json:"type"`
}
