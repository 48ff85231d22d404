package domain

// Collection identifies one dataset family published by the portal, with
// its own independent tile catalog.
type Collection struct {
	ID     string // Identifier recognized by the portal (e.g. "MDT-2m")
	Label  string // Human label, also the output subdirectory name
	Raster bool   // Raster collections are eligible for mosaicking
}

// The portal's published collections. The catalog files on disk are the
// authoritative list; these are the defaults used when no catalog metadata
// is present and for the "all collections" selection.
var KnownCollections = []Collection{
	{ID: "LAZ", Label: "LAZ", Raster: false},
	{ID: "MDS-2m", Label: "MDS-2m", Raster: true},
	{ID: "MDS-50cm", Label: "MDS-50cm", Raster: true},
	{ID: "MDT-2m", Label: "MDT-2m", Raster: true},
	{ID: "MDT-50cm", Label: "MDT-50cm", Raster: true},
}

// KnownCollection looks up a known collection by ID.
func KnownCollection(id string) (Collection, bool) {
	for _, c := range KnownCollections {
		if c.ID == id {
			return c, true
		}
	}
	return Collection{}, false
}

// KnownCollectionIDs returns the IDs of all known collections in order.
func KnownCollectionIDs() []string {
	ids := make([]string, len(KnownCollections))
	for i, c := range KnownCollections {
		ids[i] = c.ID
	}
	return ids
}

// FileExtension maps an asset MIME type to the extension used for the
// downloaded file. Unknown types fall back to ".bin".
func FileExtension(mimeType string) string {
	switch mimeType {
	case "image/tiff; application=geotiff", "image/tiff":
		return ".tif"
	case "application/vnd.laszip", "application/x-las":
		return ".laz"
	case "application/json":
		return ".json"
	case "text/xml":
		return ".xml"
	default:
		return ".bin"
	}
}
