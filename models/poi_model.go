package models

// CoordinateSource tracks how a POI's coordinates were (or were not) resolved.
// A POI either came with coordinates from the KML, still needs a forward
// geocoding lookup, was geocoded after import, or the lookup failed.
type CoordinateSource string

const (
	SourceKML             CoordinateSource = "kml"
	SourceGeocodingNeeded CoordinateSource = "geocoding_needed"
	SourceGeocoded        CoordinateSource = "geocoded"
	SourceFailed          CoordinateSource = "failed"
	SourceNoAddress       CoordinateSource = "no_address"
	SourceNone            CoordinateSource = "none"
)

// GeocodingPrecision is the provider-independent confidence scale. Each
// provider adapter maps its own accuracy enum onto this one.
type GeocodingPrecision string

const (
	PrecisionHigh    GeocodingPrecision = "high"
	PrecisionMedium  GeocodingPrecision = "medium"
	PrecisionLow     GeocodingPrecision = "low"
	PrecisionVeryLow GeocodingPrecision = "very_low"
	PrecisionUnknown GeocodingPrecision = "unknown"
)

// POI is one mappable location. Lat and Lng are pointers so that "no
// coordinates" is representable: they are either both set or both nil, and
// CoordinateSource says whether resolution was never attempted, failed, or
// succeeded.
type POI struct {
	Name               string             `json:"name"`
	Description        string             `json:"description"`
	Address            string             `json:"address"`
	Website            string             `json:"website"`
	Photo              string             `json:"photo"`
	Logo               string             `json:"logo"`
	Lat                *float64           `json:"lat"`
	Lng                *float64           `json:"lng"`
	CoordinateSource   CoordinateSource   `json:"coordinate_source"`
	NeedsGeocoding     bool               `json:"needs_geocoding"`
	ReverseGeocoded    bool               `json:"reverse_geocoded"`
	GeocodedAddress    string             `json:"geocoded_address,omitempty"`
	GeocodingPrecision GeocodingPrecision `json:"geocoding_precision,omitempty"`
}

// HasCoordinates reports whether both lat and lng are present.
func (p *POI) HasCoordinates() bool {
	return p.Lat != nil && p.Lng != nil
}

// SetCoordinates assigns both values at once so the both-or-neither
// invariant cannot be broken halfway.
func (p *POI) SetCoordinates(lat, lng float64) {
	p.Lat = &lat
	p.Lng = &lng
}

// Category is a user-defined POI grouping. Key is the stable slug identity;
// renaming a category never changes its key.
type Category struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ImportBatch is the transient output of one KML parse, staged until commit.
type ImportBatch struct {
	POIs           []POI             `json:"pois"`
	POIsByCategory map[string][]POI  `json:"pois_by_category"`
	Categories     []string          `json:"categories"`
	CategoryNames  map[string]string `json:"category_names"`
	Total          int               `json:"total"`
	DebugLog       []string          `json:"debug_log"`
}

// GeocodePassStats accumulates one forward or reverse geocoding pass.
type GeocodePassStats struct {
	Processed      int      `json:"processed"`
	AlreadyHad     int      `json:"already_had"`
	Succeeded      int      `json:"succeeded"`
	Failed         int      `json:"failed"`
	FailureReasons []string `json:"failure_reasons,omitempty"`
}

// ImportStats is returned from a commit so the operator can triage without logs.
type ImportStats struct {
	Total           int                      `json:"total"`
	WithCoordinates int                      `json:"with_kml_coordinates"`
	NeedsGeocoding  int                      `json:"needing_geocoding"`
	BySource        map[CoordinateSource]int `json:"by_source"`
	Forward         *GeocodePassStats        `json:"forward_geocoding,omitempty"`
	Reverse         *GeocodePassStats        `json:"reverse_geocoding,omitempty"`
}

// ReverseGeocodeStats is the result shape of the standalone store-wide pass.
type ReverseGeocodeStats struct {
	TotalProcessed int `json:"total_processed"`
	AlreadyHad     int `json:"already_had_addresses"`
	Succeeded      int `json:"successfully_reverse_geocoded"`
	Failed         int `json:"failed_reverse_geocoding"`
}

// ActivityEntry is one line of the bounded admin activity log.
type ActivityEntry struct {
	Time   int64  `json:"time"`
	Action string `json:"action"`
}
