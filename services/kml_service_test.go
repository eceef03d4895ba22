package services

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"poi-server/models"
	"poi-server/utils/errors"
)

func newTestKMLService() *KMLService {
	return NewKMLService(NewExtractService(nil))
}

const restaurantsKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml>
  <Document>
    <Folder>
      <name>Restaurants</name>
      <Placemark>
        <name>Test Cafe</name>
        <Point><coordinates>-73.9857,40.7484,0</coordinates></Point>
      </Placemark>
    </Folder>
  </Document>
</kml>`

func TestParseRestaurantsFolder(t *testing.T) {
	batch, err := newTestKMLService().Parse(context.Background(), []byte(restaurantsKML), "kml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if batch.Total != 1 {
		t.Fatalf("total = %d, want 1", batch.Total)
	}
	if name := batch.CategoryNames["restaurants"]; name != "Restaurants" {
		t.Errorf("category_names[restaurants] = %q, want %q", name, "Restaurants")
	}
	pois := batch.POIsByCategory["restaurants"]
	if len(pois) != 1 {
		t.Fatalf("restaurants POIs = %d, want 1", len(pois))
	}
	poi := pois[0]
	if poi.Name != "Test Cafe" {
		t.Errorf("name = %q, want Test Cafe", poi.Name)
	}
	if !poi.HasCoordinates() || *poi.Lat != 40.7484 || *poi.Lng != -73.9857 {
		t.Errorf("coordinates = (%v, %v), want (40.7484, -73.9857)", poi.Lat, poi.Lng)
	}
	if poi.CoordinateSource != models.SourceKML {
		t.Errorf("coordinate_source = %q, want kml", poi.CoordinateSource)
	}
}

func TestParseMarksGeocodingNeeded(t *testing.T) {
	kml := `<kml><Document><Folder>
		<name>Offices</name>
		<Placemark>
			<name>HQ</name>
			<description>123 Main Street, New York, NY 10001</description>
		</Placemark>
	</Folder></Document></kml>`

	batch, err := newTestKMLService().Parse(context.Background(), []byte(kml), "kml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	pois := batch.POIsByCategory["offices"]
	if len(pois) != 1 {
		t.Fatalf("offices POIs = %d, want 1", len(pois))
	}
	poi := pois[0]
	if poi.Address != "123 Main Street, New York, NY 10001" {
		t.Errorf("address = %q, want the exact description address", poi.Address)
	}
	if poi.CoordinateSource != models.SourceGeocodingNeeded {
		t.Errorf("coordinate_source = %q, want geocoding_needed", poi.CoordinateSource)
	}
	if !poi.NeedsGeocoding {
		t.Error("needs_geocoding = false, want true")
	}
}

func TestParseDropsPlacemarkWithoutCoordsOrAddress(t *testing.T) {
	kml := `<kml><Document><Folder>
		<name>Stuff</name>
		<Placemark><name>Mystery</name><description>no location info</description></Placemark>
		<Placemark><name>Known</name><Point><coordinates>-73.9857,40.7484</coordinates></Point></Placemark>
	</Folder></Document></kml>`

	batch, err := newTestKMLService().Parse(context.Background(), []byte(kml), "kml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if batch.Total != 1 {
		t.Errorf("total = %d, want 1 (Mystery dropped)", batch.Total)
	}
	if len(batch.POIsByCategory["stuff"]) != 1 || batch.POIsByCategory["stuff"][0].Name != "Known" {
		t.Errorf("expected only Known to survive, got %+v", batch.POIsByCategory["stuff"])
	}
}

func TestParseSkipsEmptyNames(t *testing.T) {
	kml := `<kml><Document>
		<Folder><Placemark><name>Orphan in unnamed folder</name>
			<Point><coordinates>-73.9857,40.7484</coordinates></Point></Placemark></Folder>
		<Folder><name>Real</name>
			<Placemark><Point><coordinates>-74.0,40.7</coordinates></Point></Placemark>
			<Placemark><name>Kept</name><Point><coordinates>-73.9,40.6</coordinates></Point></Placemark>
		</Folder>
	</Document></kml>`

	batch, err := newTestKMLService().Parse(context.Background(), []byte(kml), "kml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(batch.POIsByCategory["real"]) != 1 || batch.POIsByCategory["real"][0].Name != "Kept" {
		t.Errorf("real category = %+v, want only Kept", batch.POIsByCategory["real"])
	}
	// The placemark in the unnamed folder is not lost: it is collected as a
	// loose placemark into the general category.
	if len(batch.POIsByCategory[generalCategoryKey]) != 1 {
		t.Errorf("general category = %+v, want the orphan placemark", batch.POIsByCategory[generalCategoryKey])
	}
}

func TestParseLoosePlacemarks(t *testing.T) {
	kml := `<kml><Document>
		<Placemark><name>Floater</name><Point><coordinates>-73.9857,40.7484</coordinates></Point></Placemark>
	</Document></kml>`

	batch, err := newTestKMLService().Parse(context.Background(), []byte(kml), "kml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	pois := batch.POIsByCategory[generalCategoryKey]
	if len(pois) != 1 || pois[0].Name != "Floater" {
		t.Errorf("general category = %+v, want Floater", pois)
	}
	if batch.CategoryNames[generalCategoryKey] != "General" {
		t.Errorf("category name for general = %q", batch.CategoryNames[generalCategoryKey])
	}
}

func TestParseDeduplicatesFoldersAndPlacemarks(t *testing.T) {
	kml := `<kml><Document>
		<Folder><name>Food</name>
			<Placemark><name>Dup</name><Point><coordinates>-73.9857,40.7484</coordinates></Point></Placemark>
			<Placemark><name>Dup</name><Point><coordinates>-74.0,41.0</coordinates></Point></Placemark>
		</Folder>
		<Folder><name>Food</name>
			<Placemark><name>Second Folder</name><Point><coordinates>-73.0,40.0</coordinates></Point></Placemark>
		</Folder>
	</Document></kml>`

	batch, err := newTestKMLService().Parse(context.Background(), []byte(kml), "kml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	pois := batch.POIsByCategory["restaurants"]
	if len(pois) != 2 {
		t.Fatalf("restaurants = %+v, want 2 (duplicate placemark dropped, same-name folders merged)", pois)
	}
	if pois[0].Name != "Dup" || *pois[0].Lat != 40.7484 {
		t.Errorf("first occurrence of Dup should win, got %+v", pois[0])
	}
	if pois[1].Name != "Second Folder" {
		t.Errorf("same-name folder should merge into one category, got %+v", pois[1])
	}
}

func TestParseInvalidXML(t *testing.T) {
	_, err := newTestKMLService().Parse(context.Background(), []byte("<kml><unclosed"), "kml")
	apiErr, ok := err.(*errors.APIError)
	if !ok || apiErr.Code != "PARSE_ERROR" {
		t.Fatalf("err = %v, want PARSE_ERROR", err)
	}
	if apiErr.Details == "" {
		t.Error("parse error should carry the underlying parser message")
	}
}

func TestParseStripsBOMAndJunkPrefix(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("garbage"+restaurantsKML)...)
	batch, err := newTestKMLService().Parse(context.Background(), data, "kml")
	if err != nil {
		t.Fatalf("Parse failed on BOM+junk prefix: %v", err)
	}
	if batch.Total != 1 {
		t.Errorf("total = %d, want 1", batch.Total)
	}
}

func TestParseStripsBrokenDefaultNamespace(t *testing.T) {
	kml := `<?xml version="1.0"?><kml xmlns="http://broken exporter"><Document><Folder>
		<name>Parks</name>
		<Placemark><name>Green</name><Point><coordinates>-73.9857,40.7484</coordinates></Point></Placemark>
	</Folder></Document></kml>`

	batch, err := newTestKMLService().Parse(context.Background(), []byte(kml), "kml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(batch.POIsByCategory["parks"]) != 1 {
		t.Errorf("parks = %+v, want 1 POI", batch.POIsByCategory["parks"])
	}
}

func buildKMZ(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestParseKMZ(t *testing.T) {
	data := buildKMZ(t, map[string]string{
		"images/icon.png": "not xml",
		"doc.kml":         restaurantsKML,
	})
	batch, err := newTestKMLService().Parse(context.Background(), data, "kmz")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if batch.Total != 1 {
		t.Errorf("total = %d, want 1", batch.Total)
	}
}

func TestParseKMZWithoutKML(t *testing.T) {
	data := buildKMZ(t, map[string]string{"readme.txt": "nothing here"})
	_, err := newTestKMLService().Parse(context.Background(), data, "kmz")
	if err != errors.ErrNoKMLInArchive {
		t.Errorf("err = %v, want ErrNoKMLInArchive", err)
	}
}

func TestParseKMZUnreadable(t *testing.T) {
	_, err := newTestKMLService().Parse(context.Background(), []byte("definitely not a zip"), "kmz")
	if err != errors.ErrArchiveUnreadable {
		t.Errorf("err = %v, want ErrArchiveUnreadable", err)
	}
}

func TestCategoryKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Restaurants", "restaurants"},
		{"Restaurant", "restaurants"},
		{"Food", "restaurants"},
		{"Dining", "restaurants"},
		{"Coffee", "cafes"},
		{"My  Favorite   Spots!", "my_favorite_spots"},
		{"  Parks & Gardens ", "parks_gardens"},
		{"Other", "general"},
		{"", "general"},
	}
	for _, tt := range tests {
		if got := CategoryKey(tt.in); got != tt.want {
			t.Errorf("CategoryKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseExtendedDataFields(t *testing.T) {
	kml := `<kml><Document><Folder>
		<name>Shops</name>
		<Placemark>
			<name>Corner Store</name>
			<Point><coordinates>-73.9857,40.7484</coordinates></Point>
			<ExtendedData>
				<Data name="website"><value>https://corner.example</value></Data>
				<Data name="photo"><value>https://corner.example/front.jpg</value></Data>
			</ExtendedData>
		</Placemark>
	</Folder></Document></kml>`

	batch, err := newTestKMLService().Parse(context.Background(), []byte(kml), "kml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	poi := batch.POIsByCategory["shopping"][0]
	if poi.Website != "https://corner.example" {
		t.Errorf("website = %q", poi.Website)
	}
	if poi.Photo != "https://corner.example/front.jpg" {
		t.Errorf("photo = %q", poi.Photo)
	}
}
