package services

import (
	"context"
	"encoding/xml"
	"strings"
	"testing"
)

func parsePlacemark(t *testing.T, raw string) *kmlNode {
	t.Helper()
	var node kmlNode
	if err := xml.Unmarshal([]byte(raw), &node); err != nil {
		t.Fatalf("failed to parse placemark fixture: %v", err)
	}
	return &node
}

func TestParseCoordinateString(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantLat float64
		wantLng float64
		wantOK  bool
	}{
		{"comma with altitude", "-73.9857,40.7484,0", 40.7484, -73.9857, true},
		{"comma no altitude", "-73.9857,40.7484", 40.7484, -73.9857, true},
		{"space after comma", "-73.9857, 40.7484", 40.7484, -73.9857, true},
		{"whitespace fallback", "-73.9857 40.7484", 40.7484, -73.9857, true},
		{"padded", "  -122.4194 , 37.7749 ", 37.7749, -122.4194, true},
		{"multi-line vertex list takes first", "-73.9857,40.7484,0\n-74.0,41.0,0\n-74.1,41.1,0", 40.7484, -73.9857, true},
		{"one-line vertex list takes first tuple", "-73.9857,40.7484,0 -74.0,41.0,0", 40.7484, -73.9857, true},
		{"negative zero boundary", "-180,-90", -90, -180, true},
		{"positive boundary", "180,90", 90, 180, true},
		{"latitude too big", "-73.9857,95.1", 0, 0, false},
		{"latitude too small", "-73.9857,-95.1", 0, 0, false},
		{"longitude too big", "190.2,40.7484", 0, 0, false},
		{"longitude too small", "-190.2,40.7484", 0, 0, false},
		{"not numbers", "here,there", 0, 0, false},
		{"single token", "40.7484", 0, 0, false},
		{"empty", "   \n  ", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lng, ok := parseCoordinateString(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("parseCoordinateString(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if lat != tt.wantLat || lng != tt.wantLng {
				t.Errorf("parseCoordinateString(%q) = (%f, %f), want (%f, %f)", tt.raw, lat, lng, tt.wantLat, tt.wantLng)
			}
		})
	}
}

func TestExtractCoordinatesPointWinsOverLine(t *testing.T) {
	pm := parsePlacemark(t, `<Placemark>
		<name>Mixed</name>
		<LineString><coordinates>-74.0000,41.0000,0 -74.1000,41.1000,0</coordinates></LineString>
		<Point><coordinates>-73.9857,40.7484,0</coordinates></Point>
	</Placemark>`)

	e := NewExtractService(nil)
	lat, lng := e.ExtractCoordinates(pm, &debugLog{})
	if lat == nil || lng == nil {
		t.Fatal("expected coordinates, got nil")
	}
	if *lat != 40.7484 || *lng != -73.9857 {
		t.Errorf("got (%f, %f), want Point geometry (40.7484, -73.9857)", *lat, *lng)
	}
}

func TestExtractCoordinatesFallsBackToLineString(t *testing.T) {
	pm := parsePlacemark(t, `<Placemark>
		<name>Trail</name>
		<LineString><coordinates>
			-74.0059,40.7128,0
			-74.0100,40.7200,0
		</coordinates></LineString>
	</Placemark>`)

	e := NewExtractService(nil)
	lat, lng := e.ExtractCoordinates(pm, &debugLog{})
	if lat == nil || lng == nil {
		t.Fatal("expected first vertex of line, got nil")
	}
	if *lat != 40.7128 || *lng != -74.0059 {
		t.Errorf("got (%f, %f), want first vertex (40.7128, -74.0059)", *lat, *lng)
	}
}

func TestExtractCoordinatesRejectsInvalidThenTriesNext(t *testing.T) {
	pm := parsePlacemark(t, `<Placemark>
		<name>Bad point</name>
		<Point><coordinates>-73.9857,95.0,0</coordinates></Point>
		<LineString><coordinates>-74.0059,40.7128,0</coordinates></LineString>
	</Placemark>`)

	e := NewExtractService(nil)
	lat, lng := e.ExtractCoordinates(pm, &debugLog{})
	if lat == nil || lng == nil {
		t.Fatal("expected fallback coordinates, got nil")
	}
	if *lat != 40.7128 {
		t.Errorf("got lat %f, want fallback 40.7128", *lat)
	}
}

func TestExtractCoordinatesNoneFound(t *testing.T) {
	pm := parsePlacemark(t, `<Placemark><name>Nowhere</name></Placemark>`)
	e := NewExtractService(nil)
	lat, lng := e.ExtractCoordinates(pm, &debugLog{})
	if lat != nil || lng != nil {
		t.Errorf("expected nil coordinates, got (%v, %v)", lat, lng)
	}
}

func TestAddressFromText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"house number and street", "Visit us at 123 Main Street, New York, NY 10001", "123 Main Street, New York, NY 10001"},
		{"street only", "Located on 42 Oak Ave near the park", "42 Oak Ave"},
		{"bare city state", "Best pizza in Brooklyn, NY around", "Brooklyn, NY"},
		{"html stripped", "<b>Address:</b> 500 Elm Drive, Austin, TX 78701", "500 Elm Drive, Austin, TX 78701"},
		{"lowercase city ignored", "best pizza in brooklyn, ny", ""},
		{"empty", "", ""},
		{"no address", "A lovely little spot worth the trip", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := addressFromText(tt.text)
			if got != tt.want {
				t.Errorf("addressFromText(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractAddressExtendedData(t *testing.T) {
	pm := parsePlacemark(t, `<Placemark>
		<name>Cafe</name>
		<description>Some description with 999 Fake Street inside</description>
		<ExtendedData>
			<Data name="Address"><value>77 Water Street, New York, NY</value></Data>
		</ExtendedData>
	</Placemark>`)

	e := NewExtractService(nil)
	got := e.ExtractAddress(context.Background(), pm, nil, nil, &debugLog{})
	if got != "77 Water Street, New York, NY" {
		t.Errorf("extended data should win over description, got %q", got)
	}
}

func TestExtractAddressSimpleData(t *testing.T) {
	pm := parsePlacemark(t, `<Placemark>
		<name>Cafe</name>
		<ExtendedData><SchemaData>
			<SimpleData name="location">12 Pine Road, Portland, OR</SimpleData>
		</SchemaData></ExtendedData>
	</Placemark>`)

	e := NewExtractService(nil)
	got := e.ExtractAddress(context.Background(), pm, nil, nil, &debugLog{})
	if got != "12 Pine Road, Portland, OR" {
		t.Errorf("got %q, want SimpleData location value", got)
	}
}

func TestExtractAddressDirectElement(t *testing.T) {
	pm := parsePlacemark(t, `<Placemark>
		<name>Cafe</name>
		<address>221B Baker Street, London</address>
	</Placemark>`)

	e := NewExtractService(nil)
	got := e.ExtractAddress(context.Background(), pm, nil, nil, &debugLog{})
	if got != "221B Baker Street, London" {
		t.Errorf("got %q, want address element value", got)
	}
}

type stubReverseGeocoder struct {
	address string
	calls   int
}

func (s *stubReverseGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	s.calls++
	return s.address, nil
}

func TestExtractAddressReverseFallback(t *testing.T) {
	pm := parsePlacemark(t, `<Placemark>
		<name>Cafe</name>
		<description>No address here at all</description>
	</Placemark>`)

	stub := &stubReverseGeocoder{address: "1 Resolved Plaza, Chicago, IL"}
	e := NewExtractService(stub)
	lat, lng := 41.8781, -87.6298

	got := e.ExtractAddress(context.Background(), pm, &lat, &lng, &debugLog{})
	if got != stub.address {
		t.Errorf("got %q, want reverse geocoded address", got)
	}
	if stub.calls != 1 {
		t.Errorf("reverse geocoder called %d times, want 1", stub.calls)
	}
}

func TestExtractAddressNoFallbackWithoutCoordinates(t *testing.T) {
	pm := parsePlacemark(t, `<Placemark><name>Cafe</name></Placemark>`)
	stub := &stubReverseGeocoder{address: "should not be used"}
	e := NewExtractService(stub)

	got := e.ExtractAddress(context.Background(), pm, nil, nil, &debugLog{})
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
	if stub.calls != 0 {
		t.Errorf("reverse geocoder called %d times without coordinates", stub.calls)
	}
}

func TestCheckPlausibilityWarnings(t *testing.T) {
	debug := &debugLog{}
	// Inside the box, full precision: no warnings.
	checkPlausibility("-73.9857,40.7484", 40.7484, -73.9857, debug)
	if len(debug.lines) != 0 {
		t.Errorf("unexpected warnings: %v", debug.lines)
	}

	debug = &debugLog{}
	checkPlausibility("2.3522,48.8566", 48.8566, 2.3522, debug)
	if len(debug.lines) == 0 {
		t.Error("expected out-of-region warning")
	}

	debug = &debugLog{}
	checkPlausibility("-73.98,40.74", 40.74, -73.98, debug)
	found := false
	for _, line := range debug.lines {
		if strings.Contains(line, "low-precision") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected low-precision warning, got %v", debug.lines)
	}
}
