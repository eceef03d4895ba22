package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// addressFieldAliases are the ExtendedData field names (case-insensitive)
// that exporters use for a street address.
var addressFieldAliases = map[string]bool{
	"address":  true,
	"location": true,
	"street":   true,
	"addr":     true,
	"place":    true,
}

// Street-address patterns tried loosest-last against free-text
// descriptions: house number + street type, then a city/region qualified
// fragment, then a bare "City, ST" pair.
var addressPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{1,6}\s+[A-Za-z0-9'.\- ]+?\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Lane|Ln|Way|Court|Ct|Place|Pl|Terrace|Ter|Parkway|Pkwy|Highway|Hwy)\b\.?(?:,\s*[A-Za-z0-9 .'-]+)*`),
	regexp.MustCompile(`(?i)\b[A-Za-z0-9'.\- ]{3,},\s*[A-Za-z .'-]+,\s*[A-Z]{2}\b(?:\s*\d{5}(?:-\d{4})?)?`),
	regexp.MustCompile(`\b[A-Z][a-zA-Z]+(?:\s[A-Z][a-zA-Z]+)*,\s*[A-Z]{2}\b`),
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// Plausibility box for the sanity check: continental US, matching the
// US-format street patterns above. Out-of-box coordinates are logged, never
// rejected.
var plausibleBox = struct {
	minLat, maxLat, minLng, maxLng float64
}{24.0, 50.0, -125.0, -66.0}

// ReverseGeocoder is the slice of the geocoding client the extractor needs
// for its last-resort address lookup. Nil disables the fallback.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// ExtractService pulls a best-effort coordinate pair and address out of one
// placemark node. It has no knowledge of folders or categories.
type ExtractService struct {
	reverse ReverseGeocoder
}

func NewExtractService(reverse ReverseGeocoder) *ExtractService {
	return &ExtractService{reverse: reverse}
}

// ExtractCoordinates searches the placemark's geometry fields in priority
// order and returns the first valid point, or nil.
func (e *ExtractService) ExtractCoordinates(pm *kmlNode, debug *debugLog) (lat, lng *float64) {
	for _, raw := range coordinateCandidates(pm) {
		la, ln, ok := parseCoordinateString(raw)
		if !ok {
			debug.addf("Rejected coordinate candidate %q", firstLine(raw))
			continue
		}
		checkPlausibility(raw, la, ln, debug)
		return &la, &ln
	}
	return nil, nil
}

// coordinateCandidates collects raw coordinate strings in priority order:
// point geometry, a bare coordinates field, nested geometry wrappers, then
// any remaining vertex list (line/polygon) — first point wins in all cases.
func coordinateCandidates(pm *kmlNode) []string {
	var out []string
	seen := map[string]bool{}
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw != "" && !seen[raw] {
			seen[raw] = true
			out = append(out, raw)
		}
	}
	if point := pm.child("Point"); point != nil {
		for _, c := range point.findAll("coordinates") {
			add(c.text())
		}
	}
	if c := pm.child("coordinates"); c != nil {
		add(c.text())
	}
	if multi := pm.child("MultiGeometry"); multi != nil {
		for _, c := range multi.findAll("coordinates") {
			add(c.text())
		}
	}
	for _, c := range pm.findAll("coordinates") {
		add(c.text())
	}
	return out
}

// parseCoordinateString parses "longitude,latitude[,altitude]". Only the
// first line is used (line/polygon vertex lists carry one tuple per line);
// whitespace splitting is the fallback when commas don't yield two numbers.
func parseCoordinateString(raw string) (lat, lng float64, ok bool) {
	line := firstLine(raw)
	if line == "" {
		return 0, 0, false
	}
	// The first two numeric comma tokens are the point even for a one-line
	// vertex list: the fragment joining one tuple's altitude to the next
	// tuple's longitude ("0 -74.0") is not numeric and drops out.
	tokens := numericTokens(strings.Split(line, ","))
	if len(tokens) < 2 {
		tokens = numericTokens(strings.Fields(line))
	}
	if len(tokens) < 2 {
		return 0, 0, false
	}
	lng, lat = tokens[0], tokens[1]
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}

func firstLine(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

func numericTokens(parts []string) []float64 {
	var out []float64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// checkPlausibility logs (only logs) when coordinates fall outside the
// expected box or carry fewer than 4 decimal places.
func checkPlausibility(raw string, lat, lng float64, debug *debugLog) {
	if lat < plausibleBox.minLat || lat > plausibleBox.maxLat ||
		lng < plausibleBox.minLng || lng > plausibleBox.maxLng {
		debug.addf("Warning: coordinates (%f, %f) outside expected region", lat, lng)
	}
	tokens := strings.Split(firstLine(raw), ",")
	if len(tokens) > 2 {
		tokens = tokens[:2] // ignore altitude
	}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if _, err := strconv.ParseFloat(tok, 64); err != nil {
			continue
		}
		dot := strings.Index(tok, ".")
		if dot < 0 || len(tok)-dot-1 < 4 {
			debug.addf("Warning: low-precision coordinate token %q", tok)
			break
		}
	}
}

// ExtractAddress finds the best address for a placemark, first match wins:
// structured extended-data fields, a direct address field, regex matches in
// the description, then reverse geocoding the coordinates when available.
func (e *ExtractService) ExtractAddress(ctx context.Context, pm *kmlNode, lat, lng *float64, debug *debugLog) string {
	if addr := extendedDataAddress(pm); addr != "" {
		debug.addf("Address from extended data: %s", addr)
		return addr
	}
	if node := pm.child("address"); node != nil {
		if addr := node.text(); addr != "" {
			debug.addf("Address from address element: %s", addr)
			return addr
		}
	}
	description := ""
	if d := pm.child("description"); d != nil {
		description = d.text()
	}
	if addr := addressFromText(description); addr != "" {
		debug.addf("Address matched in description: %s", addr)
		return addr
	}
	if lat != nil && lng != nil && e.reverse != nil {
		addr, err := e.reverse.ReverseGeocode(ctx, *lat, *lng)
		if err != nil {
			debug.addf("Reverse geocode fallback failed: %v", err)
			return ""
		}
		if addr != "" {
			debug.addf("Address from reverse geocoding: %s", addr)
		}
		return addr
	}
	return ""
}

// extendedDataAddress scans Data and SimpleData fields for the known
// address aliases.
func extendedDataAddress(pm *kmlNode) string {
	ext := pm.child("ExtendedData")
	if ext == nil {
		return ""
	}
	for _, data := range ext.findAll("Data") {
		if addressFieldAliases[strings.ToLower(data.attr("name"))] {
			if v := data.child("value"); v != nil && v.text() != "" {
				return v.text()
			}
		}
	}
	for _, data := range ext.findAll("SimpleData") {
		if addressFieldAliases[strings.ToLower(data.attr("name"))] {
			if data.text() != "" {
				return data.text()
			}
		}
	}
	return ""
}

// addressFromText tries the street-address patterns against free text,
// loosest last. A candidate must be longer than 5 characters and contain at
// least one letter.
func addressFromText(text string) string {
	if text == "" {
		return ""
	}
	text = htmlTagPattern.ReplaceAllString(text, " ")
	for _, pattern := range addressPatterns {
		match := strings.TrimSpace(pattern.FindString(text))
		if len(match) > 5 && strings.IndexFunc(match, isLetter) >= 0 {
			return match
		}
	}
	return ""
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// debugLog accumulates structural decisions for operator troubleshooting;
// it rides along in the import batch.
type debugLog struct {
	lines []string
}

func (d *debugLog) addf(format string, args ...any) {
	if d == nil {
		return
	}
	d.lines = append(d.lines, fmt.Sprintf(format, args...))
}
