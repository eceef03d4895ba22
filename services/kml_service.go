package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"log"
	"regexp"
	"strings"

	"poi-server/models"
	"poi-server/utils/errors"
)

// generalCategoryKey is the synthetic category for placemarks that sit
// outside any folder, and the fallback for unresolved assignments.
const generalCategoryKey = "general"

// categorySynonyms maps derived folder keys to canonical category keys so
// "Food", "Dining" and "Restaurant" folders all land in one category.
var categorySynonyms = map[string]string{
	"restaurant":    "restaurants",
	"food":          "restaurants",
	"dining":        "restaurants",
	"cafe":          "cafes",
	"coffee":        "cafes",
	"bar":           "bars",
	"pub":           "bars",
	"nightlife":     "bars",
	"shop":          "shopping",
	"store":         "shopping",
	"retail":        "shopping",
	"hotel":         "hotels",
	"lodging":       "hotels",
	"park":          "parks",
	"outdoors":      "parks",
	"recreation":    "parks",
	"museum":        "museums",
	"culture":       "museums",
	"misc":          generalCategoryKey,
	"other":         generalCategoryKey,
	"uncategorized": generalCategoryKey,
}

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// defaultNamespacePattern strips the default xmlns declaration some
// exporters emit with a broken URI, which trips the XML parser's namespace
// handling. Known interoperability workaround.
var defaultNamespacePattern = regexp.MustCompile(`\s+xmlns="[^"]*"`)

// kmlNode is a generic XML tree node. KML exporters disagree on structure
// and namespaces, so the parser walks one permissive tree and deduplicates
// by name instead of running format-specific queries.
type kmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []kmlNode  `xml:",any"`
}

func (n *kmlNode) text() string {
	return strings.TrimSpace(n.Text)
}

func (n *kmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

// child returns the first direct child with the given local name,
// case-insensitively.
func (n *kmlNode) child(name string) *kmlNode {
	for i := range n.Children {
		if strings.EqualFold(n.Children[i].XMLName.Local, name) {
			return &n.Children[i]
		}
	}
	return nil
}

// findAll returns every descendant with the given local name in document
// order, the node itself excluded.
func (n *kmlNode) findAll(name string) []*kmlNode {
	var out []*kmlNode
	for i := range n.Children {
		c := &n.Children[i]
		if strings.EqualFold(c.XMLName.Local, name) {
			out = append(out, c)
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

// KMLService parses KML/KMZ uploads into normalized import batches.
type KMLService struct {
	extractor *ExtractService
}

func NewKMLService(extractor *ExtractService) *KMLService {
	return &KMLService{extractor: extractor}
}

// Parse accepts raw file bytes plus the declared extension and returns an
// import batch. Document-level failures (unreadable archive, invalid XML)
// abort the whole parse; structural anomalies are logged and skipped.
func (s *KMLService) Parse(ctx context.Context, data []byte, extension string) (*models.ImportBatch, error) {
	if strings.EqualFold(extension, "kmz") {
		kml, err := extractKMZ(data)
		if err != nil {
			return nil, err
		}
		data = kml
	}

	data = cleanXML(data)
	var root kmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, errors.NewParseError(err.Error())
	}

	debug := &debugLog{}
	batch := &models.ImportBatch{
		POIsByCategory: make(map[string][]models.POI),
		CategoryNames:  make(map[string]string),
	}
	assigned := make(map[string]bool)

	// Folders with the same name are the same folder: their placemarks
	// merge into one category, with the first occurrence naming it.
	folders := root.findAll("Folder")
	debug.addf("Found %d folders", len(folders))

	for _, folder := range folders {
		name := ""
		if n := folder.child("name"); n != nil {
			name = n.text()
		}
		if name == "" {
			debug.addf("Skipping folder with empty name")
			continue
		}
		key := CategoryKey(name)
		debug.addf("Folder %q -> category %q", name, key)

		pois := s.collectPlacemarks(ctx, folder, assigned, debug)
		if len(pois) == 0 {
			debug.addf("Folder %q yielded no POIs", name)
			continue
		}
		batch.POIsByCategory[key] = append(batch.POIsByCategory[key], pois...)
		if _, ok := batch.CategoryNames[key]; !ok {
			batch.CategoryNames[key] = name
			batch.Categories = append(batch.Categories, key)
		}
	}

	// Placemarks outside any folder land in a synthetic general category.
	if loose := s.collectPlacemarks(ctx, &root, assigned, debug); len(loose) > 0 {
		debug.addf("Assigned %d loose placemarks to %q", len(loose), generalCategoryKey)
		batch.POIsByCategory[generalCategoryKey] = append(batch.POIsByCategory[generalCategoryKey], loose...)
		if _, ok := batch.CategoryNames[generalCategoryKey]; !ok {
			batch.CategoryNames[generalCategoryKey] = "General"
			batch.Categories = append(batch.Categories, generalCategoryKey)
		}
	}

	for _, pois := range batch.POIsByCategory {
		batch.POIs = append(batch.POIs, pois...)
	}
	batch.Total = len(batch.POIs)
	batch.DebugLog = debug.lines
	log.Printf("Parsed KML document: %d categories, %d POIs", len(batch.POIsByCategory), batch.Total)
	return batch, nil
}

// collectPlacemarks walks all placemark descendants of node, skipping ones
// already assigned elsewhere (nested folders, duplicate names).
func (s *KMLService) collectPlacemarks(ctx context.Context, node *kmlNode, assigned map[string]bool, debug *debugLog) []models.POI {
	var out []models.POI
	for _, pm := range node.findAll("Placemark") {
		name := ""
		if n := pm.child("name"); n != nil {
			name = n.text()
		}
		if name == "" {
			debug.addf("Skipping placemark with empty name")
			continue
		}
		if assigned[name] {
			continue
		}
		assigned[name] = true

		poi, ok := s.buildPOI(ctx, pm, name, debug)
		if !ok {
			continue
		}
		out = append(out, poi)
	}
	return out
}

// buildPOI runs the extractor over one placemark and decides its
// coordinate source. Placemarks with neither coordinates nor address are
// dropped.
func (s *KMLService) buildPOI(ctx context.Context, pm *kmlNode, name string, debug *debugLog) (models.POI, bool) {
	poi := models.POI{Name: name, CoordinateSource: models.SourceNone}
	if d := pm.child("description"); d != nil {
		poi.Description = d.text()
	}
	poi.Website = extendedDataField(pm, "website", "url", "link")
	poi.Photo = extendedDataField(pm, "photo", "image", "picture")
	poi.Logo = extendedDataField(pm, "logo", "icon")

	lat, lng := s.extractor.ExtractCoordinates(pm, debug)
	poi.Address = s.extractor.ExtractAddress(ctx, pm, lat, lng, debug)

	switch {
	case lat != nil && lng != nil:
		poi.Lat, poi.Lng = lat, lng
		poi.CoordinateSource = models.SourceKML
		debug.addf("Placemark %q: coordinates from KML (%f, %f)", name, *lat, *lng)
	case poi.Address != "":
		poi.CoordinateSource = models.SourceGeocodingNeeded
		poi.NeedsGeocoding = true
		debug.addf("Placemark %q: no coordinates, will geocode %q", name, poi.Address)
	default:
		debug.addf("Dropping placemark %q: no coordinates and no address", name)
		return models.POI{}, false
	}
	return poi, true
}

// extendedDataField returns the first ExtendedData value whose name
// attribute matches any of the aliases.
func extendedDataField(pm *kmlNode, aliases ...string) string {
	ext := pm.child("ExtendedData")
	if ext == nil {
		return ""
	}
	match := func(name string) bool {
		for _, a := range aliases {
			if strings.EqualFold(name, a) {
				return true
			}
		}
		return false
	}
	for _, data := range ext.findAll("Data") {
		if match(data.attr("name")) {
			if v := data.child("value"); v != nil {
				return v.text()
			}
		}
	}
	for _, data := range ext.findAll("SimpleData") {
		if match(data.attr("name")) {
			return data.text()
		}
	}
	return ""
}

// CategoryKey derives the stable slug for a folder/category name:
// lowercase, non-alphanumeric runs collapsed to underscores, then mapped
// through the synonym table.
func CategoryKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = nonAlnumRun.ReplaceAllString(key, "_")
	key = strings.Trim(key, "_")
	if key == "" {
		return generalCategoryKey
	}
	if canonical, ok := categorySynonyms[key]; ok {
		return canonical
	}
	// Singular folder names map onto their plural canonical form too.
	if canonical, ok := categorySynonyms[strings.TrimSuffix(key, "s")]; ok {
		return canonical
	}
	return key
}

// extractKMZ opens the archive and returns the first entry with a .kml
// extension.
func extractKMZ(data []byte) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.ErrArchiveUnreadable
	}
	for _, file := range reader.File {
		if !strings.HasSuffix(strings.ToLower(file.Name), ".kml") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, errors.ErrArchiveUnreadable
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, errors.ErrArchiveUnreadable
		}
		return content, nil
	}
	return nil, errors.ErrNoKMLInArchive
}

// cleanXML strips the BOM and any junk bytes before the XML declaration,
// and removes a default namespace declaration that some exporters emit
// incorrectly.
func cleanXML(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if idx := bytes.Index(data, []byte("<?xml")); idx > 0 {
		data = data[idx:]
	} else if idx < 0 {
		if lt := bytes.IndexByte(data, '<'); lt > 0 {
			data = data[lt:]
		}
	}
	return defaultNamespacePattern.ReplaceAll(data, nil)
}
