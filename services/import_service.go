package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"strconv"
	"strings"

	"poi-server/models"
	"poi-server/utils/errors"
)

// knownCategoryColors gives common categories a stable hand-picked swatch.
// Anything else gets a deterministic generated color.
var knownCategoryColors = map[string]string{
	"restaurants":       "#e74c3c",
	"cafes":             "#a0522d",
	"bars":              "#8e44ad",
	"shopping":          "#2980b9",
	"hotels":            "#16a085",
	"parks":             "#27ae60",
	"museums":           "#d35400",
	generalCategoryKey:  "#7f8c8d",
}

// CommitResult is returned to the admin UI after a commit.
type CommitResult struct {
	Imported    int                 `json:"imported"`
	Categories  []string            `json:"categories"`
	Action      string              `json:"action"`
	Message     string              `json:"message"`
	ImportStats *models.ImportStats `json:"import_stats"`
}

// ImportService drives parse -> stage -> (assign) -> geocode -> commit, and
// the standalone geocoding and bulk mutation operations.
type ImportService struct {
	store    *StoreService
	staging  StagingStore
	geocoder *GeocodeService
	kml      *KMLService
}

func NewImportService(store *StoreService, staging StagingStore, geocoder *GeocodeService, kml *KMLService) *ImportService {
	return &ImportService{store: store, staging: staging, geocoder: geocoder, kml: kml}
}

// ParseAndStage parses an uploaded file and holds the batch in the staging
// store until commit (or until the staging TTL expires).
func (s *ImportService) ParseAndStage(ctx context.Context, data []byte, extension string) (*models.ImportBatch, error) {
	batch, err := s.kml.Parse(ctx, data, extension)
	if err != nil {
		return nil, err
	}
	if err := s.staging.Put(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// CommitImport consumes the staged batch. If the batch arrived organized by
// folder the assignment map is ignored; otherwise every POI index must be
// assigned (unknown targets fall back to the general category). Geocoding
// passes run before the merge when any POI needs them.
func (s *ImportService) CommitImport(ctx context.Context, mode string, assignments map[int]string) (*CommitResult, error) {
	if mode != "replace" && mode != "merge" {
		return nil, errors.NewValidationError("Import mode must be replace or merge")
	}
	batch, err := s.staging.Get(ctx)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, errors.ErrStaleImport
	}

	byCategory := batch.POIsByCategory
	if len(byCategory) == 0 {
		byCategory, err = s.applyAssignments(ctx, batch, assignments)
		if err != nil {
			return nil, err
		}
	}

	stats := batchStats(byCategory)

	// Forward before reverse: a forward result must not trigger a spurious
	// reverse lookup in the same import.
	if needsForwardPass(byCategory) {
		stats.Forward = s.forwardPass(ctx, byCategory)
	}
	if needsReversePass(byCategory) {
		stats.Reverse = s.reversePass(ctx, byCategory)
	}

	if err := s.ensureCategories(ctx, byCategory, batch.CategoryNames); err != nil {
		return nil, err
	}

	stored, err := s.store.GetPOIs(ctx)
	if err != nil {
		return nil, err
	}
	switch mode {
	case "replace":
		stored = byCategory
	case "merge":
		// Appends only; existing entries keep their order and indices.
		for key, pois := range byCategory {
			stored[key] = append(stored[key], pois...)
		}
	}
	if err := s.store.SavePOIs(ctx, stored); err != nil {
		return nil, err
	}
	if err := s.staging.Clear(ctx); err != nil {
		log.Printf("Failed to clear staged import: %v", err)
	}

	var categories []string
	for key := range byCategory {
		categories = append(categories, key)
	}
	sort.Strings(categories)

	imported := 0
	for _, pois := range byCategory {
		imported += len(pois)
	}
	if err := s.store.AppendActivity(ctx, fmt.Sprintf("Imported %d POIs (%s)", imported, mode)); err != nil {
		log.Printf("Failed to record activity: %v", err)
	}

	return &CommitResult{
		Imported:    imported,
		Categories:  categories,
		Action:      mode,
		Message:     fmt.Sprintf("Imported %d POIs into %d categories", imported, len(categories)),
		ImportStats: stats,
	}, nil
}

// applyAssignments partitions an unorganized batch using the externally
// supplied index -> category map.
func (s *ImportService) applyAssignments(ctx context.Context, batch *models.ImportBatch, assignments map[int]string) (map[string][]models.POI, error) {
	if len(assignments) == 0 {
		return nil, errors.NewValidationError("Import batch has no folder categories, category assignments are required")
	}
	known, err := s.store.GetCategories(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.POI)
	for i, poi := range batch.POIs {
		key, ok := assignments[i]
		if !ok || key == "" {
			key = generalCategoryKey
		}
		if _, exists := known[key]; !exists && key != generalCategoryKey {
			// Unknown target category: fall back rather than fail the batch.
			log.Printf("Unknown category %q for POI %q, using %s", key, poi.Name, generalCategoryKey)
			key = generalCategoryKey
		}
		out[key] = append(out[key], poi)
	}
	return out, nil
}

func needsForwardPass(byCategory map[string][]models.POI) bool {
	for _, pois := range byCategory {
		for i := range pois {
			if !pois[i].HasCoordinates() && pois[i].Address != "" {
				return true
			}
		}
	}
	return false
}

func needsReversePass(byCategory map[string][]models.POI) bool {
	for _, pois := range byCategory {
		for i := range pois {
			if pois[i].HasCoordinates() && pois[i].Address == "" {
				return true
			}
		}
	}
	return false
}

// forwardPass geocodes every address-only POI in the map, in place,
// preserving per-category order. Failures mark the POI and continue.
func (s *ImportService) forwardPass(ctx context.Context, byCategory map[string][]models.POI) *models.GeocodePassStats {
	stats := &models.GeocodePassStats{}
	for key, pois := range byCategory {
		for i := range pois {
			poi := &pois[i]
			if poi.HasCoordinates() {
				stats.AlreadyHad++
				continue
			}
			if poi.Address == "" {
				poi.CoordinateSource = models.SourceNoAddress
				continue
			}
			stats.Processed++
			label := fmt.Sprintf("%s|%d", key, i)
			result, err := s.geocoder.GeocodeAddress(ctx, poi.Address, label)
			if err != nil {
				stats.Failed++
				stats.FailureReasons = append(stats.FailureReasons, fmt.Sprintf("%s: %v", poi.Name, err))
				poi.CoordinateSource = models.SourceFailed
				continue
			}
			poi.SetCoordinates(result.Lat, result.Lng)
			poi.CoordinateSource = models.SourceGeocoded
			poi.GeocodedAddress = result.FormattedAddress
			poi.GeocodingPrecision = result.Precision
			poi.NeedsGeocoding = false
			stats.Succeeded++
		}
		byCategory[key] = pois
	}
	return stats
}

// reversePass fills in addresses for coordinate-only POIs, in place.
func (s *ImportService) reversePass(ctx context.Context, byCategory map[string][]models.POI) *models.GeocodePassStats {
	stats := &models.GeocodePassStats{}
	for key, pois := range byCategory {
		for i := range pois {
			poi := &pois[i]
			if !poi.HasCoordinates() {
				continue
			}
			if poi.Address != "" {
				stats.AlreadyHad++
				continue
			}
			stats.Processed++
			addr, err := s.geocoder.ReverseGeocode(ctx, *poi.Lat, *poi.Lng)
			if err != nil || addr == "" {
				stats.Failed++
				if err != nil {
					stats.FailureReasons = append(stats.FailureReasons, fmt.Sprintf("%s: %v", poi.Name, err))
				}
				continue
			}
			poi.Address = addr
			poi.ReverseGeocoded = true
			stats.Succeeded++
		}
		byCategory[key] = pois
	}
	return stats
}

// ReverseGeocodePass is the manually triggered store-wide pass: every POI
// with coordinates but no address gets one, persisted in place. Running it
// twice changes nothing the second time.
func (s *ImportService) ReverseGeocodePass(ctx context.Context) (*models.ReverseGeocodeStats, error) {
	stored, err := s.store.GetPOIs(ctx)
	if err != nil {
		return nil, err
	}
	stats := &models.ReverseGeocodeStats{}
	changed := false
	for key, pois := range stored {
		for i := range pois {
			poi := &pois[i]
			if !poi.HasCoordinates() {
				continue
			}
			stats.TotalProcessed++
			if poi.Address != "" {
				stats.AlreadyHad++
				continue
			}
			addr, err := s.geocoder.ReverseGeocode(ctx, *poi.Lat, *poi.Lng)
			if err != nil || addr == "" {
				stats.Failed++
				continue
			}
			poi.Address = addr
			poi.ReverseGeocoded = true
			stats.Succeeded++
			changed = true
		}
		stored[key] = pois
	}
	if changed {
		if err := s.store.SavePOIs(ctx, stored); err != nil {
			return nil, err
		}
	}
	if err := s.store.AppendActivity(ctx, fmt.Sprintf("Reverse geocoding pass: %d resolved, %d failed", stats.Succeeded, stats.Failed)); err != nil {
		log.Printf("Failed to record activity: %v", err)
	}
	return stats, nil
}

// BulkDelete removes POIs by "category|index" identifiers. Within each
// category, indices are processed highest-to-lowest: removal shifts later
// indices, so ascending order would corrupt the rest of the batch.
func (s *ImportService) BulkDelete(ctx context.Context, ids []string) (int, error) {
	byCategory, err := groupIndices(ids)
	if err != nil {
		return 0, err
	}
	stored, err := s.store.GetPOIs(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for key, indices := range byCategory {
		pois := stored[key]
		sort.Sort(sort.Reverse(sort.IntSlice(indices)))
		for _, idx := range indices {
			if idx < 0 || idx >= len(pois) {
				log.Printf("Skipping out-of-range POI id %s|%d", key, idx)
				continue
			}
			pois = append(pois[:idx], pois[idx+1:]...)
			deleted++
		}
		if len(pois) == 0 {
			delete(stored, key)
		} else {
			stored[key] = pois
		}
	}
	if err := s.store.SavePOIs(ctx, stored); err != nil {
		return 0, err
	}
	if err := s.store.AppendActivity(ctx, fmt.Sprintf("Deleted %d POIs", deleted)); err != nil {
		log.Printf("Failed to record activity: %v", err)
	}
	return deleted, nil
}

// MoveToCategory appends the referenced POIs to the target category, then
// removes them from their source categories highest-index-first.
func (s *ImportService) MoveToCategory(ctx context.Context, ids []string, target string) (int, error) {
	if target == "" {
		return 0, errors.NewValidationError("Target category is required")
	}
	categories, err := s.store.GetCategories(ctx)
	if err != nil {
		return 0, err
	}
	if _, ok := categories[target]; !ok {
		return 0, errors.NewValidationError("Unknown target category: " + target)
	}
	byCategory, err := groupIndices(ids)
	if err != nil {
		return 0, err
	}
	stored, err := s.store.GetPOIs(ctx)
	if err != nil {
		return 0, err
	}

	// Resolve all identifiers against the current store before mutating it.
	var moved []models.POI
	for key, indices := range byCategory {
		pois := stored[key]
		sort.Ints(indices)
		for _, idx := range indices {
			if idx < 0 || idx >= len(pois) {
				return 0, errors.ErrNotFound
			}
			moved = append(moved, pois[idx])
		}
	}

	for key, indices := range byCategory {
		pois := stored[key]
		sort.Sort(sort.Reverse(sort.IntSlice(indices)))
		for _, idx := range indices {
			pois = append(pois[:idx], pois[idx+1:]...)
		}
		if len(pois) == 0 {
			delete(stored, key)
		} else {
			stored[key] = pois
		}
	}
	stored[target] = append(stored[target], moved...)

	if err := s.store.SavePOIs(ctx, stored); err != nil {
		return 0, err
	}
	if err := s.store.AppendActivity(ctx, fmt.Sprintf("Moved %d POIs to %s", len(moved), target)); err != nil {
		log.Printf("Failed to record activity: %v", err)
	}
	return len(moved), nil
}

// groupIndices parses "category|index" ids into per-category index lists.
// Duplicate identifiers collapse to one: deleting the same index twice
// would remove a second, unintended POI after the shift.
func groupIndices(ids []string) (map[string][]int, error) {
	out := make(map[string][]int)
	seen := make(map[string]map[int]bool)
	for _, id := range ids {
		sep := strings.LastIndex(id, "|")
		if sep <= 0 || sep == len(id)-1 {
			return nil, errors.NewValidationError("Invalid POI identifier: " + id)
		}
		idx, err := strconv.Atoi(id[sep+1:])
		if err != nil {
			return nil, errors.NewValidationError("Invalid POI identifier: " + id)
		}
		key := id[:sep]
		if seen[key] == nil {
			seen[key] = make(map[int]bool)
		}
		if seen[key][idx] {
			continue
		}
		seen[key][idx] = true
		out[key] = append(out[key], idx)
	}
	return out, nil
}

// ensureCategories creates store categories for any new keys seen in the
// batch, with deterministic colors.
func (s *ImportService) ensureCategories(ctx context.Context, byCategory map[string][]models.POI, names map[string]string) error {
	categories, err := s.store.GetCategories(ctx)
	if err != nil {
		return err
	}
	changed := false
	for key := range byCategory {
		if _, ok := categories[key]; ok {
			continue
		}
		name := names[key]
		if name == "" {
			name = titleFromKey(key)
		}
		categories[key] = models.Category{Key: key, Name: name, Color: CategoryColor(key)}
		changed = true
	}
	if !changed {
		return nil
	}
	return s.store.SaveCategories(ctx, categories)
}

func titleFromKey(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// CategoryColor returns the fixed swatch for known categories, otherwise a
// color derived from a hash of the key with each channel clamped to
// [80,200] so generated swatches stay readable. The same key always yields
// the same color.
func CategoryColor(key string) string {
	if color, ok := knownCategoryColors[key]; ok {
		return color
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	sum := h.Sum32()
	r := 80 + (sum>>16)%121
	g := 80 + (sum>>8)%121
	b := 80 + sum%121
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// batchStats counts coordinate sources before any geocoding pass runs.
func batchStats(byCategory map[string][]models.POI) *models.ImportStats {
	stats := &models.ImportStats{BySource: make(map[models.CoordinateSource]int)}
	for _, pois := range byCategory {
		for i := range pois {
			stats.Total++
			stats.BySource[pois[i].CoordinateSource]++
			if pois[i].CoordinateSource == models.SourceKML {
				stats.WithCoordinates++
			}
			if pois[i].NeedsGeocoding {
				stats.NeedsGeocoding++
			}
		}
	}
	return stats
}
