package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"poi-server/models"
	"poi-server/utils/errors"
)

// Cache policy. Successes cache for a day; failures for an hour, long
// enough to protect a batch import from hammering a known-bad address but
// short enough that transient provider trouble heals on its own.
const (
	geocodeCacheTTL = 24 * time.Hour
	geocodeFailTTL  = time.Hour
)

const geocodeHTTPTimeout = 10 * time.Second

// GeocodeResult is one successful forward lookup.
type GeocodeResult struct {
	Lat              float64                   `json:"lat"`
	Lng              float64                   `json:"lng"`
	FormattedAddress string                    `json:"formatted_address"`
	Precision        models.GeocodingPrecision `json:"precision"`
	Source           string                    `json:"source"`
}

// GeocodeProvider is one geocoding backend. Providers are tried in order;
// an unconfigured provider is skipped without a network call.
type GeocodeProvider interface {
	Name() string
	Configured() bool
	Geocode(ctx context.Context, address string) (*GeocodeResult, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// GeocodeCache stores lookup results (including failures) keyed per
// provider and direction. Get returns (nil, nil) on a miss.
type GeocodeCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	ClearAll(ctx context.Context) error
}

// RedisGeocodeCache keeps entries under a geocode: prefix so ClearAll can
// scan-and-delete without touching other keys.
type RedisGeocodeCache struct {
	client *redis.Client
}

func NewRedisGeocodeCache(client *redis.Client) *RedisGeocodeCache {
	return &RedisGeocodeCache{client: client}
}

func (c *RedisGeocodeCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *RedisGeocodeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisGeocodeCache) ClearAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "geocode:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// MemoryGeocodeCache is the test implementation. TTLs are honored so
// expiry behavior is testable.
type MemoryGeocodeCache struct {
	mu   sync.Mutex
	data map[string]memoryCacheEntry
	now  func() time.Time
}

type memoryCacheEntry struct {
	value   []byte
	expires time.Time
}

func NewMemoryGeocodeCache() *MemoryGeocodeCache {
	return &MemoryGeocodeCache{data: make(map[string]memoryCacheEntry), now: time.Now}
}

func (c *MemoryGeocodeCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok || c.now().After(entry.expires) {
		return nil, nil
	}
	return entry.value, nil
}

func (c *MemoryGeocodeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = memoryCacheEntry{value: value, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryGeocodeCache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]memoryCacheEntry)
	return nil
}

// cachedLookup is what actually goes into the cache: either a result or an
// error code, so repeated lookups against a known-bad address short-circuit
// the network the same way successes do.
type cachedLookup struct {
	Result  *GeocodeResult `json:"result,omitempty"`
	Address string         `json:"address,omitempty"`
	ErrCode string         `json:"err_code,omitempty"`
	ErrMsg  string         `json:"err_msg,omitempty"`
}

// GeocodeService resolves addresses to coordinates and back through an
// ordered provider chain with caching.
type GeocodeService struct {
	providers []GeocodeProvider
	cache     GeocodeCache
}

func NewGeocodeService(cache GeocodeCache, providers ...GeocodeProvider) *GeocodeService {
	return &GeocodeService{providers: providers, cache: cache}
}

// normalizeAddress collapses internal whitespace and trims, so trivially
// different spellings share a cache slot.
func normalizeAddress(address string) string {
	return strings.Join(strings.Fields(address), " ")
}

func cacheKey(provider, direction, payload string) string {
	sum := md5.Sum([]byte(payload))
	return "geocode:" + provider + ":" + direction + ":" + hex.EncodeToString(sum[:])
}

func (s *GeocodeService) configuredProviders() []GeocodeProvider {
	var out []GeocodeProvider
	for _, p := range s.providers {
		if p.Configured() {
			out = append(out, p)
		}
	}
	return out
}

// GeocodeAddress resolves an address to coordinates. contextLabel only
// decorates log lines so batch output is traceable per POI.
func (s *GeocodeService) GeocodeAddress(ctx context.Context, address, contextLabel string) (*GeocodeResult, error) {
	address = normalizeAddress(address)
	if address == "" {
		return nil, errors.NewGeocodingError(errors.GeocodeFailed, "Empty address")
	}
	providers := s.configuredProviders()
	if len(providers) == 0 {
		return nil, errors.NewGeocodingError(errors.GeocodeNoAPIKey, "No geocoding provider configured")
	}

	var lastErr error
	for _, p := range providers {
		key := cacheKey(p.Name(), "forward", address)
		if result, err, hit := s.cachedResult(ctx, key); hit {
			log.Printf("Geocode cache hit (%s) for %q [%s]", p.Name(), address, contextLabel)
			if err != nil {
				lastErr = err
				continue
			}
			return result, nil
		}

		result, err := p.Geocode(ctx, address)
		s.storeResult(ctx, key, address, result, err)
		if err != nil {
			log.Printf("Geocoding failed (%s) for %q [%s]: %v", p.Name(), address, contextLabel, err)
			lastErr = err
			continue
		}
		return result, nil
	}
	return nil, lastErr
}

// ReverseGeocode resolves coordinates to a formatted address. Returns ""
// with an error describing why when no provider could resolve it.
func (s *GeocodeService) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	providers := s.configuredProviders()
	if len(providers) == 0 {
		return "", errors.NewGeocodingError(errors.GeocodeNoAPIKey, "No geocoding provider configured")
	}

	payload := fmt.Sprintf("%.6f,%.6f", lat, lng)
	var lastErr error
	for _, p := range providers {
		key := cacheKey(p.Name(), "reverse", payload)
		if cached, err, hit := s.cachedReverse(ctx, key); hit {
			if err != nil {
				lastErr = err
				continue
			}
			return cached, nil
		}

		addr, err := p.ReverseGeocode(ctx, lat, lng)
		s.storeReverse(ctx, key, addr, err)
		if err != nil {
			log.Printf("Reverse geocoding failed (%s) for %s: %v", p.Name(), payload, err)
			lastErr = err
			continue
		}
		return addr, nil
	}
	return "", lastErr
}

// ClearCache drops every cached entry for both directions and all providers.
func (s *GeocodeService) ClearCache(ctx context.Context) error {
	return s.cache.ClearAll(ctx)
}

func (s *GeocodeService) cachedResult(ctx context.Context, key string) (*GeocodeResult, error, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil || data == nil {
		return nil, nil, false
	}
	var entry cachedLookup
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, nil, false
	}
	if entry.ErrCode != "" {
		return nil, errors.NewGeocodingError(entry.ErrCode, entry.ErrMsg), true
	}
	return entry.Result, nil, true
}

func (s *GeocodeService) storeResult(ctx context.Context, key, address string, result *GeocodeResult, lookupErr error) {
	entry := cachedLookup{Result: result, Address: address}
	ttl := geocodeCacheTTL
	if lookupErr != nil {
		entry.Result = nil
		entry.ErrCode, entry.ErrMsg = geocodeErrParts(lookupErr)
		ttl = geocodeFailTTL
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		log.Printf("Failed to cache geocode result: %v", err)
	}
}

func (s *GeocodeService) cachedReverse(ctx context.Context, key string) (string, error, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil || data == nil {
		return "", nil, false
	}
	var entry cachedLookup
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", nil, false
	}
	if entry.ErrCode != "" {
		return "", errors.NewGeocodingError(entry.ErrCode, entry.ErrMsg), true
	}
	return entry.Address, nil, true
}

func (s *GeocodeService) storeReverse(ctx context.Context, key, address string, lookupErr error) {
	entry := cachedLookup{Address: address}
	ttl := geocodeCacheTTL
	if lookupErr != nil {
		entry.Address = ""
		entry.ErrCode, entry.ErrMsg = geocodeErrParts(lookupErr)
		ttl = geocodeFailTTL
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		log.Printf("Failed to cache reverse geocode result: %v", err)
	}
}

func geocodeErrParts(err error) (string, string) {
	if apiErr, ok := err.(*errors.APIError); ok {
		return apiErr.Details, apiErr.Message
	}
	return errors.GeocodeNetwork, err.Error()
}

// GoogleProvider calls the Google Maps Geocoding API.
type GoogleProvider struct {
	apiKey string
	client *http.Client
}

func NewGoogleProvider(apiKey string, client *http.Client) *GoogleProvider {
	if client == nil {
		client = &http.Client{Timeout: geocodeHTTPTimeout}
	}
	return &GoogleProvider{apiKey: apiKey, client: client}
}

func (p *GoogleProvider) Name() string     { return "google" }
func (p *GoogleProvider) Configured() bool { return p.apiKey != "" }

type googleResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
			LocationType string `json:"location_type"`
		} `json:"geometry"`
	} `json:"results"`
}

// googlePrecision maps Google's location_type to the normalized scale.
var googlePrecision = map[string]models.GeocodingPrecision{
	"ROOFTOP":            models.PrecisionHigh,
	"RANGE_INTERPOLATED": models.PrecisionMedium,
	"GEOMETRIC_CENTER":   models.PrecisionLow,
	"APPROXIMATE":        models.PrecisionVeryLow,
}

func (p *GoogleProvider) fetch(ctx context.Context, query url.Values) (*googleResponse, error) {
	query.Set("key", p.apiKey)
	u := "https://maps.googleapis.com/maps/api/geocode/json?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.NewGeocodingError(errors.GeocodeNetwork, err.Error())
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.NewGeocodingError(errors.GeocodeNetwork, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewGeocodingError(errors.GeocodeNetwork, "Google geocoding HTTP "+resp.Status)
	}
	var r googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.NewGeocodingError(errors.GeocodeNetwork, err.Error())
	}
	if r.Status != "OK" || len(r.Results) == 0 {
		return nil, errors.NewGeocodingError(errors.GeocodeFailed, "Google returned no results: "+r.Status)
	}
	return &r, nil
}

func (p *GoogleProvider) Geocode(ctx context.Context, address string) (*GeocodeResult, error) {
	q := url.Values{}
	q.Set("address", address)
	r, err := p.fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	first := r.Results[0]
	precision, ok := googlePrecision[first.Geometry.LocationType]
	if !ok {
		precision = models.PrecisionUnknown
	}
	return &GeocodeResult{
		Lat:              first.Geometry.Location.Lat,
		Lng:              first.Geometry.Location.Lng,
		FormattedAddress: first.FormattedAddress,
		Precision:        precision,
		Source:           p.Name(),
	}, nil
}

func (p *GoogleProvider) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	// Google takes latitude first.
	q.Set("latlng", fmt.Sprintf("%f,%f", lat, lng))
	r, err := p.fetch(ctx, q)
	if err != nil {
		return "", err
	}
	return r.Results[0].FormattedAddress, nil
}

// MapboxProvider calls the Mapbox Geocoding v5 API.
type MapboxProvider struct {
	token  string
	client *http.Client
}

func NewMapboxProvider(token string, client *http.Client) *MapboxProvider {
	if client == nil {
		client = &http.Client{Timeout: geocodeHTTPTimeout}
	}
	return &MapboxProvider{token: token, client: client}
}

func (p *MapboxProvider) Name() string     { return "mapbox" }
func (p *MapboxProvider) Configured() bool { return p.token != "" }

type mapboxResponse struct {
	Features []struct {
		PlaceName string    `json:"place_name"`
		PlaceType []string  `json:"place_type"`
		Center    []float64 `json:"center"`
	} `json:"features"`
}

// mapboxPrecision maps Mapbox place types to the normalized scale.
var mapboxPrecision = map[string]models.GeocodingPrecision{
	"address":      models.PrecisionHigh,
	"poi":          models.PrecisionHigh,
	"neighborhood": models.PrecisionMedium,
	"postcode":     models.PrecisionMedium,
	"locality":     models.PrecisionLow,
	"place":        models.PrecisionLow,
	"district":     models.PrecisionVeryLow,
	"region":       models.PrecisionVeryLow,
	"country":      models.PrecisionVeryLow,
}

func (p *MapboxProvider) fetch(ctx context.Context, queryPart string) (*mapboxResponse, error) {
	u := "https://api.mapbox.com/geocoding/v5/mapbox.places/" + queryPart +
		".json?access_token=" + url.QueryEscape(p.token) + "&limit=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.NewGeocodingError(errors.GeocodeNetwork, err.Error())
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.NewGeocodingError(errors.GeocodeNetwork, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewGeocodingError(errors.GeocodeNetwork, "Mapbox geocoding HTTP "+resp.Status)
	}
	var r mapboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.NewGeocodingError(errors.GeocodeNetwork, err.Error())
	}
	if len(r.Features) == 0 || len(r.Features[0].Center) < 2 {
		return nil, errors.NewGeocodingError(errors.GeocodeFailed, "Mapbox returned no results")
	}
	return &r, nil
}

func (p *MapboxProvider) Geocode(ctx context.Context, address string) (*GeocodeResult, error) {
	r, err := p.fetch(ctx, url.PathEscape(address))
	if err != nil {
		return nil, err
	}
	first := r.Features[0]
	precision := models.PrecisionUnknown
	if len(first.PlaceType) > 0 {
		if mapped, ok := mapboxPrecision[first.PlaceType[0]]; ok {
			precision = mapped
		}
	}
	return &GeocodeResult{
		Lat:              first.Center[1],
		Lng:              first.Center[0],
		FormattedAddress: first.PlaceName,
		Precision:        precision,
		Source:           p.Name(),
	}, nil
}

func (p *MapboxProvider) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	// Mapbox reverse endpoints take longitude first.
	r, err := p.fetch(ctx, fmt.Sprintf("%f,%f", lng, lat))
	if err != nil {
		return "", err
	}
	return r.Features[0].PlaceName, nil
}
