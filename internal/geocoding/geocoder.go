// Package geocoding looks up city centers on a Nominatim compatible service.
package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://nominatim.openstreetmap.org"

var ErrNoResults = errors.New("no geocoding results")

type Options struct {
	BaseURL string
	// CacheDir keeps resolved centers across runs when set.
	CacheDir string
	// Delay is the pause before each remote request; Nominatim allows one per second.
	Delay     time.Duration
	UserAgent string
}

type Geocoder struct {
	logger    *logrus.Logger
	opts      Options
	cache     map[string][]float64
	cacheLock sync.RWMutex
	client    *http.Client
}

func NewGeocoder(logger *logrus.Logger, opts Options) *Geocoder {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "hompare-import/1.0"
	}

	g := &Geocoder{
		logger: logger,
		opts:   opts,
		cache:  make(map[string][]float64),
		client: &http.Client{Timeout: 10 * time.Second},
	}
	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
			logger.WithError(err).Warn("Could not create geocode cache directory")
		}
		g.loadCache()
	}
	return g
}

func (g *Geocoder) cacheFile() string {
	return filepath.Join(g.opts.CacheDir, "geocode_cache.json")
}

func (g *Geocoder) loadCache() {
	data, err := os.ReadFile(g.cacheFile())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.WithError(err).Warn("Could not load geocode cache")
		}
		return
	}

	if err := json.Unmarshal(data, &g.cache); err != nil {
		g.logger.WithError(err).Error("Failed to parse geocode cache")
		return
	}

	g.logger.WithField("entries", len(g.cache)).Info("Loaded geocode cache")
}

// SaveCache writes the cache to disk. It is a no-op without a cache directory.
func (g *Geocoder) SaveCache() error {
	if g.opts.CacheDir == "" {
		return nil
	}

	g.cacheLock.RLock()
	data, err := json.Marshal(g.cache)
	g.cacheLock.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal geocode cache: %w", err)
	}

	if err := os.WriteFile(g.cacheFile(), data, 0o644); err != nil {
		return fmt.Errorf("failed to save geocode cache: %w", err)
	}
	return nil
}

type nominatimResponse []struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// GeocodeCity returns the center of a city as a lng/lat point. Province and
// country narrow the search and may be empty.
func (g *Geocoder) GeocodeCity(ctx context.Context, city, province, country string) (orb.Point, error) {
	parts := []string{city}
	for _, p := range []string{province, country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	query := strings.Join(parts, ", ")
	log := g.logger.WithField("query", query)

	g.cacheLock.RLock()
	coords, ok := g.cache[query]
	g.cacheLock.RUnlock()
	if ok && len(coords) == 2 {
		log.WithField("source", "cache").Debug("Found coordinates in cache")
		return orb.Point{coords[1], coords[0]}, nil
	}

	if g.opts.Delay > 0 {
		select {
		case <-time.After(g.opts.Delay):
		case <-ctx.Done():
			return orb.Point{}, ctx.Err()
		}
	}

	params := url.Values{
		"q":      []string{query},
		"format": []string{"json"},
		"limit":  []string{"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(g.opts.BaseURL, "/")+"/search?"+params.Encode(), nil)
	if err != nil {
		return orb.Point{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", g.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		log.WithError(err).Error("Geocoding request failed")
		return orb.Point{}, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return orb.Point{}, fmt.Errorf("geocoding request failed: status %d", resp.StatusCode)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return orb.Point{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result) == 0 {
		log.Warn("No results found")
		return orb.Point{}, fmt.Errorf("%s: %w", query, ErrNoResults)
	}

	lat, err := strconv.ParseFloat(result[0].Lat, 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("invalid latitude %q: %w", result[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(result[0].Lon, 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("invalid longitude %q: %w", result[0].Lon, err)
	}

	log.WithFields(logrus.Fields{
		"latitude":  lat,
		"longitude": lon,
		"source":    "nominatim",
	}).Info("Successfully geocoded city")

	g.cacheLock.Lock()
	g.cache[query] = []float64{lat, lon}
	g.cacheLock.Unlock()

	return orb.Point{lon, lat}, nil
}
