// Package ingest loads the location hierarchy and price entries into a store.
package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"hompare/config"
	"hompare/internal/apperr"
	"hompare/internal/filter"
	"hompare/internal/location"
	"hompare/internal/models"
	"hompare/internal/processor"
	"hompare/internal/storage"
)

// Geocoder finds a city center when the seed omits it.
type Geocoder interface {
	GeocodeCity(ctx context.Context, city, province, country string) (orb.Point, error)
}

type Importer struct {
	store    storage.Store
	writer   storage.HierarchyWriter
	resolver *location.Resolver
	geocoder Geocoder
	logger   *logrus.Logger
}

type Option func(*Importer)

func WithGeocoder(g Geocoder) Option {
	return func(im *Importer) {
		im.geocoder = g
	}
}

func NewImporter(store storage.Store, writer storage.HierarchyWriter, resolver *location.Resolver, logger *logrus.Logger, opts ...Option) *Importer {
	if logger == nil {
		logger = logrus.New()
	}
	im := &Importer{
		store:    store,
		writer:   writer,
		resolver: resolver,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

type SeedStats struct {
	Countries int
	Provinces int
	Cities    int
	Areas     int
	Geocoded  int
}

// ApplySeed creates or refreshes every hierarchy row of seed. Cities without
// sub-areas get a single whole-city area named after the city.
func (im *Importer) ApplySeed(ctx context.Context, seed *config.HierarchySeed) (SeedStats, error) {
	var stats SeedStats

	for _, country := range seed.Countries {
		countryID, err := im.writer.UpsertCountry(ctx, country.Name)
		if err != nil {
			return stats, fmt.Errorf("failed to upsert country %s: %w", country.Name, err)
		}
		stats.Countries++

		for _, province := range country.Provinces {
			provinceID, err := im.writer.UpsertProvince(ctx, countryID, province.Name)
			if err != nil {
				return stats, fmt.Errorf("failed to upsert province %s: %w", province.Name, err)
			}
			stats.Provinces++

			for _, city := range province.Cities {
				if err := im.applyCity(ctx, city, &provinceID, province.Name, country.Name, &stats); err != nil {
					return stats, err
				}
			}
		}
	}

	for _, city := range seed.Cities {
		if err := im.applyCity(ctx, city, nil, "", "", &stats); err != nil {
			return stats, err
		}
	}

	im.logger.WithFields(logrus.Fields{
		"countries": stats.Countries,
		"provinces": stats.Provinces,
		"cities":    stats.Cities,
		"areas":     stats.Areas,
		"geocoded":  stats.Geocoded,
	}).Info("Applied hierarchy seed")
	return stats, nil
}

func (im *Importer) applyCity(ctx context.Context, seed config.CitySeed, provinceID *int64, province, country string, stats *SeedStats) error {
	city := models.City{
		Name:       seed.Name,
		ProvinceID: provinceID,
		HasAreas:   seed.HasAreas,
	}
	if seed.HasCenter() {
		lat, lng := seed.Center[0], seed.Center[1]
		city.CenterLat, city.CenterLng = &lat, &lng
	} else if im.geocoder != nil {
		point, err := im.geocoder.GeocodeCity(ctx, seed.Name, province, country)
		if err != nil {
			im.logger.WithError(err).WithField("city", seed.Name).Warn("Could not geocode city center")
		} else {
			lat, lng := point.Lat(), point.Lon()
			city.CenterLat, city.CenterLng = &lat, &lng
			stats.Geocoded++
		}
	}

	cityID, err := im.writer.UpsertCity(ctx, city)
	if err != nil {
		return fmt.Errorf("failed to upsert city %s: %w", seed.Name, err)
	}
	stats.Cities++

	if !seed.HasAreas {
		if _, err := im.writer.UpsertArea(ctx, models.Area{Name: seed.Name, CityID: cityID, WholeCity: true}); err != nil {
			return fmt.Errorf("failed to upsert whole-city area of %s: %w", seed.Name, err)
		}
		stats.Areas++
		return nil
	}

	for _, name := range seed.Areas {
		if _, err := im.writer.UpsertArea(ctx, models.Area{Name: name, CityID: cityID}); err != nil {
			return fmt.Errorf("failed to upsert area %s of %s: %w", name, seed.Name, err)
		}
		stats.Areas++
	}
	return nil
}

// Report summarizes one entry import.
type Report struct {
	Rows     int
	Written  int
	Failed   int
	Rejected []*RowError
}

// ImportEntries reads a price entry CSV, resolves every row to an area and
// hands the entries to proc, which must already be started. proc is finished on
// every return path, including errors. Rows that fail to parse or resolve are
// reported, not fatal.
func (im *Importer) ImportEntries(ctx context.Context, r io.Reader, proc *processor.BatchProcessor) (Report, error) {
	finished := false
	defer func() {
		if !finished {
			if _, err := proc.Finish(ctx); err != nil {
				im.logger.WithError(err).Warn("Failed to finish batch processor")
			}
		}
	}()

	rows, rejected, err := ReadRows(r)
	if err != nil {
		return Report{}, err
	}
	report := Report{Rows: len(rows) + len(rejected), Rejected: rejected}

	// Resolve releases its session before the first write
	entries, unresolved, err := im.Resolve(ctx, rows)
	if err != nil {
		return report, err
	}
	report.Rejected = append(report.Rejected, unresolved...)

	if err := proc.Submit(ctx, entries); err != nil {
		return report, err
	}
	finished = true
	stats, err := proc.Finish(ctx)
	report.Written = stats.Entries
	report.Failed = stats.FailedEntries
	if err != nil {
		return report, err
	}

	im.logger.WithFields(logrus.Fields{
		"rows":     report.Rows,
		"written":  report.Written,
		"failed":   report.Failed,
		"rejected": len(report.Rejected),
	}).Info("Imported price entries")
	return report, nil
}

// Resolve maps rows to price entries. Rows whose location does not resolve are
// returned as RowErrors; a store failure aborts.
func (im *Importer) Resolve(ctx context.Context, rows []Row) ([]models.PriceEntry, []*RowError, error) {
	sess, err := im.store.Acquire(ctx)
	if err != nil {
		return nil, nil, apperr.StoreUnavailable(err)
	}
	defer sess.Release()

	type result struct {
		areaID int64
		err    error
	}
	known := make(map[models.LocationQuery]result)

	entries := make([]models.PriceEntry, 0, len(rows))
	var rejected []*RowError
	for _, row := range rows {
		res, ok := known[row.Location]
		if !ok {
			res.areaID, res.err = im.resolveArea(ctx, sess, row.Location)
			if apperr.Is(res.err, apperr.KindStoreUnavailable) {
				return nil, nil, res.err
			}
			known[row.Location] = res
		}
		if res.err != nil {
			rejected = append(rejected, &RowError{Line: row.Line, Err: res.err})
			continue
		}

		entries = append(entries, models.PriceEntry{
			AreaID:    res.areaID,
			PriceType: row.PriceType,
			Surface:   row.Surface,
			Price:     row.Price,
			EntryDate: row.EntryDate,
		})
	}
	return entries, rejected, nil
}

func (im *Importer) resolveArea(ctx context.Context, sess storage.Session, q models.LocationQuery) (int64, error) {
	resolved, err := im.resolver.ResolveCity(ctx, sess, q)
	if err != nil {
		return 0, err
	}
	if err := filter.CheckArea(resolved.City, q.Area); err != nil {
		return 0, err
	}

	if strings.TrimSpace(q.Area) != "" {
		if err := im.resolver.ResolveArea(ctx, sess, resolved, q.Area); err != nil {
			return 0, err
		}
		return resolved.Area.ID, nil
	}

	// city-only market: entries go to its whole-city area
	areas, err := sess.FindAreas(ctx, resolved.City.ID, resolved.City.Name)
	if err != nil {
		return 0, apperr.StoreUnavailable(fmt.Errorf("find area: %w", err))
	}
	for _, area := range areas {
		if area.WholeCity {
			return area.ID, nil
		}
	}
	return 0, apperr.LocationNotFound(string(models.LevelArea), resolved.City.Name)
}
