// Package query is the read side of the price engine: it validates a request,
// resolves its location and aggregates price facts inside one store session.
package query

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"hompare/internal/aggregate"
	"hompare/internal/apperr"
	"hompare/internal/cache"
	"hompare/internal/filter"
	"hompare/internal/geometry"
	"hompare/internal/location"
	"hompare/internal/models"
	"hompare/internal/storage"
)

type Service struct {
	store     storage.Store
	resolver  *location.Resolver
	validator *filter.Validator
	cache     cache.Cache
	cacheTTL  time.Duration
	logger    *logrus.Logger
}

type Option func(*Service)

// WithCache memoizes city lists, area lists and series for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func NewService(store storage.Store, resolver *location.Resolver, validator *filter.Validator, logger *logrus.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Service{
		store:     store,
		resolver:  resolver,
		validator: validator,
		cache:     cache.Noop{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) acquire(ctx context.Context) (storage.Session, error) {
	sess, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, apperr.StoreUnavailable(fmt.Errorf("failed to acquire session: %w", err))
	}
	return sess, nil
}

// ListCities returns the distinct city names in name order.
func (s *Service) ListCities(ctx context.Context) ([]string, error) {
	infos, err := s.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	return models.CityNames(infos), nil
}

// ListMarkets lists every city with the province and country that tell apart
// cities sharing a name.
func (s *Service) ListMarkets(ctx context.Context) ([]models.CityInfo, error) {
	key := cache.Key("markets")
	infos := make([]models.CityInfo, 0)
	if s.cached(ctx, key, &infos) {
		return infos, nil
	}

	sess, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	markets, err := sess.ListMarkets(ctx)
	if err != nil {
		return nil, apperr.StoreUnavailable(fmt.Errorf("failed to list markets: %w", err))
	}
	infos = make([]models.CityInfo, 0, len(markets))
	for _, m := range markets {
		infos = append(infos, m.Info())
	}

	s.remember(ctx, key, infos)
	return infos, nil
}

// ListAreas returns the area names of a city. City-only markets have none.
func (s *Service) ListAreas(ctx context.Context, q models.LocationQuery) ([]string, error) {
	sess, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	resolved, err := s.resolver.ResolveCity(ctx, sess, q)
	if err != nil {
		return nil, err
	}

	key := cache.Key("areas", cache.IntKey(resolved.City.ID))
	names := make([]string, 0)
	if s.cached(ctx, key, &names) {
		return names, nil
	}

	areas, err := sess.ListAreas(ctx, resolved.City.ID)
	if err != nil {
		return nil, apperr.StoreUnavailable(fmt.Errorf("failed to list areas: %w", err))
	}
	names = make([]string, 0, len(areas))
	for _, a := range areas {
		names = append(names, a.Name)
	}

	s.remember(ctx, key, names)
	return names, nil
}

// GetSnapshot returns every entry recorded on the most recent date of the location.
func (s *Service) GetSnapshot(ctx context.Context, raw filter.RawFilter) ([]models.SnapshotEntry, error) {
	f, err := s.validator.ValidateLocation(raw)
	if err != nil {
		return nil, err
	}

	sess, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	scope, err := s.resolve(ctx, sess, f.Location)
	if err != nil {
		return nil, err
	}

	snapshot, err := aggregate.New(sess).Snapshot(ctx, scope, f)
	if err != nil {
		return nil, apperr.StoreUnavailable(err)
	}
	return snapshot, nil
}

// GetSeries returns the average price per unit area of every date in the range.
func (s *Service) GetSeries(ctx context.Context, raw filter.RawFilter) ([]models.SeriesPoint, error) {
	f, err := s.validator.Validate(raw)
	if err != nil {
		return nil, err
	}

	sess, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	scope, err := s.resolve(ctx, sess, f.Location)
	if err != nil {
		return nil, err
	}

	key := seriesKey("series", scope, f)
	series := make([]models.SeriesPoint, 0)
	if s.cached(ctx, key, &series) {
		return series, nil
	}

	series, err = aggregate.New(sess).Series(ctx, scope, f)
	if err != nil {
		return nil, apperr.StoreUnavailable(err)
	}

	s.remember(ctx, key, series)
	return series, nil
}

// GetSeriesFixedSurface returns the entries of a single surface over the range.
func (s *Service) GetSeriesFixedSurface(ctx context.Context, raw filter.RawFilter) ([]models.SnapshotEntry, error) {
	f, err := s.validator.ValidateFixedSurface(raw)
	if err != nil {
		return nil, err
	}

	sess, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	scope, err := s.resolve(ctx, sess, f.Location)
	if err != nil {
		return nil, err
	}

	key := seriesKey("surface", scope, f)
	rows := make([]models.SnapshotEntry, 0)
	if s.cached(ctx, key, &rows) {
		return rows, nil
	}

	rows, err = aggregate.New(sess).FixedSurface(ctx, scope, f)
	if err != nil {
		return nil, apperr.StoreUnavailable(err)
	}

	s.remember(ctx, key, rows)
	return rows, nil
}

// CityMarkers returns the configured city centers as a GeoJSON feature collection.
func (s *Service) CityMarkers(ctx context.Context) (*geojson.FeatureCollection, error) {
	sess, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	cities, err := sess.ListCities(ctx)
	if err != nil {
		return nil, apperr.StoreUnavailable(fmt.Errorf("failed to list cities: %w", err))
	}
	return geometry.CityMarkers(cities), nil
}

func (s *Service) resolve(ctx context.Context, sess storage.Session, q models.LocationQuery) (models.Scope, error) {
	resolved, err := s.resolver.ResolveCity(ctx, sess, q)
	if err != nil {
		return models.Scope{}, err
	}
	if err := filter.CheckArea(resolved.City, q.Area); err != nil {
		return models.Scope{}, err
	}
	if err := s.resolver.ResolveArea(ctx, sess, resolved, q.Area); err != nil {
		return models.Scope{}, err
	}
	return resolved.Scope(), nil
}

func (s *Service) cached(ctx context.Context, key string, dest any) bool {
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		return false
	}
	if hit {
		s.logger.WithField("key", key).Debug("Cache hit")
	}
	return hit
}

func (s *Service) remember(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
	}
}

func seriesKey(kind string, scope models.Scope, f models.QueryFilter) string {
	area, surface := "", ""
	if scope.AreaID != nil {
		area = cache.IntKey(*scope.AreaID)
	}
	if f.Surface != nil {
		surface = strconv.Itoa(*f.Surface)
	}
	return cache.Key(kind,
		cache.IntKey(scope.CityID),
		area,
		f.PriceType.String(),
		surface,
		f.Range.Start.Format(models.DateLayout),
		f.Range.End.Format(models.DateLayout),
	)
}
