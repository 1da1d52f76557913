package query

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hompare/internal/apperr"
	"hompare/internal/filter"
	"hompare/internal/location"
	"hompare/internal/models"
	"hompare/internal/storage/memory"
	"hompare/internal/storage/storagetest"
)

var now = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store, storagetest.Fixture) {
	t.Helper()
	store := memory.NewStore()
	fixture := storagetest.Seed(t, store)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	svc := NewService(store, location.NewResolver(location.ModeCityAnchored),
		filter.NewValidator(func() time.Time { return now }), logger, opts...)
	return svc, store, fixture
}

// memoryCache is a map backed cache that can be told to fail.
type memoryCache struct {
	data map[string][]byte
	fail error
	sets int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	if m.fail != nil {
		return false, m.fail
	}
	data, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	if m.fail != nil {
		return m.fail
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = data
	m.sets++
	return nil
}

func (m *memoryCache) Close() error { return nil }

func TestService_ListCitiesAndAreas(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	cities, err := svc.ListCities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Athens", "Springfield", "Thessaloniki"}, cities)

	markets, err := svc.ListMarkets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CityInfo{
		{Name: "Athens", Province: "Attica", Country: "Greece", HasAreas: true},
		{Name: "Springfield", Province: "Illinois", Country: "USA"},
		{Name: "Springfield", Province: "Missouri", Country: "USA"},
		{Name: "Thessaloniki", Province: "Central Macedonia", Country: "Greece"},
	}, markets)

	tests := []struct {
		name     string
		query    models.LocationQuery
		expected []string
		wantKind apperr.Kind
	}{
		{name: "multi area market", query: models.LocationQuery{City: "Athens"}, expected: []string{"Kolonaki", "Plaka"}},
		{name: "city only market", query: models.LocationQuery{City: "Thessaloniki"}, expected: []string{}},
		{name: "unknown city", query: models.LocationQuery{City: "Sparta"}, wantKind: apperr.KindLocationNotFound},
		{name: "ambiguous city", query: models.LocationQuery{City: "Springfield"}, wantKind: apperr.KindAmbiguousLocation},
		{name: "shared name with province", query: models.LocationQuery{Province: "Missouri", City: "Springfield"}, expected: []string{}},
		{name: "missing city", query: models.LocationQuery{}, wantKind: apperr.KindMissingParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			areas, err := svc.ListAreas(ctx, tt.query)
			if tt.wantKind != "" {
				assert.True(t, apperr.Is(err, tt.wantKind), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, areas)
		})
	}

	assert.Equal(t, int64(0), store.OpenSessions())
}

func TestService_KolonakiRentSeries(t *testing.T) {
	svc, store, f := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.InsertEntries(ctx, []models.PriceEntry{
		storagetest.Entry(f.Plaka, models.PriceTypeRent, 50, 500, storagetest.Date(2024, 3, 1)),
		storagetest.Entry(f.Plaka, models.PriceTypeRent, 70, 770, storagetest.Date(2024, 3, 1)),
	}))

	series, err := svc.GetSeries(ctx, filter.RawFilter{
		Action: "Rent", City: "Athens", Area: "Plaka", Timeframe: "custom",
		StartDate: "2024-03-01", EndDate: "2024-03-01",
	})
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.InDelta(t, 1270.0/120.0, series[0].PricePerUnitArea, 1e-9)

	data, err := json.Marshal(series)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"date":"2024-03-01"`)
	assert.Contains(t, string(data), `"price_per_unit_area":10.58`)
}

func TestService_GetSeries(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		raw       filter.RawFilter
		wantDates []string
		wantKind  apperr.Kind
	}{
		{
			name:      "area over every date",
			raw:       filter.RawFilter{Action: "Buy", City: "Athens", Area: "Kolonaki", Timeframe: "ever"},
			wantDates: []string{"2024-01-01", "2024-02-01"},
		},
		{
			name:      "city only market without area",
			raw:       filter.RawFilter{Action: "Buy", City: "Thessaloniki", Timeframe: "ever"},
			wantDates: []string{"2024-03-01"},
		},
		{
			name:      "no data is an empty series",
			raw:       filter.RawFilter{Action: "Buy", City: "Athens", Area: "Kolonaki", Timeframe: "last week"},
			wantDates: []string{},
		},
		{
			name:     "multi area market requires the area",
			raw:      filter.RawFilter{Action: "Buy", City: "Athens", Timeframe: "ever"},
			wantKind: apperr.KindMissingParameter,
		},
		{
			name:     "unknown area",
			raw:      filter.RawFilter{Action: "Buy", City: "Athens", Area: "Glyfada", Timeframe: "ever"},
			wantKind: apperr.KindLocationNotFound,
		},
		{
			name:     "unknown timeframe",
			raw:      filter.RawFilter{Action: "Buy", City: "Athens", Area: "Kolonaki", Timeframe: "forever"},
			wantKind: apperr.KindInvalidTimeframe,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series, err := svc.GetSeries(ctx, tt.raw)
			if tt.wantKind != "" {
				assert.True(t, apperr.Is(err, tt.wantKind), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, series)
			dates := make([]string, 0, len(series))
			for _, p := range series {
				dates = append(dates, p.Date.Format(models.DateLayout))
			}
			assert.Equal(t, tt.wantDates, dates)
		})
	}

	assert.Equal(t, int64(0), store.OpenSessions())
}

func TestService_InvalidRangeNeverTouchesStore(t *testing.T) {
	svc, store, _ := newTestService(t)
	acquired := store.Acquired()

	_, err := svc.GetSeries(context.Background(), filter.RawFilter{
		Action: "Buy", City: "Athens", Area: "Kolonaki", Timeframe: "custom",
		StartDate: "2024-02-01", EndDate: "2024-01-01",
	})
	assert.True(t, apperr.Is(err, apperr.KindInvalidRange))
	assert.Equal(t, acquired, store.Acquired())
}

func TestService_EverMatchesCustomRange(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	ever, err := svc.GetSeries(ctx, filter.RawFilter{Action: "Buy", City: "Athens", Area: "Kolonaki", Timeframe: "ever"})
	require.NoError(t, err)
	custom, err := svc.GetSeries(ctx, filter.RawFilter{
		Action: "Buy", City: "Athens", Area: "Kolonaki", Timeframe: "custom",
		StartDate: "0001-01-01", EndDate: now.Format(models.DateLayout),
	})
	require.NoError(t, err)
	assert.Equal(t, ever, custom)
}

func TestService_Idempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	raw := filter.RawFilter{Action: "Buy", City: "Athens", Area: "Kolonaki", Timeframe: "ever"}

	first, err := svc.GetSeries(ctx, raw)
	require.NoError(t, err)
	second, err := svc.GetSeries(ctx, raw)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestService_GetSnapshot(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	snapshot, err := svc.GetSnapshot(ctx, filter.RawFilter{Action: "Buy", City: "Athens", Area: "Kolonaki"})
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, 100, snapshot[0].Surface)
	assert.Equal(t, "2024-02-01", snapshot[0].EntryDate.Format(models.DateLayout))

	snapshot, err = svc.GetSnapshot(ctx, filter.RawFilter{Action: "Rent", City: "Athens", Area: "Plaka"})
	require.NoError(t, err)
	assert.NotNil(t, snapshot)
	assert.Empty(t, snapshot)

	_, err = svc.GetSnapshot(ctx, filter.RawFilter{Action: "Lease", City: "Athens", Area: "Plaka"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidParameter))

	assert.Equal(t, int64(0), store.OpenSessions())
}

func TestService_RoundTripNeverNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	markets, err := svc.ListMarkets(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, markets)

	for _, market := range markets {
		q := market.Query()
		areas, err := svc.ListAreas(ctx, q)
		require.NoError(t, err, market.Name)
		if !market.HasAreas {
			assert.Empty(t, areas)
			areas = []string{""}
		}
		for _, area := range areas {
			_, err := svc.GetSnapshot(ctx, filter.RawFilter{
				Action: "Buy", Country: q.Country, Province: q.Province, City: q.City, Area: area,
			})
			assert.False(t, apperr.Is(err, apperr.KindLocationNotFound), "%s/%s/%s: %v", q.Province, q.City, area, err)
			assert.NoError(t, err)
		}
	}
}

func TestService_ListMarketsCached(t *testing.T) {
	c := newMemoryCache()
	svc, store, _ := newTestService(t, WithCache(c, time.Minute))
	ctx := context.Background()

	first, err := svc.ListMarkets(ctx)
	require.NoError(t, err)
	cities, err := svc.ListCities(ctx)
	require.NoError(t, err)
	assert.Len(t, cities, 3)
	assert.Equal(t, 1, c.sets)

	queries := store.Queries()
	second, err := svc.ListMarkets(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, queries, store.Queries())
}

func TestService_GetSeriesFixedSurface(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rows, err := svc.GetSeriesFixedSurface(ctx, filter.RawFilter{
		Action: "Buy", City: "Athens", Area: "Kolonaki", Surface: "70", Timeframe: "ever",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 70, rows[0].Surface)
	assert.Equal(t, "770", rows[0].Price.String())

	_, err = svc.GetSeriesFixedSurface(ctx, filter.RawFilter{Action: "Buy", City: "Athens", Area: "Kolonaki", Timeframe: "ever"})
	assert.True(t, apperr.Is(err, apperr.KindMissingParameter))
}

func TestService_StoreUnavailableReleasesNothing(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.FailAcquire(errors.New("too many connections"))

	_, err := svc.GetSeries(context.Background(), filter.RawFilter{Action: "Buy", City: "Athens", Area: "Kolonaki", Timeframe: "ever"})
	assert.True(t, apperr.Is(err, apperr.KindStoreUnavailable))
	assert.True(t, apperr.Retryable(err))
	assert.Equal(t, int64(0), store.OpenSessions())
}

func TestService_Cache(t *testing.T) {
	c := newMemoryCache()
	svc, store, f := newTestService(t, WithCache(c, time.Minute))
	ctx := context.Background()
	raw := filter.RawFilter{Action: "Buy", City: "Athens", Area: "Kolonaki", Timeframe: "ever"}

	first, err := svc.GetSeries(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, 1, c.sets)

	// A cached series survives new facts until its ttl expires.
	require.NoError(t, store.InsertEntries(ctx, []models.PriceEntry{
		storagetest.Entry(f.Kolonaki, models.PriceTypeBuy, 10, 100, storagetest.Date(2024, 4, 1)),
	}))
	second, err := svc.GetSeries(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))

	c.fail = errors.New("redis down")
	third, err := svc.GetSeries(ctx, raw)
	require.NoError(t, err)
	assert.Len(t, third, len(first)+1)
}

func TestService_CityMarkers(t *testing.T) {
	svc, _, _ := newTestService(t)

	fc, err := svc.CityMarkers(context.Background())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Athens", fc.Features[0].Properties.MustString("name"))
}
