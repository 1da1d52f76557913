// Package storagetest holds the fixture and behavior checks shared by every store backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hompare/internal/models"
	"hompare/internal/storage"
)

// Backend is a store that can also be loaded.
type Backend interface {
	storage.Store
	storage.HierarchyWriter
	storage.EntryWriter
}

// Fixture holds the ids created by Seed.
type Fixture struct {
	Greece           int64
	USA              int64
	Attica           int64
	CentralMacedonia int64
	Illinois         int64
	Missouri         int64
	Athens           int64
	Thessaloniki     int64
	SpringfieldIL    int64
	SpringfieldMO    int64
	Kolonaki         int64
	Plaka            int64
	ThessalonikiCity int64
	SpringfieldILAll int64
}

// Date builds a UTC calendar date.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Entry builds a price entry with an integral price.
func Entry(areaID int64, pt models.PriceType, surface int, price int64, date time.Time) models.PriceEntry {
	return models.PriceEntry{
		AreaID:    areaID,
		PriceType: pt,
		Surface:   surface,
		Price:     decimal.NewFromInt(price),
		EntryDate: date,
	}
}

// Seed loads two countries with one multi-area market, one city-only market and a
// city name that exists in two provinces.
func Seed(t *testing.T, w Backend) Fixture {
	t.Helper()
	ctx := context.Background()
	var f Fixture
	var err error

	f.Greece, err = w.UpsertCountry(ctx, "Greece")
	require.NoError(t, err)
	f.USA, err = w.UpsertCountry(ctx, "USA")
	require.NoError(t, err)

	f.Attica, err = w.UpsertProvince(ctx, f.Greece, "Attica")
	require.NoError(t, err)
	f.CentralMacedonia, err = w.UpsertProvince(ctx, f.Greece, "Central Macedonia")
	require.NoError(t, err)
	f.Illinois, err = w.UpsertProvince(ctx, f.USA, "Illinois")
	require.NoError(t, err)
	f.Missouri, err = w.UpsertProvince(ctx, f.USA, "Missouri")
	require.NoError(t, err)

	lat, lng := 37.9838, 23.7275
	f.Athens, err = w.UpsertCity(ctx, models.City{
		Name: "Athens", ProvinceID: &f.Attica, HasAreas: true, CenterLat: &lat, CenterLng: &lng,
	})
	require.NoError(t, err)
	f.Thessaloniki, err = w.UpsertCity(ctx, models.City{Name: "Thessaloniki", ProvinceID: &f.CentralMacedonia})
	require.NoError(t, err)
	f.SpringfieldIL, err = w.UpsertCity(ctx, models.City{Name: "Springfield", ProvinceID: &f.Illinois})
	require.NoError(t, err)
	f.SpringfieldMO, err = w.UpsertCity(ctx, models.City{Name: "Springfield", ProvinceID: &f.Missouri})
	require.NoError(t, err)

	f.Kolonaki, err = w.UpsertArea(ctx, models.Area{Name: "Kolonaki", CityID: f.Athens})
	require.NoError(t, err)
	f.Plaka, err = w.UpsertArea(ctx, models.Area{Name: "Plaka", CityID: f.Athens})
	require.NoError(t, err)
	f.ThessalonikiCity, err = w.UpsertArea(ctx, models.Area{Name: "Thessaloniki", CityID: f.Thessaloniki, WholeCity: true})
	require.NoError(t, err)
	f.SpringfieldILAll, err = w.UpsertArea(ctx, models.Area{Name: "Springfield", CityID: f.SpringfieldIL, WholeCity: true})
	require.NoError(t, err)

	require.NoError(t, w.InsertEntries(ctx, []models.PriceEntry{
		Entry(f.Kolonaki, models.PriceTypeBuy, 70, 770, Date(2024, 1, 1)),
		Entry(f.Kolonaki, models.PriceTypeBuy, 50, 500, Date(2024, 1, 1)),
		Entry(f.Kolonaki, models.PriceTypeBuy, 100, 2000, Date(2024, 2, 1)),
		Entry(f.Kolonaki, models.PriceTypeRent, 60, 600, Date(2024, 1, 1)),
		Entry(f.Plaka, models.PriceTypeBuy, 80, 1600, Date(2024, 1, 15)),
		Entry(f.ThessalonikiCity, models.PriceTypeBuy, 90, 1800, Date(2024, 3, 1)),
		Entry(f.SpringfieldILAll, models.PriceTypeRent, 40, 400, Date(2023, 12, 1)),
	}))
	return f
}

// Run exercises the read and write contract against a freshly created backend.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("hierarchy lookups", func(t *testing.T) {
		b := newBackend(t)
		f := Seed(t, b)
		ctx := context.Background()

		sess, err := b.Acquire(ctx)
		require.NoError(t, err)
		defer sess.Release()

		cities, err := sess.ListCities(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(cities))
		for _, c := range cities {
			names = append(names, c.Name)
		}
		assert.Equal(t, []string{"Athens", "Springfield", "Springfield", "Thessaloniki"}, names)
		assert.True(t, cities[0].HasAreas)
		center, ok := cities[0].Center()
		assert.True(t, ok)
		assert.InDelta(t, 23.7275, center.Lon(), 1e-9)

		markets, err := sess.ListMarkets(ctx)
		require.NoError(t, err)
		require.Len(t, markets, 4)
		assert.Equal(t, models.CityInfo{Name: "Athens", Province: "Attica", Country: "Greece", HasAreas: true}, markets[0].Info())
		assert.Equal(t, models.CityInfo{Name: "Springfield", Province: "Illinois", Country: "USA"}, markets[1].Info())
		assert.Equal(t, models.CityInfo{Name: "Springfield", Province: "Missouri", Country: "USA"}, markets[2].Info())
		assert.Equal(t, f.SpringfieldMO, markets[2].City.ID)
		assert.Equal(t, "Thessaloniki", markets[3].City.Name)
		_, ok = markets[0].City.Center()
		assert.True(t, ok)

		countries, err := sess.FindCountries(ctx, "Greece")
		require.NoError(t, err)
		require.Len(t, countries, 1)
		assert.Equal(t, f.Greece, countries[0].ID)

		provinces, err := sess.FindProvinces(ctx, "Attica", &f.USA)
		require.NoError(t, err)
		assert.Empty(t, provinces)

		springfields, err := sess.FindCities(ctx, "Springfield", nil, nil)
		require.NoError(t, err)
		assert.Len(t, springfields, 2)

		springfields, err = sess.FindCities(ctx, "Springfield", &f.Missouri, nil)
		require.NoError(t, err)
		require.Len(t, springfields, 1)
		assert.Equal(t, f.SpringfieldMO, springfields[0].ID)

		springfields, err = sess.FindCities(ctx, "Springfield", nil, &f.Greece)
		require.NoError(t, err)
		assert.Empty(t, springfields)

		areas, err := sess.FindAreas(ctx, f.Athens, "Kolonaki")
		require.NoError(t, err)
		require.Len(t, areas, 1)
		assert.Equal(t, f.Kolonaki, areas[0].ID)

		listed, err := sess.ListAreas(ctx, f.Athens)
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, "Kolonaki", listed[0].Name)
		assert.Equal(t, "Plaka", listed[1].Name)

		listed, err = sess.ListAreas(ctx, f.Thessaloniki)
		require.NoError(t, err)
		assert.NotNil(t, listed)
		assert.Empty(t, listed)
	})

	t.Run("upserts are idempotent", func(t *testing.T) {
		b := newBackend(t)
		f := Seed(t, b)
		ctx := context.Background()

		id, err := b.UpsertCountry(ctx, "Greece")
		require.NoError(t, err)
		assert.Equal(t, f.Greece, id)

		id, err = b.UpsertProvince(ctx, f.Greece, "Attica")
		require.NoError(t, err)
		assert.Equal(t, f.Attica, id)

		id, err = b.UpsertArea(ctx, models.Area{Name: "Plaka", CityID: f.Athens})
		require.NoError(t, err)
		assert.Equal(t, f.Plaka, id)

		_, err = b.UpsertProvince(ctx, 9999, "Nowhere")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("query entries", func(t *testing.T) {
		b := newBackend(t)
		f := Seed(t, b)
		ctx := context.Background()

		sess, err := b.Acquire(ctx)
		require.NoError(t, err)
		defer sess.Release()

		fifty := 50
		january := models.DateRange{Start: Date(2024, 1, 1), End: Date(2024, 1, 31)}
		tests := []struct {
			name     string
			query    models.EntryQuery
			surfaces []int
		}{
			{
				name:     "area and type over every date",
				query:    models.EntryQuery{Scope: models.Scope{CityID: f.Athens, AreaID: &f.Kolonaki}, PriceType: models.PriceTypeBuy},
				surfaces: []int{50, 70, 100},
			},
			{
				name: "whole city within an inclusive range",
				query: models.EntryQuery{
					Scope: models.Scope{CityID: f.Athens}, PriceType: models.PriceTypeBuy, Range: &january,
				},
				surfaces: []int{50, 70, 80},
			},
			{
				name: "fixed surface",
				query: models.EntryQuery{
					Scope: models.Scope{CityID: f.Athens, AreaID: &f.Kolonaki}, PriceType: models.PriceTypeBuy, Surface: &fifty,
				},
				surfaces: []int{50},
			},
			{
				name: "single date",
				query: models.EntryQuery{
					Scope: models.Scope{CityID: f.Athens, AreaID: &f.Kolonaki}, PriceType: models.PriceTypeBuy, On: ptr(Date(2024, 2, 1)),
				},
				surfaces: []int{100},
			},
			{
				name:     "other price type",
				query:    models.EntryQuery{Scope: models.Scope{CityID: f.Athens, AreaID: &f.Kolonaki}, PriceType: models.PriceTypeRent},
				surfaces: []int{60},
			},
			{
				name:     "nothing matches",
				query:    models.EntryQuery{Scope: models.Scope{CityID: f.Athens, AreaID: &f.Plaka}, PriceType: models.PriceTypeRent},
				surfaces: []int{},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				entries, err := sess.QueryEntries(ctx, tt.query)
				require.NoError(t, err)
				assert.NotNil(t, entries)
				surfaces := make([]int, 0, len(entries))
				for _, e := range entries {
					surfaces = append(surfaces, e.Surface)
				}
				assert.Equal(t, tt.surfaces, surfaces)
			})
		}

		entries, err := sess.QueryEntries(ctx, tests[0].query)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.True(t, entries[0].Price.Equal(decimal.NewFromInt(500)), "price %s", entries[0].Price)
		assert.True(t, entries[0].EntryDate.Equal(Date(2024, 1, 1)), "date %s", entries[0].EntryDate)
		assert.Equal(t, models.PriceTypeBuy, entries[0].PriceType)
	})

	t.Run("latest entry date", func(t *testing.T) {
		b := newBackend(t)
		f := Seed(t, b)
		ctx := context.Background()

		sess, err := b.Acquire(ctx)
		require.NoError(t, err)
		defer sess.Release()

		latest, found, err := sess.LatestEntryDate(ctx, models.EntryQuery{
			Scope: models.Scope{CityID: f.Athens}, PriceType: models.PriceTypeBuy,
		})
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, models.DateOf(latest).Equal(Date(2024, 2, 1)), "latest %s", latest)

		_, found, err = sess.LatestEntryDate(ctx, models.EntryQuery{
			Scope: models.Scope{CityID: f.Athens, AreaID: &f.Plaka}, PriceType: models.PriceTypeRent,
		})
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("insert is atomic", func(t *testing.T) {
		b := newBackend(t)
		f := Seed(t, b)
		ctx := context.Background()

		err := b.InsertEntries(ctx, []models.PriceEntry{
			Entry(f.Plaka, models.PriceTypeRent, 30, 300, Date(2024, 5, 1)),
			Entry(f.Plaka, models.PriceTypeRent, 0, 300, Date(2024, 5, 1)),
		})
		require.Error(t, err)

		sess, err := b.Acquire(ctx)
		require.NoError(t, err)
		defer sess.Release()

		entries, err := sess.QueryEntries(ctx, models.EntryQuery{
			Scope: models.Scope{CityID: f.Athens, AreaID: &f.Plaka}, PriceType: models.PriceTypeRent,
		})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		b := newBackend(t)
		sess, err := b.Acquire(context.Background())
		require.NoError(t, err)
		sess.Release()
		sess.Release()
	})
}

func ptr[T any](v T) *T {
	return &v
}
