// Package storage declares the read contract of the price fact store and the
// writers used to load it.
package storage

import (
	"context"
	"time"

	"hompare/internal/models"
)

// LocationReader looks up the location hierarchy. Lookups by name are exact and
// return every match so callers can detect ambiguity.
type LocationReader interface {
	// ListCities returns every city ordered by name.
	ListCities(ctx context.Context) ([]models.City, error)

	// ListMarkets returns every city with its parent names, ordered by city,
	// country and province name.
	ListMarkets(ctx context.Context) ([]models.Market, error)

	FindCountries(ctx context.Context, name string) ([]models.Country, error)

	// FindProvinces matches by name, restricted to countryID when given.
	FindProvinces(ctx context.Context, name string, countryID *int64) ([]models.Province, error)

	// FindCities matches by name, restricted to provinceID and to cities of
	// countryID's provinces when given.
	FindCities(ctx context.Context, name string, provinceID, countryID *int64) ([]models.City, error)

	FindAreas(ctx context.Context, cityID int64, name string) ([]models.Area, error)

	// ListAreas returns the areas of a city ordered by name, excluding whole-city areas.
	ListAreas(ctx context.Context, cityID int64) ([]models.Area, error)
}

// PriceReader reads the price_entries fact table. It never mutates it.
type PriceReader interface {
	// QueryEntries returns matching entries ordered by entry_date, surface, id.
	QueryEntries(ctx context.Context, q models.EntryQuery) ([]models.PriceEntry, error)

	// LatestEntryDate returns the greatest entry_date among matching entries.
	LatestEntryDate(ctx context.Context, q models.EntryQuery) (time.Time, bool, error)
}

// Session is a request scoped handle on the store. Release must be called on every path.
type Session interface {
	LocationReader
	PriceReader
	Release()
}

// Store hands out sessions.
type Store interface {
	Acquire(ctx context.Context) (Session, error)
	Close() error
}

// HierarchyWriter creates hierarchy rows or returns the existing row's id.
type HierarchyWriter interface {
	UpsertCountry(ctx context.Context, name string) (int64, error)
	UpsertProvince(ctx context.Context, countryID int64, name string) (int64, error)
	UpsertCity(ctx context.Context, city models.City) (int64, error)
	UpsertArea(ctx context.Context, area models.Area) (int64, error)
}

// EntryWriter appends price entries. InsertEntries is atomic per call.
type EntryWriter interface {
	InsertEntries(ctx context.Context, entries []models.PriceEntry) error
}

// ValidateEntry checks the fact table invariants of a single row.
func ValidateEntry(e models.PriceEntry) error {
	if e.AreaID == 0 || e.Surface <= 0 || !e.Price.IsPositive() || e.EntryDate.IsZero() {
		return ErrInvalidInput
	}
	if e.PriceType != models.PriceTypeRent && e.PriceType != models.PriceTypeBuy {
		return ErrInvalidInput
	}
	return nil
}
