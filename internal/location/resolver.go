// Package location translates user supplied names into hierarchy ids.
package location

import (
	"context"
	"fmt"
	"strings"

	"hompare/internal/apperr"
	"hompare/internal/models"
	"hompare/internal/storage"
)

// Mode selects how the city level is anchored. A deployment picks one.
type Mode string

const (
	// ModeCityAnchored resolves the city directly by name. Country and province are
	// only consulted when several cities share the name.
	ModeCityAnchored Mode = "city"
	// ModeHierarchy resolves country, province, city and area top-down.
	ModeHierarchy Mode = "hierarchy"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeCityAnchored, "":
		return ModeCityAnchored, nil
	case ModeHierarchy:
		return ModeHierarchy, nil
	default:
		return "", fmt.Errorf("unknown resolver mode %q", s)
	}
}

// Resolved holds the ids found for every supplied level.
type Resolved struct {
	Country  *models.Country
	Province *models.Province
	City     models.City
	Area     *models.Area
}

// Scope is the fact store scope: the area when one was resolved, else the whole city.
func (r *Resolved) Scope() models.Scope {
	scope := models.Scope{CityID: r.City.ID}
	if r.Area != nil {
		id := r.Area.ID
		scope.AreaID = &id
	}
	return scope
}

type Resolver struct {
	mode Mode
}

func NewResolver(mode Mode) *Resolver {
	if mode == "" {
		mode = ModeCityAnchored
	}
	return &Resolver{mode: mode}
}

func (r *Resolver) Mode() Mode {
	return r.mode
}

// Resolve resolves the city and, when q.Area is set, the area within it.
func (r *Resolver) Resolve(ctx context.Context, reader storage.LocationReader, q models.LocationQuery) (*Resolved, error) {
	resolved, err := r.ResolveCity(ctx, reader, q)
	if err != nil {
		return nil, err
	}
	if err := r.ResolveArea(ctx, reader, resolved, q.Area); err != nil {
		return nil, err
	}
	return resolved, nil
}

// ResolveCity resolves every level down to the city. It stops at the first level
// that has no match.
func (r *Resolver) ResolveCity(ctx context.Context, reader storage.LocationReader, q models.LocationQuery) (*Resolved, error) {
	cityName := strings.TrimSpace(q.City)
	if cityName == "" {
		return nil, apperr.MissingParameter("city")
	}

	resolved := &Resolved{}
	var countryID, provinceID *int64

	if r.mode == ModeHierarchy {
		if name := strings.TrimSpace(q.Country); name != "" {
			countries, err := reader.FindCountries(ctx, name)
			if err != nil {
				return nil, apperr.StoreUnavailable(fmt.Errorf("find country: %w", err))
			}
			country, err := pick(countries, models.LevelCountry, name)
			if err != nil {
				return nil, err
			}
			resolved.Country = &country
			countryID = &country.ID
		}

		if name := strings.TrimSpace(q.Province); name != "" {
			provinces, err := reader.FindProvinces(ctx, name, countryID)
			if err != nil {
				return nil, apperr.StoreUnavailable(fmt.Errorf("find province: %w", err))
			}
			province, err := pick(provinces, models.LevelProvince, name)
			if err != nil {
				return nil, err
			}
			resolved.Province = &province
			provinceID = &province.ID
		}
	}

	cities, err := reader.FindCities(ctx, cityName, provinceID, countryID)
	if err != nil {
		return nil, apperr.StoreUnavailable(fmt.Errorf("find city: %w", err))
	}
	if r.mode == ModeCityAnchored && len(cities) > 1 && hasParents(q) {
		return hierarchy.ResolveCity(ctx, reader, q)
	}
	city, err := pick(cities, models.LevelCity, cityName)
	if err != nil {
		return nil, err
	}
	resolved.City = city
	return resolved, nil
}

var hierarchy = &Resolver{mode: ModeHierarchy}

func hasParents(q models.LocationQuery) bool {
	return strings.TrimSpace(q.Country) != "" || strings.TrimSpace(q.Province) != ""
}

// ResolveArea fills resolved.Area when name is set. An empty name leaves the whole city in scope.
func (r *Resolver) ResolveArea(ctx context.Context, reader storage.LocationReader, resolved *Resolved, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	areas, err := reader.FindAreas(ctx, resolved.City.ID, name)
	if err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("find area: %w", err))
	}
	area, err := pick(areas, models.LevelArea, name)
	if err != nil {
		return err
	}
	resolved.Area = &area
	return nil
}

func pick[T any](matches []T, level models.Level, name string) (T, error) {
	var zero T
	switch len(matches) {
	case 0:
		return zero, apperr.LocationNotFound(string(level), name)
	case 1:
		return matches[0], nil
	default:
		return zero, apperr.AmbiguousLocation(string(level), name, len(matches))
	}
}
