// Package memory provides an in-memory implementation of the price store.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"hompare/internal/models"
	"hompare/internal/storage"
)

// Store keeps the hierarchy and the fact table in maps guarded by a RWMutex.
type Store struct {
	mu        sync.RWMutex
	countries map[int64]models.Country
	provinces map[int64]models.Province
	cities    map[int64]models.City
	areas     map[int64]models.Area
	entries   map[int64]models.PriceEntry
	nextID    int64

	acquireErr error
	open       atomic.Int64
	acquired   atomic.Int64
	queries    atomic.Int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		countries: make(map[int64]models.Country),
		provinces: make(map[int64]models.Province),
		cities:    make(map[int64]models.City),
		areas:     make(map[int64]models.Area),
		entries:   make(map[int64]models.PriceEntry),
	}
}

// FailAcquire makes every following Acquire return err. Pass nil to recover.
func (s *Store) FailAcquire(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquireErr = err
}

// OpenSessions is the number of sessions acquired and not yet released.
func (s *Store) OpenSessions() int64 { return s.open.Load() }

// Acquired is the number of sessions ever handed out.
func (s *Store) Acquired() int64 { return s.acquired.Load() }

// Queries is the number of read calls served.
func (s *Store) Queries() int64 { return s.queries.Load() }

func (s *Store) Acquire(_ context.Context) (storage.Session, error) {
	s.mu.RLock()
	err := s.acquireErr
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	s.open.Add(1)
	s.acquired.Add(1)
	return &session{store: s}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) UpsertCountry(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.countries {
		if c.Name == name {
			return c.ID, nil
		}
	}
	c := models.Country{ID: s.id(), Name: name}
	s.countries[c.ID] = c
	return c.ID, nil
}

func (s *Store) UpsertProvince(_ context.Context, countryID int64, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.countries[countryID]; !ok {
		return 0, storage.ErrNotFound
	}
	for _, p := range s.provinces {
		if p.CountryID == countryID && p.Name == name {
			return p.ID, nil
		}
	}
	p := models.Province{ID: s.id(), Name: name, CountryID: countryID}
	s.provinces[p.ID] = p
	return p.ID, nil
}

func (s *Store) UpsertCity(_ context.Context, city models.City) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if city.ProvinceID != nil {
		if _, ok := s.provinces[*city.ProvinceID]; !ok {
			return 0, storage.ErrNotFound
		}
		provinceID := *city.ProvinceID
		city.ProvinceID = &provinceID
	}
	for id, c := range s.cities {
		if c.Name == city.Name && sameParent(c.ProvinceID, city.ProvinceID) {
			city.ID = id
			s.cities[id] = city
			return id, nil
		}
	}
	city.ID = s.id()
	s.cities[city.ID] = city
	return city.ID, nil
}

func (s *Store) UpsertArea(_ context.Context, area models.Area) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cities[area.CityID]; !ok {
		return 0, storage.ErrNotFound
	}
	for id, a := range s.areas {
		if a.CityID == area.CityID && a.Name == area.Name {
			area.ID = id
			s.areas[id] = area
			return id, nil
		}
	}
	area.ID = s.id()
	s.areas[area.ID] = area
	return area.ID, nil
}

// InsertEntries validates the whole batch before inserting any of it.
func (s *Store) InsertEntries(_ context.Context, entries []models.PriceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if err := storage.ValidateEntry(e); err != nil {
			return err
		}
		if _, ok := s.areas[e.AreaID]; !ok {
			return storage.ErrNotFound
		}
	}
	for _, e := range entries {
		e.ID = s.id()
		e.EntryDate = models.DateOf(e.EntryDate)
		s.entries[e.ID] = e
	}
	return nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type session struct {
	store    *Store
	released atomic.Bool
}

func (s *session) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.store.open.Add(-1)
	}
}

func (s *session) read() func() {
	s.store.queries.Add(1)
	s.store.mu.RLock()
	return s.store.mu.RUnlock
}

func (s *session) ListCities(_ context.Context) ([]models.City, error) {
	defer s.read()()

	result := make([]models.City, 0, len(s.store.cities))
	for _, c := range s.store.cities {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *session) ListMarkets(_ context.Context) ([]models.Market, error) {
	defer s.read()()

	result := make([]models.Market, 0, len(s.store.cities))
	for _, c := range s.store.cities {
		m := models.Market{City: c}
		if c.ProvinceID != nil {
			p := s.store.provinces[*c.ProvinceID]
			m.Province = p.Name
			m.Country = s.store.countries[p.CountryID].Name
		}
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch {
		case a.City.Name != b.City.Name:
			return a.City.Name < b.City.Name
		case a.Country != b.Country:
			return a.Country < b.Country
		case a.Province != b.Province:
			return a.Province < b.Province
		default:
			return a.City.ID < b.City.ID
		}
	})
	return result, nil
}

func (s *session) FindCountries(_ context.Context, name string) ([]models.Country, error) {
	defer s.read()()

	var result []models.Country
	for _, c := range s.store.countries {
		if c.Name == name {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *session) FindProvinces(_ context.Context, name string, countryID *int64) ([]models.Province, error) {
	defer s.read()()

	var result []models.Province
	for _, p := range s.store.provinces {
		if p.Name == name && (countryID == nil || p.CountryID == *countryID) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *session) FindCities(_ context.Context, name string, provinceID, countryID *int64) ([]models.City, error) {
	defer s.read()()

	var result []models.City
	for _, c := range s.store.cities {
		if c.Name != name {
			continue
		}
		if provinceID != nil && (c.ProvinceID == nil || *c.ProvinceID != *provinceID) {
			continue
		}
		if countryID != nil {
			if c.ProvinceID == nil || s.store.provinces[*c.ProvinceID].CountryID != *countryID {
				continue
			}
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *session) FindAreas(_ context.Context, cityID int64, name string) ([]models.Area, error) {
	defer s.read()()

	var result []models.Area
	for _, a := range s.store.areas {
		if a.CityID == cityID && a.Name == name {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *session) ListAreas(_ context.Context, cityID int64) ([]models.Area, error) {
	defer s.read()()

	result := make([]models.Area, 0)
	for _, a := range s.store.areas {
		if a.CityID == cityID && !a.WholeCity {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *session) inScope(e models.PriceEntry, scope models.Scope) bool {
	if scope.AreaID != nil {
		return e.AreaID == *scope.AreaID
	}
	area, ok := s.store.areas[e.AreaID]
	return ok && area.CityID == scope.CityID
}

func (s *session) QueryEntries(_ context.Context, q models.EntryQuery) ([]models.PriceEntry, error) {
	defer s.read()()

	result := make([]models.PriceEntry, 0)
	for _, e := range s.store.entries {
		if s.inScope(e, q.Scope) && q.Matches(e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.EntryDate.Equal(b.EntryDate) {
			return a.EntryDate.Before(b.EntryDate)
		}
		if a.Surface != b.Surface {
			return a.Surface < b.Surface
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (s *session) LatestEntryDate(_ context.Context, q models.EntryQuery) (time.Time, bool, error) {
	defer s.read()()

	var latest time.Time
	found := false
	for _, e := range s.store.entries {
		if !s.inScope(e, q.Scope) || !q.Matches(e) {
			continue
		}
		if !found || e.EntryDate.After(latest) {
			latest = e.EntryDate
			found = true
		}
	}
	return latest, found, nil
}

var (
	_ storage.Store           = (*Store)(nil)
	_ storage.HierarchyWriter = (*Store)(nil)
	_ storage.EntryWriter     = (*Store)(nil)
)
