package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hompare/internal/models"
)

type session struct {
	conn   *sql.Conn
	logger *logrus.Logger
	once   sync.Once
}

func (s *session) Release() {
	s.once.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to release connection")
		}
	})
}

const cityColumns = `c.id, c.name, c.province_id, c.has_areas, c.center_lat, c.center_lng`

func scanCity(rows *sql.Rows, extra ...any) (models.City, error) {
	var c models.City
	var provinceID sql.NullInt64
	var lat, lng sql.NullFloat64
	dest := append([]any{&c.ID, &c.Name, &provinceID, &c.HasAreas, &lat, &lng}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return c, fmt.Errorf("failed to scan city: %w", err)
	}
	if provinceID.Valid {
		c.ProvinceID = &provinceID.Int64
	}
	if lat.Valid && lng.Valid {
		c.CenterLat = &lat.Float64
		c.CenterLng = &lng.Float64
	}
	return c, nil
}

func scanCities(rows *sql.Rows) ([]models.City, error) {
	defer rows.Close()

	cities := make([]models.City, 0)
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			return nil, err
		}
		cities = append(cities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cities: %w", err)
	}
	return cities, nil
}

func (s *session) ListCities(ctx context.Context) ([]models.City, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+cityColumns+` FROM cities c ORDER BY c.name, c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cities: %w", err)
	}
	return scanCities(rows)
}

func (s *session) ListMarkets(ctx context.Context) ([]models.Market, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+cityColumns+`, COALESCE(p.name, ''), COALESCE(co.name, '')
		FROM cities c
		LEFT JOIN provinces p ON p.id = c.province_id
		LEFT JOIN countries co ON co.id = p.country_id
		ORDER BY c.name, COALESCE(co.name, ''), COALESCE(p.name, ''), c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	defer rows.Close()

	markets := make([]models.Market, 0)
	for rows.Next() {
		var m models.Market
		if m.City, err = scanCity(rows, &m.Province, &m.Country); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating markets: %w", err)
	}
	return markets, nil
}

func (s *session) FindCountries(ctx context.Context, name string) ([]models.Country, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, name FROM countries WHERE name = ? ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query countries: %w", err)
	}
	defer rows.Close()

	var countries []models.Country
	for rows.Next() {
		var c models.Country
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}
		countries = append(countries, c)
	}
	return countries, rows.Err()
}

func (s *session) FindProvinces(ctx context.Context, name string, countryID *int64) ([]models.Province, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, country_id
		FROM provinces
		WHERE name = ?
		AND (? IS NULL OR country_id = ?)
		ORDER BY id
	`, name, countryID, countryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query provinces: %w", err)
	}
	defer rows.Close()

	var provinces []models.Province
	for rows.Next() {
		var p models.Province
		if err := rows.Scan(&p.ID, &p.Name, &p.CountryID); err != nil {
			return nil, fmt.Errorf("failed to scan province: %w", err)
		}
		provinces = append(provinces, p)
	}
	return provinces, rows.Err()
}

func (s *session) FindCities(ctx context.Context, name string, provinceID, countryID *int64) ([]models.City, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+cityColumns+`
		FROM cities c
		LEFT JOIN provinces p ON p.id = c.province_id
		WHERE c.name = ?
		AND (? IS NULL OR c.province_id = ?)
		AND (? IS NULL OR p.country_id = ?)
		ORDER BY c.id
	`, name, provinceID, provinceID, countryID, countryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cities: %w", err)
	}
	return scanCities(rows)
}

func (s *session) queryAreas(ctx context.Context, query string, args ...any) ([]models.Area, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query areas: %w", err)
	}
	defer rows.Close()

	areas := make([]models.Area, 0)
	for rows.Next() {
		var a models.Area
		if err := rows.Scan(&a.ID, &a.Name, &a.CityID, &a.WholeCity); err != nil {
			return nil, fmt.Errorf("failed to scan area: %w", err)
		}
		areas = append(areas, a)
	}
	return areas, rows.Err()
}

func (s *session) FindAreas(ctx context.Context, cityID int64, name string) ([]models.Area, error) {
	return s.queryAreas(ctx, `
		SELECT id, name, city_id, whole_city
		FROM areas
		WHERE city_id = ? AND name = ?
		ORDER BY id
	`, cityID, name)
}

func (s *session) ListAreas(ctx context.Context, cityID int64) ([]models.Area, error) {
	return s.queryAreas(ctx, `
		SELECT id, name, city_id, whole_city
		FROM areas
		WHERE city_id = ? AND whole_city = 0
		ORDER BY name, id
	`, cityID)
}

// entryFilter renders the WHERE clause shared by the fact queries.
func entryFilter(q models.EntryQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.Scope.AreaID != nil {
		conditions = append(conditions, "area_id = ?")
		args = append(args, *q.Scope.AreaID)
	} else {
		conditions = append(conditions, "area_id IN (SELECT id FROM areas WHERE city_id = ?)")
		args = append(args, q.Scope.CityID)
	}

	conditions = append(conditions, "price_type = ?")
	args = append(args, int(q.PriceType))

	if q.Surface != nil {
		conditions = append(conditions, "surface = ?")
		args = append(args, *q.Surface)
	}
	if q.Range != nil {
		conditions = append(conditions, "entry_date >= ?", "entry_date <= ?")
		args = append(args, models.DateOf(q.Range.Start), models.DateOf(q.Range.End))
	}
	if q.On != nil {
		conditions = append(conditions, "entry_date = ?")
		args = append(args, models.DateOf(*q.On))
	}

	return strings.Join(conditions, " AND "), args
}

func (s *session) QueryEntries(ctx context.Context, q models.EntryQuery) ([]models.PriceEntry, error) {
	where, args := entryFilter(q)
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, area_id, price_type, surface, price, entry_date
		FROM price_entries
		WHERE `+where+`
		ORDER BY entry_date, surface, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.PriceEntry, 0)
	for rows.Next() {
		var e models.PriceEntry
		if err := rows.Scan(&e.ID, &e.AreaID, &e.PriceType, &e.Surface, &e.Price, &e.EntryDate); err != nil {
			return nil, fmt.Errorf("failed to scan price entry: %w", err)
		}
		e.EntryDate = models.DateOf(e.EntryDate)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price entries: %w", err)
	}
	return entries, nil
}

// LatestEntryDate orders instead of using MAX so the driver still sees a DATE column.
func (s *session) LatestEntryDate(ctx context.Context, q models.EntryQuery) (time.Time, bool, error) {
	where, args := entryFilter(q)
	var latest time.Time
	err := s.conn.QueryRowContext(ctx, `
		SELECT entry_date
		FROM price_entries
		WHERE `+where+`
		ORDER BY entry_date DESC
		LIMIT 1
	`, args...).Scan(&latest)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest entry date: %w", err)
	}
	return models.DateOf(latest), true, nil
}
