package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"hompare/internal/models"
	"hompare/internal/storage"
)

// Store implements the price store on a pgx pool.
type Store struct {
	pool *Pool
}

func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.Store           = (*Store)(nil)
	_ storage.HierarchyWriter = (*Store)(nil)
	_ storage.EntryWriter     = (*Store)(nil)
)

// Acquire checks one connection out of the pool for the session.
func (s *Store) Acquire(ctx context.Context) (storage.Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &session{conn: conn}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func writeErr(op string, err error) error {
	if hasCode(err, pgErrForeignKeyViolation) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if hasCode(err, pgErrCheckViolation) {
		return fmt.Errorf("%s: %w", op, storage.ErrInvalidInput)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) UpsertCountry(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO countries (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, writeErr("upsert country", err)
	}
	return id, nil
}

func (s *Store) UpsertProvince(ctx context.Context, countryID int64, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO provinces (country_id, name) VALUES ($1, $2)
		ON CONFLICT (country_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, countryID, name).Scan(&id)
	if err != nil {
		return 0, writeErr("upsert province", err)
	}
	return id, nil
}

func (s *Store) UpsertCity(ctx context.Context, city models.City) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO cities (province_id, name, has_areas, center_lat, center_lng)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT cities_province_name_key DO UPDATE SET
			has_areas = EXCLUDED.has_areas,
			center_lat = EXCLUDED.center_lat,
			center_lng = EXCLUDED.center_lng
		RETURNING id
	`, city.ProvinceID, city.Name, city.HasAreas, city.CenterLat, city.CenterLng).Scan(&id)
	if err != nil {
		return 0, writeErr("upsert city", err)
	}
	return id, nil
}

func (s *Store) UpsertArea(ctx context.Context, area models.Area) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO areas (city_id, name, whole_city) VALUES ($1, $2, $3)
		ON CONFLICT (city_id, name) DO UPDATE SET whole_city = EXCLUDED.whole_city
		RETURNING id
	`, area.CityID, area.Name, area.WholeCity).Scan(&id)
	if err != nil {
		return 0, writeErr("upsert area", err)
	}
	return id, nil
}

// InsertEntries copies the slice inside one transaction. Fails the entire batch on any bad row.
func (s *Store) InsertEntries(ctx context.Context, entries []models.PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(entries))
	for i, e := range entries {
		if err := storage.ValidateEntry(e); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		rows = append(rows, []any{
			e.AreaID,
			int16(e.PriceType),
			int32(e.Surface),
			toNumeric(e.Price),
			models.DateOf(e.EntryDate),
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"price_entries"},
		[]string{"area_id", "price_type", "surface", "price", "entry_date"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return writeErr("copy price entries", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

type session struct {
	conn *pgxpool.Conn
	once sync.Once
}

func (s *session) Release() {
	s.once.Do(s.conn.Release)
}

const cityColumns = `c.id, c.name, c.province_id, c.has_areas, c.center_lat, c.center_lng`

func scanCities(rows pgx.Rows) ([]models.City, error) {
	defer rows.Close()

	cities := make([]models.City, 0)
	for rows.Next() {
		var c models.City
		if err := rows.Scan(&c.ID, &c.Name, &c.ProvinceID, &c.HasAreas, &c.CenterLat, &c.CenterLng); err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}
		if c.CenterLat == nil || c.CenterLng == nil {
			c.CenterLat, c.CenterLng = nil, nil
		}
		cities = append(cities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cities: %w", err)
	}
	return cities, nil
}

func (s *session) ListCities(ctx context.Context) ([]models.City, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+cityColumns+` FROM cities c ORDER BY c.name, c.id`)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	return scanCities(rows)
}

func (s *session) ListMarkets(ctx context.Context) ([]models.Market, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+cityColumns+`, COALESCE(p.name, ''), COALESCE(co.name, '')
		FROM cities c
		LEFT JOIN provinces p ON p.id = c.province_id
		LEFT JOIN countries co ON co.id = p.country_id
		ORDER BY c.name, COALESCE(co.name, ''), COALESCE(p.name, ''), c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Market, error) {
		var m models.Market
		c := &m.City
		err := row.Scan(&c.ID, &c.Name, &c.ProvinceID, &c.HasAreas, &c.CenterLat, &c.CenterLng, &m.Province, &m.Country)
		if c.CenterLat == nil || c.CenterLng == nil {
			c.CenterLat, c.CenterLng = nil, nil
		}
		return m, err
	})
}

func (s *session) FindCountries(ctx context.Context, name string) ([]models.Country, error) {
	rows, err := s.conn.Query(ctx, `SELECT id, name FROM countries WHERE name = $1 ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("find countries: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Country, error) {
		var c models.Country
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
}

func (s *session) FindProvinces(ctx context.Context, name string, countryID *int64) ([]models.Province, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, name, country_id
		FROM provinces
		WHERE name = $1
		AND ($2::bigint IS NULL OR country_id = $2)
		ORDER BY id
	`, name, countryID)
	if err != nil {
		return nil, fmt.Errorf("find provinces: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Province, error) {
		var p models.Province
		err := row.Scan(&p.ID, &p.Name, &p.CountryID)
		return p, err
	})
}

func (s *session) FindCities(ctx context.Context, name string, provinceID, countryID *int64) ([]models.City, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+cityColumns+`
		FROM cities c
		LEFT JOIN provinces p ON p.id = c.province_id
		WHERE c.name = $1
		AND ($2::bigint IS NULL OR c.province_id = $2)
		AND ($3::bigint IS NULL OR p.country_id = $3)
		ORDER BY c.id
	`, name, provinceID, countryID)
	if err != nil {
		return nil, fmt.Errorf("find cities: %w", err)
	}
	return scanCities(rows)
}

func (s *session) queryAreas(ctx context.Context, query string, args ...any) ([]models.Area, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query areas: %w", err)
	}
	areas, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Area, error) {
		var a models.Area
		err := row.Scan(&a.ID, &a.Name, &a.CityID, &a.WholeCity)
		return a, err
	})
	if err != nil {
		return nil, err
	}
	if areas == nil {
		areas = []models.Area{}
	}
	return areas, nil
}

func (s *session) FindAreas(ctx context.Context, cityID int64, name string) ([]models.Area, error) {
	return s.queryAreas(ctx, `
		SELECT id, name, city_id, whole_city
		FROM areas
		WHERE city_id = $1 AND name = $2
		ORDER BY id
	`, cityID, name)
}

func (s *session) ListAreas(ctx context.Context, cityID int64) ([]models.Area, error) {
	return s.queryAreas(ctx, `
		SELECT id, name, city_id, whole_city
		FROM areas
		WHERE city_id = $1 AND NOT whole_city
		ORDER BY name, id
	`, cityID)
}

// entryFilter renders the WHERE clause shared by the fact queries with numbered placeholders.
func entryFilter(q models.EntryQuery) (string, []any) {
	var conditions []string
	var args []any
	add := func(condition string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, strings.ReplaceAll(condition, "?", fmt.Sprintf("$%d", len(args))))
	}

	if q.Scope.AreaID != nil {
		add("area_id = ?", *q.Scope.AreaID)
	} else {
		add("area_id IN (SELECT id FROM areas WHERE city_id = ?)", q.Scope.CityID)
	}
	add("price_type = ?", int16(q.PriceType))
	if q.Surface != nil {
		add("surface = ?", int32(*q.Surface))
	}
	if q.Range != nil {
		add("entry_date >= ?", models.DateOf(q.Range.Start))
		add("entry_date <= ?", models.DateOf(q.Range.End))
	}
	if q.On != nil {
		add("entry_date = ?", models.DateOf(*q.On))
	}

	return strings.Join(conditions, " AND "), args
}

func (s *session) QueryEntries(ctx context.Context, q models.EntryQuery) ([]models.PriceEntry, error) {
	where, args := entryFilter(q)
	rows, err := s.conn.Query(ctx, `
		SELECT id, area_id, price_type, surface, price, entry_date
		FROM price_entries
		WHERE `+where+`
		ORDER BY entry_date ASC, surface ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query price entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.PriceEntry, 0)
	for rows.Next() {
		var e models.PriceEntry
		var priceType int16
		var surface int32
		var price pgtype.Numeric
		if err := rows.Scan(&e.ID, &e.AreaID, &priceType, &surface, &price, &e.EntryDate); err != nil {
			return nil, fmt.Errorf("scan price entry: %w", err)
		}
		e.PriceType = models.PriceType(priceType)
		e.Surface = int(surface)
		e.Price = fromNumeric(price)
		e.EntryDate = models.DateOf(e.EntryDate)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price entries: %w", err)
	}
	return entries, nil
}

func (s *session) LatestEntryDate(ctx context.Context, q models.EntryQuery) (time.Time, bool, error) {
	where, args := entryFilter(q)
	var latest pgtype.Date
	err := s.conn.QueryRow(ctx, `SELECT MAX(entry_date) FROM price_entries WHERE `+where, args...).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query latest entry date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return models.DateOf(latest.Time), true, nil
}
