package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"hompare/internal/models"
	"hompare/internal/storage"
)

// insertBatchSize bounds the rows per INSERT statement below SQLite's variable limit.
const insertBatchSize = 500

func (d *Database) exists(ctx context.Context, table string, id int64) error {
	var found int64
	err := d.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE id = ?`, table), id).Scan(&found)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %d: %w", table, id, storage.ErrNotFound)
	}
	return err
}

func (d *Database) UpsertCountry(ctx context.Context, name string) (int64, error) {
	if _, err := d.db.ExecContext(ctx, `INSERT INTO countries (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return 0, fmt.Errorf("failed to insert country: %w", err)
	}
	var id int64
	if err := d.db.QueryRowContext(ctx, `SELECT id FROM countries WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to query country: %w", err)
	}
	return id, nil
}

func (d *Database) UpsertProvince(ctx context.Context, countryID int64, name string) (int64, error) {
	if err := d.exists(ctx, "countries", countryID); err != nil {
		return 0, err
	}
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO provinces (country_id, name) VALUES (?, ?)
		ON CONFLICT(country_id, name) DO NOTHING
	`, countryID, name); err != nil {
		return 0, fmt.Errorf("failed to insert province: %w", err)
	}
	var id int64
	err := d.db.QueryRowContext(ctx, `SELECT id FROM provinces WHERE country_id = ? AND name = ?`, countryID, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to query province: %w", err)
	}
	return id, nil
}

// UpsertCity matches on (province, name) with NULL provinces comparing equal and
// refreshes has_areas and the map center of an existing row.
func (d *Database) UpsertCity(ctx context.Context, city models.City) (int64, error) {
	if city.ProvinceID != nil {
		if err := d.exists(ctx, "provinces", *city.ProvinceID); err != nil {
			return 0, err
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM cities WHERE province_id IS ? AND name = ?`, city.ProvinceID, city.Name).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO cities (province_id, name, has_areas, center_lat, center_lng)
			VALUES (?, ?, ?, ?, ?)
		`, city.ProvinceID, city.Name, city.HasAreas, city.CenterLat, city.CenterLng)
		if err != nil {
			return 0, fmt.Errorf("failed to insert city: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("failed to read city id: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("failed to query city: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE cities SET has_areas = ?, center_lat = ?, center_lng = ? WHERE id = ?
		`, city.HasAreas, city.CenterLat, city.CenterLng, id); err != nil {
			return 0, fmt.Errorf("failed to update city: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

func (d *Database) UpsertArea(ctx context.Context, area models.Area) (int64, error) {
	if err := d.exists(ctx, "cities", area.CityID); err != nil {
		return 0, err
	}
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO areas (city_id, name, whole_city) VALUES (?, ?, ?)
		ON CONFLICT(city_id, name) DO UPDATE SET whole_city = excluded.whole_city
	`, area.CityID, area.Name, area.WholeCity); err != nil {
		return 0, fmt.Errorf("failed to insert area: %w", err)
	}
	var id int64
	err := d.db.QueryRowContext(ctx, `SELECT id FROM areas WHERE city_id = ? AND name = ?`, area.CityID, area.Name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to query area: %w", err)
	}
	return id, nil
}

// InsertEntries writes the whole slice in one transaction or none of it.
func (d *Database) InsertEntries(ctx context.Context, entries []models.PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]models.PriceEntry, len(entries))
	for i, e := range entries {
		if err := storage.ValidateEntry(e); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		e.ID = 0
		e.EntryDate = models.DateOf(e.EntryDate)
		rows[i] = e
	}

	return d.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
				return fmt.Errorf("failed to insert price entries: unknown area: %w", storage.ErrNotFound)
			}
			return fmt.Errorf("failed to insert price entries: %w", err)
		}
		return nil
	})
}
