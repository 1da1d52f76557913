package database

import "fmt"

func (d *Database) RunMigrations() error {
	tables := []struct {
		name string
		ddl  string
	}{
		{"countries", `
			CREATE TABLE IF NOT EXISTS countries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT UNIQUE NOT NULL
			);`},
		{"provinces", `
			CREATE TABLE IF NOT EXISTS provinces (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				country_id INTEGER NOT NULL REFERENCES countries(id),
				name TEXT NOT NULL,
				UNIQUE (country_id, name)
			);`},
		{"cities", `
			CREATE TABLE IF NOT EXISTS cities (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				province_id INTEGER REFERENCES provinces(id),
				name TEXT NOT NULL,
				has_areas BOOLEAN NOT NULL DEFAULT 0,
				UNIQUE (province_id, name)
			);`},
		{"areas", `
			CREATE TABLE IF NOT EXISTS areas (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				city_id INTEGER NOT NULL REFERENCES cities(id),
				name TEXT NOT NULL,
				whole_city BOOLEAN NOT NULL DEFAULT 0,
				UNIQUE (city_id, name)
			);`},
		{"price_entries", `
			CREATE TABLE IF NOT EXISTS price_entries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				area_id INTEGER NOT NULL REFERENCES areas(id),
				price_type INTEGER NOT NULL CHECK (price_type IN (1, 2)),
				surface INTEGER NOT NULL CHECK (surface > 0),
				price NUMERIC NOT NULL CHECK (price > 0),
				entry_date DATE NOT NULL
			);`},
	}

	for _, table := range tables {
		if _, err := d.db.Exec(table.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}

	// Map centers were added after the first release.
	for _, column := range []string{"center_lat", "center_lng"} {
		_, err := d.db.Exec(fmt.Sprintf(`ALTER TABLE cities ADD COLUMN %s REAL;`, column))
		if err != nil && err.Error() != "duplicate column name: "+column {
			return fmt.Errorf("failed to add cities.%s: %w", column, err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_cities_name ON cities(name);`,
		`CREATE INDEX IF NOT EXISTS idx_areas_city ON areas(city_id);`,
		`CREATE INDEX IF NOT EXISTS idx_price_entries_lookup ON price_entries(area_id, price_type, entry_date);`,
	}
	for _, ddl := range indexes {
		if _, err := d.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
