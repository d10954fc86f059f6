package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/maartendamen/houseagent-latitude/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteRepository stores accounts and locations in two SQLite tables.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigIO, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConfigIO, err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrations failed: %v", ErrConfigIO, err)
	}

	return &SQLiteRepository{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (r *SQLiteRepository) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT username, password, device_id, refresh_interval, proximity_km FROM accounts ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.Username, &a.Password, &a.DeviceID, &a.RefreshInterval, &a.ProximityKm); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigIO, err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	return accounts, nil
}

func (r *SQLiteRepository) LoadLocations(ctx context.Context) ([]models.NamedLocation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, latitude, longitude FROM locations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	defer rows.Close()

	locations := []models.NamedLocation{}
	for rows.Next() {
		var l models.NamedLocation
		if err := rows.Scan(&l.Name, &l.Latitude, &l.Longitude); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigIO, err)
		}
		locations = append(locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	return locations, nil
}

func (r *SQLiteRepository) SaveAccount(ctx context.Context, a models.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (username, password, device_id, refresh_interval, proximity_km) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
		   password = excluded.password,
		   device_id = excluded.device_id,
		   refresh_interval = excluded.refresh_interval,
		   proximity_km = excluded.proximity_km`,
		a.Username, a.Password, a.DeviceID, a.RefreshInterval, a.ProximityKm,
	)
	return wrapExec(err)
}

func (r *SQLiteRepository) DeleteAccount(ctx context.Context, username string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE username = ?`, username)
	return wrapExec(err)
}

func (r *SQLiteRepository) SaveLocation(ctx context.Context, l models.NamedLocation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO locations (name, latitude, longitude) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET latitude = excluded.latitude, longitude = excluded.longitude`,
		l.Name, l.Latitude, l.Longitude,
	)
	return wrapExec(err)
}

func (r *SQLiteRepository) DeleteLocation(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM locations WHERE name = ?`, name)
	return wrapExec(err)
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func wrapExec(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	return nil
}
