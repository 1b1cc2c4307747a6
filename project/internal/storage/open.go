package storage

import (
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	defaultDatabaseURL = "sqlite3://supplysync.db"
)

// Open picks the driver from the URL scheme. sqlite3:// URLs carry a file
// path (or :memory:), postgres:// URLs are handed to lib/pq as-is.
func Open(databaseURL string) (*sql.DB, string, error) {
	if databaseURL == "" {
		databaseURL = defaultDatabaseURL
	}

	driver, dsn := DriverSQLite, databaseURL
	switch {
	case strings.HasPrefix(databaseURL, "sqlite3://"):
		dsn = strings.TrimPrefix(databaseURL, "sqlite3://")
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		driver = DriverPostgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", err
	}

	if driver == DriverSQLite {
		// one writer; also keeps :memory: databases alive across calls
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, "", err
	}

	return db, driver, nil
}
