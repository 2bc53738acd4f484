// Package database opens the relational store backing the ingredient
// catalog. SQLite is the default for local runs; production catalogs live
// in PostgreSQL. The handle is passed explicitly to whoever needs it
// rather than held in a package global, so each pipeline stage can own
// its transaction scope.
package database

import (
	"fmt"

	"github.com/jinzhu/gorm"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Open connects to the database for the given dialect ("sqlite3" or
// "postgres") and connection string.
func Open(dialect, dsn string) (*gorm.DB, error) {
	switch dialect {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", dialect)
	}

	db, err := gorm.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	return db, nil
}
