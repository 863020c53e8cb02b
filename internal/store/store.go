// Package store persists exporter settings and connection records in DuckDB
// so a daemon restart neither loses operator configuration nor orphans series
// already pushed to the collector.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/peerwatch/peerwatch/internal/store/migrate"
)

// Store manages the DuckDB database connection.
type Store struct {
	db     *sql.DB
	dbPath string

	mu        sync.Mutex
	listeners []func(key, value string)
}

// New opens or creates the database at dbPath. An empty path selects an
// in-memory database, which tests rely on.
func New(dbPath string) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if err := migrate.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
