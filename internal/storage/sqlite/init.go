package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBFile is used when no path is configured.
const DefaultDBFile = "rangefetch.db"

// InitDB opens the SQLite database at path and creates the downloads table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultDBFile
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		job_id TEXT UNIQUE,
		url TEXT,
		file_path TEXT,
		size INTEGER,
		algorithm TEXT,
		verified INTEGER DEFAULT 0,
		downloaded_at DATETIME,
		instance_id TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads table: %w", err)
	}

	return db, nil
}
