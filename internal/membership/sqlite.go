package membership

import (
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLite creates a SQLite-backed membership store. The database path is
// taken from Config.Database, optionally joined under the db_dir option.
func NewSQLite(config Config) Store {
	if config.Database == "" {
		config.Database = "listflow.db"
	}
	dbPath := config.Database
	if dir, ok := config.Options["db_dir"].(string); ok && dir != "" && !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(dir, dbPath)
	}
	return newSQLStore(config, "sqlite", "sqlite3", dbPath, false)
}
