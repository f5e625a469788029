package membership

import (
	"fmt"

	_ "github.com/lib/pq"
)

// NewPostgres creates a PostgreSQL-backed membership store.
func NewPostgres(config Config) Store {
	if config.Port == 0 {
		config.Port = 5432
	}
	sslmode := "disable"
	if v, ok := config.Options["sslmode"].(string); ok && v != "" {
		sslmode = v
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database, sslmode)
	return newSQLStore(config, "postgres", "postgres", dsn, true)
}
