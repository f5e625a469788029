package membership

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// NewMySQL creates a MySQL-backed membership store.
func NewMySQL(config Config) Store {
	if config.Port == 0 {
		config.Port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		config.Username, config.Password, config.Host, config.Port, config.Database)
	return newSQLStore(config, "mysql", "mysql", dsn, false)
}
