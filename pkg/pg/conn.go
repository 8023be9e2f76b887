package pg

import (
	"database/sql"
	"fmt"
)

type Config struct {
	Driver   string `env:"DRIVER"`
	User     string `env:"USER"`
	Host     string `env:"HOST"`
	Port     string `env:"PORT"`
	Password string `env:"PASSWORD"`
	Database string `env:"DBNAME"`
	// Path is the database file for the sqlite driver.
	Path string `env:"PATH"`
}

func (c Config) postgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable", c.Host, c.User, c.Password, c.Database, c.Port)
}

func (c Config) sqliteDSN() string {
	path := c.Path
	if path == "" {
		path = ":memory:"
	}
	// busy_timeout keeps concurrent writers from failing fast on lock
	// contention; foreign keys are off by default in sqlite.
	return path + "?_busy_timeout=5000&_foreign_keys=on"
}

func newSqlConnection(config Config) (*sql.DB, error) {
	switch config.Driver {
	case DriverPostgres:
		return sql.Open("postgres", config.postgresDSN())
	default:
		return sql.Open("sqlite3", config.sqliteDSN())
	}
}
