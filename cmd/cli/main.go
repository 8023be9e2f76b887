package main

import (
	"os"
	"strings"

	"github.com/luzzy/message-sync/internal/config"
	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/luzzy/message-sync/pkg/pg"
)

func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
	}
	// main.go --dir=./migrations
	var storeConf pg.Config
	if config.Get().StoreDriver == pg.DriverPostgres {
		storeConf = pg.Config{
			Driver:   pg.DriverPostgres,
			User:     config.Get().PostgresUser,
			Host:     config.Get().PostgresHost,
			Port:     config.Get().PostgresPort,
			Password: config.Get().PostgresPassword,
			Database: config.Get().PostgresDatabase,
		}
	} else {
		storeConf = pg.Config{
			Driver: pg.DriverSqlite,
			Path:   config.Get().StoreSqlitePath,
		}
	}
	err = pg.Migrate(storeConf, getMigrationPath())
	if err != nil {
		logger.Error("migration: error running migrations", "error", err)
	}
}

func getEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	if _, err := os.Open(".env"); err != nil {
		logger.Error("failed to open the passed env file, got error" + err.Error())
		return ""
	}
	return ".env"
}

func getMigrationPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--dir=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed migrations dir, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	if _, err := os.Open("./migrations"); err != nil {
		logger.Error("failed to open the default migrations dir, got error" + err.Error())
		return ""
	}
	return "./migrations"
}
