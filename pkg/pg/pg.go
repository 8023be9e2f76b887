package pg

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type txContextKey string

const txKey txContextKey = "trx"

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB wraps a read and a write handle. Sqlite deployments point both at the
// same file; postgres deployments may split replicas.
type DB struct {
	read  *gorm.DB
	write *gorm.DB
}

func Create(config Config, withDebug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch config.Driver {
	case DriverPostgres:
		dialector = postgres.Open(config.postgresDSN())
	case DriverSqlite, "":
		dialector = sqlite.Open(config.sqliteDSN())
	default:
		return nil, fmt.Errorf("unsupported store driver %q", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, err
	}

	if withDebug {
		db = db.Debug()
	}
	return db, nil
}

// CreateReadWrite opens the store. For sqlite both handles share one
// connection pool so writes are serialized by the driver.
func CreateReadWrite(readConfig Config, writeConfig Config, withDebug bool) (*DB, error) {
	write, err := Create(writeConfig, withDebug)
	if err != nil {
		return nil, err
	}
	if readConfig == writeConfig {
		return &DB{write, write}, nil
	}
	read, err := Create(readConfig, withDebug)
	if err != nil {
		return nil, err
	}
	return &DB{read, write}, nil
}

func (r *DB) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ctx = context.WithValue(ctx, txKey, tx)
		return fn(ctx)
	})
}

func (r *DB) Write(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(txKey).(*gorm.DB)
	if ok {
		return tx
	}

	tx = r.write.WithContext(ctx)

	return tx
}

func (r *DB) Read(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(txKey).(*gorm.DB)
	if ok {
		return tx
	}

	tx = r.read.WithContext(ctx)

	return tx
}
