package sqlstore

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

const (
	defaultBusyTimeout  = 5000
	defaultDBFile       = "reddichat.db"
	defaultMaxOpenConns = 10
)

// Config holds the SQL store configuration.
type Config struct {
	// Driver selects the dialect: "sqlite" (default), "postgres" or "mysql".
	Driver string `yaml:"driver"`

	// DSN is the connection string for postgres and mysql.
	DSN string `yaml:"dsn"`

	// Path is the sqlite database file. Defaults to {DataDir}/reddichat.db.
	Path string `yaml:"path"`

	// WAL enables sqlite WAL journal mode. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the sqlite lock wait in milliseconds. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// MaxOpenConns bounds the pool for postgres and mysql. sqlite always
	// uses a single connection.
	MaxOpenConns int `yaml:"max_open_conns"`
}

func (c *Config) defaults() {
	if c.Driver == "" {
		c.Driver = driverSQLite
	}
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	var errs []error
	switch c.Driver {
	case driverSQLite:
		if c.BusyTimeout < 0 {
			errs = append(errs, fmt.Errorf("sqlstore: busy_timeout must be non-negative, got %d", c.BusyTimeout))
		}
	case driverPostgres:
		if c.DSN == "" {
			errs = append(errs, errors.New("sqlstore: dsn is required for postgres"))
		}
	case driverMySQL:
		if c.DSN == "" {
			errs = append(errs, errors.New("sqlstore: dsn is required for mysql"))
		} else if _, err := mysql.ParseDSN(c.DSN); err != nil {
			errs = append(errs, fmt.Errorf("sqlstore: invalid mysql dsn: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("sqlstore: unknown driver %q (want sqlite, postgres or mysql)", c.Driver))
	}
	if c.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("sqlstore: max_open_conns must be non-negative, got %d", c.MaxOpenConns))
	}
	return errors.Join(errs...)
}
