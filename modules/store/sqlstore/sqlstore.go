// Package sqlstore implements store.Store over database/sql for sqlite
// (modernc.org/sqlite, pure Go), PostgreSQL (lib/pq) and MySQL
// (go-sql-driver/mysql). The schema is versioned and migrated on open.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/go-sql-driver/mysql" // mysql driver registration
	_ "github.com/lib/pq"              // postgres driver registration
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite" // sqlite driver registration

	"github.com/flemzord/reddichat/internal/core"
	"github.com/flemzord/reddichat/internal/store"
)

// ServiceName is the service key the module registers the store under.
const ServiceName = "store"

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module exposes a Store as the "store.sql" module.
type Module struct {
	config Config
	store  *Store
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.sql",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlstore: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if err := m.config.validate(); err != nil {
		return err
	}
	if m.config.Driver == driverSQLite && m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	s, err := Open(context.Background(), m.config)
	if err != nil {
		return err
	}
	m.store = s
	ctx.RegisterService(ServiceName, store.Store(s))

	m.logger.Info("sql store provisioned", "driver", m.config.Driver, "path", m.config.Path)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	return m.store.Ping(context.Background())
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.store == nil {
		return nil
	}
	m.logger.Info("sql store stopping")
	return m.store.Close()
}

// Store returns the provisioned store.
func (m *Module) Store() store.Store {
	return m.store
}

// Open connects to the configured database and migrates its schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := dialects[cfg.Driver]

	var (
		db  *sql.DB
		err error
	)
	if cfg.Driver == driverSQLite {
		db, err = openSQLite(ctx, cfg)
	} else {
		db, err = sql.Open(cfg.Driver, cfg.DSN)
		if err == nil {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Driver, err)
	}

	if err := migrate(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newStore(db, d), nil
}

func openSQLite(ctx context.Context, cfg Config) (*sql.DB, error) {
	path := cfg.Path
	if path == "" {
		path = defaultDBFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(driverSQLite, path)
	if err != nil {
		return nil, err
	}

	// One writer at a time; a single connection keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)

	if cfg.walEnabled() {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	return db, nil
}
