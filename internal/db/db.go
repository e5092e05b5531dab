package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

type Config struct {
	Backend     Backend
	SQLitePath  string
	DatabaseURL string

	// Schema is the namespace all engine tables live in. Empty means no
	// prefix. Ignored on sqlite, which has no schemas.
	Schema string

	PoolMax         int
	KeepAlive       bool
	ConnMaxLifetime time.Duration
}

func ParseBackend(raw string) (Backend, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return BackendSQLite, nil
	}
	switch raw {
	case "sqlite":
		return BackendSQLite, nil
	case "postgres", "postgresql", "pg":
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unsupported db backend %q (expected sqlite or postgres)", raw)
	}
}

// Open connects to the configured backend, applies pool settings and runs all
// pending migrations. The returned handle is safe for concurrent use.
func Open(cfg Config) (*gorm.DB, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendSQLite
	}
	if backend == BackendSQLite {
		cfg.Schema = ""
	}

	gormCfg := &gorm.Config{}
	if cfg.Schema != "" {
		gormCfg.NamingStrategy = schema.NamingStrategy{TablePrefix: cfg.Schema + "."}
	}

	var (
		gdb *gorm.DB
		err error
	)
	switch backend {
	case BackendSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, errors.New("sqlite path is required")
		}
		gdb, err = gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("DATABASE_URL is required when db backend is postgres")
		}
		gdb, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported db backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	if backend == BackendSQLite {
		for _, pragma := range []string{
			`PRAGMA busy_timeout=5000;`,
			`PRAGMA foreign_keys=ON;`,
			`PRAGMA journal_mode=WAL;`,
		} {
			if err := gdb.Exec(pragma).Error; err != nil {
				return nil, err
			}
		}
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	poolMax := cfg.PoolMax
	if poolMax <= 0 {
		poolMax = 10
	}
	sqlDB.SetMaxOpenConns(poolMax)
	if cfg.KeepAlive {
		sqlDB.SetMaxIdleConns(poolMax)
	} else {
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetConnMaxIdleTime(30 * time.Second)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := Migrate(gdb, backend, cfg.Schema); err != nil {
		return nil, err
	}
	return gdb, nil
}

// TableName renders a fully qualified, quoted table reference for raw SQL.
func TableName(schemaName, table string) string {
	if schemaName == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schemaName) + "." + quoteIdent(table)
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
