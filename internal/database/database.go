package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"db2es/internal/config"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the relational source shared read-only by all task readers.
type DB struct {
	*sql.DB
	driver string
	logger *zerolog.Logger
}

// NewDB opens the source pool and verifies connectivity. A failure here is fatal to the process.
func NewDB(cfg config.SourceConfig, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if cfg.Driver == "sqlite3" {
		// sqlite creates the file but not its directory
		if dir := filepath.Dir(cfg.DSN); !strings.HasPrefix(cfg.DSN, "file:") && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.Duration(cfg.ConnMaxLifetimeMs))
	sqlDB.SetConnMaxIdleTime(config.Duration(cfg.ConnMaxIdleTimeMs))

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info().
		Str("driver", cfg.Driver).
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Int("conn_max_lifetime_ms", cfg.ConnMaxLifetimeMs).
		Msg("source database initialized")

	return &DB{DB: sqlDB, driver: cfg.Driver, logger: logger}, nil
}

// Driver returns the database/sql driver name.
func (db *DB) Driver() string {
	return db.driver
}

// rebind rewrites '?' placeholders to '$n' for drivers that require numbered parameters.
func (db *DB) rebind(query string) string {
	if db.driver != "pgx" && db.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
