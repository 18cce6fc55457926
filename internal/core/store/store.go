// Package store persists snapshots, scores, match history and gate state in
// libsql, either a local SQLite file or a remote Turso database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/arenawatch/arenawatch/internal/config"
)

const (
	driverLibsql = "libsql"
	memoryPath   = ":memory:"

	// localBusyTimeoutMs lets concurrent cycle writers wait on the file lock.
	localBusyTimeoutMs = 5000
)

// ErrNotInitialized is returned by every method called on a nil or closed-over
// Store.
var ErrNotInitialized = errors.New("store is not initialized")

// Store is the database handle shared by every persistence adapter.
type Store struct {
	DB     *sql.DB
	driver string
}

// dsnTarget is a resolved connection string.
type dsnTarget struct {
	dsn   string
	local bool
}

// Open connects to the configured database and verifies it answers.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverLibsql
	}
	if driver != driverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	target, err := resolveDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, target.dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}
	if target.local {
		if err := tuneLocal(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Store{DB: db, driver: driver}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// CheckHealth pings the database.
func (s *Store) CheckHealth(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	return s.DB.PingContext(ctx)
}

// tuneLocal puts a file database in WAL mode behind a single connection so
// parallel cache writes queue instead of failing with SQLITE_BUSY.
func tuneLocal(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", localBusyTimeoutMs),
	}
	for _, pragma := range pragmas {
		var result any
		if err := db.QueryRowContext(ctx, pragma).Scan(&result); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// resolveDSN turns the store config into a libsql connection string. A URL
// wins over a path; bare paths become file: DSNs and get their directory
// created.
func resolveDSN(cfg config.StoreConfig) (dsnTarget, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		dsn, err := withAuthToken(raw, cfg.AuthToken)
		return dsnTarget{dsn: dsn, local: strings.HasPrefix(dsn, "file:")}, err
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return dsnTarget{}, errors.New("store path or url is required")
	case path == memoryPath, strings.HasPrefix(path, "libsql:"):
		return dsnTarget{dsn: path}, nil
	case strings.HasPrefix(path, "file:"):
		local, err := filePathOf(path)
		if err != nil {
			return dsnTarget{}, err
		}
		if err := ensureDir(local); err != nil {
			return dsnTarget{}, err
		}
		return dsnTarget{dsn: path, local: true}, nil
	default:
		if err := ensureDir(path); err != nil {
			return dsnTarget{}, err
		}
		return dsnTarget{dsn: "file:" + filepath.Clean(path), local: true}, nil
	}
}

func withAuthToken(dsn, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	query := parsed.Query()
	if query.Get("authToken") != "" {
		return dsn, nil
	}
	query.Set("authToken", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func filePathOf(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}
	path := parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	return strings.TrimPrefix(path, "//"), nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directory shared with other local tools
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
