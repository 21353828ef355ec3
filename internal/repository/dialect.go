package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// dialect names a database/sql driver and how to reach it from config.
type dialect struct {
	driverName string
	dsn        func(cfg domain.RepositoryConfig) (string, error)
}

var dialects = map[string]dialect{
	// modernc.org/sqlite is pure Go, so builds need no CGO
	"sqlite":   {driverName: "sqlite", dsn: sqliteDSN},
	"postgres": {driverName: "postgres", dsn: postgresDSN},
}

// open connects using cfg after defaults are applied.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	dsn, err := d.dsn(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}
	return db, nil
}

var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// sqliteDSN creates the database directory and returns a file URI carrying the pragmas.
func sqliteDSN(cfg domain.RepositoryConfig) (string, error) {
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	params := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		params[i] = "_pragma=" + p
	}
	return "file:" + cfg.SQLitePath + "?" + strings.Join(params, "&"), nil
}

// postgresDSN renders a lib/pq keyword/value string. Empty keywords are omitted
// so libpq environment variables still apply.
func postgresDSN(cfg domain.RepositoryConfig) (string, error) {
	kv := map[string]string{
		"host":     cfg.PostgresHost,
		"port":     strconv.Itoa(cfg.PostgresPort),
		"user":     cfg.PostgresUser,
		"password": cfg.PostgresPassword,
		"dbname":   cfg.PostgresDB,
		"sslmode":  cfg.PostgresSSLMode,
	}

	keys := make([]string, 0, len(kv))
	for k, v := range kv {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + quoteDSNValue(kv[k])
	}
	return strings.Join(parts, " "), nil
}

// quoteDSNValue single-quotes values that libpq would otherwise split or unescape.
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
