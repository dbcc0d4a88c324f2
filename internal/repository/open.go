package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// connectTimeout bounds how long New waits for a database that is still starting.
const connectTimeout = 30 * time.Second

// dataSource maps a repository config to a database/sql driver name and DSN.
func dataSource(cfg domain.RepositoryConfig) (driver, dsn string, err error) {
	switch cfg.Driver {
	case "sqlite":
		dsn, err = sqliteDSN(cfg.SQLitePath)
		return "sqlite", dsn, err
	case "postgres":
		return "postgres", postgresDSN(cfg), nil
	default:
		return "", "", fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

// sqliteDSN creates the parent directory and enables WAL so the worker and
// API can write concurrently. modernc.org/sqlite needs no CGO.
func sqliteDSN(path string) (string, error) {
	if path == "" {
		path = "./spendguard.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(ON)")
	return "file:" + path + "?" + q.Encode(), nil
}

// postgresDSN builds a URL DSN so credentials with spaces or symbols survive.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	db := cfg.PostgresDB
	if db == "" {
		db = "spendguard"
	}
	sslMode := cfg.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + db,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	return u.String()
}

// open connects and pings. Postgres is retried with exponential backoff for
// up to connectTimeout; a local sqlite file either opens or it does not.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	driver, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if driver == "postgres" {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 500 * time.Millisecond
		eb.MaxElapsedTime = connectTimeout
		policy = eb
	}

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		err := db.PingContext(ctx)
		if err != nil && driver == "postgres" {
			slog.Warn("database not reachable yet",
				"driver", driver,
				"attempt", attempt,
				"error", err,
			)
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}

	return db, nil
}
