package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// DefaultConnectTimeout bounds the startup retries of Open
const DefaultConnectTimeout = 30 * time.Second

// Dialect describes how a database URL maps to a database/sql driver, a
// sqlbuilder flavor and a golang-migrate database URL.
type Dialect struct {
	Name       string
	Driver     string
	Flavor     sqlbuilder.Flavor
	DSN        string
	MigrateURL string
}

// ParseDatabaseURL accepts postgres://, postgresql://, sqlite:// URLs and
// plain file paths, which are treated as SQLite databases.
func ParseDatabaseURL(url string) (Dialect, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Dialect{}, fmt.Errorf("database url is empty")
	}

	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		rest := url[strings.Index(url, "://")+3:]
		return Dialect{
			Name:       "postgres",
			Driver:     "pgx",
			Flavor:     sqlbuilder.PostgreSQL,
			DSN:        url,
			MigrateURL: "pgx5://" + rest,
		}, nil
	case strings.Contains(url, "://") && !strings.HasPrefix(url, "sqlite://"):
		return Dialect{}, fmt.Errorf("unsupported database url scheme: %s", url)
	}

	path := strings.TrimPrefix(url, "sqlite://")
	if path == "" {
		return Dialect{}, fmt.Errorf("sqlite database path is empty")
	}
	return Dialect{
		Name:       "sqlite",
		Driver:     "sqlite",
		Flavor:     sqlbuilder.SQLite,
		DSN:        fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path),
		MigrateURL: "sqlite://" + path,
	}, nil
}

// Open connects to the database and waits for it to answer a ping. The ping
// is retried with exponential backoff until connectTimeout elapses.
func Open(ctx context.Context, url string, connectTimeout time.Duration) (*DB, error) {
	dialect, err := ParseDatabaseURL(url)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(dialect.Driver, dialect.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect.Name == "sqlite" {
		// SQLite only supports one writer at a time
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(3)
	}
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(time.Hour)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 200 * time.Millisecond
	retry.MaxInterval = 5 * time.Second
	retry.Multiplier = 1.5
	retry.MaxElapsedTime = connectTimeout

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := conn.PingContext(pingCtx); err != nil {
			log.WithFields(log.Fields{
				"driver":  dialect.Driver,
				"attempt": attempt,
				"error":   err,
			}).Warn("Database not reachable yet")
			return err
		}
		return nil
	}, backoff.WithContext(retry, ctx))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	log.WithFields(log.Fields{
		"driver":   dialect.Driver,
		"attempts": attempt,
	}).Info("Connection to database succeeded")

	return &DB{db: conn, flavor: dialect.Flavor}, nil
}
