package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"homedash/db"

	"github.com/cqroot/prompt"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "homedash",
		Usage: "A self-hosted home dashboard for devices, feeds and notes",
		Description: `A small home dashboard that keeps track of the devices on the
		local network, aggregates RSS and Atom feeds and stores short notes.

		The liveness monitor pings every registered device on a fixed interval
		and records when it comes online or goes offline. The feed refresher
		downloads every subscribed channel on its own interval and keeps the
		result in memory. Both are served over an HTTP API.

		Flags can generally be set via environment variables, e.g.:

		--database => DATABASE_URL=sqlite://homedash.db
		--port => HOMEDASH_PORT=8080
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (trace, debug, info, warn, error)",
				EnvVars: []string{"HOMEDASH_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "Log format (text or json)",
				EnvVars: []string{"HOMEDASH_LOG_FORMAT"},
			},
		},
		Before: func(ctx *cli.Context) error {
			return setupLogging(ctx.String("log-level"), ctx.String("log-format"))
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			devicesCmd(),
			channelsCmd(),
			importCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogging(level, format string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(parsed)

	switch strings.ToLower(format) {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	return nil
}

func databaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "database",
		Aliases:  []string{"d"},
		Usage:    "Database URL, postgres://... or sqlite://path (a bare path is SQLite)",
		EnvVars:  []string{"DATABASE_URL"},
		Required: true,
	}
}

func connectTimeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:    "db-connect-timeout",
		Value:   db.DefaultConnectTimeout,
		Usage:   "How long to keep retrying the initial database connection",
		EnvVars: []string{"HOMEDASH_DB_CONNECT_TIMEOUT"},
	}
}

// redact hides the password of a database URL before it is logged
func redact(database string) string {
	u, err := url.Parse(database)
	if err != nil || u.User == nil {
		return database
	}
	return u.Redacted()
}

// openStore connects to the database named by the command flags and
// applies pending migrations
func openStore(ctx *cli.Context) (*db.DB, error) {
	database := ctx.String("database")
	store, err := db.Open(ctx.Context, database, ctx.Duration("db-connect-timeout"))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// ask returns value when set, otherwise it prompts for one
func ask(value, question string) (string, error) {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}
	answer, err := prompt.New().Ask(question).Input("")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}
