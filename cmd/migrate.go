package cmd

import (
	"homedash/db"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Runs database migrations on the configured database. SQLite database files are created if they do not exist.`,
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			log.WithFields(log.Fields{
				"database": redact(ctx.String("database")),
			}).Info("Database configured")
			return db.Migrate(ctx.String("database"))
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Rollback database migration",
		Description: `Rolls back the last database migration`,
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			log.WithFields(log.Fields{
				"database": redact(ctx.String("database")),
			}).Info("Database configured")
			return db.Rollback(ctx.String("database"))
		},
	}
}
