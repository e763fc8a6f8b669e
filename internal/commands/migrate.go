package commands

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/synaxhq/synax/internal/database"
	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/utils"
)

// MigrateCommand returns the CLI command for database migrations
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Manage database migrations",
		Hidden: true,
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(c *cli.Context) error {
					_, db, err := openDatabase(c)
					if err != nil {
						return err
					}
					defer db.Close()

					before, _, err := database.Version(db)
					if err != nil {
						return err
					}

					utils.PrintInfo("Applying embedded migrations")
					if err := database.RunMigrations(db, loggy.NewNoopLogger()); err != nil {
						utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
						return err
					}

					after, _, err := database.Version(db)
					if err != nil {
						return err
					}
					if after > before {
						utils.PrintSuccess(fmt.Sprintf("Schema migrated from version %d to %d", before, after))
					} else {
						utils.PrintSuccess("Database schema is already up-to-date")
					}
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "Revert the last migration",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Usage: "Number of migrations to revert",
						Value: 1,
					},
				},
				Action: func(c *cli.Context) error {
					_, db, err := openDatabase(c)
					if err != nil {
						return err
					}
					defer db.Close()

					steps := c.Int("steps")
					utils.PrintWarning(fmt.Sprintf("Reverting %d embedded migration(s)", steps))

					if err := database.RevertMigrations(db, steps, loggy.NewNoopLogger()); err != nil {
						utils.PrintError(fmt.Sprintf("Failed to revert migrations: %s", err))
						return err
					}

					version, _, err := database.Version(db)
					if err != nil {
						return err
					}
					utils.PrintSuccess(fmt.Sprintf("Migration(s) reverted, schema is at version %d", version))
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "Show the current schema version",
				Action: func(c *cli.Context) error {
					_, db, err := openDatabase(c)
					if err != nil {
						return err
					}
					defer db.Close()

					version, dirty, err := database.Version(db)
					if err != nil {
						return err
					}
					utils.PrintKeyValue("Schema version", fmt.Sprintf("%d", version))
					if dirty {
						utils.PrintWarning("The last migration did not finish cleanly")
					}
					return nil
				},
			},
		},
	}
}
