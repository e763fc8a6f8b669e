package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/synaxhq/synax/internal/config"
	"github.com/synaxhq/synax/internal/database"
	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/utils"
)

// InitCommand returns the CLI command for initializing Synax
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the Synax environment",
		Description: "Creates the configuration directory with a commented .env template and " +
			"prepares the local database. Run it once per device, or after upgrading.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "reset-config",
				Usage: "Replace an existing .env with the template, keeping a dated backup",
			},
		},
		Action: func(c *cli.Context) error {
			utils.PrintHeading("Initializing Synax")

			configDir := c.String(ConfigDirFlag)
			if configDir == "" {
				dir, err := config.DefaultConfigDir()
				if err != nil {
					utils.PrintError(err.Error())
					return err
				}
				configDir = dir
			}
			utils.PrintInfo("Configuration directory: " + color.YellowString("%s", configDir))

			envFile, err := config.SetupConfigDirectory(configDir, c.Bool("reset-config"))
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to set up configuration files: %s", err))
				return fmt.Errorf("failed to set up configuration files: %w", err)
			}

			cfg, db, err := openDatabase(c)
			if err != nil {
				utils.PrintError(err.Error())
				return err
			}
			defer db.Close()

			utils.PrintInfo("Applying database migrations...")
			if err := database.RunMigrations(db, loggy.NewNoopLogger()); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
				return err
			}

			utils.PrintSuccess("Synax initialized successfully!")
			utils.PrintInfo("Configuration file: " + color.YellowString("%s", envFile))
			utils.PrintInfo("Database location: " + color.YellowString("%s", cfg.Database.Path))
			utils.PrintInfo("Log file location: " + color.YellowString("%s", cfg.Logging.Output))
			fmt.Fprintln(utils.Output)
			utils.PrintInfo("Next, store your API token with " + color.CyanString("synax auth login --token <token>"))
			return nil
		},
	}
}
