package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/synaxhq/synax/internal/app"
	"github.com/synaxhq/synax/internal/commands"
)

// Version information - populated at build time
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    commands.ConfigDirFlag,
		Usage:   "Directory holding .env, the database and logs (default: ~/.synax)",
		EnvVars: []string{"SYNAX_CONFIG_DIR"},
	},
}

// needsApp reports whether the invoked command runs against the full application
func needsApp(c *cli.Context) bool {
	name := c.Args().First()
	switch {
	case name == "", name == "help", name == "h":
		return false
	case commands.Standalone[name]:
		return false
	}
	return true
}

func main() {
	app.Version = Version

	cliApp := &cli.App{
		Name:  "synax",
		Usage: "Offline sync agent for Synax field inspections",
		Description: "Synax queues inspection changes and photos while the device is offline\n" +
			"and replays them to the Synax API once connectivity returns.",
		Version: fmt.Sprintf("%s (%s)", Version, CommitHash),
		Compiled: func() time.Time {
			t, err := time.Parse(time.RFC3339, BuildTime)
			if err != nil {
				return time.Now()
			}
			return t
		}(),
		Flags: globalFlags,
		Before: func(c *cli.Context) error {
			if !needsApp(c) {
				return nil
			}

			application, err := app.New(c.String(commands.ConfigDirFlag))
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			// Store the app instance in the context for later use
			c.App.Metadata = map[string]interface{}{
				"app": application,
			}
			return nil
		},
		After: func(c *cli.Context) error {
			// Gracefully shutdown the application
			if application, ok := c.App.Metadata["app"].(*app.App); ok {
				return application.Shutdown()
			}
			return nil
		},
		Commands: []*cli.Command{
			commands.InitCommand(),
			commands.AgentCommand(),
			commands.SyncCommand(),
			commands.QueueCommand(),
			commands.StatusCommand(),
			commands.AuthCommand(),
			commands.MigrateCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
