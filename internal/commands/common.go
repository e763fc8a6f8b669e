package commands

import (
	"database/sql"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/synaxhq/synax/internal/config"
	"github.com/synaxhq/synax/internal/database"
	"github.com/synaxhq/synax/internal/loggy"
)

// ConfigDirFlag is the global flag selecting the config directory
const ConfigDirFlag = "config-dir"

// Standalone lists the commands that run without the full application,
// because they manage the config directory or the schema themselves
var Standalone = map[string]bool{
	"init":    true,
	"migrate": true,
}

// openDatabase loads the configuration and opens the database without
// applying migrations
func openDatabase(c *cli.Context) (*config.Config, *sql.DB, error) {
	cfg, err := config.LoadFromEnv(c.String(ConfigDirFlag), "")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.Open(cfg.Database, loggy.NewNoopLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return cfg, db, nil
}
