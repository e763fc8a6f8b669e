package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/synaxhq/synax/internal/app"
	"github.com/synaxhq/synax/internal/utils"
)

// AgentCommand returns the CLI command that runs the background sync agent
func AgentCommand() *cli.Command {
	return &cli.Command{
		Name:  "agent",
		Usage: "Run the sync agent and the local API",
		Description: "Watches connectivity, drains the outbox whenever the device comes back online\n" +
			"and serves sync state, outbox writes and the entity cache to the UI shell.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address for the local API (overrides SYNAX_AGENT_ADDR)",
			},
		},
		Action: agentAction,
	}
}

func agentAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		application.Config.Agent.Addr = c.String("addr")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := application.StatusAPI()
	serveErr, err := server.ListenAndServe()
	if err != nil {
		return fmt.Errorf("starting local API: %w", err)
	}

	if err := application.Monitor.Start(ctx); err != nil {
		shutdownServer(application, server.Shutdown)
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Synax agent listening on %s", application.Config.Agent.Addr))
	utils.PrintKeyValue("Network source", application.Config.Network.Source)
	application.Logger.Info("Agent started", "addr", application.Config.Agent.Addr)

	select {
	case <-ctx.Done():
		utils.PrintInfo("Shutting down...")
	case err = <-serveErr:
		application.Logger.Error("Local API stopped", "error", err)
	}

	application.Monitor.Stop()
	shutdownServer(application, server.Shutdown)
	return err
}

func shutdownServer(application *app.App, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), application.Config.Agent.ShutdownTimeout)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		application.Logger.Error("Local API shutdown failed", "error", err)
	}
}
