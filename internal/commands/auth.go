package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/synaxhq/synax/internal/app"
	"github.com/synaxhq/synax/internal/utils"
)

// AuthCommand returns the CLI command for the stored API credential
func AuthCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the Synax API token",
		Subcommands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Store an API token",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "token",
						Aliases:  []string{"t"},
						Usage:    "API token issued by the Synax web app",
						EnvVars:  []string{"SYNAX_TOKEN"},
						Required: true,
					},
					&cli.StringFlag{
						Name:  "user",
						Usage: "Login name shown by `synax status`",
					},
					&cli.StringFlag{
						Name:  "device-name",
						Usage: "Name sent as X-Device-Name (a random one is generated on first use)",
					},
					&cli.BoolFlag{
						Name:  "skip-verify",
						Usage: "Store the token without checking it against the API",
					},
				},
				Action: loginAction,
			},
			{
				Name:   "logout",
				Usage:  "Drop the token and wipe all local data",
				Action: logoutAction,
			},
			{
				Name:   "status",
				Usage:  "Check the stored token against the API",
				Action: authStatusAction,
			},
		},
	}
}

func loginAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	token := strings.TrimSpace(c.String("token"))
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	previous, err := application.Settings.Token(c.Context)
	if err != nil {
		return err
	}
	if err := application.Settings.SetToken(c.Context, token, c.String("user")); err != nil {
		return err
	}

	if name := strings.TrimSpace(c.String("device-name")); name != "" {
		if err := application.Settings.SetDeviceName(c.Context, name); err != nil {
			return err
		}
		utils.PrintInfo(fmt.Sprintf("Device name set to %s; it applies from the next command", name))
	}

	if c.Bool("skip-verify") {
		utils.PrintSuccess("Token stored")
		return nil
	}

	ok, err := application.Client.VerifyToken(c.Context)
	if err != nil {
		utils.PrintWarning(fmt.Sprintf("Token stored but could not be verified: %s", err))
		return nil
	}
	if !ok {
		utils.PrintError("The API rejected this token")
		if err := restoreToken(c.Context, application.Settings, previous); err != nil {
			application.Logger.WithError(err).Error("Failed to restore previous token")
			return fmt.Errorf("token rejected and previous token not restored: %w", err)
		}
		return fmt.Errorf("token rejected")
	}

	utils.PrintSuccess("Logged in")
	return nil
}

// tokenStore is the credential slot as login sees it
type tokenStore interface {
	SetToken(ctx context.Context, token, user string) error
	ClearToken(ctx context.Context) error
}

// restoreToken puts back the token that was stored before a rejected login
func restoreToken(ctx context.Context, tokens tokenStore, previous string) error {
	if previous == "" {
		return tokens.ClearToken(ctx)
	}
	return tokens.SetToken(ctx, previous, "")
}

func logoutAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	counts := application.State.Snapshot()
	if pending := counts.PendingMutations + counts.PendingImages; pending > 0 {
		utils.PrintWarning(fmt.Sprintf("Discarding %d change(s) that were never synced", pending))
	}

	if err := application.Logout(c.Context); err != nil {
		utils.PrintError(err.Error())
		return err
	}
	utils.PrintSuccess("Logged out and local data cleared")
	return nil
}

func authStatusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	token, err := application.Settings.Token(c.Context)
	if err != nil {
		return err
	}
	if token == "" {
		utils.PrintWarning("Not logged in")
		return nil
	}

	if user, err := application.Settings.User(c.Context); err == nil && user != "" {
		utils.PrintKeyValue("User", user)
	}

	ok, err := application.Client.VerifyToken(c.Context)
	switch {
	case err != nil:
		utils.PrintWarning(fmt.Sprintf("Could not reach the API: %s", err))
	case ok:
		utils.PrintSuccess("Token is valid")
	default:
		utils.PrintError("Token was rejected; run `synax auth login` again")
	}
	return nil
}
