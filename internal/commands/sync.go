package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/wordwrap"
	"github.com/urfave/cli/v2"

	"github.com/synaxhq/synax/internal/app"
	synctui "github.com/synaxhq/synax/internal/commands/sync"
	"github.com/synaxhq/synax/internal/store"
	synxsync "github.com/synaxhq/synax/internal/sync"
	"github.com/synaxhq/synax/internal/utils"
)

// SyncCommand returns the CLI command that drains the outbox once
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Replay queued changes to the Synax API",
		Description: "Probes the API once and, if it is reachable, runs a single drain cycle.\n" +
			"Failed records below the retry limit are replayed too.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Print progress lines instead of the interactive view",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Start the cycle without waiting for Enter",
			},
		},
		Action: syncAction,
	}
}

func syncAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	online := probe(c.Context, application)
	application.State.SetOnline(online)

	if c.Bool("plain") {
		return plainSync(c.Context, application)
	}

	view := synctui.NewModel(application.Engine, application.State, c.Bool("yes")).
		WithRequeue(func(ctx context.Context) (int, error) { return requeueFailed(ctx, application) })
	model, err := tea.NewProgram(view).Run()
	if err != nil {
		return fmt.Errorf("running sync view: %w", err)
	}
	if m, ok := model.(synctui.Model); ok && m.Err() != "" {
		return fmt.Errorf("sync aborted: %s", m.Err())
	}
	return nil
}

// probe pings the health endpoint once
func probe(ctx context.Context, application *app.App) bool {
	ctx, cancel := context.WithTimeout(ctx, application.Config.Network.ProbeTimeout)
	defer cancel()

	if err := application.Client.Ping(ctx); err != nil {
		application.Logger.Debug("Health probe failed", "error", err)
		return false
	}
	return true
}

func plainSync(ctx context.Context, application *app.App) error {
	snap := application.State.Snapshot()
	utils.PrintKeyValue("Network", utils.ConnectivityBadge(snap.IsOnline))
	utils.PrintKeyValue("Queued", fmt.Sprintf("%d mutations, %d photos", snap.PendingMutations, snap.PendingImages))

	updates, cancel := application.State.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		last := -1
		for s := range updates {
			pct := int(s.SyncProgress)
			if s.IsSyncing && pct != last {
				last = pct
				utils.PrintInfo(fmt.Sprintf("Progress %3d%%", pct))
			}
		}
	}()

	res, err := application.Engine.SyncNow(ctx)
	cancel()
	<-done

	if err != nil {
		utils.PrintError(fmt.Sprintf("Sync aborted: %s", err))
		return err
	}
	printResult(res)
	return nil
}

func printResult(res *synxsync.SyncResult) {
	if res.Skipped {
		utils.PrintWarning(fmt.Sprintf("Sync skipped: %s", res.SkipReason))
		return
	}
	if res.TotalItems == 0 {
		utils.PrintSuccess("Nothing to sync")
		return
	}

	utils.PrintSuccess(fmt.Sprintf("Synced %d mutation(s) and %d photo(s) in %s",
		res.MutationsSynced, res.ImagesSynced, res.Duration.Round(time.Millisecond)))
	if res.FailedItems == 0 {
		return
	}

	utils.PrintWarning(fmt.Sprintf("%d record(s) failed", res.FailedItems))
	for _, f := range res.Failures {
		line := fmt.Sprintf("%s #%d %s/%s [%s] %s", f.Kind, f.RecordID, f.EntityType, f.EntityID, f.ErrorType, f.Message)
		fmt.Fprintln(utils.Output, indent(wordwrap.String(line, 76), "    "))
	}
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}

// requeueFailed moves failed mutations and images back to pending
func requeueFailed(ctx context.Context, application *app.App) (int, error) {
	var total int64
	for _, kind := range []store.Kind{store.KindMutation, store.KindImage} {
		n, err := application.Store.ResetFailed(ctx, kind)
		if err != nil {
			return int(total), err
		}
		total += n
	}
	if err := application.Engine.RefreshCounts(ctx); err != nil {
		return int(total), err
	}
	return int(total), nil
}
