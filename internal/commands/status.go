package commands

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/synaxhq/synax/internal/app"
	"github.com/synaxhq/synax/internal/store"
	synxsync "github.com/synaxhq/synax/internal/sync"
	"github.com/synaxhq/synax/internal/utils"
)

// StatusCommand returns the CLI command that summarizes local sync state
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show connectivity, queue depth and recent sync failures",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "history",
				Usage: "Number of recent failures to show (overrides SYNAX_SYNC_LOG_HISTORY)",
			},
		},
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	application.State.SetOnline(probe(c.Context, application))
	if counts, err := application.Cache.CountEntities(c.Context); err == nil {
		application.State.SetCachedEntities(counts)
	}
	snap := application.State.Snapshot()

	utils.PrintHeading("Synax Sync Status")
	utils.PrintKeyValue("Network", utils.ConnectivityBadge(snap.IsOnline))
	utils.PrintKeyValue("API", application.Config.APIBaseURL())
	if user, err := application.Settings.User(c.Context); err == nil && user != "" {
		utils.PrintKeyValue("Signed in as", user)
	}
	fmt.Fprintln(utils.Output)

	utils.PrintTable("Outbox", []string{"Queue", "Pending", "Failed"}, [][]string{
		{"Mutations", strconv.Itoa(snap.PendingMutations), strconv.Itoa(snap.FailedMutations)},
		{"Photos", strconv.Itoa(snap.PendingImages), strconv.Itoa(snap.FailedImages)},
	})

	if len(snap.CachedEntities) > 0 {
		types := make([]string, 0, len(snap.CachedEntities))
		for t := range snap.CachedEntities {
			types = append(types, string(t))
		}
		sort.Strings(types)
		rows := make([][]string, 0, len(types))
		for _, t := range types {
			rows = append(rows, []string{t, strconv.Itoa(snap.CachedEntities[store.EntityType(t)])})
		}
		utils.PrintTable("Entity Cache", []string{"Entity", "Cached"}, rows)
	}

	history := application.Config.Sync.LogHistory
	if c.IsSet("history") {
		history = c.Int("history")
	}
	if history <= 0 {
		return nil
	}

	logs, err := application.SyncLogs.ListSyncLogs(c.Context, synxsync.LogFilter{FailedOnly: true, Limit: history})
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		utils.PrintSuccess("No recent sync failures")
		return nil
	}

	now := time.Now()
	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, []string{
			utils.HumanizeAge(l.StartedAt, now),
			string(l.Kind),
			string(l.EntityType),
			utils.Truncate(l.EntityID, 24),
			string(l.ErrorType),
			utils.Truncate(l.ErrorMessage, 56),
		})
	}
	utils.PrintTable("Recent Failures", []string{"When", "Queue", "Entity", "Entity ID", "Type", "Error"}, rows)
	return nil
}
