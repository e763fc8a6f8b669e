package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/synaxhq/synax/internal/app"
	"github.com/synaxhq/synax/internal/outbox"
	"github.com/synaxhq/synax/internal/store"
	"github.com/synaxhq/synax/internal/utils"
)

// QueueCommand returns the CLI command for inspecting and editing the outbox
func QueueCommand() *cli.Command {
	kindFlag := &cli.StringFlag{
		Name:    "kind",
		Aliases: []string{"k"},
		Usage:   "Queue to act on: mutations or images (default: both)",
	}

	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect and manage queued offline changes",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List queued records",
				Flags: []cli.Flag{
					kindFlag,
					&cli.StringFlag{
						Name:    "status",
						Aliases: []string{"s"},
						Usage:   "Only show records in this status (pending, syncing, failed)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum records per queue",
						Value: 50,
					},
				},
				Action: queueListAction,
			},
			{
				Name:      "add",
				Usage:     "Queue a mutation",
				ArgsUsage: "<entity-type> <entity-id> <create|update|delete> [json-data]",
				Action:    queueAddAction,
			},
			{
				Name:      "add-image",
				Usage:     "Queue a photo upload",
				ArgsUsage: "<entity-type> <entity-id> <file>",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "mutation-id",
						Usage: "Mutation the photo belongs to",
					},
				},
				Action: queueAddImageAction,
			},
			{
				Name:   "retry",
				Usage:  "Move failed records back to pending",
				Flags:  []cli.Flag{kindFlag},
				Action: queueRetryAction,
			},
			{
				Name:   "purge",
				Usage:  "Delete failed records",
				Flags:  []cli.Flag{kindFlag},
				Action: queuePurgeAction,
			},
		},
	}
}

// kinds resolves --kind, defaulting to both queues
func kinds(c *cli.Context) ([]store.Kind, error) {
	if !c.IsSet("kind") {
		return []store.Kind{store.KindMutation, store.KindImage}, nil
	}
	kind, err := store.ParseKind(c.String("kind"))
	if err != nil {
		return nil, err
	}
	return []store.Kind{kind}, nil
}

func queueListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	selected, err := kinds(c)
	if err != nil {
		return err
	}

	status := store.Status(c.String("status"))
	if status != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	limit := c.Int("limit")
	now := time.Now()

	for _, kind := range selected {
		switch kind {
		case store.KindMutation:
			mutations, err := application.Store.ListMutations(c.Context, status, limit)
			if err != nil {
				return err
			}
			if len(mutations) == 0 {
				utils.PrintInfo("No queued mutations")
				continue
			}
			rows := make([][]string, 0, len(mutations))
			for _, m := range mutations {
				rows = append(rows, []string{
					strconv.FormatInt(m.ID, 10),
					string(m.EntityType),
					utils.Truncate(m.EntityID, 24),
					string(m.Action),
					utils.StatusColor(string(m.Status)),
					strconv.Itoa(m.RetryCount),
					utils.HumanizeAge(m.Timestamp, now),
					utils.Truncate(m.Error, 48),
				})
			}
			utils.PrintTable("Mutations", []string{"ID", "Entity", "Entity ID", "Action", "Status", "Retries", "Age", "Error"}, rows)

		case store.KindImage:
			images, err := application.Store.ListImages(c.Context, status, limit)
			if err != nil {
				return err
			}
			if len(images) == 0 {
				utils.PrintInfo("No queued photos")
				continue
			}
			rows := make([][]string, 0, len(images))
			for _, img := range images {
				rows = append(rows, []string{
					strconv.FormatInt(img.ID, 10),
					string(img.EntityType),
					utils.Truncate(img.EntityID, 24),
					utils.Truncate(img.Filename, 24),
					fmt.Sprintf("%d KiB", (img.Size+1023)/1024),
					utils.StatusColor(string(img.Status)),
					strconv.Itoa(img.RetryCount),
					utils.HumanizeAge(img.Timestamp, now),
					utils.Truncate(img.Error, 48),
				})
			}
			utils.PrintTable("Photos", []string{"ID", "Entity", "Entity ID", "File", "Size", "Status", "Retries", "Age", "Error"}, rows)
		}
	}
	return nil
}

func queueAddAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if c.NArg() < 3 {
		return fmt.Errorf("usage: synax queue add %s", c.Command.ArgsUsage)
	}

	var data map[string]any
	if raw := c.Args().Get(3); raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return fmt.Errorf("parsing json data: %w", err)
		}
	}

	id, err := application.Outbox.Enqueue(c.Context,
		store.EntityType(c.Args().Get(0)),
		c.Args().Get(1),
		store.Action(c.Args().Get(2)),
		data)
	if err != nil {
		utils.PrintError(err.Error())
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Queued mutation #%d", id))
	return nil
}

func queueAddImageAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if c.NArg() < 3 {
		return fmt.Errorf("usage: synax queue add-image %s", c.Command.ArgsUsage)
	}

	in := outbox.ImageInput{
		EntityType: store.EntityType(c.Args().Get(0)),
		EntityID:   c.Args().Get(1),
		Path:       c.Args().Get(2),
	}
	if c.IsSet("mutation-id") {
		mid := c.Int64("mutation-id")
		in.MutationID = &mid
	}

	id, err := application.Outbox.EnqueueImage(c.Context, in)
	if err != nil {
		utils.PrintError(err.Error())
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Queued photo #%d", id))
	return nil
}

func queueRetryAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	selected, err := kinds(c)
	if err != nil {
		return err
	}

	for _, kind := range selected {
		n, err := application.Store.ResetFailed(c.Context, kind)
		if err != nil {
			return err
		}
		utils.PrintSuccess(fmt.Sprintf("Reset %d failed %s record(s) to pending", n, kind))
	}
	return application.Engine.RefreshCounts(c.Context)
}

func queuePurgeAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	selected, err := kinds(c)
	if err != nil {
		return err
	}

	for _, kind := range selected {
		n, err := application.Store.PurgeFailed(c.Context, kind)
		if err != nil {
			return err
		}
		utils.PrintWarning(fmt.Sprintf("Deleted %d failed %s record(s)", n, kind))
	}
	return application.Engine.RefreshCounts(c.Context)
}
