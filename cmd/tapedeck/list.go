package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/ios-tooling/tapedeck/internal/catalog"
)

func listFlags() *cli.Command {
	return &cli.Command{
		Name:   "list",
		Usage:  "list recordings from the catalog, newest first",
		Action: list,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "maximum number of entries (0 lists all)",
			},
			&cli.StringFlag{
				Name:  "delete",
				Usage: "remove the catalog entry with this ID (files stay on disk)",
			},
		},
	}
}

func list(c *cli.Context) error {
	if !cfg.Catalog.Enabled {
		return cli.Exit("the catalog is disabled (catalog.enabled)", 2)
	}
	store, err := catalog.Open(cfg.Catalog.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer store.Close()

	if id := c.String("delete"); id != "" {
		return store.Delete(c.Context, id)
	}

	recordings, err := store.List(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tNAME\tSTARTED\tDURATION\tFORMAT\tLOCATION")
	for _, r := range recordings {
		state := fmt.Sprintf("%.1fs", r.DurationSeconds)
		if r.EndedAt == nil {
			state += " (recording)"
		}
		if r.Error != "" {
			state += " (error)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Name, r.StartedAt.Format("2006-01-02 15:04:05"), state, r.TargetType, r.Location)
	}
	return nil
}
