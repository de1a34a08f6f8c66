package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ios-tooling/tapedeck/internal/levels"
)

func levelsFlags() *cli.Command {
	return &cli.Command{
		Name:      "levels",
		Usage:     "print decimated level values of a PCM-16 file",
		ArgsUsage: "FILE",
		Action:    printLevels,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "number of values (default: levels.target_samples)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print volumes as JSON",
			},
		},
	}
}

func printLevels(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("exactly one FILE is needed", 2)
	}
	count := c.Int("count")
	if count <= 0 {
		count = cfg.Levels.TargetSamples
	}

	values, err := levels.ExtractFile(c.Args().First(), count, logger)
	if err != nil {
		return err
	}
	volumes := levels.Volumes(values)

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		return enc.Encode(volumes)
	}
	for i, v := range volumes {
		fmt.Fprintf(c.App.Writer, "%4d  %7.2f dB  %.3f\n", i, v.DB(), v.Normalized())
	}
	return nil
}
