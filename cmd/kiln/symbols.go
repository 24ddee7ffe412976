package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/engine"
	"github.com/kilnlsp/kiln/index"
)

func symbolsCommand() *cli.Command {
	return &cli.Command{
		Name:      "symbols",
		Usage:     "Search workspace symbols",
		ArgsUsage: "<query> [directories...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output entries as JSON",
			},
		},
		Action: runSymbols,
	}
}

func runSymbols(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()

	var query string
	if len(args) > 0 {
		query = args[0]
		args = args[1:]
	}
	if len(args) == 0 {
		args = []string{"."}
	}

	eng, err := engine.New(&kiln.Config{}, zap.NewNop())
	if err != nil {
		return err
	}
	defer eng.Close()

	ix := index.New(eng, zap.NewNop())
	if err := ix.Run(ctx, args); err != nil {
		return err
	}

	entries := ix.Search(query)

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(entries)
	}

	for _, e := range entries {
		name := e.Name
		if e.Container != "" {
			name = e.Container + "." + name
		}
		fmt.Printf("%s\t%s\t%s:%d\n", name, e.Kind, e.Location.URI, e.Location.Span.Start.Line+1)
	}

	return nil
}
