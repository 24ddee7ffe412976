// Command kiln is the batch front end for the kiln query engine:
// project-wide diagnostics and symbol search without an editor.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "kiln",
		Usage: "Analyze kiln source trees",
		Commands: []*cli.Command{
			checkCommand(),
			symbolsCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
